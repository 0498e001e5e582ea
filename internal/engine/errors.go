package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"washplan/internal/repo"
)

// ErrStoreUnavailable wraps transport and driver failures.
var ErrStoreUnavailable = errors.New("store unavailable")

// ValidationError rejects input before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// BatchFailure is one item of a bulk operation that did not persist.
type BatchFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// PartialBatchError reports a bulk operation where some items persisted and
// others did not. Nothing is rolled back.
type PartialBatchError struct {
	Op        string
	Succeeded []string
	Failed    []BatchFailure
}

func (e *PartialBatchError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		ids = append(ids, f.ID)
	}
	return fmt.Sprintf("%s: %d of %d items failed (%s)", e.Op, len(e.Failed), len(e.Failed)+len(e.Succeeded), strings.Join(ids, ","))
}

// FailedIDs lists the ids that did not persist.
func (e *PartialBatchError) FailedIDs() []string {
	ids := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		ids = append(ids, f.ID)
	}
	return ids
}

func validationErr(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}

// storeErr passes domain errors through and tags everything else as a store
// failure.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if isDomainErr(err) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func isDomainErr(err error) bool {
	var ve ValidationError
	var pe *PartialBatchError
	return errors.As(err, &ve) || errors.As(err, &pe) ||
		errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrConflict)
}
