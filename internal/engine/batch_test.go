package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"washplan/internal/config"
)

func TestRunBatchRetriesThenReports(t *testing.T) {
	e := Engine{Config: config.Default()}
	var flaky, broken, invalid atomic.Int32
	items := []batchItem{
		{ID: "ok", Run: func(context.Context) error { return nil }},
		{ID: "flaky", Run: func(context.Context) error {
			if flaky.Add(1) == 1 {
				return errors.New("transient")
			}
			return nil
		}},
		{ID: "broken", Run: func(context.Context) error {
			broken.Add(1)
			return errors.New("down")
		}},
		{ID: "invalid", Run: func(context.Context) error {
			invalid.Add(1)
			return ValidationError{Field: "name", Reason: "is required"}
		}},
	}
	err := e.runBatch(context.Background(), "test", items)
	var pe *PartialBatchError
	if !errors.As(err, &pe) {
		t.Fatalf("expected partial batch error, got %v", err)
	}
	if got := pe.FailedIDs(); len(got) != 2 || got[0] != "broken" || got[1] != "invalid" {
		t.Fatalf("unexpected failed ids %v", got)
	}
	if len(pe.Succeeded) != 2 {
		t.Fatalf("expected two successes, got %v", pe.Succeeded)
	}
	if flaky.Load() != 2 {
		t.Fatalf("flaky item should be retried once, ran %d times", flaky.Load())
	}
	if broken.Load() != 2 {
		t.Fatalf("broken item should run twice, ran %d times", broken.Load())
	}
	if invalid.Load() != 1 {
		t.Fatalf("validation failures are not retried, ran %d times", invalid.Load())
	}
}

func TestRunBatchAllSucceed(t *testing.T) {
	e := Engine{}
	var n atomic.Int32
	items := make([]batchItem, 50)
	for i := range items {
		items[i] = batchItem{ID: "x", Run: func(context.Context) error { n.Add(1); return nil }}
	}
	if err := e.runBatch(context.Background(), "test", items); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if n.Load() != 50 {
		t.Fatalf("expected every item to run, got %d", n.Load())
	}
}

func TestStoreErrClassification(t *testing.T) {
	if err := storeErr(ValidationError{Field: "a"}); errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("validation errors must pass through")
	}
	err := storeErr(errors.New("connection refused"))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if errors.Is(storeErr(context.Canceled), ErrStoreUnavailable) {
		t.Fatalf("cancellation is not a store failure")
	}
}
