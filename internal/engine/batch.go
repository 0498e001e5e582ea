package engine

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"washplan/internal/repo"
)

var batchItems = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "washplan_batch_items_total",
		Help: "Bulk operation items by outcome",
	},
	[]string{"op", "outcome"},
)

const (
	defaultBatchConcurrency = 8
	defaultBatchRetries     = 1
)

type batchItem struct {
	ID  string
	Run func(ctx context.Context) error
}

func (e Engine) batchLimits() (concurrency, retries int) {
	concurrency, retries = defaultBatchConcurrency, defaultBatchRetries
	if e.Config != nil {
		if e.Config.Batch.Concurrency > 0 {
			concurrency = e.Config.Batch.Concurrency
		}
		if e.Config.Batch.Retries >= 0 {
			retries = e.Config.Batch.Retries
		}
	}
	return concurrency, retries
}

// runBatch runs every item concurrently and waits for all of them. Failed
// items are retried, then reported together as a PartialBatchError. Items
// that succeeded stay committed.
func (e Engine) runBatch(ctx context.Context, op string, items []batchItem) error {
	concurrency, retries := e.batchLimits()
	var g errgroup.Group
	g.SetLimit(concurrency)
	errs := make([]error, len(items))
	for i, it := range items {
		g.Go(func() error {
			errs[i] = e.runItem(ctx, op, it, retries)
			return nil
		})
	}
	_ = g.Wait()

	var res PartialBatchError
	res.Op = op
	for i, it := range items {
		if errs[i] != nil {
			res.Failed = append(res.Failed, BatchFailure{ID: it.ID, Error: errs[i].Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, it.ID)
	}
	if len(res.Failed) == 0 {
		return nil
	}
	e.log().WithFields(logrus.Fields{"op": op, "failed": len(res.Failed), "succeeded": len(res.Succeeded)}).Warn("bulk operation partially failed")
	return &res
}

func (e Engine) runItem(ctx context.Context, op string, it batchItem, retries int) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		err = it.Run(ctx)
		if err == nil {
			batchItems.WithLabelValues(op, "ok").Inc()
			return nil
		}
		if !retryable(ctx, err) {
			break
		}
		e.log().WithFields(logrus.Fields{"op": op, "id": it.ID, "attempt": attempt + 1}).WithError(err).Warn("bulk item failed")
	}
	batchItems.WithLabelValues(op, "failed").Inc()
	return err
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var ve ValidationError
	if errors.As(err, &ve) {
		return false
	}
	return !errors.Is(err, repo.ErrNotFound) && !errors.Is(err, repo.ErrConflict)
}
