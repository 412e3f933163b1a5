package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leozw/store-monitor/internal/db"
	"github.com/leozw/store-monitor/internal/uptime"
)

type Result struct {
	Location string
	Stores   int
	Now      time.Time
	Rows     []uptime.Row
}

// Generate computes the report for reportID and hands it to the sink. A
// store whose reads keep failing aborts the whole report.
func (e *Engine) Generate(ctx context.Context, reportID string) (*Result, error) {
	logger := e.logger.With(zap.String("report_id", reportID))

	now, err := e.analysisClock(ctx)
	if err != nil {
		return nil, err
	}

	var storeIDs []string
	err = e.retry(ctx, "list_store_ids", func() error {
		var err error
		storeIDs, err = e.repo.ListStoreIDs(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}

	logger.Info("Computing store uptime",
		zap.Int("stores", len(storeIDs)),
		zap.Time("analysis_clock", now),
		zap.Int("workers", e.opts.Workers),
	)

	rows, err := e.computeAll(ctx, reportID, storeIDs, now)
	if err != nil {
		return nil, err
	}

	location, err := e.sink.Write(ctx, reportID, rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutputWrite, err)
	}

	return &Result{Location: location, Stores: len(rows), Now: now, Rows: rows}, nil
}

// computeAll fans stores out over a bounded pool. Rows keep the order of
// storeIDs so identical input yields an identical report. Workers only
// signal completion; progress is written from this goroutine alone.
func (e *Engine) computeAll(ctx context.Context, reportID string, storeIDs []string, now time.Time) ([]uptime.Row, error) {
	rows := make([]uptime.Row, len(storeIDs))
	if len(storeIDs) == 0 {
		return rows, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	done := make(chan struct{}, len(storeIDs))
	waitErr := make(chan error, 1)

	go func() {
		for i, storeID := range storeIDs {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				row, err := e.computeStore(gctx, storeID, now)
				if err != nil {
					return fmt.Errorf("store %s: %w", storeID, err)
				}
				rows[i] = row
				done <- struct{}{}
				return nil
			})
		}
		waitErr <- g.Wait()
		close(done)
	}()

	completed := 0
	for range done {
		completed++
		if completed%e.opts.ProgressEvery != 0 && completed != len(storeIDs) {
			continue
		}
		percent := float64(completed) / float64(len(storeIDs)) * 100
		if err := e.jobs.SetProgress(ctx, reportID, percent); err != nil {
			e.logger.Warn("Failed to record progress",
				zap.String("report_id", reportID),
				zap.Float64("percent_complete", percent),
				zap.Error(err),
			)
		}
	}

	if err := <-waitErr; err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *Engine) computeStore(ctx context.Context, storeID string, now time.Time) (uptime.Row, error) {
	start := time.Now()
	data := uptime.StoreData{StoreID: storeID}

	err := e.retry(ctx, "get_polls", func() error {
		var err error
		data.Polls, err = e.repo.GetPolls(ctx, storeID)
		return err
	})
	if err != nil {
		return uptime.Row{}, err
	}

	err = e.retry(ctx, "get_business_hours", func() error {
		var err error
		data.Rules, err = e.repo.GetBusinessHours(ctx, storeID)
		return err
	})
	if err != nil {
		return uptime.Row{}, err
	}

	err = e.retry(ctx, "get_timezone", func() error {
		tz, ok, err := e.repo.GetTimezone(ctx, storeID)
		if ok {
			data.Timezone = tz
		}
		return err
	})
	if err != nil {
		return uptime.Row{}, err
	}

	result := e.calc.Compute(data, now)
	e.recorder.StoreComputed(time.Since(start))
	return result.Row(e.calc.Policy().Round), nil
}

// analysisClock is the newest poll in the data set, falling back to the
// wall clock when there are no polls.
func (e *Engine) analysisClock(ctx context.Context) (time.Time, error) {
	var (
		now time.Time
		ok  bool
	)
	err := e.retry(ctx, "max_poll_timestamp", func() error {
		var err error
		now, ok, err = e.repo.MaxPollTimestamp(ctx)
		return err
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read analysis clock: %w", err)
	}
	if !ok {
		now = e.clock().UTC()
		e.logger.Warn("No polls found, using wall clock", zap.Time("analysis_clock", now))
	}
	return now, nil
}

// retry re-runs op while it fails with db.ErrRepositoryUnavailable, backing
// off exponentially up to MaxAttempts tries.
func (e *Engine) retry(ctx context.Context, operation string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if e.opts.InitialInterval > 0 {
		b.InitialInterval = e.opts.InitialInterval
	}
	if e.opts.MaxInterval > 0 {
		b.MaxInterval = e.opts.MaxInterval
	}
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.opts.MaxAttempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !errors.Is(err, db.ErrRepositoryUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		e.recorder.RepositoryRetry(operation)
		e.logger.Warn("Retrying repository operation",
			zap.String("operation", operation),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	})
}
