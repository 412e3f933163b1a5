// Package report runs report jobs: it computes one uptime row per store in
// the background and tracks each job from Running to Complete or Failed.
package report

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/store-monitor/internal/db"
	"github.com/leozw/store-monitor/internal/uptime"
)

var ErrOutputWrite = errors.New("report output write failed")

// Repository is the read side of the source data.
type Repository interface {
	ListStoreIDs(ctx context.Context) ([]string, error)
	GetPolls(ctx context.Context, storeID string) ([]uptime.Poll, error)
	GetBusinessHours(ctx context.Context, storeID string) ([]uptime.BusinessHourRule, error)
	GetTimezone(ctx context.Context, storeID string) (string, bool, error)
	MaxPollTimestamp(ctx context.Context) (time.Time, bool, error)
}

type JobStore interface {
	CreateJob(ctx context.Context, reportID string) (*db.ReportJob, error)
	SetProgress(ctx context.Context, reportID string, percent float64) error
	SetComplete(ctx context.Context, reportID, location string) error
	SetFailed(ctx context.Context, reportID, reason string) error
	GetJob(ctx context.Context, reportID string) (*db.ReportJob, error)
}

// StatusCache holds finished jobs only.
type StatusCache interface {
	Put(ctx context.Context, job *db.ReportJob) error
	Get(ctx context.Context, reportID string) (*db.ReportJob, bool, error)
}

// Sink persists a finished report and returns where it can be found.
type Sink interface {
	Write(ctx context.Context, reportID string, rows []uptime.Row) (string, error)
}

type Recorder interface {
	JobStarted()
	JobFinished(status string, stores int, duration time.Duration)
	StoreComputed(duration time.Duration)
	RepositoryRetry(operation string)
	StatusCacheLookup(hit bool)
}

type Options struct {
	Workers         int
	ProgressEvery   int
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type Engine struct {
	repo     Repository
	jobs     JobStore
	sink     Sink
	calc     *uptime.Calculator
	cache    StatusCache
	recorder Recorder
	logger   *zap.Logger
	opts     Options

	clock func() time.Time
	newID func() string
	wg    sync.WaitGroup
}

type Option func(*Engine)

func WithStatusCache(cache StatusCache) Option {
	return func(e *Engine) { e.cache = cache }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClock sets the wall clock used only when there are no polls at all.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithIDGenerator replaces the uuid report id source.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func NewEngine(repo Repository, jobs JobStore, sink Sink, calc *uptime.Calculator, logger *zap.Logger, opts Options, options ...Option) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ProgressEvery < 1 {
		opts.ProgressEvery = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	e := &Engine{
		repo:     repo,
		jobs:     jobs,
		sink:     sink,
		calc:     calc,
		recorder: nopRecorder{},
		logger:   logger,
		opts:     opts,
		clock:    time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Trigger registers a new Running job and starts generating it in the
// background. It returns as soon as the job is persisted.
func (e *Engine) Trigger(ctx context.Context) (string, error) {
	// Every attempt reuses one id; inserting it twice is a no-op.
	reportID := e.newID()
	var job *db.ReportJob
	err := e.retry(ctx, "create_job", func() error {
		var err error
		job, err = e.jobs.CreateJob(ctx, reportID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to create report: %w", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// The job outlives the request that triggered it.
		e.run(context.WithoutCancel(ctx), job.ReportID)
	}()

	e.logger.Info("Report triggered", zap.String("report_id", job.ReportID))
	return job.ReportID, nil
}

// GetStatus reads the current state of a job. Unknown ids yield
// db.ErrJobNotFound.
func (e *Engine) GetStatus(ctx context.Context, reportID string) (*db.ReportJob, error) {
	if e.cache != nil {
		job, ok, err := e.cache.Get(ctx, reportID)
		if err != nil {
			e.logger.Warn("Status cache read failed", zap.String("report_id", reportID), zap.Error(err))
		}
		e.recorder.StatusCacheLookup(ok)
		if ok {
			return job, nil
		}
	}

	job, err := e.jobs.GetJob(ctx, reportID)
	if err != nil {
		return nil, err
	}

	if e.cache != nil && job.Status.IsTerminal() {
		if err := e.cache.Put(ctx, job); err != nil {
			e.logger.Warn("Status cache write failed", zap.String("report_id", reportID), zap.Error(err))
		}
	}
	return job, nil
}

// Wait blocks until every triggered job has finished or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run owns the job: it is the only writer of the job's state.
func (e *Engine) run(ctx context.Context, reportID string) {
	logger := e.logger.With(zap.String("report_id", reportID))
	start := time.Now()
	e.recorder.JobStarted()
	logger.Info("Report generation started")

	result, err := e.Generate(ctx, reportID)
	if err == nil {
		err = e.markComplete(ctx, reportID, result.Location)
	}

	if err != nil {
		logger.Error("Report generation failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		ferr := e.retry(ctx, "set_failed", func() error {
			return e.jobs.SetFailed(ctx, reportID, err.Error())
		})
		if ferr != nil {
			logger.Error("Failed to mark report failed", zap.Error(ferr))
		}
		e.recorder.JobFinished(string(db.JobFailed), -1, time.Since(start))
		return
	}

	logger.Info("Report generation completed",
		zap.String("output_location", result.Location),
		zap.Int("stores", result.Stores),
		zap.Time("analysis_clock", result.Now),
		zap.Duration("duration", time.Since(start)),
	)
	e.recorder.JobFinished(string(db.JobComplete), result.Stores, time.Since(start))
}

// markComplete records the report location. A retry that finds the job
// already finalized checks whether the earlier attempt committed.
func (e *Engine) markComplete(ctx context.Context, reportID, location string) error {
	attempts := 0
	err := e.retry(ctx, "set_complete", func() error {
		attempts++
		return e.jobs.SetComplete(ctx, reportID, location)
	})
	if err == nil {
		return nil
	}
	if attempts > 1 && errors.Is(err, db.ErrJobFinalized) {
		job, gerr := e.jobs.GetJob(ctx, reportID)
		if gerr == nil && job.Status == db.JobComplete && job.Location() == location {
			return nil
		}
	}
	return fmt.Errorf("failed to mark report complete: %w", err)
}

type nopRecorder struct{}

func (nopRecorder) JobStarted() {}
func (nopRecorder) JobFinished(string, int, time.Duration) {}
func (nopRecorder) StoreComputed(time.Duration) {}
func (nopRecorder) RepositoryRetry(string) {}
func (nopRecorder) StatusCacheLookup(bool) {}
