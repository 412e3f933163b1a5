package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/leozw/store-monitor/internal/db"
	"github.com/leozw/store-monitor/internal/uptime"
)

type fakeRepo struct {
	mu sync.Mutex

	polls    map[string][]uptime.Poll
	rules    map[string][]uptime.BusinessHourRule
	zones    map[string]string
	extraIDs []string

	// transient[op] failures are returned before op succeeds.
	transient map[string]int
	// broken stores fail GetPolls with a non-retryable error.
	broken map[string]error
	// gate blocks MaxPollTimestamp until closed.
	gate chan struct{}

	calls map[string]int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		polls:     map[string][]uptime.Poll{},
		rules:     map[string][]uptime.BusinessHourRule{},
		zones:     map[string]string{},
		transient: map[string]int{},
		broken:    map[string]error{},
		calls:     map[string]int{},
	}
}

func (r *fakeRepo) enter(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[op]++
	if r.transient[op] > 0 {
		r.transient[op]--
		return fmt.Errorf("%s: %w: connection reset", op, db.ErrRepositoryUnavailable)
	}
	return nil
}

func (r *fakeRepo) callCount(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *fakeRepo) ListStoreIDs(ctx context.Context) ([]string, error) {
	if err := r.enter("list_store_ids"); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for id := range r.polls {
		seen[id] = true
	}
	for id := range r.rules {
		seen[id] = true
	}
	for id := range r.zones {
		seen[id] = true
	}
	for _, id := range r.extraIDs {
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *fakeRepo) GetPolls(ctx context.Context, storeID string) ([]uptime.Poll, error) {
	if err := r.enter("get_polls"); err != nil {
		return nil, err
	}
	if err := r.broken[storeID]; err != nil {
		return nil, err
	}
	return r.polls[storeID], nil
}

func (r *fakeRepo) GetBusinessHours(ctx context.Context, storeID string) ([]uptime.BusinessHourRule, error) {
	if err := r.enter("get_business_hours"); err != nil {
		return nil, err
	}
	return r.rules[storeID], nil
}

func (r *fakeRepo) GetTimezone(ctx context.Context, storeID string) (string, bool, error) {
	if err := r.enter("get_timezone"); err != nil {
		return "", false, err
	}
	tz, ok := r.zones[storeID]
	return tz, ok, nil
}

func (r *fakeRepo) MaxPollTimestamp(ctx context.Context) (time.Time, bool, error) {
	if r.gate != nil {
		<-r.gate
	}
	if err := r.enter("max_poll_timestamp"); err != nil {
		return time.Time{}, false, err
	}
	var latest time.Time
	for _, polls := range r.polls {
		for _, p := range polls {
			if p.Timestamp.After(latest) {
				latest = p.Timestamp
			}
		}
	}
	return latest, !latest.IsZero(), nil
}

type fakeJobs struct {
	mu       sync.Mutex
	jobs     map[string]*db.ReportJob
	progress map[string][]float64
	gets     int

	// lostAcks[op] calls commit and then report a dropped connection.
	lostAcks map[string]int
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		jobs:     map[string]*db.ReportJob{},
		progress: map[string][]float64{},
		lostAcks: map[string]int{},
	}
}

func (f *fakeJobs) ack(op string) error {
	if f.lostAcks[op] > 0 {
		f.lostAcks[op]--
		return fmt.Errorf("%s: %w: connection reset", op, db.ErrRepositoryUnavailable)
	}
	return nil
}

func (f *fakeJobs) CreateJob(ctx context.Context, reportID string) (*db.ReportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[reportID]
	if !ok {
		job = &db.ReportJob{
			ReportID:  reportID,
			Status:    db.JobRunning,
			CreatedAt: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		}
		f.jobs[reportID] = job
	}
	if err := f.ack("create_job"); err != nil {
		return nil, err
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func (f *fakeJobs) running(reportID string) (*db.ReportJob, error) {
	job, ok := f.jobs[reportID]
	if !ok {
		return nil, db.ErrJobNotFound
	}
	if job.Status != db.JobRunning {
		return nil, db.ErrJobFinalized
	}
	return job, nil
}

func (f *fakeJobs) SetProgress(ctx context.Context, reportID string, percent float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, err := f.running(reportID)
	if err != nil {
		return err
	}
	job.PercentComplete = percent
	f.progress[reportID] = append(f.progress[reportID], percent)
	return nil
}

func (f *fakeJobs) SetComplete(ctx context.Context, reportID, location string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, err := f.running(reportID)
	if err != nil {
		return err
	}
	job.Status = db.JobComplete
	job.PercentComplete = 100
	job.OutputLocation = sql.NullString{String: location, Valid: true}
	job.FinishedAt = sql.NullTime{Time: job.CreatedAt.Add(time.Second), Valid: true}
	return f.ack("set_complete")
}

func (f *fakeJobs) SetFailed(ctx context.Context, reportID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, err := f.running(reportID)
	if err != nil {
		return err
	}
	job.Status = db.JobFailed
	job.Error = sql.NullString{String: reason, Valid: true}
	job.OutputLocation = sql.NullString{}
	job.FinishedAt = sql.NullTime{Time: job.CreatedAt.Add(time.Second), Valid: true}
	return nil
}

func (f *fakeJobs) GetJob(ctx context.Context, reportID string) (*db.ReportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	job, ok := f.jobs[reportID]
	if !ok {
		return nil, db.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobs) progressOf(reportID string) []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.progress[reportID]...)
}

func (f *fakeJobs) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

type memorySink struct {
	mu   sync.Mutex
	rows map[string][]uptime.Row
	err  error
}

func newMemorySink() *memorySink {
	return &memorySink{rows: map[string][]uptime.Row{}}
}

func (s *memorySink) Write(ctx context.Context, reportID string, rows []uptime.Row) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[reportID] = rows
	return "mem://" + reportID + ".csv", nil
}

func (s *memorySink) rowsOf(reportID string) []uptime.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[reportID]
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]db.ReportJob
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string]db.ReportJob{}}
}

func (c *mapCache) Put(ctx context.Context, job *db.ReportJob) error {
	if !job.Status.IsTerminal() {
		return errors.New("running jobs must not be cached")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[job.ReportID] = *job
	return nil
}

func (c *mapCache) Get(ctx context.Context, reportID string) (*db.ReportJob, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.entries[reportID]
	if !ok {
		return nil, false, nil
	}
	return &job, true, nil
}

type countingRecorder struct {
	mu          sync.Mutex
	started     int
	finished    map[string]int
	stores      int
	retries     map[string]int
	cacheHits   int
	cacheMisses int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{finished: map[string]int{}, retries: map[string]int{}}
}

func (r *countingRecorder) JobStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *countingRecorder) JobFinished(status string, stores int, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished[status]++
}

func (r *countingRecorder) StoreComputed(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores++
}

func (r *countingRecorder) RepositoryRetry(operation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries[operation]++
}

func (r *countingRecorder) StatusCacheLookup(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.cacheHits++
	} else {
		r.cacheMisses++
	}
}
