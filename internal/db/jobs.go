package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var ErrJobFinalized = errors.New("report already finished")

// JobStore persists report job state. Status transitions are guarded in
// SQL so a job leaves Running at most once.
type JobStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewJobStore(db *sqlx.DB) *JobStore {
	return &JobStore{db: db, now: time.Now}
}

// CreateJob inserts a Running job under reportID. Repeating the call with
// the same id is a no-op, so it can be retried after an ambiguous failure.
func (s *JobStore) CreateJob(ctx context.Context, reportID string) (*ReportJob, error) {
	job := &ReportJob{
		ReportID:  reportID,
		Status:    JobRunning,
		CreatedAt: s.now().UTC(),
	}
	query := `
        INSERT INTO reports (report_id, status, percent_complete, created_at)
        VALUES (:report_id, :status, :percent_complete, :created_at)
        ON CONFLICT (report_id) DO NOTHING`

	if _, err := s.db.NamedExecContext(ctx, query, job); err != nil {
		return nil, classify("create report", err)
	}
	return job, nil
}

func (s *JobStore) SetProgress(ctx context.Context, reportID string, percent float64) error {
	query := `UPDATE reports SET percent_complete = $2 WHERE report_id = $1 AND status = $3`
	_, err := s.db.ExecContext(ctx, query, reportID, percent, JobRunning)
	return classify("set report progress", err)
}

func (s *JobStore) SetComplete(ctx context.Context, reportID, location string) error {
	query := `
        UPDATE reports SET
            status = $2,
            output_location = $3,
            percent_complete = 100,
            finished_at = $4
        WHERE report_id = $1 AND status = $5`

	res, err := s.db.ExecContext(ctx, query, reportID, JobComplete, location, s.now().UTC(), JobRunning)
	if err != nil {
		return classify("complete report", err)
	}
	return s.checkTransition(ctx, reportID, res)
}

func (s *JobStore) SetFailed(ctx context.Context, reportID, reason string) error {
	query := `
        UPDATE reports SET
            status = $2,
            error = $3,
            output_location = NULL,
            finished_at = $4
        WHERE report_id = $1 AND status = $5`

	res, err := s.db.ExecContext(ctx, query, reportID, JobFailed, reason, s.now().UTC(), JobRunning)
	if err != nil {
		return classify("fail report", err)
	}
	return s.checkTransition(ctx, reportID, res)
}

// FailStale fails every job still Running. It is meant for startup, when
// no job of this process can be in flight yet.
func (s *JobStore) FailStale(ctx context.Context, reason string) (int64, error) {
	query := `
        UPDATE reports SET
            status = $1,
            error = $2,
            output_location = NULL,
            finished_at = $3
        WHERE status = $4`

	res, err := s.db.ExecContext(ctx, query, JobFailed, reason, s.now().UTC(), JobRunning)
	if err != nil {
		return 0, classify("fail stale reports", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("stale reports rows affected", err)
	}
	return n, nil
}

func (s *JobStore) GetJob(ctx context.Context, reportID string) (*ReportJob, error) {
	var job ReportJob
	query := `
        SELECT report_id, status, percent_complete, output_location, error, created_at, finished_at
        FROM reports WHERE report_id = $1`

	err := s.db.GetContext(ctx, &job, query, reportID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, classify("get report", err)
	}
	return &job, nil
}

func (s *JobStore) checkTransition(ctx context.Context, reportID string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify("report rows affected", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetJob(ctx, reportID); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrJobFinalized, reportID)
}
