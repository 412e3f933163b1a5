package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 1, 25, 18, 0, 0, 0, time.UTC)

func newTestJobStore(t *testing.T) (*JobStore, sqlmock.Sqlmock) {
	database, mock := setupMockDB(t)
	store := NewJobStore(database)
	store.now = func() time.Time { return fixedNow }
	return store, mock
}

var jobColumns = []string{"report_id", "status", "percent_complete", "output_location", "error", "created_at", "finished_at"}

func TestCreateJob_InsertsRunning(t *testing.T) {
	store, mock := newTestJobStore(t)

	mock.ExpectExec(`INSERT INTO reports .+ ON CONFLICT \(report_id\) DO NOTHING`).
		WithArgs("r1", "Running", 0.0, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job, err := store.CreateJob(context.Background(), "r1")

	require.NoError(t, err)
	assert.Equal(t, "r1", job.ReportID)
	assert.Equal(t, JobRunning, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJob_RepeatedInsertIsNoop(t *testing.T) {
	store, mock := newTestJobStore(t)

	mock.ExpectExec(`INSERT INTO reports`).
		WithArgs("r1", "Running", 0.0, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	job, err := store.CreateJob(context.Background(), "r1")

	require.NoError(t, err)
	assert.Equal(t, "r1", job.ReportID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailStale_FailsRunningJobs(t *testing.T) {
	store, mock := newTestJobStore(t)

	mock.ExpectExec(`UPDATE reports SET .+ WHERE status = \$4`).
		WithArgs("Failed", "interrupted", fixedNow, "Running").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.FailStale(context.Background(), "interrupted")

	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetComplete_OnlyFromRunning(t *testing.T) {
	store, mock := newTestJobStore(t)

	mock.ExpectExec(`UPDATE reports SET`).
		WithArgs("r1", "Complete", "/data/r1.csv", fixedNow, "Running").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SetComplete(context.Background(), "r1", "/data/r1.csv"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetFailed_AfterCompleteIsRejected(t *testing.T) {
	store, mock := newTestJobStore(t)

	mock.ExpectExec(`UPDATE reports SET`).
		WithArgs("r1", "Failed", "boom", fixedNow, "Running").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM reports WHERE report_id = \$1`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow("r1", "Complete", 100.0, "/data/r1.csv", nil, fixedNow, fixedNow))

	err := store.SetFailed(context.Background(), "r1", "boom")

	assert.ErrorIs(t, err, ErrJobFinalized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetComplete_UnknownJob(t *testing.T) {
	store, mock := newTestJobStore(t)

	mock.ExpectExec(`UPDATE reports SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM reports WHERE report_id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(jobColumns))

	err := store.SetComplete(context.Background(), "missing", "x")

	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestGetJob(t *testing.T) {
	store, mock := newTestJobStore(t)

	mock.ExpectQuery(`FROM reports WHERE report_id = \$1`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(jobColumns).
			AddRow("r1", "Running", 40.0, nil, nil, fixedNow, nil))
	mock.ExpectQuery(`FROM reports WHERE report_id = \$1`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(jobColumns))

	job, err := store.GetJob(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, JobRunning, job.Status)
	assert.Equal(t, 40.0, job.PercentComplete)
	assert.Empty(t, job.Location())

	_, err = store.GetJob(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
