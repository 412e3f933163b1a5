package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/store-monitor/internal/uptime"
)

func setupMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return sqlx.NewDb(mockDB, "postgres"), mock
}

func TestListStoreIDs_UnionOfSources(t *testing.T) {
	database, mock := setupMockDB(t)
	repo := NewRepository(database)

	mock.ExpectQuery(`SELECT store_id FROM polls\s+UNION`).
		WillReturnRows(sqlmock.NewRows([]string{"store_id"}).AddRow("a").AddRow("b"))

	ids, err := repo.ListStoreIDs(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPolls_ConvertsRows(t *testing.T) {
	database, mock := setupMockDB(t)
	repo := NewRepository(database)
	at := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "store_id", "timestamp_utc", "status"}).
		AddRow(1, "s1", at, "active").
		AddRow(2, "s1", at.Add(time.Hour), "Inactive")
	mock.ExpectQuery(`SELECT id, store_id, timestamp_utc, status FROM polls`).
		WithArgs("s1").
		WillReturnRows(rows)

	polls, err := repo.GetPolls(context.Background(), "s1")

	require.NoError(t, err)
	require.Len(t, polls, 2)
	assert.Equal(t, uptime.StatusActive, polls[0].Status)
	assert.Equal(t, uptime.StatusInactive, polls[1].Status)
	assert.Equal(t, at.Add(time.Hour), polls[1].Timestamp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPolls_ConnectionFailureIsUnavailable(t *testing.T) {
	database, mock := setupMockDB(t)
	repo := NewRepository(database)

	mock.ExpectQuery(`FROM polls`).WithArgs("s1").
		WillReturnError(&net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")})

	_, err := repo.GetPolls(context.Background(), "s1")

	assert.ErrorIs(t, err, ErrRepositoryUnavailable)
}

func TestGetPolls_AdminShutdownIsUnavailable(t *testing.T) {
	database, mock := setupMockDB(t)
	repo := NewRepository(database)

	mock.ExpectQuery(`FROM polls`).WithArgs("s1").WillReturnError(&pq.Error{Code: "57P01"})

	_, err := repo.GetPolls(context.Background(), "s1")

	assert.ErrorIs(t, err, ErrRepositoryUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"bad conn", driver.ErrBadConn, true},
		{"wrapped bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), true},
		{"deadline", context.DeadlineExceeded, true},
		{"net error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"too many connections", &pq.Error{Code: "53300"}, true},
		{"syntax error", &pq.Error{Code: "42601"}, false},
		{"no rows", sql.ErrNoRows, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isTransient(tc.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("op", nil))

	err := classify("get polls", driver.ErrBadConn)
	assert.ErrorIs(t, err, ErrRepositoryUnavailable)
	assert.Contains(t, err.Error(), "get polls")

	err = classify("get polls", &pq.Error{Code: "42601"})
	assert.False(t, errors.Is(err, ErrRepositoryUnavailable))
}

func TestGetPolls_SyntaxErrorIsNotRetryable(t *testing.T) {
	database, mock := setupMockDB(t)
	repo := NewRepository(database)

	mock.ExpectQuery(`FROM polls`).WithArgs("s1").WillReturnError(&pq.Error{Code: "42601"})

	_, err := repo.GetPolls(context.Background(), "s1")

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRepositoryUnavailable))
}

func TestGetBusinessHours_ScansTimeColumns(t *testing.T) {
	database, mock := setupMockDB(t)
	repo := NewRepository(database)

	rows := sqlmock.NewRows([]string{"id", "store_id", "day_of_week", "start_time_local", "end_time_local"}).
		AddRow(1, "s1", 0, "09:00:00", "17:30:00").
		AddRow(2, "s1", 5, []byte("22:00:00"), []byte("02:00:00"))
	mock.ExpectQuery(`FROM business_hours`).WithArgs("s1").WillReturnRows(rows)

	rules, err := repo.GetBusinessHours(context.Background(), "s1")

	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, uptime.TimeOfDay{Hour: 17, Minute: 30}, rules[0].End)
	assert.Equal(t, 5, rules[1].DayOfWeek)
	assert.Equal(t, uptime.TimeOfDay{Hour: 22}, rules[1].Start)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTimezone(t *testing.T) {
	database, mock := setupMockDB(t)
	repo := NewRepository(database)

	mock.ExpectQuery(`FROM store_timezones`).WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"store_id", "timezone_str"}).AddRow("s1", "Asia/Tokyo"))
	mock.ExpectQuery(`FROM store_timezones`).WithArgs("s2").
		WillReturnRows(sqlmock.NewRows([]string{"store_id", "timezone_str"}))
	mock.ExpectQuery(`FROM store_timezones`).WithArgs("s3").
		WillReturnRows(sqlmock.NewRows([]string{"store_id", "timezone_str"}).AddRow("s3", nil))

	tz, ok, err := repo.GetTimezone(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Asia/Tokyo", tz)

	_, ok, err = repo.GetTimezone(context.Background(), "s2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = repo.GetTimezone(context.Background(), "s3")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaxPollTimestamp(t *testing.T) {
	database, mock := setupMockDB(t)
	repo := NewRepository(database)
	at := time.Date(2024, 1, 25, 18, 13, 22, 0, time.UTC)

	mock.ExpectQuery(`SELECT MAX\(timestamp_utc\) FROM polls`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(at))
	mock.ExpectQuery(`SELECT MAX\(timestamp_utc\) FROM polls`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	got, ok, err := repo.MaxPollTimestamp(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, at, got)

	_, ok, err = repo.MaxPollTimestamp(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
