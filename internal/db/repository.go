package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/leozw/store-monitor/internal/config"
	"github.com/leozw/store-monitor/internal/uptime"
)

// Repository gives read access to polls, business hours and timezones.
type Repository struct {
	db *sqlx.DB
}

func NewConnection(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Ping(ctx context.Context) error {
	return classify("ping", r.db.PingContext(ctx))
}

// ListStoreIDs returns every store known to any of the three source tables.
func (r *Repository) ListStoreIDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	query := `
        SELECT store_id FROM polls
        UNION
        SELECT store_id FROM business_hours
        UNION
        SELECT store_id FROM store_timezones
        ORDER BY store_id`

	err := r.db.SelectContext(ctx, &ids, query)
	return ids, classify("list store ids", err)
}

// GetPolls returns a store's polls ascending by timestamp, ties in
// ingestion order.
func (r *Repository) GetPolls(ctx context.Context, storeID string) ([]uptime.Poll, error) {
	rows := []pollRow{}
	query := `
        SELECT id, store_id, timestamp_utc, status FROM polls
        WHERE store_id = $1
        ORDER BY timestamp_utc ASC, id ASC`

	if err := r.db.SelectContext(ctx, &rows, query, storeID); err != nil {
		return nil, classify("get polls", err)
	}

	polls := make([]uptime.Poll, 0, len(rows))
	for _, row := range rows {
		status, err := uptime.ParseStatus(row.Status)
		if err != nil {
			return nil, fmt.Errorf("poll %d: %w", row.ID, err)
		}
		polls = append(polls, uptime.Poll{
			StoreID:   row.StoreID,
			Timestamp: row.Timestamp.UTC(),
			Status:    status,
		})
	}
	return polls, nil
}

func (r *Repository) GetBusinessHours(ctx context.Context, storeID string) ([]uptime.BusinessHourRule, error) {
	rows := []businessHourRow{}
	query := `
        SELECT id, store_id, day_of_week, start_time_local, end_time_local FROM business_hours
        WHERE store_id = $1
        ORDER BY day_of_week, start_time_local, id`

	if err := r.db.SelectContext(ctx, &rows, query, storeID); err != nil {
		return nil, classify("get business hours", err)
	}

	rules := make([]uptime.BusinessHourRule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, uptime.BusinessHourRule{
			StoreID:   row.StoreID,
			DayOfWeek: row.DayOfWeek,
			Start:     row.Start,
			End:       row.End,
		})
	}
	return rules, nil
}

// GetTimezone returns the store's zone name and whether a row exists.
func (r *Repository) GetTimezone(ctx context.Context, storeID string) (string, bool, error) {
	var row timezoneRow
	query := `SELECT store_id, timezone_str FROM store_timezones WHERE store_id = $1`

	err := r.db.GetContext(ctx, &row, query, storeID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("get timezone", err)
	}
	if !row.Timezone.Valid || row.Timezone.String == "" {
		return "", false, nil
	}
	return row.Timezone.String, true, nil
}

// MaxPollTimestamp is the analysis clock: the latest poll across all stores.
func (r *Repository) MaxPollTimestamp(ctx context.Context) (time.Time, bool, error) {
	var latest sql.NullTime
	query := `SELECT MAX(timestamp_utc) FROM polls`

	if err := r.db.GetContext(ctx, &latest, query); err != nil {
		return time.Time{}, false, classify("max poll timestamp", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time.UTC(), true, nil
}
