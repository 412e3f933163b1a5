package db

import (
	"context"
	"fmt"

	"github.com/leozw/store-monitor/internal/uptime"
)

// Loader writes source data in bulk. It is used by the CSV loader only;
// report generation never writes these tables.
type Loader struct {
	repo *Repository
}

func NewLoader(repo *Repository) *Loader {
	return &Loader{repo: repo}
}

type Table string

const (
	TablePolls         Table = "polls"
	TableBusinessHours Table = "business_hours"
	TableTimezones     Table = "store_timezones"
)

func (l *Loader) Truncate(ctx context.Context, table Table) error {
	switch table {
	case TablePolls, TableBusinessHours, TableTimezones:
	default:
		return fmt.Errorf("unknown table %q", table)
	}
	_, err := l.repo.db.ExecContext(ctx, "TRUNCATE TABLE "+string(table))
	return classify("truncate "+string(table), err)
}

func (l *Loader) InsertPolls(ctx context.Context, polls []uptime.Poll) error {
	if len(polls) == 0 {
		return nil
	}
	rows := make([]pollRow, 0, len(polls))
	for _, p := range polls {
		rows = append(rows, pollRow{StoreID: p.StoreID, Timestamp: p.Timestamp.UTC(), Status: string(p.Status)})
	}
	query := `
        INSERT INTO polls (store_id, timestamp_utc, status)
        VALUES (:store_id, :timestamp_utc, :status)`

	_, err := l.repo.db.NamedExecContext(ctx, query, rows)
	return classify("insert polls", err)
}

func (l *Loader) InsertBusinessHours(ctx context.Context, rules []uptime.BusinessHourRule) error {
	if len(rules) == 0 {
		return nil
	}
	rows := make([]businessHourRow, 0, len(rules))
	for _, r := range rules {
		rows = append(rows, businessHourRow{StoreID: r.StoreID, DayOfWeek: r.DayOfWeek, Start: r.Start, End: r.End})
	}
	query := `
        INSERT INTO business_hours (store_id, day_of_week, start_time_local, end_time_local)
        VALUES (:store_id, :day_of_week, :start_time_local, :end_time_local)`

	_, err := l.repo.db.NamedExecContext(ctx, query, rows)
	return classify("insert business hours", err)
}

// UpsertTimezones keeps the last row per store.
func (l *Loader) UpsertTimezones(ctx context.Context, zones map[string]string) error {
	if len(zones) == 0 {
		return nil
	}
	tx, err := l.repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin timezones", err)
	}
	defer tx.Rollback()

	query := `
        INSERT INTO store_timezones (store_id, timezone_str) VALUES ($1, $2)
        ON CONFLICT (store_id) DO UPDATE SET timezone_str = EXCLUDED.timezone_str`

	for storeID, tz := range zones {
		if _, err := tx.ExecContext(ctx, query, storeID, tz); err != nil {
			return classify("upsert timezone", err)
		}
	}
	return classify("commit timezones", tx.Commit())
}
