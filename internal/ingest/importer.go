// Package ingest loads the source CSV exports into the database.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/store-monitor/internal/db"
	"github.com/leozw/store-monitor/internal/uptime"
)

const (
	PollsFile         = "store_status.csv"
	BusinessHoursFile = "menu_hours.csv"
	TimezonesFile     = "timezones.csv"

	DefaultBatchSize = 10000
)

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999 MST",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// Store is the write side used by the importer.
type Store interface {
	Truncate(ctx context.Context, table db.Table) error
	InsertPolls(ctx context.Context, polls []uptime.Poll) error
	InsertBusinessHours(ctx context.Context, rules []uptime.BusinessHourRule) error
	UpsertTimezones(ctx context.Context, zones map[string]string) error
}

type Stats struct {
	Loaded  int
	Skipped int
}

type Summary struct {
	Polls         Stats
	BusinessHours Stats
	Timezones     Stats
}

type Importer struct {
	store           Store
	logger          *zap.Logger
	batchSize       int
	defaultTimezone string
}

func NewImporter(store Store, defaultTimezone string, logger *zap.Logger) *Importer {
	if defaultTimezone == "" {
		defaultTimezone = uptime.DefaultTimezone
	}
	return &Importer{
		store:           store,
		logger:          logger,
		batchSize:       DefaultBatchSize,
		defaultTimezone: defaultTimezone,
	}
}

// LoadDir loads every known file present in dir. Missing files are logged
// and skipped. With replace set, each table is truncated before its file is
// loaded.
func (im *Importer) LoadDir(ctx context.Context, dir string, replace bool) (Summary, error) {
	var summary Summary

	steps := []struct {
		file  string
		table db.Table
		load  func(context.Context, io.Reader) (Stats, error)
		stats *Stats
	}{
		{PollsFile, db.TablePolls, im.LoadPolls, &summary.Polls},
		{BusinessHoursFile, db.TableBusinessHours, im.LoadBusinessHours, &summary.BusinessHours},
		{TimezonesFile, db.TableTimezones, im.LoadTimezones, &summary.Timezones},
	}

	for _, step := range steps {
		path := filepath.Join(dir, step.file)
		f, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			im.logger.Warn("Source file not found", zap.String("path", path))
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("failed to open %s: %w", path, err)
		}

		if replace {
			if err := im.store.Truncate(ctx, step.table); err != nil {
				f.Close()
				return summary, err
			}
		}

		stats, err := step.load(ctx, f)
		f.Close()
		*step.stats = stats
		if err != nil {
			return summary, fmt.Errorf("failed to load %s: %w", path, err)
		}

		im.logger.Info("Loaded source file",
			zap.String("path", path),
			zap.Int("loaded", stats.Loaded),
			zap.Int("skipped", stats.Skipped),
		)
	}

	return summary, nil
}

func (im *Importer) LoadPolls(ctx context.Context, r io.Reader) (Stats, error) {
	var (
		stats Stats
		batch = make([]uptime.Poll, 0, im.batchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.store.InsertPolls(ctx, batch); err != nil {
			return err
		}
		stats.Loaded += len(batch)
		batch = batch[:0]
		return nil
	}

	err := eachRecord(r, func(line int, rec record) error {
		storeID, status, ts := rec.get("store_id"), rec.get("status"), rec.get("timestamp_utc")
		if storeID == "" || status == "" || ts == "" {
			stats.Skipped++
			return nil
		}
		poll, err := parsePoll(storeID, status, ts)
		if err != nil {
			im.skip(&stats, PollsFile, line, err)
			return nil
		}
		batch = append(batch, poll)
		if len(batch) >= im.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	return stats, flush()
}

func (im *Importer) LoadBusinessHours(ctx context.Context, r io.Reader) (Stats, error) {
	var (
		stats Stats
		batch = make([]uptime.BusinessHourRule, 0, im.batchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.store.InsertBusinessHours(ctx, batch); err != nil {
			return err
		}
		stats.Loaded += len(batch)
		batch = batch[:0]
		return nil
	}

	err := eachRecord(r, func(line int, rec record) error {
		day := rec.get("dayOfWeek")
		if day == "" {
			day = rec.get("day_of_week")
		}
		storeID, start, end := rec.get("store_id"), rec.get("start_time_local"), rec.get("end_time_local")
		if storeID == "" || day == "" || start == "" || end == "" {
			stats.Skipped++
			return nil
		}
		rule, err := parseRule(storeID, day, start, end)
		if err != nil {
			im.skip(&stats, BusinessHoursFile, line, err)
			return nil
		}
		batch = append(batch, rule)
		if len(batch) >= im.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	return stats, flush()
}

// LoadTimezones keeps the last row per store. An empty zone is stored as
// the default zone.
func (im *Importer) LoadTimezones(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats
	zones := make(map[string]string)

	err := eachRecord(r, func(line int, rec record) error {
		storeID := rec.get("store_id")
		if storeID == "" {
			stats.Skipped++
			return nil
		}
		tz := rec.get("timezone_str")
		if tz == "" {
			tz = im.defaultTimezone
		}
		zones[storeID] = tz
		return nil
	})
	if err != nil {
		return stats, err
	}

	if err := im.store.UpsertTimezones(ctx, zones); err != nil {
		return stats, err
	}
	stats.Loaded = len(zones)
	return stats, nil
}

func (im *Importer) skip(stats *Stats, file string, line int, err error) {
	stats.Skipped++
	im.logger.Warn("Skipping malformed row",
		zap.String("file", file),
		zap.Int("line", line),
		zap.Error(err),
	)
}

func parsePoll(storeID, status, ts string) (uptime.Poll, error) {
	s, err := uptime.ParseStatus(status)
	if err != nil {
		return uptime.Poll{}, err
	}
	at, err := parseTimestamp(ts)
	if err != nil {
		return uptime.Poll{}, err
	}
	return uptime.Poll{StoreID: storeID, Timestamp: at, Status: s}, nil
}

// parseTimestamp reads a UTC timestamp. Values without an offset are taken
// as UTC.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func parseRule(storeID, day, start, end string) (uptime.BusinessHourRule, error) {
	dow, err := strconv.Atoi(day)
	if err != nil {
		return uptime.BusinessHourRule{}, fmt.Errorf("invalid day of week %q", day)
	}
	from, err := uptime.ParseTimeOfDay(start)
	if err != nil {
		return uptime.BusinessHourRule{}, err
	}
	to, err := uptime.ParseTimeOfDay(end)
	if err != nil {
		return uptime.BusinessHourRule{}, err
	}
	rule := uptime.BusinessHourRule{StoreID: storeID, DayOfWeek: dow, Start: from, End: to}
	if err := rule.Validate(); err != nil {
		return uptime.BusinessHourRule{}, err
	}
	return rule, nil
}

type record struct {
	header map[string]int
	fields []string
}

func (r record) get(name string) string {
	i, ok := r.header[name]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

// eachRecord calls fn for every data row with its 1-based line number.
func eachRecord(r io.Reader, fn func(line int, rec record) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	header := make(map[string]int, len(head))
	for i, name := range head {
		header[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}

	line := 1
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return err
		}
		if err := fn(line, record{header: header, fields: fields}); err != nil {
			return err
		}
	}
}
