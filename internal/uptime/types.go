// Package uptime estimates how long a store was up or down during its
// business hours from sparse status polls.
//
// Every function in this package takes the analysis clock ("now") as an
// explicit argument; nothing here reads the wall clock.
package uptime

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidScheduleData = errors.New("invalid schedule data")
	ErrUnknownTimezone     = errors.New("unknown timezone")
	ErrInvalidStatus       = errors.New("invalid poll status")
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive, nil
	case StatusInactive:
		return StatusInactive, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Poll is a single timestamped observation of a store.
type Poll struct {
	StoreID   string
	Timestamp time.Time
	Status    Status
}

// TimeOfDay is a local wall-clock time. 24:00:00 is accepted as an end
// time meaning midnight of the following day.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

const secondsPerDay = 24 * 60 * 60

var timeOfDayLayouts = []string{"15:04:05.999999999", "15:04:05", "15:04", "3:04 PM", "3:04:05 PM"}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	if s == "24:00" || s == "24:00:00" {
		return TimeOfDay{Hour: 24}, nil
	}
	for _, layout := range timeOfDayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("%w: time of day %q", ErrInvalidScheduleData, s)
}

func (t TimeOfDay) Seconds() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

func (t TimeOfDay) valid() bool {
	if t.Hour == 24 {
		return t.Minute == 0 && t.Second == 0
	}
	return t.Hour >= 0 && t.Hour < 24 &&
		t.Minute >= 0 && t.Minute < 60 &&
		t.Second >= 0 && t.Second < 60
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Scan reads a SQL TIME column.
func (t *TimeOfDay) Scan(src interface{}) error {
	var (
		parsed TimeOfDay
		err    error
	)
	switch v := src.(type) {
	case string:
		parsed, err = ParseTimeOfDay(v)
	case []byte:
		parsed, err = ParseTimeOfDay(string(v))
	case time.Time:
		parsed = TimeOfDay{Hour: v.Hour(), Minute: v.Minute(), Second: v.Second()}
	default:
		return fmt.Errorf("cannot scan %T into TimeOfDay", src)
	}
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String(), nil
}

// BusinessHourRule opens a store on DayOfWeek (0 = Monday) between Start
// and End local time. End at or before Start crosses midnight.
type BusinessHourRule struct {
	StoreID   string
	DayOfWeek int
	Start     TimeOfDay
	End       TimeOfDay
}

func (r BusinessHourRule) Validate() error {
	if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
		return fmt.Errorf("%w: day_of_week %d out of range", ErrInvalidScheduleData, r.DayOfWeek)
	}
	if !r.Start.valid() || r.Start.Seconds() >= secondsPerDay {
		return fmt.Errorf("%w: start_time_local %s out of range", ErrInvalidScheduleData, r.Start)
	}
	if !r.End.valid() {
		return fmt.Errorf("%w: end_time_local %s out of range", ErrInvalidScheduleData, r.End)
	}
	return nil
}

func (r BusinessHourRule) crossesMidnight() bool {
	return r.End.Seconds() <= r.Start.Seconds()
}

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Duration() time.Duration {
	if i.Empty() {
		return 0
	}
	return i.End.Sub(i.Start)
}

func (i Interval) Empty() bool {
	return !i.End.After(i.Start)
}

// Clip returns the part of i inside bounds, possibly empty.
func (i Interval) Clip(bounds Interval) Interval {
	return Interval{Start: laterOf(i.Start, bounds.Start), End: earlierOf(i.End, bounds.End)}
}

type StatusInterval struct {
	Interval
	Status Status
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
