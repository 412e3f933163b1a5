package uptime

import (
	"errors"
	"fmt"
	"time"

	_ "time/tzdata"

	"go.uber.org/zap"
)

type Window struct {
	Name   string
	Length time.Duration
}

var (
	LastHour = Window{Name: "last_hour", Length: time.Hour}
	LastDay  = Window{Name: "last_day", Length: 24 * time.Hour}
	LastWeek = Window{Name: "last_week", Length: 7 * 24 * time.Hour}
)

// Bounds is the trailing range [now-Length, now).
func (w Window) Bounds(now time.Time) Interval {
	return Interval{Start: now.Add(-w.Length), End: now}
}

// Horizon is the earliest instant any window can reach back to.
func Horizon(now time.Time) time.Time {
	return now.Add(-LastWeek.Length)
}

// StoreData is everything known about one store.
type StoreData struct {
	StoreID  string
	Polls    []Poll
	Rules    []BusinessHourRule
	Timezone string
}

type StoreUptime struct {
	StoreID  string
	LastHour Coverage
	LastDay  Coverage
	LastWeek Coverage
}

// Row is one line of the report, in output units.
type Row struct {
	StoreID                 string
	UptimeLastHourMinutes   float64
	UptimeLastDayHours      float64
	UptimeLastWeekHours     float64
	DowntimeLastHourMinutes float64
	DowntimeLastDayHours    float64
	DowntimeLastWeekHours   float64
}

func (s StoreUptime) Row(round Rounding) Row {
	if round == nil {
		round = DefaultRounding
	}
	return Row{
		StoreID:                 s.StoreID,
		UptimeLastHourMinutes:   round(s.LastHour.Uptime.Minutes()),
		UptimeLastDayHours:      round(s.LastDay.Uptime.Hours()),
		UptimeLastWeekHours:     round(s.LastWeek.Uptime.Hours()),
		DowntimeLastHourMinutes: round(s.LastHour.Downtime.Minutes()),
		DowntimeLastDayHours:    round(s.LastDay.Downtime.Hours()),
		DowntimeLastWeekHours:   round(s.LastWeek.Downtime.Hours()),
	}
}

type Calculator struct {
	policy     Policy
	defaultLoc *time.Location
	logger     *zap.Logger
}

func NewCalculator(policy Policy, logger *zap.Logger) (*Calculator, error) {
	if policy.DefaultTimezone == "" {
		policy.DefaultTimezone = DefaultTimezone
	}
	if policy.NoData == "" {
		policy.NoData = DefaultNoDataPolicy
	}
	if policy.Round == nil {
		policy.Round = DefaultRounding
	}
	loc, err := LoadLocation(policy.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("default timezone: %w", err)
	}
	return &Calculator{
		policy:     policy,
		defaultLoc: loc,
		logger:     logger,
	}, nil
}

func (c *Calculator) Policy() Policy {
	return c.policy
}

// Location returns the zone for a store, falling back to the default zone
// when the name is missing or cannot be resolved.
func (c *Calculator) Location(storeID, name string) *time.Location {
	if name == "" {
		return c.defaultLoc
	}
	loc, err := LoadLocation(name)
	if err != nil {
		c.logger.Warn("Falling back to default timezone",
			zap.String("store_id", storeID),
			zap.String("timezone", name),
			zap.String("default_timezone", c.policy.DefaultTimezone),
			zap.Error(err),
		)
		return c.defaultLoc
	}
	return loc
}

// Compute evaluates the three windows for one store against the fixed
// analysis clock now.
func (c *Calculator) Compute(data StoreData, now time.Time) StoreUptime {
	polls, discarded := DedupePolls(data.Polls)
	if discarded > 0 {
		c.logger.Debug("Discarded duplicate polls",
			zap.String("store_id", data.StoreID),
			zap.Int("discarded", discarded),
		)
	}
	status := BuildStatusIntervals(polls, Horizon(now), now)

	rules := c.validRules(data.StoreID, data.Rules)
	loc := c.Location(data.StoreID, data.Timezone)

	window := func(w Window) Coverage {
		business := BusinessIntervals(rules, loc, w.Bounds(now))
		return Aggregate(business, status, c.policy.NoData)
	}

	return StoreUptime{
		StoreID:  data.StoreID,
		LastHour: window(LastHour),
		LastDay:  window(LastDay),
		LastWeek: window(LastWeek),
	}
}

func (c *Calculator) validRules(storeID string, rules []BusinessHourRule) []BusinessHourRule {
	valid := make([]BusinessHourRule, 0, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			if errors.Is(err, ErrInvalidScheduleData) {
				c.logger.Warn("Skipping business hour rule",
					zap.String("store_id", storeID),
					zap.Error(err),
				)
			}
			continue
		}
		valid = append(valid, r)
	}
	return valid
}
