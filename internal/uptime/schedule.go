package uptime

import (
	"sort"
	"time"
)

// MondayFirst maps a time.Weekday onto the 0 = Monday numbering used by
// business hour rules.
func MondayFirst(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}

// BusinessIntervals returns the UTC business time of a store inside
// window, merged into sorted non-overlapping intervals. A store without
// rules is open around the clock. Rules must already be validated.
func BusinessIntervals(rules []BusinessHourRule, loc *time.Location, window Interval) []Interval {
	if window.Empty() {
		return nil
	}
	if len(rules) == 0 {
		return []Interval{window}
	}

	byDay := make(map[int][]BusinessHourRule, 7)
	for _, r := range rules {
		byDay[r.DayOfWeek] = append(byDay[r.DayOfWeek], r)
	}

	// The local day before the window is included so that a rule crossing
	// midnight into the window is not lost.
	first := civilDate(window.Start.In(loc)).AddDate(0, 0, -1)
	last := civilDate(window.End.In(loc))

	var out []Interval
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		for _, r := range byDay[MondayFirst(day.Weekday())] {
			endDay := day
			if r.crossesMidnight() {
				endDay = day.AddDate(0, 0, 1)
			}
			iv := Interval{
				Start: localToUTC(day, r.Start, loc),
				End:   localToUTC(endDay, r.End, loc),
			}.Clip(window)
			if !iv.Empty() {
				out = append(out, iv)
			}
		}
	}
	return mergeIntervals(out)
}

// civilDate drops the clock and zone, keeping the calendar date as seen in
// t's location. Date arithmetic on the result is free of DST effects.
func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// localToUTC resolves a local wall clock time on day. A time skipped by a
// forward DST jump is moved forward by the size of the jump, so 02:30 on a
// spring-forward night becomes 03:30 in the new offset.
func localToUTC(day time.Time, tod TimeOfDay, loc *time.Location) time.Time {
	t := time.Date(day.Year(), day.Month(), day.Day(), tod.Hour, tod.Minute, tod.Second, 0, loc)

	wall := time.Date(day.Year(), day.Month(), day.Day(), tod.Hour, tod.Minute, tod.Second, 0, time.UTC)
	if sameWallClock(t, wall) {
		return t.UTC()
	}
	// time.Date landed before the gap, still in the old offset.
	_, offset := t.Zone()
	return wall.Add(-time.Duration(offset) * time.Second)
}

func sameWallClock(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute() && a.Second() == b.Second()
}

func mergeIntervals(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Start.Before(in[j].Start) })

	merged := []Interval{in[0]}
	for _, iv := range in[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			last.End = laterOf(last.End, iv.End)
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}
