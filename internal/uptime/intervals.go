package uptime

import (
	"sort"
	"time"
)

// DedupePolls orders polls by timestamp and collapses polls sharing a
// timestamp into the last one in input order. It returns the number of
// polls discarded.
func DedupePolls(polls []Poll) ([]Poll, int) {
	sorted := make([]Poll, len(polls))
	copy(sorted, polls)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	out := sorted[:0]
	discarded := 0
	for _, p := range sorted {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(p.Timestamp) {
			out[n-1] = p
			discarded++
			continue
		}
		out = append(out, p)
	}
	return out, discarded
}

// BuildStatusIntervals converts deduplicated, ascending polls into a
// contiguous sequence of status intervals. Each poll owns the time between
// the midpoints to its neighbours; the first poll reaches back to horizon
// and the last one forward to now.
func BuildStatusIntervals(polls []Poll, horizon, now time.Time) []StatusInterval {
	if len(polls) == 0 {
		return nil
	}

	start := earlierOf(horizon, polls[0].Timestamp)
	out := make([]StatusInterval, 0, len(polls))
	for i, p := range polls {
		var end time.Time
		if i < len(polls)-1 {
			end = midpoint(p.Timestamp, polls[i+1].Timestamp)
		} else {
			end = laterOf(now, p.Timestamp)
		}
		if end.After(start) {
			out = append(out, StatusInterval{
				Interval: Interval{Start: start, End: end},
				Status:   p.Status,
			})
			start = end
		}
	}
	return out
}

func midpoint(a, b time.Time) time.Time {
	return a.Add(b.Sub(a) / 2)
}
