package uptime

import "time"

// Coverage is the outcome of one window for one store. Downtime is always
// Business minus Uptime.
type Coverage struct {
	Business time.Duration
	Uptime   time.Duration
	Downtime time.Duration
	// Covered is the business time for which any status was known.
	Covered time.Duration
}

// Aggregate intersects sorted, non-overlapping business and status
// intervals in a single sweep.
func Aggregate(business []Interval, status []StatusInterval, noData NoDataPolicy) Coverage {
	var c Coverage
	for _, b := range business {
		c.Business += b.Duration()
	}

	i, j := 0, 0
	for i < len(business) && j < len(status) {
		b, s := business[i], status[j]
		if overlap := b.Clip(s.Interval); !overlap.Empty() {
			d := overlap.Duration()
			c.Covered += d
			if s.Status == StatusActive {
				c.Uptime += d
			}
		}
		if b.End.Before(s.End) {
			i++
		} else {
			j++
		}
	}

	if c.Covered == 0 {
		switch noData {
		case NoDataUptime:
			c.Uptime = c.Business
		default:
			c.Uptime = 0
		}
	}
	c.Downtime = c.Business - c.Uptime
	return c
}
