package uptime

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultTimezone is used for stores without a timezone row and for
// timezone names that cannot be resolved.
const DefaultTimezone = "America/Chicago"

// NoDataPolicy decides how business time is counted for a window in which
// a store has no status information at all.
type NoDataPolicy string

const (
	// NoDataDowntime counts the whole business time as downtime.
	NoDataDowntime NoDataPolicy = "downtime"
	// NoDataUptime counts the whole business time as uptime.
	NoDataUptime NoDataPolicy = "uptime"
)

const DefaultNoDataPolicy = NoDataDowntime

func ParseNoDataPolicy(s string) (NoDataPolicy, error) {
	switch p := NoDataPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case NoDataDowntime, NoDataUptime:
		return p, nil
	case "":
		return DefaultNoDataPolicy, nil
	}
	return "", fmt.Errorf("unknown no-data policy %q", s)
}

// Rounding is applied to every converted value of a report row.
type Rounding func(float64) float64

// RoundHalfEven2 rounds half to even at two decimal places.
func RoundHalfEven2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}

var DefaultRounding Rounding = RoundHalfEven2

type Policy struct {
	DefaultTimezone string
	NoData          NoDataPolicy
	Round           Rounding
}

func DefaultPolicy() Policy {
	return Policy{
		DefaultTimezone: DefaultTimezone,
		NoData:          DefaultNoDataPolicy,
		Round:           DefaultRounding,
	}
}

// LoadLocation resolves an IANA zone name. The process-local zone is never
// accepted since it would make results depend on the host.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "Local") {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnknownTimezone, name, err)
	}
	return loc, nil
}
