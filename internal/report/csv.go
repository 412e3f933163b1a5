package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/leozw/store-monitor/internal/uptime"
)

var Header = []string{
	"store_id",
	"uptime_last_hour_minutes",
	"uptime_last_day_hours",
	"uptime_last_week_hours",
	"downtime_last_hour_minutes",
	"downtime_last_day_hours",
	"downtime_last_week_hours",
}

// WriteCSV writes the header and one line per row. Values are already
// rounded; they are printed with two decimals.
func WriteCSV(w io.Writer, rows []uptime.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.StoreID,
			formatValue(r.UptimeLastHourMinutes),
			formatValue(r.UptimeLastDayHours),
			formatValue(r.UptimeLastWeekHours),
			formatValue(r.DowntimeLastHourMinutes),
			formatValue(r.DowntimeLastDayHours),
			formatValue(r.DowntimeLastWeekHours),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
