package db

import (
	"database/sql"
	"time"

	"github.com/leozw/store-monitor/internal/uptime"
)

type JobStatus string

const (
	JobRunning  JobStatus = "Running"
	JobComplete JobStatus = "Complete"
	JobFailed   JobStatus = "Failed"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobComplete || s == JobFailed
}

type ReportJob struct {
	ReportID        string         `json:"report_id" db:"report_id"`
	Status          JobStatus      `json:"status" db:"status"`
	PercentComplete float64        `json:"percent_complete" db:"percent_complete"`
	OutputLocation  sql.NullString `json:"-" db:"output_location"`
	Error           sql.NullString `json:"-" db:"error"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	FinishedAt      sql.NullTime   `json:"-" db:"finished_at"`
}

// Location is the report output, set only for completed jobs.
func (j *ReportJob) Location() string {
	if j.Status != JobComplete || !j.OutputLocation.Valid {
		return ""
	}
	return j.OutputLocation.String
}

type pollRow struct {
	ID        int64     `db:"id"`
	StoreID   string    `db:"store_id"`
	Timestamp time.Time `db:"timestamp_utc"`
	Status    string    `db:"status"`
}

type businessHourRow struct {
	ID        int64            `db:"id"`
	StoreID   string           `db:"store_id"`
	DayOfWeek int              `db:"day_of_week"`
	Start     uptime.TimeOfDay `db:"start_time_local"`
	End       uptime.TimeOfDay `db:"end_time_local"`
}

type timezoneRow struct {
	StoreID  string         `db:"store_id"`
	Timezone sql.NullString `db:"timezone_str"`
}
