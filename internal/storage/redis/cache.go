package redis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leozw/store-monitor/internal/db"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) *Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}

	client := redis.NewClient(opt)

	return &Client{client}
}

func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.Set(ctx, key, data, expiration).Err()
}

func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), dest)
}

// StatusCache keeps finished report jobs so status polls skip the database.
// Running jobs are never cached since their state still changes.
type StatusCache struct {
	client *Client
	ttl    time.Duration
}

func NewStatusCache(client *Client, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

type cachedJob struct {
	ReportID        string       `json:"report_id"`
	Status          db.JobStatus `json:"status"`
	PercentComplete float64      `json:"percent_complete"`
	OutputLocation  string       `json:"output_location,omitempty"`
	Error           string       `json:"error,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	FinishedAt      *time.Time   `json:"finished_at,omitempty"`
}

func statusKey(reportID string) string {
	return fmt.Sprintf("report:status:%s", reportID)
}

func (s *StatusCache) Put(ctx context.Context, job *db.ReportJob) error {
	if !job.Status.IsTerminal() {
		return nil
	}
	entry := cachedJob{
		ReportID:        job.ReportID,
		Status:          job.Status,
		PercentComplete: job.PercentComplete,
		OutputLocation:  job.OutputLocation.String,
		Error:           job.Error.String,
		CreatedAt:       job.CreatedAt,
	}
	if job.FinishedAt.Valid {
		finished := job.FinishedAt.Time
		entry.FinishedAt = &finished
	}
	return s.client.SetJSON(ctx, statusKey(job.ReportID), entry, s.ttl)
}

// Get returns the cached job, or false on a cache miss.
func (s *StatusCache) Get(ctx context.Context, reportID string) (*db.ReportJob, bool, error) {
	var entry cachedJob
	if err := s.client.GetJSON(ctx, statusKey(reportID), &entry); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	job := &db.ReportJob{
		ReportID:        entry.ReportID,
		Status:          entry.Status,
		PercentComplete: entry.PercentComplete,
		OutputLocation:  sql.NullString{String: entry.OutputLocation, Valid: entry.OutputLocation != ""},
		Error:           sql.NullString{String: entry.Error, Valid: entry.Error != ""},
		CreatedAt:       entry.CreatedAt,
	}
	if entry.FinishedAt != nil {
		job.FinishedAt = sql.NullTime{Time: *entry.FinishedAt, Valid: true}
	}
	return job, true, nil
}
