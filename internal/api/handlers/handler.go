package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/store-monitor/internal/db"
)

type ReportService interface {
	Trigger(ctx context.Context) (string, error)
	GetStatus(ctx context.Context, reportID string) (*db.ReportJob, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	reports ReportService
	db      Pinger
	logger  *zap.Logger
	started time.Time
}

func NewHandler(reports ReportService, pinger Pinger, logger *zap.Logger) *Handler {
	return &Handler{
		reports: reports,
		db:      pinger,
		logger:  logger,
		started: time.Now(),
	}
}
