package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/leozw/store-monitor/internal/api"
	"github.com/leozw/store-monitor/internal/api/handlers"
	"github.com/leozw/store-monitor/internal/config"
	"github.com/leozw/store-monitor/internal/db"
	"github.com/leozw/store-monitor/internal/metrics"
	"github.com/leozw/store-monitor/internal/report"
	rediscache "github.com/leozw/store-monitor/internal/storage/redis"
	"github.com/leozw/store-monitor/internal/uptime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Database
	database, err := db.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if cfg.Database.Migrate {
		if err := db.Migrate(database); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	repo := db.NewRepository(database)
	jobs := db.NewJobStore(database)

	// Jobs left Running by a previous process have no owner anymore.
	stale, err := jobs.FailStale(context.Background(), "interrupted by restart")
	if err != nil {
		logger.Fatal("Failed to recover report jobs", zap.Error(err))
	}
	if stale > 0 {
		logger.Warn("Failed interrupted reports", zap.Int64("reports", stale))
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsCollector := metrics.NewCollector(cfg.Mimir, registry)

	// Uptime calculator
	noData, err := uptime.ParseNoDataPolicy(cfg.Report.NoDataPolicy)
	if err != nil {
		logger.Fatal("Invalid report configuration", zap.Error(err))
	}
	calc, err := uptime.NewCalculator(uptime.Policy{
		DefaultTimezone: cfg.Report.DefaultTimezone,
		NoData:          noData,
		Round:           uptime.RoundHalfEven2,
	}, logger)
	if err != nil {
		logger.Fatal("Invalid report configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, err := newSink(ctx, cfg.Report)
	if err != nil {
		logger.Fatal("Failed to configure report output", zap.Error(err))
	}

	options := []report.Option{report.WithRecorder(metricsCollector)}

	// Redis status cache
	if cfg.Redis.URL != "" {
		cache := rediscache.NewClient(cfg.Redis.URL)
		defer cache.Close()
		if err := cache.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unavailable, status cache disabled", zap.Error(err))
		} else {
			options = append(options, report.WithStatusCache(rediscache.NewStatusCache(cache, cfg.Redis.StatusTTL)))
		}
	}

	engine := report.NewEngine(repo, jobs, sink, calc, logger, report.Options{
		Workers:         cfg.Report.Workers,
		ProgressEvery:   cfg.Report.ProgressEvery,
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	}, options...)

	// API Server
	handler := handlers.NewHandler(engine, repo, logger)
	server := api.NewServer(cfg.Server, handler, registry, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	go metricsCollector.StartRemoteWrite(ctx, logger)

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("API server started",
		zap.String("port", cfg.Server.Port),
		zap.Int("report_workers", cfg.Report.Workers),
		zap.String("report_sink", cfg.Report.Sink),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := engine.Wait(shutdownCtx); err != nil {
		logger.Warn("Report jobs still running at shutdown", zap.Error(err))
	}
	cancel()

	logger.Info("Server exited")
}

func newSink(ctx context.Context, cfg config.ReportConfig) (report.Sink, error) {
	switch cfg.Sink {
	case config.SinkFile, "":
		return report.NewFileSink(cfg.OutputDir), nil
	case config.SinkS3:
		if cfg.S3Bucket == "" {
			return nil, errors.New("report.s3bucket is required for the s3 sink")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return report.NewS3Sink(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Prefix), nil
	}
	return nil, fmt.Errorf("unknown report sink %q", cfg.Sink)
}
