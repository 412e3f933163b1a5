package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leozw/store-monitor/internal/config"
	"github.com/leozw/store-monitor/internal/db"
	"github.com/leozw/store-monitor/internal/ingest"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		dir       string
		noReplace bool
	)

	cmd := &cobra.Command{
		Use:   "loader",
		Short: "Load store status, business hours and timezone CSV exports into the database",
		Long: fmt.Sprintf("Reads %s, %s and %s from --dir and bulk inserts them.\n"+
			"Tables are truncated before loading unless --no-replace is given.",
			ingest.PollsFile, ingest.BusinessHoursFile, ingest.TimezonesFile),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), dir, !noReplace)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory containing the CSV files")
	cmd.Flags().BoolVar(&noReplace, "no-replace", false, "keep existing rows instead of truncating tables first")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}

func run(ctx context.Context, dir string, replace bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.NewConnection(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return err
	}

	loader := db.NewLoader(db.NewRepository(database))
	importer := ingest.NewImporter(loader, cfg.Report.DefaultTimezone, logger)

	summary, err := importer.LoadDir(ctx, dir, replace)
	if err != nil {
		return err
	}

	logger.Info("Load finished",
		zap.String("dir", dir),
		zap.Bool("replace", replace),
		zap.Int("polls", summary.Polls.Loaded),
		zap.Int("business_hours", summary.BusinessHours.Loaded),
		zap.Int("timezones", summary.Timezones.Loaded),
		zap.Int("skipped", summary.Polls.Skipped+summary.BusinessHours.Skipped+summary.Timezones.Skipped),
	)
	return nil
}
