package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/zapvia/campaign-gateway/internal/config"
	"github.com/zapvia/campaign-gateway/internal/db"
	"github.com/zapvia/campaign-gateway/internal/logger"
	"github.com/zapvia/campaign-gateway/internal/metrics"
	"github.com/zapvia/campaign-gateway/internal/queue"
	"github.com/zapvia/campaign-gateway/internal/ratelimit"
	"github.com/zapvia/campaign-gateway/internal/repository"
	"github.com/zapvia/campaign-gateway/internal/schedule"
	"github.com/zapvia/campaign-gateway/internal/scheduler"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the periodic campaign scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log.Level)
		metrics.MustRegister(prometheus.DefaultRegisterer)

		dbx, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		rdb, err := db.OpenRedis(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = rdb.Close() }()

		zlog := logger.L()

		loc, err := schedule.LoadLocation(cfg.Scheduler.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone: %w", err)
		}

		svc := scheduler.New(
			repository.NewCampaignsRepository(dbx),
			repository.NewContactsRepository(dbx),
			repository.NewBlacklistRepository(dbx),
			repository.NewInstancesRepository(dbx),
			queue.New(rdb, zlog, queue.CampaignMessages),
			queue.New(rdb, zlog, queue.CampaignNotifications),
			ratelimit.NewRegistry(rdb, zlog, cfg.RateLimit),
			zlog,
			scheduler.Config{
				Interval:  cfg.Scheduler.Interval,
				Tolerance: cfg.Scheduler.Tolerance,
				Location:  loc,
			},
		)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
