package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/zapvia/campaign-gateway/internal/config"
	"github.com/zapvia/campaign-gateway/internal/db"
	httpSrv "github.com/zapvia/campaign-gateway/internal/http"
	"github.com/zapvia/campaign-gateway/internal/logger"
	"github.com/zapvia/campaign-gateway/internal/metrics"
	"github.com/zapvia/campaign-gateway/internal/queue"
	"github.com/zapvia/campaign-gateway/internal/ratelimit"
	"github.com/zapvia/campaign-gateway/internal/repository"
	"github.com/zapvia/campaign-gateway/internal/schedule"
	"github.com/zapvia/campaign-gateway/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP control surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log.Level)

		mysqlDB, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := db.OpenRedis(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		chDB, err := db.OpenClickHouse(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = chDB.Close() }()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		zlog := logger.L()
		queues := map[string]*queue.Queue{
			queue.CampaignMessages:      queue.New(redisClient, zlog, queue.CampaignMessages),
			queue.CampaignNotifications: queue.New(redisClient, zlog, queue.CampaignNotifications),
			queue.MessageRetry:          queue.New(redisClient, zlog, queue.MessageRetry),
		}
		limits := ratelimit.NewRegistry(redisClient, zlog, cfg.RateLimit)

		loc, err := schedule.LoadLocation(cfg.Scheduler.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone: %w", err)
		}
		sched := scheduler.New(
			repository.NewCampaignsRepository(mysqlDB),
			repository.NewContactsRepository(mysqlDB),
			repository.NewBlacklistRepository(mysqlDB),
			repository.NewInstancesRepository(mysqlDB),
			queues[queue.CampaignMessages],
			queues[queue.CampaignNotifications],
			limits,
			zlog,
			scheduler.Config{
				Interval:  cfg.Scheduler.Interval,
				Tolerance: cfg.Scheduler.Tolerance,
				Location:  loc,
			},
		)

		server := httpSrv.NewServer(httpSrv.Deps{
			MySQL:      mysqlDB,
			ClickHouse: chDB,
			Queues:     queues,
			Limits:     limits,
			Scheduler:  sched,
		})

		errCh := make(chan error, 1)
		go func() {
			log.Printf("starting http on %s", cfg.HTTP.Addr)
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Printf("signal received: %s, shutting down...", sig)
		case err := <-errCh:
			if err != nil {
				log.Printf("http server exited: %v", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}
