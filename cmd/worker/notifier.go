package worker

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/zapvia/campaign-gateway/internal/config"
	"github.com/zapvia/campaign-gateway/internal/db"
	"github.com/zapvia/campaign-gateway/internal/kafka"
	"github.com/zapvia/campaign-gateway/internal/logger"
	"github.com/zapvia/campaign-gateway/internal/metrics"
	"github.com/zapvia/campaign-gateway/internal/queue"
	"github.com/zapvia/campaign-gateway/internal/repository"
	"github.com/zapvia/campaign-gateway/internal/worker"
)

var notifierCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Run the notification worker (campaign-notifications queue)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
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

		producer := kafka.NewProducerFromConfig(kafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.EventsTopic,
		})
		defer func() { _ = producer.Close() }()

		notifier := &worker.Notifier{
			Notifications: repository.NewNotificationsRepository(dbx),
			Events:        producer,
			Log:           zlog,
		}

		pool := worker.NewPool(zlog, cfg.Workers.PollInterval, worker.Consumer{
			Queue:       queue.New(rdb, zlog, queue.CampaignNotifications),
			Concurrency: cfg.Workers.NotificationConcurrency,
			Handle:      notifier.Handle,
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := pool.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		pool.Stop()
		return nil
	},
}
