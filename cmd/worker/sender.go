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
	"github.com/zapvia/campaign-gateway/internal/gateway"
	"github.com/zapvia/campaign-gateway/internal/logger"
	"github.com/zapvia/campaign-gateway/internal/metrics"
	"github.com/zapvia/campaign-gateway/internal/queue"
	"github.com/zapvia/campaign-gateway/internal/ratelimit"
	"github.com/zapvia/campaign-gateway/internal/repository"
	"github.com/zapvia/campaign-gateway/internal/worker"
)

var senderCmd = &cobra.Command{
	Use:   "sender",
	Short: "Run the message sender worker (campaign-messages queue)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSendWorker(cmd, queue.CampaignMessages)
	},
}

var retrierCmd = &cobra.Command{
	Use:   "retrier",
	Short: "Run the retry worker (message-retry queue)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSendWorker(cmd, queue.MessageRetry)
	},
}

// runSendWorker drives the shared send path for either the primary
// messages queue or the retry queue; both feed the same Sender.
func runSendWorker(cmd *cobra.Command, queueName string) error {
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

	chDB, err := db.OpenClickHouse(cfg.ClickHouse)
	if err != nil {
		return fmt.Errorf("clickhouse connect: %w", err)
	}
	defer func() { _ = chDB.Close() }()

	rdb, err := db.OpenRedis(cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	zlog := logger.L()

	client := gateway.NewClient(gateway.Config{
		BaseURL:       cfg.Gateway.BaseURL,
		APIKey:        cfg.Gateway.APIKey,
		TimeoutMs:     cfg.Gateway.TimeoutMs,
		FailThreshold: cfg.Gateway.Breaker.FailThreshold,
		OpenForMs:     cfg.Gateway.Breaker.OpenForMs,
	})

	srcQ := queue.New(rdb, zlog, queueName)
	retryQ := queue.New(rdb, zlog, queue.MessageRetry)
	notifyQ := queue.New(rdb, zlog, queue.CampaignNotifications)

	sender := &worker.Sender{
		Campaigns:   repository.NewCampaignsRepository(dbx),
		Logs:        repository.NewDeliveryLogsRepository(chDB),
		Gateway:     client,
		Limits:      ratelimit.NewRegistry(rdb, zlog, cfg.RateLimit),
		RetryQ:      retryQ,
		NotifyQ:     notifyQ,
		Log:         zlog,
		MaxRetries:  cfg.Workers.MaxRetries,
		BackoffBase: cfg.Workers.BackoffBase,
		BackoffCap:  cfg.Workers.BackoffCap,
	}

	concurrency := cfg.Workers.MessageConcurrency
	if queueName == queue.MessageRetry {
		concurrency = cfg.Workers.RetryConcurrency
	}

	pool := worker.NewPool(zlog, cfg.Workers.PollInterval, worker.Consumer{
		Queue:       srcQ,
		Concurrency: concurrency,
		Handle:      sender.Handle,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pool.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	pool.Stop()
	return nil
}
