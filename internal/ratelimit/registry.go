package ratelimit

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zapvia/campaign-gateway/internal/config"
)

// Registry holds the pre-configured limiters used across the pipeline.
type Registry struct {
	// InstanceSend throttles sends per WhatsApp instance (default 20/min).
	InstanceSend *Limiter
	// InstanceDaily caps total sends per instance per day (default 1000/24h).
	InstanceDaily *Limiter
	// UserCampaign throttles campaign dispatch per user (default 100/min).
	UserCampaign *Limiter
	// UserAPI throttles the HTTP control surface per user (default 1000/min).
	UserAPI *Limiter
	// MessageRetry caps requeues per message (default 10 per 5min).
	MessageRetry *Limiter
}

// NewRegistry wires the standard limiters from config.
func NewRegistry(rdb *redis.Client, log *zap.Logger, cfg config.RateLimitConfig) *Registry {
	return &Registry{
		InstanceSend:  New(rdb, log, "inst", cfg.InstanceSend.Max, cfg.InstanceSend.Window),
		InstanceDaily: New(rdb, log, "inst-daily", cfg.InstanceDaily.Max, cfg.InstanceDaily.Window),
		UserCampaign:  New(rdb, log, "user-camp", cfg.UserCampaign.Max, cfg.UserCampaign.Window),
		UserAPI:       New(rdb, log, "user-api", cfg.UserAPI.Max, cfg.UserAPI.Window),
		MessageRetry:  New(rdb, log, "msg-retry", cfg.MessageRetry.Max, cfg.MessageRetry.Window),
	}
}
