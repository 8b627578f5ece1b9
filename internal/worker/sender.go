package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/zapvia/campaign-gateway/internal/backoff"
	"github.com/zapvia/campaign-gateway/internal/faults"
	"github.com/zapvia/campaign-gateway/internal/gateway"
	"github.com/zapvia/campaign-gateway/internal/metrics"
	"github.com/zapvia/campaign-gateway/internal/model"
	"github.com/zapvia/campaign-gateway/internal/queue"
	"github.com/zapvia/campaign-gateway/internal/ratelimit"
	"github.com/zapvia/campaign-gateway/internal/repository"
	"github.com/zapvia/campaign-gateway/internal/util"
)

// pausedRetryDelay holds jobs for paused campaigns without burning retries.
const pausedRetryDelay = 30 * time.Second

// GatewaySender is the subset of the gateway client the sender needs.
type GatewaySender interface {
	SendMessage(ctx context.Context, inst gateway.Instance, msg gateway.OutboundMessage) error
}

// Sender consumes the campaign-messages and message-retry queues: it
// re-checks campaign state, throttles per instance, invokes the gateway,
// and records per-recipient outcomes. Per-recipient failures never touch
// sibling jobs.
type Sender struct {
	Campaigns repository.CampaignsRepository
	Logs      repository.DeliveryLogsRepository
	Gateway   GatewaySender
	Limits    *ratelimit.Registry
	RetryQ    *queue.Queue
	NotifyQ   *queue.Queue
	Log       *zap.Logger

	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Handle processes one message job from q (either the messages or the
// retry queue; both share this path).
func (s *Sender) Handle(ctx context.Context, q *queue.Queue, j *queue.Job) {
	var job model.MessageJob
	if err := j.Decode(&job); err != nil {
		s.Log.Warn("undecodable message job", zap.String("job_id", j.ID), zap.Error(err))
		_ = q.Fail(ctx, j)
		return
	}

	campaign, err := s.Campaigns.GetByID(ctx, job.CampaignID)
	if err != nil {
		s.Log.Warn("campaign lookup failed, requeueing",
			zap.String("campaign_id", job.CampaignID), zap.Error(err))
		_ = q.Nack(ctx, j, pausedRetryDelay)
		return
	}
	// Stopped or finished campaigns turn queued jobs into no-ops; the queue
	// backend cannot selectively drop them at stop time.
	if campaign == nil || campaign.Status.Terminal() || campaign.Status == model.CampaignDraft {
		_ = q.Ack(ctx, j)
		return
	}
	if campaign.Status == model.CampaignPaused {
		_ = q.Nack(ctx, j, pausedRetryDelay)
		return
	}

	if d := s.Limits.InstanceSend.Check(ctx, job.InstanceID); !d.Allowed {
		_ = q.Nack(ctx, j, d.RetryAfter)
		return
	}
	if d := s.Limits.InstanceDaily.Check(ctx, job.InstanceID); !d.Allowed {
		_ = q.Nack(ctx, j, d.RetryAfter)
		return
	}

	inst := gateway.Instance{ID: job.InstanceID, Token: job.InstanceToken}
	sendErr := s.Gateway.SendMessage(ctx, inst, gateway.OutboundMessage{
		Phone:    job.Phone,
		Body:     job.Body,
		Type:     job.Type,
		MediaURL: job.MediaURL,
	})

	switch {
	case sendErr == nil:
		s.recordOutcome(ctx, job, model.DeliverySent, "", job.RetryCount+1)
		metrics.MessagesTotal.WithLabelValues("sent").Inc()
		_ = q.Ack(ctx, j)
		s.checkCompletion(ctx, job.CampaignID)

	case errors.Is(sendErr, faults.ErrPermanentSend):
		s.recordOutcome(ctx, job, model.DeliveryFailed, sendErr.Error(), job.RetryCount+1)
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		_ = q.Fail(ctx, j)
		s.checkCompletion(ctx, job.CampaignID)

	default: // transient: schedule a bounded retry
		s.retryOrFail(ctx, q, j, job, sendErr)
	}
}

func (s *Sender) retryOrFail(ctx context.Context, q *queue.Queue, j *queue.Job, job model.MessageJob, sendErr error) {
	next := job.RetryCount + 1
	if next > s.MaxRetries {
		// budget exhausted: discard, never requeue
		s.recordOutcome(ctx, job, model.DeliveryFailed, sendErr.Error(), job.RetryCount+1)
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		_ = q.Fail(ctx, j)
		s.notify(ctx, job.CampaignID, model.NotifyFailed,
			fmt.Sprintf("message to %s failed after %d attempts: %v", job.Phone, next, sendErr))
		s.checkCompletion(ctx, job.CampaignID)
		return
	}

	retryKey := job.CampaignID + ":" + strconv.FormatInt(job.ContactID, 10)
	if d := s.Limits.MessageRetry.Check(ctx, retryKey); !d.Allowed {
		_ = q.Nack(ctx, j, d.RetryAfter)
		return
	}

	retry := job
	retry.RetryCount = next
	delay := backoff.Delay(next, s.BackoffBase, s.BackoffCap)
	if _, err := s.RetryQ.Add(ctx, retry, queue.Options{Priority: j.Priority, Delay: delay}); err != nil {
		// retry queue unreachable: leave the job where it is
		s.Log.Error("retry enqueue failed", zap.String("campaign_id", job.CampaignID), zap.Error(err))
		_ = q.Nack(ctx, j, delay)
		return
	}
	metrics.MessagesTotal.WithLabelValues("retried").Inc()
	s.Log.Debug("send failed, retry scheduled",
		zap.String("campaign_id", job.CampaignID),
		zap.String("phone", job.Phone),
		zap.Int("retry_count", next),
		zap.Duration("delay", delay),
		zap.Error(sendErr),
	)
	_ = q.Ack(ctx, j)
}

func (s *Sender) recordOutcome(ctx context.Context, job model.MessageJob, status model.DeliveryStatus, detail string, attempts int) {
	stat := repository.StatSent
	if status == model.DeliveryFailed {
		stat = repository.StatFailed
	}
	if err := s.Campaigns.IncrementStat(ctx, job.CampaignID, stat); err != nil {
		s.Log.Error("stat increment failed",
			zap.String("campaign_id", job.CampaignID), zap.String("stat", stat), zap.Error(err))
	}
	if err := s.Logs.Insert(ctx, model.DeliveryLog{
		ID:         util.NewULID(),
		CampaignID: job.CampaignID,
		ContactID:  job.ContactID,
		UserID:     job.UserID,
		Phone:      job.Phone,
		Status:     status,
		Detail:     detail,
		Attempts:   attempts,
	}); err != nil {
		s.Log.Warn("delivery log insert failed",
			zap.String("campaign_id", job.CampaignID), zap.Error(err))
	}
}

func (s *Sender) checkCompletion(ctx context.Context, campaignID string) {
	done, err := s.Campaigns.MarkCompleted(ctx, campaignID)
	if err != nil {
		s.Log.Warn("completion check failed", zap.String("campaign_id", campaignID), zap.Error(err))
		return
	}
	if done {
		s.notify(ctx, campaignID, model.NotifyCompleted, "all recipient jobs resolved")
	}
}

func (s *Sender) notify(ctx context.Context, campaignID string, kind model.NotificationKind, msg string) {
	_, err := s.NotifyQ.Add(ctx, model.NotificationJob{
		CampaignID: campaignID,
		Kind:       kind,
		Message:    msg,
	}, queue.Options{})
	if err != nil {
		// notifications are best-effort
		s.Log.Warn("notification enqueue failed", zap.String("campaign_id", campaignID), zap.Error(err))
	}
}
