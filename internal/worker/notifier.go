package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/zapvia/campaign-gateway/internal/model"
	"github.com/zapvia/campaign-gateway/internal/queue"
	"github.com/zapvia/campaign-gateway/internal/repository"
	"github.com/zapvia/campaign-gateway/internal/util"
)

// EventPublisher is the lifecycle event sink (Kafka in production).
type EventPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Event is the payload published to the campaign.events topic.
type Event struct {
	CampaignID string                 `json:"campaign_id"`
	Kind       model.NotificationKind `json:"kind"`
	Message    string                 `json:"message,omitempty"`
	At         time.Time              `json:"at"`
}

// Notifier consumes the campaign-notifications queue. Delivery is
// best-effort: the job is acked before handling and nothing is retried.
type Notifier struct {
	Notifications repository.NotificationsRepository
	Events        EventPublisher
	Log           *zap.Logger
}

func (n *Notifier) Handle(ctx context.Context, q *queue.Queue, j *queue.Job) {
	// ack first: a notification lost on failure is acceptable, a
	// notification loop is not
	_ = q.Ack(ctx, j)

	var job model.NotificationJob
	if err := j.Decode(&job); err != nil {
		n.Log.Warn("undecodable notification job", zap.String("job_id", j.ID), zap.Error(err))
		return
	}

	now := time.Now().UTC()
	if err := n.Notifications.Insert(ctx, model.Notification{
		ID:         util.NewULID(),
		CampaignID: job.CampaignID,
		Kind:       job.Kind,
		Message:    job.Message,
		CreatedAt:  now,
	}); err != nil {
		n.Log.Warn("notification insert failed",
			zap.String("campaign_id", job.CampaignID), zap.Error(err))
	}

	if n.Events == nil {
		return
	}
	payload, err := json.Marshal(Event{
		CampaignID: job.CampaignID,
		Kind:       job.Kind,
		Message:    job.Message,
		At:         now,
	})
	if err != nil {
		return
	}
	if err := n.Events.Publish(ctx, job.CampaignID, payload); err != nil {
		n.Log.Warn("event publish failed",
			zap.String("campaign_id", job.CampaignID), zap.Error(err))
	}
}
