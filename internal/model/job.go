package model

import (
	"strings"

	"github.com/zapvia/campaign-gateway/internal/faults"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageMedia MessageType = "media"
)

func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageMedia
}

// MessageJob is one per-recipient send unit. It lives exclusively in the
// campaign-messages / message-retry queues: created at dispatch, destroyed
// on terminal success or after the retry budget is exhausted.
type MessageJob struct {
	CampaignID    string      `json:"campaign_id"`
	ContactID     int64       `json:"contact_id"`
	Phone         string      `json:"phone"`
	Body          string      `json:"body"`
	Type          MessageType `json:"type"`
	MediaURL      string      `json:"media_url,omitempty"`
	InstanceID    string      `json:"instance_id"`
	InstanceToken string      `json:"instance_token,omitempty"`
	UserID        int64       `json:"user_id"`
	RetryCount    int         `json:"retry_count"`
}

func (j MessageJob) Validate() error {
	if strings.TrimSpace(j.CampaignID) == "" {
		return faults.Validation("message job: missing campaign_id")
	}
	if strings.TrimSpace(j.Phone) == "" {
		return faults.Validation("message job: missing phone")
	}
	if strings.TrimSpace(j.Body) == "" {
		return faults.Validation("message job: missing body")
	}
	if strings.TrimSpace(j.InstanceID) == "" {
		return faults.Validation("message job: missing instance_id")
	}
	if !j.Type.Valid() {
		return faults.Validation("message job: invalid type %q", j.Type)
	}
	if j.Type == MessageMedia && j.MediaURL == "" {
		return faults.Validation("message job: media without media_url")
	}
	return nil
}

type NotificationKind string

const (
	NotifyStarted   NotificationKind = "started"
	NotifyPaused    NotificationKind = "paused"
	NotifyStopped   NotificationKind = "stopped"
	NotifyFailed    NotificationKind = "failed"
	NotifyCompleted NotificationKind = "completed"
)

func (k NotificationKind) Valid() bool {
	switch k {
	case NotifyStarted, NotifyPaused, NotifyStopped, NotifyFailed, NotifyCompleted:
		return true
	}
	return false
}

// NotificationJob records a campaign lifecycle transition. Best-effort:
// consumed once, never retried.
type NotificationJob struct {
	CampaignID string           `json:"campaign_id"`
	Kind       NotificationKind `json:"kind"`
	Message    string           `json:"message,omitempty"`
}

func (j NotificationJob) Validate() error {
	if strings.TrimSpace(j.CampaignID) == "" {
		return faults.Validation("notification job: missing campaign_id")
	}
	if !j.Kind.Valid() {
		return faults.Validation("notification job: invalid kind %q", j.Kind)
	}
	return nil
}
