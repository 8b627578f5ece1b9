package model

import (
	"time"

	"github.com/zapvia/campaign-gateway/internal/schedule"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignRunning, CampaignPaused, CampaignCompleted, CampaignFailed:
		return true
	}
	return false
}

// Terminal reports whether the campaign run has resolved.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignFailed
}

// CampaignStats are per-run counters. All updates go through atomic
// single-statement increments; they never decrease within a run.
type CampaignStats struct {
	Total     int64 `db:"total_count" json:"total"`
	Sent      int64 `db:"sent_count" json:"sent"`
	Delivered int64 `db:"delivered_count" json:"delivered"`
	Read      int64 `db:"read_count" json:"read"`
	Failed    int64 `db:"failed_count" json:"failed"`
	Skipped   int64 `db:"skipped_count" json:"skipped"`
}

// Resolved is the number of enqueued jobs that reached a terminal outcome.
// Skipped recipients never enter the total, so they do not participate.
func (s CampaignStats) Resolved() int64 {
	return s.Sent + s.Failed
}

// Campaign is the DB entity persisted in the campaigns table.
type Campaign struct {
	ID         string             `db:"id"`
	UserID     int64              `db:"user_id"`
	InstanceID string             `db:"instance_id"`
	Name       string             `db:"name"`
	Template   string             `db:"template"` // message body template
	MediaURL   *string            `db:"media_url"`
	Status     CampaignStatus     `db:"status"`
	Schedule   *schedule.Schedule `db:"schedule"` // nil = manual-only campaign

	CampaignStats

	LastDispatchedAt *time.Time `db:"last_dispatched_at"`
	StartedAt        *time.Time `db:"started_at"`
	CompletedAt      *time.Time `db:"completed_at"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// Dispatchable reports whether the scheduler may enqueue recipients for
// this campaign right now.
func (c *Campaign) Dispatchable() bool {
	return c.Status == CampaignRunning && c.Schedule != nil
}
