package model

import "time"

// Notification is the persisted record of a campaign lifecycle event.
type Notification struct {
	ID         string           `db:"id"`
	CampaignID string           `db:"campaign_id"`
	Kind       NotificationKind `db:"kind"`
	Message    string           `db:"message"`
	CreatedAt  time.Time        `db:"created_at"`
}
