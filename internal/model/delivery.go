package model

import "time"

type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliverySkipped DeliveryStatus = "skipped"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) Valid() bool {
	return s == DeliverySent || s == DeliveryFailed || s == DeliverySkipped
}

// DeliveryLog is the per-recipient outcome row appended to ClickHouse.
type DeliveryLog struct {
	ID         string         `db:"id"`
	CampaignID string         `db:"campaign_id"`
	ContactID  int64          `db:"contact_id"`
	UserID     int64          `db:"user_id"`
	Phone      string         `db:"phone"`
	Status     DeliveryStatus `db:"status"`
	Detail     string         `db:"detail"` // error text or empty
	Attempts   int            `db:"attempts"`
	CreatedAt  time.Time      `db:"created_at"`
}
