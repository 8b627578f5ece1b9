package model

import "time"

// Contact is a campaign recipient persisted in the contacts table.
type Contact struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Name      string    `db:"name"`
	Phone     string    `db:"phone"` // E.164
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
