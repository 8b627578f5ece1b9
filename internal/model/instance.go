package model

import "time"

// Instance is a WhatsApp gateway instance owned by a user.
type Instance struct {
	ID        string    `db:"id"`
	UserID    int64     `db:"user_id"`
	Token     string    `db:"token"`
	Status    string    `db:"status"` // connected | disconnected
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
