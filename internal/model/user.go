package model

import "time"

// User is an account owning campaigns, contacts, and a gateway instance.
type User struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	APIKey    string    `db:"api_key"`
	Status    string    `db:"status"` // active | suspended
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
