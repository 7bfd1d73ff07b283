package model

import "time"

// User is the clinic account that owns patients, rules and reminders.
type User struct {
	ID        string    `db:"id"`
	Email     string    `db:"email"`
	APIKey    string    `db:"api_key"`
	Status    string    `db:"status"` // active|suspended
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
