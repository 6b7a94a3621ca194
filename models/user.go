package models

import "time"

const DefaultRating = 1200

// User is a (guest) account stored in the "users" collection.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Rating    int       `json:"rating"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
