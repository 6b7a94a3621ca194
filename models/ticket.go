package models

import "time"

// MatchTicket is a pending request to be matched on a topic.
// A user holds at most one live ticket; joining again replaces the old one.
type MatchTicket struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
	SocketID  string    `json:"socket_id,omitempty"`
}
