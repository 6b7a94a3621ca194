package models

import "time"

// DuelStatus is the lifecycle state of a duel.
// Transitions: pending -> active -> {completed, error}. Terminal states are
// never mutated in memory; the final snapshot goes through the store only.
type DuelStatus string

const (
	DuelStatusPending   DuelStatus = "pending"
	DuelStatusActive    DuelStatus = "active"
	DuelStatusCompleted DuelStatus = "completed"
	DuelStatusError     DuelStatus = "error"
	// DuelStatusCanceled is kept for wire compatibility with older clients;
	// this process never sets it (cancellation ends through the error path).
	DuelStatusCanceled DuelStatus = "canceled"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Question is one multiple-choice question: exactly 4 options, one correct.
type Question struct {
	ID           string     `json:"id"`
	Prompt       string     `json:"prompt"`
	Options      []string   `json:"options"`
	CorrectIndex int        `json:"correct_index"`
	Explanation  string     `json:"explanation"`
	Topic        string     `json:"topic"`
	Difficulty   Difficulty `json:"difficulty"`
}

// Player is one of the two slots in a duel.
type Player struct {
	ID    string `json:"id"`
	Score int    `json:"score"`
}

// Duel is a two-player timed contest over an ordered question sequence.
type Duel struct {
	ID              string     `json:"id"`
	Topic           string     `json:"topic"`
	Status          DuelStatus `json:"status"`
	Player1         Player     `json:"player1"`
	Player2         Player     `json:"player2"`
	WinnerID        *string    `json:"winner_id,omitempty"`
	CurrentQuestion *int       `json:"current_question,omitempty"`
	Questions       []Question `json:"questions"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// HasPlayer reports whether userID occupies one of the duel's two slots.
func (d *Duel) HasPlayer(userID string) bool {
	return d.Player1.ID == userID || d.Player2.ID == userID
}

// PlayerFor returns the player slot owned by userID, or nil.
func (d *Duel) PlayerFor(userID string) *Player {
	switch userID {
	case d.Player1.ID:
		return &d.Player1
	case d.Player2.ID:
		return &d.Player2
	}
	return nil
}

// OpponentID returns the other player's id.
func (d *Duel) OpponentID(userID string) string {
	if d.Player1.ID == userID {
		return d.Player2.ID
	}
	return d.Player1.ID
}
