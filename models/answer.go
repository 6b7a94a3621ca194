package models

import "time"

// Answer is one submitted answer, append-only per duel. At most one record
// may exist per (duel, user, question index); the durable answer log is the
// authority for duplicate detection.
type Answer struct {
	QuestionIndex int       `json:"question_index"`
	UserID        string    `json:"user_id"`
	SelectedIndex int       `json:"selected_index"`
	Correct       bool      `json:"correct"`
	ResponseMs    int       `json:"response_ms"`
	AnsweredAt    time.Time `json:"answered_at"`
}

// AnswerResult is what the submitting client gets back.
type AnswerResult struct {
	Correct      bool    `json:"correct"`
	PointsEarned int     `json:"points_earned"`
	TimeTaken    float64 `json:"time_taken"`
}
