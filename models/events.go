package models

import "time"

// Wire event names. Payloads are fixed named structs (one per event) and are
// validated at the websocket boundary before reaching the orchestrator.
const (
	EventQueueJoined      = "queue_joined"
	EventQueueCancelled   = "queue_cancelled"
	EventMatched          = "matched"
	EventPregameCountdown = "pregame_countdown"
	EventQuestionStart    = "question_start"
	EventQuestionEnd      = "question_end"
	EventDuelEnded        = "duel_ended"
	EventDuelReconnected  = "duel_reconnected"
	EventAnswerSubmitted  = "answer_submitted"
	EventError            = "error"
)

type QueueJoinedEvent struct {
	Ticket MatchTicket `json:"ticket"`
}

type QueueCancelledEvent struct {
	Success bool `json:"success"`
}

type OpponentInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type MatchedEvent struct {
	DuelID   string       `json:"duelId"`
	Opponent OpponentInfo `json:"opponent"`
	Topic    string       `json:"topic"`
}

type PregameCountdownEvent struct {
	DuelID   string    `json:"duelId"`
	StartsAt time.Time `json:"startsAt"`
}

// QuestionView is the client-visible part of a question. The correct index
// and explanation are withheld until question_end.
type QuestionView struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

type QuestionStartEvent struct {
	DuelID        string       `json:"duelId"`
	QuestionIndex int          `json:"questionIndex"`
	Question      QuestionView `json:"question"`
	Deadline      time.Time    `json:"deadline"`
	TimeLimit     int          `json:"timeLimit"`
}

type ScorePair struct {
	Player1 int `json:"player1"`
	Player2 int `json:"player2"`
}

type QuestionEndEvent struct {
	DuelID        string    `json:"duelId"`
	QuestionIndex int       `json:"questionIndex"`
	CorrectIndex  int       `json:"correctIndex"`
	Explanation   string    `json:"explanation"`
	Scores        ScorePair `json:"scores"`
}

type DuelEndedEvent struct {
	DuelID      string     `json:"duelId"`
	WinnerID    *string    `json:"winnerId"`
	FinalScores ScorePair  `json:"finalScores"`
	EndedAt     *time.Time `json:"ended_at"`
	Duration    float64    `json:"duration"`
}

type DuelReconnectedEvent struct {
	DuelID          string     `json:"duelId"`
	CurrentQuestion *int       `json:"currentQuestion"`
	Scores          ScorePair  `json:"scores"`
	Status          DuelStatus `json:"status"`
}

type AnswerSubmittedEvent struct {
	Result AnswerResult `json:"result"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
