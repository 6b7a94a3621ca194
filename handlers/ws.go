package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"code-duel-backend/models"
	"code-duel-backend/realtime"
	"code-duel-backend/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// clientEnvelope is the frame clients send: an event name plus its payload.
// Payloads are decoded into the typed struct for the event before any
// service call.
type clientEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinQueuePayload struct {
	UserID string `json:"userId"`
	Topic  string `json:"topic"`
}

type cancelQueuePayload struct {
	TicketID string `json:"ticketId"`
}

type answerPayload struct {
	DuelID        string `json:"duelId"`
	QuestionIndex *int   `json:"questionIndex"`
	SelectedIndex *int   `json:"selectedIndex"`
	ClientTs      *int64 `json:"clientTs"` // informational only, never used for scoring
}

func SetupRealtimeRoutes(app *fiber.App, hub *realtime.Hub, matchmaking *services.MatchmakingService, duels *services.DuelService, auth *services.AuthService) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		socketID := hub.Register(conn)
		defer func() {
			hub.Unregister(socketID)
			matchmaking.HandleDisconnect(socketID)
			log.Printf("Client %s disconnected", socketID)
		}()

		// Session identity: a valid bearer token wins, a raw userId is
		// accepted for guest reconnection.
		userID := ""
		if token := conn.Query("token"); token != "" {
			if id, err := auth.VerifyToken(token); err == nil {
				userID = id
			} else {
				log.Printf("❌ Invalid token on socket %s: %v", socketID, err)
			}
		}
		if userID == "" {
			userID = conn.Query("userId")
		}

		if userID != "" {
			replayActiveDuel(hub, duels, socketID, userID)
		}
		log.Printf("Client %s connected (user %q)", socketID, userID)

		for {
			var env clientEnvelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}

			switch env.Event {
			case "join_queue":
				var payload joinQueuePayload
				if err := json.Unmarshal(env.Data, &payload); err != nil || payload.UserID == "" || payload.Topic == "" {
					hub.Emit(models.EventError, models.ErrorEvent{Code: "INVALID_DATA", Message: "User ID and topic are required"}, socketID)
					continue
				}
				userID = payload.UserID

				ticket, err := matchmaking.JoinQueue(context.Background(), payload.UserID, payload.Topic, socketID)
				if err != nil {
					log.Printf("💥 Pairing error on join_queue for %s: %v", payload.UserID, err)
				}
				hub.Emit(models.EventQueueJoined, models.QueueJoinedEvent{Ticket: *ticket}, socketID)

			case "cancel_queue":
				var payload cancelQueuePayload
				if err := json.Unmarshal(env.Data, &payload); err != nil || userID == "" || payload.TicketID == "" {
					hub.Emit(models.EventError, models.ErrorEvent{Code: "INVALID_DATA", Message: "Invalid request"}, socketID)
					continue
				}
				matchmaking.CancelQueue(userID, payload.TicketID)
				hub.Emit(models.EventQueueCancelled, models.QueueCancelledEvent{Success: true}, socketID)

			case "answer":
				var payload answerPayload
				if err := json.Unmarshal(env.Data, &payload); err != nil || userID == "" ||
					payload.DuelID == "" || payload.QuestionIndex == nil || payload.SelectedIndex == nil {
					hub.Emit(models.EventError, models.ErrorEvent{Code: "INVALID_DATA", Message: "Invalid answer data"}, socketID)
					continue
				}

				result, err := duels.SubmitAnswer(context.Background(), payload.DuelID, userID, *payload.QuestionIndex, *payload.SelectedIndex)
				if err != nil {
					hub.Emit(models.EventError, models.ErrorEvent{Code: answerErrorCode(err), Message: err.Error()}, socketID)
					continue
				}
				hub.Emit(models.EventAnswerSubmitted, models.AnswerSubmittedEvent{Result: *result}, socketID)

			default:
				hub.Emit(models.EventError, models.ErrorEvent{Code: "UNKNOWN_EVENT", Message: "Unknown event: " + env.Event}, socketID)
			}
		}
	}))
}

func answerErrorCode(err error) string {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, services.ErrConflict):
		return "ALREADY_ANSWERED"
	case errors.Is(err, services.ErrValidation):
		return "INVALID_DATA"
	case errors.Is(err, services.ErrState):
		return "INVALID_STATE"
	default:
		return "ANSWER_ERROR"
	}
}

// replayActiveDuel rejoins a reconnecting player to their duel room and
// replays the current state, including the open question with its original
// deadline so the client recomputes the remaining time.
func replayActiveDuel(hub *realtime.Hub, duels *services.DuelService, socketID, userID string) {
	duel, err := duels.GetUserActiveDuel(context.Background(), userID)
	if err != nil {
		return
	}

	room := "duel_" + duel.ID
	hub.Join(socketID, room)
	log.Printf("🔄 User %s reconnecting to active duel %s", userID, duel.ID)

	hub.Emit(models.EventDuelReconnected, models.DuelReconnectedEvent{
		DuelID:          duel.ID,
		CurrentQuestion: duel.CurrentQuestion,
		Scores:          models.ScorePair{Player1: duel.Player1.Score, Player2: duel.Player2.Score},
		Status:          duel.Status,
	}, socketID)

	if duel.CurrentQuestion == nil || *duel.CurrentQuestion >= len(duel.Questions) {
		return
	}
	idx := *duel.CurrentQuestion
	question := duel.Questions[idx]
	deadline, ok := duels.QuestionDeadline(duel.ID, idx)
	if !ok {
		return
	}
	hub.Emit(models.EventQuestionStart, models.QuestionStartEvent{
		DuelID:        duel.ID,
		QuestionIndex: idx,
		Question:      models.QuestionView{Prompt: question.Prompt, Options: question.Options},
		Deadline:      deadline,
		TimeLimit:     int(duels.QuestionTime.Seconds()),
	}, socketID)
}
