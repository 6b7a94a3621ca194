package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"code-duel-backend/models"
	"code-duel-backend/realtime"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// MatchmakingService owns the per-topic ticket queues and the pairing path.
// One mutex guards the queues, the user-ticket index, and the socket index;
// every read-modify-write (pop+deindex, reinsert+reindex) happens under it,
// so no other task can observe a half-applied mutation.
type MatchmakingService struct {
	duels       *DuelService
	broadcaster realtime.Broadcaster

	mu          sync.Mutex
	queues      map[string][]*models.MatchTicket
	userTickets map[string]*models.MatchTicket
	socketUsers map[string]string

	StaleAfter   time.Duration // tickets older than this are swept
	PregameDelay time.Duration // delay before the countdown, and countdown length
}

func NewMatchmakingService(duels *DuelService, broadcaster realtime.Broadcaster) *MatchmakingService {
	return &MatchmakingService{
		duels:        duels,
		broadcaster:  broadcaster,
		queues:       make(map[string][]*models.MatchTicket),
		userTickets:  make(map[string]*models.MatchTicket),
		socketUsers:  make(map[string]string),
		StaleAfter:   5 * time.Minute,
		PregameDelay: 3 * time.Second,
	}
}

// displayName is the public name for a user id until profiles exist.
func displayName(userID string) string {
	if len(userID) > 8 {
		userID = userID[:8]
	}
	return "Player_" + userID
}

// JoinQueue enqueues the user on the topic and immediately attempts pairing.
// A prior ticket held by the user is canceled first. A pairing failure is
// returned alongside the (still valid, requeued) ticket.
func (s *MatchmakingService) JoinQueue(ctx context.Context, userID, topic, socketID string) (*models.MatchTicket, error) {
	topicKey := slug.Make(topic)

	s.mu.Lock()
	if existing, ok := s.userTickets[userID]; ok {
		s.cancelLocked(userID, existing.ID)
	}

	ticket := &models.MatchTicket{
		ID:        uuid.NewString(),
		UserID:    userID,
		Topic:     topicKey,
		CreatedAt: time.Now().UTC(),
		SocketID:  socketID,
	}
	s.queues[topicKey] = append(s.queues[topicKey], ticket)
	s.userTickets[userID] = ticket
	if socketID != "" {
		s.socketUsers[socketID] = userID
	}
	waiting := len(s.queues[topicKey])
	s.mu.Unlock()

	log.Printf("🎪 User %s joined %q queue (%d waiting)", userID, topicKey, waiting)

	if err := s.tryPair(ctx, topicKey); err != nil {
		return ticket, err
	}
	return ticket, nil
}

// CancelQueue removes the user's ticket, but only when ticketID names their
// current one. A stale cancel arriving after a newer join must not remove
// the newer ticket.
func (s *MatchmakingService) CancelQueue(userID, ticketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(userID, ticketID)
}

func (s *MatchmakingService) cancelLocked(userID, ticketID string) {
	ticket, ok := s.userTickets[userID]
	if !ok || ticket.ID != ticketID {
		return
	}

	queue := s.queues[ticket.Topic]
	for i, t := range queue {
		if t.ID == ticketID {
			s.queues[ticket.Topic] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	delete(s.userTickets, userID)
	if ticket.SocketID != "" {
		delete(s.socketUsers, ticket.SocketID)
	}
	log.Printf("User %s cancelled matchmaking for topic %s", userID, ticket.Topic)
}

// HandleDisconnect cancels the ticket of whoever owned the socket, if any.
func (s *MatchmakingService) HandleDisconnect(socketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.socketUsers[socketID]
	if !ok {
		return
	}
	if ticket, ok := s.userTickets[userID]; ok {
		s.cancelLocked(userID, ticket.ID)
	}
	delete(s.socketUsers, socketID)
}

// tryPair pops the two oldest tickets atomically and attempts duel creation.
// On failure both tickets go back to the front of the queue in their
// original order and the error is surfaced.
func (s *MatchmakingService) tryPair(ctx context.Context, topicKey string) error {
	s.mu.Lock()
	queue := s.queues[topicKey]
	if len(queue) < 2 {
		s.mu.Unlock()
		return nil
	}
	ticket1, ticket2 := queue[0], queue[1]
	s.queues[topicKey] = queue[2:]
	delete(s.userTickets, ticket1.UserID)
	delete(s.userTickets, ticket2.UserID)
	s.mu.Unlock()

	log.Printf("🎯 Match found: %s vs %s in %q", ticket1.UserID, ticket2.UserID, topicKey)

	if err := s.makeMatch(ctx, ticket1, ticket2); err != nil {
		s.mu.Lock()
		// Reinsert at the front in original order so the pair keeps its place.
		// A user who rejoined while the match was in flight already holds a
		// newer ticket; their popped one is dropped, not requeued.
		front := make([]*models.MatchTicket, 0, 2)
		for _, t := range []*models.MatchTicket{ticket1, ticket2} {
			if _, ok := s.userTickets[t.UserID]; ok {
				continue
			}
			front = append(front, t)
			s.userTickets[t.UserID] = t
		}
		s.queues[topicKey] = append(front, s.queues[topicKey]...)
		s.mu.Unlock()
		return fmt.Errorf("failed to match %s and %s: %w", ticket1.UserID, ticket2.UserID, err)
	}
	return nil
}

func (s *MatchmakingService) makeMatch(ctx context.Context, ticket1, ticket2 *models.MatchTicket) error {
	duel, err := s.duels.CreateDuel(ctx, ticket1.UserID, ticket2.UserID, ticket1.Topic)
	if err != nil {
		return err
	}

	room := duelRoom(duel.ID)
	sockets := []*models.MatchTicket{ticket1, ticket2}
	for _, t := range sockets {
		if t.SocketID != "" {
			s.broadcaster.Join(t.SocketID, room)
		}
	}

	if ticket1.SocketID != "" {
		s.broadcaster.Emit(models.EventMatched, models.MatchedEvent{
			DuelID:   duel.ID,
			Opponent: models.OpponentInfo{ID: ticket2.UserID, Username: displayName(ticket2.UserID)},
			Topic:    ticket1.Topic,
		}, ticket1.SocketID)
	}
	if ticket2.SocketID != "" {
		s.broadcaster.Emit(models.EventMatched, models.MatchedEvent{
			DuelID:   duel.ID,
			Opponent: models.OpponentInfo{ID: ticket1.UserID, Username: displayName(ticket1.UserID)},
			Topic:    ticket1.Topic,
		}, ticket2.SocketID)
	}

	log.Printf("✅ Duel %s created for %s vs %s", duel.ID, ticket1.UserID, ticket2.UserID)
	go s.runCountdown(duel.ID, ticket1.SocketID, ticket2.SocketID)
	return nil
}

// runCountdown gives both clients a pregame window, then starts the duel.
func (s *MatchmakingService) runCountdown(duelID string, socketIDs ...string) {
	time.Sleep(s.PregameDelay)

	countdown := models.PregameCountdownEvent{
		DuelID:   duelID,
		StartsAt: time.Now().UTC().Add(s.PregameDelay),
	}
	s.broadcaster.Emit(models.EventPregameCountdown, countdown, duelRoom(duelID))
	// Also to each socket directly, in case a client has not processed the
	// room join yet.
	for _, socketID := range socketIDs {
		if socketID != "" {
			s.broadcaster.Emit(models.EventPregameCountdown, countdown, socketID)
		}
	}

	time.Sleep(s.PregameDelay)
	s.duels.StartDuel(context.Background(), duelID)
}

// SweepStale evicts tickets older than StaleAfter from every queue and from
// the user index. Run on a fixed period by the maintenance scheduler.
func (s *MatchmakingService) SweepStale() {
	cutoff := time.Now().UTC().Add(-s.StaleAfter)

	s.mu.Lock()
	defer s.mu.Unlock()

	for topic, queue := range s.queues {
		kept := queue[:0]
		removed := 0
		for _, t := range queue {
			if t.CreatedAt.After(cutoff) {
				kept = append(kept, t)
			} else {
				removed++
				delete(s.userTickets, t.UserID)
				if t.SocketID != "" {
					delete(s.socketUsers, t.SocketID)
				}
			}
		}
		s.queues[topic] = kept
		if removed > 0 {
			log.Printf("🧹 Cleaned up %d stale ticket(s) for topic %s", removed, topic)
		}
	}
}

// QueueLength reports how many tickets wait on a topic.
func (s *MatchmakingService) QueueLength(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[slug.Make(topic)])
}

// CurrentTicket returns the user's live ticket, if any.
func (s *MatchmakingService) CurrentTicket(userID string) (*models.MatchTicket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.userTickets[userID]
	return t, ok
}

// JoinQueueHandler serves POST /api/duel/match.
func (s *MatchmakingService) JoinQueueHandler(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req struct {
		Topic string `json:"topic"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.Topic == "" {
		return c.Status(400).JSON(fiber.Map{"error": "topic is required"})
	}

	ticket, err := s.JoinQueue(c.Context(), userID, req.Topic, "")
	if err != nil {
		// Pairing failed but the ticket is back in the queue; the client
		// keeps waiting for a match.
		log.Printf("❌ Pairing error for user %s: %v", userID, err)
	}
	return c.JSON(fiber.Map{"ticket": ticket})
}

// CancelQueueHandler serves POST /api/duel/cancel.
func (s *MatchmakingService) CancelQueueHandler(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var req struct {
		TicketID string `json:"ticketId"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if req.TicketID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "ticket ID is required"})
	}

	s.CancelQueue(userID, req.TicketID)
	return c.JSON(fiber.Map{"success": true})
}
