package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"code-duel-backend/models"
	"code-duel-backend/realtime"
	"code-duel-backend/store"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// defaultElapsed is used when a submission arrives before the question's
// broadcast deadline was recorded (reconnect race); matches the source's
// fixed scoring default.
const defaultElapsed = 5 * time.Second

// Archiver uploads a terminal duel snapshot to cold storage. Best-effort.
type Archiver interface {
	ArchiveDuel(ctx context.Context, duel *models.Duel) (string, error)
}

// DuelService owns the duel state machine: it creates duels, runs the timed
// question sequence, validates and scores answers, and ends duels. The
// registry entry is the single authoritative copy while a duel is ACTIVE.
type DuelService struct {
	db          store.DocumentStore
	registry    *DuelRegistry
	questions   *QuestionService
	broadcaster realtime.Broadcaster
	archiver    Archiver

	// Timing knobs, defaulted in NewDuelService. Tests compress them.
	QuestionCount int
	QuestionTime  time.Duration // answer window per question
	PollInterval  time.Duration // in-window poll increment
	BreakTime     time.Duration // gap between rounds
	GraceTime     time.Duration // flush window before registry eviction
}

func NewDuelService(db store.DocumentStore, registry *DuelRegistry, questions *QuestionService, broadcaster realtime.Broadcaster) *DuelService {
	return &DuelService{
		db:            db,
		registry:      registry,
		questions:     questions,
		broadcaster:   broadcaster,
		QuestionCount: 10,
		QuestionTime:  9 * time.Second,
		PollInterval:  1 * time.Second,
		BreakTime:     2 * time.Second,
		GraceTime:     2 * time.Second,
	}
}

// SetArchiver wires the optional result archive.
func (s *DuelService) SetArchiver(a Archiver) {
	s.archiver = a
}

func duelRoom(duelID string) string {
	return "duel_" + duelID
}

// CreateDuel builds and persists a PENDING duel between two users. The duel
// must not be started if persistence failed.
func (s *DuelService) CreateDuel(ctx context.Context, user1ID, user2ID, topic string) (*models.Duel, error) {
	questions := s.questions.Generate(ctx, topic, s.QuestionCount)

	duel := &models.Duel{
		ID:        uuid.NewString(),
		Topic:     topic,
		Status:    models.DuelStatusPending,
		Player1:   models.Player{ID: user1ID},
		Player2:   models.Player{ID: user2ID},
		Questions: questions,
		CreatedAt: time.Now().UTC(),
	}

	if !s.db.Create(ctx, "duels", duel.ID, duel) {
		return nil, fmt.Errorf("failed to create duel %s in database", duel.ID)
	}
	return duel, nil
}

// StartDuel transitions a PENDING duel to ACTIVE, registers it, and spawns
// the single question-sequence task for it. Starting a non-PENDING duel is a
// logged no-op.
func (s *DuelService) StartDuel(ctx context.Context, duelID string) {
	st, ok := s.registry.get(ctx, duelID)
	if !ok {
		log.Printf("❌ Cannot start duel %s: not found", duelID)
		return
	}

	st.mu.Lock()
	if st.duel.Status != models.DuelStatusPending {
		log.Printf("⚠️  Duel %s is not pending (status %s), ignoring start", duelID, st.duel.Status)
		st.mu.Unlock()
		return
	}
	if st.cancel != nil {
		// A sequence task already exists for this duel.
		st.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	first := 0
	st.duel.Status = models.DuelStatusActive
	st.duel.StartedAt = &now
	st.duel.CurrentQuestion = &first

	seqCtx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel
	snap := *st.duel
	st.mu.Unlock()

	s.registry.register(st)
	s.persist(ctx, &snap)

	log.Printf("🚀 Duel %s started (%s vs %s, topic %q)", duelID, snap.Player1.ID, snap.Player2.ID, snap.Topic)
	go s.runQuestionSequence(seqCtx, st)
}

// Cancel tears down the duel's sequence task, if one is running. The task
// ends the duel through the error path before exiting.
func (s *DuelService) Cancel(duelID string) {
	st, ok := s.registry.lookup(duelID)
	if !ok {
		return
	}
	st.mu.Lock()
	cancel := st.cancel
	st.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// runQuestionSequence drives one duel's timed rounds. Exactly one instance
// runs per duel; every exit path goes through endDuel and clears the task
// reference.
func (s *DuelService) runQuestionSequence(ctx context.Context, st *duelState) {
	duelID := st.duel.ID
	total := len(st.duel.Questions)
	if total > s.QuestionCount {
		total = s.QuestionCount
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("🔥 Panic in question sequence for duel %s: %v", duelID, r)
			s.endDuel(st, true)
		}
		st.mu.Lock()
		st.cancel = nil
		st.mu.Unlock()
	}()

	for i := 0; i < total; i++ {
		s.ensureRegistered(st)

		st.mu.Lock()
		idx := i
		st.duel.CurrentQuestion = &idx
		deadline := time.Now().UTC().Add(s.QuestionTime)
		st.deadlines[i] = deadline
		question := st.duel.Questions[i]
		snap := *st.duel
		st.mu.Unlock()

		s.persist(ctx, &snap)

		s.broadcaster.Emit(models.EventQuestionStart, models.QuestionStartEvent{
			DuelID:        duelID,
			QuestionIndex: i,
			Question:      models.QuestionView{Prompt: question.Prompt, Options: question.Options},
			Deadline:      deadline,
			TimeLimit:     int(s.QuestionTime / time.Second),
		}, duelRoom(duelID))

		// Hold the answer window, polling so cancellation is responsive and
		// the single-owner invariant stays observable.
		for time.Now().Before(deadline) {
			if !sleepCtx(ctx, s.PollInterval) {
				s.endDuel(st, true)
				return
			}
			s.ensureRegistered(st)
		}

		st.mu.Lock()
		scores := models.ScorePair{Player1: st.duel.Player1.Score, Player2: st.duel.Player2.Score}
		st.mu.Unlock()

		s.broadcaster.Emit(models.EventQuestionEnd, models.QuestionEndEvent{
			DuelID:        duelID,
			QuestionIndex: i,
			CorrectIndex:  question.CorrectIndex,
			Explanation:   question.Explanation,
			Scores:        scores,
		}, duelRoom(duelID))

		if i < total-1 {
			if !sleepCtx(ctx, s.BreakTime) {
				s.endDuel(st, true)
				return
			}
		}
	}

	s.endDuel(st, false)
}

// ensureRegistered enforces the single-owner invariant: a live duel must be
// in the registry until endDuel removes it. A disappearance is a bug; it is
// logged loudly and repaired so the duel still finishes.
func (s *DuelService) ensureRegistered(st *duelState) {
	if _, ok := s.registry.lookup(st.duel.ID); !ok {
		log.Printf("🔥 BUG: duel %s vanished from registry mid-sequence, re-registering", st.duel.ID)
		s.registry.register(st)
	}
}

// SubmitAnswer validates, scores, and records one answer. The durable answer
// log is the duplicate-detection authority; elapsed time comes from the
// server-held question deadline, never from the client.
func (s *DuelService) SubmitAnswer(ctx context.Context, duelID, userID string, questionIndex, selectedIndex int) (*models.AnswerResult, error) {
	st, ok := s.registry.lookup(duelID)
	if !ok {
		return nil, fmt.Errorf("duel %s not found or not active: %w", duelID, ErrNotFound)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.duel.Status != models.DuelStatusActive {
		return nil, fmt.Errorf("duel %s not found or not active: %w", duelID, ErrNotFound)
	}
	if !st.duel.HasPlayer(userID) {
		return nil, fmt.Errorf("user %s is not in duel %s: %w", userID, duelID, ErrValidation)
	}
	if questionIndex < 0 || questionIndex >= len(st.duel.Questions) {
		return nil, fmt.Errorf("question index %d out of range: %w", questionIndex, ErrValidation)
	}
	if st.duel.CurrentQuestion == nil || *st.duel.CurrentQuestion != questionIndex {
		return nil, fmt.Errorf("question %d is not the current question: %w", questionIndex, ErrValidation)
	}
	if selectedIndex < 0 || selectedIndex > 3 {
		return nil, fmt.Errorf("selected index %d out of range: %w", selectedIndex, ErrValidation)
	}

	for _, raw := range s.db.GetSubcollection(ctx, "duels", duelID, "answers") {
		var existing models.Answer
		if err := json.Unmarshal(raw, &existing); err != nil {
			continue
		}
		if existing.UserID == userID && existing.QuestionIndex == questionIndex {
			return nil, fmt.Errorf("already answered question %d: %w", questionIndex, ErrConflict)
		}
	}

	elapsed := defaultElapsed
	if deadline, ok := st.deadlines[questionIndex]; ok {
		elapsed = s.QuestionTime - time.Until(deadline)
		if elapsed < 0 {
			elapsed = 0
		}
		if elapsed > s.QuestionTime {
			elapsed = s.QuestionTime
		}
	}

	question := st.duel.Questions[questionIndex]
	correct := selectedIndex == question.CorrectIndex
	points := scorePoints(correct, elapsed)

	answer := models.Answer{
		QuestionIndex: questionIndex,
		UserID:        userID,
		SelectedIndex: selectedIndex,
		Correct:       correct,
		ResponseMs:    int(elapsed.Milliseconds()),
		AnsweredAt:    time.Now().UTC(),
	}
	if s.db.AddToSubcollection(ctx, "duels", duelID, "answers", answer) == "" {
		log.Printf("⚠️  Failed to persist answer record for duel %s, continuing on in-memory state", duelID)
	}

	if correct {
		st.duel.PlayerFor(userID).Score += points
		snap := *st.duel
		if !s.db.Update(ctx, "duels", duelID, snap) {
			log.Printf("⚠️  Failed to persist duel %s after scoring, continuing on in-memory state", duelID)
		}
	}

	log.Printf("📝 User %s answered question %d in duel %s: correct=%t points=%d elapsed=%.1fs",
		userID, questionIndex, duelID, correct, points, elapsed.Seconds())

	return &models.AnswerResult{
		Correct:      correct,
		PointsEarned: points,
		TimeTaken:    elapsed.Seconds(),
	}, nil
}

// scorePoints: a correct answer earns 10 base points plus a speed bonus of
// max(0, 9 - floor(elapsedSeconds)); an incorrect answer earns nothing.
func scorePoints(correct bool, elapsed time.Duration) int {
	if !correct {
		return 0
	}
	bonus := 9 - int(elapsed.Seconds())
	if bonus < 0 {
		bonus = 0
	}
	return 10 + bonus
}

// endDuel finalizes the duel exactly once across every exit path: sets the
// terminal status, resolves the winner, persists, notifies the room, and
// after a short flush window evicts the registry entry.
func (s *DuelService) endDuel(st *duelState, errored bool) {
	st.endOnce.Do(func() {
		ctx := context.Background()

		st.mu.Lock()
		now := time.Now().UTC()
		st.duel.EndedAt = &now
		if errored {
			st.duel.Status = models.DuelStatusError
		} else {
			st.duel.Status = models.DuelStatusCompleted
			if st.duel.Player1.Score > st.duel.Player2.Score {
				st.duel.WinnerID = &st.duel.Player1.ID
			} else if st.duel.Player2.Score > st.duel.Player1.Score {
				st.duel.WinnerID = &st.duel.Player2.ID
			}
			// Equal scores: no winner.
		}
		snap := *st.duel
		st.mu.Unlock()

		s.persist(ctx, &snap)

		if s.archiver != nil {
			if url, err := s.archiver.ArchiveDuel(ctx, &snap); err != nil {
				log.Printf("⚠️  Failed to archive duel %s result: %v", snap.ID, err)
			} else {
				log.Printf("📦 Archived duel %s result to %s", snap.ID, url)
			}
		}

		duration := 0.0
		if snap.StartedAt != nil {
			duration = snap.EndedAt.Sub(*snap.StartedAt).Seconds()
		}
		s.broadcaster.Emit(models.EventDuelEnded, models.DuelEndedEvent{
			DuelID:      snap.ID,
			WinnerID:    snap.WinnerID,
			FinalScores: models.ScorePair{Player1: snap.Player1.Score, Player2: snap.Player2.Score},
			EndedAt:     snap.EndedAt,
			Duration:    duration,
		}, duelRoom(snap.ID))

		// Let the end message flush before the room's duel disappears.
		time.Sleep(s.GraceTime)
		s.registry.remove(snap.ID)

		winner := "tie"
		if snap.WinnerID != nil {
			winner = *snap.WinnerID
		}
		log.Printf("🏁 Duel %s ended (status %s, winner %s)", snap.ID, snap.Status, winner)
	})
}

// persist writes the duel snapshot; a failure degrades durability only.
func (s *DuelService) persist(ctx context.Context, snap *models.Duel) {
	if !s.db.Update(ctx, "duels", snap.ID, snap) {
		log.Printf("⚠️  Failed to persist duel %s, in-memory state remains authoritative", snap.ID)
	}
}

// GetDuel returns a snapshot of the duel, hydrating from the store if it is
// not registered.
func (s *DuelService) GetDuel(ctx context.Context, duelID string) (*models.Duel, error) {
	st, ok := s.registry.get(ctx, duelID)
	if !ok {
		return nil, fmt.Errorf("duel %s: %w", duelID, ErrNotFound)
	}
	snap := st.snapshot()
	return &snap, nil
}

// GetUserActiveDuel finds the user's ACTIVE duel for reconnection: the
// registry first, then the store (hydrating a hit into the registry).
func (s *DuelService) GetUserActiveDuel(ctx context.Context, userID string) (*models.Duel, error) {
	if st, ok := s.registry.activeStateFor(userID); ok {
		snap := st.snapshot()
		return &snap, nil
	}

	for _, raw := range s.db.Query(ctx, "duels", []store.Filter{{Field: "status", Op: "==", Value: "active"}}) {
		var duel models.Duel
		if err := json.Unmarshal(raw, &duel); err != nil {
			continue
		}
		if !duel.HasPlayer(userID) {
			continue
		}
		st, ok := s.registry.get(ctx, duel.ID)
		if !ok {
			continue
		}
		snap := st.snapshot()
		return &snap, nil
	}
	return nil, fmt.Errorf("no active duel for user %s: %w", userID, ErrNotFound)
}

// QuestionDeadline reports the broadcast deadline for a question, for
// replaying question_start to a reconnecting client.
func (s *DuelService) QuestionDeadline(duelID string, questionIndex int) (time.Time, bool) {
	st, ok := s.registry.lookup(duelID)
	if !ok {
		return time.Time{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	deadline, ok := st.deadlines[questionIndex]
	return deadline, ok
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// GetDuelHandler serves GET /api/duel/:id for duel participants.
func (s *DuelService) GetDuelHandler(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	duelID := c.Params("duel_id")

	duel, err := s.GetDuel(c.Context(), duelID)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "duel not found"})
	}
	if !duel.HasPlayer(userID) {
		return c.Status(403).JSON(fiber.Map{"error": "access denied"})
	}
	return c.JSON(fiber.Map{"duel": duel})
}

// ActiveDuelHandler serves GET /api/user/active-duel for reconnection.
func (s *DuelService) ActiveDuelHandler(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	duel, err := s.GetUserActiveDuel(c.Context(), userID)
	if err != nil {
		return c.JSON(fiber.Map{"activeDuel": nil})
	}

	opponentID := duel.OpponentID(userID)
	return c.JSON(fiber.Map{
		"activeDuel": fiber.Map{
			"id":              duel.ID,
			"status":          duel.Status,
			"currentQuestion": duel.CurrentQuestion,
			"opponent": models.OpponentInfo{
				ID:       opponentID,
				Username: displayName(opponentID),
			},
			"topic": duel.Topic,
			"scores": models.ScorePair{
				Player1: duel.Player1.Score,
				Player2: duel.Player2.Score,
			},
		},
	})
}
