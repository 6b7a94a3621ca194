package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"code-duel-backend/models"
	"code-duel-backend/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore wraps the memory store and fails Create for one collection,
// optionally running a hook first (to interleave work mid-pairing).
type failingStore struct {
	*store.MemoryStore
	failCollection string
	createHook     func(collection string)
}

func (f *failingStore) Create(ctx context.Context, collection, id string, data any) bool {
	if f.createHook != nil {
		f.createHook(collection)
	}
	if collection == f.failCollection {
		return false
	}
	return f.MemoryStore.Create(ctx, collection, id, data)
}

func newFailingMatchmaker(t *testing.T, db *failingStore) (*MatchmakingService, *fakeBroadcaster) {
	t.Helper()
	broadcaster := newFakeBroadcaster()
	svc := NewDuelService(db, NewDuelRegistry(db), NewQuestionService(""), broadcaster)
	svc.QuestionCount = 2
	mm := NewMatchmakingService(svc, broadcaster)
	mm.PregameDelay = time.Hour
	return mm, broadcaster
}

// queueOrder snapshots the ticket ids waiting on a topic, oldest first.
func (s *MatchmakingService) queueOrder(topic string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.queues[topic]))
	for _, t := range s.queues[topic] {
		ids = append(ids, t.ID)
	}
	return ids
}

func newTestMatchmaker(t *testing.T) (*MatchmakingService, *fakeBroadcaster, *store.MemoryStore) {
	t.Helper()
	svc, _, broadcaster, db := newTestDuelService(t)
	mm := NewMatchmakingService(svc, broadcaster)
	mm.PregameDelay = time.Hour // keep duels PENDING during assertions
	return mm, broadcaster, db
}

func TestJoinQueueWaitsAlone(t *testing.T) {
	mm, broadcaster, _ := newTestMatchmaker(t)

	ticket, err := mm.JoinQueue(context.Background(), "alice", "Algorithms", "sock-a")
	require.NoError(t, err)
	require.NotNil(t, ticket)

	assert.Equal(t, "algorithms", ticket.Topic, "topics are normalized to slugs")
	assert.Equal(t, 1, mm.QueueLength("algorithms"))
	assert.Equal(t, 0, broadcaster.count(models.EventMatched))
}

func TestJoinQueuePairsTwoPlayers(t *testing.T) {
	mm, broadcaster, db := newTestMatchmaker(t)
	ctx := context.Background()

	_, err := mm.JoinQueue(ctx, "alice", "algorithms", "sock-a")
	require.NoError(t, err)
	_, err = mm.JoinQueue(ctx, "bob", "algorithms", "sock-b")
	require.NoError(t, err)

	assert.Equal(t, 0, mm.QueueLength("algorithms"), "both tickets are consumed")
	_, ok := mm.CurrentTicket("alice")
	assert.False(t, ok)
	_, ok = mm.CurrentTicket("bob")
	assert.False(t, ok)

	assert.Equal(t, 2, broadcaster.count(models.EventMatched), "each player is told about the other")

	duels := db.Query(ctx, "duels", nil)
	require.Len(t, duels, 1)
	var duel models.Duel
	require.NoError(t, json.Unmarshal(duels[0], &duel))
	assert.Equal(t, models.DuelStatusPending, duel.Status)
	assert.Equal(t, "alice", duel.Player1.ID)
	assert.Equal(t, "bob", duel.Player2.ID)
}

func TestJoinQueueDifferentTopicsDoNotPair(t *testing.T) {
	mm, broadcaster, _ := newTestMatchmaker(t)
	ctx := context.Background()

	_, err := mm.JoinQueue(ctx, "alice", "algorithms", "sock-a")
	require.NoError(t, err)
	_, err = mm.JoinQueue(ctx, "bob", "javascript", "sock-b")
	require.NoError(t, err)

	assert.Equal(t, 1, mm.QueueLength("algorithms"))
	assert.Equal(t, 1, mm.QueueLength("javascript"))
	assert.Equal(t, 0, broadcaster.count(models.EventMatched))
}

func TestRejoinReplacesTicket(t *testing.T) {
	mm, _, _ := newTestMatchmaker(t)
	ctx := context.Background()

	first, err := mm.JoinQueue(ctx, "alice", "algorithms", "sock-a")
	require.NoError(t, err)
	second, err := mm.JoinQueue(ctx, "alice", "javascript", "sock-a")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 0, mm.QueueLength("algorithms"), "the old ticket is gone")
	assert.Equal(t, 1, mm.QueueLength("javascript"))

	current, ok := mm.CurrentTicket("alice")
	require.True(t, ok)
	assert.Equal(t, second.ID, current.ID)
}

func TestStaleCancelIsNoOp(t *testing.T) {
	mm, _, _ := newTestMatchmaker(t)
	ctx := context.Background()

	first, err := mm.JoinQueue(ctx, "alice", "algorithms", "sock-a")
	require.NoError(t, err)
	second, err := mm.JoinQueue(ctx, "alice", "algorithms", "sock-a")
	require.NoError(t, err)

	// A cancel naming the superseded ticket must not remove the live one.
	mm.CancelQueue("alice", first.ID)
	current, ok := mm.CurrentTicket("alice")
	require.True(t, ok)
	assert.Equal(t, second.ID, current.ID)
	assert.Equal(t, 1, mm.QueueLength("algorithms"))

	mm.CancelQueue("alice", second.ID)
	_, ok = mm.CurrentTicket("alice")
	assert.False(t, ok)
	assert.Equal(t, 0, mm.QueueLength("algorithms"))
}

func TestHandleDisconnectCancelsTicket(t *testing.T) {
	mm, _, _ := newTestMatchmaker(t)
	ctx := context.Background()

	_, err := mm.JoinQueue(ctx, "alice", "algorithms", "sock-a")
	require.NoError(t, err)

	mm.HandleDisconnect("sock-unknown")
	assert.Equal(t, 1, mm.QueueLength("algorithms"))

	mm.HandleDisconnect("sock-a")
	assert.Equal(t, 0, mm.QueueLength("algorithms"))
	_, ok := mm.CurrentTicket("alice")
	assert.False(t, ok)
}

func TestSweepStale(t *testing.T) {
	mm, _, _ := newTestMatchmaker(t)
	ctx := context.Background()

	stale, err := mm.JoinQueue(ctx, "alice", "algorithms", "sock-a")
	require.NoError(t, err)
	fresh, err := mm.JoinQueue(ctx, "bob", "javascript", "sock-b")
	require.NoError(t, err)

	stale.CreatedAt = time.Now().UTC().Add(-10 * time.Minute)

	mm.SweepStale()

	assert.Equal(t, 0, mm.QueueLength("algorithms"))
	assert.Equal(t, 1, mm.QueueLength("javascript"))
	_, ok := mm.CurrentTicket("alice")
	assert.False(t, ok)
	current, ok := mm.CurrentTicket("bob")
	require.True(t, ok)
	assert.Equal(t, fresh.ID, current.ID)
}

func TestFailedMatchRequeuesAtFront(t *testing.T) {
	db := &failingStore{MemoryStore: store.NewMemoryStore(), failCollection: "duels"}
	mm, broadcaster := newFailingMatchmaker(t, db)
	ctx := context.Background()

	first, err := mm.JoinQueue(ctx, "alice", "algorithms", "sock-a")
	require.NoError(t, err)

	second, err := mm.JoinQueue(ctx, "bob", "algorithms", "sock-b")
	require.Error(t, err, "a failed duel creation must surface, not vanish")
	assert.Contains(t, err.Error(), "failed to match")
	require.NotNil(t, second, "the ticket stays valid alongside the error")

	// A third waiter joins behind the requeued pair; pairing fails again.
	third, err := mm.JoinQueue(ctx, "carol", "algorithms", "sock-c")
	require.Error(t, err)

	assert.Equal(t, []string{first.ID, second.ID, third.ID}, mm.queueOrder("algorithms"),
		"the popped pair goes back to the front in original order")

	for user, want := range map[string]string{"alice": first.ID, "bob": second.ID, "carol": third.ID} {
		current, ok := mm.CurrentTicket(user)
		require.True(t, ok, "user %s must still hold a live ticket", user)
		assert.Equal(t, want, current.ID)
	}

	assert.Equal(t, 0, broadcaster.count(models.EventMatched))
	assert.Empty(t, db.Query(ctx, "duels", nil))
}

func TestFailedMatchKeepsRejoinTicket(t *testing.T) {
	db := &failingStore{MemoryStore: store.NewMemoryStore(), failCollection: "duels"}
	mm, _ := newFailingMatchmaker(t, db)
	ctx := context.Background()

	// While duel creation is in flight the queue lock is released; alice
	// rejoins in that window. Her new ticket must survive the requeue.
	var rejoined *models.MatchTicket
	db.createHook = func(collection string) {
		if collection != "duels" || rejoined != nil {
			return
		}
		var err error
		rejoined, err = mm.JoinQueue(ctx, "alice", "algorithms", "sock-a2")
		require.NoError(t, err)
	}

	_, err := mm.JoinQueue(ctx, "alice", "algorithms", "sock-a")
	require.NoError(t, err)
	bobTicket, err := mm.JoinQueue(ctx, "bob", "algorithms", "sock-b")
	require.Error(t, err)

	require.NotNil(t, rejoined)
	current, ok := mm.CurrentTicket("alice")
	require.True(t, ok)
	assert.Equal(t, rejoined.ID, current.ID, "the newer ticket wins; the popped one is dropped")

	assert.Equal(t, []string{bobTicket.ID, rejoined.ID}, mm.queueOrder("algorithms"),
		"bob returns to the front, alice keeps her rejoin position")
}

func TestCountdownStartsDuel(t *testing.T) {
	svc, registry, broadcaster, _ := newTestDuelService(t)
	mm := NewMatchmakingService(svc, broadcaster)
	mm.PregameDelay = 10 * time.Millisecond
	ctx := context.Background()

	_, err := mm.JoinQueue(ctx, "alice", "algorithms", "sock-a")
	require.NoError(t, err)
	_, err = mm.JoinQueue(ctx, "bob", "algorithms", "sock-b")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return broadcaster.count(models.EventPregameCountdown) > 0
	}, time.Second, 2*time.Millisecond)

	require.Eventually(t, func() bool {
		return broadcaster.count(models.EventDuelEnded) == 1 && registry.size() == 0
	}, 3*time.Second, 5*time.Millisecond, "the countdown must hand off to the duel sequence")
}
