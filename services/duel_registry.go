package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"code-duel-backend/models"
	"code-duel-backend/store"
)

// duelState is a registry entry: the authoritative in-memory duel plus the
// runtime the orchestrator needs. All mutation of the duel goes through mu;
// the per-question broadcast deadlines are the scoring authority.
type duelState struct {
	mu        sync.Mutex
	duel      *models.Duel
	deadlines map[int]time.Time
	cancel    context.CancelFunc
	endOnce   sync.Once
}

func newDuelState(duel *models.Duel) *duelState {
	return &duelState{duel: duel, deadlines: make(map[int]time.Time)}
}

// snapshot returns a copy of the duel safe to hand outside the lock.
func (st *duelState) snapshot() models.Duel {
	st.mu.Lock()
	defer st.mu.Unlock()
	return *st.duel
}

// DuelRegistry is the authoritative in-memory table of duels in progress.
// It is constructed once and passed by reference to the matchmaker and the
// orchestrator; there is no ambient global map. While a duel's sequence task
// is alive, only endDuel may remove its entry.
type DuelRegistry struct {
	db store.DocumentStore

	mu     sync.RWMutex
	states map[string]*duelState
}

func NewDuelRegistry(db store.DocumentStore) *DuelRegistry {
	return &DuelRegistry{db: db, states: make(map[string]*duelState)}
}

// lookup checks memory only.
func (r *DuelRegistry) lookup(duelID string) (*duelState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[duelID]
	return st, ok
}

// get returns the registered entry, lazily hydrating from the document store
// on a miss (reconnection lookups after eviction or restart). Timestamps are
// reconstructed by the JSON decode.
func (r *DuelRegistry) get(ctx context.Context, duelID string) (*duelState, bool) {
	if st, ok := r.lookup(duelID); ok {
		return st, true
	}

	raw := r.db.Get(ctx, "duels", duelID)
	if raw == nil {
		return nil, false
	}
	var duel models.Duel
	if err := json.Unmarshal(raw, &duel); err != nil {
		log.Printf("❌ Failed to decode stored duel %s: %v", duelID, err)
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another task may have hydrated the same duel while we read the store.
	if st, ok := r.states[duelID]; ok {
		return st, true
	}
	st := newDuelState(&duel)
	r.states[duelID] = st
	return st, true
}

// register inserts an entry, keeping an existing one if present.
func (r *DuelRegistry) register(st *duelState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := st.duel.ID
	if _, ok := r.states[id]; !ok {
		r.states[id] = st
	}
}

func (r *DuelRegistry) remove(duelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, duelID)
}

// activeStateFor scans in-memory duels for an ACTIVE one the user plays in.
func (r *DuelRegistry) activeStateFor(userID string) (*duelState, bool) {
	r.mu.RLock()
	candidates := make([]*duelState, 0, len(r.states))
	for _, st := range r.states {
		candidates = append(candidates, st)
	}
	r.mu.RUnlock()

	for _, st := range candidates {
		st.mu.Lock()
		match := st.duel.Status == models.DuelStatusActive && st.duel.HasPlayer(userID)
		st.mu.Unlock()
		if match {
			return st, true
		}
	}
	return nil, false
}

func (r *DuelRegistry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}
