package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps documents in process memory. It backs local development
// when no DATABASE_URL is configured, and the test suite.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]json.RawMessage
	subs        map[string][]json.RawMessage // collection/doc_id/subname -> items
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]json.RawMessage),
		subs:        make(map[string][]json.RawMessage),
	}
}

func subKey(collection, id, subname string) string {
	return collection + "/" + id + "/" + subname
}

func (s *MemoryStore) Create(_ context.Context, collection, id string, data any) bool {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Printf("[store] failed to marshal %s/%s: %v", collection, id, err)
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]json.RawMessage)
	}
	s.collections[collection][id] = raw
	return true
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.collections[collection][id]
	if !ok {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, data any) bool {
	return s.Create(ctx, collection, id, data)
}

func (s *MemoryStore) Delete(_ context.Context, collection, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.collections[collection]
	if !ok {
		return false
	}
	if _, ok := docs[id]; !ok {
		return false
	}
	delete(docs, id)
	return true
}

func (s *MemoryStore) Query(_ context.Context, collection string, filters []Filter) []json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []json.RawMessage
	for _, raw := range s.collections[collection] {
		if matchesFilters(raw, filters) {
			out := make(json.RawMessage, len(raw))
			copy(out, raw)
			results = append(results, out)
		}
	}
	return results
}

func matchesFilters(raw json.RawMessage, filters []Filter) bool {
	if len(filters) == 0 {
		return true
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	for _, f := range filters {
		if f.Op != "==" {
			log.Printf("[store] unsupported query operator %q, skipping filter", f.Op)
			continue
		}
		if fmt.Sprint(doc[f.Field]) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

func (s *MemoryStore) AddToSubcollection(_ context.Context, collection, id, subname string, item any) string {
	raw, err := json.Marshal(item)
	if err != nil {
		log.Printf("[store] failed to marshal %s/%s/%s item: %v", collection, id, subname, err)
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := subKey(collection, id, subname)
	s.subs[key] = append(s.subs[key], raw)
	return uuid.NewString()
}

func (s *MemoryStore) GetSubcollection(_ context.Context, collection, id, subname string) []json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.subs[subKey(collection, id, subname)]
	out := make([]json.RawMessage, len(items))
	for i, raw := range items {
		cp := make(json.RawMessage, len(raw))
		copy(cp, raw)
		out[i] = cp
	}
	return out
}
