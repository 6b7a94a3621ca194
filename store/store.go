package store

import (
	"context"
	"encoding/json"
)

// Filter is a single query condition on a document field. Only the "=="
// operator is supported by both backends.
type Filter struct {
	Field string
	Op    string
	Value any
}

// DocumentStore is the narrow persistence surface the core depends on.
// Calls never fail loudly: a failed write reports false, a failed read
// reports nil/empty, and the caller continues on in-memory state. The
// in-memory duel registry stays authoritative until the next successful
// persist.
type DocumentStore interface {
	Create(ctx context.Context, collection, id string, data any) bool
	Get(ctx context.Context, collection, id string) json.RawMessage
	Update(ctx context.Context, collection, id string, data any) bool
	Delete(ctx context.Context, collection, id string) bool
	Query(ctx context.Context, collection string, filters []Filter) []json.RawMessage

	// Subcollections hold append-only per-document logs (duel answers).
	AddToSubcollection(ctx context.Context, collection, id, subname string, item any) string
	GetSubcollection(ctx context.Context, collection, id, subname string) []json.RawMessage
}
