package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func TestMemoryStoreCRUD(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.True(t, s.Create(ctx, "docs", "a", testDoc{Name: "first", Status: "active"}))

	raw := s.Get(ctx, "docs", "a")
	require.NotNil(t, raw)
	var doc testDoc
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "first", doc.Name)

	require.True(t, s.Update(ctx, "docs", "a", testDoc{Name: "second", Status: "done"}))
	require.NoError(t, json.Unmarshal(s.Get(ctx, "docs", "a"), &doc))
	assert.Equal(t, "second", doc.Name)

	assert.Nil(t, s.Get(ctx, "docs", "missing"))
	assert.Nil(t, s.Get(ctx, "nope", "a"))

	assert.True(t, s.Delete(ctx, "docs", "a"))
	assert.Nil(t, s.Get(ctx, "docs", "a"))
	assert.False(t, s.Delete(ctx, "docs", "a"))
}

func TestMemoryStoreQuery(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Create(ctx, "docs", "a", testDoc{Name: "a", Status: "active"})
	s.Create(ctx, "docs", "b", testDoc{Name: "b", Status: "done"})
	s.Create(ctx, "docs", "c", testDoc{Name: "c", Status: "active"})

	results := s.Query(ctx, "docs", []Filter{{Field: "status", Op: "==", Value: "active"}})
	assert.Len(t, results, 2)

	all := s.Query(ctx, "docs", nil)
	assert.Len(t, all, 3)

	none := s.Query(ctx, "docs", []Filter{{Field: "status", Op: "==", Value: "archived"}})
	assert.Empty(t, none)
}

func TestMemoryStoreSubcollections(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	assert.Empty(t, s.GetSubcollection(ctx, "docs", "a", "items"))

	id1 := s.AddToSubcollection(ctx, "docs", "a", "items", testDoc{Name: "one"})
	id2 := s.AddToSubcollection(ctx, "docs", "a", "items", testDoc{Name: "two"})
	assert.NotEmpty(t, id1)
	assert.NotEmpty(t, id2)
	assert.NotEqual(t, id1, id2)

	items := s.GetSubcollection(ctx, "docs", "a", "items")
	require.Len(t, items, 2)
	var first testDoc
	require.NoError(t, json.Unmarshal(items[0], &first))
	assert.Equal(t, "one", first.Name, "insertion order is preserved")

	// Items are scoped by parent document and subcollection name.
	assert.Empty(t, s.GetSubcollection(ctx, "docs", "b", "items"))
	assert.Empty(t, s.GetSubcollection(ctx, "docs", "a", "other"))
}
