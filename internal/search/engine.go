// Package search provides a small general-purpose full-text engine: an
// inverted index over arbitrary IDs paired with a store of the original
// objects. Queries are AND-matched after stop-word removal.
package search

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/indexer/tokenizer"
)

// Engine indexes text under IDs and optionally keeps the object each ID
// stands for.
type Engine[ID comparable, T any] struct {
	index *index.MemoryIndex[ID]
	mu    sync.RWMutex
	store map[ID]T
}

// New returns an empty Engine.
func New[ID comparable, T any]() *Engine[ID, T] {
	return &Engine[ID, T]{
		index: index.NewMemoryIndex[ID](),
		store: make(map[ID]T),
	}
}

// Add indexes text under id without storing an object.
func (e *Engine[ID, T]) Add(id ID, text string) {
	e.index.Insert(id, tokenizer.Unique(tokenizer.Analyze(text)))
}

// AddObject indexes text under id and stores obj as the value returned by
// Search.
func (e *Engine[ID, T]) AddObject(id ID, text string, obj T) {
	e.Add(id, text)
	e.mu.Lock()
	e.store[id] = obj
	e.mu.Unlock()
}

// SearchIDs returns the IDs whose text contains every query term.
func (e *Engine[ID, T]) SearchIDs(query string) []ID {
	return e.index.Search(tokenizer.Analyze(query), 0)
}

// Search returns the stored objects whose text contains every query term.
// Matching IDs added without an object are skipped.
func (e *Engine[ID, T]) Search(query string) []T {
	ids := e.SearchIDs(query)
	if len(ids) == 0 {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if obj, ok := e.store[id]; ok {
			out = append(out, obj)
		}
	}
	return out
}

// Field extracts one searchable value from an item.
type Field[T any] func(item T) any

// FromSlice builds an Engine over items. Each item is keyed by idOf and
// indexed under the space-joined string form of every field.
func FromSlice[ID comparable, T any](items []T, idOf func(T) ID, fields ...Field[T]) *Engine[ID, T] {
	e := New[ID, T]()
	parts := make([]string, len(fields))
	for _, item := range items {
		for i, f := range fields {
			parts[i] = fmt.Sprint(f(item))
		}
		e.AddObject(idOf(item), strings.Join(parts, " "), item)
	}
	return e
}
