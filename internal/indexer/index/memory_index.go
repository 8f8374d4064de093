// Package index implements the in-memory inverted index shared by the
// generic search engine and the code lookup engine. Terms map to ordered
// posting sets of record identifiers; multi-term searches intersect them.
package index

import "sync"

type postings[ID comparable] map[string]*PostingList[ID]

// MemoryIndex maps terms to posting sets of IDs. Callers tokenize before
// calling Insert or Search so that each engine can apply its own analysis.
type MemoryIndex[ID comparable] struct {
	mu    sync.RWMutex
	index postings[ID]
	pairs int
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex[ID comparable]() *MemoryIndex[ID] {
	return &MemoryIndex[ID]{index: make(postings[ID])}
}

// Insert files id under every term. Repeated terms, and repeated inserts of
// the same id under a term, are stored once.
func (m *MemoryIndex[ID]) Insert(id ID, terms []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, term := range terms {
		pl, ok := m.index[term]
		if !ok {
			pl = newPostingList[ID]()
			m.index[term] = pl
		}
		if pl.add(id) {
			m.pairs++
		}
	}
}

// Search returns the IDs filed under every one of terms. Results follow the
// insertion order of the first term's postings. A limit above zero stops the
// scan once that many matches are found. No terms, or any term without
// postings, yields nil.
func (m *MemoryIndex[ID]) Search(terms []string, limit int) []ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index.search(terms, limit)
}

// Terms returns the number of distinct terms.
func (m *MemoryIndex[ID]) Terms() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index)
}

// Freeze hands the built postings to a read-only Frozen view and leaves m
// empty, so later inserts into m never reach the view.
func (m *MemoryIndex[ID]) Freeze() *Frozen[ID] {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := &Frozen[ID]{index: m.index, pairs: m.pairs}
	m.index = make(postings[ID])
	m.pairs = 0
	return f
}

// Frozen is an index that no longer accepts inserts. Reads take no lock.
type Frozen[ID comparable] struct {
	index postings[ID]
	pairs int
}

// Search behaves like MemoryIndex.Search.
func (f *Frozen[ID]) Search(terms []string, limit int) []ID {
	return f.index.search(terms, limit)
}

// Terms returns the number of distinct terms.
func (f *Frozen[ID]) Terms() int {
	return len(f.index)
}

// Postings returns the total number of (term, id) pairs.
func (f *Frozen[ID]) Postings() int {
	return f.pairs
}

func (p postings[ID]) search(terms []string, limit int) []ID {
	if len(terms) == 0 {
		return nil
	}
	first, ok := p[terms[0]]
	if !ok {
		return nil
	}
	rest := make([]*PostingList[ID], 0, len(terms)-1)
	for _, term := range terms[1:] {
		pl, ok := p[term]
		if !ok {
			return nil
		}
		if pl != first {
			rest = append(rest, pl)
		}
	}

	capHint := first.Len()
	if limit > 0 && limit < capHint {
		capHint = limit
	}
	result := make([]ID, 0, capHint)
	for _, id := range first.ids {
		if !inAll(id, rest) {
			continue
		}
		result = append(result, id)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func inAll[ID comparable](id ID, lists []*PostingList[ID]) bool {
	for _, pl := range lists {
		if !pl.Contains(id) {
			return false
		}
	}
	return true
}
