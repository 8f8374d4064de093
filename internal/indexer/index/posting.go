package index

// PostingList is the set of record IDs filed under one term. IDs keep the
// order of their first insertion and are stored at most once.
type PostingList[ID comparable] struct {
	ids     []ID
	members map[ID]struct{}
}

func newPostingList[ID comparable]() *PostingList[ID] {
	return &PostingList[ID]{
		ids:     make([]ID, 0, 4),
		members: make(map[ID]struct{}, 4),
	}
}

// add files id and reports whether it was not already present.
func (p *PostingList[ID]) add(id ID) bool {
	if _, ok := p.members[id]; ok {
		return false
	}
	p.members[id] = struct{}{}
	p.ids = append(p.ids, id)
	return true
}

// Contains reports whether id is filed in the list.
func (p *PostingList[ID]) Contains(id ID) bool {
	_, ok := p.members[id]
	return ok
}

// Len returns the number of distinct IDs in the list.
func (p *PostingList[ID]) Len() int {
	return len(p.ids)
}
