package index_test

import (
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/internal/indexer/index"
	"github.com/stretchr/testify/assert"
)

func TestMemoryIndex_SearchIsAND(t *testing.T) {
	t.Parallel()

	mi := index.NewMemoryIndex[string]()
	mi.Insert("A", []string{"brain", "injury"})
	mi.Insert("B", []string{"destruction", "brain", "open"})

	assert.Equal(t, []string{"B"}, mi.Search([]string{"brain", "destruction"}, 0))
	assert.Equal(t, []string{"B"}, mi.Search([]string{"destruction", "brain"}, 0))
	assert.Equal(t, []string{"A", "B"}, mi.Search([]string{"brain"}, 0))
}

func TestMemoryIndex_SearchMisses(t *testing.T) {
	t.Parallel()

	mi := index.NewMemoryIndex[int]()
	mi.Insert(1, []string{"cholera"})
	mi.Insert(2, []string{"typhoid"})

	assert.Nil(t, mi.Search(nil, 0), "no terms")
	assert.Nil(t, mi.Search([]string{"plague"}, 0), "unknown first term")
	assert.Nil(t, mi.Search([]string{"cholera", "plague"}, 0), "unknown later term")
	assert.Nil(t, mi.Search([]string{"cholera", "typhoid"}, 0), "empty intersection")
}

func TestMemoryIndex_PostingsAreSets(t *testing.T) {
	t.Parallel()

	mi := index.NewMemoryIndex[int]()
	mi.Insert(7, []string{"fracture", "fracture", "femur"})
	mi.Insert(7, []string{"fracture"})

	assert.Equal(t, []int{7}, mi.Search([]string{"fracture"}, 0))
	assert.Equal(t, 2, mi.Terms())
	assert.Equal(t, 2, mi.Freeze().Postings())
}

func TestMemoryIndex_InsertionOrderAndLimit(t *testing.T) {
	t.Parallel()

	mi := index.NewMemoryIndex[int]()
	for i := 0; i < 20; i++ {
		terms := []string{"fracture"}
		if i%2 == 0 {
			terms = append(terms, "femur")
		}
		mi.Insert(i, terms)
	}

	got := mi.Search([]string{"fracture", "femur"}, 5)
	assert.Equal(t, []int{0, 2, 4, 6, 8}, got)

	all := mi.Search([]string{"fracture", "femur"}, 0)
	assert.Len(t, all, 10)
}

func TestMemoryIndex_RepeatedQueryTerm(t *testing.T) {
	t.Parallel()

	mi := index.NewMemoryIndex[int]()
	mi.Insert(1, []string{"appendix"})

	assert.Equal(t, []int{1}, mi.Search([]string{"appendix", "appendix"}, 0))
}

func TestFreeze_DetachesFromBuilder(t *testing.T) {
	t.Parallel()

	mi := index.NewMemoryIndex[int]()
	mi.Insert(1, []string{"resection", "appendix"})
	mi.Insert(2, []string{"resection"})
	f := mi.Freeze()

	mi.Insert(3, []string{"resection"})

	assert.Equal(t, []int{1, 2}, f.Search([]string{"resection"}, 0))
	assert.Equal(t, []int{1}, f.Search([]string{"resection", "appendix"}, 0))
	assert.Nil(t, f.Search([]string{"missing"}, 0))
	assert.Equal(t, 2, f.Terms())
	assert.Equal(t, 3, f.Postings())
	assert.Equal(t, []int{3}, mi.Search([]string{"resection"}, 0), "builder starts over after Freeze")
}

func TestFrozen_ConcurrentReads(t *testing.T) {
	t.Parallel()

	mi := index.NewMemoryIndex[int]()
	for i := 0; i < 100; i++ {
		mi.Insert(i, []string{"common", fmt.Sprintf("term%d", i%10)})
	}

	f := mi.Freeze()
	done := make(chan []int, 8)
	for g := 0; g < 8; g++ {
		go func() {
			done <- f.Search([]string{"common", "term3"}, 0)
		}()
	}
	for g := 0; g < 8; g++ {
		assert.Len(t, <-done, 10)
	}
}

func BenchmarkMemoryIndexSearch(b *testing.B) {
	mi := index.NewMemoryIndex[int]()
	words := []string{"fracture", "femur", "closed", "open", "initial", "encounter", "right", "left"}
	for i := 0; i < 50000; i++ {
		mi.Insert(i, []string{words[i%len(words)], words[(i+3)%len(words)], words[(i+5)%len(words)]})
	}
	f := mi.Freeze()
	query := []string{"fracture", "open"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = f.Search(query, 5)
	}
}

func BenchmarkMemoryIndexInsert(b *testing.B) {
	mi := index.NewMemoryIndex[int]()
	terms := []string{"bypass", "cerebral", "ventricle", "nasopharynx", "autologous", "tissue"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mi.Insert(i, terms)
	}
}
