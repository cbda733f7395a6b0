package index

import (
	"sync"

	"github.com/spainion/contextengine/pkg/math/vector"
)

// flat is the exact brute-force index. It is the correctness oracle for the
// approximate kinds and the fallback for small corpora.
type flat struct {
	mu      sync.RWMutex
	dim     int
	vectors map[string][]float32
}

func newFlat(opts Options) *flat {
	return &flat{
		dim:     opts.Dimensions,
		vectors: make(map[string][]float32),
	}
}

func (f *flat) Kind() Kind { return KindFlat }

func (f *flat) Add(id string, vec []float32) error {
	if len(vec) != f.dim {
		return ErrDimensionMismatch
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// Store normalized so search reduces to a dot product.
	f.vectors[id] = vector.Normalize(vec)
	return nil
}

func (f *flat) Remove(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.vectors[id]; !ok {
		return false
	}
	delete(f.vectors, id)
	return true
}

func (f *flat) Search(query []float32, k int) ([]Result, error) {
	if len(query) != f.dim {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	normalized := vector.Normalize(query)
	results := make([]Result, 0, len(f.vectors))
	for id, vec := range f.vectors {
		results = append(results, Result{ID: id, Score: vector.DotProduct(normalized, vec)})
	}

	sortResults(results)
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (f *flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// NeedsRebuild is always false: exact search never degrades.
func (f *flat) NeedsRebuild() bool { return false }

// Rebuild is a no-op for the exact index.
func (f *flat) Rebuild() error { return nil }
