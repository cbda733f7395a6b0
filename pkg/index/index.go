// Package index provides nearest-neighbor indexes over embeddings: an exact
// flat index, an inverted-file (IVF) index, and an HNSW graph index.
//
// All three share one interface and one ordering contract — results sorted
// by decreasing cosine similarity, ties by ascending id — so callers can
// swap kinds without behavioral surprises beyond recall. The flat index is
// the correctness oracle; IVF and HNSW trade a bounded amount of recall for
// sub-linear search.
//
// Mutation is incremental. The approximate kinds degrade as vectors are
// removed, so each index tracks a staleness counter and reports
// NeedsRebuild once enough mutations have accumulated; Rebuild reconstructs
// the structure from the retained vectors.
//
// Example:
//
//	idx := index.New(index.Options{Kind: index.KindHNSW, Dimensions: 128})
//	idx.Add("node-1", embedding)
//	hits, err := idx.Search(query, 10)
package index

import (
	"errors"
	"sort"
)

// Errors returned by index operations.
var (
	// ErrDimensionMismatch is returned when a vector's length does not
	// match the index dimensionality.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Kind selects the index structure.
type Kind string

const (
	// KindFlat is exact brute-force search.
	KindFlat Kind = "flat"
	// KindIVF is inverted-file search over k-means partitions.
	KindIVF Kind = "ivf"
	// KindHNSW is graph-based approximate search.
	KindHNSW Kind = "hnsw"
	// KindAuto lets the caller start flat and upgrade once the corpus
	// justifies an approximate structure.
	KindAuto Kind = "auto"
)

// Result is one search hit: a vector id and its cosine similarity to the
// query.
type Result struct {
	ID    string
	Score float64
}

// Index is a nearest-neighbor index over cosine similarity.
//
// Implementations are safe for concurrent use. Search never returns fewer
// than min(k, Len()) results on a non-empty index.
type Index interface {
	// Kind reports the index structure in use.
	Kind() Kind

	// Add inserts or replaces a vector.
	Add(id string, vec []float32) error

	// Remove deletes a vector. Returns false when the id is absent.
	Remove(id string) bool

	// Search returns the k most similar vectors, best first.
	Search(query []float32, k int) ([]Result, error)

	// Len returns the number of indexed vectors.
	Len() int

	// NeedsRebuild reports whether accumulated mutations have degraded
	// the structure enough that a rebuild is recommended.
	NeedsRebuild() bool

	// Rebuild reconstructs the index from its retained vectors and
	// resets staleness.
	Rebuild() error
}

// Options configures any index kind. Zero values select defaults.
type Options struct {
	// Dimensions is the fixed vector length. Required.
	Dimensions int

	// Kind selects the structure. Unknown kinds (and KindAuto) resolve
	// to flat, which keeps the exact-search contract as the fallback.
	Kind Kind

	// Partitions is the IVF cluster count (default 16).
	Partitions int
	// Probes is how many IVF partitions a search visits (default 4).
	Probes int
	// TrainThreshold is the minimum corpus size before IVF trains its
	// partitions; below it the index scans exactly (default 64).
	TrainThreshold int

	// M is the HNSW max connections per node per layer (default 16).
	M int
	// EfConstruction is the HNSW candidate list size at insert (default 200).
	EfConstruction int
	// EfSearch is the HNSW candidate list size at query (default 100).
	EfSearch int

	// RebuildThreshold is the mutation count after which NeedsRebuild
	// reports true for the approximate kinds (default 256).
	RebuildThreshold int

	// Seed drives HNSW level assignment and IVF training for
	// reproducible structures.
	Seed int64
}

func (o Options) withDefaults() Options {
	if o.Partitions <= 0 {
		o.Partitions = 16
	}
	if o.Probes <= 0 {
		o.Probes = 4
	}
	if o.TrainThreshold <= 0 {
		o.TrainThreshold = 64
	}
	if o.M <= 0 {
		o.M = 16
	}
	if o.EfConstruction <= 0 {
		o.EfConstruction = 200
	}
	if o.EfSearch <= 0 {
		o.EfSearch = 100
	}
	if o.RebuildThreshold <= 0 {
		o.RebuildThreshold = 256
	}
	return o
}

// New builds an index of the requested kind. KindAuto and unrecognized
// kinds return a flat index; an accelerated structure that cannot be built
// never surfaces as an error, only as the exact path's latency.
func New(opts Options) Index {
	opts = opts.withDefaults()
	switch opts.Kind {
	case KindIVF:
		return newIVF(opts)
	case KindHNSW:
		return newHNSW(opts)
	default:
		return newFlat(opts)
	}
}

// Build constructs an index of the requested kind pre-populated with the
// given vectors.
func Build(opts Options, vectors map[string][]float32) (Index, error) {
	idx := New(opts)
	for id, vec := range vectors {
		if err := idx.Add(id, vec); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// sortResults applies the shared ordering contract: decreasing score, ties
// by ascending id.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}
