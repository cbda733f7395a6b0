// Package vectorspace provides pure batch mathematics over collections of
// embeddings: pairwise similarity matrices, exact nearest-neighbor search,
// clustering (k-means, DBSCAN, hierarchical), dimensionality reduction, and
// corpus statistics.
//
// The package is stateless per call: it holds no ownership over vectors and
// identifies them only by their index in the input slice. Callers that need
// node identities map indices back themselves.
//
// Example:
//
//	corpus := [][]float32{{1, 0}, {0, 1}, {0.9, 0.1}}
//	hits, err := vectorspace.NearestNeighbors([]float32{1, 0}, corpus, 2, vectorspace.MetricCosine)
//	// hits[0].Index == 0 (score 1.0), hits[1].Index == 2
package vectorspace

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/spainion/contextengine/pkg/math/vector"
)

// Errors returned by vectorspace operations.
var (
	// ErrInsufficientData is returned when clustering is requested with
	// fewer vectors than clusters.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidDimension is returned on inconsistent vector lengths or a
	// reduction target larger than the input dimensionality.
	ErrInvalidDimension = errors.New("invalid dimension")

	// ErrUnknownMethod is returned for unrecognized clustering or
	// reduction method names.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrInvalidParameter is returned when an algorithm parameter is out
	// of its valid range.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Metric selects how two embeddings are compared.
type Metric string

const (
	// MetricCosine scores by cosine similarity (higher is closer).
	MetricCosine Metric = "cosine"
	// MetricDot scores by dot product (higher is closer).
	MetricDot Metric = "dot"
	// MetricEuclidean scores by L2 distance (lower is closer).
	MetricEuclidean Metric = "euclidean"
)

// higherBetter reports whether larger scores mean closer vectors.
func (m Metric) higherBetter() bool { return m != MetricEuclidean }

// score computes the pairwise score for the metric.
func (m Metric) score(a, b []float32) float64 {
	switch m {
	case MetricDot:
		return vector.DotProduct(a, b)
	case MetricEuclidean:
		return vector.EuclideanDistance(a, b)
	default:
		return vector.CosineSimilarity(a, b)
	}
}

// parallelThreshold is the corpus size above which matrix rows are computed
// on multiple goroutines.
const parallelThreshold = 64

// checkDimensions verifies all vectors share one length and returns it.
func checkDimensions(vectors [][]float32) (int, error) {
	if len(vectors) == 0 {
		return 0, nil
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("vector %d has %d dimensions, want %d: %w",
				i, len(v), dim, ErrInvalidDimension)
		}
	}
	return dim, nil
}

// SimilarityMatrix computes the pairwise score for every vector pair.
//
// The result is symmetric and the diagonal holds each vector's
// self-similarity (1.0 for cosine on non-zero vectors, 0.0 for Euclidean).
// Large corpora are computed in parallel across rows.
func SimilarityMatrix(vectors [][]float32, metric Metric) ([][]float64, error) {
	if _, err := checkDimensions(vectors); err != nil {
		return nil, err
	}

	n := len(vectors)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
	}

	fillRow := func(i int) {
		for j := i; j < n; j++ {
			s := metric.score(vectors[i], vectors[j])
			matrix[i][j] = s
			matrix[j][i] = s
		}
	}

	if n < parallelThreshold {
		for i := 0; i < n; i++ {
			fillRow(i)
		}
		return matrix, nil
	}

	// Rows get shorter as i grows; the errgroup limit keeps all cores busy
	// without oversubscribing.
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			fillRow(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return matrix, nil
}

// Neighbor is one exact-search result: the vector's index in the input
// corpus and its score under the query metric.
type Neighbor struct {
	Index int
	Score float64
}

// NearestNeighbors returns up to k corpus vectors closest to the query,
// sorted best-first (decreasing similarity or increasing distance). Ties
// break by ascending index so results are deterministic. A k larger than the
// corpus returns the whole corpus; k <= 0 returns nil.
func NearestNeighbors(query []float32, vectors [][]float32, k int, metric Metric) ([]Neighbor, error) {
	dim, err := checkDimensions(vectors)
	if err != nil {
		return nil, err
	}
	if len(vectors) > 0 && len(query) != dim {
		return nil, fmt.Errorf("query has %d dimensions, corpus has %d: %w",
			len(query), dim, ErrInvalidDimension)
	}
	if k <= 0 || len(vectors) == 0 {
		return nil, nil
	}

	scored := make([]Neighbor, len(vectors))
	for i, v := range vectors {
		scored[i] = Neighbor{Index: i, Score: metric.score(query, v)}
	}

	higher := metric.higherBetter()
	sort.Slice(scored, func(a, b int) bool {
		if scored[a].Score != scored[b].Score {
			if higher {
				return scored[a].Score > scored[b].Score
			}
			return scored[a].Score < scored[b].Score
		}
		return scored[a].Index < scored[b].Index
	})

	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// Stats summarizes a corpus of vectors.
type Stats struct {
	Count  int       // number of vectors
	Mean   []float64 // per-dimension mean
	StdDev []float64 // per-dimension population standard deviation
	Norms  []float64 // L2 magnitude of each vector
}

// Statistics computes per-dimension mean and standard deviation plus the
// norm of every vector. An empty corpus yields a zero-valued Stats.
func Statistics(vectors [][]float32) (Stats, error) {
	dim, err := checkDimensions(vectors)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Count: len(vectors)}
	if len(vectors) == 0 {
		return stats, nil
	}

	stats.Mean = make([]float64, dim)
	stats.StdDev = make([]float64, dim)
	stats.Norms = make([]float64, len(vectors))

	for i, v := range vectors {
		stats.Norms[i] = vector.Norm(v)
		for d := 0; d < dim; d++ {
			stats.Mean[d] += float64(v[d])
		}
	}
	for d := 0; d < dim; d++ {
		stats.Mean[d] /= float64(len(vectors))
	}

	for _, v := range vectors {
		for d := 0; d < dim; d++ {
			diff := float64(v[d]) - stats.Mean[d]
			stats.StdDev[d] += diff * diff
		}
	}
	for d := 0; d < dim; d++ {
		stats.StdDev[d] = math.Sqrt(stats.StdDev[d] / float64(len(vectors)))
	}

	return stats, nil
}
