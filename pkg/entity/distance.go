package entity

import (
	"fmt"
	"math"

	"github.com/spainion/contextengine/pkg/math/vector"
)

// DistanceMetric selects how 3D positions are compared.
type DistanceMetric string

const (
	// DistanceEuclidean is sqrt(sum((a-b)^2)).
	DistanceEuclidean DistanceMetric = "euclidean"
	// DistanceManhattan is sum(|a-b|).
	DistanceManhattan DistanceMetric = "manhattan"
	// DistanceChebyshev is max(|a-b|).
	DistanceChebyshev DistanceMetric = "chebyshev"
)

// CosineTo returns the cosine similarity between two nodes' embeddings.
//
// Returns ErrMissingAttribute when either node has no embedding and
// ErrInvalidDimension when the embeddings differ in length. A zero-length
// (all zeros) embedding yields similarity 0, never an error.
func (n *Node) CosineTo(other *Node) (float64, error) {
	if !n.HasEmbedding() || !other.HasEmbedding() {
		return 0, fmt.Errorf("cosine similarity: %w", ErrMissingAttribute)
	}
	if len(n.Embedding) != len(other.Embedding) {
		return 0, fmt.Errorf("cosine similarity: %d vs %d: %w",
			len(n.Embedding), len(other.Embedding), ErrInvalidDimension)
	}
	return vector.CosineSimilarity(n.Embedding, other.Embedding), nil
}

// DistanceTo returns the distance between two nodes' 3D positions under the
// given metric. Returns ErrMissingAttribute when either node has no
// position.
func (n *Node) DistanceTo(other *Node, metric DistanceMetric) (float64, error) {
	if !n.HasPosition() || !other.HasPosition() {
		return 0, fmt.Errorf("position distance: %w", ErrMissingAttribute)
	}
	return PositionDistance(*n.Position, *other.Position, metric)
}

// PositionDistance computes the distance between two coordinates under the
// given metric. An empty metric means Euclidean.
func PositionDistance(a, b Position, metric DistanceMetric) (float64, error) {
	switch metric {
	case DistanceManhattan:
		var sum float64
		for i := range a {
			sum += math.Abs(a[i] - b[i])
		}
		return sum, nil
	case DistanceChebyshev:
		var max float64
		for i := range a {
			if d := math.Abs(a[i] - b[i]); d > max {
				max = d
			}
		}
		return max, nil
	case DistanceEuclidean, "":
		var sum float64
		for i := range a {
			d := a[i] - b[i]
			sum += d * d
		}
		return math.Sqrt(sum), nil
	default:
		return 0, fmt.Errorf("unknown distance metric %q", metric)
	}
}
