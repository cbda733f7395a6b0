package vectorspace

import (
	"fmt"

	"github.com/spainion/contextengine/pkg/math/vector"
)

// NoiseCluster is the reserved cluster id for DBSCAN points that are not
// density-reachable from any core point. It is never merged into a real
// cluster.
const NoiseCluster = -1

// DBSCAN clusters the vectors by density. A point with at least
// params.MinSamples neighbors within Euclidean distance params.Eps
// (including itself) is a core point; clusters grow outward from core points
// and everything unreachable lands in NoiseCluster.
func DBSCAN(vectors [][]float32, params ClusterParams) (map[int][]int, error) {
	if params.Eps <= 0 {
		return nil, fmt.Errorf("dbscan: eps must be positive, got %v: %w", params.Eps, ErrInvalidParameter)
	}
	minSamples := params.MinSamples
	if minSamples <= 0 {
		minSamples = 1
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("dbscan: empty corpus: %w", ErrInsufficientData)
	}

	const (
		unvisited = -2
		noise     = NoiseCluster
	)

	labels := make([]int, len(vectors))
	for i := range labels {
		labels[i] = unvisited
	}

	epsSq := params.Eps * params.Eps
	regionQuery := func(i int) []int {
		var hits []int
		for j := range vectors {
			if vector.SquaredDistance(vectors[i], vectors[j]) <= epsSq {
				hits = append(hits, j)
			}
		}
		return hits
	}

	next := 0
	for i := range vectors {
		if labels[i] != unvisited {
			continue
		}

		neighbors := regionQuery(i)
		if len(neighbors) < minSamples {
			labels[i] = noise
			continue
		}

		cluster := next
		next++
		labels[i] = cluster

		// Expand: seed list grows as new core points are found.
		for cursor := 0; cursor < len(neighbors); cursor++ {
			j := neighbors[cursor]
			if labels[j] == noise {
				labels[j] = cluster // border point, reachable from a core
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster

			jNeighbors := regionQuery(j)
			if len(jNeighbors) >= minSamples {
				neighbors = append(neighbors, jNeighbors...)
			}
		}
	}

	clusters := make(map[int][]int)
	for i, label := range labels {
		clusters[label] = append(clusters[label], i)
	}
	return clusters, nil
}
