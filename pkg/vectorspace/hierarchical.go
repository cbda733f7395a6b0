package vectorspace

import (
	"fmt"
	"math"

	"github.com/spainion/contextengine/pkg/math/vector"
)

// Linkage selects the inter-cluster distance used by agglomerative merging.
type Linkage string

const (
	// LinkageSingle merges by the minimum pairwise distance.
	LinkageSingle Linkage = "single"
	// LinkageComplete merges by the maximum pairwise distance.
	LinkageComplete Linkage = "complete"
	// LinkageAverage merges by the size-weighted mean distance.
	LinkageAverage Linkage = "average"
	// LinkageWard merges by minimum within-cluster variance increase.
	LinkageWard Linkage = "ward"
)

// Hierarchical runs bottom-up agglomerative clustering and cuts the
// dendrogram into params.Clusters flat groups.
//
// Each vector starts as its own cluster; the two closest clusters merge
// repeatedly (Lance-Williams distance updates) until the target count
// remains. Ward linkage operates on squared Euclidean distances, the other
// linkages on plain Euclidean.
func Hierarchical(vectors [][]float32, params ClusterParams) (map[int][]int, error) {
	target := params.Clusters
	if target <= 0 {
		return nil, fmt.Errorf("hierarchical: %d clusters requested: %w", target, ErrInsufficientData)
	}
	if len(vectors) < target {
		return nil, fmt.Errorf("hierarchical: %d vectors for %d clusters: %w",
			len(vectors), target, ErrInsufficientData)
	}

	linkage := params.Linkage
	if linkage == "" {
		linkage = LinkageAverage
	}
	switch linkage {
	case LinkageSingle, LinkageComplete, LinkageAverage, LinkageWard:
	default:
		return nil, fmt.Errorf("hierarchical linkage %q: %w", linkage, ErrUnknownMethod)
	}

	n := len(vectors)
	squared := linkage == LinkageWard

	// Pairwise distance matrix between live clusters.
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := vector.SquaredDistance(vectors[i], vectors[j])
			if !squared {
				d = math.Sqrt(d)
			}
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	members := make(map[int][]int, n)
	sizes := make(map[int]int, n)
	for i := 0; i < n; i++ {
		members[i] = []int{i}
		sizes[i] = 1
	}

	for len(members) > target {
		// Find the closest live pair; scan order keeps ties deterministic.
		bestI, bestJ, bestD := -1, -1, math.Inf(1)
		for i := range dist {
			if _, live := members[i]; !live {
				continue
			}
			for j := i + 1; j < n; j++ {
				if _, live := members[j]; !live {
					continue
				}
				if dist[i][j] < bestD {
					bestD = dist[i][j]
					bestI, bestJ = i, j
				}
			}
		}

		// Merge bestJ into bestI, then refresh bestI's distances via the
		// Lance-Williams update for the chosen linkage.
		ni, nj := float64(sizes[bestI]), float64(sizes[bestJ])
		for k := range members {
			if k == bestI || k == bestJ {
				continue
			}
			dik, djk := dist[bestI][k], dist[bestJ][k]
			var d float64
			switch linkage {
			case LinkageSingle:
				d = math.Min(dik, djk)
			case LinkageComplete:
				d = math.Max(dik, djk)
			case LinkageAverage:
				d = (ni*dik + nj*djk) / (ni + nj)
			case LinkageWard:
				nk := float64(sizes[k])
				d = ((ni+nk)*dik + (nj+nk)*djk - nk*dist[bestI][bestJ]) / (ni + nj + nk)
			}
			dist[bestI][k] = d
			dist[k][bestI] = d
		}

		members[bestI] = append(members[bestI], members[bestJ]...)
		sizes[bestI] += sizes[bestJ]
		delete(members, bestJ)
		delete(sizes, bestJ)
	}

	// Renumber surviving clusters densely, smallest original id first.
	clusters := make(map[int][]int, target)
	id := 0
	for i := 0; i < n; i++ {
		if group, ok := members[i]; ok {
			clusters[id] = group
			id++
		}
	}
	return clusters, nil
}
