package vectorspace

import (
	"fmt"
	"math"
	"math/rand"
)

const (
	defaultKMeansIterations = 100
	defaultKMeansTolerance  = 1e-4
)

// KMeans partitions the vectors into params.Clusters groups using Lloyd's
// algorithm.
//
// Seeding is k-means++ unless params.RandomInit is set; both are driven by
// params.Seed, so a fixed seed yields identical clusters on every run.
// Iteration stops when no centroid moves more than params.Tolerance or
// params.MaxIterations is reached. Every returned cluster is non-empty and
// the clusters partition the input.
func KMeans(vectors [][]float32, params ClusterParams) (map[int][]int, error) {
	k := params.Clusters
	if k <= 0 {
		return nil, fmt.Errorf("kmeans: %d clusters requested: %w", k, ErrInsufficientData)
	}
	if len(vectors) < k {
		return nil, fmt.Errorf("kmeans: %d vectors for %d clusters: %w",
			len(vectors), k, ErrInsufficientData)
	}

	maxIter := params.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultKMeansIterations
	}
	tol := params.Tolerance
	if tol <= 0 {
		tol = defaultKMeansTolerance
	}

	dim := len(vectors[0])
	rng := rand.New(rand.NewSource(params.Seed))

	var centroids [][]float64
	if params.RandomInit {
		centroids = randomInit(vectors, k, rng)
	} else {
		centroids = plusPlusInit(vectors, k, rng)
	}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < maxIter; iter++ {
		for i, v := range vectors {
			assignments[i] = nearestCentroid(v, centroids)
		}

		next := make([][]float64, k)
		counts := make([]int, k)
		for c := range next {
			next[c] = make([]float64, dim)
		}
		for i, v := range vectors {
			c := assignments[i]
			counts[c]++
			for d := 0; d < dim; d++ {
				next[c][d] += float64(v[d])
			}
		}

		var moved float64
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Reseed a dead centroid from a random point so no
				// cluster stays empty.
				p := vectors[rng.Intn(len(vectors))]
				for d := 0; d < dim; d++ {
					next[c][d] = float64(p[d])
				}
			} else {
				for d := 0; d < dim; d++ {
					next[c][d] /= float64(counts[c])
				}
			}
			if delta := centroidShift(centroids[c], next[c]); delta > moved {
				moved = delta
			}
		}
		centroids = next

		if moved < tol {
			break
		}
	}

	// Final assignment against the converged centroids.
	for i, v := range vectors {
		assignments[i] = nearestCentroid(v, centroids)
	}
	repairEmptyClusters(vectors, centroids, assignments, k)

	clusters := make(map[int][]int, k)
	for i, c := range assignments {
		clusters[c] = append(clusters[c], i)
	}
	return clusters, nil
}

func randomInit(vectors [][]float32, k int, rng *rand.Rand) [][]float64 {
	perm := rng.Perm(len(vectors))
	centroids := make([][]float64, k)
	for i := 0; i < k; i++ {
		centroids[i] = toFloat64(vectors[perm[i]])
	}
	return centroids
}

// plusPlusInit implements k-means++ seeding: each subsequent centroid is
// sampled with probability proportional to its squared distance from the
// nearest centroid chosen so far.
func plusPlusInit(vectors [][]float32, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, toFloat64(vectors[rng.Intn(len(vectors))]))

	dists := make([]float64, len(vectors))
	for len(centroids) < k {
		var total float64
		for i, v := range vectors {
			best := math.Inf(1)
			for _, c := range centroids {
				if d := sqDistTo(v, c); d < best {
					best = d
				}
			}
			dists[i] = best
			total += best
		}

		if total == 0 {
			// All remaining points coincide with a centroid; fall back
			// to picking any point.
			centroids = append(centroids, toFloat64(vectors[rng.Intn(len(vectors))]))
			continue
		}

		target := rng.Float64() * total
		idx := 0
		for i, d := range dists {
			target -= d
			if target <= 0 {
				idx = i
				break
			}
		}
		centroids = append(centroids, toFloat64(vectors[idx]))
	}
	return centroids
}

// repairEmptyClusters moves, for each empty cluster, the point farthest from
// its current centroid into the empty cluster. Keeps the partition property
// for degenerate corpora.
func repairEmptyClusters(vectors [][]float32, centroids [][]float64, assignments []int, k int) {
	counts := make([]int, k)
	for _, c := range assignments {
		counts[c]++
	}
	for c := 0; c < k; c++ {
		if counts[c] > 0 {
			continue
		}
		farthest, farDist := -1, -1.0
		for i, v := range vectors {
			if counts[assignments[i]] <= 1 {
				continue
			}
			if d := sqDistTo(v, centroids[assignments[i]]); d > farDist {
				farDist = d
				farthest = i
			}
		}
		if farthest >= 0 {
			counts[assignments[farthest]]--
			assignments[farthest] = c
			counts[c]++
		}
	}
}

func nearestCentroid(v []float32, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDistTo(v, centroid); d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

func centroidShift(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func sqDistTo(v []float32, centroid []float64) float64 {
	var sum float64
	for i := range v {
		d := float64(v[i]) - centroid[i]
		sum += d * d
	}
	return sum
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
