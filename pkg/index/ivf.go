package index

import (
	"sort"
	"sync"

	"github.com/spainion/contextengine/pkg/math/vector"
	"github.com/spainion/contextengine/pkg/vectorspace"
)

// ivf is an inverted-file index: vectors are partitioned by k-means and a
// search only scores the partitions whose centroids are closest to the
// query. Until the corpus reaches the training threshold it scans exactly.
type ivf struct {
	mu   sync.RWMutex
	opts Options

	vectors map[string][]float32 // normalized, source of truth for rebuilds

	trained   bool
	centroids [][]float32
	lists     map[int][]string // partition -> member ids

	staleness int // mutations since the partitions were trained
}

func newIVF(opts Options) *ivf {
	return &ivf{
		opts:    opts,
		vectors: make(map[string][]float32),
		lists:   make(map[int][]string),
	}
}

func (v *ivf) Kind() Kind { return KindIVF }

func (v *ivf) Add(id string, vec []float32) error {
	if len(vec) != v.opts.Dimensions {
		return ErrDimensionMismatch
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.vectors[id]; exists {
		v.removeLocked(id)
	}

	normalized := vector.Normalize(vec)
	v.vectors[id] = normalized

	if v.trained {
		p := v.nearestPartition(normalized)
		v.lists[p] = append(v.lists[p], id)
		v.staleness++
	} else if len(v.vectors) >= v.opts.TrainThreshold {
		v.train()
	}
	return nil
}

func (v *ivf) Remove(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.vectors[id]; !ok {
		return false
	}
	v.removeLocked(id)
	if v.trained {
		v.staleness++
	}
	return true
}

func (v *ivf) removeLocked(id string) {
	delete(v.vectors, id)
	for p, members := range v.lists {
		for i, member := range members {
			if member == id {
				v.lists[p] = append(members[:i], members[i+1:]...)
				return
			}
		}
	}
}

func (v *ivf) Search(query []float32, k int) ([]Result, error) {
	if len(query) != v.opts.Dimensions {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	normalized := vector.Normalize(query)

	if !v.trained {
		return v.scanAll(normalized, k), nil
	}

	want := k
	if len(v.vectors) < want {
		want = len(v.vectors)
	}

	// Rank partitions by centroid similarity, then widen the probe count
	// until enough candidates exist to honor the min(k, corpus) contract.
	type ranked struct {
		partition int
		score     float64
	}
	parts := make([]ranked, len(v.centroids))
	for p, c := range v.centroids {
		parts[p] = ranked{partition: p, score: vector.DotProduct(normalized, c)}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].score > parts[j].score })

	var candidates []string
	probes := v.opts.Probes
	for {
		candidates = candidates[:0]
		limit := probes
		if limit > len(parts) {
			limit = len(parts)
		}
		for _, p := range parts[:limit] {
			candidates = append(candidates, v.lists[p.partition]...)
		}
		if len(candidates) >= want || limit == len(parts) {
			break
		}
		probes *= 2
	}

	results := make([]Result, 0, len(candidates))
	for _, id := range candidates {
		results = append(results, Result{ID: id, Score: vector.DotProduct(normalized, v.vectors[id])})
	}
	sortResults(results)
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (v *ivf) scanAll(normalized []float32, k int) []Result {
	results := make([]Result, 0, len(v.vectors))
	for id, vec := range v.vectors {
		results = append(results, Result{ID: id, Score: vector.DotProduct(normalized, vec)})
	}
	sortResults(results)
	if k < len(results) {
		results = results[:k]
	}
	return results
}

func (v *ivf) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.vectors)
}

func (v *ivf) NeedsRebuild() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.trained && v.staleness >= v.opts.RebuildThreshold
}

func (v *ivf) Rebuild() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.trained = false
	v.lists = make(map[int][]string)
	v.centroids = nil
	v.staleness = 0
	if len(v.vectors) >= v.opts.TrainThreshold {
		v.train()
	}
	return nil
}

// train runs k-means over the current vectors and assigns every vector to
// its nearest centroid. Caller must hold the write lock.
func (v *ivf) train() {
	ids := make([]string, 0, len(v.vectors))
	for id := range v.vectors {
		ids = append(ids, id)
	}
	// Deterministic training input ordering.
	sort.Strings(ids)

	corpus := make([][]float32, len(ids))
	for i, id := range ids {
		corpus[i] = v.vectors[id]
	}

	k := v.opts.Partitions
	if k > len(corpus) {
		k = len(corpus)
	}

	clusters, err := vectorspace.KMeans(corpus, vectorspace.ClusterParams{
		Clusters: k,
		Seed:     v.opts.Seed,
	})
	if err != nil {
		// Not enough data to partition; stay on the exact path.
		return
	}

	v.centroids = make([][]float32, 0, len(clusters))
	v.lists = make(map[int][]string, len(clusters))
	dim := v.opts.Dimensions

	for p := 0; p < len(clusters); p++ {
		members := clusters[p]
		centroid := make([]float32, dim)
		for _, m := range members {
			for d := 0; d < dim; d++ {
				centroid[d] += corpus[m][d]
			}
		}
		for d := 0; d < dim; d++ {
			centroid[d] /= float32(len(members))
		}
		vector.NormalizeInPlace(centroid)
		v.centroids = append(v.centroids, centroid)

		list := make([]string, len(members))
		for i, m := range members {
			list[i] = ids[m]
		}
		v.lists[p] = list
	}

	v.trained = true
	v.staleness = 0
}

func (v *ivf) nearestPartition(normalized []float32) int {
	best, bestScore := 0, -2.0
	for p, c := range v.centroids {
		if s := vector.DotProduct(normalized, c); s > bestScore {
			bestScore = s
			best = p
		}
	}
	return best
}
