package index

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/spainion/contextengine/pkg/math/vector"
)

// hnswNode is one vertex of the layered proximity graph.
type hnswNode struct {
	id        string
	vector    []float32
	level     int
	neighbors [][]string
}

// hnsw is a Hierarchical Navigable Small World index. Inserts wire each new
// vector into every layer up to its sampled level; searches greedily descend
// the layers and run a beam search on the bottom one.
//
// Removals unlink the node but leave the surviving graph slightly degraded,
// so every removal bumps the staleness counter.
type hnsw struct {
	mu   sync.RWMutex
	opts Options
	rng  *rand.Rand

	levelMultiplier float64
	nodes           map[string]*hnswNode
	entryPoint      string
	maxLevel        int
	staleness       int
}

func newHNSW(opts Options) *hnsw {
	return &hnsw{
		opts:            opts,
		rng:             rand.New(rand.NewSource(opts.Seed)),
		levelMultiplier: 1.0 / math.Log(float64(opts.M)),
		nodes:           make(map[string]*hnswNode),
	}
}

func (h *hnsw) Kind() Kind { return KindHNSW }

func (h *hnsw) Add(id string, vec []float32) error {
	if len(vec) != h.opts.Dimensions {
		return ErrDimensionMismatch
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.nodes[id]; exists {
		h.removeLocked(id)
	}

	normalized := vector.Normalize(vec)
	level := h.randomLevel()

	node := &hnswNode{
		id:        id,
		vector:    normalized,
		level:     level,
		neighbors: make([][]string, level+1),
	}
	for i := range node.neighbors {
		node.neighbors[i] = make([]string, 0, h.opts.M)
	}
	h.nodes[id] = node

	if h.entryPoint == "" {
		h.entryPoint = id
		h.maxLevel = level
		return nil
	}

	ep := h.entryPoint
	epLevel := h.nodes[ep].level

	for l := epLevel; l > level; l-- {
		ep = h.greedyStep(normalized, ep, l)
	}

	for l := min(level, epLevel); l >= 0; l-- {
		candidates := h.searchLayer(normalized, ep, h.opts.EfConstruction, l)
		neighbors := h.selectNeighbors(normalized, candidates, h.opts.M)
		node.neighbors[l] = neighbors

		// Connect back, trimming any neighbor that exceeds M links.
		for _, neighborID := range neighbors {
			neighbor := h.nodes[neighborID]
			if len(neighbor.neighbors) <= l {
				continue
			}
			if len(neighbor.neighbors[l]) < h.opts.M {
				neighbor.neighbors[l] = append(neighbor.neighbors[l], id)
			} else {
				extended := append(neighbor.neighbors[l], id)
				neighbor.neighbors[l] = h.selectNeighbors(neighbor.vector, extended, h.opts.M)
			}
		}

		if len(candidates) > 0 {
			ep = candidates[0]
		}
	}

	if level > h.maxLevel {
		h.entryPoint = id
		h.maxLevel = level
	}
	return nil
}

func (h *hnsw) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.nodes[id]; !ok {
		return false
	}
	h.removeLocked(id)
	h.staleness++
	return true
}

// removeLocked unlinks the node from every neighbor list and repairs the
// entry point. Caller must hold the write lock.
func (h *hnsw) removeLocked(id string) {
	node := h.nodes[id]

	for l := 0; l <= node.level; l++ {
		for _, neighborID := range node.neighbors[l] {
			neighbor, ok := h.nodes[neighborID]
			if !ok || len(neighbor.neighbors) <= l {
				continue
			}
			kept := neighbor.neighbors[l][:0]
			for _, nid := range neighbor.neighbors[l] {
				if nid != id {
					kept = append(kept, nid)
				}
			}
			neighbor.neighbors[l] = kept
		}
	}

	delete(h.nodes, id)

	if h.entryPoint == id {
		h.entryPoint = ""
		h.maxLevel = 0
		for nid, n := range h.nodes {
			if h.entryPoint == "" || n.level > h.maxLevel {
				h.maxLevel = n.level
				h.entryPoint = nid
			}
		}
	}
}

func (h *hnsw) Search(query []float32, k int) ([]Result, error) {
	if len(query) != h.opts.Dimensions {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.nodes) == 0 {
		return nil, nil
	}

	normalized := vector.Normalize(query)
	ep := h.entryPoint
	for l := h.maxLevel; l > 0; l-- {
		ep = h.greedyStep(normalized, ep, l)
	}

	ef := h.opts.EfSearch
	if ef < k {
		ef = k
	}
	candidates := h.searchLayer(normalized, ep, ef, 0)

	// Removals can disconnect parts of the graph. Fall back to an exact
	// scan rather than violate the min(k, corpus) contract.
	want := k
	if len(h.nodes) < want {
		want = len(h.nodes)
	}
	if len(candidates) < want {
		return h.scanAll(normalized, k), nil
	}

	results := make([]Result, 0, len(candidates))
	for _, id := range candidates {
		results = append(results, Result{ID: id, Score: vector.DotProduct(normalized, h.nodes[id].vector)})
	}
	sortResults(results)
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (h *hnsw) scanAll(normalized []float32, k int) []Result {
	results := make([]Result, 0, len(h.nodes))
	for id, node := range h.nodes {
		results = append(results, Result{ID: id, Score: vector.DotProduct(normalized, node.vector)})
	}
	sortResults(results)
	if k < len(results) {
		results = results[:k]
	}
	return results
}

func (h *hnsw) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

func (h *hnsw) NeedsRebuild() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.staleness >= h.opts.RebuildThreshold
}

func (h *hnsw) Rebuild() error {
	h.mu.Lock()
	vectors := make(map[string][]float32, len(h.nodes))
	for id, node := range h.nodes {
		vectors[id] = node.vector
	}
	h.nodes = make(map[string]*hnswNode, len(vectors))
	h.entryPoint = ""
	h.maxLevel = 0
	h.staleness = 0
	h.mu.Unlock()

	for id, vec := range vectors {
		if err := h.Add(id, vec); err != nil {
			return err
		}
	}
	return nil
}

// greedyStep descends one layer: repeatedly move to the closest neighbor
// until no neighbor improves on the current position.
func (h *hnsw) greedyStep(query []float32, entryID string, level int) string {
	current := entryID
	currentDist := 1.0 - vector.DotProduct(query, h.nodes[current].vector)

	for {
		improved := false
		for _, neighborID := range h.nodes[current].neighbors[level] {
			neighbor, ok := h.nodes[neighborID]
			if !ok {
				continue
			}
			if dist := 1.0 - vector.DotProduct(query, neighbor.vector); dist < currentDist {
				current = neighborID
				currentDist = dist
				improved = true
			}
		}
		if !improved {
			return current
		}
	}
}

// searchLayer is a beam search over one layer: a min-heap of candidates to
// expand and a bounded max-heap of the best results found so far.
func (h *hnsw) searchLayer(query []float32, entryID string, ef, level int) []string {
	visited := map[string]bool{entryID: true}

	candidates := &distHeap{}
	results := &distHeap{}
	heap.Init(candidates)
	heap.Init(results)

	entryDist := 1.0 - vector.DotProduct(query, h.nodes[entryID].vector)
	heap.Push(candidates, distItem{id: entryID, dist: entryDist})
	heap.Push(results, distItem{id: entryID, dist: entryDist, max: true})

	for candidates.Len() > 0 {
		closest := heap.Pop(candidates).(distItem)
		if results.Len() >= ef && closest.dist > (*results)[0].dist {
			break
		}

		node := h.nodes[closest.id]
		if len(node.neighbors) <= level {
			continue
		}
		for _, neighborID := range node.neighbors[level] {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true

			neighbor, ok := h.nodes[neighborID]
			if !ok {
				continue
			}
			dist := 1.0 - vector.DotProduct(query, neighbor.vector)
			if results.Len() < ef || dist < (*results)[0].dist {
				heap.Push(candidates, distItem{id: neighborID, dist: dist})
				heap.Push(results, distItem{id: neighborID, dist: dist, max: true})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]string, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(distItem).id
	}
	return out
}

// selectNeighbors keeps the m closest candidates to the query vector.
func (h *hnsw) selectNeighbors(query []float32, candidates []string, m int) []string {
	if len(candidates) <= m {
		out := make([]string, len(candidates))
		copy(out, candidates)
		return out
	}

	type scored struct {
		id   string
		dist float64
	}
	dists := make([]scored, len(candidates))
	for i, id := range candidates {
		dists[i] = scored{id: id, dist: 1.0 - vector.DotProduct(query, h.nodes[id].vector)}
	}
	sort.Slice(dists, func(i, j int) bool { return dists[i].dist < dists[j].dist })

	out := make([]string, m)
	for i := 0; i < m; i++ {
		out[i] = dists[i].id
	}
	return out
}

// hnswMaxLevel caps sampled insertion levels. rng.Float64 can return
// exactly 0, whose log would push the geometric sample to +Inf.
const hnswMaxLevel = 32

func (h *hnsw) randomLevel() int {
	sample := -math.Log(h.rng.Float64()) * h.levelMultiplier
	if sample >= hnswMaxLevel {
		return hnswMaxLevel
	}
	return int(sample)
}

// distItem and distHeap implement both the min-heap (candidates) and the
// bounded max-heap (results) used by searchLayer.
type distItem struct {
	id   string
	dist float64
	max  bool
}

type distHeap []distItem

func (d distHeap) Len() int { return len(d) }
func (d distHeap) Less(i, j int) bool {
	if d[i].max {
		return d[i].dist > d[j].dist
	}
	return d[i].dist < d[j].dist
}
func (d distHeap) Swap(i, j int) { d[i], d[j] = d[j], d[i] }

func (d *distHeap) Push(x any) { *d = append(*d, x.(distItem)) }

func (d *distHeap) Pop() any {
	old := *d
	n := len(old)
	x := old[n-1]
	*d = old[:n-1]
	return x
}
