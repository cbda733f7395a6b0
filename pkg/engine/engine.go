// Package engine implements the context engine: an in-process knowledge
// store of content-deduplicated nodes connected by typed, weighted edges.
//
// The engine is the authoritative owner of all nodes and edges. Nodes are
// content-addressed: adding content that hashes to an existing node returns
// that node unchanged rather than storing a duplicate. Edges must reference
// existing nodes at creation time, and node deletion cascades to every
// incident edge, so the graph never contains dangling references.
//
// On top of the graph it exposes similarity search (exact or accelerated by
// an approximate index), breadth-first neighbor traversal, simple-path
// enumeration, 3D spatial radius queries, and embedding clustering. Results
// of the expensive queries are memoized in an LRU cache keyed by the query
// parameters and the current embedding epoch, so a mutation never serves a
// stale cached answer.
//
// Example Usage:
//
//	eng, err := engine.New(engine.Options{Dimensions: 2})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer eng.Close()
//
//	cat, _ := eng.AddNode("cat", "animal", nil, []float32{1, 0})
//	dog, _ := eng.AddNode("dog", "animal", nil, []float32{0, 1})
//	eng.AddEdge(cat.ID, dog.ID, "chases", 0.9, true, nil)
//
//	matches, _ := eng.FindSimilar([]float32{1, 0}, 2, 0.5)
//	for _, m := range matches {
//		fmt.Printf("%v (%.2f)\n", m.Node.Content, m.Score)
//	}
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Mutations take the write
//	lock; queries share the read lock.
package engine

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spainion/contextengine/pkg/cache"
	"github.com/spainion/contextengine/pkg/config"
	"github.com/spainion/contextengine/pkg/entity"
	"github.com/spainion/contextengine/pkg/index"
)

// Options configures a new engine instance.
type Options struct {
	// Dimensions is the embedding dimensionality, fixed for the lifetime
	// of the instance. Required.
	Dimensions int

	// Index selects the similarity index structure. KindAuto (the zero
	// default) starts flat and stays exact.
	Index index.Kind

	// IndexOptions tunes the index beyond its kind. The Dimensions and
	// Kind fields are overwritten from this struct.
	IndexOptions index.Options

	// Cache configures the query memoization layer.
	Cache cache.Options

	// Logger receives structured diagnostics. Defaults to zap.NewNop.
	Logger *zap.Logger
}

// OptionsFromConfig maps a loaded configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Dimensions: cfg.Dimensions,
		Index:      index.Kind(cfg.IndexKind),
		Cache: cache.Options{
			MaxEntries: cfg.Cache.MaxEntries,
			MaxBytes:   cfg.Cache.MaxBytes,
			DefaultTTL: cfg.Cache.TTL,
			SpillDir:   cfg.Cache.SpillDir,
		},
	}
}

// Engine is the context engine instance. See the package documentation for
// the full contract.
type Engine struct {
	mu     sync.RWMutex
	closed bool

	dims int

	nodes  map[entity.NodeID]*entity.Node
	byHash map[string]entity.NodeID
	edges  map[entity.EdgeID]*entity.Edge

	// Adjacency lists. Every edge id appears once in outgoing under its
	// source and once in incoming under its target; undirected edges are
	// stored once and made bidirectional at traversal time.
	outgoing map[entity.NodeID][]entity.EdgeID
	incoming map[entity.NodeID][]entity.EdgeID

	// epoch counts mutations to the embedding set. It is folded into
	// every similarity and clustering cache key, so stale entries become
	// unreachable instead of being swept eagerly.
	epoch uint64

	idx   index.Index
	cache *cache.Cache
	sf    singleflight.Group
	log   *zap.Logger
}

// New creates an engine with the given options.
func New(opts Options) (*Engine, error) {
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", entity.ErrInvalidDimension)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	idxOpts := opts.IndexOptions
	idxOpts.Dimensions = opts.Dimensions
	idxOpts.Kind = opts.Index

	cacheOpts := opts.Cache
	if cacheOpts.Logger == nil {
		cacheOpts.Logger = log
	}
	qc, err := cache.New(cacheOpts)
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}

	eng := &Engine{
		dims:     opts.Dimensions,
		nodes:    make(map[entity.NodeID]*entity.Node),
		byHash:   make(map[string]entity.NodeID),
		edges:    make(map[entity.EdgeID]*entity.Edge),
		outgoing: make(map[entity.NodeID][]entity.EdgeID),
		incoming: make(map[entity.NodeID][]entity.EdgeID),
		idx:      index.New(idxOpts),
		cache:    qc,
		log:      log,
	}

	log.Info("context engine ready",
		zap.Int("dimensions", opts.Dimensions),
		zap.String("index", string(eng.idx.Kind())))
	return eng, nil
}

// Close releases the engine's resources. The engine rejects all operations
// afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.cache.Close()
}

// AddNode stores a content item and returns its node. If content with the
// same hash already exists, the existing node is returned unchanged and no
// new node is created. The embedding may be nil and attached later with
// SetEmbedding.
func (e *Engine) AddNode(content any, nodeType string, metadata entity.Metadata, embedding []float32) (*entity.Node, error) {
	if err := metadata.Validate(); err != nil {
		return nil, err
	}
	if embedding != nil && len(embedding) != e.dims {
		return nil, fmt.Errorf("%w: embedding has %d dimensions, engine expects %d",
			entity.ErrInvalidDimension, len(embedding), e.dims)
	}

	hash, err := entity.ContentHash(content)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	if id, ok := e.byHash[hash]; ok {
		return e.nodes[id], nil
	}

	node, err := entity.NewNode(content, nodeType, metadata, embedding)
	if err != nil {
		return nil, err
	}
	e.nodes[node.ID] = node
	e.byHash[hash] = node.ID

	if node.HasEmbedding() {
		if err := e.idx.Add(string(node.ID), node.Embedding); err != nil {
			delete(e.nodes, node.ID)
			delete(e.byHash, hash)
			return nil, err
		}
		e.epoch++
	}
	return node, nil
}

// GetNode returns the node with the given id.
func (e *Engine) GetNode(id entity.NodeID) (*entity.Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	node, ok := e.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return node, nil
}

// LookupContent returns the node whose content hashes to the same digest as
// the given content, if one exists.
func (e *Engine) LookupContent(content any) (*entity.Node, bool) {
	hash, err := entity.ContentHash(content)
	if err != nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.byHash[hash]
	if !ok {
		return nil, false
	}
	return e.nodes[id], true
}

// SetEmbedding attaches or replaces a node's embedding. Identity and the
// content hash are unchanged.
func (e *Engine) SetEmbedding(id entity.NodeID, embedding []float32) error {
	if len(embedding) != e.dims {
		return fmt.Errorf("%w: embedding has %d dimensions, engine expects %d",
			entity.ErrInvalidDimension, len(embedding), e.dims)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	node, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	node.Embedding = embedding
	if err := e.idx.Add(string(id), embedding); err != nil {
		return err
	}
	e.epoch++
	return nil
}

// SetPosition attaches or replaces a node's 3D position.
func (e *Engine) SetPosition(id entity.NodeID, pos entity.Position) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	node, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	p := pos
	node.Position = &p
	return nil
}

// AddEdge creates a relationship between two existing nodes. Both endpoints
// must be present or the call fails with ErrNodeNotFound. An undirected
// edge is stored once and traversed in both directions.
func (e *Engine) AddEdge(source, target entity.NodeID, edgeType string, weight float64, directed bool, metadata entity.Metadata) (*entity.Edge, error) {
	if err := metadata.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if _, ok := e.nodes[source]; !ok {
		return nil, fmt.Errorf("%w: source %s", ErrNodeNotFound, source)
	}
	if _, ok := e.nodes[target]; !ok {
		return nil, fmt.Errorf("%w: target %s", ErrNodeNotFound, target)
	}

	edge := entity.NewEdge(source, target, edgeType, weight, directed, metadata)
	e.edges[edge.ID] = edge
	e.outgoing[source] = append(e.outgoing[source], edge.ID)
	e.incoming[target] = append(e.incoming[target], edge.ID)
	return edge, nil
}

// GetEdge returns the edge with the given id.
func (e *Engine) GetEdge(id entity.EdgeID) (*entity.Edge, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	edge, ok := e.edges[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
	}
	return edge, nil
}

// RemoveEdge deletes a single edge.
func (e *Engine) RemoveEdge(id entity.EdgeID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	edge, ok := e.edges[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
	}
	e.unlinkEdge(edge)
	return nil
}

// RemoveNode deletes a node and cascades deletion to every incident edge.
func (e *Engine) RemoveNode(id entity.NodeID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	node, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	// Copy before unlinking mutates the adjacency lists.
	incident := make([]entity.EdgeID, 0, len(e.outgoing[id])+len(e.incoming[id]))
	incident = append(incident, e.outgoing[id]...)
	incident = append(incident, e.incoming[id]...)
	for _, eid := range incident {
		if edge, ok := e.edges[eid]; ok {
			e.unlinkEdge(edge)
		}
	}

	delete(e.nodes, id)
	delete(e.byHash, node.ContentHash)
	delete(e.outgoing, id)
	delete(e.incoming, id)

	if node.HasEmbedding() {
		e.idx.Remove(string(id))
		e.epoch++
	}
	return nil
}

// unlinkEdge removes an edge from the store and both adjacency lists.
// Caller holds the write lock.
func (e *Engine) unlinkEdge(edge *entity.Edge) {
	delete(e.edges, edge.ID)
	e.outgoing[edge.Source] = withoutEdge(e.outgoing[edge.Source], edge.ID)
	e.incoming[edge.Target] = withoutEdge(e.incoming[edge.Target], edge.ID)
}

func withoutEdge(ids []entity.EdgeID, drop entity.EdgeID) []entity.EdgeID {
	for i, id := range ids {
		if id == drop {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// NodeCount returns the number of stored nodes.
func (e *Engine) NodeCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.nodes)
}

// EdgeCount returns the number of stored edges.
func (e *Engine) EdgeCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.edges)
}

// Dimensions returns the fixed embedding dimensionality.
func (e *Engine) Dimensions() int { return e.dims }

// RebuildIndex reconstructs the similarity index from the stored
// embeddings. Until a stale index is rebuilt, FindSimilar uses the exact
// scan path.
func (e *Engine) RebuildIndex() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.idx.Rebuild()
}

// CacheStats returns the query cache counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// embeddedNodes returns the nodes carrying embeddings sorted by id, so
// index-based results map back to nodes deterministically. Caller holds at
// least the read lock.
func (e *Engine) embeddedNodes() []*entity.Node {
	out := make([]*entity.Node, 0, len(e.nodes))
	for _, n := range e.nodes {
		if n.HasEmbedding() {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
