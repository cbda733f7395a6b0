package engine

import (
	"fmt"
	"sort"

	"github.com/spainion/contextengine/pkg/entity"
)

// Neighbors returns the nodes reachable from start within maxDepth hops,
// breadth-first, excluding start itself. Directed edges are followed
// source-to-target only; undirected edges are followed both ways. A
// non-empty edgeType restricts traversal to edges of that type. The result
// is sorted by node id.
func (e *Engine) Neighbors(start entity.NodeID, edgeType string, maxDepth int) ([]*entity.Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	if _, ok := e.nodes[start]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, start)
	}
	if maxDepth <= 0 {
		return nil, nil
	}

	visited := map[entity.NodeID]bool{start: true}
	frontier := []entity.NodeID{start}
	var found []*entity.Node

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []entity.NodeID
		for _, id := range frontier {
			for _, nb := range e.adjacent(id, edgeType) {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				found = append(found, e.nodes[nb])
				next = append(next, nb)
			}
		}
		frontier = next
	}

	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return found, nil
}

// adjacent returns the node ids reachable from id in one hop, honoring
// direction and the optional type filter. Deterministic order. Caller holds
// at least the read lock.
func (e *Engine) adjacent(id entity.NodeID, edgeType string) []entity.NodeID {
	var out []entity.NodeID
	for _, eid := range e.outgoing[id] {
		edge := e.edges[eid]
		if edgeType != "" && edge.Type != edgeType {
			continue
		}
		out = append(out, edge.Target)
	}
	for _, eid := range e.incoming[id] {
		edge := e.edges[eid]
		if edge.Directed {
			continue
		}
		if edgeType != "" && edge.Type != edgeType {
			continue
		}
		out = append(out, edge.Source)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FindPaths enumerates the simple paths (no repeated nodes) from source to
// target via bounded depth-first search. maxLength caps the number of edges
// in a path; values <= 0 mean no cap beyond the node count. A source equal
// to the target yields a single trivial path; unreachable targets yield an
// empty list, not an error.
func (e *Engine) FindPaths(source, target entity.NodeID, maxLength int) ([][]*entity.Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	if _, ok := e.nodes[source]; !ok {
		return nil, fmt.Errorf("%w: source %s", ErrNodeNotFound, source)
	}
	if _, ok := e.nodes[target]; !ok {
		return nil, fmt.Errorf("%w: target %s", ErrNodeNotFound, target)
	}

	if source == target {
		return [][]*entity.Node{{e.nodes[source]}}, nil
	}
	if maxLength <= 0 {
		maxLength = len(e.nodes)
	}

	var paths [][]*entity.Node
	onPath := map[entity.NodeID]bool{source: true}
	trail := []entity.NodeID{source}

	var walk func(from entity.NodeID)
	walk = func(from entity.NodeID) {
		if len(trail)-1 >= maxLength {
			return
		}
		for _, nb := range e.adjacent(from, "") {
			if onPath[nb] {
				continue
			}
			trail = append(trail, nb)
			if nb == target {
				path := make([]*entity.Node, len(trail))
				for i, id := range trail {
					path[i] = e.nodes[id]
				}
				paths = append(paths, path)
			} else {
				onPath[nb] = true
				walk(nb)
				delete(onPath, nb)
			}
			trail = trail[:len(trail)-1]
		}
	}
	walk(source)
	return paths, nil
}
