package engine

import (
	"fmt"
	"sort"

	"github.com/spainion/contextengine/pkg/entity"
)

// ContextWindow returns the nodes whose 3D position lies within Euclidean
// radius of the center node's position, sorted by increasing distance with
// ties broken by node id, truncated to maxNodes (<= 0 means no limit). The
// center node itself is included at distance zero. Fails with
// entity.ErrMissingAttribute when the center node carries no position;
// other nodes without positions are simply out of range.
func (e *Engine) ContextWindow(center entity.NodeID, radius float64, maxNodes int) ([]*entity.Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	node, ok := e.nodes[center]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, center)
	}
	if !node.HasPosition() {
		return nil, fmt.Errorf("%w: node %s has no position", entity.ErrMissingAttribute, center)
	}

	type hit struct {
		node *entity.Node
		dist float64
	}
	var hits []hit
	for _, other := range e.nodes {
		if !other.HasPosition() {
			continue
		}
		d, err := entity.PositionDistance(*node.Position, *other.Position, entity.DistanceEuclidean)
		if err != nil {
			return nil, err
		}
		if d <= radius {
			hits = append(hits, hit{node: other, dist: d})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].node.ID < hits[j].node.ID
	})
	if maxNodes > 0 && len(hits) > maxNodes {
		hits = hits[:maxNodes]
	}

	out := make([]*entity.Node, len(hits))
	for i, h := range hits {
		out[i] = h.node
	}
	return out, nil
}
