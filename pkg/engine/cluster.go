package engine

import (
	"encoding/binary"
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/spainion/contextengine/pkg/cache"
	"github.com/spainion/contextengine/pkg/entity"
	"github.com/spainion/contextengine/pkg/vectorspace"
)

// ClusterResult is the outcome of clustering the stored embeddings.
// Unembedded lists the nodes that could not participate; they are reported,
// never silently dropped.
type ClusterResult struct {
	// Clusters maps cluster id to member nodes. DBSCAN noise points
	// appear under vectorspace.NoiseCluster.
	Clusters map[int][]*entity.Node

	// Unembedded holds the nodes excluded for lacking an embedding,
	// sorted by id.
	Unembedded []*entity.Node
}

// clusterRecord is the cache representation of a clustering outcome.
type clusterRecord struct {
	Clusters   map[int][]entity.NodeID `json:"clusters"`
	Unembedded []entity.NodeID         `json:"unembedded"`
}

// ClusterNodes partitions every embedded node using the given method and
// parameters. Nodes without embeddings are returned separately in the
// result. Fails with vectorspace.ErrInsufficientData when fewer embedded
// nodes exist than requested clusters.
//
// Results are memoized per (method, params, epoch), so repeated calls on an
// unchanged embedding set return the same partition even for seedless
// stochastic methods.
func (e *Engine) ClusterNodes(method vectorspace.ClusterMethod, params vectorspace.ClusterParams) (*ClusterResult, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	key, keyed := e.clusterKey(method, params)
	e.mu.RUnlock()

	if keyed {
		if raw, ok := e.cache.Get(key); ok {
			if res, err := e.resolveClusters(raw); err == nil {
				return res, nil
			}
			e.cache.Delete(key)
		}
	}

	v, err, _ := e.sf.Do(key, func() (any, error) {
		res, err := e.computeClusters(method, params)
		if err != nil {
			return nil, err
		}
		if keyed {
			record := clusterRecord{Clusters: make(map[int][]entity.NodeID, len(res.Clusters))}
			for id, members := range res.Clusters {
				ids := make([]entity.NodeID, len(members))
				for i, n := range members {
					ids[i] = n.ID
				}
				record.Clusters[id] = ids
			}
			for _, n := range res.Unembedded {
				record.Unembedded = append(record.Unembedded, n.ID)
			}
			if raw, err := json.Marshal(record); err == nil {
				e.cache.Set(key, raw, 0)
			} else {
				e.log.Warn("cluster result not cached", zap.Error(err))
			}
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ClusterResult), nil
}

// clusterKey derives the cache key from the full parameter set and the
// embedding epoch. Caller holds at least the read lock.
func (e *Engine) clusterKey(method vectorspace.ClusterMethod, params vectorspace.ClusterParams) (string, bool) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return string(method), false
	}
	var epoch [8]byte
	binary.BigEndian.PutUint64(epoch[:], e.epoch)
	return cache.Key([]byte("cluster"), []byte(method), encoded, epoch[:]), true
}

func (e *Engine) resolveClusters(raw []byte) (*ClusterResult, error) {
	var record clusterRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	res := &ClusterResult{Clusters: make(map[int][]*entity.Node, len(record.Clusters))}
	for id, ids := range record.Clusters {
		members := make([]*entity.Node, 0, len(ids))
		for _, nid := range ids {
			if n, ok := e.nodes[nid]; ok {
				members = append(members, n)
			}
		}
		res.Clusters[id] = members
	}
	for _, nid := range record.Unembedded {
		if n, ok := e.nodes[nid]; ok {
			res.Unembedded = append(res.Unembedded, n)
		}
	}
	return res, nil
}

func (e *Engine) computeClusters(method vectorspace.ClusterMethod, params vectorspace.ClusterParams) (*ClusterResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	embedded := e.embeddedNodes()
	vectors := make([][]float32, len(embedded))
	for i, n := range embedded {
		vectors[i] = n.Embedding
	}

	res := &ClusterResult{Clusters: make(map[int][]*entity.Node)}
	for _, n := range e.nodes {
		if !n.HasEmbedding() {
			res.Unembedded = append(res.Unembedded, n)
		}
	}
	sortNodesByID(res.Unembedded)

	if len(embedded) == 0 {
		return res, nil
	}

	assignment, err := vectorspace.Cluster(vectors, method, params)
	if err != nil {
		return nil, err
	}
	for clusterID, indices := range assignment {
		members := make([]*entity.Node, len(indices))
		for i, idx := range indices {
			members[i] = embedded[idx]
		}
		res.Clusters[clusterID] = members
	}
	return res, nil
}

func sortNodesByID(nodes []*entity.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}
