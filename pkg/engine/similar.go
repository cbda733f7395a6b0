package engine

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/spainion/contextengine/pkg/cache"
	"github.com/spainion/contextengine/pkg/entity"
	"github.com/spainion/contextengine/pkg/math/vector"
)

// Match is one similarity search hit.
type Match struct {
	Node  *entity.Node
	Score float64
}

// matchRecord is the cache representation of a hit. Nodes are re-resolved
// on rehydration so cached entries never pin node structs.
type matchRecord struct {
	ID    entity.NodeID `json:"id"`
	Score float64       `json:"score"`
}

// FindSimilar returns up to k nodes ranked by decreasing cosine similarity
// to the query, excluding results scoring below threshold. Ties are broken
// by ascending node id. Nodes without embeddings are never returned.
//
// The search delegates to the approximate index while it is fresh; after
// enough un-rebuilt mutations it falls back to an exact scan, so accuracy
// degrades to latency, never to wrong results. Results are memoized in the
// query cache keyed by (query, k, threshold) and the embedding epoch.
func (e *Engine) FindSimilar(query []float32, k int, threshold float64) ([]Match, error) {
	if len(query) != e.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, engine expects %d",
			entity.ErrInvalidDimension, len(query), e.dims)
	}
	if k <= 0 {
		return nil, nil
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	key := e.similarKey(query, k, threshold)
	e.mu.RUnlock()

	if raw, ok := e.cache.Get(key); ok {
		if matches, err := e.resolveMatches(raw); err == nil {
			return matches, nil
		}
		// Unreadable entry, drop it and recompute.
		e.cache.Delete(key)
	}

	v, err, _ := e.sf.Do(key, func() (any, error) {
		matches, err := e.searchSimilar(query, k, threshold)
		if err != nil {
			return nil, err
		}
		records := make([]matchRecord, len(matches))
		for i, m := range matches {
			records[i] = matchRecord{ID: m.Node.ID, Score: m.Score}
		}
		if raw, err := json.Marshal(records); err == nil {
			e.cache.Set(key, raw, 0)
		} else {
			e.log.Warn("similarity result not cached", zap.Error(err))
		}
		return matches, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Match), nil
}

// similarKey derives the cache key. The epoch term makes every embedding
// mutation invalidate prior entries without a sweep. Caller holds at least
// the read lock.
func (e *Engine) similarKey(query []float32, k int, threshold float64) string {
	buf := make([]byte, 0, 4*len(query)+24)
	for _, f := range query {
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(f))
	}
	buf = binary.BigEndian.AppendUint64(buf, uint64(k))
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(threshold))
	buf = binary.BigEndian.AppendUint64(buf, e.epoch)
	return cache.Key([]byte("similar"), buf)
}

// resolveMatches maps cached id/score records back to live nodes. Records
// whose node has since been removed are skipped.
func (e *Engine) resolveMatches(raw []byte) ([]Match, error) {
	var records []matchRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	matches := make([]Match, 0, len(records))
	for _, r := range records {
		if node, ok := e.nodes[r.ID]; ok {
			matches = append(matches, Match{Node: node, Score: r.Score})
		}
	}
	return matches, nil
}

// searchSimilar runs the actual search on a cache miss.
func (e *Engine) searchSimilar(query []float32, k int, threshold float64) ([]Match, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	if e.idx.Len() > 0 && !e.idx.NeedsRebuild() {
		results, err := e.idx.Search(query, k)
		if err != nil {
			return nil, err
		}
		matches := make([]Match, 0, len(results))
		for _, r := range results {
			if r.Score < threshold {
				continue
			}
			if node, ok := e.nodes[entity.NodeID(r.ID)]; ok {
				matches = append(matches, Match{Node: node, Score: r.Score})
			}
		}
		return matches, nil
	}
	return e.exactSimilar(query, k, threshold), nil
}

// exactSimilar is the brute-force path, used while the index is stale or
// empty. Caller holds at least the read lock.
func (e *Engine) exactSimilar(query []float32, k int, threshold float64) []Match {
	var matches []Match
	for _, node := range e.nodes {
		if !node.HasEmbedding() {
			continue
		}
		score := vector.CosineSimilarity(query, node.Embedding)
		if score < threshold {
			continue
		}
		matches = append(matches, Match{Node: node, Score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Node.ID < matches[j].Node.ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
