package engine

// GraphStats summarizes the stored graph.
type GraphStats struct {
	NodeCount int `json:"node_count"`
	EdgeCount int `json:"edge_count"`

	// NodeTypes and EdgeTypes are histograms over the free-form type
	// labels.
	NodeTypes map[string]int `json:"node_types"`
	EdgeTypes map[string]int `json:"edge_types"`

	// EmbeddedCount is how many nodes carry an embedding.
	EmbeddedCount int `json:"embedded_count"`

	// Density is edges over possible directed pairs, E / (N * (N-1)).
	// Zero for graphs with fewer than two nodes.
	Density float64 `json:"density"`

	// AvgDegree is the mean number of edge endpoints per node, 2E / N.
	AvgDegree float64 `json:"avg_degree"`
}

// Statistics returns a snapshot of graph-level counters.
func (e *Engine) Statistics() GraphStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := GraphStats{
		NodeCount: len(e.nodes),
		EdgeCount: len(e.edges),
		NodeTypes: make(map[string]int),
		EdgeTypes: make(map[string]int),
	}
	for _, n := range e.nodes {
		stats.NodeTypes[n.Type]++
		if n.HasEmbedding() {
			stats.EmbeddedCount++
		}
	}
	for _, edge := range e.edges {
		stats.EdgeTypes[edge.Type]++
	}

	if n := float64(stats.NodeCount); n > 1 {
		stats.Density = float64(stats.EdgeCount) / (n * (n - 1))
	}
	if stats.NodeCount > 0 {
		stats.AvgDegree = 2 * float64(stats.EdgeCount) / float64(stats.NodeCount)
	}
	return stats
}
