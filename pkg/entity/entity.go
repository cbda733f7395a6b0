// Package entity defines the foundational data types of the context engine:
// nodes, edges, metadata, and the pairwise math that operates on them.
//
// Nodes are content-addressed: identity is assigned at creation, but two
// nodes with byte-identical content always hash to the same digest, which is
// what the graph store uses to deduplicate. Embeddings and 3D positions are
// optional late-bound attributes; operations that require them fail with
// ErrMissingAttribute instead of returning a sentinel value.
//
// Example:
//
//	node, err := entity.NewNode("the quick brown fox", "sentence", nil, embedding)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(node.ContentHash) // stable digest of the content
package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Errors returned by entity operations.
var (
	// ErrMissingAttribute is returned when an operation needs an embedding
	// or 3D position that the node does not carry.
	ErrMissingAttribute = errors.New("missing attribute")

	// ErrInvalidDimension is returned when two vectors of different
	// dimensionality are combined.
	ErrInvalidDimension = errors.New("invalid dimension")

	// ErrInvalidMetadata is returned when a metadata value is not one of
	// the supported kinds.
	ErrInvalidMetadata = errors.New("invalid metadata value")
)

// NodeID is a strongly-typed unique identifier for nodes.
type NodeID string

// EdgeID is a strongly-typed unique identifier for edges.
type EdgeID string

// NewNodeID returns a fresh random node identifier.
func NewNodeID() NodeID { return NodeID(uuid.NewString()) }

// NewEdgeID returns a fresh random edge identifier.
func NewEdgeID() EdgeID { return EdgeID(uuid.NewString()) }

// Metadata is a bag of caller-supplied key/value pairs attached to a node or
// edge. Values are restricted to JSON-representable kinds (string, bool,
// numbers, nested maps and slices) so that snapshot serialization and
// equality stay well-defined; Validate enforces this at import boundaries.
type Metadata map[string]any

// Validate checks that every value in the metadata bag is a supported kind.
// Nested maps and slices are validated recursively.
func (m Metadata) Validate() error {
	for k, v := range m {
		if err := validateValue(v); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
	}
	return nil
}

func validateValue(v any) error {
	switch val := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return nil
	case map[string]any:
		return Metadata(val).Validate()
	case Metadata:
		return val.Validate()
	case []any:
		for _, item := range val {
			if err := validateValue(item); err != nil {
				return err
			}
		}
		return nil
	default:
		return ErrInvalidMetadata
	}
}

// Position is a 3D spatial coordinate attached to a node.
type Position [3]float64

// Node is a stored content item. Content and ContentHash are immutable after
// creation; Embedding and Position are set through the graph store's
// setters, which never change identity.
//
// Node structs are not thread-safe. The graph store handles concurrency.
type Node struct {
	ID          NodeID    `json:"id"`
	Content     any       `json:"content"`
	Type        string    `json:"type"`
	Metadata    Metadata  `json:"metadata,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
	Position    *Position `json:"position,omitempty"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewNode builds a node with a fresh identifier and a content hash computed
// from the canonical serialization of content. The embedding may be nil.
func NewNode(content any, nodeType string, metadata Metadata, embedding []float32) (*Node, error) {
	hash, err := ContentHash(content)
	if err != nil {
		return nil, err
	}

	return &Node{
		ID:          NewNodeID(),
		Content:     content,
		Type:        nodeType,
		Metadata:    metadata,
		Embedding:   embedding,
		ContentHash: hash,
		CreatedAt:   time.Now(),
	}, nil
}

// HasEmbedding reports whether the node carries an embedding vector.
func (n *Node) HasEmbedding() bool { return len(n.Embedding) > 0 }

// HasPosition reports whether the node carries a 3D position.
func (n *Node) HasPosition() bool { return n.Position != nil }

// Edge is a typed, weighted relationship between two nodes. Endpoints and
// direction are immutable after creation; only Metadata may change.
//
// An undirected edge is stored once. Treating it as traversable in both
// directions is a query-time rule in the graph store, not a second record.
type Edge struct {
	ID        EdgeID    `json:"id"`
	Source    NodeID    `json:"source"`
	Target    NodeID    `json:"target"`
	Type      string    `json:"type"`
	Weight    float64   `json:"weight"`
	Directed  bool      `json:"directed"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEdge builds an edge with a fresh identifier. Endpoint existence is the
// graph store's responsibility; this constructor only shapes the value.
func NewEdge(source, target NodeID, edgeType string, weight float64, directed bool, metadata Metadata) *Edge {
	return &Edge{
		ID:        NewEdgeID(),
		Source:    source,
		Target:    target,
		Type:      edgeType,
		Weight:    weight,
		Directed:  directed,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
}

// Touches reports whether the edge references the given node as either
// endpoint.
func (e *Edge) Touches(id NodeID) bool {
	return e.Source == id || e.Target == id
}

// Other returns the opposite endpoint of the edge relative to id. The second
// return is false when id is not an endpoint.
func (e *Edge) Other(id NodeID) (NodeID, bool) {
	switch id {
	case e.Source:
		return e.Target, true
	case e.Target:
		return e.Source, true
	default:
		return "", false
	}
}
