package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spainion/contextengine/pkg/entity"
)

func newTestEngine(t *testing.T, dims int) *Engine {
	t.Helper()
	eng, err := New(Options{Dimensions: dims})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestNewRejectsBadDimensions(t *testing.T) {
	_, err := New(Options{Dimensions: 0})
	assert.ErrorIs(t, err, entity.ErrInvalidDimension)
}

func TestAddNodeDedup(t *testing.T) {
	eng := newTestEngine(t, 2)

	first, err := eng.AddNode("cat", "animal", nil, []float32{1, 0})
	require.NoError(t, err)

	second, err := eng.AddNode("cat", "animal", nil, []float32{1, 0})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "identical content must dedup to one node")
	assert.Equal(t, 1, eng.NodeCount())

	other, err := eng.AddNode("dog", "animal", nil, []float32{0, 1})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
	assert.Equal(t, 2, eng.NodeCount())
}

func TestAddNodeDedupIgnoresLaterAttributes(t *testing.T) {
	eng := newTestEngine(t, 2)

	first, err := eng.AddNode("cat", "animal", nil, []float32{1, 0})
	require.NoError(t, err)

	// Same content with different type and embedding still resolves to
	// the original node, unchanged.
	second, err := eng.AddNode("cat", "pet", entity.Metadata{"k": "v"}, []float32{0, 1})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "animal", second.Type)
	assert.Equal(t, []float32{1, 0}, second.Embedding)
}

func TestAddNodeStructuredContent(t *testing.T) {
	eng := newTestEngine(t, 2)

	content := map[string]any{"kind": "snippet", "lang": "go"}
	reordered := map[string]any{"lang": "go", "kind": "snippet"}

	first, err := eng.AddNode(content, "doc", nil, nil)
	require.NoError(t, err)
	second, err := eng.AddNode(reordered, "doc", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "map key order must not affect identity")
}

func TestAddNodeValidation(t *testing.T) {
	eng := newTestEngine(t, 4)

	_, err := eng.AddNode("x", "t", nil, []float32{1, 2})
	assert.ErrorIs(t, err, entity.ErrInvalidDimension)

	_, err = eng.AddNode("y", "t", entity.Metadata{"ch": make(chan int)}, nil)
	assert.ErrorIs(t, err, entity.ErrInvalidMetadata)
}

func TestGetNode(t *testing.T) {
	eng := newTestEngine(t, 2)

	n, err := eng.AddNode("cat", "animal", nil, nil)
	require.NoError(t, err)

	got, err := eng.GetNode(n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)

	_, err = eng.GetNode("no-such-node")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestLookupContent(t *testing.T) {
	eng := newTestEngine(t, 2)

	n, err := eng.AddNode("cat", "animal", nil, nil)
	require.NoError(t, err)

	got, ok := eng.LookupContent("cat")
	require.True(t, ok)
	assert.Equal(t, n.ID, got.ID)

	_, ok = eng.LookupContent("ferret")
	assert.False(t, ok)
}

func TestSetEmbedding(t *testing.T) {
	eng := newTestEngine(t, 2)

	n, err := eng.AddNode("cat", "animal", nil, nil)
	require.NoError(t, err)
	assert.False(t, n.HasEmbedding())

	require.NoError(t, eng.SetEmbedding(n.ID, []float32{1, 0}))
	got, err := eng.GetNode(n.ID)
	require.NoError(t, err)
	assert.True(t, got.HasEmbedding())

	assert.ErrorIs(t, eng.SetEmbedding(n.ID, []float32{1}), entity.ErrInvalidDimension)
	assert.ErrorIs(t, eng.SetEmbedding("missing", []float32{1, 0}), ErrNodeNotFound)
}

func TestSetPosition(t *testing.T) {
	eng := newTestEngine(t, 2)

	n, err := eng.AddNode("cat", "animal", nil, nil)
	require.NoError(t, err)

	require.NoError(t, eng.SetPosition(n.ID, entity.Position{1, 2, 3}))
	got, err := eng.GetNode(n.ID)
	require.NoError(t, err)
	require.True(t, got.HasPosition())
	assert.Equal(t, entity.Position{1, 2, 3}, *got.Position)

	assert.ErrorIs(t, eng.SetPosition("missing", entity.Position{}), ErrNodeNotFound)
}

func TestAddEdgeRequiresEndpoints(t *testing.T) {
	eng := newTestEngine(t, 2)

	a, _ := eng.AddNode("a", "t", nil, nil)
	b, _ := eng.AddNode("b", "t", nil, nil)

	edge, err := eng.AddEdge(a.ID, b.ID, "rel", 0.5, true, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, eng.EdgeCount())

	got, err := eng.GetEdge(edge.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.Source)

	_, err = eng.AddEdge(a.ID, "ghost", "rel", 0.5, true, nil)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	_, err = eng.AddEdge("ghost", b.ID, "rel", 0.5, true, nil)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.Equal(t, 1, eng.EdgeCount())
}

func TestRemoveNodeCascades(t *testing.T) {
	eng := newTestEngine(t, 2)

	a, _ := eng.AddNode("a", "t", nil, nil)
	b, _ := eng.AddNode("b", "t", nil, nil)
	c, _ := eng.AddNode("c", "t", nil, nil)
	eng.AddEdge(a.ID, b.ID, "rel", 1, true, nil)
	eng.AddEdge(b.ID, c.ID, "rel", 1, true, nil)
	eng.AddEdge(c.ID, a.ID, "rel", 1, false, nil)
	require.Equal(t, 3, eng.EdgeCount())

	require.NoError(t, eng.RemoveNode(b.ID))

	assert.Equal(t, 2, eng.NodeCount())
	assert.Equal(t, 1, eng.EdgeCount(), "edges touching b must be gone")

	// No dangling edges: the survivor must connect existing nodes.
	for _, id := range []entity.NodeID{a.ID, c.ID} {
		_, err := eng.GetNode(id)
		assert.NoError(t, err)
	}

	assert.ErrorIs(t, eng.RemoveNode(b.ID), ErrNodeNotFound)
}

func TestRemoveNodeFreesContentHash(t *testing.T) {
	eng := newTestEngine(t, 2)

	first, _ := eng.AddNode("cat", "t", nil, nil)
	require.NoError(t, eng.RemoveNode(first.ID))

	second, err := eng.AddNode("cat", "t", nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "removed content can be re-added as a new node")
	assert.Equal(t, 1, eng.NodeCount())
}

func TestRemoveEdge(t *testing.T) {
	eng := newTestEngine(t, 2)

	a, _ := eng.AddNode("a", "t", nil, nil)
	b, _ := eng.AddNode("b", "t", nil, nil)
	edge, _ := eng.AddEdge(a.ID, b.ID, "rel", 1, true, nil)

	require.NoError(t, eng.RemoveEdge(edge.ID))
	assert.Equal(t, 0, eng.EdgeCount())
	assert.ErrorIs(t, eng.RemoveEdge(edge.ID), ErrEdgeNotFound)
}

func TestClosedEngineRejectsOperations(t *testing.T) {
	eng, err := New(Options{Dimensions: 2})
	require.NoError(t, err)
	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close(), "double close is harmless")

	_, err = eng.AddNode("x", "t", nil, nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = eng.GetNode("any")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = eng.FindSimilar([]float32{1, 0}, 1, 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, eng.RemoveNode("any"), ErrClosed)
}

func TestErrorKindsAreDiscriminable(t *testing.T) {
	eng := newTestEngine(t, 2)

	_, err := eng.GetNode("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNodeNotFound))
	assert.False(t, errors.Is(err, ErrEdgeNotFound))
}
