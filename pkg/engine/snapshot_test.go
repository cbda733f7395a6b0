package engine

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spainion/contextengine/pkg/entity"
)

func populatedEngine(t *testing.T) *Engine {
	t.Helper()
	eng := newTestEngine(t, 2)

	cat, err := eng.AddNode("cat", "animal", entity.Metadata{"legs": 4}, []float32{1, 0})
	require.NoError(t, err)
	dog, err := eng.AddNode("dog", "animal", nil, []float32{0, 1})
	require.NoError(t, err)
	bare, err := eng.AddNode("collar", "thing", nil, nil)
	require.NoError(t, err)

	require.NoError(t, eng.SetPosition(cat.ID, entity.Position{1, 2, 3}))
	_, err = eng.AddEdge(cat.ID, dog.ID, "chases", 0.9, true, nil)
	require.NoError(t, err)
	_, err = eng.AddEdge(dog.ID, bare.ID, "wears", 1, false, entity.Metadata{"since": "2020"})
	require.NoError(t, err)
	return eng
}

func assertEquivalent(t *testing.T, want, got *Engine) {
	t.Helper()
	require.Equal(t, want.NodeCount(), got.NodeCount())
	require.Equal(t, want.EdgeCount(), got.EdgeCount())

	want.mu.RLock()
	defer want.mu.RUnlock()
	for id, wn := range want.nodes {
		gn, err := got.GetNode(id)
		require.NoError(t, err, "node %s must survive the round trip", id)
		assert.Equal(t, wn.Type, gn.Type)
		assert.Equal(t, wn.ContentHash, gn.ContentHash)
		assert.Equal(t, wn.Embedding, gn.Embedding)
		assert.Equal(t, wn.Position, gn.Position)
	}
	for id, we := range want.edges {
		ge, err := got.GetEdge(id)
		require.NoError(t, err, "edge %s must survive the round trip", id)
		assert.Equal(t, we.Source, ge.Source)
		assert.Equal(t, we.Target, ge.Target)
		assert.Equal(t, we.Type, ge.Type)
		assert.Equal(t, we.Weight, ge.Weight)
		assert.Equal(t, we.Directed, ge.Directed)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	eng := populatedEngine(t)

	var buf bytes.Buffer
	require.NoError(t, eng.Export(&buf, false))

	restored, err := Import(&buf, Options{})
	require.NoError(t, err)
	defer restored.Close()

	assert.Equal(t, 2, restored.Dimensions(), "dimensionality comes from the snapshot")
	assertEquivalent(t, eng, restored)
}

func TestSnapshotRoundTripCompressed(t *testing.T) {
	eng := populatedEngine(t)

	var plain, packed bytes.Buffer
	require.NoError(t, eng.Export(&plain, false))
	require.NoError(t, eng.Export(&packed, true))
	assert.NotEqual(t, plain.Bytes(), packed.Bytes())

	restored, err := Import(&packed, Options{})
	require.NoError(t, err)
	defer restored.Close()
	assertEquivalent(t, eng, restored)
}

func TestSnapshotDeterministic(t *testing.T) {
	eng := populatedEngine(t)

	var a, b bytes.Buffer
	require.NoError(t, eng.Export(&a, false))
	require.NoError(t, eng.Export(&b, false))
	assert.Equal(t, a.Bytes(), b.Bytes(), "equal stores export byte-equal snapshots")
}

func TestImportRestoredQueriesWork(t *testing.T) {
	eng := populatedEngine(t)

	var buf bytes.Buffer
	require.NoError(t, eng.Export(&buf, true))
	restored, err := Import(&buf, Options{})
	require.NoError(t, err)
	defer restored.Close()

	matches, err := restored.FindSimilar([]float32{1, 0}, 1, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "cat", matches[0].Node.Content)

	// Dedup keeps working against imported content.
	before := restored.NodeCount()
	_, err = restored.AddNode("cat", "animal", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, before, restored.NodeCount())
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	raw, err := json.Marshal(map[string]any{"version": 99, "dimensions": 2})
	require.NoError(t, err)

	_, err = Import(bytes.NewReader(raw), Options{})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestImportRejectsMixedDimensions(t *testing.T) {
	snap := map[string]any{
		"version":    1,
		"dimensions": 2,
		"nodes": []map[string]any{
			{"id": "n1", "content": "a", "type": "t", "embedding": []float32{1, 0}},
			{"id": "n2", "content": "b", "type": "t", "embedding": []float32{1, 0, 0}},
		},
	}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	_, err = Import(bytes.NewReader(raw), Options{})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestImportRejectsDanglingEdges(t *testing.T) {
	snap := map[string]any{
		"version":    1,
		"dimensions": 2,
		"nodes": []map[string]any{
			{"id": "n1", "content": "a", "type": "t"},
		},
		"edges": []map[string]any{
			{"id": "e1", "source": "n1", "target": "ghost", "type": "rel"},
		},
	}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	_, err = Import(bytes.NewReader(raw), Options{})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestImportRejectsDuplicateContent(t *testing.T) {
	snap := map[string]any{
		"version":    1,
		"dimensions": 2,
		"nodes": []map[string]any{
			{"id": "n1", "content": "same", "type": "t"},
			{"id": "n2", "content": "same", "type": "t"},
		},
	}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	_, err = Import(bytes.NewReader(raw), Options{})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestImportRejectsDimensionOverride(t *testing.T) {
	eng := populatedEngine(t)
	var buf bytes.Buffer
	require.NoError(t, eng.Export(&buf, false))

	_, err := Import(&buf, Options{Dimensions: 7})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestImportRecomputesContentHash(t *testing.T) {
	snap := map[string]any{
		"version":    1,
		"dimensions": 2,
		"nodes": []map[string]any{
			{"id": "n1", "content": "real", "type": "t", "content_hash": "forged"},
		},
	}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	restored, err := Import(bytes.NewReader(raw), Options{})
	require.NoError(t, err)
	defer restored.Close()

	node, err := restored.GetNode("n1")
	require.NoError(t, err)
	want, err := entity.ContentHash("real")
	require.NoError(t, err)
	assert.Equal(t, want, node.ContentHash, "forged digests are replaced on import")
}

func TestImportMalformedPayload(t *testing.T) {
	_, err := Import(bytes.NewReader([]byte("{not json")), Options{})
	assert.Error(t, err)

	_, err = Import(bytes.NewReader(nil), Options{})
	assert.Error(t, err)
}
