package engine

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/spainion/contextengine/pkg/entity"
)

// snapshotVersion is the current snapshot format version. Import rejects
// any other value.
const snapshotVersion = 1

// zstdMagic is the zstandard frame header, used to auto-detect compressed
// snapshots on import.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// snapshot is the on-disk document: a format version, the fixed embedding
// dimensionality, and one record per node and edge.
type snapshot struct {
	Version    int            `json:"version"`
	Dimensions int            `json:"dimensions"`
	Nodes      []*entity.Node `json:"nodes"`
	Edges      []*entity.Edge `json:"edges"`
}

// Export writes a full snapshot of the store to w, zstd-compressed when
// compress is true. The snapshot carries everything needed to reconstruct
// an equivalent store: content, types, metadata, embeddings, positions, and
// edges. Records are sorted by id so equal stores export byte-equal
// snapshots.
func (e *Engine) Export(w io.Writer, compress bool) error {
	e.mu.RLock()
	snap := snapshot{
		Version:    snapshotVersion,
		Dimensions: e.dims,
		Nodes:      make([]*entity.Node, 0, len(e.nodes)),
		Edges:      make([]*entity.Edge, 0, len(e.edges)),
	}
	for _, n := range e.nodes {
		snap.Nodes = append(snap.Nodes, n)
	}
	for _, edge := range e.edges {
		snap.Edges = append(snap.Edges, edge)
	}
	e.mu.RUnlock()

	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sort.Slice(snap.Edges, func(i, j int) bool { return snap.Edges[i].ID < snap.Edges[j].ID })

	if compress {
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("snapshot compression: %w", err)
		}
		if err := json.NewEncoder(zw).Encode(snap); err != nil {
			zw.Close()
			return fmt.Errorf("snapshot encode: %w", err)
		}
		return zw.Close()
	}
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("snapshot encode: %w", err)
	}
	return nil
}

// Import reconstructs an engine from a snapshot produced by Export.
// Compression is detected from the stream, so callers never need to say
// whether the snapshot was compressed.
//
// Validation is strict: an unknown format version fails with
// ErrUnsupportedVersion, and inconsistent embedding dimensions, duplicate
// content hashes, or edges referencing missing nodes fail with
// ErrSchemaMismatch. Nothing is silently repaired. Content hashes are
// recomputed during import, so a snapshot edited by hand cannot smuggle in
// a stale digest.
//
// Engine options other than Dimensions are honored as in New; a zero
// opts.Dimensions takes the dimensionality recorded in the snapshot.
func Import(r io.Reader, opts Options) (*Engine, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("snapshot read: %w", err)
	}

	var payload io.Reader = br
	if bytes.Equal(head, zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("snapshot decompression: %w", err)
		}
		defer zr.Close()
		payload = zr
	}

	var snap snapshot
	if err := json.NewDecoder(payload).Decode(&snap); err != nil {
		return nil, fmt.Errorf("snapshot decode: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, snap.Version, snapshotVersion)
	}
	if snap.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions %d", ErrSchemaMismatch, snap.Dimensions)
	}
	if opts.Dimensions == 0 {
		opts.Dimensions = snap.Dimensions
	}
	if opts.Dimensions != snap.Dimensions {
		return nil, fmt.Errorf("%w: snapshot has %d dimensions, options request %d",
			ErrSchemaMismatch, snap.Dimensions, opts.Dimensions)
	}

	eng, err := New(opts)
	if err != nil {
		return nil, err
	}

	if err := eng.load(&snap); err != nil {
		eng.Close()
		return nil, err
	}
	return eng, nil
}

// load validates snapshot records and installs them. Runs on a fresh
// engine before it is shared, so no locking.
func (e *Engine) load(snap *snapshot) error {
	for _, n := range snap.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node without id", ErrSchemaMismatch)
		}
		if _, ok := e.nodes[n.ID]; ok {
			return fmt.Errorf("%w: duplicate node id %s", ErrSchemaMismatch, n.ID)
		}
		if n.HasEmbedding() && len(n.Embedding) != e.dims {
			return fmt.Errorf("%w: node %s has %d-dimensional embedding, snapshot declares %d",
				ErrSchemaMismatch, n.ID, len(n.Embedding), e.dims)
		}
		if err := n.Metadata.Validate(); err != nil {
			return fmt.Errorf("%w: node %s: %v", ErrSchemaMismatch, n.ID, err)
		}

		hash, err := entity.ContentHash(n.Content)
		if err != nil {
			return fmt.Errorf("%w: node %s: %v", ErrSchemaMismatch, n.ID, err)
		}
		if _, ok := e.byHash[hash]; ok {
			return fmt.Errorf("%w: duplicate content hash %s", ErrSchemaMismatch, hash)
		}
		n.ContentHash = hash

		e.nodes[n.ID] = n
		e.byHash[hash] = n.ID
		if n.HasEmbedding() {
			if err := e.idx.Add(string(n.ID), n.Embedding); err != nil {
				return err
			}
			e.epoch++
		}
	}

	for _, edge := range snap.Edges {
		if edge.ID == "" {
			return fmt.Errorf("%w: edge without id", ErrSchemaMismatch)
		}
		if _, ok := e.edges[edge.ID]; ok {
			return fmt.Errorf("%w: duplicate edge id %s", ErrSchemaMismatch, edge.ID)
		}
		if _, ok := e.nodes[edge.Source]; !ok {
			return fmt.Errorf("%w: edge %s references missing node %s", ErrSchemaMismatch, edge.ID, edge.Source)
		}
		if _, ok := e.nodes[edge.Target]; !ok {
			return fmt.Errorf("%w: edge %s references missing node %s", ErrSchemaMismatch, edge.ID, edge.Target)
		}
		if err := edge.Metadata.Validate(); err != nil {
			return fmt.Errorf("%w: edge %s: %v", ErrSchemaMismatch, edge.ID, err)
		}
		e.edges[edge.ID] = edge
		e.outgoing[edge.Source] = append(e.outgoing[edge.Source], edge.ID)
		e.incoming[edge.Target] = append(e.incoming[edge.Target], edge.ID)
	}
	return nil
}
