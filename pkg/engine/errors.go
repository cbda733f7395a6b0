package engine

import "errors"

// Errors returned by graph store operations. Attribute and dimension
// failures reuse the entity package sentinels so callers can discriminate
// with errors.Is regardless of which layer raised them.
var (
	// ErrNodeNotFound is returned when an operation references a node id
	// that is not in the store.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEdgeNotFound is returned when an operation references an edge id
	// that is not in the store.
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrSchemaMismatch is returned by snapshot import when the data is
	// internally inconsistent: mixed embedding dimensions or edges whose
	// endpoints are missing.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrUnsupportedVersion is returned by snapshot import when the
	// format version is unknown.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")

	// ErrClosed is returned when the engine has been closed.
	ErrClosed = errors.New("engine is closed")
)
