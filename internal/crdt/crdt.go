// Package crdt defines the contract the server consumes from a CRDT engine.
//
// The server never interprets document content. It shuttles opaque update
// bytes between connections, the persistence layer and the replication
// backplane, and relies on the engine to merge them conflict-free. Any
// engine that can speak these five operations can sit behind the server.
package crdt

/*
LEARNING: CONSUMER-DRIVEN INTERFACES

"Accept interfaces, return structs" - Rob Pike

The CRDT engine is an external collaborator. This package is owned by its
consumer (the server), so the interface declares exactly the operations the
sync protocol needs and nothing more. The bundled update-log engine in
updatelog.go is the default implementation; a real CRDT binding plugs in the
same way.
*/

// Doc is one opaque CRDT document handle.
//
// Handles are NOT safe for concurrent mutation. The document lifecycle
// manager serialises every ApplyUpdate; the encode methods may run
// concurrently with each other but never with a mutation.
type Doc interface {
	// ApplyUpdate merges an incremental update into the document.
	// The whole update is applied as a single transaction: observers of
	// the engine fire at most once per call.
	ApplyUpdate(update []byte) error

	// EncodeStateAsUpdate returns the full document state as one update
	// that reconstructs the document from scratch.
	EncodeStateAsUpdate() []byte

	// EncodeStateVector returns the compact summary of which operations
	// this document has already seen.
	EncodeStateVector() []byte

	// EncodeDiff returns an update containing everything the holder of
	// stateVector is missing. An empty state vector yields the full state.
	EncodeDiff(stateVector []byte) ([]byte, error)

	// Close releases the handle. The lifecycle manager is the sole owner
	// and calls this exactly once, on every exit path.
	Close()
}

// Engine creates documents and merges updates outside any document.
type Engine interface {
	CreateDocument() Doc

	// MergeUpdates combines several updates into one equivalent update.
	MergeUpdates(updates [][]byte) ([]byte, error)
}
