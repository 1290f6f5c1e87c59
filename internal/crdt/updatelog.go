package crdt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

/*
LEARNING: UPDATE-LOG ENGINE

The default engine keeps the document as an append-only log of opaque update
entries. It never inspects entry content, so it stays agnostic to whatever
editor format the clients use.

Wire shapes the engine owns:
- update:       uvarint(entryCount) { uvarint(len) bytes }*
- state vector: uvarint(entriesSeen)

The state vector is just "how many entries I have", which makes EncodeDiff a
slice of the log tail. That is enough for the sync handshake: a fresh client
announces an empty vector and receives the full log.
*/

// ErrDocumentClosed reports a mutation on a released document handle.
var ErrDocumentClosed = errors.New("document handle is closed")

// LogEngine is the bundled update-log Engine implementation.
type LogEngine struct{}

// NewLogEngine creates the default engine.
func NewLogEngine() *LogEngine {
	return &LogEngine{}
}

// CreateDocument returns a fresh, empty log document.
func (e *LogEngine) CreateDocument() Doc {
	return &logDoc{}
}

// MergeUpdates concatenates the entries of every update into one update.
func (e *LogEngine) MergeUpdates(updates [][]byte) ([]byte, error) {
	var merged [][]byte
	for i, u := range updates {
		entries, err := DecodeUpdate(u)
		if err != nil {
			return nil, fmt.Errorf("merging update %d: %w", i, err)
		}
		merged = append(merged, entries...)
	}
	return EncodeUpdate(merged...), nil
}

// logDoc is the Doc implementation backing LogEngine.
// Learning: RWMutex lets concurrent encodes proceed while still excluding
// them from mutations, matching the Doc contract.
type logDoc struct {
	mu      sync.RWMutex
	entries [][]byte
	closed  bool
}

func (d *logDoc) ApplyUpdate(update []byte) error {
	entries, err := DecodeUpdate(update)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("apply update: %w", ErrDocumentClosed)
	}
	d.entries = append(d.entries, entries...)
	return nil
}

func (d *logDoc) EncodeStateAsUpdate() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return EncodeUpdate(d.entries...)
}

func (d *logDoc) EncodeStateVector() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return binary.AppendUvarint(nil, uint64(len(d.entries)))
}

func (d *logDoc) EncodeDiff(stateVector []byte) ([]byte, error) {
	seen := uint64(0)
	if len(stateVector) > 0 {
		v, n := binary.Uvarint(stateVector)
		if n <= 0 {
			return nil, fmt.Errorf("decoding state vector: invalid uvarint")
		}
		seen = v
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if seen > uint64(len(d.entries)) {
		// The remote is ahead of us; nothing we hold is news to it.
		return EncodeUpdate(), nil
	}
	return EncodeUpdate(d.entries[seen:]...), nil
}

func (d *logDoc) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.entries = nil
}

// EncodeUpdate packs entries into the engine's update wire shape.
func EncodeUpdate(entries ...[]byte) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(entries)))
	for _, e := range entries {
		buf = binary.AppendUvarint(buf, uint64(len(e)))
		buf = append(buf, e...)
	}
	return buf
}

// DecodeUpdate unpacks an update into its entries.
func DecodeUpdate(update []byte) ([][]byte, error) {
	count, n := binary.Uvarint(update)
	if n <= 0 {
		return nil, fmt.Errorf("decoding update header: invalid uvarint")
	}
	rest := update[n:]

	entries := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		size, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, fmt.Errorf("decoding entry %d length: invalid uvarint", i)
		}
		rest = rest[n:]
		if size > uint64(len(rest)) {
			return nil, fmt.Errorf("entry %d: declared %d bytes, %d remain", i, size, len(rest))
		}
		entries = append(entries, rest[:size])
		rest = rest[size:]
	}
	return entries, nil
}
