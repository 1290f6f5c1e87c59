package server

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"docsync/internal/crdt"
	"docsync/internal/hooks"
	"docsync/internal/metrics"
	"docsync/internal/protocol"
)

/*
LEARNING: DOCUMENT LIFECYCLE & DEBOUNCED PERSISTENCE

Each named document cycles through

  Unloaded → Loading → Loaded → Unloading → Unloaded

with one deliberate backward edge: a connection attaching while the document
is Unloading cancels the teardown (reactivation).

Persistence is debounced: a change arms a save timer at

  min(lastChange + debounce, firstChange + maxDebounce)

so a quiet period flushes quickly but continuous editing still flushes at
least every maxDebounce. A failed flush is logged and NOT retried; the next
change starts a fresh cycle.
*/

// DocState is a document's lifecycle state.
type DocState int32

const (
	StateUnloaded DocState = iota
	StateLoading
	StateLoaded
	StateUnloading
)

// String returns the lifecycle state name.
func (s DocState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateUnloading:
		return "unloading"
	default:
		return "invalid"
	}
}

// Document is the lifecycle manager for one named document. It owns the
// CRDT handle, tracks attached connections, and schedules debounced saves.
// It implements hooks.Document.
type Document struct {
	name     string
	doc      crdt.Doc
	pipeline *hooks.Pipeline

	debounce    time.Duration
	maxDebounce time.Duration

	state atomic.Int32

	// writeMu serialises CRDT mutations. Encoders take the read side, so
	// concurrent encodes are fine but never overlap a mutation.
	writeMu sync.RWMutex

	connMu      sync.RWMutex
	connections map[string]*Connection
	removed     bool // set once the document left the registry

	awareMu   sync.RWMutex
	awareness map[string][]byte // connection id -> latest awareness payload

	// Debounce bookkeeping. saveMu additionally guarantees that one save
	// never runs concurrently with another for the same document.
	debMu       sync.Mutex
	timer       *time.Timer
	firstChange time.Time
	lastChange  time.Time
	pending     bool
	saveMu      sync.Mutex
}

func newDocument(name string, doc crdt.Doc, pipeline *hooks.Pipeline, debounce, maxDebounce time.Duration) *Document {
	d := &Document{
		name:        name,
		doc:         doc,
		pipeline:    pipeline,
		debounce:    debounce,
		maxDebounce: maxDebounce,
		connections: make(map[string]*Connection),
		awareness:   make(map[string][]byte),
	}
	d.state.Store(int32(StateLoading))
	return d
}

// Name returns the registry key of the document.
func (d *Document) Name() string {
	return d.name
}

// LifecycleState returns the current lifecycle state.
func (d *Document) LifecycleState() DocState {
	return DocState(d.state.Load())
}

// State snapshots the full document content as update bytes.
func (d *Document) State() []byte {
	d.writeMu.RLock()
	defer d.writeMu.RUnlock()
	return d.doc.EncodeStateAsUpdate()
}

// StateVector returns the document's current state vector.
func (d *Document) StateVector() []byte {
	d.writeMu.RLock()
	defer d.writeMu.RUnlock()
	return d.doc.EncodeStateVector()
}

// ConnectionCount reports how many connections are attached.
func (d *Document) ConnectionCount() int {
	d.connMu.RLock()
	defer d.connMu.RUnlock()
	return len(d.connections)
}

// ApplyUpdate merges update bytes into the document and runs the change
// path (local broadcast, onChange, debounce). origin is threaded to the
// change payload; a connection id string as origin is excluded from the
// broadcast.
func (d *Document) ApplyUpdate(ctx context.Context, update []byte, origin any) error {
	if len(update) == 0 {
		return nil
	}

	d.writeMu.Lock()
	err := d.doc.ApplyUpdate(update)
	d.writeMu.Unlock()
	if err != nil {
		return err
	}

	d.afterChange(ctx, update, origin)
	return nil
}

// handleSync runs one sync payload from a connection against the document.
func (d *Document) handleSync(ctx context.Context, conn *Connection, payload []byte) ([]byte, error) {
	d.writeMu.Lock()
	reply, changed, err := protocol.ApplySyncMessage(d.doc, payload)
	d.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	if changed {
		d.afterChange(ctx, protocol.ReadSyncUpdate(payload), conn.ID())
	}
	return reply, nil
}

// afterChange is the single change path: broadcast to local peers, notify
// extensions, (re)arm the save timer.
func (d *Document) afterChange(ctx context.Context, update []byte, origin any) {
	exceptID, _ := origin.(string)
	frame := (&protocol.Message{
		DocumentName: d.name,
		Type:         protocol.MessageSync,
		Payload:      protocol.EncodeSyncUpdate(update),
	}).Encode()
	d.Broadcast(frame, exceptID)

	// Notification semantics: one extension's failure is logged in the
	// pipeline and must not block the others or this change.
	_ = d.pipeline.OnChange(ctx, &hooks.ChangePayload{
		DocumentName: d.name,
		Document:     d,
		Update:       update,
		Origin:       origin,
	})

	d.scheduleSave()
}

// Broadcast queues an encoded frame to every attached connection except
// exceptID (when non-empty). Connections with a full buffer are dropped.
func (d *Document) Broadcast(frame []byte, exceptID string) {
	d.connMu.RLock()
	conns := make([]*Connection, 0, len(d.connections))
	for _, c := range d.connections {
		if exceptID != "" && c.id == exceptID {
			continue
		}
		conns = append(conns, c)
	}
	d.connMu.RUnlock()

	for _, c := range conns {
		if !c.send(frame) {
			log.Printf("⚠️  Connection %s buffer full on document %s, closing", c.id, d.name)
			c.close()
		}
	}
}

// scheduleSave (re)arms the debounce timer after a change.
func (d *Document) scheduleSave() {
	d.debMu.Lock()
	defer d.debMu.Unlock()

	now := time.Now()
	if !d.pending {
		d.pending = true
		d.firstChange = now
	}
	d.lastChange = now

	deadline := d.lastChange.Add(d.debounce)
	if ceiling := d.firstChange.Add(d.maxDebounce); ceiling.Before(deadline) {
		deadline = ceiling
	}

	// Arming a new timer supersedes the previous pending one.
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(time.Until(deadline), d.flush)
}

// flush is the timer callback. Failures are logged and not retried.
func (d *Document) flush() {
	if err := d.save(context.Background()); err != nil {
		metrics.SaveFailures.Inc()
		log.Printf("⚠️  Store failed for document %s: %v (not retried; next change re-arms)", d.name, err)
	}
}

// save snapshots the document and runs the store hooks. It is a no-op when
// no change is pending, and never runs concurrently with another save for
// the same document.
func (d *Document) save(ctx context.Context) error {
	d.saveMu.Lock()
	defer d.saveMu.Unlock()

	d.debMu.Lock()
	if !d.pending {
		d.debMu.Unlock()
		return nil
	}
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.debMu.Unlock()

	d.writeMu.RLock()
	state := d.doc.EncodeStateAsUpdate()
	stateVector := d.doc.EncodeStateVector()
	d.writeMu.RUnlock()

	payload := &hooks.StorePayload{DocumentName: d.name, Document: d, State: state, StateVector: stateVector}
	if err := d.pipeline.OnStoreDocument(ctx, payload); err != nil {
		return err
	}
	_ = d.pipeline.AfterStoreDocument(ctx, payload)

	metrics.Saves.Inc()
	return nil
}

// hasPending reports whether an unflushed change exists.
func (d *Document) hasPending() bool {
	d.debMu.Lock()
	defer d.debMu.Unlock()
	return d.pending
}

// stopTimer cancels any armed save timer.
func (d *Document) stopTimer() {
	d.debMu.Lock()
	defer d.debMu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// attach adds a connection. Attaching to an Unloading document cancels the
// teardown (reactivation). Returns false once the document has left the
// registry; the caller must get-or-create a fresh instance.
func (d *Document) attach(conn *Connection) bool {
	d.connMu.Lock()
	defer d.connMu.Unlock()

	if d.removed {
		return false
	}

	switch DocState(d.state.Load()) {
	case StateLoaded:
	case StateUnloading:
		d.state.Store(int32(StateLoaded)) // reactivation
	default:
		return false
	}

	d.connections[conn.id] = conn
	return true
}

// detach removes a connection and returns how many remain.
func (d *Document) detach(conn *Connection) int {
	d.connMu.Lock()
	delete(d.connections, conn.id)
	remaining := len(d.connections)
	d.connMu.Unlock()

	d.awareMu.Lock()
	delete(d.awareness, conn.id)
	d.awareMu.Unlock()

	return remaining
}

// setAwareness stores a connection's latest awareness payload.
func (d *Document) setAwareness(connID string, payload []byte) {
	d.awareMu.Lock()
	defer d.awareMu.Unlock()
	d.awareness[connID] = payload
}

// awarenessStates snapshots the stored awareness payloads, excluding the
// requesting connection's own.
func (d *Document) awarenessStates(exceptID string) [][]byte {
	d.awareMu.RLock()
	defer d.awareMu.RUnlock()
	states := make([][]byte, 0, len(d.awareness))
	for id, payload := range d.awareness {
		if id == exceptID {
			continue
		}
		states = append(states, payload)
	}
	return states
}
