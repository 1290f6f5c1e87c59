package server

import (
	"sync"
	"sync/atomic"
	"time"

	"docsync/internal/hooks"

	"github.com/segmentio/ksuid"
)

/*
LEARNING: TWO-PHASE CONNECTION CONTEXT

Extensions enrich the connection context during onConnect/onAuthenticate
(user ids, roles, claims pulled from the token). Once authentication
completes the context freezes permanently: every hook invoked later in the
connection's lifetime sees exactly the values that were present at admission
time, and writes fail with a typed error instead of silently diverging.
*/

// outboundBuffer is the per-connection queue depth for encoded frames.
// A connection that cannot drain this many frames is considered dead.
const outboundBuffer = 256

// Connection is one admitted client connection, transport-agnostic. The
// transport feeds inbound frames to Server.HandleMessage and drains
// Outbound; the server never touches sockets.
type Connection struct {
	id          string
	context     *connContext
	readOnly    atomic.Bool
	connectedAt time.Time

	outbound chan []byte
	done     chan struct{}
	closer   sync.Once

	mu        sync.Mutex
	documents map[string]*Document // attached documents
	authed    map[string]bool      // document names this connection authenticated for
}

func newConnection(initialContext map[string]any) *Connection {
	values := make(map[string]any, len(initialContext))
	for k, v := range initialContext {
		values[k] = v
	}

	return &Connection{
		id:          ksuid.New().String(),
		context:     &connContext{values: values},
		connectedAt: time.Now(),
		outbound:    make(chan []byte, outboundBuffer),
		done:        make(chan struct{}),
		documents:   make(map[string]*Document),
		authed:      make(map[string]bool),
	}
}

// ID returns the transport-visible connection id.
func (c *Connection) ID() string {
	return c.id
}

// Context returns the connection's hook context.
func (c *Connection) Context() hooks.ConnContext {
	return c.context
}

// ReadOnly reports whether authentication marked this connection read-only.
func (c *Connection) ReadOnly() bool {
	return c.readOnly.Load()
}

// Outbound is the queue of encoded frames for the transport to deliver.
func (c *Connection) Outbound() <-chan []byte {
	return c.outbound
}

// Done is closed when the connection is torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// send queues one encoded frame without blocking. Returns false when the
// connection is closed or its buffer is full (slow/dead client).
func (c *Connection) send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.outbound <- frame:
		return true
	case <-c.done:
		return false
	default:
		// Buffer full - connection is slow/dead
		return false
	}
}

// close tears the connection down. Safe to call more than once.
func (c *Connection) close() {
	c.closer.Do(func() {
		close(c.done)
	})
}

func (c *Connection) isAuthenticated(documentName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authed[documentName]
}

func (c *Connection) markAuthenticated(documentName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authed[documentName] = true
}

func (c *Connection) rememberDocument(d *Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.documents[d.name] = d
}

func (c *Connection) forgetDocument(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.documents, name)
}

func (c *Connection) document(name string) *Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.documents[name]
}

func (c *Connection) attachedDocuments() []*Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	docs := make([]*Document, 0, len(c.documents))
	for _, d := range c.documents {
		docs = append(docs, d)
	}
	return docs
}

// connContext is the mutable-then-frozen key/value store behind
// hooks.ConnContext.
type connContext struct {
	mu     sync.RWMutex
	values map[string]any
	frozen bool
}

func (c *connContext) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *connContext) Set(key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return hooks.ErrContextFrozen
	}
	c.values[key] = value
	return nil
}

func (c *connContext) freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}
