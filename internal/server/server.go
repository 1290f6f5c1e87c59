package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"docsync/internal/crdt"
	"docsync/internal/hooks"
	"docsync/internal/metrics"
	"docsync/internal/middleware"
	"docsync/internal/protocol"

	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: THE SERVER FAÇADE

The façade owns the document registry and the extension pipeline. A
transport hands it decoded bytes; everything else — admission, per-document
authentication, the sync state machine, debounced persistence, teardown —
happens behind HandleConnection/HandleMessage. The transport never sees a
document, and the core never sees a socket.
*/

// Façade errors. Transports close the connection when HandleMessage returns
// ErrConnectionClosed-family failures; everything wrapping
// protocol.ErrMalformedMessage is a droppable bad frame that may also close.
var (
	ErrServerClosed         = errors.New("server is closed")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrReadOnly             = errors.New("read-only connection cannot mutate the document")
	ErrEmptyDocumentName    = errors.New("protocol violation: empty document name")
)

// Config configures a Server. Zero values select the documented defaults.
type Config struct {
	// Debounce is the quiet-period delay before a changed document is
	// persisted. Default 2s.
	Debounce time.Duration

	// MaxDebounce caps how long continuous editing can defer persistence.
	// Default 10s.
	MaxDebounce time.Duration

	// HookTimeout bounds each authoritative hook invocation.
	HookTimeout time.Duration

	// Engine supplies CRDT document handles. Defaults to the bundled
	// update-log engine.
	Engine crdt.Engine

	// Extensions participate in the lifecycle pipeline, ordered by
	// descending priority.
	Extensions []hooks.Extension
}

// Server is the top-level document-collaboration engine.
type Server struct {
	pipeline *hooks.Pipeline
	engine   crdt.Engine

	debounce    time.Duration
	maxDebounce time.Duration

	registry *registry

	connMu      sync.RWMutex
	connections map[string]*Connection

	closed atomic.Bool
}

// New builds a server from cfg.
func New(cfg Config) *Server {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if cfg.MaxDebounce < cfg.Debounce {
		cfg.MaxDebounce = 5 * cfg.Debounce
	}
	if cfg.Engine == nil {
		cfg.Engine = crdt.NewLogEngine()
	}

	return &Server{
		pipeline:    hooks.NewPipeline(cfg.HookTimeout, cfg.Extensions...),
		engine:      cfg.Engine,
		debounce:    cfg.Debounce,
		maxDebounce: cfg.MaxDebounce,
		registry:    newRegistry(),
		connections: make(map[string]*Connection),
	}
}

// Pipeline exposes the extension pipeline (used by transports for
// connection-scoped hooks and by tests).
func (s *Server) Pipeline() *hooks.Pipeline {
	return s.pipeline
}

// HandleConnection admits a new connection: creates its record and runs
// onConnect in authoritative order. An onConnect failure refuses admission.
func (s *Server) HandleConnection(ctx context.Context, initialContext map[string]any) (*Connection, error) {
	if s.closed.Load() {
		return nil, ErrServerClosed
	}

	conn := newConnection(initialContext)

	err := s.pipeline.OnConnect(ctx, &hooks.ConnectPayload{
		ConnectionID: conn.id,
		Context:      conn.context,
	})
	if err != nil {
		return nil, fmt.Errorf("connection refused: %w", err)
	}

	s.connMu.Lock()
	s.connections[conn.id] = conn
	s.connMu.Unlock()
	metrics.ConnectionsActive.Inc()

	log.Printf("✓ Connection %s admitted", conn.id)
	return conn, nil
}

// HandleMessage processes one inbound frame for conn. Frames for one
// connection must be delivered in arrival order; the transport's read loop
// gives that for free.
//
// A returned error means the transport should close the connection; the
// server has already queued a CLOSE frame where the protocol defines one.
func (s *Server) HandleMessage(ctx context.Context, conn *Connection, data []byte) error {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		return fmt.Errorf("dropping frame: %w", err)
	}

	metrics.MessagesHandled.WithLabelValues(msg.Type.String()).Inc()

	if msg.Type == protocol.MessageUnknown {
		// Well-formed frame of a future protocol version: log and drop.
		log.Printf("Dropping frame with unknown message type for document %q", msg.DocumentName)
		return nil
	}

	if msg.DocumentName == "" {
		return ErrEmptyDocumentName
	}

	ctx, span := middleware.StartSpan(ctx, "Server.HandleMessage",
		attribute.String("document.name", msg.DocumentName),
		attribute.String("message.type", msg.Type.String()),
		attribute.String("connection.id", conn.id),
	)
	defer span.End()

	// The first frame referencing a document authenticates the
	// (connection, document) pair before any mutation is permitted.
	if !conn.isAuthenticated(msg.DocumentName) {
		if err := s.authenticate(ctx, conn, msg); err != nil {
			middleware.AddSpanError(ctx, err)
			s.sendClose(conn, msg.DocumentName, "permission denied")
			return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		if msg.Type == protocol.MessageAuth {
			// An AUTH frame carries nothing beyond the token; the
			// acknowledgement was queued by authenticate.
			return nil
		}
	}

	doc := conn.document(msg.DocumentName)
	if doc == nil {
		// Re-attach: the client detached earlier (CLOSE) or the document
		// was unloaded between frames.
		doc, err = s.attachDocument(ctx, conn, msg.DocumentName)
		if err != nil {
			middleware.AddSpanError(ctx, err)
			return err
		}
	}

	return s.dispatch(ctx, conn, doc, msg)
}

func (s *Server) dispatch(ctx context.Context, conn *Connection, doc *Document, msg *protocol.Message) error {
	switch msg.Type {
	case protocol.MessageSync, protocol.MessageSyncReply:
		if conn.ReadOnly() && protocol.HasChanges(msg.Payload) {
			s.sendClose(conn, doc.name, "read-only")
			return ErrReadOnly
		}
		reply, err := doc.handleSync(ctx, conn, msg.Payload)
		if err != nil {
			return fmt.Errorf("sync on document %q: %w", doc.name, err)
		}
		if reply != nil {
			s.sendFrame(conn, doc.name, msg.Type, reply)
		}
		return nil

	case protocol.MessageAwareness:
		doc.setAwareness(conn.id, msg.Payload)
		frame := (&protocol.Message{DocumentName: doc.name, Type: protocol.MessageAwareness, Payload: msg.Payload}).Encode()
		doc.Broadcast(frame, conn.id)
		_ = s.pipeline.OnAwareness(ctx, &hooks.AwarenessPayload{
			DocumentName: doc.name,
			Document:     doc,
			Update:       msg.Payload,
			Origin:       conn.id,
		})
		return nil

	case protocol.MessageQueryAwareness:
		for _, state := range doc.awarenessStates(conn.id) {
			s.sendFrame(conn, doc.name, protocol.MessageAwareness, state)
		}
		return nil

	case protocol.MessageAuth:
		// Already authenticated above; acknowledge.
		s.sendAuthResult(conn, doc.name)
		return nil

	case protocol.MessageStateless:
		frame := (&protocol.Message{DocumentName: doc.name, Type: protocol.MessageStateless, Payload: msg.Payload}).Encode()
		doc.Broadcast(frame, conn.id)
		return nil

	case protocol.MessageBroadcastStateless:
		frame := (&protocol.Message{DocumentName: doc.name, Type: protocol.MessageBroadcastStateless, Payload: msg.Payload}).Encode()
		doc.Broadcast(frame, "")
		return nil

	case protocol.MessageClose:
		s.detachDocument(ctx, conn, doc)
		return nil

	case protocol.MessageSyncStatus:
		s.sendFrame(conn, doc.name, protocol.MessageSyncStatus, msg.Payload)
		return nil

	default:
		return nil
	}
}

// authenticate runs onAuthenticate for the (connection, document) pair,
// freezes the context, attaches the document and opens the sync handshake.
func (s *Server) authenticate(ctx context.Context, conn *Connection, msg *protocol.Message) error {
	var token []byte
	if msg.Type == protocol.MessageAuth {
		token = msg.Payload
	}

	payload := &hooks.AuthenticatePayload{
		ConnectionID: conn.id,
		DocumentName: msg.DocumentName,
		Token:        token,
		Context:      conn.context,
		ReadOnly:     conn.ReadOnly(),
	}
	if err := s.pipeline.OnAuthenticate(ctx, payload); err != nil {
		return err
	}

	if payload.ReadOnly {
		conn.readOnly.Store(true)
	}

	// Context keys set before this point stay visible to every later hook
	// in the connection's lifetime; nothing may change them anymore.
	conn.context.freeze()
	conn.markAuthenticated(msg.DocumentName)

	doc, err := s.attachDocument(ctx, conn, msg.DocumentName)
	if err != nil {
		return err
	}

	if msg.Type == protocol.MessageAuth {
		s.sendAuthResult(conn, doc.name)
	}

	// Open the handshake: announce our state vector so the client sends
	// what we are missing.
	s.sendFrame(conn, doc.name, protocol.MessageSync, protocol.EncodeSyncStep1(doc.StateVector()))
	return nil
}

// attachDocument resolves the named document through the registry,
// loading it on first reference, and attaches conn to it.
func (s *Server) attachDocument(ctx context.Context, conn *Connection, name string) (*Document, error) {
	for {
		s.registry.mu.Lock()
		e, ok := s.registry.entries[name]
		if ok {
			s.registry.mu.Unlock()
			<-e.ready
			if e.err != nil {
				return nil, e.err
			}
			if e.doc.attach(conn) {
				conn.rememberDocument(e.doc)
				return e.doc, nil
			}
			// The document unloaded underneath us; try again with a
			// fresh registry entry.
			continue
		}

		e = &registryEntry{ready: make(chan struct{})}
		s.registry.entries[name] = e
		s.registry.mu.Unlock()

		doc, err := s.loadDocument(ctx, name)
		if err != nil {
			s.registry.mu.Lock()
			delete(s.registry.entries, name)
			s.registry.mu.Unlock()
			e.err = err
			close(e.ready)
			return nil, err
		}

		e.doc = doc
		close(e.ready)

		doc.attach(conn) // freshly loaded, cannot fail
		conn.rememberDocument(doc)
		return doc, nil
	}
}

// loadDocument runs the Unloaded → Loading → Loaded transition.
func (s *Server) loadDocument(ctx context.Context, name string) (*Document, error) {
	ctx, span := middleware.StartSpan(ctx, "Server.LoadDocument",
		attribute.String("document.name", name))
	defer span.End()

	d := newDocument(name, s.engine.CreateDocument(), s.pipeline, s.debounce, s.maxDebounce)

	if err := s.pipeline.OnCreateDocument(ctx, &hooks.CreateDocumentPayload{DocumentName: name}); err != nil {
		d.doc.Close()
		return nil, fmt.Errorf("creating document %q: %w", name, err)
	}

	load := &hooks.LoadDocumentPayload{DocumentName: name}
	if err := s.pipeline.OnLoadDocument(ctx, load); err != nil {
		d.doc.Close()
		return nil, fmt.Errorf("loading document %q: %w", name, err)
	}

	// The first extension to supply state wins; an empty registry of
	// extensions simply leaves the document blank.
	if state, ok := load.State(); ok && len(state) > 0 {
		if err := d.doc.ApplyUpdate(state); err != nil {
			d.doc.Close()
			return nil, fmt.Errorf("applying persisted state for %q: %w", name, err)
		}
	}

	d.state.Store(int32(StateLoaded))
	_ = s.pipeline.AfterLoadDocument(ctx, &hooks.DocumentPayload{DocumentName: name, Document: d})

	metrics.DocumentsLoaded.Inc()
	metrics.DocumentsActive.Inc()
	log.Printf("✓ Document %q loaded", name)
	return d, nil
}

// detachDocument removes conn from doc and tears the document down when it
// was the last one attached.
func (s *Server) detachDocument(ctx context.Context, conn *Connection, doc *Document) {
	conn.forgetDocument(doc.name)
	if doc.detach(conn) == 0 {
		s.unloadDocument(ctx, doc)
	}
}

// unloadDocument runs Loaded → Unloading → Unloaded, with a reactivation
// escape hatch when a connection attaches mid-teardown.
func (s *Server) unloadDocument(ctx context.Context, doc *Document) {
	// Only one unloader may proceed.
	if !doc.state.CompareAndSwap(int32(StateLoaded), int32(StateUnloading)) {
		return
	}

	payload := &hooks.DocumentPayload{DocumentName: doc.name, Document: doc}
	if err := s.pipeline.BeforeUnloadDocument(ctx, payload); err != nil {
		log.Printf("⚠️  beforeUnloadDocument for %q: %v", doc.name, err)
	}

	// Forced final flush: nothing pending may be lost to the teardown.
	if doc.hasPending() {
		if err := doc.save(ctx); err != nil {
			metrics.SaveFailures.Inc()
			log.Printf("⚠️  Final store failed for document %q: %v", doc.name, err)
		}
	}

	// Decision point: a connection that attached while we were flushing
	// wins, and the document stays loaded.
	s.registry.mu.Lock()
	doc.connMu.Lock()
	if len(doc.connections) > 0 || doc.LifecycleState() == StateLoaded {
		doc.state.Store(int32(StateLoaded))
		doc.connMu.Unlock()
		s.registry.mu.Unlock()

		// Extensions already tore down their per-document state in
		// beforeUnloadDocument; announce the still-live document again
		// so they rebuild it (the replication extension resubscribes
		// here).
		_ = s.pipeline.AfterLoadDocument(ctx, payload)
		log.Printf("✓ Document %q reactivated during unload", doc.name)
		return
	}
	doc.removed = true
	doc.connMu.Unlock()
	delete(s.registry.entries, doc.name)
	s.registry.mu.Unlock()

	doc.stopTimer()
	doc.writeMu.Lock()
	doc.doc.Close()
	doc.writeMu.Unlock()
	doc.state.Store(int32(StateUnloaded))

	_ = s.pipeline.AfterUnloadDocument(ctx, payload)
	metrics.DocumentsActive.Dec()
	log.Printf("✓ Document %q unloaded", doc.name)
}

// CloseConnection tears down one connection: detaches its documents
// (unloading any left empty), fires onDisconnect, releases the record.
func (s *Server) CloseConnection(ctx context.Context, conn *Connection) {
	s.connMu.Lock()
	_, known := s.connections[conn.id]
	delete(s.connections, conn.id)
	s.connMu.Unlock()
	if !known {
		return
	}

	for _, doc := range conn.attachedDocuments() {
		s.detachDocument(ctx, conn, doc)
	}

	_ = s.pipeline.OnDisconnect(ctx, &hooks.ConnectPayload{
		ConnectionID: conn.id,
		Context:      conn.context,
	})

	conn.close()
	metrics.ConnectionsActive.Dec()
	log.Printf("✓ Connection %s closed", conn.id)
}

// GetDocument returns the loaded document for name, or nil.
func (s *Server) GetDocument(name string) *Document {
	return s.registry.lookup(name)
}

// Documents snapshots the currently loaded documents.
func (s *Server) Documents() []*Document {
	return s.registry.loaded()
}

// Stats reports registry and connection counts for the admin surface.
func (s *Server) Stats() (documents, connections int) {
	s.connMu.RLock()
	connections = len(s.connections)
	s.connMu.RUnlock()
	return s.registry.count(), connections
}

// Close shuts the server down: forces final saves for every loaded
// document, fires onDestroy, releases resources. Idempotent.
func (s *Server) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	log.Println("🛑 Shutting down collaboration server...")

	s.connMu.Lock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.connections = make(map[string]*Connection)
	s.connMu.Unlock()

	for _, c := range conns {
		c.close()
	}

	var firstErr error
	for _, doc := range s.registry.loaded() {
		if doc.hasPending() {
			if err := doc.save(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		doc.stopTimer()
		doc.writeMu.Lock()
		doc.doc.Close()
		doc.writeMu.Unlock()
		doc.state.Store(int32(StateUnloaded))
	}

	s.registry.mu.Lock()
	s.registry.entries = make(map[string]*registryEntry)
	s.registry.mu.Unlock()

	if err := s.pipeline.OnDestroy(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	log.Println("✓ Collaboration server shutdown complete")
	return firstErr
}

// sendFrame queues one outgoing frame on conn.
func (s *Server) sendFrame(conn *Connection, docName string, t protocol.MessageType, payload []byte) {
	frame := (&protocol.Message{DocumentName: docName, Type: t, Payload: payload}).Encode()
	if !conn.send(frame) {
		conn.close()
	}
}

// sendClose queues a CLOSE frame carrying a reason, then lets the caller
// drop the transport.
func (s *Server) sendClose(conn *Connection, docName, reason string) {
	var e protocol.Encoder
	e.WriteVarString(reason)
	s.sendFrame(conn, docName, protocol.MessageClose, e.Bytes())
}

func (s *Server) sendAuthResult(conn *Connection, docName string) {
	result := "authenticated"
	if conn.ReadOnly() {
		result = "readonly"
	}
	var e protocol.Encoder
	e.WriteVarString(result)
	s.sendFrame(conn, docName, protocol.MessageAuth, e.Bytes())
}
