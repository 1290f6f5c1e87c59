// Package hooks defines the extension contract and the ordered pipeline
// that dispatches lifecycle hooks to registered extensions.
package hooks

import (
	"context"
	"errors"
)

/*
LEARNING: INTERFACE WITH NO-OP DEFAULTS

Extensions implement only the hooks they care about. Instead of inheritance,
Go gets the same effect by embedding BaseExtension: the embedded no-op
methods satisfy the interface, and the extension overrides just what it
needs.

  type AuditLog struct {
      hooks.BaseExtension
  }
  func (AuditLog) OnChange(ctx context.Context, p *hooks.ChangePayload) error { ... }
*/

// ErrContextFrozen is returned when a connection context is written after
// authentication has completed.
var ErrContextFrozen = errors.New("connection context is frozen")

// ConnContext is the per-connection key/value context handed to hooks.
// It is mutable during OnConnect/OnAuthenticate and permanently frozen once
// authentication completes; later writes fail with ErrContextFrozen.
type ConnContext interface {
	Get(key string) (any, bool)
	Set(key string, value any) error
}

// Document is the view of a loaded document that hooks receive. The server's
// lifecycle manager implements it; extensions use it to feed remote updates
// back in and to reach local connections.
type Document interface {
	Name() string

	// State snapshots the current document content as update bytes.
	State() []byte

	// ApplyUpdate merges update bytes under the document's write
	// serialisation. origin is threaded through to the resulting OnChange
	// payloads so the producing extension can recognise its own writes.
	ApplyUpdate(ctx context.Context, update []byte, origin any) error

	// Broadcast queues an encoded frame to every attached connection,
	// skipping the connection id exceptID when non-empty.
	Broadcast(frame []byte, exceptID string)
}

// ConnectPayload accompanies OnConnect and OnDisconnect.
type ConnectPayload struct {
	ConnectionID string
	Context      ConnContext
}

// AuthenticatePayload accompanies OnAuthenticate. An extension denies
// admission by returning an error; it may also mark the connection
// read-only before admitting it.
type AuthenticatePayload struct {
	ConnectionID string
	DocumentName string
	Token        []byte
	Context      ConnContext
	ReadOnly     bool
}

// CreateDocumentPayload accompanies OnCreateDocument, fired once per load.
type CreateDocumentPayload struct {
	DocumentName string
}

// LoadDocumentPayload accompanies OnLoadDocument. The first extension to
// call SetState wins; later calls in the same load are ignored.
type LoadDocumentPayload struct {
	DocumentName string

	state  []byte
	loaded bool
}

// SetState supplies the persisted document state. Returns false if an
// earlier extension in the chain already supplied one.
func (p *LoadDocumentPayload) SetState(state []byte) bool {
	if p.loaded {
		return false
	}
	p.state = state
	p.loaded = true
	return true
}

// State returns the supplied state, if any extension provided one.
func (p *LoadDocumentPayload) State() ([]byte, bool) {
	return p.state, p.loaded
}

// DocumentPayload accompanies AfterLoadDocument, BeforeUnloadDocument and
// AfterUnloadDocument.
type DocumentPayload struct {
	DocumentName string
	Document     Document
}

// ChangePayload accompanies OnChange.
type ChangePayload struct {
	DocumentName string
	Document     Document
	Update       []byte

	// Origin identifies what produced the change: a connection id string
	// for client edits, or the extension that injected a remote update.
	// Extensions compare it against themselves to break publish loops.
	Origin any
}

// StorePayload accompanies OnStoreDocument and AfterStoreDocument.
type StorePayload struct {
	DocumentName string
	Document     Document
	State        []byte
	StateVector  []byte
}

// AwarenessPayload accompanies OnAwareness (see AwarenessObserver).
type AwarenessPayload struct {
	DocumentName string
	Document     Document
	Update       []byte
	Origin       any
}

// Extension is the full twelve-hook lifecycle contract.
type Extension interface {
	// Priority orders hook invocation: higher first, registration order
	// breaks ties.
	Priority() int

	OnConnect(ctx context.Context, p *ConnectPayload) error
	OnAuthenticate(ctx context.Context, p *AuthenticatePayload) error
	OnCreateDocument(ctx context.Context, p *CreateDocumentPayload) error
	OnLoadDocument(ctx context.Context, p *LoadDocumentPayload) error
	AfterLoadDocument(ctx context.Context, p *DocumentPayload) error
	OnChange(ctx context.Context, p *ChangePayload) error
	OnStoreDocument(ctx context.Context, p *StorePayload) error
	AfterStoreDocument(ctx context.Context, p *StorePayload) error
	BeforeUnloadDocument(ctx context.Context, p *DocumentPayload) error
	AfterUnloadDocument(ctx context.Context, p *DocumentPayload) error
	OnDisconnect(ctx context.Context, p *ConnectPayload) error
	OnDestroy(ctx context.Context) error
}

// AwarenessObserver is an optional interface for extensions that want to see
// awareness (presence) traffic. Awareness is ephemeral, so it is not part of
// the persistence-oriented hook set.
type AwarenessObserver interface {
	OnAwareness(ctx context.Context, p *AwarenessPayload) error
}

// BaseExtension provides no-op defaults for every hook at priority 0.
type BaseExtension struct{}

func (BaseExtension) Priority() int { return 0 }

func (BaseExtension) OnConnect(context.Context, *ConnectPayload) error              { return nil }
func (BaseExtension) OnAuthenticate(context.Context, *AuthenticatePayload) error    { return nil }
func (BaseExtension) OnCreateDocument(context.Context, *CreateDocumentPayload) error { return nil }
func (BaseExtension) OnLoadDocument(context.Context, *LoadDocumentPayload) error    { return nil }
func (BaseExtension) AfterLoadDocument(context.Context, *DocumentPayload) error     { return nil }
func (BaseExtension) OnChange(context.Context, *ChangePayload) error                { return nil }
func (BaseExtension) OnStoreDocument(context.Context, *StorePayload) error          { return nil }
func (BaseExtension) AfterStoreDocument(context.Context, *StorePayload) error       { return nil }
func (BaseExtension) BeforeUnloadDocument(context.Context, *DocumentPayload) error  { return nil }
func (BaseExtension) AfterUnloadDocument(context.Context, *DocumentPayload) error   { return nil }
func (BaseExtension) OnDisconnect(context.Context, *ConnectPayload) error           { return nil }
func (BaseExtension) OnDestroy(context.Context) error                               { return nil }
