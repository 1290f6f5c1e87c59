package redis

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"docsync/internal/hooks"
	"docsync/internal/metrics"
	"docsync/internal/protocol"
)

/*
LEARNING: MULTI-INSTANCE REPLICATION OVER PUB/SUB

Horizontal scale: several server processes share the same documents, and a
change on one must reach clients connected to another. Each instance

  - subscribes a per-document channel (plus ":awareness") when the
    document loads,
  - publishes every local change wrapped in an envelope carrying its own
    random instance id,
  - drops inbound envelopes that carry that same id (self-origin filter),
  - feeds the rest back through Document.ApplyUpdate with THIS EXTENSION
    as the origin, so the resulting onChange is recognisably ours and is
    never republished (loop break).

Awareness traffic is throttled per document: cursors move far faster than
remote peers need to see, so most awareness publishes are dropped.

A Redis outage degrades, never breaks: publish failures are logged and
local collaboration continues single-instance.
*/

// Channel names carry a fixed kind segment before the document name
// ("<prefix>:update:<name>" / "<prefix>:awareness:<name>") so a document
// whose own name ends in ":awareness" can never alias another document's
// awareness channel.
const (
	kindUpdate    = "update:"
	kindAwareness = "awareness:"
)

// Options configures the replication extension.
type Options struct {
	// Prefix namespaces the pub/sub channels and snapshot keys.
	// Defaults to "docsync".
	Prefix string

	// AwarenessThrottle caps awareness publishes per document. Zero
	// publishes everything.
	AwarenessThrottle time.Duration
}

// Extension replicates document changes between server instances through
// Redis pub/sub.
type Extension struct {
	hooks.BaseExtension

	rdb        *redis.Client
	prefix     string
	instanceID string
	throttle   *Throttler

	mu   sync.Mutex
	docs map[string]hooks.Document
	subs map[string]*redis.PubSub
}

// New creates a replication extension on an existing Redis client. The
// client is owned by the caller and survives OnDestroy.
func New(rdb *redis.Client, opts Options) *Extension {
	if opts.Prefix == "" {
		opts.Prefix = "docsync"
	}
	return &Extension{
		rdb:        rdb,
		prefix:     opts.Prefix,
		instanceID: uuid.NewString(),
		throttle:   NewThrottler(opts.AwarenessThrottle),
		docs:       make(map[string]hooks.Document),
		subs:       make(map[string]*redis.PubSub),
	}
}

// Priority runs replication ahead of ordinary extensions so remote state
// is wired up before anything else observes the loaded document.
func (e *Extension) Priority() int { return 1000 }

// InstanceID exposes this process's replication identity.
func (e *Extension) InstanceID() string { return e.instanceID }

func (e *Extension) docChannel(name string) string {
	return e.prefix + ":" + kindUpdate + name
}

func (e *Extension) awarenessChannel(name string) string {
	return e.prefix + ":" + kindAwareness + name
}

// AfterLoadDocument subscribes the document's change and awareness channels
// and starts pumping inbound messages.
func (e *Extension) AfterLoadDocument(ctx context.Context, p *hooks.DocumentPayload) error {
	sub := e.rdb.Subscribe(ctx, e.docChannel(p.DocumentName), e.awarenessChannel(p.DocumentName))

	e.mu.Lock()
	e.docs[p.DocumentName] = p.Document
	e.subs[p.DocumentName] = sub
	e.mu.Unlock()

	go e.listen(sub)
	return nil
}

func (e *Extension) listen(sub *redis.PubSub) {
	for msg := range sub.Channel() {
		e.handleInbound(msg.Channel, []byte(msg.Payload))
	}
}

// handleInbound routes one pub/sub message. Factored off the subscription
// goroutine so the filtering logic is testable without a broker.
func (e *Extension) handleInbound(channel string, data []byte) {
	sender, payload, err := DecodeEnvelope(data)
	if err != nil {
		log.Printf("⚠️  Replication: dropping envelope on %s: %v", channel, err)
		return
	}
	if sender == e.instanceID {
		metrics.ReplicationSelfFiltered.Inc()
		return
	}

	rest := strings.TrimPrefix(channel, e.prefix+":")
	var name string
	var awareness bool
	switch {
	case strings.HasPrefix(rest, kindUpdate):
		name = strings.TrimPrefix(rest, kindUpdate)
	case strings.HasPrefix(rest, kindAwareness):
		name = strings.TrimPrefix(rest, kindAwareness)
		awareness = true
	default:
		log.Printf("⚠️  Replication: message on unexpected channel %s", channel)
		return
	}

	e.mu.Lock()
	doc := e.docs[name]
	e.mu.Unlock()
	if doc == nil {
		return // unloaded between receive and dispatch
	}
	metrics.ReplicationReceived.Inc()

	if awareness {
		frame := (&protocol.Message{
			DocumentName: name,
			Type:         protocol.MessageAwareness,
			Payload:      payload,
		}).Encode()
		doc.Broadcast(frame, "")
		return
	}

	// Applying with the extension as origin keeps OnChange from
	// republishing what we just received.
	if err := doc.ApplyUpdate(context.Background(), payload, e); err != nil {
		log.Printf("⚠️  Replication: applying remote update to %q: %v", name, err)
	}
}

// OnChange publishes local changes. Changes this extension injected are
// recognised by origin and skipped.
func (e *Extension) OnChange(ctx context.Context, p *hooks.ChangePayload) error {
	if p.Origin == e {
		return nil
	}

	envelope := EncodeEnvelope(e.instanceID, p.Update)
	if err := e.rdb.Publish(ctx, e.docChannel(p.DocumentName), envelope).Err(); err != nil {
		// Degraded mode: keep serving local clients.
		log.Printf("⚠️  Replication: publish for %q failed: %v", p.DocumentName, err)
		return nil
	}
	metrics.ReplicationPublished.Inc()
	return nil
}

// OnAwareness publishes awareness updates, throttled per document.
func (e *Extension) OnAwareness(ctx context.Context, p *hooks.AwarenessPayload) error {
	if p.Origin == e {
		return nil
	}
	if !e.throttle.TryAcquire(p.DocumentName) {
		return nil
	}

	envelope := EncodeEnvelope(e.instanceID, p.Update)
	if err := e.rdb.Publish(ctx, e.awarenessChannel(p.DocumentName), envelope).Err(); err != nil {
		log.Printf("⚠️  Replication: awareness publish for %q failed: %v", p.DocumentName, err)
	}
	return nil
}

// OnStoreDocument mirrors the flushed state into a Redis key so a freshly
// started instance can warm-load without the database.
func (e *Extension) OnStoreDocument(ctx context.Context, p *hooks.StorePayload) error {
	key := e.prefix + ":doc:" + p.DocumentName
	if err := e.rdb.Set(ctx, key, p.State, 0).Err(); err != nil {
		log.Printf("⚠️  Replication: caching state for %q failed: %v", p.DocumentName, err)
	}
	return nil
}

// BeforeUnloadDocument drops the document's subscriptions and throttle
// history.
func (e *Extension) BeforeUnloadDocument(ctx context.Context, p *hooks.DocumentPayload) error {
	e.mu.Lock()
	sub := e.subs[p.DocumentName]
	delete(e.subs, p.DocumentName)
	delete(e.docs, p.DocumentName)
	e.mu.Unlock()

	e.throttle.Remove(p.DocumentName)

	if sub != nil {
		if err := sub.Close(); err != nil {
			return fmt.Errorf("closing subscription for %q: %w", p.DocumentName, err)
		}
	}
	return nil
}

// OnDestroy closes every remaining subscription. The Redis client itself
// belongs to the caller.
func (e *Extension) OnDestroy(ctx context.Context) error {
	e.mu.Lock()
	subs := e.subs
	e.subs = make(map[string]*redis.PubSub)
	e.docs = make(map[string]hooks.Document)
	e.mu.Unlock()

	var firstErr error
	for name, sub := range subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing subscription for %q: %w", name, err)
		}
	}
	e.throttle.Clear()
	return firstErr
}
