package redis

import (
	"bytes"
	"context"
	"testing"

	"docsync/internal/protocol"
)

// fakeDocument records what the extension feeds back into a document.
type fakeDocument struct {
	name    string
	applied [][]byte
	origins []any
	frames  [][]byte
}

func (d *fakeDocument) Name() string  { return d.name }
func (d *fakeDocument) State() []byte { return nil }

func (d *fakeDocument) ApplyUpdate(ctx context.Context, update []byte, origin any) error {
	d.applied = append(d.applied, update)
	d.origins = append(d.origins, origin)
	return nil
}

func (d *fakeDocument) Broadcast(frame []byte, exceptID string) {
	d.frames = append(d.frames, frame)
}

func newTestExtension(doc *fakeDocument) *Extension {
	e := New(nil, Options{Prefix: "test"})
	e.docs[doc.name] = doc
	return e
}

func TestInboundSelfEnvelopeIsDropped(t *testing.T) {
	doc := &fakeDocument{name: "doc-a"}
	e := newTestExtension(doc)

	e.handleInbound("test:update:doc-a", EncodeEnvelope(e.InstanceID(), []byte("update")))

	if len(doc.applied) != 0 {
		t.Fatal("self-origin envelope must not be applied")
	}
}

func TestInboundRemoteUpdateIsAppliedWithExtensionOrigin(t *testing.T) {
	doc := &fakeDocument{name: "doc-a"}
	e := newTestExtension(doc)

	e.handleInbound("test:update:doc-a", EncodeEnvelope("other-instance", []byte("update")))

	if len(doc.applied) != 1 || !bytes.Equal(doc.applied[0], []byte("update")) {
		t.Fatalf("applied = %q", doc.applied)
	}
	// Origin must identify the extension so its own OnChange skips it.
	if doc.origins[0] != any(e) {
		t.Fatalf("origin = %T, want the extension itself", doc.origins[0])
	}
}

func TestInboundAwarenessIsBroadcastNotApplied(t *testing.T) {
	doc := &fakeDocument{name: "doc-a"}
	e := newTestExtension(doc)

	e.handleInbound("test:awareness:doc-a", EncodeEnvelope("other-instance", []byte("cursor")))

	if len(doc.applied) != 0 {
		t.Fatal("awareness must not touch document content")
	}
	if len(doc.frames) != 1 {
		t.Fatalf("broadcast %d frames, want 1", len(doc.frames))
	}
	msg, err := protocol.DecodeMessage(doc.frames[0])
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != protocol.MessageAwareness || msg.DocumentName != "doc-a" || string(msg.Payload) != "cursor" {
		t.Fatalf("broadcast frame = %+v", msg)
	}
}

func TestChannelKindsDoNotAlias(t *testing.T) {
	// A document literally named "doc-a:awareness" must not receive
	// another document's awareness traffic, and vice versa.
	plain := &fakeDocument{name: "doc-a"}
	tricky := &fakeDocument{name: "doc-a:awareness"}
	e := New(nil, Options{Prefix: "test"})
	e.docs[plain.name] = plain
	e.docs[tricky.name] = tricky

	if e.docChannel(tricky.name) == e.awarenessChannel(plain.name) {
		t.Fatal("content and awareness channels collide")
	}

	e.handleInbound(e.docChannel(tricky.name), EncodeEnvelope("other-instance", []byte("update")))
	if len(tricky.applied) != 1 || len(tricky.frames) != 0 {
		t.Fatalf("tricky document: applied=%d frames=%d, want content update", len(tricky.applied), len(tricky.frames))
	}
	if len(plain.applied) != 0 || len(plain.frames) != 0 {
		t.Fatal("plain document received traffic addressed to another document")
	}

	e.handleInbound(e.awarenessChannel(plain.name), EncodeEnvelope("other-instance", []byte("cursor")))
	if len(plain.frames) != 1 || len(plain.applied) != 0 {
		t.Fatalf("plain document: applied=%d frames=%d, want awareness broadcast", len(plain.applied), len(plain.frames))
	}
}

func TestInboundForUnknownDocumentIsIgnored(t *testing.T) {
	e := New(nil, Options{Prefix: "test"})
	// Must not panic with no registered document.
	e.handleInbound("test:update:ghost", EncodeEnvelope("other-instance", []byte("x")))
}

func TestInboundMalformedEnvelopeIsDropped(t *testing.T) {
	doc := &fakeDocument{name: "doc-a"}
	e := newTestExtension(doc)

	e.handleInbound("test:update:doc-a", []byte{0x01})

	if len(doc.applied) != 0 || len(doc.frames) != 0 {
		t.Fatal("malformed envelope must be dropped")
	}
}
