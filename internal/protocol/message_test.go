package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	types := []MessageType{
		MessageSync, MessageAwareness, MessageAuth, MessageQueryAwareness,
		MessageSyncReply, MessageStateless, MessageBroadcastStateless,
		MessageClose, MessageSyncStatus,
	}
	payloads := [][]byte{nil, {}, {0x01}, {0xDE, 0xAD, 0xBE, 0xEF}, bytes.Repeat([]byte{0x7F}, 300)}

	for _, typ := range types {
		for _, payload := range payloads {
			msg := &Message{DocumentName: "doc-a", Type: typ, Payload: payload}

			got, err := DecodeMessage(msg.Encode())
			if err != nil {
				t.Fatalf("%s/%d bytes: decode failed: %v", typ, len(payload), err)
			}
			if got.DocumentName != msg.DocumentName {
				t.Errorf("%s: name %q, want %q", typ, got.DocumentName, msg.DocumentName)
			}
			if got.Type != msg.Type {
				t.Errorf("%s: type %v, want %v", typ, got.Type, msg.Type)
			}
			if !bytes.Equal(got.Payload, msg.Payload) {
				t.Errorf("%s: payload %v, want %v", typ, got.Payload, msg.Payload)
			}
		}
	}
}

func TestMessageEncodeCanonical(t *testing.T) {
	msg := &Message{DocumentName: "doc", Type: MessageAwareness, Payload: []byte{1, 2, 3}}
	if !bytes.Equal(msg.Encode(), msg.Encode()) {
		t.Fatal("Encode is not deterministic")
	}
}

// SYNC bodies are raw trailing bytes; everything else is length-prefixed.
func TestMessageBodyFraming(t *testing.T) {
	payload := []byte{0x10, 0x20, 0x30}

	sync := (&Message{DocumentName: "d", Type: MessageSync, Payload: payload}).Encode()
	// varString("d") + varInt(0) + raw body
	wantSync := append([]byte{1, 'd', 0}, payload...)
	if !bytes.Equal(sync, wantSync) {
		t.Errorf("SYNC framing: %v, want %v", sync, wantSync)
	}

	auth := (&Message{DocumentName: "d", Type: MessageAuth, Payload: payload}).Encode()
	// varString("d") + varInt(2) + varInt(3) + body
	wantAuth := append([]byte{1, 'd', 2, 3}, payload...)
	if !bytes.Equal(auth, wantAuth) {
		t.Errorf("AUTH framing: %v, want %v", auth, wantAuth)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	var e Encoder
	e.WriteVarString("doc")
	e.WriteVarUint(99)
	e.WriteRaw([]byte{0xAB, 0xCD})

	msg, err := DecodeMessage(e.Bytes())
	if err != nil {
		t.Fatalf("unknown type must decode, got error: %v", err)
	}
	if msg.Type != MessageUnknown {
		t.Fatalf("type = %v, want MessageUnknown", msg.Type)
	}
	if !bytes.Equal(msg.Payload, []byte{0xAB, 0xCD}) {
		t.Fatalf("payload = %v", msg.Payload)
	}
}

func TestDecodeTruncatedMessage(t *testing.T) {
	full := (&Message{DocumentName: "document", Type: MessageAwareness, Payload: []byte{1, 2, 3, 4}}).Encode()

	// Every proper prefix must fail cleanly, never panic.
	for i := 0; i < len(full); i++ {
		if _, err := DecodeMessage(full[:i]); !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("prefix of %d bytes: got %v, want ErrMalformedMessage", i, err)
		}
	}
}

func TestMessageTypeString(t *testing.T) {
	if s := MessageSync.String(); s != "SYNC" {
		t.Errorf("MessageSync.String() = %q", s)
	}
	if s := MessageType(42).String(); s != "UNKNOWN" {
		t.Errorf("MessageType(42).String() = %q", s)
	}
}
