package protocol

import "fmt"

/*
LEARNING: MESSAGE FRAMING

Every frame on the wire is:

  varString(documentName) varInt(messageType) body

The body rule depends on the type:
- SYNC and SYNC_REPLY carry their body raw (all remaining bytes), because the
  sync sub-protocol does its own internal tagging
- every other type carries a varint length-prefixed body

An unrecognised type value decodes to MessageUnknown instead of failing, so
the caller can log and drop the frame without tearing down the connection.
*/

// MessageType identifies the kind of frame.
type MessageType int

const (
	MessageSync               MessageType = 0 // Sync protocol (Step1/Step2/Update)
	MessageAwareness          MessageType = 1 // Presence state (cursors, users)
	MessageAuth               MessageType = 2 // Authentication token / result
	MessageQueryAwareness     MessageType = 3 // Request current awareness states
	MessageSyncReply          MessageType = 4 // Sync protocol reply channel
	MessageStateless          MessageType = 5 // Application-defined payload to peers
	MessageBroadcastStateless MessageType = 6 // Application-defined payload to the room
	MessageClose              MessageType = 7 // Server-initiated close with reason
	MessageSyncStatus         MessageType = 8 // Sync completion acknowledgement

	// MessageUnknown is the decode sentinel for type values outside the
	// protocol. It is never written by this server.
	MessageUnknown MessageType = -1
)

// String returns the wire name of the message type.
func (t MessageType) String() string {
	switch t {
	case MessageSync:
		return "SYNC"
	case MessageAwareness:
		return "AWARENESS"
	case MessageAuth:
		return "AUTH"
	case MessageQueryAwareness:
		return "QUERY_AWARENESS"
	case MessageSyncReply:
		return "SYNC_REPLY"
	case MessageStateless:
		return "STATELESS"
	case MessageBroadcastStateless:
		return "BROADCAST_STATELESS"
	case MessageClose:
		return "CLOSE"
	case MessageSyncStatus:
		return "SYNC_STATUS"
	default:
		return "UNKNOWN"
	}
}

// rawBody reports whether the type's body is written with no length prefix.
func (t MessageType) rawBody() bool {
	return t == MessageSync || t == MessageSyncReply
}

// Message is one decoded protocol frame. Incoming and outgoing frames share
// this shape; Encode is canonical (same logical message, same bytes).
type Message struct {
	DocumentName string
	Type         MessageType
	Payload      []byte
}

// Encode serialises the message to its wire form.
func (m *Message) Encode() []byte {
	var e Encoder
	e.WriteVarString(m.DocumentName)
	e.WriteVarUint(uint64(m.Type))
	if m.Type.rawBody() {
		e.WriteRaw(m.Payload)
	} else {
		e.WriteVarBytes(m.Payload)
	}
	return e.Bytes()
}

// DecodeMessage parses one frame. Truncated input fails with an error
// wrapping ErrMalformedMessage; an out-of-range type value succeeds and
// yields MessageUnknown with the rest of the frame as payload.
func DecodeMessage(data []byte) (*Message, error) {
	d := NewDecoder(data)

	name, err := d.ReadVarString()
	if err != nil {
		return nil, fmt.Errorf("decoding document name: %w", err)
	}

	rawType, err := d.ReadVarUint()
	if err != nil {
		return nil, fmt.Errorf("decoding message type: %w", err)
	}

	t := MessageType(rawType)
	if rawType > uint64(MessageSyncStatus) {
		t = MessageUnknown
	}

	var payload []byte
	if t.rawBody() || t == MessageUnknown {
		payload = d.ReadRemaining()
	} else {
		payload, err = d.ReadVarBytes()
		if err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", t, err)
		}
	}

	return &Message{DocumentName: name, Type: t, Payload: payload}, nil
}
