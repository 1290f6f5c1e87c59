package protocol

import (
	"errors"
	"fmt"

	"docsync/internal/crdt"
)

/*
LEARNING: THE SYNC HANDSHAKE

Inside a SYNC frame body live three varint-tagged sub-messages:

  Step1(stateVector)  "here is what I have seen"
  Step2(update)       "here is everything you are missing"
  Update(update)      "here is an incremental change"

A client opens with Step1. The server answers Step2 with a diff computed
against the client's state vector (or the full state when the vector is
empty). From then on both sides exchange Update messages as edits happen.
*/

// Sync sub-message tags.
const (
	SyncStep1  uint64 = 0
	SyncStep2  uint64 = 1
	SyncUpdate uint64 = 2
)

// ErrInvalidSyncType reports an unknown sub-message tag. The caller closes
// the connection rather than guessing intent.
var ErrInvalidSyncType = errors.New("invalid sync sub-message type")

// EncodeSyncStep1 builds a Step1 payload announcing a state vector.
func EncodeSyncStep1(stateVector []byte) []byte {
	return encodeSync(SyncStep1, stateVector)
}

// EncodeSyncStep2 builds a Step2 payload carrying a diff update.
func EncodeSyncStep2(update []byte) []byte {
	return encodeSync(SyncStep2, update)
}

// EncodeSyncUpdate builds an Update payload carrying an incremental change.
func EncodeSyncUpdate(update []byte) []byte {
	return encodeSync(SyncUpdate, update)
}

func encodeSync(tag uint64, body []byte) []byte {
	var e Encoder
	e.WriteVarUint(tag)
	e.WriteVarBytes(body)
	return e.Bytes()
}

// ApplySyncMessage runs one sync sub-message against a document.
//
// It returns the reply payload to send back (nil if none) and whether the
// document was mutated. The caller must hold the document's write
// serialisation while invoking it.
func ApplySyncMessage(doc crdt.Doc, payload []byte) (reply []byte, changed bool, err error) {
	tag, body, err := decodeSync(payload)
	if err != nil {
		return nil, false, err
	}

	switch tag {
	case SyncStep1:
		var update []byte
		if len(body) == 0 {
			update = doc.EncodeStateAsUpdate()
		} else {
			update, err = doc.EncodeDiff(body)
			if err != nil {
				return nil, false, fmt.Errorf("computing diff: %w", err)
			}
		}
		return EncodeSyncStep2(update), false, nil

	case SyncStep2, SyncUpdate:
		// Empty update bodies are a no-op, not an error.
		if len(body) == 0 {
			return nil, false, nil
		}
		if err := doc.ApplyUpdate(body); err != nil {
			return nil, false, fmt.Errorf("applying update: %w", err)
		}
		return nil, true, nil

	default:
		return nil, false, fmt.Errorf("%w: %d", ErrInvalidSyncType, tag)
	}
}

// ReadSyncUpdate extracts the update bytes from a Step2/Update payload.
// Returns nil for payloads that carry no update body.
func ReadSyncUpdate(payload []byte) []byte {
	tag, body, err := decodeSync(payload)
	if err != nil || (tag != SyncStep2 && tag != SyncUpdate) {
		return nil
	}
	return body
}

// HasChanges reports whether a sync payload would mutate the document:
// true only for Step2/Update with a non-empty update body. Used to enforce
// read-only connections before any state is touched.
func HasChanges(payload []byte) bool {
	tag, body, err := decodeSync(payload)
	if err != nil {
		return false
	}
	return (tag == SyncStep2 || tag == SyncUpdate) && len(body) > 0
}

func decodeSync(payload []byte) (tag uint64, body []byte, err error) {
	d := NewDecoder(payload)
	tag, err = d.ReadVarUint()
	if err != nil {
		return 0, nil, fmt.Errorf("decoding sync tag: %w", err)
	}
	body, err = d.ReadVarBytes()
	if err != nil {
		return 0, nil, fmt.Errorf("decoding sync body: %w", err)
	}
	return tag, body, nil
}
