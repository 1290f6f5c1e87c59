package protocol

import (
	"bytes"
	"errors"
	"testing"

	"docsync/internal/crdt"
)

func seededDoc(t *testing.T, entries ...[]byte) crdt.Doc {
	t.Helper()
	doc := crdt.NewLogEngine().CreateDocument()
	if len(entries) > 0 {
		if err := doc.ApplyUpdate(crdt.EncodeUpdate(entries...)); err != nil {
			t.Fatalf("seeding document: %v", err)
		}
	}
	return doc
}

func TestStep1EmptyVectorRepliesFullState(t *testing.T) {
	doc := seededDoc(t, []byte("alpha"), []byte("beta"))

	reply, changed, err := ApplySyncMessage(doc, EncodeSyncStep1(nil))
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("Step1 must not mutate the document")
	}

	want := EncodeSyncStep2(doc.EncodeStateAsUpdate())
	if !bytes.Equal(reply, want) {
		t.Errorf("reply = %v, want Step2(full state) = %v", reply, want)
	}
}

func TestStep1WithVectorRepliesDiff(t *testing.T) {
	doc := seededDoc(t, []byte("alpha"), []byte("beta"), []byte("gamma"))

	// A peer that has already seen one entry should receive the other two.
	peer := seededDoc(t, []byte("alpha"))
	reply, _, err := ApplySyncMessage(doc, EncodeSyncStep1(peer.EncodeStateVector()))
	if err != nil {
		t.Fatal(err)
	}

	update := ReadSyncUpdate(reply)
	entries, err := crdt.DecodeUpdate(update)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || string(entries[0]) != "beta" || string(entries[1]) != "gamma" {
		t.Errorf("diff entries = %q, want [beta gamma]", entries)
	}
}

func TestUpdateIsApplied(t *testing.T) {
	doc := seededDoc(t)

	update := crdt.EncodeUpdate([]byte("edit-1"))
	reply, changed, err := ApplySyncMessage(doc, EncodeSyncUpdate(update))
	if err != nil {
		t.Fatal(err)
	}
	if reply != nil {
		t.Errorf("Update produced a reply: %v", reply)
	}
	if !changed {
		t.Error("Update must report a mutation")
	}
	if !bytes.Equal(doc.EncodeStateAsUpdate(), update) {
		t.Error("document state does not contain the applied update")
	}
}

func TestStep2IsAppliedLikeUpdate(t *testing.T) {
	doc := seededDoc(t)

	_, changed, err := ApplySyncMessage(doc, EncodeSyncStep2(crdt.EncodeUpdate([]byte("remote"))))
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("Step2 with a body must report a mutation")
	}
}

func TestEmptyUpdateIsNoop(t *testing.T) {
	doc := seededDoc(t, []byte("alpha"))
	before := doc.EncodeStateAsUpdate()

	for _, payload := range [][]byte{EncodeSyncUpdate(nil), EncodeSyncStep2(nil)} {
		reply, changed, err := ApplySyncMessage(doc, payload)
		if err != nil {
			t.Fatal(err)
		}
		if changed || reply != nil {
			t.Errorf("empty update: changed=%v reply=%v, want no-op", changed, reply)
		}
	}

	if !bytes.Equal(doc.EncodeStateAsUpdate(), before) {
		t.Error("document state changed on empty update")
	}
}

func TestUnknownSyncTagFails(t *testing.T) {
	doc := seededDoc(t)

	var e Encoder
	e.WriteVarUint(7)
	e.WriteVarBytes([]byte("whatever"))

	_, _, err := ApplySyncMessage(doc, e.Bytes())
	if !errors.Is(err, ErrInvalidSyncType) {
		t.Fatalf("got %v, want ErrInvalidSyncType", err)
	}
}

func TestHasChanges(t *testing.T) {
	update := crdt.EncodeUpdate([]byte("x"))
	tests := []struct {
		name    string
		payload []byte
		want    bool
	}{
		{"step1", EncodeSyncStep1([]byte{1}), false},
		{"step1 empty", EncodeSyncStep1(nil), false},
		{"step2", EncodeSyncStep2(update), true},
		{"step2 empty", EncodeSyncStep2(nil), false},
		{"update", EncodeSyncUpdate(update), true},
		{"update empty", EncodeSyncUpdate(nil), false},
		{"garbage", []byte{0xFF}, false},
	}

	for _, tt := range tests {
		if got := HasChanges(tt.payload); got != tt.want {
			t.Errorf("%s: HasChanges = %v, want %v", tt.name, got, tt.want)
		}
	}
}
