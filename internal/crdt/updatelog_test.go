package crdt

import (
	"bytes"
	"testing"
)

func TestUpdateEncodeDecode(t *testing.T) {
	tests := [][][]byte{
		{},
		{[]byte("one")},
		{[]byte("one"), []byte(""), []byte("three")},
		{bytes.Repeat([]byte{0xAB}, 500)},
	}

	for _, entries := range tests {
		got, err := DecodeUpdate(EncodeUpdate(entries...))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(got) != len(entries) {
			t.Fatalf("entry count %d, want %d", len(got), len(entries))
		}
		for i := range entries {
			if !bytes.Equal(got[i], entries[i]) {
				t.Errorf("entry %d: %v, want %v", i, got[i], entries[i])
			}
		}
	}
}

func TestDecodeUpdateTruncated(t *testing.T) {
	full := EncodeUpdate([]byte("hello"), []byte("world"))
	for i := 1; i < len(full); i++ {
		if _, err := DecodeUpdate(full[:i]); err == nil {
			t.Errorf("prefix of %d bytes decoded without error", i)
		}
	}
}

func TestDocStateAndDiff(t *testing.T) {
	doc := NewLogEngine().CreateDocument()

	if err := doc.ApplyUpdate(EncodeUpdate([]byte("a"), []byte("b"))); err != nil {
		t.Fatal(err)
	}
	if err := doc.ApplyUpdate(EncodeUpdate([]byte("c"))); err != nil {
		t.Fatal(err)
	}

	// Full state carries all three entries.
	entries, err := DecodeUpdate(doc.EncodeStateAsUpdate())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("full state has %d entries, want 3", len(entries))
	}

	// Empty vector means "send me everything".
	diff, err := doc.EncodeDiff(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(diff, doc.EncodeStateAsUpdate()) {
		t.Error("diff against empty vector differs from full state")
	}

	// A peer that has the first two entries only needs the third.
	peer := NewLogEngine().CreateDocument()
	if err := peer.ApplyUpdate(EncodeUpdate([]byte("a"), []byte("b"))); err != nil {
		t.Fatal(err)
	}
	diff, err = doc.EncodeDiff(peer.EncodeStateVector())
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeUpdate(diff)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || string(got[0]) != "c" {
		t.Fatalf("diff entries = %q, want [c]", got)
	}

	// A peer ahead of us gets an empty diff, not an error.
	ahead := NewLogEngine().CreateDocument()
	for i := 0; i < 5; i++ {
		if err := ahead.ApplyUpdate(EncodeUpdate([]byte("x"))); err != nil {
			t.Fatal(err)
		}
	}
	diff, err = doc.EncodeDiff(ahead.EncodeStateVector())
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := DecodeUpdate(diff); len(got) != 0 {
		t.Fatalf("diff for a peer ahead of us = %q, want empty", got)
	}
}

func TestMergeUpdates(t *testing.T) {
	engine := NewLogEngine()

	merged, err := engine.MergeUpdates([][]byte{
		EncodeUpdate([]byte("a")),
		EncodeUpdate([]byte("b"), []byte("c")),
	})
	if err != nil {
		t.Fatal(err)
	}

	entries, err := DecodeUpdate(merged)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("merged into %d entries, want 3", len(entries))
	}
}

func TestClosedDocRejectsUpdates(t *testing.T) {
	doc := NewLogEngine().CreateDocument()
	doc.Close()

	if err := doc.ApplyUpdate(EncodeUpdate([]byte("late"))); err == nil {
		t.Fatal("ApplyUpdate on a closed handle must fail")
	}
}
