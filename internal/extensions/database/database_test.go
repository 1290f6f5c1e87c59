package database

import (
	"context"
	"errors"
	"testing"

	"docsync/internal/hooks"
	"docsync/internal/models"
)

type fakeRepo struct {
	latest    *models.Snapshot
	latestErr error

	saved  []models.Snapshot
	pruned []string
}

func (f *fakeRepo) Save(ctx context.Context, name string, state, stateVector []byte) error {
	f.saved = append(f.saved, models.Snapshot{DocumentName: name, State: state, StateVector: stateVector})
	return nil
}

func (f *fakeRepo) Latest(ctx context.Context, name string) (*models.Snapshot, error) {
	return f.latest, f.latestErr
}

func (f *fakeRepo) Prune(ctx context.Context, name string, keep int) error {
	f.pruned = append(f.pruned, name)
	return nil
}

func TestLoadSuppliesLatestSnapshot(t *testing.T) {
	repo := &fakeRepo{latest: &models.Snapshot{DocumentName: "doc-a", State: []byte("persisted")}}
	ext := New(repo)

	p := &hooks.LoadDocumentPayload{DocumentName: "doc-a"}
	if err := ext.OnLoadDocument(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	state, ok := p.State()
	if !ok || string(state) != "persisted" {
		t.Fatalf("State() = %q, %v", state, ok)
	}
}

func TestLoadOfUnknownDocumentLeavesBlank(t *testing.T) {
	ext := New(&fakeRepo{})

	p := &hooks.LoadDocumentPayload{DocumentName: "doc-a"}
	if err := ext.OnLoadDocument(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if _, ok := p.State(); ok {
		t.Fatal("blank document must not supply state")
	}
}

func TestLoadErrorPropagates(t *testing.T) {
	want := errors.New("connection refused")
	ext := New(&fakeRepo{latestErr: want})

	err := ext.OnLoadDocument(context.Background(), &hooks.LoadDocumentPayload{DocumentName: "doc-a"})
	if !errors.Is(err, want) {
		t.Fatalf("got %v, want wrapped %v", err, want)
	}
}

func TestStoreSavesAndPrunes(t *testing.T) {
	repo := &fakeRepo{}
	ext := New(repo, WithSnapshotRetention(5))

	p := &hooks.StorePayload{DocumentName: "doc-a", State: []byte("s"), StateVector: []byte("v")}
	if err := ext.OnStoreDocument(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if len(repo.saved) != 1 || string(repo.saved[0].StateVector) != "v" {
		t.Fatalf("saved = %+v", repo.saved)
	}
	if len(repo.pruned) != 1 {
		t.Fatalf("pruned = %v, want one prune", repo.pruned)
	}

	// Without retention configured pruning never runs.
	repo2 := &fakeRepo{}
	if err := New(repo2).OnStoreDocument(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if len(repo2.pruned) != 0 {
		t.Fatal("prune ran without retention configured")
	}
}
