package database

import (
	"context"
	"fmt"
	"log"

	"docsync/internal/hooks"
	"docsync/internal/models"
)

/*
LEARNING: PERSISTENCE AS AN EXTENSION

The server core never talks to Postgres. Durability is an extension like any
other: onLoadDocument fetches the newest snapshot, onStoreDocument appends a
fresh one. Because the pipeline runs authoritative hooks in priority order,
the database extension runs at a high priority so its snapshot wins the
first-SetState-wins race against lower-priority sources.
*/

// SnapshotRepository is the storage surface the extension needs. The gorm
// implementation lives in internal/repository.
type SnapshotRepository interface {
	Save(ctx context.Context, documentName string, state, stateVector []byte) error
	Latest(ctx context.Context, documentName string) (*models.Snapshot, error)
	Prune(ctx context.Context, documentName string, keepCount int) error
}

// Extension persists document snapshots through a SnapshotRepository.
type Extension struct {
	hooks.BaseExtension

	repo SnapshotRepository

	// KeepSnapshots bounds per-document history; 0 disables pruning.
	keepSnapshots int
}

// Option configures the extension.
type Option func(*Extension)

// WithSnapshotRetention prunes history down to keep rows after each store.
func WithSnapshotRetention(keep int) Option {
	return func(e *Extension) { e.keepSnapshots = keep }
}

// New creates a database persistence extension.
func New(repo SnapshotRepository, opts ...Option) *Extension {
	e := &Extension{repo: repo}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Priority places persistence ahead of ordinary extensions so stored state
// wins document loads.
func (e *Extension) Priority() int { return 100 }

// OnLoadDocument supplies the newest persisted snapshot, if any.
func (e *Extension) OnLoadDocument(ctx context.Context, p *hooks.LoadDocumentPayload) error {
	snapshot, err := e.repo.Latest(ctx, p.DocumentName)
	if err != nil {
		return fmt.Errorf("loading snapshot for %q: %w", p.DocumentName, err)
	}
	if snapshot == nil {
		return nil // never persisted; the document starts blank
	}
	p.SetState(snapshot.State)
	return nil
}

// OnStoreDocument appends a snapshot row for the flushed state.
func (e *Extension) OnStoreDocument(ctx context.Context, p *hooks.StorePayload) error {
	if err := e.repo.Save(ctx, p.DocumentName, p.State, p.StateVector); err != nil {
		return fmt.Errorf("storing snapshot for %q: %w", p.DocumentName, err)
	}

	if e.keepSnapshots > 0 {
		// History pruning is best effort; the snapshot itself landed.
		if err := e.repo.Prune(ctx, p.DocumentName, e.keepSnapshots); err != nil {
			log.Printf("⚠️  Pruning snapshots for %q: %v", p.DocumentName, err)
		}
	}
	return nil
}
