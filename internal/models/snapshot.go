package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

/*
LEARNING: SNAPSHOT PERSISTENCE

The server never decodes document content, so persistence stores the CRDT
state as opaque bytes: one snapshot row per debounced flush, newest row wins
on load. Keeping the state vector alongside lets a future loader hand out
diffs without replaying the whole snapshot.
*/

// Snapshot stores one flushed document state.
type Snapshot struct {
	ID           string    `gorm:"type:char(27);primaryKey" json:"id"`
	DocumentName string    `gorm:"type:text;not null;index:idx_doc_time" json:"document_name"`
	State        []byte    `gorm:"type:bytea;not null" json:"-"` // Opaque CRDT update bytes
	StateVector  []byte    `gorm:"type:bytea" json:"-"`
	CreatedAt    time.Time `gorm:"index:idx_doc_time" json:"created_at"`
}

// BeforeCreate generates KSUID
// Learning: KSUIDs sort by creation time, so "newest snapshot" is an index walk
func (s *Snapshot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (Snapshot) TableName() string {
	return "document_snapshots"
}
