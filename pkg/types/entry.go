package types

import (
	"encoding/json"
	"time"
)

// EntryKind is the variant of a pending edit.
type EntryKind string

// Ledger entry kinds.
const (
	KindFieldUpdate  EntryKind = "field_update"
	KindReassignment EntryKind = "reassignment"
	KindImageUpdate  EntryKind = "image_update"
	KindDeletion     EntryKind = "deletion"
	KindCreation     EntryKind = "creation"
)

var validKinds = map[EntryKind]bool{
	KindFieldUpdate:  true,
	KindReassignment: true,
	KindImageUpdate:  true,
	KindDeletion:     true,
	KindCreation:     true,
}

// Valid reports whether k is a known entry kind.
func (k EntryKind) Valid() bool { return validKinds[k] }

// Entry is one pending edit keyed by record identity. Only the fields that
// belong to Kind are set: Field and Value for a field update, Path for a
// reassignment, Value for an image update, Record for a creation.
type Entry struct {
	Identity string          `json:"identity"`
	Kind     EntryKind       `json:"kind"`
	Field    string          `json:"field,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Path     *CategoryPath   `json:"path,omitempty"`
	Record   *Record         `json:"record,omitempty"`
	StagedAt time.Time       `json:"staged_at"`
}

// Text returns the display text of the staged value.
func (e Entry) Text() string {
	return DisplayText(e.Value)
}
