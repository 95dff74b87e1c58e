// Package ledger implements the edit ledger: the single place unsaved edits
// live. It resolves display values with pending edits taking priority over
// persisted ones and never writes to the record store.
package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// RecordSource is the read side of the record store.
type RecordSource interface {
	Get(id string) (*types.Record, error)
}

// PathChecker reports whether a Sub-subcategory path exists.
type PathChecker interface {
	Exists(p types.CategoryPath) bool
}

// Op names a ledger change reported to observers.
type Op string

// Observer operations.
const (
	OpStage   Op = "stage"
	OpDiscard Op = "discard"
	OpClear   Op = "clear"
)

// Event describes one ledger change.
type Event struct {
	Op       Op
	Identity string
	Kind     types.EntryKind
	Field    string
}

type entryKey struct {
	id    string
	kind  types.EntryKind
	field string
}

// Ledger holds pending edits keyed by identity. There is at most one entry
// per identity and kind; field updates are additionally keyed by field, so
// edits to different fields compose. Entries keep their staging order.
type Ledger struct {
	store    RecordSource
	paths    PathChecker
	entries  []*types.Entry
	index    map[entryKey]int
	observer func(Event)
	now      func() time.Time
}

// New returns an empty ledger over store, validating paths against paths.
func New(store RecordSource, paths PathChecker) *Ledger {
	return &Ledger{
		store: store,
		paths: paths,
		index: make(map[entryKey]int),
		now:   time.Now,
	}
}

// Observe registers fn to be called after every change.
func (l *Ledger) Observe(fn func(Event)) { l.observer = fn }

func (l *Ledger) notify(ev Event) {
	if l.observer != nil {
		l.observer(ev)
	}
}

func keyOf(e *types.Entry) entryKey {
	k := entryKey{id: e.Identity, kind: e.Kind}
	if e.Kind == types.KindFieldUpdate {
		k.field = e.Field
	}
	return k
}

func (l *Ledger) lookup(id string, kind types.EntryKind, field string) (*types.Entry, bool) {
	i, ok := l.index[entryKey{id: id, kind: kind, field: field}]
	if !ok {
		return nil, false
	}
	return l.entries[i], true
}

// put adds e or replaces the live entry with the same key in place.
func (l *Ledger) put(e *types.Entry) {
	e.StagedAt = l.now()
	k := keyOf(e)
	if i, ok := l.index[k]; ok {
		l.entries[i] = e
	} else {
		l.index[k] = len(l.entries)
		l.entries = append(l.entries, e)
	}
	l.notify(Event{Op: OpStage, Identity: e.Identity, Kind: e.Kind, Field: e.Field})
}

// remove drops the entries drop selects and reindexes.
func (l *Ledger) remove(drop func(*types.Entry) bool) int {
	before := len(l.entries)
	l.entries = slices.DeleteFunc(l.entries, drop)
	clear(l.index)
	for i, e := range l.entries {
		l.index[keyOf(e)] = i
	}
	return before - len(l.entries)
}

func (l *Ledger) creation(id string) (*types.Record, bool) {
	e, ok := l.lookup(id, types.KindCreation, "")
	if !ok {
		return nil, false
	}
	return e.Record, true
}

// IsDeleted reports whether id has a pending deletion.
func (l *Ledger) IsDeleted(id string) bool {
	_, ok := l.lookup(id, types.KindDeletion, "")
	return ok
}

// IsCreation reports whether id is a staged new item.
func (l *Ledger) IsCreation(id string) bool {
	_, ok := l.creation(id)
	return ok
}

// target checks that id can take an edit. It returns the persisted record,
// or the draft when id is a staged creation.
func (l *Ledger) target(id, field string) (*types.Record, bool, error) {
	if draft, ok := l.creation(id); ok {
		return draft, true, nil
	}
	rec, err := l.store.Get(id)
	if err != nil {
		return nil, false, types.Invalid(id, field, types.ErrNotFound)
	}
	if l.IsDeleted(id) {
		return nil, false, types.Invalid(id, field, types.ErrDeleted)
	}
	return rec, false, nil
}

func encode(id, field string, value any) (json.RawMessage, error) {
	raw, err := types.EncodeValue(value)
	if err != nil {
		return nil, types.Invalid(id, field, fmt.Errorf("encoding value: %w", err))
	}
	if bytes.Contains(raw, []byte(types.Delimiter)) {
		return nil, types.Invalid(id, field, types.ErrReservedDelimiter)
	}
	return raw, nil
}

// StageFieldUpdate records a new value for one field. Image and hierarchy
// columns are routed to StageImage and rejected respectively; moving an item
// is a reassignment. Staging the persisted value clears the pending edit.
func (l *Ledger) StageFieldUpdate(id, field string, value any) error {
	field = strings.TrimSpace(field)
	switch {
	case field == "":
		return types.Invalid(id, field, types.ErrInvalidField)
	case types.IsPathColumn(field):
		return types.Invalid(id, field, fmt.Errorf("%w: use a reassignment", types.ErrInvalidField))
	case field == types.ColumnImage:
		s, ok := value.(string)
		if !ok {
			return types.Invalid(id, field, types.ErrInvalidField)
		}
		return l.StageImage(id, s)
	}
	rec, draft, err := l.target(id, field)
	if err != nil {
		return err
	}
	raw, err := encode(id, field, value)
	if err != nil {
		return err
	}
	if draft {
		rec.SetRaw(field, raw)
		l.notify(Event{Op: OpStage, Identity: id, Kind: types.KindCreation, Field: field})
		return nil
	}
	if persisted, ok := rec.Raw(field); ok && bytes.Equal(persisted, raw) {
		l.discardKey(entryKey{id: id, kind: types.KindFieldUpdate, field: field})
		return nil
	}
	l.put(&types.Entry{Identity: id, Kind: types.KindFieldUpdate, Field: field, Value: raw})
	return nil
}

// StageReassignment moves id to path, which must exist in the hierarchy.
func (l *Ledger) StageReassignment(id string, path types.CategoryPath) error {
	if err := path.Validate(); err != nil {
		return types.Invalid(id, "", err)
	}
	if !l.paths.Exists(path) {
		return types.Invalid(id, "", fmt.Errorf("%s: %w", path, types.ErrUnknownPath))
	}
	rec, draft, err := l.target(id, "")
	if err != nil {
		return err
	}
	if draft {
		if err := rec.SetPath(path); err != nil {
			return types.Invalid(id, "", err)
		}
		l.notify(Event{Op: OpStage, Identity: id, Kind: types.KindCreation})
		return nil
	}
	if rec.Path() == path {
		l.discardKey(entryKey{id: id, kind: types.KindReassignment})
		return nil
	}
	p := path
	l.put(&types.Entry{Identity: id, Kind: types.KindReassignment, Path: &p})
	return nil
}

// StageImage records a new relative image path for id.
func (l *Ledger) StageImage(id, path string) error {
	rec, draft, err := l.target(id, types.ColumnImage)
	if err != nil {
		return err
	}
	raw, err := encode(id, types.ColumnImage, path)
	if err != nil {
		return err
	}
	if draft {
		rec.SetRaw(types.ColumnImage, raw)
		l.notify(Event{Op: OpStage, Identity: id, Kind: types.KindCreation, Field: types.ColumnImage})
		return nil
	}
	if persisted, ok := rec.Raw(types.ColumnImage); ok && bytes.Equal(persisted, raw) {
		l.discardKey(entryKey{id: id, kind: types.KindImageUpdate})
		return nil
	}
	l.put(&types.Entry{Identity: id, Kind: types.KindImageUpdate, Value: raw})
	return nil
}

// StageDeletion tombstones id and drops its other pending entries. Deleting
// a staged creation simply discards the draft.
func (l *Ledger) StageDeletion(id string) error {
	if l.IsCreation(id) {
		l.Discard(id)
		return nil
	}
	if _, err := l.store.Get(id); err != nil {
		return types.Invalid(id, "", types.ErrNotFound)
	}
	if l.IsDeleted(id) {
		return nil
	}
	l.remove(func(e *types.Entry) bool { return e.Identity == id })
	l.put(&types.Entry{Identity: id, Kind: types.KindDeletion})
	return nil
}

// StageCreation stages a new item and returns its identity. The draft is
// copied; later edits go through the ledger. An unassigned path is allowed;
// any other path must exist.
func (l *Ledger) StageCreation(draft *types.Record) (string, error) {
	return l.stageCreation(uuid.Must(uuid.NewV7()).String(), draft)
}

func (l *Ledger) stageCreation(id string, draft *types.Record) (string, error) {
	if draft == nil {
		return "", types.Invalid(id, "", fmt.Errorf("empty draft"))
	}
	path := draft.Path()
	if err := path.Validate(); err != nil {
		return "", types.Invalid(id, "", err)
	}
	if !path.IsZero() && !l.paths.Exists(path) {
		return "", types.Invalid(id, "", fmt.Errorf("%s: %w", path, types.ErrUnknownPath))
	}
	for _, c := range draft.Columns {
		if bytes.Contains(draft.Fields[c], []byte(types.Delimiter)) {
			return "", types.Invalid(id, c, types.ErrReservedDelimiter)
		}
	}
	if _, err := l.store.Get(id); err == nil || l.IsCreation(id) {
		return "", types.Invalid(id, "", fmt.Errorf("identity already exists"))
	}
	rec := draft.Clone()
	rec.ID = id
	l.put(&types.Entry{Identity: id, Kind: types.KindCreation, Record: rec})
	return id, nil
}

func (l *Ledger) discardKey(k entryKey) {
	if _, ok := l.index[k]; !ok {
		return
	}
	l.remove(func(e *types.Entry) bool { return keyOf(e) == k })
	l.notify(Event{Op: OpDiscard, Identity: k.id, Kind: k.kind, Field: k.field})
}

// Discard removes every pending entry for id. A staged creation is dropped
// entirely.
func (l *Ledger) Discard(id string) {
	if l.remove(func(e *types.Entry) bool { return e.Identity == id }) > 0 {
		l.notify(Event{Op: OpDiscard, Identity: id})
	}
}

// DiscardField resets one field of id to its persisted value.
func (l *Ledger) DiscardField(id, field string) {
	switch {
	case field == types.ColumnImage:
		l.discardKey(entryKey{id: id, kind: types.KindImageUpdate})
	case types.IsPathColumn(field):
		l.discardKey(entryKey{id: id, kind: types.KindReassignment})
	default:
		l.discardKey(entryKey{id: id, kind: types.KindFieldUpdate, field: field})
	}
}

// Clear drops every pending entry.
func (l *Ledger) Clear() {
	if len(l.entries) == 0 {
		return
	}
	l.entries = nil
	clear(l.index)
	l.notify(Event{Op: OpClear})
}

// IsDirty reports whether any edit is pending.
func (l *Ledger) IsDirty() bool { return len(l.entries) > 0 }

// Len returns the number of pending entries.
func (l *Ledger) Len() int { return len(l.entries) }

// Entries returns copies of the pending entries in staging order. Creation
// entries carry a copy of the current draft.
func (l *Ledger) Entries() []types.Entry {
	out := make([]types.Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
		if e.Record != nil {
			out[i].Record = e.Record.Clone()
		}
	}
	return out
}

// Pending returns the entries staged for id.
func (l *Ledger) Pending(id string) []types.Entry {
	var out []types.Entry
	for _, e := range l.Entries() {
		if e.Identity == id {
			out = append(out, e)
		}
	}
	return out
}

// Creations returns the staged new items in staging order.
func (l *Ledger) Creations() []*types.Record {
	var out []*types.Record
	for _, e := range l.entries {
		if e.Kind == types.KindCreation {
			out = append(out, e.Record)
		}
	}
	return out
}

// Replay restages entries, validating each as if entered again. Creation
// identities are preserved. It stops at the first invalid entry.
func (l *Ledger) Replay(entries []types.Entry) error {
	for _, e := range entries {
		var err error
		switch e.Kind {
		case types.KindFieldUpdate:
			err = l.StageFieldUpdate(e.Identity, e.Field, e.Value)
		case types.KindImageUpdate:
			err = l.StageImage(e.Identity, e.Text())
		case types.KindReassignment:
			if e.Path == nil {
				err = types.Invalid(e.Identity, "", types.ErrUnknownPath)
				break
			}
			err = l.StageReassignment(e.Identity, *e.Path)
		case types.KindDeletion:
			err = l.StageDeletion(e.Identity)
		case types.KindCreation:
			_, err = l.stageCreation(e.Identity, e.Record)
		default:
			err = types.Invalid(e.Identity, "", fmt.Errorf("unknown entry kind %q", e.Kind))
		}
		if err != nil {
			return err
		}
	}
	return nil
}
