package ledger

import (
	"encoding/json"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

var emptyValue = json.RawMessage(`""`)

// ResolvedValue returns the value of field for id: the pending edit when one
// exists, else the persisted value, else the empty default. Each field
// resolves independently.
func (l *Ledger) ResolvedValue(id, field string) (json.RawMessage, error) {
	if draft, ok := l.creation(id); ok {
		if v, ok := draft.Raw(field); ok {
			return v, nil
		}
		return emptyValue, nil
	}
	rec, err := l.store.Get(id)
	if err != nil {
		return nil, types.Invalid(id, field, types.ErrNotFound)
	}
	if v, ok := l.pendingValue(id, field); ok {
		return v, nil
	}
	if v, ok := rec.Raw(field); ok {
		return v, nil
	}
	return emptyValue, nil
}

func (l *Ledger) pendingValue(id, field string) (json.RawMessage, bool) {
	switch {
	case field == types.ColumnImage:
		if e, ok := l.lookup(id, types.KindImageUpdate, ""); ok {
			return e.Value, true
		}
	case types.IsPathColumn(field):
		if e, ok := l.lookup(id, types.KindReassignment, ""); ok {
			v, _ := e.Path.Value(field)
			raw, err := types.EncodeValue(v)
			return raw, err == nil
		}
	default:
		if e, ok := l.lookup(id, types.KindFieldUpdate, field); ok {
			return e.Value, true
		}
	}
	return nil, false
}

// ResolvedText returns the display text of the resolved value, empty for
// unknown identities.
func (l *Ledger) ResolvedText(id, field string) string {
	v, err := l.ResolvedValue(id, field)
	if err != nil {
		return ""
	}
	return types.DisplayText(v)
}

// ResolvedPath returns the category path id will have after commit.
func (l *Ledger) ResolvedPath(id string) (types.CategoryPath, error) {
	if draft, ok := l.creation(id); ok {
		return draft.Path(), nil
	}
	rec, err := l.store.Get(id)
	if err != nil {
		return types.CategoryPath{}, types.Invalid(id, "", types.ErrNotFound)
	}
	if e, ok := l.lookup(id, types.KindReassignment, ""); ok {
		return *e.Path, nil
	}
	return rec.Path(), nil
}

// ResolvedRecord returns a copy of id with every pending edit applied.
func (l *Ledger) ResolvedRecord(id string) (*types.Record, error) {
	if draft, ok := l.creation(id); ok {
		return draft.Clone(), nil
	}
	rec, err := l.store.Get(id)
	if err != nil {
		return nil, types.Invalid(id, "", types.ErrNotFound)
	}
	out := rec.Clone()
	for _, e := range l.entries {
		if e.Identity != id {
			continue
		}
		switch e.Kind {
		case types.KindFieldUpdate:
			out.SetRaw(e.Field, e.Value)
		case types.KindImageUpdate:
			out.SetRaw(types.ColumnImage, e.Value)
		case types.KindReassignment:
			_ = out.SetPath(*e.Path)
		}
	}
	return out, nil
}
