package records

import (
	"fmt"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// Apply applies entries in order. An entry for an unknown identity is
// reported and skipped; the remaining entries still apply. Deleted records
// are removed once all entries have run.
func (s *Store) Apply(entries []types.Entry) (int, []error) {
	var (
		updated int
		errs    []error
		deleted = make(map[string]bool)
	)
	for _, e := range entries {
		if err := s.applyOne(e, deleted); err != nil {
			errs = append(errs, err)
			continue
		}
		updated++
	}
	if len(deleted) > 0 {
		s.compact(deleted)
	}
	return updated, errs
}

func (s *Store) applyOne(e types.Entry, deleted map[string]bool) error {
	if e.Kind == types.KindCreation {
		if e.Record == nil {
			return types.Invalid(e.Identity, "", fmt.Errorf("creation without a record"))
		}
		if s.Has(e.Identity) {
			return types.Invalid(e.Identity, "", fmt.Errorf("identity already exists"))
		}
		rec := e.Record.Clone()
		rec.ID = e.Identity
		s.byID[rec.ID] = len(s.records)
		s.records = append(s.records, rec)
		s.addColumns(rec)
		return nil
	}

	i, ok := s.byID[e.Identity]
	if !ok || deleted[e.Identity] {
		return types.Invalid(e.Identity, e.Field, types.ErrNotFound)
	}
	rec := s.records[i]
	switch e.Kind {
	case types.KindFieldUpdate:
		if e.Field == "" {
			return types.Invalid(e.Identity, e.Field, types.ErrInvalidField)
		}
		rec.SetRaw(e.Field, e.Value)
	case types.KindImageUpdate:
		rec.SetRaw(types.ColumnImage, e.Value)
	case types.KindReassignment:
		if e.Path == nil {
			return types.Invalid(e.Identity, "", types.ErrUnknownPath)
		}
		if err := rec.SetPath(*e.Path); err != nil {
			return types.Invalid(e.Identity, "", err)
		}
	case types.KindDeletion:
		deleted[e.Identity] = true
		return nil
	default:
		return types.Invalid(e.Identity, "", fmt.Errorf("unknown entry kind %q", e.Kind))
	}
	s.addColumns(rec)
	return nil
}

func (s *Store) compact(deleted map[string]bool) {
	kept := s.records[:0]
	for _, r := range s.records {
		if !deleted[r.ID] {
			kept = append(kept, r)
		}
	}
	clear(s.records[len(kept):])
	s.records = kept
	s.byID = make(map[string]int, len(kept))
	for i, r := range kept {
		s.byID[r.ID] = i
	}
}
