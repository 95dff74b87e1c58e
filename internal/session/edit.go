package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/erpdb/internal/images"
	"github.com/mesh-intelligence/erpdb/internal/records"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// edit runs one ledger mutation and persists the journal when it succeeded.
func (s *Session) edit(fn func() error) error {
	if err := fn(); err != nil {
		return err
	}
	return s.sync()
}

// SetField stages a new value for one field.
func (s *Session) SetField(id, field string, value any) error {
	return s.edit(func() error { return s.ledger.StageFieldUpdate(id, field, value) })
}

// SetText stages text typed by the user for field. When the field currently
// holds a number, boolean, object or array, text that is itself valid JSON
// is staged as that literal, so "5" stays a number. Quoting the text forces
// a string.
func (s *Session) SetText(id, field, text string) error {
	var current json.RawMessage
	if rec, err := s.store.Get(id); err == nil {
		current, _ = rec.Raw(field)
	} else if v, err := s.ledger.ResolvedValue(id, field); err == nil {
		current = v
	}
	if typedLiteral(current) && json.Valid([]byte(text)) {
		return s.SetField(id, field, json.RawMessage(text))
	}
	return s.SetField(id, field, text)
}

func typedLiteral(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] != '"' && !bytes.Equal(raw, []byte("null"))
}

// Rename stages a new ERP name parsed from its full form.
func (s *Session) Rename(id, full string) error {
	return s.SetField(id, types.ColumnERPName, types.ParseERPName(full))
}

// Move stages a reassignment to path.
func (s *Session) Move(id string, path types.CategoryPath) error {
	return s.edit(func() error { return s.ledger.StageReassignment(id, path) })
}

// Delete stages the removal of id.
func (s *Session) Delete(id string) error {
	return s.edit(func() error { return s.ledger.StageDeletion(id) })
}

// Add stages a new item and returns its identity.
func (s *Session) Add(draft *types.Record) (string, error) {
	var id string
	err := s.edit(func() error {
		var err error
		id, err = s.ledger.StageCreation(draft)
		return err
	})
	return id, err
}

// Reset discards pending edits for id, or only those of field when given.
func (s *Session) Reset(id, field string) error {
	return s.edit(func() error {
		if field == "" {
			s.ledger.Discard(id)
		} else {
			s.ledger.DiscardField(id, field)
		}
		return nil
	})
}

// SetImage resolves source on a worker goroutine and stages the stored
// relative path for id. The target is checked before any download starts.
func (s *Session) SetImage(ctx context.Context, id, source string) (string, error) {
	rec, err := s.ledger.ResolvedRecord(id)
	if err != nil {
		return "", err
	}
	if s.ledger.IsDeleted(id) {
		return "", types.Invalid(id, types.ColumnImage, types.ErrDeleted)
	}
	name := images.ItemFileName(rec.ERPName().FullName, id)
	var rel string
	err = s.Run(ctx, func(ctx context.Context, post func(Message)) error {
		path, err := s.images.Resolve(ctx, source, name)
		if err != nil {
			return err
		}
		post(func(s *Session) error {
			rel = path
			return s.ledger.StageImage(id, path)
		})
		return nil
	})
	if err != nil {
		s.metrics.ObserveProviderErrors(err)
		return "", err
	}
	return rel, nil
}

// Cleaning operations.
const (
	CleanMultiline = "multiline"
	CleanPrefix    = "prefix"
)

// DefaultCleanPrefix is the prefix removed by CleanPrefix when none is given.
const DefaultCleanPrefix = "NEN"

// Clean stages the field updates proposed by a cleaning operation over the
// persisted values and returns how many were staged. Items staged for
// deletion are skipped.
func (s *Session) Clean(op, prefix string) (int, error) {
	var changes []records.Change
	switch op {
	case CleanMultiline:
		changes = s.store.CollapseMultiline()
	case CleanPrefix:
		if prefix == "" {
			prefix = DefaultCleanPrefix
		}
		changes = s.store.StripPrefix(prefix)
	default:
		return 0, types.Invalid("", "", fmt.Errorf("unknown cleaning operation %q", op))
	}
	staged := 0
	var errs []error
	for _, c := range changes {
		if s.ledger.IsDeleted(c.Identity) {
			continue
		}
		if err := s.ledger.StageFieldUpdate(c.Identity, c.Field, c.Value); err != nil {
			errs = append(errs, err)
			continue
		}
		staged++
	}
	if err := s.sync(); err != nil {
		errs = append(errs, err)
	}
	return staged, errors.Join(errs...)
}
