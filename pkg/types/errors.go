package types

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by the engine matches exactly one of
// these with errors.Is.
var (
	ErrLoad       = errors.New("load error")
	ErrValidation = errors.New("validation error")
	ErrCommit     = errors.New("commit error")
	ErrProvider   = errors.New("provider error")
)

// Lookup and staging errors.
var (
	ErrNotFound          = errors.New("record not found")
	ErrUnknownPath       = errors.New("category path does not exist")
	ErrReservedDelimiter = errors.New("value contains the reserved delimiter")
	ErrDeleted           = errors.New("record is staged for deletion")
	ErrInvalidField      = errors.New("invalid field name")
	ErrInvalidFilter     = errors.New("invalid filter operation")
	ErrCycle             = errors.New("cyclic parent reference")
	ErrDuplicateName     = errors.New("duplicate sibling name")
	ErrStaleJournal      = errors.New("database changed since edits were staged")
	ErrNoData            = errors.New("no database loaded")
)

// LoadError reports a malformed or inconsistent source document. A load that
// fails leaves no partially loaded model behind.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is reports ErrLoad for every LoadError.
func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// ValidationError reports an edit that references a nonexistent identity or
// category path, or carries a value the engine cannot store.
type ValidationError struct {
	Identity string
	Field    string
	Err      error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Identity != "" && e.Field != "":
		return fmt.Sprintf("validate %s.%s: %v", e.Identity, e.Field, e.Err)
	case e.Identity != "":
		return fmt.Sprintf("validate %s: %v", e.Identity, e.Err)
	default:
		return fmt.Sprintf("validate: %v", e.Err)
	}
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is reports ErrValidation for every ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// CommitError reports a save that did not happen. The ledger and the
// previously persisted file are untouched when one is returned.
type CommitError struct {
	Op  string
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s: %v", e.Op, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Is reports ErrCommit for every CommitError.
func (e *CommitError) Is(target error) bool { return target == ErrCommit }

// ProviderError reports a per-item failure of an external suggestion or
// image provider.
type ProviderError struct {
	Provider string
	Item     string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Item == "" {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Provider, e.Item, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is reports ErrProvider for every ProviderError.
func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// Invalid builds a ValidationError for id and field.
func Invalid(id, field string, err error) error {
	return &ValidationError{Identity: id, Field: field, Err: err}
}
