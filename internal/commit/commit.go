// Package commit drains the edit ledger into the record store and writes the
// database durably. A commit either fully succeeds or changes nothing: the
// ledger, the in-memory store, and the file on disk are all left as they were
// when any step fails.
package commit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/erpdb/internal/records"
	"github.com/mesh-intelligence/erpdb/internal/storage"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// Ledger is the part of the edit ledger a commit consumes.
type Ledger interface {
	Entries() []types.Entry
	Clear()
}

// Hierarchy validates paths and supplies enrichment attributes.
type Hierarchy interface {
	Exists(p types.CategoryPath) bool
	AttributesFor(p types.CategoryPath) map[string]string
}

// Result summarizes a successful commit.
type Result struct {
	Path     string
	Entries  int
	Updated  int
	Created  int
	Deleted  int
	Records  int
	Duration time.Duration
	// Warnings holds failures of after-commit hooks. They never undo the
	// commit.
	Warnings []error
}

// Hook runs after the database has been written and the ledger cleared.
type Hook func(ctx context.Context, res Result) error

// Observer is told about every commit attempt.
type Observer func(res Result, err error)

// Coordinator commits a ledger against one database file.
type Coordinator struct {
	path     string
	store    *records.Store
	ledger   Ledger
	tax      Hierarchy
	lock     *storage.Lock
	logger   *zap.Logger
	hooks    []Hook
	observer Observer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithHook adds an after-commit hook.
func WithHook(h Hook) Option {
	return func(c *Coordinator) { c.hooks = append(c.hooks, h) }
}

// WithObserver sets the commit observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// New returns a coordinator writing store to path.
func New(path string, store *records.Store, ledger Ledger, tax Hierarchy, opts ...Option) *Coordinator {
	c := &Coordinator{
		path:   path,
		store:  store,
		ledger: ledger,
		tax:    tax,
		lock:   storage.NewLock(path),
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Commit validates, enriches, applies, normalizes, and writes. With an empty
// ledger it still rewrites the database in normalized form.
func (c *Coordinator) Commit(ctx context.Context) (res Result, err error) {
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		if c.observer != nil {
			c.observer(res, err)
		}
	}()

	entries := c.ledger.Entries()
	res.Path, res.Entries = c.path, len(entries)

	if err := c.validate(entries); err != nil {
		return res, &types.CommitError{Op: "validate", Err: err}
	}
	entries = c.enrich(entries)

	next := c.store.Clone()
	if _, errs := next.Apply(entries); len(errs) > 0 {
		return res, &types.CommitError{Op: "apply", Err: errors.Join(errs...)}
	}
	next.Normalize()
	count(&res, entries)
	res.Records = next.Len()

	if err := ctx.Err(); err != nil {
		return res, &types.CommitError{Op: "write", Err: err}
	}
	unlock, err := c.lock.Acquire(ctx)
	if err != nil {
		return res, &types.CommitError{Op: "lock", Err: err}
	}
	err = storage.WriteFileAtomic(c.path, func(w io.Writer) error { return next.Encode(w) })
	unlock()
	if err != nil {
		return res, &types.CommitError{Op: "write", Err: err}
	}

	c.store.Replace(next)
	c.ledger.Clear()
	c.logger.Info("committed",
		zap.String("path", c.path),
		zap.Int("entries", res.Entries),
		zap.Int("records", res.Records),
	)

	for _, h := range c.hooks {
		if err := h(ctx, res); err != nil {
			c.logger.Warn("after-commit hook failed", zap.Error(err))
			res.Warnings = append(res.Warnings, err)
		}
	}
	return res, nil
}

// validate re-checks entries against the current hierarchy, which may have
// changed since they were staged.
func (c *Coordinator) validate(entries []types.Entry) error {
	var errs []error
	for _, e := range entries {
		switch e.Kind {
		case types.KindCreation:
			if e.Record == nil {
				errs = append(errs, types.Invalid(e.Identity, "", fmt.Errorf("creation without a record")))
				continue
			}
			if p := e.Record.Path(); !p.IsZero() && !c.tax.Exists(p) {
				errs = append(errs, types.Invalid(e.Identity, "", fmt.Errorf("%s: %w", p, types.ErrUnknownPath)))
			}
		case types.KindReassignment:
			if e.Path == nil || !c.tax.Exists(*e.Path) {
				errs = append(errs, types.Invalid(e.Identity, "", types.ErrUnknownPath))
			}
			fallthrough
		default:
			if !c.store.Has(e.Identity) {
				errs = append(errs, types.Invalid(e.Identity, e.Field, types.ErrNotFound))
			}
		}
	}
	return errors.Join(errs...)
}

// enrich copies the hierarchy attributes onto reassigned and created items.
// Empty attributes leave the item's existing value in place.
func (c *Coordinator) enrich(entries []types.Entry) []types.Entry {
	out := make([]types.Entry, 0, len(entries))
	for _, e := range entries {
		switch e.Kind {
		case types.KindCreation:
			attrs := c.tax.AttributesFor(e.Record.Path())
			for _, col := range types.EnrichmentColumns {
				if v := attrs[col]; v != "" {
					_ = e.Record.Set(col, v)
				}
			}
			out = append(out, e)
		case types.KindReassignment:
			out = append(out, e)
			attrs := c.tax.AttributesFor(*e.Path)
			for _, col := range types.EnrichmentColumns {
				v := attrs[col]
				if v == "" {
					continue
				}
				raw, err := types.EncodeValue(v)
				if err != nil {
					continue
				}
				out = append(out, types.Entry{Identity: e.Identity, Kind: types.KindFieldUpdate, Field: col, Value: raw})
			}
		default:
			out = append(out, e)
		}
	}
	return out
}

func count(res *Result, entries []types.Entry) {
	updated := make(map[string]bool)
	for _, e := range entries {
		switch e.Kind {
		case types.KindCreation:
			res.Created++
		case types.KindDeletion:
			res.Deleted++
		default:
			updated[e.Identity] = true
		}
	}
	res.Updated = len(updated)
}
