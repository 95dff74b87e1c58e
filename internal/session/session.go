// Package session owns one editing session: the loaded database, the
// hierarchy, the edit ledger, the view settings and the commit coordinator.
//
// A Session is owned by a single goroutine. Background work (suggestion
// batches, image fetches) runs on worker goroutines that never touch the
// ledger; they post Messages to the session mailbox and the owner applies
// them.
//
// The command line front end runs one process per command, so pending edits
// are kept in a journal beside the database between commands. The journal
// records the fingerprint of the database it was staged against and is
// refused when the database has changed since.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/erpdb/internal/commit"
	"github.com/mesh-intelligence/erpdb/internal/images"
	"github.com/mesh-intelligence/erpdb/internal/ledger"
	"github.com/mesh-intelligence/erpdb/internal/metrics"
	"github.com/mesh-intelligence/erpdb/internal/records"
	"github.com/mesh-intelligence/erpdb/internal/settings"
	"github.com/mesh-intelligence/erpdb/internal/storage"
	"github.com/mesh-intelligence/erpdb/internal/suggest"
	"github.com/mesh-intelligence/erpdb/internal/taxonomy"
	"github.com/mesh-intelligence/erpdb/internal/view"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// DefaultMailboxSize bounds the number of unapplied worker results.
const DefaultMailboxSize = 64

// Session is one open database with its pending edits.
type Session struct {
	cfg     types.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	store     *records.Store
	tax       *taxonomy.Hierarchy
	ledger    *ledger.Ledger
	settings  *settings.File
	prompts   *settings.Library
	projector *view.Projector
	coord     *commit.Coordinator
	images    *images.Resolver

	mailbox     chan Message
	runner      atomic.Pointer[suggest.Runner]
	stopPending atomic.Bool

	journal      string
	fingerprint  string
	journalDirty bool
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	metrics     *metrics.Metrics
	hooks       []commit.Hook
	imageOpts   []images.Option
	mailboxSize int
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records session activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithCommitHook adds an after-commit hook such as a backup upload.
func WithCommitHook(h commit.Hook) Option {
	return func(o *options) { o.hooks = append(o.hooks, h) }
}

// WithImageOptions configures the image resolver.
func WithImageOptions(opts ...images.Option) Option {
	return func(o *options) { o.imageOpts = append(o.imageOpts, opts...) }
}

// WithMailboxSize sets the mailbox capacity.
func WithMailboxSize(n int) Option {
	return func(o *options) { o.mailboxSize = n }
}

// JournalPath returns the pending-edit journal kept beside database.
func JournalPath(database string) string {
	return database + ".pending.jsonl"
}

// Open loads every input concurrently and replays the pending-edit journal.
// Any load failure leaves nothing open.
func Open(ctx context.Context, cfg types.Config, opts ...Option) (*Session, error) {
	o := options{logger: zap.NewNop(), mailboxSize: DefaultMailboxSize}
	for _, fn := range opts {
		fn(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	s := &Session{
		cfg:     cfg,
		logger:  o.logger,
		metrics: o.metrics,
		mailbox: make(chan Message, max(1, o.mailboxSize)),
		journal: JournalPath(cfg.Database),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tax, err := taxonomy.LoadFile(cfg.Taxonomy)
		s.tax = tax
		return err
	})
	g.Go(func() error {
		unlock, err := storage.NewLock(cfg.Database).Acquire(gctx)
		if err != nil {
			return &types.LoadError{Source: cfg.Database, Err: err}
		}
		defer unlock()
		store, err := records.LoadFile(cfg.Database)
		if err != nil {
			return err
		}
		fp, err := storage.Fingerprint(cfg.Database)
		if err != nil {
			return &types.LoadError{Source: cfg.Database, Err: err}
		}
		s.store, s.fingerprint = store, fp
		return nil
	})
	g.Go(func() error {
		f, err := settings.Load(cfg.Settings)
		s.settings = f
		return err
	})
	g.Go(func() error {
		lib, err := settings.LoadLibrary(cfg.Prompts)
		s.prompts = lib
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.ledger = ledger.New(s.store, s.tax)
	if err := s.replayJournal(); err != nil {
		return nil, err
	}
	s.ledger.Observe(s.onLedger)
	s.projector = view.New(s.store, s.ledger, s.tax)

	hooks := []commit.Option{
		commit.WithLogger(s.logger),
		commit.WithObserver(s.metrics.ObserveCommit),
	}
	for _, h := range o.hooks {
		hooks = append(hooks, commit.WithHook(h))
	}
	s.coord = commit.New(cfg.Database, s.store, s.ledger, s.tax, hooks...)

	imgRoot := cfg.ImagesDir
	if imgRoot == "" {
		imgRoot = filepath.Dir(cfg.Database)
	}
	imgOpts := append([]images.Option{images.WithLogger(s.logger)}, o.imageOpts...)
	s.images = images.New(imgRoot, cfg.Images, imgOpts...)

	s.logger.Debug("session opened",
		zap.String("database", cfg.Database),
		zap.Int("records", s.store.Len()),
		zap.Int("pending", s.ledger.Len()),
	)
	return s, nil
}

func (s *Session) onLedger(ev ledger.Event) {
	s.journalDirty = true
	s.metrics.ObserveLedger(ev)
}

// Config returns the configuration the session was opened with.
func (s *Session) Config() types.Config { return s.cfg }

// Store returns the record store.
func (s *Session) Store() *records.Store { return s.store }

// Taxonomy returns the category hierarchy.
func (s *Session) Taxonomy() *taxonomy.Hierarchy { return s.tax }

// Ledger returns the edit ledger.
func (s *Session) Ledger() *ledger.Ledger { return s.ledger }

// Settings returns the view settings file.
func (s *Session) Settings() *settings.File { return s.settings }

// Prompts returns the prompt library.
func (s *Session) Prompts() *settings.Library { return s.prompts }

// Metrics returns the session collectors.
func (s *Session) Metrics() *metrics.Metrics { return s.metrics }

// Close flushes the journal and dumps metrics when a textfile is configured.
func (s *Session) Close() error {
	var errs []error
	if err := s.Drain(); err != nil {
		errs = append(errs, err)
	}
	if err := s.sync(); err != nil {
		errs = append(errs, err)
	}
	if s.cfg.MetricsFile != "" {
		if err := s.metrics.WriteTextfile(s.cfg.MetricsFile); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ResolveID expands ref to a full identity. An exact identity wins; otherwise
// ref must be the prefix of exactly one persisted or staged item.
func (s *Session) ResolveID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", types.Invalid(ref, "", types.ErrNotFound)
	}
	if s.store.Has(ref) || s.ledger.IsCreation(ref) {
		return ref, nil
	}
	var matches []string
	for _, r := range s.store.All() {
		if strings.HasPrefix(r.ID, ref) {
			matches = append(matches, r.ID)
		}
	}
	for _, r := range s.ledger.Creations() {
		if strings.HasPrefix(r.ID, ref) {
			matches = append(matches, r.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", types.Invalid(ref, "", types.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", types.Invalid(ref, "", fmt.Errorf("ambiguous identity prefix matches %d items", len(matches)))
	}
}

// Project builds the tree under the saved view settings.
func (s *Session) Project(showAll bool) ([]*types.TreeNode, error) {
	v := s.settings.View
	return s.projector.Project(view.Options{
		Filters:        v.Filters(),
		VisibleColumns: v.VisibleColumns,
		ColumnOrder:    v.ColumnOrder,
		ShowAll:        showAll,
	})
}

// Columns returns the displayed columns of the last projection.
func (s *Session) Columns() []string { return s.projector.Columns() }

// UpdateNode refreshes the projection of one item after an edit.
func (s *Session) UpdateNode(id string) (view.Patch, error) {
	return s.projector.UpdateNode(id)
}

// SaveView writes the view settings file.
func (s *Session) SaveView() error { return s.settings.Save() }

// Commit saves the pending edits. On success the journal is removed and the
// fingerprint follows the new file.
func (s *Session) Commit(ctx context.Context) (commit.Result, error) {
	if err := s.Drain(); err != nil {
		return commit.Result{}, err
	}
	res, err := s.coord.Commit(ctx)
	if err != nil {
		return res, err
	}
	s.journalDirty = false
	if err := storage.Remove(s.journal); err != nil {
		res.Warnings = append(res.Warnings, err)
	}
	fp, err := storage.Fingerprint(s.cfg.Database)
	if err != nil {
		res.Warnings = append(res.Warnings, err)
	}
	s.fingerprint = fp
	return res, nil
}

// Reload drops every pending edit and the journal, then reads the database
// and hierarchy from disk again.
func (s *Session) Reload(ctx context.Context) error {
	tax, err := taxonomy.LoadFile(s.cfg.Taxonomy)
	if err != nil {
		return err
	}
	unlock, err := storage.NewLock(s.cfg.Database).Acquire(ctx)
	if err != nil {
		return &types.LoadError{Source: s.cfg.Database, Err: err}
	}
	defer unlock()
	store, err := records.LoadFile(s.cfg.Database)
	if err != nil {
		return err
	}
	fp, err := storage.Fingerprint(s.cfg.Database)
	if err != nil {
		return &types.LoadError{Source: s.cfg.Database, Err: err}
	}
	if err := storage.Remove(s.journal); err != nil {
		return err
	}
	s.ledger.Clear()
	s.journalDirty = false
	s.store.Replace(store)
	*s.tax = *tax
	s.fingerprint = fp
	return nil
}
