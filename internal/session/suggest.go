package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/erpdb/internal/suggest"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// DefaultPrompt is used when no prompt is named and none is selected in the
// view settings.
const DefaultPrompt = "Create a concise ERP name for this item in the form Type_PartNumber_Details. Current name: {ERP Name}"

// SuggestOptions select the prompt and model for suggestion calls. Empty
// fields fall back to the view settings and then the configuration.
type SuggestOptions struct {
	Prompt string
	Model  string
	Count  int
}

// BatchResult summarizes a suggestion batch.
type BatchResult struct {
	Applied int
	Total   int
	Stopped bool
}

func (s *Session) template(name string) string {
	if name == "" {
		name = s.settings.View.AI.SelectedPrompt
	}
	if p, ok := s.prompts.Get(name); ok {
		return p.Text
	}
	return DefaultPrompt
}

func (s *Session) request(opts SuggestOptions) suggest.Request {
	ai := s.settings.View.AI
	model := opts.Model
	if model == "" {
		model = ai.SelectedModel
	}
	if model == "" {
		model = s.cfg.Provider.Model
	}
	count := opts.Count
	if count == 0 {
		count = s.cfg.Provider.Candidates
	}
	return suggest.Request{Model: model, Count: count, Parameters: ai.ModelParameters[model]}
}

func (s *Session) item(id string) (suggest.Item, error) {
	if s.ledger.IsDeleted(id) {
		return suggest.Item{}, types.Invalid(id, "", types.ErrDeleted)
	}
	rec, err := s.ledger.ResolvedRecord(id)
	if err != nil {
		return suggest.Item{}, err
	}
	return suggest.Item{Identity: id, Context: suggest.ItemContext(rec)}, nil
}

// Suggest asks p for candidate names for one item without staging anything.
func (s *Session) Suggest(ctx context.Context, id string, p suggest.Provider, opts SuggestOptions) ([]string, error) {
	it, err := s.item(id)
	if err != nil {
		return nil, err
	}
	req := s.request(opts)
	req.Context = it.Context
	req.Prompt = suggest.Render(s.template(opts.Prompt), it.Context)
	names, err := p.Suggest(ctx, req)
	if err != nil {
		s.metrics.ObserveProviderErrors(err)
		return nil, err
	}
	return names, nil
}

// SuggestBatch runs p over ids on a worker goroutine and stages the first
// candidate of each item as its ERP name. Per-item failures are joined into
// the returned error; items that succeeded stay staged. StopBatch ends the
// batch after the current item.
func (s *Session) SuggestBatch(ctx context.Context, ids []string, p suggest.Provider, opts SuggestOptions) (BatchResult, error) {
	res := BatchResult{Total: len(ids)}
	items := make([]suggest.Item, 0, len(ids))
	var errs []error
	for _, id := range ids {
		it, err := s.item(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, it)
	}

	runner := suggest.NewRunner(p, s.logger)
	s.runner.Store(runner)
	defer func() {
		s.runner.Store(nil)
		s.stopPending.Store(false)
	}()
	if s.stopPending.Load() {
		runner.Stop()
	}

	tmpl, base := s.template(opts.Prompt), s.request(opts)
	err := s.Run(ctx, func(ctx context.Context, post func(Message)) error {
		_, err := runner.Run(ctx, items, tmpl, base, func(o suggest.Outcome) {
			post(func(s *Session) error { return s.applyOutcome(o, &res) })
		})
		return err
	})
	if err != nil {
		errs = append(errs, err)
	}
	res.Stopped = runner.Stopped()
	err = errors.Join(errs...)
	s.metrics.ObserveProviderErrors(err)
	s.logger.Info("suggestion batch finished",
		zap.Int("applied", res.Applied),
		zap.Int("total", res.Total),
		zap.Bool("stopped", res.Stopped),
	)
	return res, err
}

func (s *Session) applyOutcome(o suggest.Outcome, res *BatchResult) error {
	if err := s.ledger.StageFieldUpdate(o.Identity, types.ColumnERPName, types.ParseERPName(o.Candidates[0])); err != nil {
		return err
	}
	res.Applied++
	s.metrics.Suggestions.Inc()
	return nil
}

// StopBatch asks a running suggestion batch to stop. It is safe to call from
// any goroutine. A call made while a batch is starting stops it before its
// first item.
func (s *Session) StopBatch() {
	s.stopPending.Store(true)
	if r := s.runner.Load(); r != nil {
		r.Stop()
	}
}

// SuggestCategory proposes a hierarchy path for id from the placement of
// the other items. A non-nil g is asked when no item resembles id, using the
// model selected by opts.
func (s *Session) SuggestCategory(ctx context.Context, id string, g suggest.Generator, opts SuggestOptions) (suggest.CategorySuggestion, bool, error) {
	rec, err := s.ledger.ResolvedRecord(id)
	if err != nil {
		return suggest.CategorySuggestion{}, false, err
	}
	c := suggest.NewCategorizer(s.store.All(), s.tax)
	if g != nil {
		req := s.request(opts)
		c.WithGenerator(g, req.Model, req.Parameters)
	}
	sug, ok, err := c.Suggest(ctx, rec.ERPName(), rec.Path(), id)
	if err != nil {
		s.metrics.ObserveProviderErrors(err)
		return suggest.CategorySuggestion{}, false, err
	}
	return sug, ok, nil
}
