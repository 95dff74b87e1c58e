package suggest

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// Item is one unit of batch work.
type Item struct {
	Identity string
	Context  []types.FieldValue
}

// Outcome is the result for one item. Candidates is never empty.
type Outcome struct {
	Identity   string
	Candidates []string
}

// Runner processes items one at a time. It never touches the ledger: each
// outcome is handed to the deliver callback, which the caller routes to the
// goroutine that owns the session.
type Runner struct {
	provider Provider
	logger   *zap.Logger
	stop     atomic.Bool
}

// NewRunner returns a runner using p. A runner serves one batch: once
// stopped it stays stopped, including a Stop that arrives before Run.
func NewRunner(p Provider, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{provider: p, logger: logger}
}

// Stop asks a running batch to finish after the current item. Outcomes
// already delivered stay delivered.
func (r *Runner) Stop() { r.stop.Store(true) }

// Stopped reports whether Stop has been called.
func (r *Runner) Stopped() bool { return r.stop.Load() }

// Run renders template for every item and asks the provider for candidates.
// The stop flag and ctx are checked between items. It returns the number of
// delivered outcomes and the joined per-item failures.
func (r *Runner) Run(ctx context.Context, items []Item, template string, base Request, deliver func(Outcome)) (int, error) {
	var (
		done int
		errs []error
	)
	for _, it := range items {
		if r.stop.Load() {
			r.logger.Info("batch stopped", zap.Int("done", done), zap.Int("total", len(items)))
			break
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		req := base
		req.Context = it.Context
		req.Prompt = Render(template, it.Context)
		names, err := r.provider.Suggest(ctx, req)
		if err == nil && len(names) == 0 {
			err = errors.New("no candidates")
		}
		if err != nil {
			r.logger.Warn("suggestion failed", zap.String("identity", it.Identity), zap.Error(err))
			errs = append(errs, &types.ProviderError{Provider: "suggest", Item: it.Identity, Err: err})
			continue
		}
		deliver(Outcome{Identity: it.Identity, Candidates: names})
		done++
	}
	return done, errors.Join(errs...)
}
