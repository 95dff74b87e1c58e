// Package metrics counts editing activity with Prometheus collectors. The
// CLI runs one command per process, so collectors are dumped to a textfile
// for the node exporter rather than served over HTTP.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mesh-intelligence/erpdb/internal/commit"
	"github.com/mesh-intelligence/erpdb/internal/ledger"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

const namespace = "erpdb"

// Metrics holds the collectors of one session.
type Metrics struct {
	reg *prometheus.Registry

	// LedgerChanges counts ledger changes by operation and entry kind.
	LedgerChanges *prometheus.CounterVec
	// Commits counts commit attempts by result.
	Commits *prometheus.CounterVec
	// CommitDuration tracks how long successful commits take.
	CommitDuration prometheus.Histogram
	// Records is the record count after the last commit.
	Records prometheus.Gauge
	// ProviderErrors counts per-item provider failures.
	ProviderErrors *prometheus.CounterVec
	// Suggestions counts applied suggestion outcomes.
	Suggestions prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		LedgerChanges: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "changes_total",
				Help:      "Ledger changes by operation and entry kind",
			},
			[]string{"op", "kind"},
		),
		Commits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "commit",
				Name:      "attempts_total",
				Help:      "Commit attempts by result",
			},
			[]string{"result"},
		),
		CommitDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "commit",
				Name:      "duration_seconds",
				Help:      "Duration of successful commits in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		Records: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "records",
				Help:      "Records in the database after the last commit",
			},
		),
		ProviderErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "errors_total",
				Help:      "Per-item provider failures",
			},
			[]string{"provider"},
		),
		Suggestions: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "suggest",
				Name:      "applied_total",
				Help:      "Suggestion outcomes applied to items",
			},
		),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveLedger records a ledger event.
func (m *Metrics) ObserveLedger(ev ledger.Event) {
	kind := string(ev.Kind)
	if kind == "" {
		kind = "all"
	}
	m.LedgerChanges.WithLabelValues(string(ev.Op), kind).Inc()
}

// ObserveCommit records a commit attempt.
func (m *Metrics) ObserveCommit(res commit.Result, err error) {
	if err != nil {
		m.Commits.WithLabelValues("error").Inc()
		return
	}
	m.Commits.WithLabelValues("ok").Inc()
	m.CommitDuration.Observe(res.Duration.Seconds())
	m.Records.Set(float64(res.Records))
}

// ObserveProviderErrors counts every ProviderError inside err, including
// those joined with errors.Join.
func (m *Metrics) ObserveProviderErrors(err error) {
	for _, pe := range providerErrors(err) {
		m.ProviderErrors.WithLabelValues(pe.Provider).Inc()
	}
}

func providerErrors(err error) []*types.ProviderError {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*types.ProviderError
		for _, e := range joined.Unwrap() {
			out = append(out, providerErrors(e)...)
		}
		return out
	}
	var pe *types.ProviderError
	if errors.As(err, &pe) {
		return []*types.ProviderError{pe}
	}
	return nil
}

// WriteTextfile dumps the collectors in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
