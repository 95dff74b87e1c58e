package types

import (
	"slices"
	"strings"
)

// FilterOp is a per-column predicate operation.
type FilterOp string

// Filter operations. Matching is case-insensitive.
const (
	OpContains   FilterOp = "contains"
	OpEquals     FilterOp = "equals"
	OpStartsWith FilterOp = "starts_with"
	OpEndsWith   FilterOp = "ends_with"
)

// Valid reports whether op is a known filter operation.
func (op FilterOp) Valid() bool {
	switch op {
	case OpContains, OpEquals, OpStartsWith, OpEndsWith:
		return true
	}
	return false
}

// Normalize maps spelling variants such as "starts with" onto the canonical
// operation names.
func (op FilterOp) Normalize() FilterOp {
	s := strings.ToLower(strings.TrimSpace(string(op)))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return FilterOp(s)
}

// Predicate is the filter applied to one column. The JSON names match the
// settings file written by earlier releases ({"type": ..., "value": ...}).
type Predicate struct {
	Op    FilterOp `json:"type"`
	Value string   `json:"value"`
}

// Active reports whether the predicate constrains anything.
func (p Predicate) Active() bool { return p.Value != "" }

// AISettings is the last-used suggestion provider configuration.
type AISettings struct {
	SelectedModel   string                    `json:"selected_model"`
	SelectedPrompt  string                    `json:"selected_prompt"`
	ModelParameters map[string]map[string]any `json:"model_parameters"`
}

// ViewSettings holds column visibility, order, and filters. VisibleColumns is
// always a subset of the store's column set; it is intersected on use and
// never narrows the set of selectable columns. A nil VisibleColumns means no
// selection was made and shows every column; an empty one shows none.
type ViewSettings struct {
	VisibleColumns []string             `json:"visible_columns"`
	ColumnOrder    []string             `json:"column_order"`
	ActiveFilters  map[string]Predicate `json:"active_filters"`
	AI             AISettings           `json:"ai_settings"`
}

// Columns returns the displayed columns drawn from all, in ColumnOrder first
// and then in all's order.
func (v ViewSettings) Columns(all []string) []string {
	visible := func(c string) bool {
		return v.VisibleColumns == nil || slices.Contains(v.VisibleColumns, c)
	}
	out := make([]string, 0, len(all))
	seen := make(map[string]bool, len(all))
	for _, c := range v.ColumnOrder {
		if slices.Contains(all, c) && visible(c) && !seen[c] {
			out = append(out, c)
			seen[c] = true
		}
	}
	for _, c := range all {
		if visible(c) && !seen[c] {
			out = append(out, c)
			seen[c] = true
		}
	}
	return out
}

// Filters returns the active predicates only.
func (v ViewSettings) Filters() map[string]Predicate {
	out := make(map[string]Predicate, len(v.ActiveFilters))
	for col, p := range v.ActiveFilters {
		if p.Active() {
			out[col] = p
		}
	}
	return out
}
