// Package filter evaluates per-column predicates against resolved display
// values and prunes projected trees while keeping the ancestors of every
// surviving item.
package filter

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

func fold(s string) string {
	return cases.Fold().String(s)
}

// Matches reports whether value satisfies p, ignoring case. An inactive
// predicate matches everything.
func Matches(value string, p types.Predicate) bool {
	if !p.Active() {
		return true
	}
	return match(fold(value), fold(p.Value), p.Op)
}

func match(value, want string, op types.FilterOp) bool {
	switch op {
	case types.OpEquals:
		return value == want
	case types.OpStartsWith:
		return strings.HasPrefix(value, want)
	case types.OpEndsWith:
		return strings.HasSuffix(value, want)
	default:
		return strings.Contains(value, want)
	}
}

type compiled struct {
	column string
	op     types.FilterOp
	want   string
}

// Set is a compiled conjunction of column predicates.
type Set struct {
	preds []compiled
}

// Compile validates filters and drops inactive ones. Predicates are ordered
// by column so evaluation is deterministic.
func Compile(filters map[string]types.Predicate) (*Set, error) {
	s := &Set{}
	for col, p := range filters {
		p.Op = p.Op.Normalize()
		if p.Op == "" {
			p.Op = types.OpContains
		}
		if !p.Op.Valid() {
			return nil, types.Invalid("", col, fmt.Errorf("%w: %q", types.ErrInvalidFilter, p.Op))
		}
		if !p.Active() {
			continue
		}
		s.preds = append(s.preds, compiled{column: col, op: p.Op, want: fold(p.Value)})
	}
	slices.SortFunc(s.preds, func(a, b compiled) int { return strings.Compare(a.column, b.column) })
	return s, nil
}

// Empty reports whether the set constrains nothing.
func (s *Set) Empty() bool { return s == nil || len(s.preds) == 0 }

// Columns returns the filtered columns.
func (s *Set) Columns() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.preds))
	for i, p := range s.preds {
		out[i] = p.column
	}
	return out
}

// Match reports whether every predicate holds for the values returned by
// lookup.
func (s *Set) Match(lookup func(column string) string) bool {
	if s == nil {
		return true
	}
	for _, p := range s.preds {
		if !match(fold(lookup(p.column)), p.want, p.op) {
			return false
		}
	}
	return true
}

// MatchPath reports whether a hierarchy node at the given path prefix
// matches on its own: the set is non-empty and every predicate is on a
// hierarchy column the node defines and holds for it.
func (s *Set) MatchPath(parts []string) bool {
	if s.Empty() {
		return false
	}
	for _, p := range s.preds {
		i := slices.Index(types.PathColumns, p.column)
		if i < 0 || i >= len(parts) {
			return false
		}
		if !match(fold(parts[i]), p.want, p.op) {
			return false
		}
	}
	return true
}

// Resolver returns the display value of column for an item identity.
type Resolver func(identity, column string) string

// Apply returns the nodes that survive s. Item nodes survive when they match;
// hierarchy nodes survive when a descendant item survives or the node
// matches on its own. Surviving nodes are copies; the input is not modified.
func Apply(nodes []*types.TreeNode, s *Set, resolve Resolver) []*types.TreeNode {
	out := make([]*types.TreeNode, 0, len(nodes))
	for _, n := range nodes {
		if kept, ok := applyNode(n, s, resolve); ok {
			out = append(out, kept)
		}
	}
	return out
}

func applyNode(n *types.TreeNode, s *Set, resolve Resolver) (*types.TreeNode, bool) {
	if n.Kind == types.NodeItem {
		ok := s.Match(func(col string) string { return resolve(n.Identity, col) })
		return n, ok
	}
	children := Apply(n.Children, s, resolve)
	if len(children) == 0 && !s.MatchPath(hierarchyParts(n)) {
		return nil, false
	}
	cp := *n
	cp.Children = children
	return &cp, true
}

func hierarchyParts(n *types.TreeNode) []string {
	switch n.Kind {
	case types.NodeCategory:
		return n.Path.Prefix(1)
	case types.NodeSubcategory:
		return n.Path.Prefix(2)
	default:
		return n.Path.Prefix(3)
	}
}
