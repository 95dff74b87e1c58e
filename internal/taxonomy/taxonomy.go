// Package taxonomy implements the category hierarchy store: the three-level
// Category / Subcategory / Sub-subcategory tree with enrichment attributes on
// the leaves. Nodes live in an arena and refer to their parent by index.
package taxonomy

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

const noParent = -1

// Node is one entry of the hierarchy arena.
type Node struct {
	Name       string
	Level      types.Level
	Parent     int
	Children   []int
	Attributes map[string]string
}

// Hierarchy is immutable once loaded.
type Hierarchy struct {
	nodes []Node
	roots []int
	index map[string]int
}

// New returns an empty hierarchy.
func New() *Hierarchy {
	return &Hierarchy{index: make(map[string]int)}
}

func key(parts []string) string {
	return strings.Join(parts, types.Delimiter)
}

// add appends a node under parent and returns its index.
func (h *Hierarchy) add(parent int, name string, attrs map[string]string) (int, error) {
	name = strings.TrimSpace(name)
	if types.ContainsDelimiter(name) {
		return 0, fmt.Errorf("%q: %w", name, types.ErrReservedDelimiter)
	}
	level := types.LevelCategory
	var parts []string
	if parent != noParent {
		p := h.nodes[parent]
		if p.Level == types.LevelSubSubcategory {
			return 0, fmt.Errorf("%q: hierarchy is limited to three levels", name)
		}
		level = p.Level + 1
		parts = h.pathOf(parent)
	}
	if len(attrs) > 0 && level != types.LevelSubSubcategory {
		return 0, fmt.Errorf("%q: attributes are only allowed on %s nodes", name, types.LevelSubSubcategory)
	}
	parts = append(parts, name)
	k := key(parts)
	if _, dup := h.index[k]; dup {
		return 0, fmt.Errorf("%s: %w", strings.Join(parts, " / "), types.ErrDuplicateName)
	}
	idx := len(h.nodes)
	h.nodes = append(h.nodes, Node{Name: name, Level: level, Parent: parent, Attributes: attrs})
	h.index[k] = idx
	if parent == noParent {
		h.roots = append(h.roots, idx)
	} else {
		h.nodes[parent].Children = append(h.nodes[parent].Children, idx)
	}
	return idx, nil
}

func (h *Hierarchy) pathOf(idx int) []string {
	var parts []string
	for i := idx; i != noParent; i = h.nodes[i].Parent {
		parts = append(parts, h.nodes[i].Name)
	}
	slices.Reverse(parts)
	return parts
}

func (h *Hierarchy) lookup(parts ...string) (int, bool) {
	i, ok := h.index[key(parts)]
	return i, ok
}

// Len returns the number of nodes.
func (h *Hierarchy) Len() int { return len(h.nodes) }

// ChildrenOf returns the child names under prefix in source order. With no
// prefix it returns the categories. Unknown prefixes and childless nodes
// yield an empty slice.
func (h *Hierarchy) ChildrenOf(prefix ...string) []string {
	var idxs []int
	if len(prefix) == 0 {
		idxs = h.roots
	} else if i, ok := h.lookup(prefix...); ok {
		idxs = h.nodes[i].Children
	}
	names := make([]string, 0, len(idxs))
	for _, i := range idxs {
		names = append(names, h.nodes[i].Name)
	}
	return names
}

// HasPrefix reports whether the node addressed by parts exists.
func (h *Hierarchy) HasPrefix(parts ...string) bool {
	if len(parts) == 0 {
		return true
	}
	_, ok := h.lookup(parts...)
	return ok
}

// Exists reports whether p names an existing Sub-subcategory.
func (h *Hierarchy) Exists(p types.CategoryPath) bool {
	i, ok := h.lookup(p.Parts()...)
	return ok && h.nodes[i].Level == types.LevelSubSubcategory
}

// Position returns the sibling index of the node addressed by parts, used to
// order projected nodes.
func (h *Hierarchy) Position(parts ...string) (int, bool) {
	i, ok := h.lookup(parts...)
	if !ok {
		return 0, false
	}
	siblings := h.roots
	if p := h.nodes[i].Parent; p != noParent {
		siblings = h.nodes[p].Children
	}
	return slices.Index(siblings, i), true
}

// AttributesFor returns a copy of the enrichment attributes of p. Every
// enrichment column is present; unknown paths yield nil.
func (h *Hierarchy) AttributesFor(p types.CategoryPath) map[string]string {
	i, ok := h.lookup(p.Parts()...)
	if !ok || h.nodes[i].Level != types.LevelSubSubcategory {
		return nil
	}
	out := make(map[string]string, len(types.EnrichmentColumns))
	for _, c := range types.EnrichmentColumns {
		out[c] = ""
	}
	for k, v := range h.nodes[i].Attributes {
		out[k] = v
	}
	return out
}

// Paths returns every Sub-subcategory path in hierarchy order.
func (h *Hierarchy) Paths() []types.CategoryPath {
	var out []types.CategoryPath
	h.Walk(func(n Node, parts []string) {
		if n.Level == types.LevelSubSubcategory {
			out = append(out, types.NewPath(parts[0], parts[1], parts[2]))
		}
	})
	return out
}

// Walk visits every node depth first in source order.
func (h *Hierarchy) Walk(fn func(n Node, parts []string)) {
	var visit func(idx int, parts []string)
	visit = func(idx int, parts []string) {
		n := h.nodes[idx]
		parts = append(parts[:len(parts):len(parts)], n.Name)
		fn(n, parts)
		for _, c := range n.Children {
			visit(c, parts)
		}
	}
	for _, r := range h.roots {
		visit(r, nil)
	}
}

// Closest returns the existing path sharing the longest prefix with p,
// preferring the first leaf under the deepest matching node. It reports
// false when not even the category exists.
func (h *Hierarchy) Closest(p types.CategoryPath) (types.CategoryPath, bool) {
	parts := p.Parts()
	for n := len(parts); n > 0; n-- {
		i, ok := h.lookup(parts[:n]...)
		if !ok {
			continue
		}
		for h.nodes[i].Level != types.LevelSubSubcategory {
			if len(h.nodes[i].Children) == 0 {
				break
			}
			i = h.nodes[i].Children[0]
		}
		if h.nodes[i].Level == types.LevelSubSubcategory {
			full := h.pathOf(i)
			return types.NewPath(full[0], full[1], full[2]), true
		}
	}
	return types.CategoryPath{}, false
}
