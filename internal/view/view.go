// Package view builds the tree the editor displays from the record store,
// the edit ledger, the hierarchy, and the active view settings. It supports a
// full rebuild and an incremental update of a single item.
package view

import (
	"errors"
	"math"
	"slices"

	"github.com/mesh-intelligence/erpdb/internal/filter"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// ErrRebuildRequired is returned by UpdateNode when the item's target
// Sub-subcategory node is not part of the current projection.
var ErrRebuildRequired = errors.New("projection rebuild required")

// RecordSource is the read side of the record store.
type RecordSource interface {
	All() []*types.Record
	AllColumns() []string
	Index(id string) (int, bool)
	Has(id string) bool
	Len() int
}

// EditSource resolves ledger-aware values.
type EditSource interface {
	ResolvedPath(id string) (types.CategoryPath, error)
	ResolvedText(id, field string) string
	IsDeleted(id string) bool
	IsCreation(id string) bool
	Creations() []*types.Record
}

// HierarchySource lists hierarchy children in source order.
type HierarchySource interface {
	ChildrenOf(prefix ...string) []string
}

// Options selects what a projection shows. ShowAll keeps hierarchy nodes that
// have no items; filters still apply.
type Options struct {
	Filters        map[string]types.Predicate
	VisibleColumns []string
	ColumnOrder    []string
	ShowAll        bool
}

// Projector owns the current projection. It is not safe for concurrent use.
type Projector struct {
	store   RecordSource
	edits   EditSource
	tax     HierarchySource
	opts    Options
	set     *filter.Set
	columns []string
	roots   []*types.TreeNode
	index   map[string]*types.TreeNode
	parent  map[string]string
}

// New returns a projector with no current projection.
func New(store RecordSource, edits EditSource, tax HierarchySource) *Projector {
	return &Projector{store: store, edits: edits, tax: tax}
}

// Columns returns the displayed columns of the current projection.
func (p *Projector) Columns() []string { return p.columns }

// Nodes returns the current projection.
func (p *Projector) Nodes() []*types.TreeNode { return p.roots }

// Lookup returns the node with rowID in the current projection.
func (p *Projector) Lookup(rowID string) (*types.TreeNode, bool) {
	n, ok := p.index[rowID]
	return n, ok
}

// Project rebuilds the whole tree. Hierarchy nodes follow taxonomy order,
// then paths found only in the data in first-seen order, then unassigned new
// items at the top level. Items are ordered by store position with new items
// after persisted ones.
func (p *Projector) Project(opts Options) ([]*types.TreeNode, error) {
	set, err := filter.Compile(opts.Filters)
	if err != nil {
		return nil, err
	}
	p.opts, p.set = opts, set
	p.columns = types.ViewSettings{
		VisibleColumns: opts.VisibleColumns,
		ColumnOrder:    opts.ColumnOrder,
	}.Columns(p.store.AllColumns())

	b := newBuilder()
	for _, cat := range p.tax.ChildrenOf() {
		if _, err := b.ensure(cat); err != nil {
			return nil, err
		}
		for _, sub := range p.tax.ChildrenOf(cat) {
			if _, err := b.ensure(cat, sub); err != nil {
				return nil, err
			}
			for _, leaf := range p.tax.ChildrenOf(cat, sub) {
				if _, err := b.ensure(cat, sub, leaf); err != nil {
					return nil, err
				}
			}
		}
	}

	var unassigned []*types.TreeNode
	for _, id := range p.itemIDs() {
		path, err := p.edits.ResolvedPath(id)
		if err != nil {
			return nil, err
		}
		item, err := p.itemNode(id, path)
		if err != nil {
			return nil, err
		}
		if path.IsZero() {
			unassigned = append(unassigned, item)
			continue
		}
		leaf, err := b.ensure(path.Parts()...)
		if err != nil {
			return nil, err
		}
		leaf.Children = append(leaf.Children, item)
	}
	roots := append(b.roots, unassigned...)

	if !opts.ShowAll {
		roots = pruneEmpty(roots)
	}
	if !set.Empty() {
		roots = filter.Apply(roots, set, p.edits.ResolvedText)
	}
	p.roots = roots
	p.reindex()
	return p.roots, nil
}

// itemIDs lists live items in display order.
func (p *Projector) itemIDs() []string {
	var ids []string
	for _, r := range p.store.All() {
		if !p.edits.IsDeleted(r.ID) {
			ids = append(ids, r.ID)
		}
	}
	for _, r := range p.edits.Creations() {
		ids = append(ids, r.ID)
	}
	return ids
}

func (p *Projector) rank(id string) int {
	if i, ok := p.store.Index(id); ok {
		return i
	}
	for i, r := range p.edits.Creations() {
		if r.ID == id {
			return p.store.Len() + i
		}
	}
	return math.MaxInt
}

func (p *Projector) itemNode(id string, path types.CategoryPath) (*types.TreeNode, error) {
	row, err := types.ItemRowID(id)
	if err != nil {
		return nil, err
	}
	fields := make([]types.FieldValue, len(p.columns))
	for i, c := range p.columns {
		fields[i] = types.FieldValue{Column: c, Value: p.edits.ResolvedText(id, c)}
	}
	return &types.TreeNode{
		RowID:    row,
		Kind:     types.NodeItem,
		Name:     p.edits.ResolvedText(id, types.ColumnERPName),
		Path:     path,
		Identity: id,
		Fields:   fields,
	}, nil
}

func pruneEmpty(nodes []*types.TreeNode) []*types.TreeNode {
	out := nodes[:0]
	for _, n := range nodes {
		if n.Kind != types.NodeItem {
			n.Children = pruneEmpty(n.Children)
			if len(n.Children) == 0 {
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

func (p *Projector) reindex() {
	p.index = make(map[string]*types.TreeNode)
	p.parent = make(map[string]string)
	var visit func(parent string, nodes []*types.TreeNode)
	visit = func(parent string, nodes []*types.TreeNode) {
		for _, n := range nodes {
			p.index[n.RowID] = n
			p.parent[n.RowID] = parent
			visit(n.RowID, n.Children)
		}
	}
	visit("", p.roots)
}

func (p *Projector) siblings(parent string) *[]*types.TreeNode {
	if parent == "" {
		return &p.roots
	}
	return &p.index[parent].Children
}

// attach inserts an item among its siblings by rank and returns its index.
func (p *Projector) attach(n *types.TreeNode, parent string) int {
	sib := p.siblings(parent)
	r := p.rank(n.Identity)
	i := slices.IndexFunc(*sib, func(s *types.TreeNode) bool {
		return s.Kind == types.NodeItem && p.rank(s.Identity) > r
	})
	if i < 0 {
		i = len(*sib)
	}
	*sib = slices.Insert(*sib, i, n)
	p.index[n.RowID] = n
	p.parent[n.RowID] = parent
	return i
}

func (p *Projector) detach(row, parent string) {
	sib := p.siblings(parent)
	*sib = slices.DeleteFunc(*sib, func(s *types.TreeNode) bool { return s.RowID == row })
	delete(p.index, row)
	delete(p.parent, row)
}

type builder struct {
	roots []*types.TreeNode
	nodes map[string]*types.TreeNode
}

func newBuilder() *builder {
	return &builder{nodes: make(map[string]*types.TreeNode)}
}

var levelKinds = []types.NodeKind{types.NodeCategory, types.NodeSubcategory, types.NodeSubSubcategory}

// ensure returns the hierarchy node at parts, creating it and any missing
// ancestors at the end of their sibling lists.
func (b *builder) ensure(parts ...string) (*types.TreeNode, error) {
	row, err := types.HierarchyRowID(parts...)
	if err != nil {
		return nil, err
	}
	if n, ok := b.nodes[row]; ok {
		return n, nil
	}
	var path types.CategoryPath
	for i, v := range parts {
		switch i {
		case 0:
			path.Category = v
		case 1:
			path.Subcategory = v
		case 2:
			path.SubSubcategory = v
		}
	}
	n := &types.TreeNode{
		RowID: row,
		Kind:  levelKinds[len(parts)-1],
		Name:  parts[len(parts)-1],
		Path:  path,
	}
	if len(parts) == 1 {
		b.roots = append(b.roots, n)
	} else {
		parent, err := b.ensure(parts[:len(parts)-1]...)
		if err != nil {
			return nil, err
		}
		parent.Children = append(parent.Children, n)
	}
	b.nodes[row] = n
	return n, nil
}
