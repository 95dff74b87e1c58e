package view

import (
	"slices"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// PatchOp is the kind of change UpdateNode made to the projection.
type PatchOp string

// Patch operations.
const (
	PatchNone   PatchOp = "none"
	PatchInsert PatchOp = "insert"
	PatchUpdate PatchOp = "update"
	PatchMove   PatchOp = "move"
	PatchRemove PatchOp = "remove"
)

// Patch describes a single-item change. Parent and From are row ids, empty
// for the top level; Index is the position among Parent's children.
type Patch struct {
	Op     PatchOp
	RowID  string
	Parent string
	From   string
	Index  int
	Node   *types.TreeNode
}

// UpdateNode recomputes one item in the current projection. Only that item
// moves; its siblings keep their relative order and ancestors left empty stay
// until the next rebuild. It returns ErrRebuildRequired when there is no
// projection yet or the item's target Sub-subcategory node is absent.
func (p *Projector) UpdateNode(id string) (Patch, error) {
	if p.index == nil {
		return Patch{}, ErrRebuildRequired
	}
	row, err := types.ItemRowID(id)
	if err != nil {
		return Patch{}, err
	}
	oldParent, present := p.parent[row]

	live := (p.store.Has(id) && !p.edits.IsDeleted(id)) || p.edits.IsCreation(id)
	if live && !p.set.Match(func(c string) string { return p.edits.ResolvedText(id, c) }) {
		live = false
	}
	if !live {
		if !present {
			return Patch{Op: PatchNone, RowID: row}, nil
		}
		p.detach(row, oldParent)
		return Patch{Op: PatchRemove, RowID: row, From: oldParent}, nil
	}

	path, err := p.edits.ResolvedPath(id)
	if err != nil {
		return Patch{}, err
	}
	var newParent string
	if !path.IsZero() {
		newParent, err = types.HierarchyRowID(path.Parts()...)
		if err != nil {
			return Patch{}, err
		}
		if n, ok := p.index[newParent]; !ok || n.Kind != types.NodeSubSubcategory {
			return Patch{}, ErrRebuildRequired
		}
	}
	node, err := p.itemNode(id, path)
	if err != nil {
		return Patch{}, err
	}

	if present && oldParent == newParent {
		existing := p.index[row]
		*existing = *node
		idx := slices.IndexFunc(*p.siblings(newParent), func(s *types.TreeNode) bool { return s.RowID == row })
		return Patch{Op: PatchUpdate, RowID: row, Parent: newParent, Index: idx, Node: existing}, nil
	}

	patch := Patch{Op: PatchInsert, RowID: row, Parent: newParent, Node: node}
	if present {
		p.detach(row, oldParent)
		patch.Op, patch.From = PatchMove, oldParent
	}
	patch.Index = p.attach(node, newParent)
	return patch, nil
}
