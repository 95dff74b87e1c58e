package types

import "strings"

// NodeKind is the kind of a projected tree node.
type NodeKind string

// Tree node kinds.
const (
	NodeCategory       NodeKind = "category"
	NodeSubcategory    NodeKind = "subcategory"
	NodeSubSubcategory NodeKind = "sub_subcategory"
	NodeItem           NodeKind = "item"
)

// FieldValue is one displayed cell.
type FieldValue struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// TreeNode is one row of the projected tree. Hierarchy nodes carry Name and
// Path; item nodes carry Identity and Fields.
type TreeNode struct {
	RowID    string       `json:"row_id"`
	Kind     NodeKind     `json:"kind"`
	Name     string       `json:"name"`
	Path     CategoryPath `json:"path"`
	Identity string       `json:"identity,omitempty"`
	Fields   []FieldValue `json:"fields,omitempty"`
	Children []*TreeNode  `json:"children,omitempty"`
}

// Field returns the displayed value of column.
func (n *TreeNode) Field(column string) (string, bool) {
	for _, f := range n.Fields {
		if f.Column == column {
			return f.Value, true
		}
	}
	return "", false
}

// Walk visits n and its descendants depth first. Returning false from fn
// stops the walk below that node.
func (n *TreeNode) Walk(fn func(*TreeNode) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Row id prefixes.
const (
	rowCategory       = "C"
	rowSubcategory    = "S"
	rowSubSubcategory = "T"
	rowItem           = "I"
)

// HierarchyRowID builds the row id of the hierarchy node at the given
// prefix. Components must not contain Delimiter.
func HierarchyRowID(parts ...string) (string, error) {
	var prefix string
	switch len(parts) {
	case 1:
		prefix = rowCategory
	case 2:
		prefix = rowSubcategory
	case 3:
		prefix = rowSubSubcategory
	default:
		return "", ErrInvalidField
	}
	for _, p := range parts {
		if ContainsDelimiter(p) {
			return "", ErrReservedDelimiter
		}
	}
	return prefix + Delimiter + strings.Join(parts, Delimiter), nil
}

// ItemRowID builds the row id of an item node from its identity.
func ItemRowID(identity string) (string, error) {
	if identity == "" {
		return "", ErrNotFound
	}
	if ContainsDelimiter(identity) {
		return "", ErrReservedDelimiter
	}
	return rowItem + Delimiter + identity, nil
}

// ParseRowID splits a row id into its kind and components.
func ParseRowID(rowID string) (NodeKind, []string, bool) {
	parts := strings.Split(rowID, Delimiter)
	if len(parts) < 2 {
		return "", nil, false
	}
	rest := parts[1:]
	switch {
	case parts[0] == rowCategory && len(rest) == 1:
		return NodeCategory, rest, true
	case parts[0] == rowSubcategory && len(rest) == 2:
		return NodeSubcategory, rest, true
	case parts[0] == rowSubSubcategory && len(rest) == 3:
		return NodeSubSubcategory, rest, true
	case parts[0] == rowItem && len(rest) == 1:
		return NodeItem, rest, true
	}
	return "", nil, false
}
