package types

import "strings"

// Hierarchy column names in the persisted database.
const (
	ColumnCategory       = "Category"
	ColumnSubcategory    = "Subcategory"
	ColumnSubSubcategory = "Sub-subcategory"
)

// PathColumns lists the hierarchy columns from root to leaf.
var PathColumns = []string{ColumnCategory, ColumnSubcategory, ColumnSubSubcategory}

// Level is the depth of a node in the category hierarchy.
type Level int

// Hierarchy levels.
const (
	LevelCategory Level = iota + 1
	LevelSubcategory
	LevelSubSubcategory
)

func (l Level) String() string {
	switch l {
	case LevelCategory:
		return ColumnCategory
	case LevelSubcategory:
		return ColumnSubcategory
	case LevelSubSubcategory:
		return ColumnSubSubcategory
	default:
		return "Unknown"
	}
}

// Column returns the record column holding the name of a node at this level.
func (l Level) Column() string { return l.String() }

// Enrichment attribute columns copied from a Sub-subcategory onto its items.
const (
	AttrStage      = "Stage"
	AttrOrigin     = "Origin"
	AttrSerialized = "Serialized"
	AttrUsage      = "Usage"
)

// EnrichmentColumns lists the attribute columns in output order.
var EnrichmentColumns = []string{AttrStage, AttrOrigin, AttrSerialized, AttrUsage}

// Delimiter separates components of row ids. It is a private-use code point,
// so it never appears in legitimately entered text; values containing it are
// rejected wherever they would enter a row id.
const Delimiter = "\uE000"

// ContainsDelimiter reports whether s contains the reserved delimiter.
func ContainsDelimiter(s string) bool {
	return strings.Contains(s, Delimiter)
}

// CategoryPath addresses a leaf of the hierarchy. The zero value is the
// unassigned path used by drafts that have not been placed yet.
type CategoryPath struct {
	Category       string `json:"category"`
	Subcategory    string `json:"subcategory"`
	SubSubcategory string `json:"sub_subcategory"`
}

// NewPath builds a CategoryPath from its three components.
func NewPath(category, subcategory, subSubcategory string) CategoryPath {
	return CategoryPath{Category: category, Subcategory: subcategory, SubSubcategory: subSubcategory}
}

// IsZero reports whether the path is unassigned.
func (p CategoryPath) IsZero() bool {
	return p.Category == "" && p.Subcategory == "" && p.SubSubcategory == ""
}

// Parts returns the components from root to leaf.
func (p CategoryPath) Parts() []string {
	return []string{p.Category, p.Subcategory, p.SubSubcategory}
}

// Prefix returns the first n components.
func (p CategoryPath) Prefix(n int) []string {
	parts := p.Parts()
	if n > len(parts) {
		n = len(parts)
	}
	return parts[:n]
}

// Value returns the component stored in the given hierarchy column.
func (p CategoryPath) Value(column string) (string, bool) {
	switch column {
	case ColumnCategory:
		return p.Category, true
	case ColumnSubcategory:
		return p.Subcategory, true
	case ColumnSubSubcategory:
		return p.SubSubcategory, true
	}
	return "", false
}

// Validate rejects components containing the reserved delimiter.
func (p CategoryPath) Validate() error {
	for _, part := range p.Parts() {
		if ContainsDelimiter(part) {
			return ErrReservedDelimiter
		}
	}
	return nil
}

func (p CategoryPath) String() string {
	return strings.Join(p.Parts(), " / ")
}

// IsPathColumn reports whether column is one of the hierarchy columns.
func IsPathColumn(column string) bool {
	_, ok := CategoryPath{}.Value(column)
	return ok
}
