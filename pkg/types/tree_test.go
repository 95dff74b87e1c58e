package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHierarchyRowIDDoesNotCollide(t *testing.T) {
	// "A|B" + "C" and "A" + "B|C" collided when rows were keyed with "|".
	a, err := HierarchyRowID("A|B", "C")
	require.NoError(t, err)
	b, err := HierarchyRowID("A", "B|C")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = HierarchyRowID("A"+Delimiter+"B", "C")
	assert.ErrorIs(t, err, ErrReservedDelimiter)
}

func TestParseRowID(t *testing.T) {
	id, err := HierarchyRowID("Passive", "Resistors", "SMD")
	require.NoError(t, err)
	kind, parts, ok := ParseRowID(id)
	require.True(t, ok)
	assert.Equal(t, NodeSubSubcategory, kind)
	assert.Equal(t, []string{"Passive", "Resistors", "SMD"}, parts)

	item, err := ItemRowID("abc")
	require.NoError(t, err)
	kind, parts, ok = ParseRowID(item)
	require.True(t, ok)
	assert.Equal(t, NodeItem, kind)
	assert.Equal(t, []string{"abc"}, parts)

	_, _, ok = ParseRowID("garbage")
	assert.False(t, ok)
}

func TestErrorCategories(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{&LoadError{Source: "db.json", Err: ErrCycle}, ErrLoad},
		{Invalid("x", "Category", ErrUnknownPath), ErrValidation},
		{&CommitError{Op: "write", Err: errors.New("disk full")}, ErrCommit},
		{&ProviderError{Provider: "ollama", Item: "x", Err: errors.New("timeout")}, ErrProvider},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, tt.err, tt.want)
		for _, other := range []error{ErrLoad, ErrValidation, ErrCommit, ErrProvider} {
			if other != tt.want {
				assert.NotErrorIs(t, tt.err, other)
			}
		}
	}
	assert.ErrorIs(t, Invalid("x", "Category", ErrUnknownPath), ErrUnknownPath)
	assert.Equal(t, "validate x.Category: category path does not exist", Invalid("x", "Category", ErrUnknownPath).Error())
}

func TestViewSettingsColumns(t *testing.T) {
	all := []string{"Category", "ERP Name", "Image", "Manufacturer"}
	v := ViewSettings{}
	assert.Equal(t, all, v.Columns(all))

	v = ViewSettings{
		VisibleColumns: []string{"Manufacturer", "ERP Name", "Gone"},
		ColumnOrder:    []string{"Manufacturer"},
	}
	assert.Equal(t, []string{"Manufacturer", "ERP Name"}, v.Columns(all))

	hidden := ViewSettings{VisibleColumns: []string{}, ColumnOrder: []string{"ERP Name"}}
	assert.Empty(t, hidden.Columns(all))

	v.ActiveFilters = map[string]Predicate{
		"Manufacturer": {Op: OpContains, Value: "yageo"},
		"REMARK":       {Op: OpEquals, Value: ""},
	}
	assert.Len(t, v.Filters(), 1)
}
