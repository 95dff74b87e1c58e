package records

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

const sampleDB = `[
    {
        "Category": "Passive",
        "Subcategory": "Resistors",
        "Sub-subcategory": "SMD",
        "ERP Name": {"full_name": "RES_0603_10k", "type": "RES", "part_number": "0603", "additional_parameters": "10k"},
        "Image": "",
        "Manufacturer": "Yageo",
        "Qty": 12
    },
    {
        "Category": "Active",
        "Subcategory": "ICs",
        "Sub-subcategory": "MCU",
        "ERP Name": {"full_name": "MCU_STM32", "type": "MCU", "part_number": "STM32", "additional_parameters": ""},
        "Manufacturer ": "ST",
        "REMARK": "line one\nline two"
    }
]`

func mustLoad(t *testing.T, doc string) *Store {
	t.Helper()
	s, err := Load(strings.NewReader(doc))
	require.NoError(t, err)
	return s
}

func TestLoadIndexesRecords(t *testing.T) {
	s := mustLoad(t, sampleDB)
	require.Equal(t, 2, s.Len())

	first := s.All()[0]
	got, err := s.Get(first.ID)
	require.NoError(t, err)
	assert.Same(t, first, got)
	assert.Equal(t, "RES_0603_10k", got.Text(types.ColumnERPName))
	assert.Equal(t, "12", got.Text("Qty"))

	second := s.All()[1]
	assert.Equal(t, "ST", second.Text("Manufacturer"), "column names are trimmed")

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestIdentityIsStableAndDistinct(t *testing.T) {
	a := mustLoad(t, sampleDB)
	b := mustLoad(t, sampleDB)
	assert.Equal(t, a.All()[0].ID, b.All()[0].ID)
	assert.NotEqual(t, a.All()[0].ID, a.All()[1].ID)

	dup := mustLoad(t, `[{"ERP Name":"X"},{"ERP Name":"X"}]`)
	assert.NotEqual(t, dup.All()[0].ID, dup.All()[1].ID, "exact duplicates get distinct identities")
}

func TestAllColumns(t *testing.T) {
	s := mustLoad(t, sampleDB)
	assert.Equal(t, []string{
		"Category", "Subcategory", "Sub-subcategory", "ERP Name", "Image", "Manufacturer", "Qty", "REMARK",
	}, s.AllColumns())

	s = mustLoad(t, `[{"ERP Name": "X", "Notes": ""}]`)
	assert.Equal(t, []string{"ERP Name", "Image", "Notes", "Category", "Subcategory", "Sub-subcategory"}, s.AllColumns())
}

func TestLoadRejectsMalformed(t *testing.T) {
	for _, doc := range []string{
		`{"a": 1}`,
		`[{"a": 1}, 2]`,
		`[{"a": 1}`,
		`[{"a": 1}] []`,
		`[{"Category": "A` + types.Delimiter + `"}]`,
	} {
		_, err := Load(strings.NewReader(doc))
		assert.ErrorIs(t, err, types.ErrLoad, doc)
	}
}

func TestEmptyDatabase(t *testing.T) {
	s := mustLoad(t, "")
	assert.Zero(t, s.Len())

	s, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Zero(t, s.Len())

	s = mustLoad(t, "[]")
	assert.Zero(t, s.Len())
	var buf bytes.Buffer
	require.NoError(t, s.Encode(&buf))
	assert.Equal(t, "[]\n", buf.String())
}

func TestRoundTripColumnSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleDB), 0o644))

	s, err := LoadFile(path)
	require.NoError(t, err)
	before := s.AllColumns()

	s.Normalize()
	var buf bytes.Buffer
	require.NoError(t, s.Encode(&buf))

	again := mustLoad(t, buf.String())
	assert.Equal(t, before, again.AllColumns())
	for _, r := range again.All() {
		assert.Equal(t, before, r.Columns, "every record carries every column in canonical order")
	}

	first := again.All()[0]
	assert.Equal(t, json.RawMessage(`12`), first.Fields["Qty"], "numbers keep their encoding")
	second := again.All()[1]
	assert.Equal(t, json.RawMessage(`""`), second.Fields["Qty"])
	assert.Equal(t, "line one\nline two", second.Text("REMARK"))

	var out bytes.Buffer
	require.NoError(t, again.Encode(&out))
	assert.Equal(t, buf.String(), out.String(), "second save is byte identical")
}

func TestNormalizeFillsEmptyERPName(t *testing.T) {
	s := mustLoad(t, `[{"Manufacturer": "A"}]`)
	s.Normalize()
	assert.Equal(t, types.ERPName{}, s.All()[0].ERPName())
	assert.Equal(t, emptyERPName, s.All()[0].Fields[types.ColumnERPName])
}

func TestApply(t *testing.T) {
	s := mustLoad(t, sampleDB)
	a, b := s.All()[0].ID, s.All()[1].ID
	path := types.NewPath("Active", "ICs", "MCU")

	draft, err := types.NewDraft(types.NewPath("Passive", "Resistors", "SMD"), types.ParseERPName("RES_0402_1k"), map[string]string{"Color": "blue"})
	require.NoError(t, err)

	updated, errs := s.Apply([]types.Entry{
		{Identity: a, Kind: types.KindFieldUpdate, Field: "Manufacturer", Value: json.RawMessage(`"Vishay"`)},
		{Identity: a, Kind: types.KindReassignment, Path: &path},
		{Identity: "ghost", Kind: types.KindFieldUpdate, Field: "Manufacturer", Value: json.RawMessage(`"x"`)},
		{Identity: b, Kind: types.KindDeletion},
		{Identity: b, Kind: types.KindImageUpdate, Value: json.RawMessage(`"Images/x.jpg"`)},
		{Identity: "new-1", Kind: types.KindCreation, Record: draft},
	})
	assert.Equal(t, 4, updated)
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.ErrorIs(t, err, types.ErrValidation)
		assert.ErrorIs(t, err, types.ErrNotFound)
	}

	require.Equal(t, 2, s.Len())
	rec, err := s.Get(a)
	require.NoError(t, err)
	assert.Equal(t, "Vishay", rec.Text("Manufacturer"))
	assert.Equal(t, path, rec.Path())

	assert.False(t, s.Has(b))
	created, err := s.Get("new-1")
	require.NoError(t, err)
	assert.Equal(t, "RES_0402_1k", created.Text(types.ColumnERPName))
	assert.Contains(t, s.AllColumns(), "Color")

	idx, ok := s.Index("new-1")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestCloneIsIndependent(t *testing.T) {
	s := mustLoad(t, sampleDB)
	c := s.Clone()
	id := s.All()[0].ID
	c.Apply([]types.Entry{{Identity: id, Kind: types.KindDeletion}})

	assert.True(t, s.Has(id))
	assert.False(t, c.Has(id))

	s.Replace(c)
	assert.False(t, s.Has(id))
}

func TestUniqueValues(t *testing.T) {
	s := mustLoad(t, `[{"M":"a"},{"M":""},{"M":"b"},{"M":"a"}]`)
	assert.Equal(t, []string{"a", "b"}, s.UniqueValues("M"))
	assert.Empty(t, s.UniqueValues("Missing"))
}

func TestCleaningProposals(t *testing.T) {
	s := mustLoad(t, `[{"Category":"NEN cat","REMARK":"a\r\n  b","Std":"  nen  EN 123","Other":"NENA","N":5,"ERP Name":{"full_name":"x\ny"}}]`)
	id := s.All()[0].ID

	assert.Equal(t, []Change{{Identity: id, Field: "REMARK", Value: "a b"}}, s.CollapseMultiline())
	assert.Equal(t, []Change{
		{Identity: id, Field: "Std", Value: "EN 123"},
		{Identity: id, Field: "Other", Value: "A"},
	}, s.StripPrefix("NEN"))
	assert.Nil(t, s.StripPrefix(""))
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{
		{"Category", "Subcategory", "Sub-subcategory", "ERP Name", " Manufacturer ", "Manufacturer", ""},
		{"Passive", "Resistors", "SMD", "RES_0603_10k", "Yageo", "ignored", "x"},
		{},
		{"", "", "", "CAP_100N"},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)

	drafts, err := ReadXLSX(&buf)
	require.NoError(t, err)
	require.Len(t, drafts, 2)

	first := drafts[0]
	assert.Equal(t, []string{"Category", "Subcategory", "Sub-subcategory", "ERP Name", "Manufacturer"}, first.Columns)
	assert.Equal(t, types.NewPath("Passive", "Resistors", "SMD"), first.Path())
	assert.Equal(t, "RES", first.ERPName().Type)
	assert.Equal(t, "Yageo", first.Text("Manufacturer"))

	second := drafts[1]
	assert.True(t, second.Path().IsZero())
	assert.Equal(t, "CAP_100N", second.Text(types.ColumnERPName))
	assert.Equal(t, "", second.Text("Manufacturer"))
}

func TestReadXLSXRejectsGarbage(t *testing.T) {
	_, err := ReadXLSX(strings.NewReader("not a workbook"))
	assert.Error(t, err)
}
