package session

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/erpdb/internal/export"
	"github.com/mesh-intelligence/erpdb/internal/images"
	"github.com/mesh-intelligence/erpdb/internal/records"
	"github.com/mesh-intelligence/erpdb/internal/suggest"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

const taxonomyDoc = `[
  {"category": "Passive", "subcategories": [{"name": "Resistors", "sub_subcategories": [
    {"name": "SMD", "stage": "Production", "origin": "Purchased"},
    {"name": "THT", "stage": "Legacy", "usage": "Through-hole"}
  ]}]}
]`

const databaseDoc = `[
    {
        "Category": "Passive",
        "Subcategory": "Resistors",
        "Sub-subcategory": "SMD",
        "ERP Name": {"full_name": "RES_1", "type": "RES", "part_number": "1", "additional_parameters": ""},
        "Image": "",
        "Manufacturer": "NEN Yageo",
        "REMARK": "line one\nline two"
    },
    {
        "Category": "Passive",
        "Subcategory": "Resistors",
        "Sub-subcategory": "SMD",
        "ERP Name": {"full_name": "RES_2", "type": "RES", "part_number": "2", "additional_parameters": ""},
        "Image": "",
        "Manufacturer": "Vishay",
        "REMARK": ""
    }
]`

func testConfig(t *testing.T) types.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := types.Config{
		Database: filepath.Join(dir, "parts.json"),
		Taxonomy: filepath.Join(dir, "categories.json"),
		Settings: filepath.Join(dir, "settings.json"),
		Prompts:  filepath.Join(dir, "prompts.json"),
	}
	require.NoError(t, os.WriteFile(cfg.Database, []byte(databaseDoc), 0o644))
	require.NoError(t, os.WriteFile(cfg.Taxonomy, []byte(taxonomyDoc), 0o644))
	return cfg
}

func open(t *testing.T, cfg types.Config) *Session {
	t.Helper()
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	return s
}

func ids(s *Session) []string {
	var out []string
	for _, r := range s.Store().All() {
		out = append(out, r.ID)
	}
	return out
}

func TestOpenLoadsEverything(t *testing.T) {
	s := open(t, testConfig(t))
	assert.Equal(t, 2, s.Store().Len())
	assert.True(t, s.Taxonomy().Exists(types.NewPath("Passive", "Resistors", "THT")))
	assert.False(t, s.Ledger().IsDirty())
	assert.Empty(t, s.Prompts().Names())
}

func TestOpenFailsOnMalformedTaxonomy(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Taxonomy, []byte(`[{"category":`), 0o644))
	_, err := Open(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrLoad)
}

func TestJournalCarriesEditsAcrossSessions(t *testing.T) {
	cfg := testConfig(t)
	s := open(t, cfg)
	id := ids(s)[0]
	require.NoError(t, s.SetField(id, "Manufacturer", "Bourns"))
	newID, err := s.Add(mustDraft(t, types.NewPath("Passive", "Resistors", "THT"), "RES_NEW"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.FileExists(t, JournalPath(cfg.Database))

	s2 := open(t, cfg)
	assert.Equal(t, ids(s), ids(s2))
	assert.Equal(t, "Bourns", s2.Ledger().ResolvedText(id, "Manufacturer"))
	assert.True(t, s2.Ledger().IsCreation(newID))
	assert.Equal(t, 2, s2.Ledger().Len())
}

func TestStaleJournalIsRefused(t *testing.T) {
	cfg := testConfig(t)
	s := open(t, cfg)
	require.NoError(t, s.SetField(ids(s)[0], "Manufacturer", "Bourns"))

	data, err := os.ReadFile(cfg.Database)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg.Database, []byte(strings.Replace(string(data), "Vishay", "KOA", 1)), 0o644))

	_, err = Open(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrLoad)
	assert.ErrorIs(t, err, types.ErrStaleJournal)

	require.NoError(t, DiscardJournal(cfg.Database))
	s2 := open(t, cfg)
	assert.False(t, s2.Ledger().IsDirty())
}

func TestResetRemovesJournal(t *testing.T) {
	cfg := testConfig(t)
	s := open(t, cfg)
	id := ids(s)[0]
	require.NoError(t, s.SetField(id, "Manufacturer", "Bourns"))
	require.NoError(t, s.Reset(id, "Manufacturer"))
	assert.NoFileExists(t, JournalPath(cfg.Database))
}

func TestCommitWritesAndClearsJournal(t *testing.T) {
	cfg := testConfig(t)
	s := open(t, cfg)
	id := ids(s)[1]
	require.NoError(t, s.Move(id, types.NewPath("Passive", "Resistors", "THT")))
	require.NoError(t, s.Rename(id, "RES_2_AXIAL"))

	res, err := s.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.NoFileExists(t, JournalPath(cfg.Database))
	assert.False(t, s.Ledger().IsDirty())

	store, err := records.LoadFile(cfg.Database)
	require.NoError(t, err)
	rec := store.All()[1]
	assert.Equal(t, "THT", rec.Text(types.ColumnSubSubcategory))
	assert.Equal(t, "Legacy", rec.Text(types.AttrStage))
	assert.Equal(t, "Through-hole", rec.Text(types.AttrUsage))
	assert.Equal(t, "RES_2_AXIAL", rec.ERPName().FullName)

	// A new session on the committed file starts clean.
	s2 := open(t, cfg)
	assert.False(t, s2.Ledger().IsDirty())
}

func TestReloadDropsPendingEdits(t *testing.T) {
	cfg := testConfig(t)
	s := open(t, cfg)
	require.NoError(t, s.Delete(ids(s)[0]))
	require.NoError(t, s.Reload(context.Background()))
	assert.False(t, s.Ledger().IsDirty())
	assert.NoFileExists(t, JournalPath(cfg.Database))
	assert.Equal(t, 2, s.Store().Len())
}

func TestResolveID(t *testing.T) {
	s := open(t, testConfig(t))
	all := ids(s)
	got, err := s.ResolveID(all[0])
	require.NoError(t, err)
	assert.Equal(t, all[0], got)

	_, err = s.ResolveID("zzzz")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = s.ResolveID("")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestRunAppliesWorkerMessagesOnOwner(t *testing.T) {
	s := open(t, testConfig(t))
	id := ids(s)[0]
	err := s.Run(context.Background(), func(ctx context.Context, post func(Message)) error {
		for _, v := range []string{"A", "B", "C"} {
			post(func(s *Session) error { return s.Ledger().StageFieldUpdate(id, "Manufacturer", v) })
		}
		post(func(s *Session) error { return errors.New("bad message") })
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad message")
	assert.Equal(t, "C", s.Ledger().ResolvedText(id, "Manufacturer"))
	assert.FileExists(t, JournalPath(s.Config().Database))
}

type fakeProvider struct {
	fail string
	stop func()
}

func (f *fakeProvider) Suggest(_ context.Context, req suggest.Request) ([]string, error) {
	if f.stop != nil {
		f.stop()
	}
	for _, fv := range req.Context {
		if fv.Column == "Manufacturer" && fv.Value == f.fail {
			return nil, errors.New("model unavailable")
		}
	}
	return []string{"NEW_" + strings.ReplaceAll(req.Prompt, " ", "-"), "ignored"}, nil
}

func TestSuggestBatchStagesFirstCandidate(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Prompts, []byte(`{"prompts":{"byMaker":{"description":"d","prompt":"{Manufacturer}"}}}`), 0o644))
	s := open(t, cfg)
	all := ids(s)

	res, err := s.SuggestBatch(context.Background(), all, &fakeProvider{fail: "Vishay"}, SuggestOptions{Prompt: "byMaker"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrProvider)
	assert.Equal(t, BatchResult{Applied: 1, Total: 2}, res)
	assert.Equal(t, "NEW_NEN-Yageo", s.Ledger().ResolvedText(all[0], types.ColumnERPName))
	assert.Equal(t, "RES_2", s.Ledger().ResolvedText(all[1], types.ColumnERPName))
}

func TestSuggestBatchStop(t *testing.T) {
	s := open(t, testConfig(t))
	p := &fakeProvider{}
	p.stop = s.StopBatch
	res, err := s.SuggestBatch(context.Background(), ids(s), p, SuggestOptions{})
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, 1, res.Applied)
}

func TestStopBeforeBatchStarts(t *testing.T) {
	s := open(t, testConfig(t))
	calls := 0
	p := &fakeProvider{stop: func() { calls++ }}
	s.StopBatch()
	res, err := s.SuggestBatch(context.Background(), ids(s), p, SuggestOptions{})
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, 0, res.Applied)
	assert.Zero(t, calls)
	assert.False(t, s.Ledger().IsDirty())

	res, err = s.SuggestBatch(context.Background(), ids(s), p, SuggestOptions{})
	require.NoError(t, err)
	assert.False(t, res.Stopped)
	assert.Equal(t, 2, res.Applied)
}

func TestSetTextKeepsJSONType(t *testing.T) {
	cfg := testConfig(t)
	doc := `[{"Category": "Passive", "Subcategory": "Resistors", "Sub-subcategory": "SMD", "Qty": 5, "RoHS": true, "Note": "7", "Spare": null}]`
	require.NoError(t, os.WriteFile(cfg.Database, []byte(doc), 0o644))
	s := open(t, cfg)
	id := ids(s)[0]

	tests := []struct {
		field, text, want string
	}{
		{"Qty", "12", `12`},
		{"Qty", "twelve", `"twelve"`},
		{"Qty", `"12"`, `"12"`},
		{"RoHS", "false", `false`},
		{"Note", "8", `"8"`},
		{"Spare", "3", `"3"`},
		{"Missing", "4", `"4"`},
	}
	for _, tt := range tests {
		t.Run(tt.field+"="+tt.text, func(t *testing.T) {
			require.NoError(t, s.SetText(id, tt.field, tt.text))
			v, err := s.Ledger().ResolvedValue(id, tt.field)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(v))
		})
	}
}

func TestImportXLSXStagesCreations(t *testing.T) {
	s := open(t, testConfig(t))
	good := types.NewRecord("")
	require.NoError(t, good.SetPath(types.NewPath("Passive", "Resistors", "THT")))
	require.NoError(t, good.Set(types.ColumnERPName, types.ParseERPName("RES_AXIAL_1k")))
	require.NoError(t, good.Set("Manufacturer", "Vishay"))
	bad := types.NewRecord("")
	require.NoError(t, bad.SetPath(types.NewPath("Active", "ICs", "MCU")))
	require.NoError(t, bad.Set(types.ColumnERPName, types.ParseERPName("MCU_STM32")))

	path := filepath.Join(t.TempDir(), "legacy.xlsx")
	require.NoError(t, export.WriteFile(context.Background(), export.FormatXLSX, path, export.Table{
		Columns: []string{types.ColumnCategory, types.ColumnSubcategory, types.ColumnSubSubcategory, types.ColumnERPName, "Manufacturer"},
		Records: []*types.Record{good, bad},
	}))

	n, err := s.ImportXLSX(path)
	assert.Equal(t, 1, n)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnknownPath)
	assert.Contains(t, err.Error(), "item 2")

	entries := s.Ledger().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, types.KindCreation, entries[0].Kind)
	assert.Equal(t, "RES_AXIAL_1k", entries[0].Record.Text(types.ColumnERPName))
	assert.Equal(t, "Vishay", entries[0].Record.Text("Manufacturer"))
	assert.FileExists(t, JournalPath(s.Config().Database))

	_, err = s.ImportXLSX(filepath.Join(t.TempDir(), "missing.xlsx"))
	assert.ErrorIs(t, err, types.ErrLoad)
}

func TestSuggestDoesNotStage(t *testing.T) {
	s := open(t, testConfig(t))
	names, err := s.Suggest(context.Background(), ids(s)[0], &fakeProvider{}, SuggestOptions{Prompt: "missing"})
	require.NoError(t, err)
	assert.Len(t, names, 2)
	assert.False(t, s.Ledger().IsDirty())
}

func TestSuggestCategory(t *testing.T) {
	s := open(t, testConfig(t))
	id, err := s.Add(mustDraft(t, types.CategoryPath{}, "RES_9"))
	require.NoError(t, err)
	sug, ok, err := s.SuggestCategory(context.Background(), id, nil, SuggestOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.NewPath("Passive", "Resistors", "SMD"), sug.Path)
	assert.Equal(t, suggest.SourcePattern, sug.Source)
}

type replyGenerator struct {
	reply string
	model string
}

func (g *replyGenerator) Generate(_ context.Context, model, _ string, _ map[string]any) (string, error) {
	g.model = model
	return g.reply, nil
}

func TestSuggestCategoryAsksModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Provider.Model = "llama3.2"
	s := open(t, cfg)
	id, err := s.Add(mustDraft(t, types.CategoryPath{}, "RLY_G5V"))
	require.NoError(t, err)

	sug, ok, err := s.SuggestCategory(context.Background(), id, nil, SuggestOptions{})
	require.NoError(t, err)
	assert.False(t, ok)

	g := &replyGenerator{reply: "Category: Passive\nSubcategory: Resistors\nSub-subcategory: THT"}
	sug, ok, err = s.SuggestCategory(context.Background(), id, g, SuggestOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.NewPath("Passive", "Resistors", "THT"), sug.Path)
	assert.Equal(t, suggest.SourceAI, sug.Source)
	assert.Equal(t, "llama3.2", g.model)
}

func TestSetImageStagesRelativePath(t *testing.T) {
	s := open(t, testConfig(t))
	src := filepath.Join(t.TempDir(), "pic.png")
	f, err := os.Create(src)
	require.NoError(t, err)
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	id := ids(s)[0]
	rel, err := s.SetImage(context.Background(), id, src)
	require.NoError(t, err)
	assert.Equal(t, "Images/"+images.ItemFileName("RES_1", id)+".jpg", rel)
	assert.Equal(t, rel, s.Ledger().ResolvedText(id, types.ColumnImage))
	assert.FileExists(t, filepath.Join(filepath.Dir(s.Config().Database), filepath.FromSlash(rel)))
}

func TestSetImageSameNameKeepsBothPictures(t *testing.T) {
	s := open(t, testConfig(t))
	dir := t.TempDir()
	write := func(name string, c color.Color) string {
		src := filepath.Join(dir, name)
		f, err := os.Create(src)
		require.NoError(t, err)
		img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
		img.Set(0, 0, c)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
		return src
	}

	all := ids(s)
	require.NoError(t, s.Rename(all[1], "RES_1"))
	first, err := s.SetImage(context.Background(), all[0], write("a.png", color.NRGBA{R: 255, A: 255}))
	require.NoError(t, err)
	second, err := s.SetImage(context.Background(), all[1], write("b.png", color.NRGBA{B: 255, A: 255}))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	root := filepath.Dir(s.Config().Database)
	assert.FileExists(t, filepath.Join(root, filepath.FromSlash(first)))
	assert.FileExists(t, filepath.Join(root, filepath.FromSlash(second)))
}

func TestSetImageFailureStagesNothing(t *testing.T) {
	s := open(t, testConfig(t))
	_, err := s.SetImage(context.Background(), ids(s)[0], filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrProvider)
	assert.False(t, s.Ledger().IsDirty())
}

func TestClean(t *testing.T) {
	s := open(t, testConfig(t))
	all := ids(s)

	n, err := s.Clean(CleanMultiline, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "line one line two", s.Ledger().ResolvedText(all[0], "REMARK"))

	require.NoError(t, s.Delete(all[1]))
	n, err = s.Clean(CleanPrefix, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "Yageo", s.Ledger().ResolvedText(all[0], "Manufacturer"))

	_, err = s.Clean("shout", "")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestProjectUsesViewSettings(t *testing.T) {
	s := open(t, testConfig(t))
	s.Settings().View.ActiveFilters = map[string]types.Predicate{
		"Manufacturer": {Op: types.OpEquals, Value: "vishay"},
	}
	nodes, err := s.Project(false)
	require.NoError(t, err)
	var items []string
	for _, n := range nodes {
		n.Walk(func(tn *types.TreeNode) bool {
			if tn.Kind == types.NodeItem {
				items = append(items, tn.Identity)
			}
			return true
		})
	}
	assert.Equal(t, []string{ids(s)[1]}, items)
	require.NoError(t, s.SaveView())
	assert.FileExists(t, s.Config().Settings)
}

func TestExportWritesCommittedData(t *testing.T) {
	s := open(t, testConfig(t))
	require.NoError(t, s.SetField(ids(s)[0], "Manufacturer", "Pending"))
	out := filepath.Join(t.TempDir(), "parts.csv")
	require.NoError(t, s.Export(context.Background(), export.FormatCSV, out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "NEN Yageo")
	assert.NotContains(t, string(data), "Pending")
}

func mustDraft(t *testing.T, p types.CategoryPath, name string) *types.Record {
	t.Helper()
	d, err := types.NewDraft(p, types.ParseERPName(name), nil)
	require.NoError(t, err)
	return d
}
