package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

func TestRender(t *testing.T) {
	fields := []types.FieldValue{
		{Column: "Manufacturer", Value: "Yageo"},
		{Column: "ERP Name", Value: "RES_10K"},
	}
	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"substitutes known columns", "Name {ERP Name} by {Manufacturer}", "Name RES_10K by Yageo"},
		{"trims placeholder whitespace", "{ Manufacturer }", "Yageo"},
		{"keeps unknown placeholders", "{Voltage} rating", "{Voltage} rating"},
		{"no placeholders", "plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.template, fields))
		})
	}
}

func TestParseCandidates(t *testing.T) {
	reply := "# Suggestions\n\n1. RES_10K_0603\n2) RES_10K_1%\n- CAP_100N\n* IND_1U\n• LED_RED\n**Note**\nRES_10K_0603\n`DIODE_1N4148`\n"
	got := ParseCandidates(reply, 10)
	assert.Equal(t, []string{"RES_10K_0603", "RES_10K_1%", "CAP_100N", "IND_1U", "LED_RED", "DIODE_1N4148"}, got)

	assert.Equal(t, []string{"RES_10K_0603", "RES_10K_1%"}, ParseCandidates(reply, 2))
	assert.Empty(t, ParseCandidates("\n\n# only a heading\n", 5))
}

func TestItemContextSkipsEmpty(t *testing.T) {
	rec := types.NewRecord("a")
	require.NoError(t, rec.Set("Manufacturer", "Yageo"))
	require.NoError(t, rec.Set("REMARK", ""))
	require.NoError(t, rec.Set(types.ColumnERPName, types.ParseERPName("RES_1")))
	assert.Equal(t, []types.FieldValue{
		{Column: "Manufacturer", Value: "Yageo"},
		{Column: types.ColumnERPName, Value: "RES_1"},
	}, ItemContext(rec))
}

func TestBuildPromptIncludesContextAndCount(t *testing.T) {
	p := BuildPrompt(Request{
		Prompt:  "Name this resistor",
		Context: []types.FieldValue{{Column: "Manufacturer", Value: "Yageo"}, {Column: "Value", Value: "10k"}},
		Count:   3,
	})
	assert.Contains(t, p, "Context: Manufacturer: Yageo; Value: 10k")
	assert.Contains(t, p, "Task: Name this resistor")
	assert.Contains(t, p, "Please provide 3 different ERP name suggestions")
}

func newOllama(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second)
}

func TestClientModels(t *testing.T) {
	c := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2"},{"name":"mistral"}]}`))
	})
	models, err := c.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.2", "mistral"}, models)
}

func TestClientSuggestSendsOptions(t *testing.T) {
	var got generateRequest
	c := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"response":"1. RES_10K\n2. RES_10K_0603\n3. RES_10K_1%"}`))
	})
	names, err := c.Suggest(context.Background(), Request{
		Model:      "mistral",
		Prompt:     "name it",
		Count:      2,
		Parameters: map[string]any{"temperature": 0.2},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"RES_10K", "RES_10K_0603"}, names)
	assert.Equal(t, "mistral", got.Model)
	assert.False(t, got.Stream)
	assert.Equal(t, 0.2, got.Options["temperature"])
	assert.Equal(t, 0.9, got.Options["top_p"])
}

func TestClientErrorsAreProviderErrors(t *testing.T) {
	c := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	})
	_, err := c.Suggest(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrProvider)
	assert.Contains(t, err.Error(), "status 404")
}

func TestClientBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	c := newOllama(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	for i := 0; i < 3; i++ {
		_, err := c.Models(context.Background())
		require.Error(t, err)
	}
	_, err := c.Models(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), calls.Load())
}

type fakeProvider struct {
	fail  map[string]bool
	calls []Request
	after func(n int)
}

func (f *fakeProvider) Suggest(_ context.Context, req Request) ([]string, error) {
	f.calls = append(f.calls, req)
	if f.after != nil {
		defer f.after(len(f.calls))
	}
	if f.fail[req.Prompt] {
		return nil, errors.New("boom")
	}
	return []string{strings.ToUpper(req.Prompt)}, nil
}

func batchItems(names ...string) []Item {
	var items []Item
	for _, n := range names {
		items = append(items, Item{Identity: "id-" + n, Context: []types.FieldValue{{Column: "Type", Value: n}}})
	}
	return items
}

func TestRunnerCollectsErrorsAndContinues(t *testing.T) {
	p := &fakeProvider{fail: map[string]bool{"b": true}}
	r := NewRunner(p, nil)
	var got []Outcome
	done, err := r.Run(context.Background(), batchItems("a", "b", "c"), "{Type}", Request{Model: "m"}, func(o Outcome) {
		got = append(got, o)
	})
	assert.Equal(t, 2, done)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrProvider)
	var pe *types.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "id-b", pe.Item)
	assert.Equal(t, []Outcome{
		{Identity: "id-a", Candidates: []string{"A"}},
		{Identity: "id-c", Candidates: []string{"C"}},
	}, got)
	assert.Equal(t, "m", p.calls[0].Model)
}

func TestRunnerStopsBetweenItems(t *testing.T) {
	p := &fakeProvider{}
	r := NewRunner(p, nil)
	p.after = func(n int) {
		if n == 2 {
			r.Stop()
		}
	}
	var got []string
	done, err := r.Run(context.Background(), batchItems("a", "b", "c", "d"), "{Type}", Request{}, func(o Outcome) {
		got = append(got, o.Identity)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, done)
	assert.Equal(t, []string{"id-a", "id-b"}, got)
	assert.True(t, r.Stopped())
}

func TestRunnerStoppedBeforeRun(t *testing.T) {
	p := &fakeProvider{}
	r := NewRunner(p, nil)
	r.Stop()
	done, err := r.Run(context.Background(), batchItems("a", "b", "c"), "{Type}", Request{}, func(Outcome) { t.Fatal("unexpected delivery") })
	require.NoError(t, err)
	assert.Equal(t, 0, done)
	assert.Empty(t, p.calls)
	assert.True(t, r.Stopped())
}

func TestRunnerHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRunner(&fakeProvider{}, nil)
	done, err := r.Run(ctx, batchItems("a"), "{Type}", Request{}, func(Outcome) { t.Fatal("unexpected delivery") })
	assert.Equal(t, 0, done)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakePaths map[types.CategoryPath]bool

func (f fakePaths) Exists(p types.CategoryPath) bool { return f[p] }

func (f fakePaths) Paths() []types.CategoryPath {
	out := make([]types.CategoryPath, 0, len(f))
	for p := range f {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (f fakePaths) Closest(p types.CategoryPath) (types.CategoryPath, bool) {
	for q := range f {
		if q.Category == p.Category {
			return q, true
		}
	}
	return types.CategoryPath{}, false
}

func placedRecord(t *testing.T, id, name string, p types.CategoryPath) *types.Record {
	t.Helper()
	r := types.NewRecord(id)
	require.NoError(t, r.SetPath(p))
	require.NoError(t, r.Set(types.ColumnERPName, types.ParseERPName(name)))
	return r
}

func TestCategorizer(t *testing.T) {
	smd := types.NewPath("Passive", "Resistors", "SMD")
	tht := types.NewPath("Passive", "Resistors", "THT")
	caps := types.NewPath("Passive", "Capacitors", "MLCC")
	paths := fakePaths{smd: true, tht: true, caps: true}
	records := []*types.Record{
		placedRecord(t, "1", "RES_A_0603", smd),
		placedRecord(t, "2", "RES_B_0805", smd),
		placedRecord(t, "3", "res_C_axial", tht),
		placedRecord(t, "4", "CAP_100N_0603", caps),
		placedRecord(t, "5", "RES_D", types.NewPath("Gone", "Missing", "Path")),
	}
	c := NewCategorizer(records, paths)
	ctx := context.Background()

	t.Run("most common placement for the type", func(t *testing.T) {
		s, ok, err := c.Suggest(ctx, types.ParseERPName("Res_X"), types.CategoryPath{}, "")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, smd, s.Path)
		assert.Equal(t, SourcePattern, s.Source)
		assert.InDelta(t, 2.0/3.0, s.Confidence, 1e-9)
	})

	t.Run("similar name when the type is new", func(t *testing.T) {
		s, ok, err := c.Suggest(ctx, types.ParseERPName("CERAMIC_100N"), types.CategoryPath{}, "")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, caps, s.Path)
		assert.Equal(t, SourceSimilarity, s.Source)
	})

	t.Run("closest path as last resort", func(t *testing.T) {
		s, ok, err := c.Suggest(ctx, types.ParseERPName("ZZZ"), types.NewPath("Passive", "Unknown", "X"), "")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, SourceClosest, s.Source)
		assert.Equal(t, "Passive", s.Path.Category)
	})

	t.Run("excluded item does not vote for itself", func(t *testing.T) {
		only := NewCategorizer(records[3:4], paths)
		_, ok, err := only.Suggest(ctx, types.ParseERPName("CAP_100N"), types.CategoryPath{}, "4")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

type fakeGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (g *fakeGenerator) Generate(_ context.Context, model, prompt string, _ map[string]any) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

func TestCategorizerAsksModelWhenNothingMatches(t *testing.T) {
	smd := types.NewPath("Passive", "Resistors", "SMD")
	relays := types.NewPath("Electromechanical", "Relays", "Signal")
	paths := fakePaths{smd: true, relays: true}
	records := []*types.Record{placedRecord(t, "1", "RES_A_0603", smd)}
	ctx := context.Background()

	tests := []struct {
		name   string
		reply  string
		want   types.CategoryPath
		conf   float64
		source string
		found  bool
	}{
		{"exact path ignoring case", "Category: electromechanical\nSubcategory: RELAYS\nSub-subcategory: signal\nReasoning: coil", relays, 1, SourceAI, true},
		{"bulleted lines", "- **Category:** Electromechanical\n- Subcategory: Relays\n- Sub-subcategory: Signal", relays, 1, SourceAI, true},
		{"unknown leaf corrected to closest", "Category: Electromechanical\nSubcategory: Relays\nSub-subcategory: Power", relays, 0.5, SourceAI, true},
		{"unusable reply falls back to current", "I am not sure.", smd, 0, SourceClosest, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &fakeGenerator{reply: tt.reply}
			c := NewCategorizer(records, paths).WithGenerator(g, "m", nil)
			s, ok, err := c.Suggest(ctx, types.ParseERPName("RLY_G5V"), types.NewPath("Passive", "", ""), "")
			require.NoError(t, err)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, s.Path)
			assert.Equal(t, tt.source, s.Source)
			assert.InDelta(t, tt.conf, s.Confidence, 1e-9)
			require.Len(t, g.prompts, 1)
			assert.Contains(t, g.prompts[0], "Type: RLY")
			assert.Contains(t, g.prompts[0], "- Electromechanical:\n  - Relays: Signal")
		})
	}

	t.Run("model failure is returned", func(t *testing.T) {
		g := &fakeGenerator{err: &types.ProviderError{Provider: "ollama", Err: errors.New("down")}}
		c := NewCategorizer(records, paths).WithGenerator(g, "m", nil)
		_, ok, err := c.Suggest(ctx, types.ParseERPName("RLY_G5V"), types.CategoryPath{}, "")
		assert.False(t, ok)
		assert.ErrorIs(t, err, types.ErrProvider)
	})

	t.Run("pattern match skips the model", func(t *testing.T) {
		g := &fakeGenerator{}
		c := NewCategorizer(records, paths).WithGenerator(g, "m", nil)
		s, ok, err := c.Suggest(ctx, types.ParseERPName("RES_B"), types.CategoryPath{}, "")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, SourcePattern, s.Source)
		assert.Empty(t, g.prompts)
	})
}

func TestCategoryReferenceCapsListing(t *testing.T) {
	var paths []types.CategoryPath
	for i := 0; i < 7; i++ {
		paths = append(paths, types.NewPath("Cat", "Sub", fmt.Sprintf("Leaf%d", i)))
	}
	assert.Equal(t, "- Cat:\n  - Sub: Leaf0, Leaf1, Leaf2, Leaf3, Leaf4", CategoryReference(paths))
	assert.Equal(t, "(none)", CategoryReference(nil))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 0.0, Similarity(nil, []string{"a"}))
	assert.InDelta(t, 1.0, Similarity([]string{"res", "10k"}, []string{"res", "10k"}), 1e-9)
	assert.Greater(t, Similarity([]string{"res"}, []string{"resistor"}), 0.0)
}
