package suggest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// Suggestion sources.
const (
	SourcePattern    = "pattern"
	SourceSimilarity = "similarity"
	SourceAI         = "ai"
	SourceClosest    = "closest"
)

// Reference limits keep the hierarchy listing in the model prompt short.
const (
	refCategories       = 20
	refSubcategories    = 5
	refSubSubcategories = 5
)

// CategorySuggestion is a proposed hierarchy position for an item.
type CategorySuggestion struct {
	Path       types.CategoryPath
	Source     string
	Confidence float64
}

// Paths is the hierarchy view the category suggester needs.
type Paths interface {
	Exists(p types.CategoryPath) bool
	Closest(p types.CategoryPath) (types.CategoryPath, bool)
	Paths() []types.CategoryPath
}

// Generator runs one completion. *Client implements it.
type Generator interface {
	Generate(ctx context.Context, model, prompt string, params map[string]any) (string, error)
}

// Categorizer proposes a category path from the placement of existing items,
// optionally asking a model when no item resembles the query.
type Categorizer struct {
	records []*types.Record
	paths   Paths

	gen    Generator
	model  string
	params map[string]any
}

// NewCategorizer learns from records. Items whose path is not a valid leaf
// are ignored.
func NewCategorizer(records []*types.Record, paths Paths) *Categorizer {
	return &Categorizer{records: records, paths: paths}
}

// WithGenerator enables the model step using g with the given model and
// options. It returns c.
func (c *Categorizer) WithGenerator(g Generator, model string, params map[string]any) *Categorizer {
	c.gen, c.model, c.params = g, model, params
	return c
}

// Suggest tries, in order: the most common placement of items sharing the
// ERP type, the placement of the most similar item by name tokens, the
// model when one is configured, and the closest existing path to current.
// It reports false when none applies. Only the model step can fail.
func (c *Categorizer) Suggest(ctx context.Context, name types.ERPName, current types.CategoryPath, exclude string) (CategorySuggestion, bool, error) {
	if s, ok := c.byType(name, exclude); ok {
		return s, true, nil
	}
	if s, ok := c.bySimilarity(name, exclude); ok {
		return s, true, nil
	}
	if c.gen != nil && len(nameTokens(name)) > 0 {
		s, ok, err := c.byModel(ctx, name, current)
		if err != nil || ok {
			return s, ok, err
		}
	}
	if !current.IsZero() {
		if p, ok := c.paths.Closest(current); ok {
			return CategorySuggestion{Path: p, Source: SourceClosest}, true, nil
		}
	}
	return CategorySuggestion{}, false, nil
}

func (c *Categorizer) byModel(ctx context.Context, name types.ERPName, current types.CategoryPath) (CategorySuggestion, bool, error) {
	reply, err := c.gen.Generate(ctx, c.model, CategoryPrompt(c.paths.Paths(), name, current), c.params)
	if err != nil {
		return CategorySuggestion{}, false, err
	}
	proposed := ParseCategoryReply(reply)
	if proposed.Category == "" {
		return CategorySuggestion{}, false, nil
	}
	if p, ok := c.match(proposed); ok {
		return CategorySuggestion{Path: p, Source: SourceAI, Confidence: 1}, true, nil
	}
	if p, ok := c.paths.Closest(proposed); ok {
		return CategorySuggestion{Path: p, Source: SourceAI, Confidence: 0.5}, true, nil
	}
	return CategorySuggestion{}, false, nil
}

// match finds the existing path equal to p ignoring case and surrounding
// space.
func (c *Categorizer) match(p types.CategoryPath) (types.CategoryPath, bool) {
	eq := func(a, b string) bool { return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) }
	for _, q := range c.paths.Paths() {
		if eq(q.Category, p.Category) && eq(q.Subcategory, p.Subcategory) && eq(q.SubSubcategory, p.SubSubcategory) {
			return q, true
		}
	}
	return types.CategoryPath{}, false
}

// CategoryPrompt asks a model to place an item in the hierarchy listed by
// paths, answering in the line format ParseCategoryReply reads.
func CategoryPrompt(paths []types.CategoryPath, name types.ERPName, current types.CategoryPath) string {
	var item []string
	if current.Category != "" {
		item = append(item, "Current category: "+current.Category)
	}
	if name.Type != "" {
		item = append(item, "Type: "+name.Type)
	}
	if name.PartNumber != "" && name.PartNumber != types.NoPartNumber {
		item = append(item, "Part number: "+name.PartNumber)
	}
	if name.AdditionalParameters != "" {
		item = append(item, "Details: "+name.AdditionalParameters)
	}
	var b strings.Builder
	b.WriteString("You categorize industrial components and materials for an ERP system.\n\n")
	b.WriteString("Available categories:\n")
	b.WriteString(CategoryReference(paths))
	b.WriteString("\n\nItem: ")
	b.WriteString(strings.Join(item, ", "))
	b.WriteString("\n\nChoose the category path that fits the item best. Use names exactly as listed.\n")
	b.WriteString("Reply with exactly these lines:\n")
	b.WriteString("Category: <name>\nSubcategory: <name>\nSub-subcategory: <name>\nReasoning: <one sentence>\n")
	return b.String()
}

// CategoryReference lists paths as an indented outline, capped at
// refCategories categories with refSubcategories subcategories each and
// refSubSubcategories leaves per subcategory.
func CategoryReference(paths []types.CategoryPath) string {
	type sub struct {
		name   string
		leaves []string
	}
	type cat struct {
		name string
		subs []*sub
	}
	var cats []*cat
	for _, p := range paths {
		if len(cats) == 0 || cats[len(cats)-1].name != p.Category {
			if len(cats) == refCategories {
				break
			}
			cats = append(cats, &cat{name: p.Category})
		}
		c := cats[len(cats)-1]
		if len(c.subs) == 0 || c.subs[len(c.subs)-1].name != p.Subcategory {
			if len(c.subs) == refSubcategories {
				continue
			}
			c.subs = append(c.subs, &sub{name: p.Subcategory})
		}
		s := c.subs[len(c.subs)-1]
		if s.name == p.Subcategory && len(s.leaves) < refSubSubcategories {
			s.leaves = append(s.leaves, p.SubSubcategory)
		}
	}
	if len(cats) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, c := range cats {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s:", c.name)
		for _, s := range c.subs {
			fmt.Fprintf(&b, "\n  - %s: %s", s.name, strings.Join(s.leaves, ", "))
		}
	}
	return b.String()
}

var replyLine = regexp.MustCompile(`(?im)^[\s*\-]*(category|subcategory|sub-subcategory)\s*:\s*(.+?)\s*$`)

// ParseCategoryReply reads the Category, Subcategory and Sub-subcategory
// lines of a model reply. The first line of each kind wins.
func ParseCategoryReply(reply string) types.CategoryPath {
	var p types.CategoryPath
	for _, m := range replyLine.FindAllStringSubmatch(reply, -1) {
		v := strings.Trim(m[2], "*`\"' ")
		switch strings.ToLower(m[1]) {
		case "category":
			if p.Category == "" {
				p.Category = v
			}
		case "subcategory":
			if p.Subcategory == "" {
				p.Subcategory = v
			}
		case "sub-subcategory":
			if p.SubSubcategory == "" {
				p.SubSubcategory = v
			}
		}
	}
	return p
}

func (c *Categorizer) placed(exclude string, fn func(r *types.Record, p types.CategoryPath)) {
	for _, r := range c.records {
		if r.ID == exclude {
			continue
		}
		p := r.Path()
		if p.Category == "" || p.Subcategory == "" || p.SubSubcategory == "" || !c.paths.Exists(p) {
			continue
		}
		fn(r, p)
	}
}

func (c *Categorizer) byType(name types.ERPName, exclude string) (CategorySuggestion, bool) {
	typ := strings.ToLower(strings.TrimSpace(name.Type))
	if typ == "" {
		return CategorySuggestion{}, false
	}
	counts := make(map[types.CategoryPath]int)
	var order []types.CategoryPath
	total := 0
	c.placed(exclude, func(r *types.Record, p types.CategoryPath) {
		if strings.ToLower(strings.TrimSpace(r.ERPName().Type)) != typ {
			return
		}
		if counts[p] == 0 {
			order = append(order, p)
		}
		counts[p]++
		total++
	})
	if total == 0 {
		return CategorySuggestion{}, false
	}
	best := order[0]
	for _, p := range order[1:] {
		if counts[p] > counts[best] {
			best = p
		}
	}
	return CategorySuggestion{Path: best, Source: SourcePattern, Confidence: float64(counts[best]) / float64(total)}, true
}

func (c *Categorizer) bySimilarity(name types.ERPName, exclude string) (CategorySuggestion, bool) {
	query := nameTokens(name)
	if len(query) == 0 {
		return CategorySuggestion{}, false
	}
	type scored struct {
		path  types.CategoryPath
		score float64
		seq   int
	}
	var hits []scored
	c.placed(exclude, func(r *types.Record, p types.CategoryPath) {
		if s := Similarity(query, nameTokens(r.ERPName())); s > 0 {
			hits = append(hits, scored{path: p, score: s, seq: len(hits)})
		}
	})
	if len(hits) == 0 {
		return CategorySuggestion{}, false
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	return CategorySuggestion{Path: hits[0].path, Source: SourceSimilarity, Confidence: hits[0].score}, true
}

func nameTokens(n types.ERPName) []string {
	var parts []string
	if n.Type != "" {
		parts = append(parts, n.Type)
	}
	if n.PartNumber != "" && n.PartNumber != types.NoPartNumber {
		parts = append(parts, n.PartNumber)
	}
	if n.AdditionalParameters != "" {
		parts = append(parts, n.AdditionalParameters)
	}
	return strings.Fields(strings.ToLower(strings.Join(parts, " ")))
}

// Similarity scores two token lists in [0, 1]: the Jaccard index plus a
// small bonus for every pair where one token contains the other.
func Similarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA, setB := toSet(a), toSet(b)
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	jaccard := float64(inter) / float64(union)
	bonus := 0.0
	for x := range setA {
		for y := range setB {
			if strings.Contains(x, y) || strings.Contains(y, x) {
				bonus += 0.1
			}
		}
	}
	return min(1.0, jaccard+bonus*0.2)
}

func toSet(words []string) map[string]bool {
	s := make(map[string]bool, len(words))
	for _, w := range words {
		s[w] = true
	}
	return s
}
