// Package suggest connects the editor to text-generation providers. It
// renders prompt templates against an item's flat context, asks a provider
// for candidate ERP names, and cleans the reply into a short list.
package suggest

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// DefaultCandidates is the number of names requested when a request leaves
// Count at zero.
const DefaultCandidates = 5

// Provider produces candidate names for one item.
type Provider interface {
	Suggest(ctx context.Context, req Request) ([]string, error)
}

// Request describes one suggestion call. Context is the item's flat view in
// column order; Prompt is the task text after placeholder substitution.
type Request struct {
	Model      string
	Prompt     string
	Context    []types.FieldValue
	Count      int
	Parameters map[string]any
}

func (r Request) count() int {
	if r.Count <= 0 {
		return DefaultCandidates
	}
	return r.Count
}

// ItemContext flattens rec into display text per column, skipping columns
// with empty values.
func ItemContext(rec *types.Record) []types.FieldValue {
	var out []types.FieldValue
	for _, c := range rec.Columns {
		if v := rec.Text(c); v != "" {
			out = append(out, types.FieldValue{Column: c, Value: v})
		}
	}
	return out
}

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

// Render substitutes {Column} placeholders in template with the matching
// context values. Unknown placeholders are left as written.
func Render(template string, fields []types.FieldValue) string {
	values := make(map[string]string, len(fields))
	for _, f := range fields {
		values[f.Column] = f.Value
	}
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		name := strings.TrimSpace(m[1 : len(m)-1])
		if v, ok := values[name]; ok {
			return v
		}
		return m
	})
}

// BuildPrompt wraps the task text with the item context and output
// instructions sent to the model.
func BuildPrompt(req Request) string {
	var ctx strings.Builder
	for i, f := range req.Context {
		if i > 0 {
			ctx.WriteString("; ")
		}
		fmt.Fprintf(&ctx, "%s: %s", f.Column, f.Value)
	}
	return fmt.Sprintf(`You are an expert at creating clear, descriptive ERP (Enterprise Resource Planning) names for products and components.

Context: %s

Task: %s

Please provide %d different ERP name suggestions. Each suggestion should be:
- Clear and descriptive
- Professional and technical
- Suitable for inventory management
- Unique and specific

Return only the ERP names, one per line, without numbering or bullet points.`, ctx.String(), req.Prompt, req.count())
}

var listMarker = regexp.MustCompile(`^(?:\d+[.)]|[-*•])\s*`)

// ParseCandidates extracts up to n names from a model reply: one per line,
// headings and blank lines skipped, list numbering and bullets removed,
// duplicates dropped.
func ParseCandidates(text string, n int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		if len(out) >= n {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "**") {
			continue
		}
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		line = strings.Trim(line, "`\"")
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	return out
}
