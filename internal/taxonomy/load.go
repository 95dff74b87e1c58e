package taxonomy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// Source attribute keys and the enrichment columns they populate.
var attributeKeys = map[string]string{
	"stage":      types.AttrStage,
	"origin":     types.AttrOrigin,
	"serialized": types.AttrSerialized,
	"usage":      types.AttrUsage,
}

// nested is the category file shape: a list of categories, each with
// subcategories, each with attributed sub-subcategories.
type nestedCategory struct {
	Category      string              `json:"category" yaml:"category"`
	Subcategories []nestedSubcategory `json:"subcategories" yaml:"subcategories"`
}

type nestedSubcategory struct {
	Name             string           `json:"name" yaml:"name"`
	SubSubcategories []map[string]any `json:"sub_subcategories" yaml:"sub_subcategories"`
}

// flat is the parent-reference shape. Parents are referenced by id, so the
// document can describe cycles; those are rejected.
type flatDocument struct {
	Nodes []flatNode `json:"nodes" yaml:"nodes"`
}

type flatNode struct {
	ID         string         `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Parent     string         `json:"parent" yaml:"parent"`
	Attributes map[string]any `json:"attributes" yaml:"attributes"`
}

// LoadFile reads a hierarchy from path. Files ending in .yaml or .yml are
// parsed as YAML, everything else as JSON. A missing file is a LoadError.
func LoadFile(path string) (*Hierarchy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.LoadError{Source: path, Err: err}
	}
	var h *Hierarchy
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		h, err = parseYAML(data)
	default:
		h, err = parseJSON(data)
	}
	if err != nil {
		return nil, &types.LoadError{Source: path, Err: err}
	}
	return h, nil
}

// Load reads a JSON hierarchy from r.
func Load(r io.Reader) (*Hierarchy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &types.LoadError{Source: "taxonomy", Err: err}
	}
	h, err := parseJSON(data)
	if err != nil {
		return nil, &types.LoadError{Source: "taxonomy", Err: err}
	}
	return h, nil
}

func parseJSON(data []byte) (*Hierarchy, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return New(), nil
	}
	switch trimmed[0] {
	case '[':
		var cats []nestedCategory
		if err := json.Unmarshal(trimmed, &cats); err != nil {
			return nil, err
		}
		return buildNested(cats)
	case '{':
		var doc flatDocument
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, err
		}
		return buildFlat(doc.Nodes)
	}
	return nil, fmt.Errorf("unexpected document start %q", trimmed[0])
}

func parseYAML(data []byte) (*Hierarchy, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return New(), nil
	}
	doc := root.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		var cats []nestedCategory
		if err := doc.Decode(&cats); err != nil {
			return nil, err
		}
		return buildNested(cats)
	case yaml.MappingNode:
		var flat flatDocument
		if err := doc.Decode(&flat); err != nil {
			return nil, err
		}
		return buildFlat(flat.Nodes)
	}
	return nil, fmt.Errorf("unexpected YAML document kind %v", doc.Kind)
}

// Entries without a name are skipped.
func buildNested(cats []nestedCategory) (*Hierarchy, error) {
	h := New()
	for _, c := range cats {
		if strings.TrimSpace(c.Category) == "" {
			continue
		}
		ci, err := h.add(noParent, c.Category, nil)
		if err != nil {
			return nil, err
		}
		for _, s := range c.Subcategories {
			if strings.TrimSpace(s.Name) == "" {
				continue
			}
			si, err := h.add(ci, s.Name, nil)
			if err != nil {
				return nil, err
			}
			for _, ss := range s.SubSubcategories {
				name, _ := ss["name"].(string)
				if strings.TrimSpace(name) == "" {
					continue
				}
				if _, err := h.add(si, name, attributes(ss)); err != nil {
					return nil, err
				}
			}
		}
	}
	return h, nil
}

func buildFlat(nodes []flatNode) (*Hierarchy, error) {
	byID := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("node %d: missing id", i)
		}
		if _, dup := byID[n.ID]; dup {
			return nil, fmt.Errorf("node %q: duplicate id", n.ID)
		}
		byID[n.ID] = i
	}
	for _, n := range nodes {
		if n.Parent != "" {
			if _, ok := byID[n.Parent]; !ok {
				return nil, fmt.Errorf("node %q: parent %q: %w", n.ID, n.Parent, types.ErrNotFound)
			}
		}
		if err := checkCycle(n.ID, nodes, byID); err != nil {
			return nil, err
		}
	}

	h := New()
	placed := make(map[string]int, len(nodes))
	var place func(id string) (int, error)
	place = func(id string) (int, error) {
		if idx, ok := placed[id]; ok {
			return idx, nil
		}
		n := nodes[byID[id]]
		parent := noParent
		if n.Parent != "" {
			p, err := place(n.Parent)
			if err != nil {
				return 0, err
			}
			parent = p
		}
		idx, err := h.add(parent, n.Name, attributes(n.Attributes))
		if err != nil {
			return 0, err
		}
		placed[id] = idx
		return idx, nil
	}
	for _, n := range nodes {
		if _, err := place(n.ID); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func checkCycle(start string, nodes []flatNode, byID map[string]int) error {
	seen := map[string]bool{start: true}
	for id := nodes[byID[start]].Parent; id != ""; id = nodes[byID[id]].Parent {
		if seen[id] {
			return fmt.Errorf("node %q: %w", start, types.ErrCycle)
		}
		seen[id] = true
	}
	return nil
}

// attributes extracts the enrichment columns from a source mapping. Keys are
// matched case-insensitively; other keys are ignored.
func attributes(src map[string]any) map[string]string {
	var out map[string]string
	for k, v := range src {
		col, ok := attributeKeys[strings.ToLower(k)]
		if !ok || v == nil {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(attributeKeys))
		}
		out[col] = fmt.Sprint(v)
	}
	return out
}
