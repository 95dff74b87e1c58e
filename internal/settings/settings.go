// Package settings persists view settings and the prompt library. Both files
// keep keys they do not understand so other tools can share them.
package settings

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/mesh-intelligence/erpdb/internal/storage"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// Top-level and nested keys of the settings file.
const (
	keyColumnVisibility = "column_visibility"
	keyVisibleColumns   = "visible_columns"
	keyViewSettings     = "view_settings"
	keyFilters          = "filters"
	keyColumnOrder      = "column_order"
	keyAISettings       = "ai_settings"
)

// File is the view settings file. View is read at load and written by Save.
type File struct {
	path string
	raw  map[string]json.RawMessage
	View types.ViewSettings
}

// Load reads the settings at path. A missing file yields defaults.
func Load(path string) (*File, error) {
	f := &File{path: path, raw: make(map[string]json.RawMessage)}
	if path == "" {
		return f, nil
	}
	if _, err := storage.ReadJSON(path, &f.raw); err != nil {
		return nil, &types.LoadError{Source: path, Err: err}
	}
	if f.raw == nil {
		f.raw = make(map[string]json.RawMessage)
	}
	if err := f.decode(); err != nil {
		return nil, &types.LoadError{Source: path, Err: err}
	}
	return f, nil
}

func section(raw map[string]json.RawMessage, key string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	v, ok := raw[key]
	if !ok || string(v) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(v, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return out, nil
}

func decodeKey(sec map[string]json.RawMessage, key string, dst any) error {
	v, ok := sec[key]
	if !ok || string(v) == "null" {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func (f *File) decode() error {
	vis, err := section(f.raw, keyColumnVisibility)
	if err != nil {
		return err
	}
	if err := decodeKey(vis, keyVisibleColumns, &f.View.VisibleColumns); err != nil {
		return err
	}
	view, err := section(f.raw, keyViewSettings)
	if err != nil {
		return err
	}
	if err := decodeKey(view, keyFilters, &f.View.ActiveFilters); err != nil {
		return err
	}
	for col, p := range f.View.ActiveFilters {
		p.Op = p.Op.Normalize()
		f.View.ActiveFilters[col] = p
	}
	if err := decodeKey(view, keyColumnOrder, &f.View.ColumnOrder); err != nil {
		return err
	}
	return decodeKey(f.raw, keyAISettings, &f.View.AI)
}

func setKey(sec map[string]json.RawMessage, key string, v any) error {
	raw, err := types.EncodeValue(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	sec[key] = raw
	return nil
}

// Save writes View back, merged into the keys read at load.
func (f *File) Save() error {
	if f.path == "" {
		return fmt.Errorf("settings: no file configured")
	}
	out := maps.Clone(f.raw)
	vis, err := section(out, keyColumnVisibility)
	if err != nil {
		return err
	}
	if err := setKey(vis, keyVisibleColumns, f.View.VisibleColumns); err != nil {
		return err
	}
	view, err := section(out, keyViewSettings)
	if err != nil {
		return err
	}
	if err := setKey(view, keyFilters, f.View.ActiveFilters); err != nil {
		return err
	}
	if err := setKey(view, keyColumnOrder, f.View.ColumnOrder); err != nil {
		return err
	}
	for key, sec := range map[string]map[string]json.RawMessage{keyColumnVisibility: vis, keyViewSettings: view} {
		if err := setKey(out, key, sec); err != nil {
			return err
		}
	}
	if err := setKey(out, keyAISettings, f.View.AI); err != nil {
		return err
	}
	if err := storage.WriteJSONAtomic(f.path, out); err != nil {
		return err
	}
	f.raw = out
	return nil
}
