package settings

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mesh-intelligence/erpdb/internal/storage"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// Prompt is a named template. Placeholders are column names in braces,
// e.g. {Manufacturer}.
type Prompt struct {
	Description string `json:"description"`
	Text        string `json:"prompt"`
}

type promptFile struct {
	Prompts map[string]Prompt `json:"prompts"`
}

// Library is the prompt template collection stored in prompts.json.
type Library struct {
	path    string
	prompts map[string]Prompt
}

// LoadLibrary reads the prompt library. A missing file is an empty library.
func LoadLibrary(path string) (*Library, error) {
	l := &Library{path: path, prompts: make(map[string]Prompt)}
	if path == "" {
		return l, nil
	}
	var doc promptFile
	if _, err := storage.ReadJSON(path, &doc); err != nil {
		return nil, &types.LoadError{Source: path, Err: err}
	}
	for name, p := range doc.Prompts {
		l.prompts[name] = p
	}
	return l, nil
}

// Names returns the prompt names sorted.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.prompts))
	for n := range l.prompts {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Get returns the named prompt.
func (l *Library) Get(name string) (Prompt, bool) {
	p, ok := l.prompts[name]
	return p, ok
}

// Exists reports whether name is in the library.
func (l *Library) Exists(name string) bool {
	_, ok := l.prompts[name]
	return ok
}

// Save adds or replaces a prompt and writes the library.
func (l *Library) Save(name, description, text string) error {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(text) == "" {
		return types.Invalid(name, "prompt", fmt.Errorf("name and text are required"))
	}
	prev, had := l.prompts[name]
	l.prompts[name] = Prompt{Description: description, Text: text}
	if err := l.write(); err != nil {
		if had {
			l.prompts[name] = prev
		} else {
			delete(l.prompts, name)
		}
		return err
	}
	return nil
}

// Delete removes a prompt and writes the library.
func (l *Library) Delete(name string) error {
	prev, ok := l.prompts[name]
	if !ok {
		return types.Invalid(name, "prompt", types.ErrNotFound)
	}
	delete(l.prompts, name)
	if err := l.write(); err != nil {
		l.prompts[name] = prev
		return err
	}
	return nil
}

func (l *Library) write() error {
	if l.path == "" {
		return fmt.Errorf("prompts: no file configured")
	}
	return storage.WriteJSONAtomic(l.path, promptFile{Prompts: l.prompts})
}
