package records

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// Change is a proposed value for one field, staged by the caller.
type Change struct {
	Identity string
	Field    string
	Value    string
}

// CollapseMultiline proposes single-line versions of every string value
// containing a line break, with runs of whitespace collapsed.
func (s *Store) CollapseMultiline() []Change {
	return s.rewriteStrings(func(v string) (string, bool) {
		if !strings.ContainsAny(v, "\r\n") {
			return "", false
		}
		return strings.Join(strings.Fields(v), " "), true
	})
}

// StripPrefix proposes values with a leading prefix removed, compared
// case-insensitively after trimming, along with the spaces that follow it.
func (s *Store) StripPrefix(prefix string) []Change {
	if prefix == "" {
		return nil
	}
	return s.rewriteStrings(func(v string) (string, bool) {
		t := strings.TrimSpace(v)
		if len(t) < len(prefix) || !strings.EqualFold(t[:len(prefix)], prefix) {
			return "", false
		}
		return strings.TrimLeftFunc(t[len(prefix):], unicode.IsSpace), true
	})
}

// rewriteStrings visits plain string values only. Composite values such as
// the ERP name object and the hierarchy columns are left alone; moving an
// item goes through a reassignment.
func (s *Store) rewriteStrings(fn func(string) (string, bool)) []Change {
	var out []Change
	for _, r := range s.records {
		for _, c := range r.Columns {
			if types.IsPathColumn(c) {
				continue
			}
			raw := bytes.TrimSpace(r.Fields[c])
			if len(raw) == 0 || raw[0] != '"' {
				continue
			}
			v := types.DisplayText(raw)
			if nv, ok := fn(v); ok && nv != v {
				out = append(out, Change{Identity: r.ID, Field: c, Value: nv})
			}
		}
	}
	return out
}
