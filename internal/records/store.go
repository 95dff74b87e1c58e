// Package records implements the record store: the authoritative, ordered
// collection of item records loaded from the parts database.
//
// Values are held in their persisted JSON encoding so any column that no
// edit touches is written back unchanged. Identities are derived from the
// persisted content and stay fixed for the life of a Store.
package records

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

var identityNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("github.com/mesh-intelligence/erpdb/record"))

// Store owns the loaded records. It is not safe for concurrent use; the
// session goroutine is its only caller.
type Store struct {
	records []*types.Record
	byID    map[string]int
	columns []string
}

// New returns an empty store.
func New() *Store {
	s := &Store{byID: make(map[string]int)}
	s.rebuildColumns()
	return s
}

// LoadFile reads the database at path. A missing or empty file yields an
// empty store.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, &types.LoadError{Source: path, Err: err}
	}
	defer f.Close()
	s, err := Load(f)
	if err != nil {
		var le *types.LoadError
		if errors.As(err, &le) {
			le.Source = path
		}
		return nil, err
	}
	return s, nil
}

// Load decodes a JSON array of objects. Any malformed element rejects the
// whole document.
func Load(r io.Reader) (*Store, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &types.LoadError{Source: "database", Err: err}
	}
	s := New()
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}
	recs, err := decodeArray(data)
	if err != nil {
		return nil, &types.LoadError{Source: "database", Err: err}
	}
	seen := make(map[string]int, len(recs))
	for i, rec := range recs {
		if err := rec.Path().Validate(); err != nil {
			return nil, &types.LoadError{Source: "database", Err: fmt.Errorf("record %d: %w", i, err)}
		}
		canonical, err := rec.MarshalJSON()
		if err != nil {
			return nil, &types.LoadError{Source: "database", Err: fmt.Errorf("record %d: %w", i, err)}
		}
		rec.ID = identityFor(canonical, seen)
		s.byID[rec.ID] = len(s.records)
		s.records = append(s.records, rec)
	}
	s.rebuildColumns()
	return s, nil
}

func decodeArray(data []byte) ([]*types.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("expected an array of records, got %v", tok)
	}
	var recs []*types.Record
	for dec.More() {
		rec, err := types.DecodeRecord(dec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(recs), err)
		}
		recs = append(recs, rec)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after records")
	}
	return recs, nil
}

// identityFor hashes the canonical encoding. Exact duplicates get an
// occurrence suffix so each row keeps its own identity.
func identityFor(canonical []byte, seen map[string]int) string {
	k := string(canonical)
	n := seen[k]
	seen[k] = n + 1
	if n > 0 {
		canonical = append(slices.Clip(canonical), 0)
		canonical = strconv.AppendInt(canonical, int64(n), 10)
	}
	return uuid.NewSHA1(identityNamespace, canonical).String()
}

// rebuildColumns recomputes the column union: columns in first-seen order,
// then any schema column still missing. Image is placed right after ERP Name
// when it has to be added.
func (s *Store) rebuildColumns() {
	var cols []string
	seen := make(map[string]bool)
	for _, r := range s.records {
		for _, c := range r.Columns {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	for _, c := range types.SchemaColumns {
		if seen[c] {
			continue
		}
		seen[c] = true
		if c == types.ColumnImage {
			if i := slices.Index(cols, types.ColumnERPName); i >= 0 {
				cols = slices.Insert(cols, i+1, c)
				continue
			}
		}
		cols = append(cols, c)
	}
	s.columns = cols
}

func (s *Store) addColumns(r *types.Record) {
	for _, c := range r.Columns {
		if !slices.Contains(s.columns, c) {
			s.columns = append(s.columns, c)
		}
	}
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.records) }

// Get returns the record with id. The record must be treated as read-only.
func (s *Store) Get(id string) (*types.Record, error) {
	i, ok := s.byID[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return s.records[i], nil
}

// Has reports whether id is in the store.
func (s *Store) Has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// Index returns the load-order position of id.
func (s *Store) Index(id string) (int, bool) {
	i, ok := s.byID[id]
	return i, ok
}

// All returns the records in load order.
func (s *Store) All() []*types.Record {
	return s.records
}

// AllColumns returns every column seen in the store plus the schema
// columns. Visibility settings never affect it.
func (s *Store) AllColumns() []string {
	return slices.Clone(s.columns)
}

// Clone returns a deep copy.
func (s *Store) Clone() *Store {
	c := &Store{
		records: make([]*types.Record, len(s.records)),
		byID:    make(map[string]int, len(s.byID)),
		columns: slices.Clone(s.columns),
	}
	for i, r := range s.records {
		c.records[i] = r.Clone()
		c.byID[r.ID] = i
	}
	return c
}

// Replace swaps the contents of s with o.
func (s *Store) Replace(o *Store) {
	s.records, s.byID, s.columns = o.records, o.byID, o.columns
}

// UniqueValues returns the distinct non-empty display values of column in
// first-seen order.
func (s *Store) UniqueValues(column string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range s.records {
		v := r.Text(column)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
