package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Well-known item columns. The schema is open; these are the columns the
// engine itself reads or synthesizes.
const (
	ColumnImage        = "Image"
	ColumnManufacturer = "Manufacturer"
	ColumnRemark       = "REMARK"
)

// SchemaColumns are always present in the column set, even when no record
// carries them yet.
var SchemaColumns = []string{ColumnCategory, ColumnSubcategory, ColumnSubSubcategory, ColumnERPName, ColumnImage}

// Record is one item of the parts database. Values are kept in their
// persisted JSON encoding so columns that are never edited round-trip
// byte for byte. ID is the session identity and is never persisted.
type Record struct {
	ID      string
	Columns []string
	Fields  map[string]json.RawMessage
}

// NewRecord returns an empty record with the given identity.
func NewRecord(id string) *Record {
	return &Record{ID: id, Fields: make(map[string]json.RawMessage)}
}

// NewDraft builds a record for the add-item flow. The identity is assigned
// when the draft is staged.
func NewDraft(path CategoryPath, name ERPName, extra map[string]string) (*Record, error) {
	r := NewRecord("")
	if err := r.SetPath(path); err != nil {
		return nil, err
	}
	if err := r.Set(ColumnERPName, name); err != nil {
		return nil, err
	}
	if err := r.Set(ColumnImage, ""); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if err := r.Set(strings.TrimSpace(k), v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Has reports whether the record carries column.
func (r *Record) Has(column string) bool {
	_, ok := r.Fields[column]
	return ok
}

// Raw returns the persisted encoding of column.
func (r *Record) Raw(column string) (json.RawMessage, bool) {
	v, ok := r.Fields[column]
	return v, ok
}

// Text returns the display text of column, empty when absent.
func (r *Record) Text(column string) string {
	return DisplayText(r.Fields[column])
}

// SetRaw stores an already encoded value, appending the column when new.
func (r *Record) SetRaw(column string, raw json.RawMessage) {
	if r.Fields == nil {
		r.Fields = make(map[string]json.RawMessage)
	}
	if _, ok := r.Fields[column]; !ok {
		r.Columns = append(r.Columns, column)
	}
	r.Fields[column] = raw
}

// Set encodes v and stores it under column.
func (r *Record) Set(column string, v any) error {
	if column == "" {
		return ErrInvalidField
	}
	raw, err := EncodeValue(v)
	if err != nil {
		return err
	}
	r.SetRaw(column, raw)
	return nil
}

// Delete removes column from the record.
func (r *Record) Delete(column string) {
	if _, ok := r.Fields[column]; !ok {
		return
	}
	delete(r.Fields, column)
	for i, c := range r.Columns {
		if c == column {
			r.Columns = append(r.Columns[:i:i], r.Columns[i+1:]...)
			break
		}
	}
}

// Path returns the hierarchy position stored in the record.
func (r *Record) Path() CategoryPath {
	return CategoryPath{
		Category:       r.Text(ColumnCategory),
		Subcategory:    r.Text(ColumnSubcategory),
		SubSubcategory: r.Text(ColumnSubSubcategory),
	}
}

// SetPath writes the three hierarchy columns.
func (r *Record) SetPath(p CategoryPath) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for i, col := range PathColumns {
		if err := r.Set(col, p.Parts()[i]); err != nil {
			return err
		}
	}
	return nil
}

// ERPName decodes the composite name column.
func (r *Record) ERPName() ERPName {
	return DecodeERPName(r.Fields[ColumnERPName])
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := &Record{
		ID:      r.ID,
		Columns: append([]string(nil), r.Columns...),
		Fields:  make(map[string]json.RawMessage, len(r.Fields)),
	}
	for k, v := range r.Fields {
		c.Fields[k] = append(json.RawMessage(nil), v...)
	}
	return c
}

// Context flattens the record into column → display text, the shape handed
// to suggestion providers.
func (r *Record) Context() map[string]string {
	ctx := make(map[string]string, len(r.Columns))
	for _, c := range r.Columns {
		ctx[c] = r.Text(c)
	}
	return ctx
}

// MarshalJSON writes the record as an object with keys in column order.
func (r *Record) MarshalJSON() ([]byte, error) {
	return r.marshalColumns(r.Columns)
}

// MarshalColumns writes the record with exactly the given keys in order.
// Columns the record lacks are written as empty strings.
func (r *Record) MarshalColumns(columns []string) ([]byte, error) {
	return r.marshalColumns(columns)
}

func (r *Record) marshalColumns(columns []string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := EncodeValue(c)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if v, ok := r.Fields[c]; ok && len(v) > 0 {
			buf.Write(v)
		} else {
			buf.WriteString(`""`)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object keeping its key order. Keys are trimmed of
// surrounding whitespace and a key that repeats after trimming keeps its
// first value.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := r.decode(dec); err != nil {
		return err
	}
	if _, err := dec.Token(); err == nil {
		return errors.New("trailing data after object")
	}
	return nil
}

// DecodeRecord reads the next object from dec into a new record.
func DecodeRecord(dec *json.Decoder) (*Record, error) {
	r := NewRecord("")
	if err := r.decode(dec); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Record) decode(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}
	r.Columns = r.Columns[:0]
	r.Fields = make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("value of %q: %w", key, err)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return fmt.Errorf("empty column name")
		}
		if _, dup := r.Fields[key]; dup {
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return err
		}
		r.Columns = append(r.Columns, key)
		r.Fields[key] = buf.Bytes()
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// EncodeValue marshals v without HTML escaping. A json.RawMessage is
// validated and compacted.
func EncodeValue(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DisplayText renders a persisted value for display and filtering. Strings
// are unquoted, null and absent values are empty, composite names show their
// full name, and anything else is shown as compact JSON.
func DisplayText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err == nil {
			if full, ok := obj["full_name"]; ok {
				return DisplayText(full)
			}
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
