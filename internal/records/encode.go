package records

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

const indent = "    "

var emptyERPName = json.RawMessage(`{"full_name":"","type":"","part_number":"","additional_parameters":""}`)

// Normalize gives every record the full column set in canonical order.
// Missing values are filled with an empty string, or an empty name object
// for the ERP Name column.
func (s *Store) Normalize() {
	cols := s.columns
	for _, r := range s.records {
		fields := make(map[string]json.RawMessage, len(cols))
		for _, c := range cols {
			v, ok := r.Fields[c]
			switch {
			case ok && len(v) > 0:
				fields[c] = v
			case c == types.ColumnERPName:
				fields[c] = emptyERPName
			default:
				fields[c] = json.RawMessage(`""`)
			}
		}
		r.Columns = append(r.Columns[:0], cols...)
		r.Fields = fields
	}
}

// Encode writes the records as an indented JSON array with keys in column
// order. Non-ASCII text is written as is.
func (s *Store) Encode(w io.Writer) error {
	if len(s.records) == 0 {
		_, err := io.WriteString(w, "[]\n")
		return err
	}
	var buf bytes.Buffer
	buf.WriteString("[\n")
	for i, r := range s.records {
		raw, err := r.MarshalJSON()
		if err != nil {
			return err
		}
		buf.WriteString(indent)
		if err := json.Indent(&buf, raw, indent, indent); err != nil {
			return err
		}
		if i < len(s.records)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("]\n")
	_, err := w.Write(buf.Bytes())
	return err
}
