package records

import (
	"errors"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// ReadXLSX reads the first worksheet of a workbook as drafts for new items.
// The first row names the columns: names are trimmed, blank ones are
// skipped and a repeated name keeps its first column. Cells are read as
// text, except ERP Name, which is split into its parts. Blank rows are
// skipped.
func ReadXLSX(r io.Reader) ([]*types.Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	type column struct {
		idx  int
		name string
	}
	var cols []column
	seen := make(map[string]bool)
	for i, h := range rows[0] {
		name := strings.TrimSpace(h)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		cols = append(cols, column{idx: i, name: name})
	}
	if len(cols) == 0 {
		return nil, errors.New("header row names no columns")
	}

	var out []*types.Record
	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		rec := types.NewRecord("")
		for _, c := range cols {
			text := ""
			if c.idx < len(row) {
				text = row[c.idx]
			}
			var v any = text
			if c.name == types.ColumnERPName {
				v = types.ParseERPName(text)
			}
			if err := rec.Set(c.name, v); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
