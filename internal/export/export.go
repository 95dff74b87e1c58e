// Package export writes the committed database in flat formats for use
// outside the editor. Composite values are flattened to their display text,
// so the ERP Name column carries the full name, except in JSON exports,
// which keep the persisted encoding.
package export

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/xuri/excelize/v2"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/erpdb/internal/storage"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// Format is an export file format.
type Format string

// Supported formats.
const (
	FormatCSV    Format = "csv"
	FormatXLSX   Format = "xlsx"
	FormatSQLite Format = "sqlite"
	FormatJSON   Format = "json"
)

// Formats lists the supported formats.
var Formats = []Format{FormatCSV, FormatXLSX, FormatSQLite, FormatJSON}

// SheetName is the worksheet written by XLSX exports.
const SheetName = "Items"

// TableName is the table written by SQLite exports.
const TableName = "items"

// insertBatch is the number of rows per INSERT statement.
const insertBatch = 100

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// Table is the data to export: the column order and the records.
type Table struct {
	Columns []string
	Records []*types.Record
}

func (t Table) row(r *types.Record) []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = r.Text(c)
	}
	return out
}

// WriteFile exports t to path in the given format, replacing any existing
// file only once the export is complete.
func WriteFile(ctx context.Context, format Format, path string, t Table) error {
	if format == FormatSQLite {
		return SQLite(ctx, path, t)
	}
	return storage.WriteFileAtomic(path, func(w io.Writer) error {
		switch format {
		case FormatCSV:
			return CSV(w, t)
		case FormatXLSX:
			return XLSX(w, t)
		case FormatJSON:
			return JSON(w, t)
		}
		return fmt.Errorf("unknown export format %q", format)
	})
}

// CSV writes a header row followed by one row per record.
func CSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	for _, r := range t.Records {
		if err := cw.Write(t.row(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// XLSX writes a workbook with a single sheet.
func XLSX(w io.Writer, t Table) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return err
	}
	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}
	for i, r := range t.Records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		vals := t.row(r)
		row := make([]interface{}, len(vals))
		for j, v := range vals {
			row[j] = v
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}

// JSON writes the records in the database encoding, restricted to the
// table's columns.
func JSON(w io.Writer, t Table) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i, r := range t.Records {
		b, err := r.MarshalColumns(t.Columns)
		if err != nil {
			return err
		}
		sep := ",\n"
		if i == 0 {
			sep = "\n"
		}
		if _, err := io.WriteString(w, sep); err != nil {
			return err
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n]\n")
	return err
}

// SQLite writes a database with one TEXT column per exported column. The
// file is built beside path and renamed into place. SQLite compares column
// names without regard to ASCII case, so a column whose name collides with
// an earlier one that way is written with a numeric suffix (REMARK_2).
func SQLite(ctx context.Context, path string, t Table) error {
	tmp := path + ".tmp"
	_ = os.Remove(tmp)
	if err := buildSQLite(ctx, tmp, t); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func buildSQLite(ctx context.Context, path string, t Table) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	cols := make([]string, len(t.Columns))
	defs := make([]string, len(t.Columns))
	for i, c := range SQLiteColumns(t.Columns) {
		cols[i] = quoteIdent(c)
		defs[i] = cols[i] + " TEXT"
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(TableName), strings.Join(defs, ", "))); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sq := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
	for start := 0; start < len(t.Records); start += insertBatch {
		end := min(start+insertBatch, len(t.Records))
		ins := sq.Insert(quoteIdent(TableName)).Columns(cols...)
		for _, r := range t.Records[start:end] {
			vals := t.row(r)
			args := make([]interface{}, len(vals))
			for i, v := range vals {
				args[i] = v
			}
			ins = ins.Values(args...)
		}
		query, args, err := ins.ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SQLiteColumns returns the column names used in SQLite exports, suffixing
// any name that folds to one already taken.
func SQLiteColumns(columns []string) []string {
	taken := make(map[string]bool, len(columns))
	for _, c := range columns {
		taken[foldASCII(c)] = false
	}
	out := make([]string, len(columns))
	for i, c := range columns {
		name := c
		for n := 2; taken[foldASCII(name)]; n++ {
			name = fmt.Sprintf("%s_%d", c, n)
		}
		taken[foldASCII(name)] = true
		out[i] = name
	}
	return out
}

func foldASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + 'a' - 'A'
		}
		return r
	}, s)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
