package session

import (
	"errors"
	"fmt"
	"os"

	"github.com/mesh-intelligence/erpdb/internal/records"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

// ImportXLSX stages every row of the workbook at path as a new item and
// returns how many were staged. The workbook is only read. Rows that fail
// validation are skipped and reported by their position among the imported
// items.
func (s *Session) ImportXLSX(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, &types.LoadError{Source: path, Err: err}
	}
	defer f.Close()
	drafts, err := records.ReadXLSX(f)
	if err != nil {
		return 0, &types.LoadError{Source: path, Err: err}
	}

	staged := 0
	var errs []error
	for i, d := range drafts {
		if _, err := s.ledger.StageCreation(d); err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i+1, err))
			continue
		}
		staged++
	}
	if err := s.sync(); err != nil {
		errs = append(errs, err)
	}
	return staged, errors.Join(errs...)
}
