package session

import (
	"context"

	"github.com/mesh-intelligence/erpdb/internal/export"
)

// Export writes the committed database to path. Pending edits are not
// included.
func (s *Session) Export(ctx context.Context, format export.Format, path string) error {
	return export.WriteFile(ctx, format, path, export.Table{
		Columns: s.store.AllColumns(),
		Records: s.store.All(),
	})
}
