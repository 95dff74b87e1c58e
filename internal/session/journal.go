package session

import (
	"encoding/json"
	"fmt"

	"github.com/mesh-intelligence/erpdb/internal/storage"
	"github.com/mesh-intelligence/erpdb/pkg/types"
)

const journalVersion = 1

// journalHeader is the first line of the journal.
type journalHeader struct {
	Version     int    `json:"version"`
	Fingerprint string `json:"fingerprint"`
	Entries     int    `json:"entries"`
}

// DiscardJournal removes the pending edits staged against database without
// opening it.
func DiscardJournal(database string) error {
	return storage.Remove(JournalPath(database))
}

// replayJournal restages the journaled entries. A journal staged against a
// different database content is refused.
func (s *Session) replayJournal() error {
	lines, err := storage.ReadJSONL(s.journal)
	if err != nil {
		return &types.LoadError{Source: s.journal, Err: err}
	}
	if len(lines) == 0 {
		return nil
	}
	var hdr journalHeader
	if err := json.Unmarshal(lines[0], &hdr); err != nil {
		return &types.LoadError{Source: s.journal, Err: fmt.Errorf("header: %w", err)}
	}
	if hdr.Version != journalVersion {
		return &types.LoadError{Source: s.journal, Err: fmt.Errorf("unsupported journal version %d", hdr.Version)}
	}
	if hdr.Fingerprint != s.fingerprint {
		return &types.LoadError{Source: s.journal, Err: types.ErrStaleJournal}
	}
	entries := make([]types.Entry, 0, len(lines)-1)
	for i, line := range lines[1:] {
		var e types.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return &types.LoadError{Source: s.journal, Err: fmt.Errorf("entry %d: %w", i+1, err)}
		}
		entries = append(entries, e)
	}
	if err := s.ledger.Replay(entries); err != nil {
		return &types.LoadError{Source: s.journal, Err: err}
	}
	return nil
}

// sync rewrites the journal when the ledger changed since the last write.
// An empty ledger removes it.
func (s *Session) sync() error {
	if !s.journalDirty {
		return nil
	}
	entries := s.ledger.Entries()
	if len(entries) == 0 {
		if err := storage.Remove(s.journal); err != nil {
			return err
		}
		s.journalDirty = false
		return nil
	}
	lines := make([]any, 0, len(entries)+1)
	lines = append(lines, journalHeader{Version: journalVersion, Fingerprint: s.fingerprint, Entries: len(entries)})
	for _, e := range entries {
		lines = append(lines, e)
	}
	if err := storage.WriteJSONL(s.journal, lines); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	s.journalDirty = false
	return nil
}
