// Package fs provides filesystem adapters for diagnostics export.
package fs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/fragship/fragship/internal/journal"
)

// exportEntry is the JSON shape of one journal entry.
type exportEntry struct {
	At       time.Time `json:"at"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
}

// ExportJournal writes a journal snapshot to path as JSON, atomically:
// the file is written to a temp name and renamed into place so a crash
// mid-export never leaves a truncated file.
func ExportJournal(path string, entries []journal.Entry) error {
	out := make([]exportEntry, len(entries))
	for i, e := range entries {
		out[i] = exportEntry{
			At:       e.At,
			Severity: e.Severity.String(),
			Message:  e.Message,
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
