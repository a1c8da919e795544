package alert

import (
	"github.com/zsprackett/claude-usage/internal/jsonfile"
)

// StateFile persists the Ledger between runs.
type StateFile struct {
	path string
}

func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

func (f *StateFile) Path() string { return f.path }

// Load returns the persisted ledger. A missing file yields an empty ledger. A
// malformed one also yields an empty ledger, along with the decode error so
// the caller can log it.
func (f *StateFile) Load() (Ledger, error) {
	var l Ledger
	found, err := jsonfile.Read(f.path, &l)
	if err != nil || !found || l == nil {
		return Ledger{}, err
	}
	return l, nil
}

// Save atomically replaces the persisted ledger.
func (f *StateFile) Save(s Ledger) error {
	return jsonfile.Write(f.path, s, 0644)
}
