package credential

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/zsprackett/claude-usage/internal/jsonfile"
)

// EnvSessionKey names the environment variable consulted when no credential
// file exists.
const EnvSessionKey = "CLAUDE_SESSION_KEY"

type storedCredential struct {
	SessionKey string    `json:"session_key"`
	SavedAt    time.Time `json:"saved_at,omitzero"`
}

// Store persists the manually entered credential.
type Store struct {
	path string
	now  func() time.Time
}

func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

func (s *Store) Path() string { return s.path }

// Load returns the manual credential. A missing, unreadable, or malformed
// file counts as absent, in which case CLAUDE_SESSION_KEY is consulted.
func (s *Store) Load() (Credential, bool) {
	var rec storedCredential
	if found, err := jsonfile.Read(s.path, &rec); err == nil && found {
		if key := strings.TrimSpace(rec.SessionKey); key != "" {
			return Credential{Value: key, Source: SourceManual}, true
		}
	}
	if key := strings.TrimSpace(os.Getenv(EnvSessionKey)); key != "" {
		return Credential{Value: key, Source: SourceManual}, true
	}
	return Credential{}, false
}

// Save atomically replaces the stored credential.
func (s *Store) Save(c Credential) error {
	key := strings.TrimSpace(c.Value)
	if key == "" {
		return errors.New("session key cannot be empty")
	}
	return jsonfile.Write(s.path, storedCredential{SessionKey: key, SavedAt: s.now().UTC()}, 0600)
}

// Clear removes the stored credential.
func (s *Store) Clear() error {
	return jsonfile.Remove(s.path)
}
