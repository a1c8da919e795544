// Package credential holds the claude.ai session credential, its on-disk
// store, and the resolver that picks one for a run.
package credential

import (
	"errors"
	"fmt"
	"strings"
)

// Source records where a credential came from.
type Source string

const SourceManual Source = "manual"

// BrowserSource returns the provenance for a cookie extracted from the named browser.
func BrowserSource(name string) Source {
	return Source("browser:" + strings.ToLower(name))
}

func (s Source) IsManual() bool { return s == SourceManual }

// Credential is an opaque session token plus its provenance.
type Credential struct {
	Value  string
	Source Source
}

// Redacted returns a form of the value safe to log.
func (c Credential) Redacted() string {
	if len(c.Value) <= 12 {
		return "****"
	}
	return c.Value[:8] + "…" + c.Value[len(c.Value)-4:]
}

var (
	// ErrNoCredential is returned when neither a manual credential nor any
	// browser cookie could be found.
	ErrNoCredential = errors.New("no credential found")
	// ErrNotInstalled signals that a cookie source has no cookie store on this machine.
	ErrNotInstalled = errors.New("cookie store not found")
)

// Attempt is the outcome of one cookie source during resolution.
type Attempt struct {
	Source string
	Err    error
}

// ResolutionError reports that every strategy was exhausted. It matches
// ErrNoCredential and keeps the per-source reasons for diagnostics.
type ResolutionError struct {
	Attempts []Attempt
}

func (e *ResolutionError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrNoCredential.Error()
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Source, a.Err))
	}
	return fmt.Sprintf("%s (%s)", ErrNoCredential, strings.Join(parts, "; "))
}

func (e *ResolutionError) Unwrap() error { return ErrNoCredential }
