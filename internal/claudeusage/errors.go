package claudeusage

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed fetch.
type ErrorKind string

const (
	// KindTransient covers network failures, timeouts, 429 and 5xx; the next
	// scheduled run is the retry.
	KindTransient ErrorKind = "transient"
	// KindCredentialInvalid means the session key was rejected; the remedy
	// is a fresh login.
	KindCredentialInvalid ErrorKind = "credential_invalid"
	// KindUpstream covers unexpected statuses and response shapes.
	KindUpstream ErrorKind = "upstream_error"
)

var (
	ErrTransient         = errors.New("transient fetch failure")
	ErrCredentialInvalid = errors.New("credential rejected")
	ErrUpstream          = errors.New("unexpected upstream response")
)

// FetchError reports a failed fetch. It matches the sentinel for its Kind
// via errors.Is.
type FetchError struct {
	Kind   ErrorKind
	Status int // HTTP status, 0 when no response was received
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool {
	switch e.Kind {
	case KindTransient:
		return target == ErrTransient
	case KindCredentialInvalid:
		return target == ErrCredentialInvalid
	case KindUpstream:
		return target == ErrUpstream
	}
	return false
}
