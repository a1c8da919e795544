package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// CookieSource is one browser's cookie storage.
type CookieSource interface {
	Name() string
	// Locate returns the path of the cookie store, or false when the
	// browser is not installed for this user.
	Locate() (string, bool)
	// Extract reads the session cookie from the store at path.
	Extract(ctx context.Context, path string) (Credential, error)
}

// ManualStore supplies a manually entered credential.
type ManualStore interface {
	Load() (Credential, bool)
}

// Resolver picks the credential for one run: the manual credential when one
// exists, otherwise the first browser cookie found, in source order.
type Resolver struct {
	manual  ManualStore
	sources []CookieSource
	logger  *slog.Logger
}

func NewResolver(manual ManualStore, sources []CookieSource, logger *slog.Logger) *Resolver {
	return &Resolver{manual: manual, sources: sources, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context) (Credential, error) {
	if r.manual != nil {
		if c, ok := r.manual.Load(); ok {
			r.logger.Debug("using manual credential")
			return c, nil
		}
	}

	var attempts []Attempt
	for _, src := range r.sources {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Source: src.Name(), Err: err})
			break
		}
		path, ok := src.Locate()
		if !ok {
			attempts = append(attempts, Attempt{Source: src.Name(), Err: ErrNotInstalled})
			continue
		}
		c, err := extract(ctx, src, path)
		if err == nil && c.Value == "" {
			err = errors.New("empty cookie value")
		}
		if err != nil {
			r.logger.Debug("cookie source failed", "browser", src.Name(), "path", path, "err", err)
			attempts = append(attempts, Attempt{Source: src.Name(), Err: err})
			continue
		}
		if c.Source == "" {
			c.Source = BrowserSource(src.Name())
		}
		r.logger.Info("using browser cookie", "browser", src.Name(), "session_key", c.Redacted())
		return c, nil
	}
	err := &ResolutionError{Attempts: attempts}
	if ctxErr := ctx.Err(); ctxErr != nil {
		// out of time is not the same as out of credentials
		r.logger.Debug("credential resolution interrupted", "err", err)
		return Credential{}, fmt.Errorf("resolve credential: %w", ctxErr)
	}
	return Credential{}, err
}

// extract turns a panic inside a cookie parser into an ordinary failure so
// one corrupt store cannot take down the scan.
func extract(ctx context.Context, src CookieSource, path string) (c Credential, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("extract panicked: %v", p)
		}
	}()
	return src.Extract(ctx, path)
}
