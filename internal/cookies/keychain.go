package cookies

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// keychainPassword reads a generic password from the macOS login keychain.
// The first lookup for a browser triggers the system "allow access" prompt.
func keychainPassword(ctx context.Context, env Env, service, account string) ([]byte, error) {
	out, err := env.run(ctx, "security", "find-generic-password", "-w", "-s", service, "-a", account)
	if err != nil {
		return nil, fmt.Errorf("keychain lookup %q: %w", service, err)
	}
	pw := strings.TrimSpace(string(out))
	if pw == "" {
		return nil, fmt.Errorf("keychain lookup %q: empty password", service)
	}
	return []byte(pw), nil
}

// secretToolPassword reads the Chromium safe-storage password from the
// freedesktop secret service via secret-tool.
func secretToolPassword(ctx context.Context, env Env, app string) ([]byte, error) {
	out, err := env.run(ctx, "secret-tool", "lookup", "application", app)
	if err != nil {
		return nil, fmt.Errorf("secret-tool lookup %q: %w", app, err)
	}
	pw := strings.TrimSpace(string(out))
	if pw == "" {
		return nil, errors.New("secret-tool lookup " + app + ": no password stored")
	}
	return []byte(pw), nil
}
