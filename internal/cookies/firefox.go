package cookies

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/zsprackett/claude-usage/internal/credential"
)

// Firefox reads moz_cookies from the most recently used Firefox profile.
// Firefox stores cookie values unencrypted.
type Firefox struct {
	env Env
}

func NewFirefox(env Env) *Firefox { return &Firefox{env: env} }

func (f *Firefox) Name() string { return "Firefox" }

func (f *Firefox) Locate() (string, bool) {
	h := f.env.Home
	switch f.env.GOOS {
	case "darwin":
		return newest(globAll(filepath.Join(h, "Library/Application Support/Firefox/Profiles/*/cookies.sqlite")))
	case "linux":
		return newest(globAll(
			filepath.Join(h, ".mozilla/firefox/*/cookies.sqlite"),
			filepath.Join(h, "snap/firefox/common/.mozilla/firefox/*/cookies.sqlite"),
			filepath.Join(h, ".var/app/org.mozilla.firefox/.mozilla/firefox/*/cookies.sqlite"),
		))
	}
	return "", false
}

func (f *Firefox) Extract(ctx context.Context, path string) (credential.Credential, error) {
	db, closeDB, err := openSnapshot(ctx, path)
	if err != nil {
		return credential.Credential{}, err
	}
	defer closeDB()

	rows, err := db.QueryContext(ctx,
		`SELECT value, expiry
		 FROM moz_cookies
		 WHERE name = ? AND host IN (?, ?)
		 ORDER BY expiry DESC`,
		CookieName, Host, "."+Host,
	)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("query moz_cookies: %w", err)
	}
	defer rows.Close()

	now := f.env.now()
	lastErr := ErrCookieNotFound
	for rows.Next() {
		var value string
		var expiry int64
		if err := rows.Scan(&value, &expiry); err != nil {
			return credential.Credential{}, fmt.Errorf("scan cookie: %w", err)
		}
		if expiry != 0 && firefoxTime(expiry).Before(now) {
			lastErr = ErrCookieExpired
			continue
		}
		if value != "" {
			return credential.Credential{Value: value, Source: credential.BrowserSource(f.Name())}, nil
		}
	}
	if err := rows.Err(); err != nil {
		return credential.Credential{}, err
	}
	return credential.Credential{}, lastErr
}

// firefoxTime converts moz_cookies.expiry. Older releases store seconds,
// newer ones milliseconds.
func firefoxTime(v int64) time.Time {
	if v > 100_000_000_000 {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}
