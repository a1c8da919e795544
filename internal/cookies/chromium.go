package cookies

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zsprackett/claude-usage/internal/credential"
)

// Chromium reads the cookie store of a Chromium-family browser.
type Chromium struct {
	name string
	// user data dir relative to $HOME, per GOOS
	dirs map[string]string
	// macOS keychain item holding the cookie encryption password
	safeStorage string
	account     string
	// libsecret "application" attribute on Linux
	keyringApp string
	env        Env
}

func NewChrome(env Env) *Chromium {
	return &Chromium{
		name: "Chrome",
		dirs: map[string]string{
			"darwin": "Library/Application Support/Google/Chrome",
			"linux":  ".config/google-chrome",
		},
		safeStorage: "Chrome Safe Storage",
		account:     "Chrome",
		keyringApp:  "chrome",
		env:         env,
	}
}

func NewBrave(env Env) *Chromium {
	return &Chromium{
		name: "Brave",
		dirs: map[string]string{
			"darwin": "Library/Application Support/BraveSoftware/Brave-Browser",
			"linux":  ".config/BraveSoftware/Brave-Browser",
		},
		safeStorage: "Brave Safe Storage",
		account:     "Brave",
		keyringApp:  "brave",
		env:         env,
	}
}

func NewEdge(env Env) *Chromium {
	return &Chromium{
		name: "Edge",
		dirs: map[string]string{
			"darwin": "Library/Application Support/Microsoft Edge",
			"linux":  ".config/microsoft-edge",
		},
		safeStorage: "Microsoft Edge Safe Storage",
		account:     "Microsoft Edge",
		keyringApp:  "microsoft-edge",
		env:         env,
	}
}

func (c *Chromium) Name() string { return c.name }

func (c *Chromium) Locate() (string, bool) {
	rel, ok := c.dirs[c.env.GOOS]
	if !ok {
		return "", false
	}
	base := filepath.Join(c.env.Home, rel)
	return newest(globAll(
		filepath.Join(base, "Default", "Network", "Cookies"),
		filepath.Join(base, "Default", "Cookies"),
		filepath.Join(base, "Profile *", "Network", "Cookies"),
		filepath.Join(base, "Profile *", "Cookies"),
	))
}

func (c *Chromium) Extract(ctx context.Context, path string) (credential.Credential, error) {
	db, closeDB, err := openSnapshot(ctx, path)
	if err != nil {
		return credential.Credential{}, err
	}
	defer closeDB()

	// Since meta version 24, plaintext values are prefixed with a SHA-256 of the host.
	hostDigest := metaVersion(ctx, db) >= 24

	rows, err := db.QueryContext(ctx,
		`SELECT host_key, value, encrypted_value, expires_utc
		 FROM cookies
		 WHERE name = ? AND host_key IN (?, ?)
		 ORDER BY expires_utc DESC`,
		CookieName, Host, "."+Host,
	)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("query cookies: %w", err)
	}
	defer rows.Close()

	keys := map[string]keySet{}
	now := c.env.now()
	lastErr := ErrCookieNotFound
	for rows.Next() {
		var host, value string
		var encrypted []byte
		var expires int64
		if err := rows.Scan(&host, &value, &encrypted, &expires); err != nil {
			return credential.Credential{}, fmt.Errorf("scan cookie: %w", err)
		}
		if expires != 0 && chromeTime(expires).Before(now) {
			lastErr = ErrCookieExpired
			continue
		}
		if value == "" && len(encrypted) > 0 {
			value, err = c.decrypt(ctx, keys, encrypted, hostDigest)
			if err != nil {
				lastErr = err
				continue
			}
		}
		if value != "" {
			return credential.Credential{Value: value, Source: credential.BrowserSource(c.name)}, nil
		}
	}
	if err := rows.Err(); err != nil {
		return credential.Credential{}, err
	}
	return credential.Credential{}, lastErr
}

func (c *Chromium) decrypt(ctx context.Context, keys map[string]keySet, encrypted []byte, hostDigest bool) (string, error) {
	version := encryptionVersion(encrypted)
	if version != "v10" && version != "v11" {
		return "", fmt.Errorf("%w: prefix %q", ErrUnsupportedEncryption, version)
	}
	set, ok := keys[version]
	if !ok {
		var err error
		if set, err = c.keys(ctx, version); err != nil {
			return "", err
		}
		keys[version] = set
	}
	var lastErr error = ErrDecrypt
	for _, key := range set.keys {
		value, err := decryptChromium(key, encrypted, hostDigest)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}
	if set.missing != nil {
		return "", fmt.Errorf("%w (%v)", lastErr, set.missing)
	}
	return "", lastErr
}

// keySet lists the candidate AES keys for one value prefix, most likely
// first. missing explains why the preferred key could not be read.
type keySet struct {
	keys    [][]byte
	missing error
}

// keys derives the AES keys for the given value prefix. macOS keeps the
// password in the login keychain. Linux uses a fixed password for v10; for
// v11 the desktop keyring is tried first, then the fixed password and the
// empty password that Chromium falls back to without a keyring.
func (c *Chromium) keys(ctx context.Context, version string) (keySet, error) {
	switch c.env.GOOS {
	case "darwin":
		password, err := keychainPassword(ctx, c.env, c.safeStorage, c.account)
		if err != nil {
			return keySet{}, err
		}
		return keySet{keys: [][]byte{deriveKey(password, macIterations)}}, nil
	case "linux":
		fallback := [][]byte{
			deriveKey([]byte(linuxV10Password), linuxIterations),
			deriveKey(nil, linuxIterations),
		}
		if version == "v10" {
			return keySet{keys: fallback[:1]}, nil
		}
		password, err := secretToolPassword(ctx, c.env, c.keyringApp)
		if err != nil {
			if ctx.Err() != nil {
				return keySet{}, ctx.Err()
			}
			return keySet{keys: fallback, missing: err}, nil
		}
		return keySet{keys: append([][]byte{deriveKey(password, linuxIterations)}, fallback...)}, nil
	default:
		return keySet{}, fmt.Errorf("%s cookie decryption on %s: %w", c.name, c.env.GOOS, ErrUnsupportedPlatform)
	}
}

func metaVersion(ctx context.Context, db *sql.DB) int {
	var v string
	if err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'version'`).Scan(&v); err != nil {
		return 0
	}
	n, _ := strconv.Atoi(v)
	return n
}

// chromeTime converts microseconds since 1601-01-01 UTC.
func chromeTime(us int64) time.Time {
	const epochDelta = 11644473600 // seconds between 1601-01-01 and 1970-01-01
	return time.Unix(us/1_000_000-epochDelta, (us%1_000_000)*1000).UTC()
}
