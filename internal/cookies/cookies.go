// Package cookies extracts the claude.ai session cookie from local browser
// cookie stores. Each browser family is a credential.CookieSource.
package cookies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zsprackett/claude-usage/internal/credential"
)

const (
	Host       = "claude.ai"
	CookieName = "sessionKey"

	commandTimeout = 10 * time.Second
)

var (
	ErrCookieNotFound      = errors.New("session cookie not found")
	ErrCookieExpired       = errors.New("session cookie expired")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// CommandRunner runs an external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).Output()
}

// Env describes the machine the cookie stores live on.
type Env struct {
	Home string
	GOOS string
	Run  CommandRunner
	Now  func() time.Time
}

func DefaultEnv() Env {
	home, _ := os.UserHomeDir()
	return Env{Home: home, GOOS: runtime.GOOS, Run: runCommand, Now: time.Now}
}

func (e Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e Env) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if e.Run == nil {
		return runCommand(ctx, name, args...)
	}
	return e.Run(ctx, name, args...)
}

// Sources returns the cookie sources for the given browser names, in the
// order given. Unknown names are reported in the second return value.
func Sources(env Env, names []string) ([]credential.CookieSource, []string) {
	var out []credential.CookieSource
	var unknown []string
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "chrome":
			out = append(out, NewChrome(env))
		case "brave":
			out = append(out, NewBrave(env))
		case "edge":
			out = append(out, NewEdge(env))
		case "firefox":
			out = append(out, NewFirefox(env))
		case "safari":
			out = append(out, NewSafari(env))
		default:
			unknown = append(unknown, name)
		}
	}
	return out, unknown
}

func matchHost(host string) bool {
	return host == Host || host == "."+Host
}

// newest returns the most recently modified existing file among paths.
func newest(paths []string) (string, bool) {
	var best string
	var bestMod time.Time
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = p, info.ModTime()
		}
	}
	return best, best != ""
}

func globAll(patterns ...string) []string {
	var out []string
	for _, p := range patterns {
		matches, _ := filepath.Glob(p)
		out = append(out, matches...)
	}
	return out
}

// openSnapshot copies a sqlite cookie database (and its WAL, when present)
// into a temp dir and opens the copy. A running browser holds a lock on the
// original; the copy is always readable.
func openSnapshot(ctx context.Context, path string) (*sql.DB, func(), error) {
	dir, err := os.MkdirTemp("", "claude-usage-cookies-*")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { os.RemoveAll(dir) }

	dst := filepath.Join(dir, filepath.Base(path))
	if err := copyFile(path, dst); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("copy cookie db: %w", err)
	}
	if _, err := os.Stat(path + "-wal"); err == nil {
		if err := copyFile(path+"-wal", dst+"-wal"); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("copy cookie wal: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dst)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("open cookie db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout = 2000"); err != nil {
		conn.Close()
		cleanup()
		return nil, nil, fmt.Errorf("open cookie db: %w", err)
	}
	return conn, func() {
		conn.Close()
		cleanup()
	}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
