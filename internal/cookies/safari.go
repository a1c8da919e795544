package cookies

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/zsprackett/claude-usage/internal/credential"
)

// Safari reads Cookies.binarycookies. Reading the sandboxed container
// requires Full Disk Access for the invoking process; a permission error is
// reported like any other extraction failure.
type Safari struct {
	env Env
}

func NewSafari(env Env) *Safari { return &Safari{env: env} }

func (s *Safari) Name() string { return "Safari" }

func (s *Safari) Locate() (string, bool) {
	if s.env.GOOS != "darwin" {
		return "", false
	}
	return newest([]string{
		filepath.Join(s.env.Home, "Library/Containers/com.apple.Safari/Data/Library/Cookies/Cookies.binarycookies"),
		filepath.Join(s.env.Home, "Library/Cookies/Cookies.binarycookies"),
	})
}

func (s *Safari) Extract(ctx context.Context, path string) (credential.Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return credential.Credential{}, err
	}
	all, err := ParseBinaryCookies(data)
	if err != nil {
		return credential.Credential{}, err
	}
	now := s.env.now()
	lastErr := ErrCookieNotFound
	for _, c := range all {
		if c.Name != CookieName || !matchHost(c.Domain) {
			continue
		}
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			lastErr = ErrCookieExpired
			continue
		}
		if c.Value != "" {
			return credential.Credential{Value: c.Value, Source: credential.BrowserSource(s.Name())}, nil
		}
	}
	return credential.Credential{}, lastErr
}

// Cookie is one record of a Safari binarycookies file.
type Cookie struct {
	Domain  string
	Name    string
	Path    string
	Value   string
	Expires time.Time
}

var (
	ErrBinaryCookies = errors.New("malformed binarycookies file")

	macEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
)

const (
	pageMagic        = 0x00000100
	cookieHeaderSize = 56
)

// ParseBinaryCookies decodes a Safari Cookies.binarycookies file: a
// big-endian header with page sizes, then pages of little-endian cookie
// records whose strings are NUL-terminated at offsets within the record.
func ParseBinaryCookies(data []byte) ([]Cookie, error) {
	if len(data) < 8 || string(data[:4]) != "cook" {
		return nil, fmt.Errorf("%w: bad magic", ErrBinaryCookies)
	}
	numPages := int(binary.BigEndian.Uint32(data[4:8]))
	off := 8
	if numPages < 0 || numPages > (len(data)-off)/4 {
		return nil, fmt.Errorf("%w: page count %d", ErrBinaryCookies, numPages)
	}
	sizes := make([]int, numPages)
	for i := range sizes {
		sizes[i] = int(binary.BigEndian.Uint32(data[off:]))
		off += 4
	}

	var out []Cookie
	for i, size := range sizes {
		if size < 8 || size > len(data)-off {
			return nil, fmt.Errorf("%w: page %d truncated", ErrBinaryCookies, i)
		}
		page, err := parsePage(data[off : off+size])
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		out = append(out, page...)
		off += size
	}
	return out, nil
}

func parsePage(p []byte) ([]Cookie, error) {
	if binary.BigEndian.Uint32(p[:4]) != pageMagic {
		return nil, fmt.Errorf("%w: bad page header", ErrBinaryCookies)
	}
	n := int(binary.LittleEndian.Uint32(p[4:8]))
	if n < 0 || n > (len(p)-8)/4 {
		return nil, fmt.Errorf("%w: cookie count %d", ErrBinaryCookies, n)
	}
	out := make([]Cookie, 0, n)
	for i := 0; i < n; i++ {
		off := int(binary.LittleEndian.Uint32(p[8+4*i:]))
		c, err := parseCookie(p, off)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func parseCookie(p []byte, off int) (Cookie, error) {
	if off < 0 || off > len(p)-cookieHeaderSize {
		return Cookie{}, fmt.Errorf("%w: cookie offset %d", ErrBinaryCookies, off)
	}
	size := int(binary.LittleEndian.Uint32(p[off:]))
	if size < cookieHeaderSize || size > len(p)-off {
		return Cookie{}, fmt.Errorf("%w: cookie size %d", ErrBinaryCookies, size)
	}
	rec := p[off : off+size]

	str := func(at int) (string, error) {
		o := int(binary.LittleEndian.Uint32(rec[at:]))
		if o < cookieHeaderSize || o >= len(rec) {
			return "", fmt.Errorf("%w: string offset %d", ErrBinaryCookies, o)
		}
		end := bytes.IndexByte(rec[o:], 0)
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated string", ErrBinaryCookies)
		}
		return string(rec[o : o+end]), nil
	}

	var c Cookie
	var err error
	if c.Domain, err = str(16); err != nil {
		return Cookie{}, err
	}
	if c.Name, err = str(20); err != nil {
		return Cookie{}, err
	}
	if c.Path, err = str(24); err != nil {
		return Cookie{}, err
	}
	if c.Value, err = str(28); err != nil {
		return Cookie{}, err
	}
	if secs := math.Float64frombits(binary.LittleEndian.Uint64(rec[40:])); secs > 0 && !math.IsInf(secs, 0) {
		c.Expires = macEpoch.Add(time.Duration(secs * float64(time.Second)))
	}
	return c, nil
}
