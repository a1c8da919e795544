package cookies_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zsprackett/claude-usage/internal/cookies"
)

// encodeBinaryCookies writes cookies as a single-page binarycookies file.
func encodeBinaryCookies(cs []cookies.Cookie) []byte {
	macEpoch := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

	var records [][]byte
	for _, c := range cs {
		strs := []string{c.Domain, c.Name, c.Path, c.Value}
		rec := make([]byte, 56)
		off := 56
		for i, s := range strs {
			binary.LittleEndian.PutUint32(rec[16+4*i:], uint32(off))
			off += len(s) + 1
		}
		for _, s := range strs {
			rec = append(rec, []byte(s)...)
			rec = append(rec, 0)
		}
		binary.LittleEndian.PutUint32(rec[0:], uint32(len(rec)))
		binary.LittleEndian.PutUint64(rec[40:], math.Float64bits(c.Expires.Sub(macEpoch).Seconds()))
		records = append(records, rec)
	}

	header := 8 + 4*len(records) + 4
	page := make([]byte, header)
	binary.BigEndian.PutUint32(page[0:], 0x00000100)
	binary.LittleEndian.PutUint32(page[4:], uint32(len(records)))
	off := header
	for i, rec := range records {
		binary.LittleEndian.PutUint32(page[8+4*i:], uint32(off))
		off += len(rec)
	}
	for _, rec := range records {
		page = append(page, rec...)
	}

	var buf bytes.Buffer
	buf.WriteString("cook")
	binary.Write(&buf, binary.BigEndian, uint32(1))
	binary.Write(&buf, binary.BigEndian, uint32(len(page)))
	buf.Write(page)
	buf.Write(make([]byte, 8)) // checksum + footer, ignored by the parser
	return buf.Bytes()
}

func darwinEnv(home string) cookies.Env {
	return cookies.Env{Home: home, GOOS: "darwin", Now: func() time.Time { return testNow }}
}

func TestParseBinaryCookies(t *testing.T) {
	expires := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	data := encodeBinaryCookies([]cookies.Cookie{
		{Domain: ".example.com", Name: "sid", Path: "/", Value: "nope", Expires: expires},
		{Domain: ".claude.ai", Name: "sessionKey", Path: "/", Value: "sk-safari", Expires: expires},
	})

	got, err := cookies.ParseBinaryCookies(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(got))
	}
	if got[1].Domain != ".claude.ai" || got[1].Value != "sk-safari" || got[1].Path != "/" {
		t.Errorf("got %+v", got[1])
	}
	if !got[1].Expires.Equal(expires) {
		t.Errorf("expires: got %v want %v", got[1].Expires, expires)
	}
}

func TestParseBinaryCookiesMalformed(t *testing.T) {
	valid := encodeBinaryCookies([]cookies.Cookie{{Domain: "claude.ai", Name: "sessionKey", Value: "v"}})
	cases := map[string][]byte{
		"empty":       nil,
		"bad magic":   []byte("kooc\x00\x00\x00\x01"),
		"huge pages":  []byte("cook\xff\xff\xff\xff"),
		"truncated":   valid[:len(valid)/2],
		"bad offsets": corruptFirstOffset(valid),
	}
	for name, data := range cases {
		if _, err := cookies.ParseBinaryCookies(data); !errors.Is(err, cookies.ErrBinaryCookies) {
			t.Errorf("%s: expected ErrBinaryCookies, got %v", name, err)
		}
	}
}

func corruptFirstOffset(data []byte) []byte {
	out := append([]byte(nil), data...)
	// page starts at 12; first cookie offset at page+8
	binary.LittleEndian.PutUint32(out[12+8:], 0xfffffff0)
	return out
}

func TestSafariExtract(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "Library/Containers/com.apple.Safari/Data/Library/Cookies/Cookies.binarycookies")
	os.MkdirAll(filepath.Dir(path), 0755)
	os.WriteFile(path, encodeBinaryCookies([]cookies.Cookie{
		{Domain: "claude.ai", Name: "sessionKey", Path: "/", Value: "sk-expired", Expires: testNow.Add(-time.Hour)},
		{Domain: ".claude.ai", Name: "sessionKey", Path: "/", Value: "sk-live", Expires: testNow.Add(time.Hour)},
	}), 0644)

	safari := cookies.NewSafari(darwinEnv(home))
	located, ok := safari.Locate()
	if !ok || located != path {
		t.Fatalf("locate: got %q ok=%v", located, ok)
	}
	c, err := safari.Extract(context.Background(), located)
	if err != nil {
		t.Fatal(err)
	}
	if c.Value != "sk-live" {
		t.Errorf("got %q", c.Value)
	}
}

func TestSafariOnlyOnDarwin(t *testing.T) {
	if _, ok := cookies.NewSafari(linuxEnv(t.TempDir(), nil)).Locate(); ok {
		t.Error("safari should not be located on linux")
	}
}
