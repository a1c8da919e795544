package jsonfile_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zsprackett/claude-usage/internal/jsonfile"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestReadMissingFile(t *testing.T) {
	var r record
	found, err := jsonfile.Read(filepath.Join(t.TempDir(), "nope.json"), &r)
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if found {
		t.Error("expected found=false")
	}
}

func TestWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.json")
	if err := jsonfile.Write(path, record{Name: "a", Count: 3}, 0600); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm: got %v want 0600", info.Mode().Perm())
	}

	var got record
	found, err := jsonfile.Read(path, &got)
	if err != nil || !found {
		t.Fatalf("read: found=%v err=%v", found, err)
	}
	if got.Name != "a" || got.Count != 3 {
		t.Errorf("got %+v", got)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	for i := 0; i < 3; i++ {
		if err := jsonfile.Write(path, record{Count: i}, 0644); err != nil {
			t.Fatal(err)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the target file, got %d entries", len(entries))
	}
}

func TestReadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json"), 0644)

	var r record
	_, err := jsonfile.Read(path, &r)
	if err == nil {
		t.Fatal("expected error for malformed file")
	}
	var se *jsonfile.StorageError
	if !errors.As(err, &se) || se.Kind != jsonfile.Unreadable {
		t.Errorf("expected unreadable StorageError, got %v", err)
	}
	if !errors.Is(err, jsonfile.ErrStorage) {
		t.Error("expected errors.Is(err, ErrStorage)")
	}
}

func TestWriteUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	os.WriteFile(blocker, []byte("x"), 0644)

	// parent "directory" is a regular file
	err := jsonfile.Write(filepath.Join(blocker, "state.json"), record{}, 0644)
	var se *jsonfile.StorageError
	if !errors.As(err, &se) || se.Kind != jsonfile.Unwritable {
		t.Errorf("expected unwritable StorageError, got %v", err)
	}
}

func TestRemoveMissingIsNoop(t *testing.T) {
	if err := jsonfile.Remove(filepath.Join(t.TempDir(), "missing.json")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
