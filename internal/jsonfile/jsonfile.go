// Package jsonfile reads and writes the small JSON state files the agent keeps
// between runs. Writes replace the target atomically so a concurrent reader
// never observes a partially written file.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moby/sys/atomicwriter"
)

// StorageErrorKind classifies a persistence failure.
type StorageErrorKind string

const (
	Unwritable StorageErrorKind = "unwritable"
	Unreadable StorageErrorKind = "unreadable"
)

// ErrStorage matches every *StorageError via errors.Is.
var ErrStorage = errors.New("storage error")

// StorageError reports a failed read or write of a persisted file.
type StorageError struct {
	Kind StorageErrorKind
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Read decodes the JSON file at path into v. found is false when the file does
// not exist; that case is not an error.
func Read(path string, v any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &StorageError{Kind: Unreadable, Path: path, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, &StorageError{Kind: Unreadable, Path: path, Err: fmt.Errorf("decode: %w", err)}
	}
	return true, nil
}

// Write encodes v as indented JSON and atomically replaces path with it,
// creating the parent directory when needed.
func Write(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &StorageError{Kind: Unwritable, Path: path, Err: fmt.Errorf("encode: %w", err)}
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return &StorageError{Kind: Unwritable, Path: path, Err: err}
	}
	if err := atomicwriter.WriteFile(path, data, perm); err != nil {
		return &StorageError{Kind: Unwritable, Path: path, Err: err}
	}
	return nil
}

// Remove deletes path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StorageError{Kind: Unwritable, Path: path, Err: err}
	}
	return nil
}
