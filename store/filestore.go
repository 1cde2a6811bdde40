package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/creachadair/atomicfile"
)

// File is a one-file-per-key KV backed by a directory on disk, using
// atomic renames for single-key write atomicity (spec.md §4.4, §5: "at
// most one Encrypted Record Blob may be partially written"). It is a
// reference implementation for local or demo use, not the production
// backing store spec.md places out of scope.
type File struct {
	dir string
	mu  sync.Mutex
}

// NewFile creates a File store rooted at dir. The directory is created by
// Open if it does not already exist.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

var _ KV = (*File)(nil)

func (f *File) Open(context.Context) error {
	return os.MkdirAll(f.dir, 0o700)
}

func (f *File) Close(context.Context) error { return nil }

// keyPath maps a logical key to a filesystem path. Keys are base64url
// encoded so that keys containing "/" (e.g. "items/<uuid>") do not create
// unintended subdirectories.
func (f *File) keyPath(key string) string {
	return filepath.Join(f.dir, base64.RawURLEncoding.EncodeToString([]byte(key)))
}

func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, err := os.ReadFile(f.keyPath(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %q: %w", key, err)
	}
	return blob, nil
}

func (f *File) Put(_ context.Context, key string, blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := atomicfile.Tx(f.keyPath(key), 0o600, func(w *atomicfile.File) error {
		_, err := w.Write(blob)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: write %q: %w", key, err)
	}
	return nil
}

func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.keyPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

func (f *File) Iterate(_ context.Context, prefix string) iter.Seq2[string, []byte] {
	f.mu.Lock()
	entries, err := os.ReadDir(f.dir)
	var pairs []struct {
		key  string
		blob []byte
	}
	if err == nil {
		for _, ent := range entries {
			if ent.IsDir() {
				continue
			}
			raw, derr := base64.RawURLEncoding.DecodeString(ent.Name())
			if derr != nil {
				continue
			}
			key := string(raw)
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			blob, rerr := os.ReadFile(filepath.Join(f.dir, ent.Name()))
			if rerr != nil {
				continue
			}
			pairs = append(pairs, struct {
				key  string
				blob []byte
			}{key, blob})
		}
	}
	f.mu.Unlock()

	return func(yield func(string, []byte) bool) {
		for _, p := range pairs {
			if !yield(p.key, p.blob) {
				return
			}
		}
	}
}

func (f *File) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	for _, ent := range entries {
		if err := os.Remove(filepath.Join(f.dir, ent.Name())); err != nil {
			return fmt.Errorf("store: clear: %w", err)
		}
	}
	return nil
}
