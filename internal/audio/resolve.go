// Package audio locates recording audio on disk or in the artifact store.
package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/snarg/interview-kb/internal/storage"
)

// SourceID derives a recording's source id from its file name: the base name
// without extension.
func SourceID(audioPath string) string {
	base := filepath.Base(filepath.FromSlash(audioPath))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Resolve returns a local path for ref, downloading it from the store when
// necessary. The cleanup function removes any temporary copy.
// Priority: 1) ref as a path on disk  2) ref as a store key available locally
// 3) ref as a store key fetched into a temp file
func Resolve(ctx context.Context, store storage.Store, ref string) (string, func(), error) {
	noop := func() {}
	if ref == "" {
		return "", noop, fmt.Errorf("empty audio reference")
	}

	// 1) Plain file path
	if _, err := os.Stat(ref); err == nil {
		return ref, noop, nil
	}
	if store == nil {
		return "", noop, fmt.Errorf("audio file not found: %q", ref)
	}

	key := path.Clean(filepath.ToSlash(ref))

	// 2) Store key with a local copy
	if p := store.LocalPath(key); p != "" {
		return p, noop, nil
	}

	// 3) Remote-only object
	if !store.Exists(ctx, key) {
		return "", noop, fmt.Errorf("audio file not found: %q", ref)
	}
	r, err := store.Open(ctx, key)
	if err != nil {
		return "", noop, fmt.Errorf("open %s: %w", key, err)
	}
	defer r.Close()

	tmp, err := os.CreateTemp("", "interview-kb-audio-*"+path.Ext(key))
	if err != nil {
		return "", noop, fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", noop, fmt.Errorf("download %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", noop, fmt.Errorf("close temp: %w", err)
	}
	return tmpPath, func() { os.Remove(tmpPath) }, nil
}
