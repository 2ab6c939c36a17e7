package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/interview-kb/internal/config"
)

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewLocalStore(dir)

	key := ReviewLinesKey("interview-01")
	assert.False(t, s.Exists(ctx, key))
	assert.Equal(t, "", s.LocalPath(key))

	require.NoError(t, s.Save(ctx, key, []byte("Alice | 00:00:00 | hi\n"), "text/plain"))
	assert.True(t, s.Exists(ctx, key))
	assert.Equal(t, filepath.Join(dir, "review", "interview-01.txt"), s.LocalPath(key))

	r, err := s.Open(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	r.Close()
	require.NoError(t, err)
	assert.Equal(t, "Alice | 00:00:00 | hi\n", string(data))

	// Overwrite is atomic and leaves no temp files behind.
	require.NoError(t, s.Save(ctx, key, []byte("replaced"), "text/plain"))
	entries, err := os.ReadDir(filepath.Join(dir, "review"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "local", s.Type())
}

func TestLocalStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	keys, err := s.List(ctx, ReviewedPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys, "missing prefix lists nothing")

	for _, src := range []string{"b", "a"} {
		require.NoError(t, s.Save(ctx, ReviewedKey(src), []byte("Text\n"), "text/csv"))
	}
	require.NoError(t, s.Save(ctx, ReviewLinesKey("a"), []byte("x"), "text/plain"))

	keys, err = s.List(ctx, ReviewedPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"reviewed/a.csv", "reviewed/b.csv"}, keys)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "review/int-01.txt", ReviewLinesKey("int-01"))
	assert.Equal(t, "review/int-01.csv", ReviewCSVKey("int-01"))
	assert.Equal(t, "reviewed/int-01.csv", ReviewedKey(" int-01 "))
	assert.Equal(t, "audio/int-01.wav", AudioKey("int-01", ".wav"))
	assert.Equal(t, "reviewed/_etc_passwd.csv", ReviewedKey("/etc/passwd"))
	assert.NotContains(t, ReviewedKey("../../x"), "..")
}

func TestNew_LocalWithoutBucket(t *testing.T) {
	s, err := New(config.S3Config{}, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "local", s.Type())
}
