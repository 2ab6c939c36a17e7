package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/interview-kb/internal/config"
)

// Store abstracts artifact storage backends: uploaded audio, review exports
// and the reviewed batches received back from reviewers.
type Store interface {
	// Save stores data under key, replacing any existing object.
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// LocalPath returns the local filesystem path if the object exists on disk.
	// Returns "" if not available locally.
	LocalPath(key string) string

	// Open returns a reader for the object.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an object exists in any backend.
	Exists(ctx context.Context, key string) bool

	// List returns the keys under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// Artifact key layout, relative to the store root.
const (
	AudioPrefix    = "audio"
	ReviewPrefix   = "review"
	ReviewedPrefix = "reviewed"
)

// ReviewLinesKey is where a recording's "Speaker | Timestamp | Text" export lives.
func ReviewLinesKey(sourceID string) string {
	return path.Join(ReviewPrefix, safeName(sourceID)+".txt")
}

// ReviewCSVKey is where a recording's Text,Speaker,Timestamp export lives.
func ReviewCSVKey(sourceID string) string {
	return path.Join(ReviewPrefix, safeName(sourceID)+".csv")
}

// ReviewedKey is where an accepted reviewed batch is archived.
func ReviewedKey(sourceID string) string {
	return path.Join(ReviewedPrefix, safeName(sourceID)+".csv")
}

// AudioKey is where uploaded audio for a recording is kept.
func AudioKey(sourceID, ext string) string {
	return path.Join(AudioPrefix, safeName(sourceID)+ext)
}

// safeName keeps a source id from escaping its prefix.
func safeName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}

// New creates a Store based on config. Without a bucket the store is local
// only; with one, local disk stays primary and S3 holds a durable copy.
// Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, dir string, log zerolog.Logger) (Store, error) {
	if !cfg.Enabled() {
		return NewLocalStore(dir), nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	return NewTieredStore(s3store, NewLocalStore(dir), log), nil
}
