package storage

import (
	"bytes"
	"context"
	"io"
	"sort"

	"github.com/rs/zerolog"
)

// remote is a durable backend behind the local disk.
type remote interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) bool
	List(ctx context.Context, prefix string) ([]string, error)
}

// TieredStore serves artifacts from local disk and mirrors every write to a
// remote bucket. Reviewed archives therefore survive a lost data directory,
// and a reindex on a fresh host pulls them back down on demand.
type TieredStore struct {
	local  *LocalStore
	remote remote
	log    zerolog.Logger
}

func NewTieredStore(s3 *S3Store, local *LocalStore, log zerolog.Logger) *TieredStore {
	return newTieredStore(local, s3, log)
}

func newTieredStore(local *LocalStore, r remote, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		local:  local,
		remote: r,
		log:    log.With().Str("component", "tiered-store").Logger(),
	}
}

// Save fails only when the local write fails. A failed mirror write is
// logged; the artifact is still usable from disk.
func (s *TieredStore) Save(ctx context.Context, key string, data []byte, contentType string) error {
	if err := s.local.Save(ctx, key, data, contentType); err != nil {
		return err
	}
	if err := s.remote.Save(ctx, key, data, contentType); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("remote mirror write failed, artifact kept on disk")
	}
	return nil
}

func (s *TieredStore) LocalPath(key string) string { return s.local.LocalPath(key) }

// Open prefers disk. A remote hit is written back to disk so audio
// resolution and repeated reindexing stay local.
func (s *TieredStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if rc, err := s.local.Open(ctx, key); err == nil {
		return rc, nil
	}
	rc, err := s.remote.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	if err := s.local.Save(ctx, key, data, ""); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache remote artifact on disk")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *TieredStore) Exists(ctx context.Context, key string) bool {
	return s.local.Exists(ctx, key) || s.remote.Exists(ctx, key)
}

// List is the sorted union of both tiers. If the remote listing fails the
// local keys are returned alone.
func (s *TieredStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.local.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	more, err := s.remote.List(ctx, prefix)
	if err != nil {
		s.log.Warn().Err(err).Str("prefix", prefix).Msg("remote list failed, using local keys only")
		return keys, nil
	}

	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	for _, k := range more {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *TieredStore) Type() string { return "tiered" }
