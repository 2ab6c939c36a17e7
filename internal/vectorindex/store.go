// Package vectorindex stores knowledge chunks and their embeddings in
// PostgreSQL with the pgvector extension.
package vectorindex

import (
	"context"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Store is the pgvector-backed chunk index. It is safe for concurrent use;
// concurrent upserts of the same id resolve last-write-wins.
type Store struct {
	Pool   *pgxpool.Pool
	dim    int
	schema []byte
	log    zerolog.Logger
}

// Options configures Connect.
type Options struct {
	DatabaseURL string
	Dimension   int
	SchemaSQL   []byte // rendered with Dimension by InitSchema and ResetSchema
	Log         zerolog.Logger
}

func Connect(ctx context.Context, opts Options) (*Store, error) {
	log := opts.Log
	cfg, err := pgxpool.ParseConfig(opts.DatabaseURL)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("url", maskDSN(opts.DatabaseURL)).
		Int32("max_conns", cfg.MaxConns).
		Int("dimension", opts.Dimension).
		Msg("vector index connected")

	return &Store{Pool: pool, dim: opts.Dimension, schema: opts.SchemaSQL, log: log}, nil
}

// Dimension returns the embedding length the schema was created for.
func (s *Store) Dimension() int { return s.dim }

// Ping checks connectivity with a short deadline.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}

func (s *Store) Close() {
	s.log.Info().Msg("closing vector index pool")
	s.Pool.Close()
}
