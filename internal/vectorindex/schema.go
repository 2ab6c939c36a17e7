package vectorindex

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// dimensionToken is replaced with the configured embedding length when the
// schema is rendered.
const dimensionToken = "{{dimension}}"

// RenderSchema substitutes the embedding dimension into schema SQL.
func RenderSchema(schemaSQL []byte, dim int) (string, error) {
	if dim <= 0 {
		return "", fmt.Errorf("invalid embedding dimension %d", dim)
	}
	sql := string(schemaSQL)
	if !strings.Contains(sql, dimensionToken) {
		return "", fmt.Errorf("schema has no %s placeholder", dimensionToken)
	}
	return strings.ReplaceAll(sql, dimensionToken, strconv.Itoa(dim)), nil
}

// InitSchema applies the schema on a fresh database. It checks whether the
// knowledge_chunks table exists; if it does, this is a no-op apart from
// pending migrations.
func (s *Store) InitSchema(ctx context.Context) error {
	var exists bool
	err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'knowledge_chunks')`,
	).Scan(&exists)
	if err != nil {
		return err
	}

	if !exists {
		sql, err := RenderSchema(s.schema, s.dim)
		if err != nil {
			return err
		}
		s.log.Info().Int("dimension", s.dim).Msg("fresh index detected, applying schema")
		if _, err := s.Pool.Exec(ctx, sql); err != nil {
			return err
		}
		s.log.Info().Msg("schema applied successfully")
	}
	return s.Migrate(ctx)
}

// ResetSchema drops every stored chunk and recreates the schema. It is
// destructive; callers gate it behind an explicit confirmation.
func (s *Store) ResetSchema(ctx context.Context) error {
	sql, err := RenderSchema(s.schema, s.dim)
	if err != nil {
		return err
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DROP TABLE IF EXISTS knowledge_chunks`); err != nil {
		return fmt.Errorf("drop knowledge_chunks: %w", err)
	}
	if _, err := tx.Exec(ctx, sql); err != nil {
		return fmt.Errorf("recreate schema: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Warn().Msg("vector index schema reset, all chunks removed")
	return nil
}
