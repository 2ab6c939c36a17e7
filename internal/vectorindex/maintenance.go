package vectorindex

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// SourceStat summarizes the chunks indexed for one source.
type SourceStat struct {
	SourceID     string    `json:"source_id"`
	Chunks       int64     `json:"chunks"`
	Speakers     int64     `json:"speakers"`
	LastIngested time.Time `json:"last_ingested"`
}

// SourceStats lists per-source chunk counts, largest first.
func (s *Store) SourceStats(ctx context.Context) ([]SourceStat, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT source_id, count(*), count(DISTINCT speaker), max(ingested_at)
		FROM knowledge_chunks
		GROUP BY source_id
		ORDER BY count(*) DESC, source_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SourceStat
	for rows.Next() {
		var st SourceStat
		if err := rows.Scan(&st.SourceID, &st.Chunks, &st.Speakers, &st.LastIngested); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// StaleChunk is an older copy of an utterance that was re-ingested under a
// different id, usually after a reviewer corrected its timestamp.
type StaleChunk struct {
	ID       string  `json:"id"`
	KeepID   string  `json:"keep_id"`
	SourceID string  `json:"source_id"`
	Speaker  string  `json:"speaker"`
	Start    float64 `json:"start"`
}

// StaleChunks finds chunks sharing source, speaker and text with a more
// recently ingested chunk. The newest copy is kept.
func (s *Store) StaleChunks(ctx context.Context) ([]StaleChunk, error) {
	rows, err := s.Pool.Query(ctx, `
		WITH ranked AS (
			SELECT id, source_id, speaker, start_sec,
				first_value(id) OVER w AS keep_id,
				row_number() OVER w AS rn
			FROM knowledge_chunks
			WINDOW w AS (PARTITION BY source_id, speaker, text ORDER BY ingested_at DESC, id)
		)
		SELECT id, keep_id, source_id, speaker, start_sec
		FROM ranked
		WHERE rn > 1
		ORDER BY source_id, start_sec`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StaleChunk
	for rows.Next() {
		var c StaleChunk
		if err := rows.Scan(&c.ID, &c.KeepID, &c.SourceID, &c.Speaker, &c.Start); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteChunks removes the given ids in one transaction and returns the
// number of rows deleted.
func (s *Store) DeleteChunks(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int64
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM knowledge_chunks WHERE id = ANY($1)`, ids)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}
