package vectorindex

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/snarg/interview-kb/internal/kb"
)

// Filter narrows a similarity query.
//
// Speaker labels are local to one recording, so an ExcludedSpeakers entry of
// the form "source_id/speaker" removes that speaker from that recording only.
// A bare label is a display-name filter applied to every recording, which is
// how an interviewer reviewed under the same name everywhere is left out.
type Filter struct {
	ExcludedSpeakers []string
	MinSimilarity    float64 // 0 disables the floor
}

// exclusions splits ExcludedSpeakers into bare labels and source-scoped
// "source_id/speaker" keys, matching kb.KnowledgeChunk.SpeakerKey.
func (f Filter) exclusions() (labels, keys []string) {
	labels, keys = []string{}, []string{}
	for _, e := range f.ExcludedSpeakers {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if i := strings.Index(e, "/"); i > 0 && i < len(e)-1 {
			keys = append(keys, strings.TrimSpace(e[:i])+"/"+strings.TrimSpace(e[i+1:]))
			continue
		}
		labels = append(labels, e)
	}
	return labels, keys
}

// Health is the result of a health check.
type Health struct {
	OK      bool  `json:"ok"`
	Count   int64 `json:"count"`
	Sources int64 `json:"sources"`
}

const upsertChunk = `
INSERT INTO knowledge_chunks (id, source_id, speaker, ts, start_sec, end_sec, text, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector)
ON CONFLICT (id) DO UPDATE SET
	source_id   = EXCLUDED.source_id,
	speaker     = EXCLUDED.speaker,
	ts          = EXCLUDED.ts,
	start_sec   = EXCLUDED.start_sec,
	end_sec     = EXCLUDED.end_sec,
	text        = EXCLUDED.text,
	embedding   = EXCLUDED.embedding,
	ingested_at = now()`

// Upsert writes chunks in one transaction, replacing any row with the same id.
func (s *Store) Upsert(ctx context.Context, chunks []kb.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, c := range chunks {
		if len(c.Embedding) != s.dim {
			return fmt.Errorf("chunk %s: embedding has %d dimensions, index expects %d", c.ID, len(c.Embedding), s.dim)
		}
	}

	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range chunks {
			batch.Queue(upsertChunk, c.ID, c.SourceID, c.Speaker, c.Timestamp, c.Start, c.End, c.Text, FormatVector(c.Embedding))
		}
		br := tx.SendBatch(ctx, batch)
		for i := range chunks {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("upsert chunk %s: %w", chunks[i].ID, err)
			}
		}
		return br.Close()
	})
}

// Query returns up to k chunks nearest to vec by cosine distance, most
// similar first. Similarity is 1 - cosine distance.
func (s *Store) Query(ctx context.Context, vec []float32, k int, f Filter) ([]kb.ScoredChunk, error) {
	if len(vec) != s.dim {
		return nil, fmt.Errorf("query vector has %d dimensions, index expects %d", len(vec), s.dim)
	}
	if k <= 0 {
		return []kb.ScoredChunk{}, nil
	}
	labels, keys := f.exclusions()

	rows, err := s.Pool.Query(ctx, `
		SELECT id, source_id, speaker, ts, start_sec, end_sec, text,
		       1 - (embedding <=> $1::vector) AS similarity
		FROM knowledge_chunks
		WHERE speaker <> ALL($3::text[])
		  AND source_id || '/' || speaker <> ALL($5::text[])
		  AND 1 - (embedding <=> $1::vector) >= $4
		ORDER BY embedding <=> $1::vector
		LIMIT $2`,
		FormatVector(vec), k, labels, f.MinSimilarity, keys,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []kb.ScoredChunk{}
	for rows.Next() {
		var sc kb.ScoredChunk
		c := &sc.Chunk
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Speaker, &c.Timestamp, &c.Start, &c.End, &c.Text, &sc.Score); err != nil {
			return nil, err
		}
		results = append(results, sc)
	}
	return results, rows.Err()
}

// HealthCheck pings the index and counts stored chunks.
func (s *Store) HealthCheck(ctx context.Context) (Health, error) {
	if err := s.Ping(ctx); err != nil {
		return Health{}, err
	}
	var h Health
	err := s.Pool.QueryRow(ctx,
		`SELECT count(*), count(DISTINCT source_id) FROM knowledge_chunks`,
	).Scan(&h.Count, &h.Sources)
	if err != nil {
		return Health{}, err
	}
	h.OK = true
	return h, nil
}

// ChunkCount returns the number of stored chunks.
func (s *Store) ChunkCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM knowledge_chunks`).Scan(&n)
	return n, err
}

// FormatVector renders a pgvector text literal such as "[0.1,0.2]".
func FormatVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
