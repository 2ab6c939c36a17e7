// Package indexer turns reviewed utterances into embedded knowledge chunks and
// upserts them into the vector index.
package indexer

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/snarg/interview-kb/internal/kb"
	"github.com/snarg/interview-kb/internal/llm"
	"github.com/snarg/interview-kb/internal/metrics"
)

// ResetConfirmation must be passed verbatim to ResetSchema.
const ResetConfirmation = "delete-all-chunks"

// DefaultBatchSize bounds the number of chunks per upsert.
const DefaultBatchSize = 100

// ErrNotConfirmed is returned by ResetSchema without the confirmation phrase.
var ErrNotConfirmed = errors.New("schema reset not confirmed")

// chunkNamespace scopes chunk ids; changing it re-keys every stored chunk.
var chunkNamespace = uuid.MustParse("6f1c7a52-3d0e-4c1b-9a57-0e3f6d8b2c41")

// Index is the vector store the indexer writes to.
type Index interface {
	Upsert(ctx context.Context, chunks []kb.KnowledgeChunk) error
	ResetSchema(ctx context.Context) error
}

// Options configures an Indexer.
type Options struct {
	BatchSize int // chunks per upsert, DefaultBatchSize when <= 0
	Workers   int // concurrent batches, 1 when <= 0
	Log       zerolog.Logger
}

// Indexer embeds reviewed utterances and upserts them in fixed-size batches.
type Indexer struct {
	embedder llm.Embedder
	index    Index
	opts     Options
	log      zerolog.Logger
}

// Skip records one utterance that was not indexed.
type Skip struct {
	Speaker   string  `json:"speaker"`
	Timestamp string  `json:"timestamp"`
	Start     float64 `json:"start"`
	Reason    string  `json:"reason"`
}

// Report summarizes one Ingest call. Indexed + Skipped + Failed == Total.
type Report struct {
	SourceID string   `json:"source_id"`
	Total    int      `json:"total"`
	Indexed  int      `json:"indexed"`
	Skipped  int      `json:"skipped"` // blank text or embedding failure
	Failed   int      `json:"failed"`  // embedded but the batch upsert failed
	Batches  int      `json:"batches"`
	Skips    []Skip   `json:"skips,omitempty"`
	ChunkIDs []string `json:"chunk_ids"`
}

// New creates an Indexer.
func New(embedder llm.Embedder, index Index, opts Options) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Indexer{embedder: embedder, index: index, opts: opts, log: opts.Log}
}

// ChunkID derives the deterministic id of the chunk for one reviewed
// utterance. The same (source, speaker, start) always yields the same id, so
// re-ingesting a batch replaces rather than duplicates.
func ChunkID(sourceID, speaker string, start float64) string {
	key := sourceID + "\x00" + speaker + "\x00" + strconv.FormatFloat(start, 'f', 3, 64)
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

// Ingest embeds and upserts every utterance in the batch. Per-utterance
// failures are logged, skipped and counted; an error is returned only when
// the batch is unusable, the context ends, or nothing could be stored.
func (ix *Indexer) Ingest(ctx context.Context, batch kb.ReviewedBatch) (Report, error) {
	sourceID := strings.TrimSpace(batch.SourceID)
	if sourceID == "" {
		return Report{}, kb.Errorf(kb.KindIngestion, "ingest", "source id is required")
	}
	log := ix.log.With().Str("source_id", sourceID).Logger()

	rep := Report{SourceID: sourceID, Total: len(batch.Utterances), ChunkIDs: []string{}}
	chunks, skips := buildChunks(sourceID, batch.Utterances)
	for _, s := range skips {
		ix.recordSkip(&rep, log, s)
	}
	if len(chunks) == 0 {
		return rep, nil
	}

	var (
		mu  sync.Mutex
		g   errgroup.Group
		err error
	)
	g.SetLimit(ix.opts.Workers)
	for lo := 0; lo < len(chunks); lo += ix.opts.BatchSize {
		part := chunks[lo:min(lo+ix.opts.BatchSize, len(chunks))]
		rep.Batches++
		g.Go(func() error {
			ids, skipped, upsertErr := ix.ingestBatch(ctx, log, part)
			mu.Lock()
			defer mu.Unlock()
			for _, s := range skipped {
				ix.recordSkip(&rep, log, s)
			}
			if upsertErr != nil {
				rep.Failed += len(part) - len(skipped)
				metrics.ChunksIndexedTotal.WithLabelValues("failed").Add(float64(len(part) - len(skipped)))
				log.Warn().Err(upsertErr).Int("chunks", len(part)-len(skipped)).Msg("batch upsert failed")
				err = errors.Join(err, upsertErr)
				return nil
			}
			rep.Indexed += len(ids)
			rep.ChunkIDs = append(rep.ChunkIDs, ids...)
			metrics.ChunksIndexedTotal.WithLabelValues("indexed").Add(float64(len(ids)))
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(rep.ChunkIDs)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return rep, &kb.Error{Kind: kb.KindIngestion, Op: "ingest", SourceID: sourceID, Err: ctxErr}
	}
	if rep.Indexed == 0 && rep.Failed > 0 {
		return rep, &kb.Error{Kind: kb.KindIngestion, Op: "upsert", SourceID: sourceID, Err: err}
	}

	log.Info().
		Int("total", rep.Total).
		Int("indexed", rep.Indexed).
		Int("skipped", rep.Skipped).
		Int("failed", rep.Failed).
		Int("batches", rep.Batches).
		Msg("ingestion complete")
	return rep, nil
}

// ingestBatch embeds each chunk and upserts those that succeeded.
func (ix *Indexer) ingestBatch(ctx context.Context, log zerolog.Logger, part []kb.KnowledgeChunk) ([]string, []Skip, error) {
	ready := make([]kb.KnowledgeChunk, 0, len(part))
	var skipped []Skip
	for _, c := range part {
		if ctx.Err() != nil {
			skipped = append(skipped, skipFor(c, "cancelled"))
			continue
		}
		vec, err := ix.embedder.Embed(ctx, c.Text)
		if err != nil {
			log.Debug().Err(err).Str("chunk_id", c.ID).Msg("embedding failed")
			skipped = append(skipped, skipFor(c, "embedding: "+err.Error()))
			continue
		}
		c.Embedding = vec
		ready = append(ready, c)
	}
	if len(ready) == 0 {
		return nil, skipped, nil
	}
	if err := ix.index.Upsert(ctx, ready); err != nil {
		return nil, skipped, err
	}
	ids := make([]string, len(ready))
	for i, c := range ready {
		ids[i] = c.ID
	}
	return ids, skipped, nil
}

func (ix *Indexer) recordSkip(rep *Report, log zerolog.Logger, s Skip) {
	rep.Skipped++
	rep.Skips = append(rep.Skips, s)
	metrics.ChunksIndexedTotal.WithLabelValues("skipped").Inc()
	log.Warn().
		Str("speaker", s.Speaker).
		Str("timestamp", s.Timestamp).
		Float64("start", s.Start).
		Str("reason", s.Reason).
		Msg("utterance skipped")
}

// ResetSchema drops and recreates the index. confirm must equal
// ResetConfirmation; anything else leaves the index untouched.
func (ix *Indexer) ResetSchema(ctx context.Context, confirm string) error {
	if confirm != ResetConfirmation {
		return ErrNotConfirmed
	}
	ix.log.Warn().Msg("resetting vector index schema")
	return ix.index.ResetSchema(ctx)
}

// buildChunks converts reviewed utterances to chunks ordered by start. Each
// chunk's window ends where the next utterance of the recording starts.
// Utterances that would share an id get an occurrence suffix so that none
// overwrites another within one batch.
func buildChunks(sourceID string, utts []kb.ReviewedUtterance) ([]kb.KnowledgeChunk, []Skip) {
	sorted := make([]kb.ReviewedUtterance, len(utts))
	copy(sorted, utts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var skips []Skip
	chunks := make([]kb.KnowledgeChunk, 0, len(sorted))
	seen := make(map[string]int, len(sorted))
	for i, u := range sorted {
		text := strings.TrimSpace(u.Text)
		speaker := strings.TrimSpace(u.Speaker)
		if text == "" {
			skips = append(skips, Skip{Speaker: speaker, Timestamp: u.Timestamp, Start: u.Start, Reason: "empty text"})
			continue
		}
		end := u.Start
		for _, next := range sorted[i+1:] {
			if next.Start > u.Start {
				end = next.Start
				break
			}
		}

		id := ChunkID(sourceID, speaker, u.Start)
		if n := seen[id]; n > 0 {
			seen[id] = n + 1
			id = uuid.NewSHA1(chunkNamespace, []byte(id+"#"+strconv.Itoa(n))).String()
		} else {
			seen[id] = 1
		}

		chunks = append(chunks, kb.KnowledgeChunk{
			ID:        id,
			Text:      text,
			Speaker:   speaker,
			Timestamp: u.Timestamp,
			SourceID:  sourceID,
			Start:     u.Start,
			End:       end,
		})
	}
	return chunks, skips
}

func skipFor(c kb.KnowledgeChunk, reason string) Skip {
	return Skip{Speaker: c.Speaker, Timestamp: c.Timestamp, Start: c.Start, Reason: reason}
}
