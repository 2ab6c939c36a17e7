// Package query retrieves, deduplicates and budgets the context chunks for a
// question.
package query

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/snarg/interview-kb/internal/kb"
	"github.com/snarg/interview-kb/internal/llm"
	"github.com/snarg/interview-kb/internal/metrics"
	"github.com/snarg/interview-kb/internal/retry"
	"github.com/snarg/interview-kb/internal/vectorindex"
)

const (
	DefaultTopK            = 20
	DefaultMaxContextChars = 4000
)

var (
	// ErrEmptyQuestion is returned for a blank question. It is a caller error,
	// not a retrieval failure.
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrNoResults is wrapped in the retrieval error for a query that matched
	// nothing, including an empty corpus.
	ErrNoResults = errors.New("no matching chunks")
)

// Index is the nearest-neighbour lookup the engine queries.
type Index interface {
	Query(ctx context.Context, vec []float32, k int, f vectorindex.Filter) ([]kb.ScoredChunk, error)
}

// Options configures an Engine.
type Options struct {
	TopK             int
	MaxContextChars  int
	MinSimilarity    float64
	ExcludedSpeakers []string
	// IndexRetry governs index lookups. Retrieval retries at most once.
	IndexRetry retry.Policy
	Log        zerolog.Logger
}

// Request overrides the engine defaults for a single query. Zero fields
// fall back to Options.
type Request struct {
	Question         string   `json:"question"`
	TopK             int      `json:"top_k,omitempty"`
	ExcludedSpeakers []string `json:"excluded_speakers,omitempty"`
	MinSimilarity    *float64 `json:"min_similarity,omitempty"`
}

// Engine embeds questions and assembles ranked context. It holds no per-query
// state and is safe for concurrent use.
type Engine struct {
	embedder llm.Embedder
	index    Index
	opts     Options
	log      zerolog.Logger
}

// New creates an Engine. embedder must be the one used at ingestion.
func New(embedder llm.Embedder, index Index, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = DefaultMaxContextChars
	}
	if opts.IndexRetry.MaxRetries > 1 {
		opts.IndexRetry.MaxRetries = 1
	}
	return &Engine{embedder: embedder, index: index, opts: opts, log: opts.Log}
}

// Retrieve returns the ranked, deduplicated context for question using the
// engine defaults.
func (e *Engine) Retrieve(ctx context.Context, question string) (kb.QueryResult, error) {
	return e.Search(ctx, Request{Question: question})
}

// Search is Retrieve with per-request filters.
func (e *Engine) Search(ctx context.Context, req Request) (kb.QueryResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return kb.QueryResult{}, ErrEmptyQuestion
	}
	k := e.opts.TopK
	if req.TopK > 0 {
		k = req.TopK
	}
	filter := vectorindex.Filter{ExcludedSpeakers: e.opts.ExcludedSpeakers, MinSimilarity: e.opts.MinSimilarity}
	if req.ExcludedSpeakers != nil {
		filter.ExcludedSpeakers = req.ExcludedSpeakers
	}
	if req.MinSimilarity != nil {
		filter.MinSimilarity = *req.MinSimilarity
	}

	start := time.Now()
	vec, err := e.embedder.Embed(ctx, question)
	metrics.ObserveStage("embed", start)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("retrieval_error").Inc()
		return kb.QueryResult{}, &kb.Error{Kind: kb.KindRetrieval, Op: "embed question", Err: err}
	}

	start = time.Now()
	hits, err := retry.DoValue(ctx, e.opts.IndexRetry, func(ctx context.Context) ([]kb.ScoredChunk, error) {
		return e.index.Query(ctx, vec, k, filter)
	})
	metrics.ObserveStage("retrieve", start)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("retrieval_error").Inc()
		return kb.QueryResult{}, &kb.Error{Kind: kb.KindRetrieval, Op: "query index", Err: err}
	}
	if len(hits) == 0 {
		metrics.QueriesTotal.WithLabelValues("no_results").Inc()
		return kb.QueryResult{}, &kb.Error{Kind: kb.KindRetrieval, Op: "query index", Err: ErrNoResults}
	}

	ranked := Dedup(hits)
	kept := Budget(ranked, e.opts.MaxContextChars)

	e.log.Debug().
		Int("hits", len(hits)).
		Int("deduped", len(ranked)).
		Int("kept", len(kept)).
		Msg("context assembled")
	return kb.QueryResult{Question: question, Chunks: kept}, nil
}

// Dedup sorts chunks by score, highest first, and drops any chunk that
// duplicates a higher-scoring one. Two chunks are duplicates when they come
// from the same source and either their time windows overlap or their
// normalized text is identical.
func Dedup(chunks []kb.ScoredChunk) []kb.ScoredChunk {
	sorted := make([]kb.ScoredChunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	kept := make([]kb.ScoredChunk, 0, len(sorted))
	for _, c := range sorted {
		dup := false
		for _, k := range kept {
			if duplicates(k.Chunk, c.Chunk) {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, c)
		}
	}
	return kept
}

func duplicates(a, b kb.KnowledgeChunk) bool {
	if a.SourceID != b.SourceID {
		return false
	}
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	if windowsOverlap(a, b) {
		return true
	}
	return normalize(a.Text) == normalize(b.Text)
}

// windowsOverlap treats a chunk with End <= Start as the instant Start.
func windowsOverlap(a, b kb.KnowledgeChunk) bool {
	aEnd, bEnd := max(a.End, a.Start), max(b.End, b.Start)
	if a.Start == aEnd || b.Start == bEnd {
		return a.Start == b.Start ||
			(a.Start > b.Start && a.Start < bEnd) ||
			(b.Start > a.Start && b.Start < aEnd)
	}
	return a.Start < bEnd && b.Start < aEnd
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Budget keeps the longest prefix of ranked whose rendered context fits in
// maxChars characters. The top chunk is always kept so that a non-empty
// result never becomes empty.
func Budget(ranked []kb.ScoredChunk, maxChars int) []kb.ScoredChunk {
	if len(ranked) == 0 {
		return []kb.ScoredChunk{}
	}
	used := 0
	for i, c := range ranked {
		n := utf8.RuneCountInString(ContextLine(c.Chunk))
		if i > 0 {
			n++ // newline separator
		}
		if i > 0 && used+n > maxChars {
			return ranked[:i]
		}
		used += n
	}
	return ranked
}

// ContextLine renders one chunk as it appears in the prompt context.
func ContextLine(c kb.KnowledgeChunk) string {
	return c.Citation().Tag() + " " + strings.Join(strings.Fields(c.Text), " ")
}

// FormatContext renders chunks one per line in rank order.
func FormatContext(chunks []kb.ScoredChunk) string {
	lines := make([]string, len(chunks))
	for i, c := range chunks {
		lines[i] = ContextLine(c.Chunk)
	}
	return strings.Join(lines, "\n")
}
