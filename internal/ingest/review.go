// Package ingest accepts reviewed transcripts from reviewers (watched
// directory, API upload, stored archive) and feeds them to the indexer.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snarg/interview-kb/internal/api"
	"github.com/snarg/interview-kb/internal/indexer"
	"github.com/snarg/interview-kb/internal/kb"
	"github.com/snarg/interview-kb/internal/storage"
	"github.com/snarg/interview-kb/internal/transcript"
)

// Format is the interchange format of a reviewed transcript.
type Format string

const (
	FormatLines Format = "lines" // Speaker | Timestamp | Text
	FormatCSV   Format = "csv"   // Text,Speaker,Timestamp[,Start]
)

// FormatFor picks the format from a file name's extension.
func FormatFor(name string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return FormatLines, true
	case ".csv":
		return FormatCSV, true
	}
	return "", false
}

// ParseFormat parses a format name as accepted by the API and CLI.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatLines, "txt":
		return FormatLines, nil
	}
	return "", fmt.Errorf("unknown reviewed format %q (want csv or lines)", s)
}

// Ingester is the indexer as seen by the review service.
type Ingester interface {
	Ingest(ctx context.Context, batch kb.ReviewedBatch) (indexer.Report, error)
}

// Result is the outcome of ingesting one reviewed transcript.
type Result struct {
	indexer.Report
	Ignored    int    `json:"ignored"` // malformed or empty-text rows dropped while parsing
	ArchiveKey string `json:"archive_key,omitempty"`
}

// EventFunc receives ingestion events.
type EventFunc func(eventType, sourceID string, payload any)

// Service parses reviewed transcripts, ingests them and archives the
// accepted batch so the index can be rebuilt from the artifact store.
type Service struct {
	ix     Ingester
	store  storage.Store
	events EventFunc
	log    zerolog.Logger
}

// NewService creates a Service. store and events may be nil.
func NewService(ix Ingester, store storage.Store, events EventFunc, log zerolog.Logger) *Service {
	return &Service{ix: ix, store: store, events: events, log: log.With().Str("component", "review").Logger()}
}

// Ingest reads a reviewed transcript in the given format and indexes it
// under sourceID.
func (s *Service) Ingest(ctx context.Context, sourceID string, format Format, r io.Reader) (Result, error) {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return Result{}, kb.Errorf(kb.KindIngestion, "ingest", "source id is required")
	}

	lines, ignored, err := readLines(format, r)
	if err != nil {
		return Result{}, &kb.Error{Kind: kb.KindIngestion, Op: "parse", SourceID: sourceID, Err: err}
	}
	if ignored > 0 {
		s.log.Warn().Str("source_id", sourceID).Int("ignored", ignored).Msg("reviewed rows ignored while parsing")
	}

	rep, err := s.ix.Ingest(ctx, transcript.Review(sourceID, lines))
	res := Result{Report: rep, Ignored: ignored}
	if err != nil {
		s.emit("batch.failed", sourceID, map[string]any{"error": err.Error()})
		return res, err
	}

	if s.store != nil {
		key, err := s.archive(ctx, sourceID, lines)
		if err != nil {
			// The index already holds the batch; a missing archive only
			// affects later reindexing.
			s.log.Warn().Err(err).Str("source_id", sourceID).Msg("failed to archive reviewed batch")
		} else {
			res.ArchiveKey = key
		}
	}
	s.emit("batch.ingested", sourceID, res)
	return res, nil
}

// IngestFile ingests a reviewed file from disk. The source id is the file's
// base name without extension.
func (s *Service) IngestFile(ctx context.Context, filePath string) (Result, error) {
	format, ok := FormatFor(filePath)
	if !ok {
		return Result{}, fmt.Errorf("unsupported reviewed file %q", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Result{}, err
	}
	base := filepath.Base(filePath)
	return s.Ingest(ctx, strings.TrimSuffix(base, filepath.Ext(base)), format, bytes.NewReader(data))
}

// ReindexSummary reports a rebuild of the index from archived batches.
type ReindexSummary struct {
	Sources  int      `json:"sources"`
	Indexed  int      `json:"indexed"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Failures []string `json:"failures"`
}

// Reindex re-ingests every archived reviewed batch. Chunk ids are
// deterministic, so this replaces rather than duplicates existing chunks.
func (s *Service) Reindex(ctx context.Context) (ReindexSummary, error) {
	sum := ReindexSummary{Failures: []string{}}
	if s.store == nil {
		return sum, fmt.Errorf("no artifact store configured")
	}
	keys, err := s.store.List(ctx, storage.ReviewedPrefix)
	if err != nil {
		return sum, fmt.Errorf("list reviewed batches: %w", err)
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if path.Ext(key) != ".csv" {
			continue
		}
		sourceID := strings.TrimSuffix(path.Base(key), ".csv")
		rep, err := s.reindexOne(ctx, key, sourceID)
		sum.Sources++
		sum.Indexed += rep.Indexed
		sum.Skipped += rep.Skipped
		sum.Failed += rep.Failed
		if err != nil {
			sum.Failures = append(sum.Failures, sourceID)
			s.log.Warn().Err(err).Str("source_id", sourceID).Msg("reindex failed")
		}
	}
	s.log.Info().
		Int("sources", sum.Sources).
		Int("indexed", sum.Indexed).
		Int("failures", len(sum.Failures)).
		Msg("reindex complete")
	return sum, nil
}

// UploadReviewed implements api.ReviewUploader.
func (s *Service) UploadReviewed(ctx context.Context, sourceID, format string, body io.Reader) (*api.ReviewUploadResult, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, &kb.Error{Kind: kb.KindIngestion, Op: "parse", SourceID: sourceID, Err: err}
	}
	res, err := s.Ingest(ctx, sourceID, f, body)
	if err != nil {
		return nil, err
	}
	return &api.ReviewUploadResult{
		SourceID:   res.SourceID,
		Total:      res.Total,
		Indexed:    res.Indexed,
		Skipped:    res.Skipped,
		Failed:     res.Failed,
		Ignored:    res.Ignored,
		ArchiveKey: res.ArchiveKey,
		ChunkIDs:   res.ChunkIDs,
	}, nil
}

// ReindexAll implements api.Reindexer.
func (s *Service) ReindexAll(ctx context.Context) (*api.ReindexResult, error) {
	sum, err := s.Reindex(ctx)
	if err != nil {
		return nil, err
	}
	r := api.ReindexResult(sum)
	return &r, nil
}

func (s *Service) reindexOne(ctx context.Context, key, sourceID string) (indexer.Report, error) {
	rc, err := s.store.Open(ctx, key)
	if err != nil {
		return indexer.Report{}, err
	}
	defer rc.Close()
	lines, _, err := transcript.ReadCSV(rc)
	if err != nil {
		return indexer.Report{}, err
	}
	return s.ix.Ingest(ctx, transcript.Review(sourceID, lines))
}

func (s *Service) archive(ctx context.Context, sourceID string, lines []transcript.Line) (string, error) {
	var buf bytes.Buffer
	if err := transcript.WriteCSV(&buf, lines); err != nil {
		return "", err
	}
	key := storage.ReviewedKey(sourceID)
	return key, s.store.Save(ctx, key, buf.Bytes(), "text/csv; charset=utf-8")
}

func (s *Service) emit(eventType, sourceID string, payload any) {
	if s.events != nil {
		s.events(eventType, sourceID, payload)
	}
}

func readLines(format Format, r io.Reader) ([]transcript.Line, int, error) {
	switch format {
	case FormatLines:
		lines, st, err := transcript.ParseLines(r)
		return lines, st.Malformed, err
	case FormatCSV:
		lines, st, err := transcript.ReadCSV(r)
		return lines, st.EmptyText, err
	}
	return nil, 0, fmt.Errorf("unknown reviewed format %q", format)
}
