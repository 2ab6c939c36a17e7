package api

import (
	"context"
	"io"

	"github.com/snarg/interview-kb/internal/kb"
	"github.com/snarg/interview-kb/internal/pipeline"
	"github.com/snarg/interview-kb/internal/query"
	"github.com/snarg/interview-kb/internal/vectorindex"
)

// The API owns the interfaces it consumes; the ingest, pipeline and query
// packages implement them without importing this package's handlers.

// LiveDataSource streams processing and ingestion events.
type LiveDataSource interface {
	// Subscribe returns a channel that receives SSE events matching the filter,
	// and a cancel function to unsubscribe.
	Subscribe(filter EventFilter) (<-chan SSEEvent, func())

	// ReplaySince returns buffered events since the given event ID (for Last-Event-ID recovery).
	ReplaySince(lastEventID string, filter EventFilter) []SSEEvent
}

// Retriever assembles ranked context for a question.
type Retriever interface {
	Search(ctx context.Context, req query.Request) (kb.QueryResult, error)
}

// Synthesizer answers a question from retrieved context.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, res kb.QueryResult) (kb.SynthesizedAnswer, error)
}

// ReviewUploader ingests a reviewed transcript body.
type ReviewUploader interface {
	UploadReviewed(ctx context.Context, sourceID, format string, body io.Reader) (*ReviewUploadResult, error)
}

// Reindexer rebuilds the index from archived reviewed batches.
type Reindexer interface {
	ReindexAll(ctx context.Context) (*ReindexResult, error)
}

// SchemaResetter drops and recreates the vector index.
type SchemaResetter interface {
	ResetSchema(ctx context.Context, confirm string) error
}

// RecordingQueue accepts recordings for asynchronous processing.
type RecordingQueue interface {
	Enqueue(rec pipeline.Recording) bool
	Stats() pipeline.QueueStats
}

// IndexHealth reports vector index reachability and size.
type IndexHealth interface {
	HealthCheck(ctx context.Context) (vectorindex.Health, error)
}

// BrokerStatus reports the MQTT connection state.
type BrokerStatus interface {
	IsConnected() bool
}

// ReviewUploadResult is returned after a reviewed transcript is ingested.
type ReviewUploadResult struct {
	SourceID   string   `json:"source_id"`
	Total      int      `json:"total"`
	Indexed    int      `json:"indexed"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	Ignored    int      `json:"ignored"`
	ArchiveKey string   `json:"archive_key,omitempty"`
	ChunkIDs   []string `json:"chunk_ids"`
}

// ReindexResult summarizes a rebuild from archived batches.
type ReindexResult struct {
	Sources  int      `json:"sources"`
	Indexed  int      `json:"indexed"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Failures []string `json:"failures"`
}

// WatcherStatusData represents the status of the review drop-directory watcher.
type WatcherStatusData struct {
	Status         string `json:"status"` // "backfilling", "watching", "stopped"
	WatchDir       string `json:"watch_dir"`
	FilesProcessed int64  `json:"files_processed"`
	FilesSkipped   int64  `json:"files_skipped"`
	FilesFailed    int64  `json:"files_failed"`
}

// EventFilter specifies which events an SSE subscriber wants to receive.
type EventFilter struct {
	Types   []string
	Sources []string
}

// SSEEvent represents a server-sent event ready for transmission.
type SSEEvent struct {
	ID        string `json:"event_id"`
	Type      string `json:"event_type"`
	SubType   string `json:"sub_type,omitempty"`
	Timestamp string `json:"timestamp"`
	SourceID  string `json:"source_id,omitempty"`
	Data      []byte `json:"-"` // pre-serialized JSON payload
}
