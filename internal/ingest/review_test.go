package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/interview-kb/internal/indexer"
	"github.com/snarg/interview-kb/internal/kb"
	"github.com/snarg/interview-kb/internal/storage"
)

// recordingIngester remembers every batch it was handed.
type recordingIngester struct {
	mu      sync.Mutex
	batches []kb.ReviewedBatch
	err     error
}

func (r *recordingIngester) Ingest(_ context.Context, b kb.ReviewedBatch) (indexer.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	rep := indexer.Report{SourceID: b.SourceID, Total: len(b.Utterances), Indexed: len(b.Utterances)}
	return rep, r.err
}

func (r *recordingIngester) sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, b := range r.batches {
		out = append(out, b.SourceID)
	}
	return out
}

func TestFormatFor(t *testing.T) {
	f, ok := FormatFor("int-01.TXT")
	assert.True(t, ok)
	assert.Equal(t, FormatLines, f)
	f, ok = FormatFor("dir/int-01.csv")
	assert.True(t, ok)
	assert.Equal(t, FormatCSV, f)
	_, ok = FormatFor("int-01.wav")
	assert.False(t, ok)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatCSV, "CSV": FormatCSV, "lines": FormatLines, "txt": FormatLines} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("json")
	assert.Error(t, err)
}

func TestService_IngestLinesArchivesCSV(t *testing.T) {
	ix := &recordingIngester{}
	dir := t.TempDir()
	var events []string
	svc := NewService(ix, storage.NewLocalStore(dir), func(ev, src string, _ any) {
		events = append(events, ev+":"+src)
	}, zerolog.Nop())

	body := "Alice | 00:00:05 | Cost was the main driver.\n\nnot a review line\nBob | 00:01:10 | Culture mattered more.\n"
	res, err := svc.Ingest(context.Background(), " int-01 ", FormatLines, strings.NewReader(body))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Ignored)
	assert.Equal(t, 2, res.Indexed)
	assert.Equal(t, "reviewed/int-01.csv", res.ArchiveKey)
	require.Len(t, ix.batches, 1)
	b := ix.batches[0]
	assert.Equal(t, "int-01", b.SourceID)
	assert.Equal(t, "Alice", b.Utterances[0].Speaker)
	assert.Equal(t, 70.0, b.Utterances[1].Start)
	assert.Equal(t, []string{"batch.ingested:int-01"}, events)

	archived, err := os.ReadFile(filepath.Join(dir, "reviewed", "int-01.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(archived), "Culture mattered more.,Bob,00:01:10,70")
}

func TestService_IngestFailureNotArchived(t *testing.T) {
	ix := &recordingIngester{err: kb.Errorf(kb.KindIngestion, "ingest", "index unreachable")}
	dir := t.TempDir()
	var events []string
	svc := NewService(ix, storage.NewLocalStore(dir), func(ev, _ string, _ any) { events = append(events, ev) }, zerolog.Nop())

	_, err := svc.Ingest(context.Background(), "int-02", FormatCSV, strings.NewReader("Text,Speaker\nhello,A\n"))
	assert.ErrorIs(t, err, kb.ErrIngestion)
	assert.Equal(t, []string{"batch.failed"}, events)
	_, statErr := os.Stat(filepath.Join(dir, "reviewed", "int-02.csv"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestService_IngestValidation(t *testing.T) {
	svc := NewService(&recordingIngester{}, nil, nil, zerolog.Nop())

	_, err := svc.Ingest(context.Background(), "  ", FormatCSV, strings.NewReader(""))
	assert.ErrorIs(t, err, kb.ErrIngestion)

	_, err = svc.Ingest(context.Background(), "x", FormatCSV, strings.NewReader("Speaker,Timestamp\nA,00:00:01\n"))
	require.Error(t, err)
	var kerr *kb.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, "x", kerr.SourceID)

	_, err = svc.IngestFile(context.Background(), "notes.md")
	assert.Error(t, err)
}

func TestService_Reindex(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewLocalStore(dir)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "reviewed/int-01.csv", []byte("Text,Speaker,Timestamp\nhello,A,00:00:01\n"), "text/csv"))
	require.NoError(t, store.Save(ctx, "reviewed/int-02.csv", []byte("Text,Speaker,Timestamp\nhi,B,00:00:02\nyo,C,00:00:03\n"), "text/csv"))
	require.NoError(t, store.Save(ctx, "reviewed/README", []byte("ignore me"), "text/plain"))

	ix := &recordingIngester{}
	sum, err := NewService(ix, store, nil, zerolog.Nop()).Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Sources)
	assert.Equal(t, 3, sum.Indexed)
	assert.Empty(t, sum.Failures)
	assert.ElementsMatch(t, []string{"int-01", "int-02"}, ix.sources())
}

func TestService_ReindexWithoutStore(t *testing.T) {
	_, err := NewService(&recordingIngester{}, nil, nil, zerolog.Nop()).Reindex(context.Background())
	assert.Error(t, err)
}

func TestFileWatcher_BackfillAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "int-01.txt"), []byte("A | 00:00:01 | hello\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".int-01.txt.swp"), []byte("junk"), 0o644))

	ix := &recordingIngester{}
	fw := NewFileWatcher(NewService(ix, nil, nil, zerolog.Nop()), dir, 100*time.Millisecond, zerolog.Nop())
	require.NoError(t, fw.Start(context.Background()))
	defer fw.Stop()

	require.Eventually(t, func() bool { return fw.Status().Status == "watching" }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"int-01"}, ix.sources())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "int-02.csv"), []byte("Text,Speaker,Timestamp\nhi,B,00:00:02\n"), 0o644))
	require.Eventually(t, func() bool { return fw.Status().FilesProcessed >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "int-02", ix.sources()[1])
	assert.Equal(t, dir, fw.Status().WatchDir)
}

// blockingIngester holds every batch until its context is cancelled.
type blockingIngester struct {
	entered  chan struct{}
	once     sync.Once
	finished atomic.Bool
}

func (b *blockingIngester) Ingest(ctx context.Context, _ kb.ReviewedBatch) (indexer.Report, error) {
	b.once.Do(func() { close(b.entered) })
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	b.finished.Store(true)
	return indexer.Report{}, ctx.Err()
}

func TestFileWatcher_StopWaitsForDebouncedIngest(t *testing.T) {
	dir := t.TempDir()
	ix := &blockingIngester{entered: make(chan struct{})}
	fw := NewFileWatcher(NewService(ix, nil, nil, zerolog.Nop()), dir, 20*time.Millisecond, zerolog.Nop())
	require.NoError(t, fw.Start(context.Background()))
	require.Eventually(t, func() bool { return fw.Status().Status == "watching" }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "int-03.txt"), []byte("A | 00:00:01 | hello\n"), 0o644))
	select {
	case <-ix.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced ingest never started")
	}

	fw.Stop()
	assert.True(t, ix.finished.Load(), "Stop returned while an ingest was still running")
	assert.Equal(t, "stopped", fw.Status().Status)
}

func TestIsReviewedFile(t *testing.T) {
	assert.True(t, isReviewedFile("/drop/int-01.txt"))
	assert.True(t, isReviewedFile("int-01.csv"))
	assert.False(t, isReviewedFile("/drop/.artifact-123.tmp"))
	assert.False(t, isReviewedFile("int-01.csv~"))
	assert.False(t, isReviewedFile("int-01.wav"))
}

func TestService_UploadReviewed(t *testing.T) {
	ix := &recordingIngester{}
	svc := NewService(ix, nil, nil, zerolog.Nop())

	res, err := svc.UploadReviewed(context.Background(), "int-05", "lines", strings.NewReader("A | 00:00:01 | hi\n"))
	require.NoError(t, err)
	assert.Equal(t, "int-05", res.SourceID)
	assert.Equal(t, 1, res.Indexed)

	_, err = svc.UploadReviewed(context.Background(), "int-05", "xml", strings.NewReader(""))
	assert.ErrorIs(t, err, kb.ErrIngestion)
}
