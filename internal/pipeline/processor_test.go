package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/interview-kb/internal/consolidate"
	"github.com/snarg/interview-kb/internal/kb"
	"github.com/snarg/interview-kb/internal/storage"
	"github.com/snarg/interview-kb/internal/transcript"
)

// fakeSpeech serves both collaborator interfaces from per-file fixtures.
type fakeSpeech struct {
	segments  map[string][]kb.DiarizationSegment
	fragments map[string][]kb.TranscriptFragment
	err       map[string]error
	delay     time.Duration

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeSpeech) Name() string  { return "fake" }
func (f *fakeSpeech) Model() string { return "fake-1" }

func (f *fakeSpeech) track() func() {
	n := f.inFlight.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeSpeech) Diarize(_ context.Context, path string) ([]kb.DiarizationSegment, error) {
	defer f.track()()
	base := filepath.Base(path)
	if err := f.err[base]; err != nil {
		return nil, err
	}
	return f.segments[base], nil
}

func (f *fakeSpeech) Transcribe(_ context.Context, path string) ([]kb.TranscriptFragment, error) {
	defer f.track()()
	return f.fragments[filepath.Base(path)], nil
}

func seg(speaker string, start, end float64) kb.DiarizationSegment {
	return kb.DiarizationSegment{Speaker: speaker, Span: kb.TimeSpan{Start: start, End: end}}
}

func frag(text string, start, end float64) kb.TranscriptFragment {
	return kb.TranscriptFragment{Text: text, Span: kb.TimeSpan{Start: start, End: end}}
}

func writeAudio(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	var paths []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte("RIFF"), 0o644))
		paths = append(paths, p)
	}
	return paths
}

func newTestProcessor(speech *fakeSpeech, store storage.Store) *Processor {
	return NewProcessor(ProcessorOptions{
		Diarizer:     speech,
		Transcriber:  speech,
		Consolidator: consolidate.New(consolidate.DefaultOptions()),
		Store:        store,
		Log:          zerolog.Nop(),
	})
}

func TestProcess_ExportsReviewFiles(t *testing.T) {
	speech := &fakeSpeech{
		segments:  map[string][]kb.DiarizationSegment{"int-01.wav": {seg("A", 0, 2), seg("B", 2, 6)}},
		fragments: map[string][]kb.TranscriptFragment{"int-01.wav": {frag("hi", 0, 1), frag("there", 1.2, 2), frag("hello", 2.5, 3.5)}},
	}
	storeDir := t.TempDir()
	store := storage.NewLocalStore(storeDir)
	paths := writeAudio(t, t.TempDir(), "int-01.wav")

	res, err := newTestProcessor(speech, store).Process(context.Background(), Recording{Audio: paths[0]})
	require.NoError(t, err)

	assert.Equal(t, "int-01", res.SourceID)
	assert.Equal(t, 2, res.Segments)
	assert.Equal(t, 3, res.Fragments)
	assert.Equal(t, []kb.Utterance{
		{Speaker: "A", Start: 0, End: 2, Text: "hi there"},
		{Speaker: "B", Start: 2.5, End: 3.5, Text: "hello"},
	}, res.Utterances)

	data, err := os.ReadFile(filepath.Join(storeDir, "review", "int-01.txt"))
	require.NoError(t, err)
	assert.Equal(t, "A | 00:00:00 | hi there\nB | 00:00:02 | hello\n", string(data))

	f, err := os.Open(filepath.Join(storeDir, "review", "int-01.csv"))
	require.NoError(t, err)
	defer f.Close()
	lines, _, err := transcript.ReadCSV(f)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, 2.5, lines[1].Start)
}

func TestProcess_AlignmentMismatch(t *testing.T) {
	speech := &fakeSpeech{
		fragments: map[string][]kb.TranscriptFragment{"x.wav": {frag("orphan", 0, 1)}},
	}
	paths := writeAudio(t, t.TempDir(), "x.wav")

	_, err := newTestProcessor(speech, nil).Process(context.Background(), Recording{SourceID: "rec-x", Audio: paths[0]})
	require.Error(t, err)
	assert.ErrorIs(t, err, kb.ErrAlignment)
	var kerr *kb.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, "rec-x", kerr.SourceID)
}

func TestProcess_MissingAudio(t *testing.T) {
	_, err := newTestProcessor(&fakeSpeech{}, nil).Process(context.Background(), Recording{Audio: "/nonexistent/a.wav"})
	assert.ErrorContains(t, err, "not found")
}

func TestProcessAll_IsolatesFailures(t *testing.T) {
	speech := &fakeSpeech{
		segments: map[string][]kb.DiarizationSegment{
			"a.wav": {seg("A", 0, 10)},
			"c.wav": {seg("C", 0, 10)},
		},
		fragments: map[string][]kb.TranscriptFragment{
			"a.wav": {frag("alpha", 0, 1)},
			"b.wav": {frag("bravo", 0, 1)},
			"c.wav": {frag("charlie", 0, 1), frag("delta", 5, 6)},
		},
		err:   map[string]error{"b.wav": errors.New("diarization service returned 400")},
		delay: 5 * time.Millisecond,
	}
	paths := writeAudio(t, t.TempDir(), "a.wav", "b.wav", "c.wav")
	var recs []Recording
	for _, p := range paths {
		recs = append(recs, Recording{Audio: p})
	}

	sum := newTestProcessor(speech, storage.NewLocalStore(t.TempDir())).ProcessAll(context.Background(), recs, 2)

	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 3, sum.Utterances)
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, "b", sum.Failures[0].SourceID)
	assert.True(t, strings.Contains(sum.Failures[0].Error, "400"))
	require.Len(t, sum.Results, 2)
	assert.Equal(t, "a", sum.Results[0].SourceID)
	assert.Equal(t, "c", sum.Results[1].SourceID)
	// two recordings, each fanning out to two calls
	assert.LessOrEqual(t, speech.peak.Load(), int32(4))
}
