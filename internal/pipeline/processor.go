// Package pipeline runs recordings through diarization, transcription,
// alignment and consolidation, and exports the result for human review.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/snarg/interview-kb/internal/align"
	"github.com/snarg/interview-kb/internal/audio"
	"github.com/snarg/interview-kb/internal/consolidate"
	"github.com/snarg/interview-kb/internal/kb"
	"github.com/snarg/interview-kb/internal/metrics"
	"github.com/snarg/interview-kb/internal/storage"
	"github.com/snarg/interview-kb/internal/transcribe"
	"github.com/snarg/interview-kb/internal/transcript"
)

// Recording identifies one interview to process. Audio is a file path or an
// artifact store key. SourceID defaults to the audio file's base name.
type Recording struct {
	SourceID string `json:"source_id,omitempty"`
	Audio    string `json:"audio"`
}

// Result is the outcome of processing one recording.
type Result struct {
	SourceID   string         `json:"source_id"`
	Segments   int            `json:"segments"`
	Fragments  int            `json:"fragments"`
	Utterances []kb.Utterance `json:"utterances"`
	LinesKey   string         `json:"lines_key"`
	CSVKey     string         `json:"csv_key"`
	DurationMs int64          `json:"duration_ms"`
}

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	Diarizer     transcribe.Diarizer
	Transcriber  transcribe.Transcriber
	Consolidator *consolidate.Consolidator
	Store        storage.Store
	Log          zerolog.Logger
}

// Processor turns one recording into review exports. It keeps no state
// between recordings and is safe for concurrent use.
type Processor struct {
	diarizer     transcribe.Diarizer
	transcriber  transcribe.Transcriber
	consolidator *consolidate.Consolidator
	store        storage.Store
	log          zerolog.Logger
}

// NewProcessor creates a Processor. A nil Consolidator uses the defaults.
func NewProcessor(opts ProcessorOptions) *Processor {
	if opts.Consolidator == nil {
		opts.Consolidator = consolidate.New(consolidate.DefaultOptions())
	}
	return &Processor{
		diarizer:     opts.Diarizer,
		transcriber:  opts.Transcriber,
		consolidator: opts.Consolidator,
		store:        opts.Store,
		log:          opts.Log,
	}
}

// Process diarizes and transcribes the recording concurrently, aligns and
// consolidates the two outputs, and saves the review exports.
func (p *Processor) Process(ctx context.Context, rec Recording) (Result, error) {
	res, err := p.process(ctx, rec)
	if err != nil {
		metrics.RecordingsProcessedTotal.WithLabelValues("failed").Inc()
	} else {
		metrics.RecordingsProcessedTotal.WithLabelValues("ok").Inc()
	}
	return res, err
}

func (p *Processor) process(ctx context.Context, rec Recording) (Result, error) {
	start := time.Now()
	sourceID := strings.TrimSpace(rec.SourceID)
	if sourceID == "" {
		sourceID = audio.SourceID(rec.Audio)
	}
	log := p.log.With().Str("source_id", sourceID).Logger()

	audioPath, cleanup, err := audio.Resolve(ctx, p.store, rec.Audio)
	if err != nil {
		return Result{SourceID: sourceID}, fmt.Errorf("%s: %w", sourceID, err)
	}
	defer cleanup()

	var (
		segments  []kb.DiarizationSegment
		fragments []kb.TranscriptFragment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		segments, err = p.diarizer.Diarize(gctx, audioPath)
		if err != nil {
			return fmt.Errorf("%s: %w", p.diarizer.Name(), err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		fragments, err = p.transcriber.Transcribe(gctx, audioPath)
		if err != nil {
			return fmt.Errorf("%s: %w", p.transcriber.Name(), err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{SourceID: sourceID}, fmt.Errorf("%s: %w", sourceID, err)
	}

	triples, err := align.Align(segments, fragments)
	if err != nil {
		var kerr *kb.Error
		if errors.As(err, &kerr) {
			kerr.SourceID = sourceID
		}
		return Result{SourceID: sourceID}, err
	}
	utts := p.consolidator.Consolidate(triples)

	res := Result{
		SourceID:   sourceID,
		Segments:   len(segments),
		Fragments:  len(fragments),
		Utterances: utts,
	}
	if err := p.export(ctx, &res); err != nil {
		return res, fmt.Errorf("%s: export: %w", sourceID, err)
	}
	res.DurationMs = time.Since(start).Milliseconds()

	metrics.UtterancesProducedTotal.Add(float64(len(utts)))
	log.Info().
		Int("segments", res.Segments).
		Int("fragments", res.Fragments).
		Int("utterances", len(utts)).
		Int64("duration_ms", res.DurationMs).
		Msg("recording processed")
	return res, nil
}

// export writes the review lines and the pre-filled reviewed CSV.
func (p *Processor) export(ctx context.Context, res *Result) error {
	if p.store == nil {
		return nil
	}
	lines := transcript.FromUtterances(res.Utterances)

	var buf bytes.Buffer
	if err := transcript.WriteLines(&buf, lines); err != nil {
		return err
	}
	res.LinesKey = storage.ReviewLinesKey(res.SourceID)
	if err := p.store.Save(ctx, res.LinesKey, buf.Bytes(), "text/plain; charset=utf-8"); err != nil {
		return err
	}

	buf.Reset()
	if err := transcript.WriteCSV(&buf, lines); err != nil {
		return err
	}
	res.CSVKey = storage.ReviewCSVKey(res.SourceID)
	return p.store.Save(ctx, res.CSVKey, buf.Bytes(), "text/csv; charset=utf-8")
}

// Failure records one recording that could not be processed.
type Failure struct {
	SourceID string `json:"source_id"`
	Kind     string `json:"kind,omitempty"`
	Error    string `json:"error"`
}

// Summary is the end-of-run report for ProcessAll.
type Summary struct {
	Processed  int       `json:"processed"`
	Failed     int       `json:"failed"`
	Utterances int       `json:"utterances"`
	Results    []Result  `json:"results"`
	Failures   []Failure `json:"failures"`
}

// ProcessAll processes recordings with at most workers in flight. A failed
// recording is recorded in the summary and never stops the others. Results
// and failures keep input order.
func (p *Processor) ProcessAll(ctx context.Context, recs []Recording, workers int) Summary {
	if workers <= 0 {
		workers = 1
	}
	results := make([]Result, len(recs))
	errs := make([]error, len(recs))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, rec := range recs {
		i, rec := i, rec
		g.Go(func() error {
			results[i], errs[i] = p.Process(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Results: []Result{}, Failures: []Failure{}}
	for i, err := range errs {
		if err != nil {
			sum.Failed++
			sum.Failures = append(sum.Failures, Failure{
				SourceID: results[i].SourceID,
				Kind:     string(kb.KindOf(err)),
				Error:    err.Error(),
			})
			p.log.Warn().Err(err).Str("source_id", results[i].SourceID).Msg("recording failed")
			continue
		}
		sum.Processed++
		sum.Utterances += len(results[i].Utterances)
		sum.Results = append(sum.Results, results[i])
	}
	return sum
}
