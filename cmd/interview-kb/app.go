package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	interviewkb "github.com/snarg/interview-kb"
	"github.com/snarg/interview-kb/internal/config"
	"github.com/snarg/interview-kb/internal/consolidate"
	"github.com/snarg/interview-kb/internal/indexer"
	"github.com/snarg/interview-kb/internal/llm"
	"github.com/snarg/interview-kb/internal/pipeline"
	"github.com/snarg/interview-kb/internal/query"
	"github.com/snarg/interview-kb/internal/retry"
	"github.com/snarg/interview-kb/internal/storage"
	"github.com/snarg/interview-kb/internal/synth"
	"github.com/snarg/interview-kb/internal/transcribe"
	"github.com/snarg/interview-kb/internal/vectorindex"
)

// app holds the configuration and the lazily opened backends shared by all
// commands.
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	store storage.Store
	index *vectorindex.Store
}

func loadApp(overrides *config.Overrides, console bool) (*app, error) {
	cfg, err := config.Load(*overrides)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &app{cfg: cfg, log: newLogger(cfg.LogLevel, console)}, nil
}

func (a *app) component(name string) zerolog.Logger {
	return a.log.With().Str("component", name).Logger()
}

func (a *app) close() {
	if a.index != nil {
		a.index.Close()
	}
}

func (a *app) retryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: a.cfg.RetryMax,
		Initial:    a.cfg.RetryInitial,
		MaxDelay:   a.cfg.RetryMaxDelay,
		Factor:     2,
	}
}

func (a *app) openStore() (storage.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	st, err := storage.New(a.cfg.S3, a.cfg.StorageDir, a.component("storage"))
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	a.store = st
	return st, nil
}

// openIndex connects to the vector index and applies the schema and any
// pending migrations.
func (a *app) openIndex(ctx context.Context) (*vectorindex.Store, error) {
	if a.index != nil {
		return a.index, nil
	}
	if err := a.cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	ix, err := vectorindex.Connect(ctx, vectorindex.Options{
		DatabaseURL: a.cfg.DatabaseURL,
		Dimension:   a.cfg.EmbeddingDim,
		SchemaSQL:   interviewkb.SchemaSQL,
		Log:         a.component("index"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect vector index: %w", err)
	}
	if err := ix.InitSchema(ctx); err != nil {
		ix.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	a.index = ix
	return ix, nil
}

func (a *app) embedder() *llm.EmbeddingClient {
	return llm.NewEmbeddingClient(llm.ClientOptions{
		URL:     a.cfg.EmbeddingURL,
		Model:   a.cfg.EmbeddingModel,
		APIKey:  a.cfg.LLMAPIKey,
		Timeout: a.cfg.LLMTimeout,
		Retry:   a.retryPolicy(),
		Log:     a.component("embeddings"),
	}, a.cfg.EmbeddingDim)
}

func (a *app) newIndexer(ix indexer.Index) *indexer.Indexer {
	return indexer.New(a.embedder(), ix, indexer.Options{
		BatchSize: a.cfg.IngestBatchSize,
		Workers:   a.cfg.IngestWorkers,
		Log:       a.component("indexer"),
	})
}

func (a *app) newQueryEngine(ix query.Index) *query.Engine {
	return query.New(a.embedder(), ix, query.Options{
		TopK:             a.cfg.QueryTopK,
		MaxContextChars:  a.cfg.ContextMaxChars,
		MinSimilarity:    a.cfg.MinSimilarity,
		ExcludedSpeakers: a.cfg.ExcludedSpeakers,
		IndexRetry:       retry.Policy{MaxRetries: 1, Initial: a.cfg.RetryInitial, MaxDelay: a.cfg.RetryMaxDelay},
		Log:              a.component("query"),
	})
}

func (a *app) newSynth() (*synth.Engine, error) {
	prompts, err := synth.LoadPrompts(a.cfg.PromptsFile, interviewkb.DefaultPrompts)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	policy, err := synth.ParsePolicy(a.cfg.CitationPolicy)
	if err != nil {
		return nil, err
	}
	completer := llm.NewCompletionClient(llm.ClientOptions{
		URL:     a.cfg.CompletionURL,
		Model:   a.cfg.CompletionModel,
		APIKey:  a.cfg.LLMAPIKey,
		Timeout: a.cfg.LLMTimeout,
		Retry:   a.retryPolicy(),
		Log:     a.component("completion"),
	})
	return synth.New(completer, synth.Options{
		Prompts:       prompts,
		Policy:        policy,
		Temperature:   a.cfg.Temperature,
		MaxTokens:     a.cfg.MaxResponseTokens,
		MaxConcurrent: a.cfg.MaxConcurrentQueries,
		Log:           a.component("synth"),
	}), nil
}

// newProcessor wires the speech collaborators into a recording processor.
func (a *app) newProcessor() (*pipeline.Processor, error) {
	if err := a.cfg.RequireSpeech(); err != nil {
		return nil, err
	}
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	return pipeline.NewProcessor(pipeline.ProcessorOptions{
		Diarizer: transcribe.NewDiarizationClient(transcribe.DiarizerOptions{
			URL:         a.cfg.DiarizeURL,
			APIKey:      a.cfg.STTAPIKey,
			Timeout:     a.cfg.STTTimeout,
			NumSpeakers: a.cfg.DiarizeSpeakers,
			Retry:       a.retryPolicy(),
			Log:         a.component("diarize"),
		}),
		Transcriber: transcribe.NewWhisperClient(transcribe.WhisperOptions{
			URL:        a.cfg.WhisperURL,
			Model:      a.cfg.WhisperModel,
			APIKey:     a.cfg.STTAPIKey,
			Timeout:    a.cfg.STTTimeout,
			Language:   a.cfg.WhisperLanguage,
			Preprocess: a.cfg.PreprocessAudio,
			Retry:      a.retryPolicy(),
			Log:        a.component("whisper"),
		}),
		Consolidator: consolidate.New(consolidate.Options{
			GapThreshold: a.cfg.GapThreshold.Seconds(),
		}),
		Store: store,
		Log:   a.component("pipeline"),
	}), nil
}
