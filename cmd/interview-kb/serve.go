package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/snarg/interview-kb/internal/api"
	"github.com/snarg/interview-kb/internal/config"
	"github.com/snarg/interview-kb/internal/ingest"
	"github.com/snarg/interview-kb/internal/metrics"
	"github.com/snarg/interview-kb/internal/mqttclient"
	"github.com/snarg/interview-kb/internal/pipeline"
)

func newServeCmd(overrides *config.Overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, recording queue, review watcher and MQTT intake",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := loadApp(overrides, false)
			if err != nil {
				return err
			}
			defer a.close()
			return serve(a)
		},
	}
}

func serve(a *app) error {
	startTime := time.Now()
	cfg := a.cfg
	log := a.log
	log.Info().Str("version", version).Msg("interview-kb starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := a.openStore()
	if err != nil {
		return err
	}

	opts := api.ServerOptions{
		Config:    cfg,
		Store:     store,
		Version:   version,
		StartTime: startTime,
		Log:       a.component("http"),
	}

	bus := ingest.NewEventBus(0)
	opts.Live = bus

	// Vector index, ingestion and question answering
	var (
		reviews *ingest.Service
		watcher *ingest.FileWatcher
		chunks  metrics.ChunkCounter
	)
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, ingestion and question answering disabled")
	} else {
		index, err := a.openIndex(ctx)
		if err != nil {
			return err
		}
		chunks = index
		opts.Index = index

		ixr := a.newIndexer(index)
		opts.Resetter = ixr
		reviews = ingest.NewService(ixr, store, bus.PublishDotted, a.component("ingest"))
		opts.Reviews = reviews
		opts.Reindexer = reviews

		engine, err := a.newSynth()
		if err != nil {
			return err
		}
		opts.Retriever = a.newQueryEngine(index)
		opts.Synth = engine

		if cfg.ReviewWatchDir != "" {
			watcher = ingest.NewFileWatcher(reviews, cfg.ReviewWatchDir, ingest.DefaultDebounce, a.component("watcher"))
			if err := watcher.Start(ctx); err != nil {
				return err
			}
			defer watcher.Stop()
			opts.Watcher = watcher.Status
		}
	}

	// Recording queue
	var queue *pipeline.WorkerPool
	if proc, err := a.newProcessor(); err != nil {
		log.Warn().Err(err).Msg("speech services not configured, recording processing disabled")
	} else {
		queue = pipeline.NewWorkerPool(pipeline.WorkerPoolOptions{
			Processor:  proc,
			Workers:    cfg.RecordingWorkers,
			QueueSize:  cfg.RecordingQueue,
			JobTimeout: 2 * cfg.STTTimeout,
			PublishEvent: func(eventType string, payload map[string]any) {
				src, _ := payload["source_id"].(string)
				bus.PublishDotted(eventType, src, payload)
			},
			Log: a.component("queue"),
		})
		queue.Start()
		defer queue.Stop()
		opts.Queue = queue
	}

	// Metrics
	var (
		pool       *pgxpool.Pool
		queueStats metrics.QueueStats
	)
	if a.index != nil {
		pool = a.index.Pool
	}
	if queue != nil {
		queueStats = queue
	}
	prometheus.MustRegister(metrics.NewCollector(pool, queueStats, chunks, a.component("metrics")))

	// MQTT
	if cfg.MQTTBrokerURL != "" {
		mqtt, err := mqttclient.Connect(mqttclient.Options{
			BrokerURL:  cfg.MQTTBrokerURL,
			ClientID:   cfg.MQTTClientID,
			JobTopic:   cfg.MQTTJobTopic,
			EventTopic: cfg.MQTTEventTopic,
			Username:   cfg.MQTTUsername,
			Password:   cfg.MQTTPassword,
			Log:        a.component("mqtt"),
		})
		if err != nil {
			return err
		}
		defer mqtt.Close()
		if queue != nil {
			mqtt.SetJobHandler(queue.Enqueue)
		}
		bus.SetForwarder(mqtt.Publish)
		defer bus.SetForwarder(nil)
		opts.MQTT = mqtt
	}

	// HTTP Server
	srv := api.NewServer(opts)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("interview-kb stopped")
	return nil
}
