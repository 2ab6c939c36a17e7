package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// QueueStats reports the current state of the recording queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	InFlight  int   `json:"in_flight"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// EventPublishFunc is a callback for publishing processing events.
type EventPublishFunc func(eventType string, payload map[string]any)

// RecordingProcessor is the work each queue worker performs.
type RecordingProcessor interface {
	Process(ctx context.Context, rec Recording) (Result, error)
}

// WorkerPoolOptions configures the recording worker pool.
type WorkerPoolOptions struct {
	Processor    RecordingProcessor
	Workers      int
	QueueSize    int
	JobTimeout   time.Duration // per-recording deadline, 0 = none
	PublishEvent EventPublishFunc
	Log          zerolog.Logger
}

// WorkerPool processes recordings submitted asynchronously (MQTT jobs, API
// uploads) with a fixed number of workers.
type WorkerPool struct {
	jobs   chan Recording
	opts   WorkerPoolOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	inFlight  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewWorkerPool creates a new recording worker pool.
func NewWorkerPool(opts WorkerPoolOptions) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobs:   make(chan Recording, opts.QueueSize),
		opts:   opts,
		log:    opts.Log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.log.Info().Int("workers", wp.opts.Workers).Int("queue_size", wp.opts.QueueSize).Msg("recording worker pool started")
}

// Stop stops accepting jobs, lets workers drain the queue and waits for them.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobs)
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.cancel()
	wp.log.Info().
		Int64("completed", wp.completed.Load()).
		Int64("failed", wp.failed.Load()).
		Msg("recording worker pool stopped")
}

// Enqueue adds a recording to the queue. Returns false if the queue is full
// or the pool is stopped.
func (wp *WorkerPool) Enqueue(rec Recording) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return false
	}
	select {
	case wp.jobs <- rec:
		return true
	default:
		return false
	}
}

// Stats returns current queue statistics.
func (wp *WorkerPool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(wp.jobs),
		InFlight:  int(wp.inFlight.Load()),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
	}
}

// Pending returns the number of queued recordings.
func (wp *WorkerPool) Pending() int { return len(wp.jobs) }

// InFlight returns the number of recordings being processed.
func (wp *WorkerPool) InFlight() int { return int(wp.inFlight.Load()) }

// Workers returns the number of worker goroutines.
func (wp *WorkerPool) Workers() int { return wp.opts.Workers }

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()

	for rec := range wp.jobs {
		wp.inFlight.Add(1)
		res, err := wp.processJob(rec)
		wp.inFlight.Add(-1)
		if err != nil {
			wp.failed.Add(1)
			log.Warn().Err(err).Str("audio", rec.Audio).Msg("recording processing failed")
			wp.publish("recording.failed", map[string]any{
				"source_id": res.SourceID,
				"audio":     rec.Audio,
				"error":     err.Error(),
			})
			continue
		}
		wp.completed.Add(1)
		wp.publish("recording.processed", map[string]any{
			"source_id":   res.SourceID,
			"utterances":  len(res.Utterances),
			"lines_key":   res.LinesKey,
			"csv_key":     res.CSVKey,
			"duration_ms": res.DurationMs,
		})
	}
}

func (wp *WorkerPool) processJob(rec Recording) (Result, error) {
	ctx := wp.ctx
	if wp.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wp.opts.JobTimeout)
		defer cancel()
	}
	return wp.opts.Processor.Process(ctx, rec)
}

func (wp *WorkerPool) publish(eventType string, payload map[string]any) {
	if wp.opts.PublishEvent != nil {
		wp.opts.PublishEvent(eventType, payload)
	}
}
