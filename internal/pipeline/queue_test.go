package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type stubProcessor struct {
	fail map[string]bool
}

func (s stubProcessor) Process(_ context.Context, rec Recording) (Result, error) {
	if s.fail[rec.Audio] {
		return Result{SourceID: rec.SourceID}, errors.New("diarization: 503")
	}
	return Result{SourceID: rec.SourceID, Utterances: nil}, nil
}

func newTestPool(workers, queueSize int) *WorkerPool {
	return NewWorkerPool(WorkerPoolOptions{
		Processor: stubProcessor{},
		Workers:   workers,
		QueueSize: queueSize,
		Log:       zerolog.Nop(),
	})
}

func TestNewWorkerPool(t *testing.T) {
	wp := newTestPool(4, 100)
	if wp == nil {
		t.Fatal("NewWorkerPool returned nil")
	}
	if cap(wp.jobs) != 100 {
		t.Errorf("queue capacity = %d, want 100", cap(wp.jobs))
	}
}

func TestWorkerPool_EnqueueBeforeStart(t *testing.T) {
	wp := newTestPool(2, 5)
	// Enqueue buffers before Start.
	if !wp.Enqueue(Recording{Audio: "a.wav"}) {
		t.Error("Enqueue should return true when queue has space")
	}
}

func TestWorkerPool_EnqueueFull(t *testing.T) {
	wp := newTestPool(0, 2) // 0 workers = nobody draining

	wp.Enqueue(Recording{Audio: "1.wav"})
	wp.Enqueue(Recording{Audio: "2.wav"})

	if wp.Enqueue(Recording{Audio: "3.wav"}) {
		t.Error("Enqueue should return false when queue is full")
	}
}

func TestWorkerPool_EnqueueAfterStop(t *testing.T) {
	wp := newTestPool(1, 10)
	wp.Start()
	wp.Stop()

	if wp.Enqueue(Recording{Audio: "late.wav"}) {
		t.Error("Enqueue should return false after Stop()")
	}
	wp.Stop() // second Stop is a no-op
}

func TestWorkerPool_Stats(t *testing.T) {
	wp := newTestPool(0, 10)

	wp.Enqueue(Recording{Audio: "1.wav"})
	wp.Enqueue(Recording{Audio: "2.wav"})

	stats := wp.Stats()
	if stats.Pending != 2 {
		t.Errorf("Pending = %d, want 2", stats.Pending)
	}
	if wp.Pending() != 2 || wp.InFlight() != 0 {
		t.Errorf("Pending/InFlight = %d/%d, want 2/0", wp.Pending(), wp.InFlight())
	}
	if stats.Completed != 0 || stats.Failed != 0 {
		t.Errorf("Completed/Failed = %d/%d, want 0/0", stats.Completed, stats.Failed)
	}
}

func TestWorkerPool_ProcessesAndPublishes(t *testing.T) {
	var (
		mu     sync.Mutex
		events = map[string]int{}
	)
	wp := NewWorkerPool(WorkerPoolOptions{
		Processor:  stubProcessor{fail: map[string]bool{"bad.wav": true}},
		Workers:    2,
		QueueSize:  10,
		JobTimeout: time.Second,
		PublishEvent: func(eventType string, payload map[string]any) {
			mu.Lock()
			events[eventType]++
			mu.Unlock()
		},
		Log: zerolog.Nop(),
	})
	for _, a := range []string{"a.wav", "bad.wav", "b.wav"} {
		if !wp.Enqueue(Recording{SourceID: a, Audio: a}) {
			t.Fatalf("Enqueue(%s) = false", a)
		}
	}
	wp.Start()
	wp.Stop()

	stats := wp.Stats()
	if stats.Completed != 2 || stats.Failed != 1 {
		t.Errorf("Completed/Failed = %d/%d, want 2/1", stats.Completed, stats.Failed)
	}
	if events["recording.processed"] != 2 || events["recording.failed"] != 1 {
		t.Errorf("events = %v", events)
	}
}

func TestWorkerPool_StopDrains(t *testing.T) {
	wp := newTestPool(2, 10)
	wp.Start()

	done := make(chan struct{})
	go func() {
		wp.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return within 5 seconds")
	}
}

func TestWorkerPool_Workers(t *testing.T) {
	wp := newTestPool(4, 10)
	if wp.Workers() != 4 {
		t.Errorf("Workers = %d, want 4", wp.Workers())
	}
}
