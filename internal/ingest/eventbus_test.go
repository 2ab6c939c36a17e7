package ingest

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snarg/interview-kb/internal/api"
)

// ── EventBus Publish/Subscribe ────────────────────────────────────────

func TestEventBusPublishSubscribe(t *testing.T) {
	t.Run("subscriber_receives_published_event", func(t *testing.T) {
		eb := NewEventBus(64)
		ch, cancel := eb.Subscribe(api.EventFilter{})
		defer cancel()

		eb.Publish(EventData{
			Type:     "recording",
			SubType:  "processed",
			SourceID: "int-01",
			Payload:  map[string]string{"msg": "hello"},
		})

		select {
		case evt := <-ch:
			if evt.Type != "recording" || evt.SubType != "processed" {
				t.Errorf("Type = %q:%q, want recording:processed", evt.Type, evt.SubType)
			}
			if evt.SourceID != "int-01" {
				t.Errorf("SourceID = %q, want int-01", evt.SourceID)
			}
			if evt.ID == "" {
				t.Error("expected non-empty event ID")
			}
			var payload map[string]string
			if err := json.Unmarshal(evt.Data, &payload); err != nil {
				t.Fatalf("Data is not valid JSON: %v", err)
			}
			if payload["msg"] != "hello" {
				t.Errorf("payload msg = %q, want hello", payload["msg"])
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("filtered_subscriber_misses_non_matching", func(t *testing.T) {
		eb := NewEventBus(64)
		ch, cancel := eb.Subscribe(api.EventFilter{Types: []string{"batch"}})
		defer cancel()

		eb.Publish(EventData{Type: "recording", Payload: "x"})

		select {
		case evt := <-ch:
			t.Fatalf("should not receive event, got %+v", evt)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("cancel_stops_delivery", func(t *testing.T) {
		eb := NewEventBus(64)
		ch, cancel := eb.Subscribe(api.EventFilter{})
		cancel()

		eb.Publish(EventData{Type: "recording", Payload: "x"})

		select {
		case _, ok := <-ch:
			if ok {
				t.Fatal("should not receive event after cancel")
			}
		case <-time.After(50 * time.Millisecond):
			// expected: channel not closed, just removed from map
		}
	})

	t.Run("forwarder_sees_everything", func(t *testing.T) {
		eb := NewEventBus(64)
		var n atomic.Int32
		eb.SetForwarder(func(api.SSEEvent) { n.Add(1) })
		_, cancel := eb.Subscribe(api.EventFilter{Types: []string{"batch"}})
		defer cancel()

		eb.PublishDotted("recording.failed", "a", nil)
		eb.PublishDotted("batch.ingested", "b", nil)
		if n.Load() != 2 {
			t.Errorf("forwarded = %d, want 2", n.Load())
		}

		eb.SetForwarder(nil)
		eb.PublishDotted("batch.ingested", "c", nil)
		if n.Load() != 2 {
			t.Errorf("forwarded after removal = %d, want 2", n.Load())
		}
	})
}

// ── EventBus ReplaySince ─────────────────────────────────────────────

func TestEventBusReplaySince(t *testing.T) {
	t.Run("replay_all_when_empty_lastID", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: "recording", Payload: "a"})
		eb.Publish(EventData{Type: "batch", Payload: "b"})

		events := eb.ReplaySince("", api.EventFilter{})
		if len(events) != 2 {
			t.Fatalf("got %d events, want 2", len(events))
		}
	})

	t.Run("replay_after_specific_id", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: "recording", Payload: "a"})

		allEvents := eb.ReplaySince("", api.EventFilter{})
		if len(allEvents) != 1 {
			t.Fatalf("expected 1 event, got %d", len(allEvents))
		}
		firstID := allEvents[0].ID

		eb.Publish(EventData{Type: "batch", Payload: "b"})

		events := eb.ReplaySince(firstID, api.EventFilter{})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (after first)", len(events))
		}
		if events[0].Type != "batch" {
			t.Errorf("Type = %q, want batch", events[0].Type)
		}
	})

	t.Run("replay_with_filter", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: "batch", SourceID: "int-01", Payload: "a"})
		eb.Publish(EventData{Type: "batch", SourceID: "int-02", Payload: "b"})

		events := eb.ReplaySince("", api.EventFilter{Sources: []string{"int-02"}})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (filtered)", len(events))
		}
		if events[0].SourceID != "int-02" {
			t.Errorf("SourceID = %q, want int-02", events[0].SourceID)
		}
	})

	t.Run("unknown_lastID_replays_all", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: "recording", Payload: "a"})

		events := eb.ReplaySince("nonexistent-id", api.EventFilter{})
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1 (fallback replay all)", len(events))
		}
	})

	t.Run("ring_wraps", func(t *testing.T) {
		eb := NewEventBus(2)
		for i := 0; i < 5; i++ {
			eb.Publish(EventData{Type: "recording", Payload: i})
		}
		if got := len(eb.ReplaySince("", api.EventFilter{})); got != 2 {
			t.Fatalf("got %d events, want 2", got)
		}
	})
}

func TestMatchesFilter(t *testing.T) {
	tests := []struct {
		name   string
		event  api.SSEEvent
		filter api.EventFilter
		want   bool
	}{
		{
			name:   "empty_filter_matches_all",
			event:  api.SSEEvent{Type: "recording", SourceID: "int-01"},
			filter: api.EventFilter{},
			want:   true,
		},
		{
			name:   "type_match",
			event:  api.SSEEvent{Type: "recording"},
			filter: api.EventFilter{Types: []string{"recording"}},
			want:   true,
		},
		{
			name:   "type_no_match",
			event:  api.SSEEvent{Type: "recording"},
			filter: api.EventFilter{Types: []string{"batch"}},
			want:   false,
		},
		{
			name:   "compound_type_exact_match",
			event:  api.SSEEvent{Type: "recording", SubType: "failed"},
			filter: api.EventFilter{Types: []string{"recording:failed"}},
			want:   true,
		},
		{
			name:   "compound_type_wrong_subtype",
			event:  api.SSEEvent{Type: "recording", SubType: "processed"},
			filter: api.EventFilter{Types: []string{"recording:failed"}},
			want:   false,
		},
		{
			name:   "plain_type_matches_any_subtype",
			event:  api.SSEEvent{Type: "batch", SubType: "ingested"},
			filter: api.EventFilter{Types: []string{"batch"}},
			want:   true,
		},
		{
			name:   "source_match",
			event:  api.SSEEvent{Type: "batch", SourceID: "int-01"},
			filter: api.EventFilter{Sources: []string{"int-01", "int-02"}},
			want:   true,
		},
		{
			name:   "source_no_match",
			event:  api.SSEEvent{Type: "batch", SourceID: "int-03"},
			filter: api.EventFilter{Sources: []string{"int-01"}},
			want:   false,
		},
		{
			name:   "empty_source_passes_through",
			event:  api.SSEEvent{Type: "recording"},
			filter: api.EventFilter{Sources: []string{"int-01"}},
			want:   true,
		},
		{
			name:   "multi_one_fails",
			event:  api.SSEEvent{Type: "batch", SourceID: "int-03"},
			filter: api.EventFilter{Types: []string{"batch"}, Sources: []string{"int-01"}},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchesFilter(tt.event, tt.filter)
			if got != tt.want {
				t.Errorf("matchesFilter(%+v, %+v) = %v, want %v", tt.event, tt.filter, got, tt.want)
			}
		})
	}
}
