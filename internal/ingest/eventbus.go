package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snarg/interview-kb/internal/api"
)

// EventBus provides pub-sub distribution of processing and ingestion events
// to SSE subscribers and an optional forwarder (MQTT). It keeps a ring
// buffer for replay on reconnect.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	forward atomic.Pointer[func(api.SSEEvent)]

	ring     []api.SSEEvent
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan api.SSEEvent
	filter api.EventFilter
}

// NewEventBus creates an event bus with the given ring buffer size.
func NewEventBus(ringSize int) *EventBus {
	if ringSize <= 0 {
		ringSize = 256
	}
	return &EventBus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]api.SSEEvent, ringSize),
		ringSize:    ringSize,
	}
}

// SetForwarder registers a function that receives every published event,
// regardless of subscriber filters. Pass nil to remove it.
func (eb *EventBus) SetForwarder(fn func(api.SSEEvent)) {
	if fn == nil {
		eb.forward.Store(nil)
		return
	}
	eb.forward.Store(&fn)
}

// Subscribe registers a new subscriber and returns a channel and cancel function.
func (eb *EventBus) Subscribe(filter api.EventFilter) (<-chan api.SSEEvent, func()) {
	eb.mu.Lock()
	id := eb.nextID
	eb.nextID++
	ch := make(chan api.SSEEvent, 64)
	eb.subscribers[id] = subscriber{ch: ch, filter: filter}
	eb.mu.Unlock()

	cancel := func() {
		eb.mu.Lock()
		delete(eb.subscribers, id)
		eb.mu.Unlock()
	}
	return ch, cancel
}

// ReplaySince returns buffered events since the given event ID. When the ID
// has already left the ring, every buffered event is returned.
func (eb *EventBus) ReplaySince(lastEventID string, filter api.EventFilter) []api.SSEEvent {
	eb.ringMu.RLock()
	defer eb.ringMu.RUnlock()

	var all, since []api.SSEEvent
	found := false
	for i := 0; i < eb.ringSize; i++ {
		e := eb.ring[(eb.ringHead+i)%eb.ringSize]
		if e.ID == "" {
			continue
		}
		if lastEventID != "" && e.ID == lastEventID {
			found = true
			since = since[:0]
			continue
		}
		if matchesFilter(e, filter) {
			all = append(all, e)
			since = append(since, e)
		}
	}
	if found {
		return since
	}
	return all
}

// EventData holds all fields needed to publish an event.
type EventData struct {
	Type     string // "recording" or "batch"
	SubType  string // "processed", "failed", "ingested"
	SourceID string
	Payload  any
}

// Publish sends an event to all matching subscribers and adds it to the ring buffer.
func (eb *EventBus) Publish(e EventData) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return
	}

	seq := eb.seq.Add(1)
	event := api.SSEEvent{
		ID:        fmt.Sprintf("%d-%d", time.Now().UnixMilli(), seq),
		Type:      e.Type,
		SubType:   e.SubType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		SourceID:  e.SourceID,
		Data:      data,
	}

	eb.ringMu.Lock()
	eb.ring[eb.ringHead] = event
	eb.ringHead = (eb.ringHead + 1) % eb.ringSize
	eb.ringMu.Unlock()

	eb.mu.RLock()
	for _, sub := range eb.subscribers {
		if matchesFilter(event, sub.filter) {
			select {
			case sub.ch <- event:
			default:
				// Drop if subscriber is slow
			}
		}
	}
	eb.mu.RUnlock()

	if fn := eb.forward.Load(); fn != nil {
		(*fn)(event)
	}
}

// PublishDotted publishes an event named "type.subtype", the form used by
// the recording queue and the review service.
func (eb *EventBus) PublishDotted(name, sourceID string, payload any) {
	typ, sub, _ := strings.Cut(name, ".")
	eb.Publish(EventData{Type: typ, SubType: sub, SourceID: sourceID, Payload: payload})
}

func matchesFilter(e api.SSEEvent, f api.EventFilter) bool {
	if len(f.Types) > 0 {
		match := false
		for _, t := range f.Types {
			t = strings.TrimSpace(t)
			if base, sub, ok := strings.Cut(t, ":"); ok {
				// Compound filter: "recording:failed" matches type + subtype
				if base == e.Type && sub == e.SubType {
					match = true
					break
				}
			} else if t == e.Type {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if len(f.Sources) > 0 && e.SourceID != "" {
		match := false
		for _, s := range f.Sources {
			if s == e.SourceID {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}
