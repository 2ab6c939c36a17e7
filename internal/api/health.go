package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/interview-kb/internal/pipeline"
	"github.com/snarg/interview-kb/internal/vectorindex"
)

type HealthResponse struct {
	Status        string               `json:"status"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Checks        map[string]string    `json:"checks"`
	Index         *vectorindex.Health  `json:"index,omitempty"`
	Queue         *pipeline.QueueStats `json:"queue,omitempty"`
	Watcher       *WatcherStatusData   `json:"watcher,omitempty"`
}

type HealthHandler struct {
	index     IndexHealth
	mqtt      BrokerStatus
	queue     RecordingQueue
	watcher   func() *WatcherStatusData
	version   string
	startTime time.Time
}

// NewHealthHandler creates the health handler. Every dependency except
// index is optional.
func NewHealthHandler(index IndexHealth, mqtt BrokerStatus, queue RecordingQueue, watcher func() *WatcherStatusData, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		index:     index,
		mqtt:      mqtt,
		queue:     queue,
		watcher:   watcher,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK
	resp := HealthResponse{Version: h.version}

	// Vector index check
	if h.index != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		health, err := h.index.HealthCheck(ctx)
		cancel()
		if err != nil || !health.OK {
			checks["index"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["index"] = "ok"
			resp.Index = &health
		}
	} else {
		checks["index"] = "not_configured"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	// Review watcher check
	if h.watcher != nil {
		if ws := h.watcher(); ws != nil {
			checks["review_watcher"] = ws.Status
			resp.Watcher = ws
		}
	}

	// Recording queue
	if h.queue != nil {
		qs := h.queue.Stats()
		checks["recording_queue"] = "ok"
		resp.Queue = &qs
	} else {
		checks["recording_queue"] = "not_configured"
	}

	resp.Status = status
	resp.UptimeSeconds = int64(time.Since(h.startTime).Seconds())
	resp.Checks = checks
	WriteJSON(w, httpStatus, resp)
}
