package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/snarg/notescribe/internal/database"
	"github.com/snarg/notescribe/internal/pipeline"
)

const usageWindow = 24 * time.Hour

// HealthChecker is implemented by *database.DB.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// UsageSummarizer is implemented by *database.DB.
type UsageSummarizer interface {
	SummarizeUsage(ctx context.Context, since time.Time) ([]database.UsageSummary, error)
}

// ConnectionStatus is implemented by *mqttclient.Client.
type ConnectionStatus interface {
	IsConnected() bool
}

// QueueStatus is implemented by *pipeline.Pool.
type QueueStatus interface {
	Stats() pipeline.QueueStats
	Workers() int
}

// StreamCounter is implemented by *progress.Registry.
type StreamCounter interface {
	Len() int
}

type HealthResponse struct {
	Status          string                  `json:"status"`
	Version         string                  `json:"version"`
	UptimeSeconds   int64                   `json:"uptime_seconds"`
	Checks          map[string]string       `json:"checks"`
	Workers         int                     `json:"workers,omitempty"`
	Queue           *pipeline.QueueStats    `json:"queue,omitempty"`
	ProgressStreams int                     `json:"progress_streams"`
	Usage24h        []database.UsageSummary `json:"usage_24h,omitempty"`
}

// HealthOptions wires the optional dependencies reported by the health
// endpoint. Leave a field nil when the dependency is not configured.
type HealthOptions struct {
	DB        HealthChecker
	Usage     UsageSummarizer
	MQTT      ConnectionStatus
	Archive   string // archive backend type, "" when disabled
	Queue     QueueStatus
	Streams   StreamCounter
	Version   string
	StartTime time.Time
}

type HealthHandler struct {
	opts HealthOptions
}

func NewHealthHandler(opts HealthOptions) *HealthHandler {
	if opts.StartTime.IsZero() {
		opts.StartTime = time.Now()
	}
	return &HealthHandler{opts: opts}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Database check. Analytics are best-effort, so a failure degrades
	// rather than fails the service.
	if h.opts.DB != nil {
		if err := h.opts.DB.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "degraded"
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	// MQTT check
	if h.opts.MQTT != nil {
		if h.opts.MQTT.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			status = "degraded"
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	if h.opts.Archive != "" {
		checks["archive"] = h.opts.Archive
	} else {
		checks["archive"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.opts.Version,
		UptimeSeconds: int64(time.Since(h.opts.StartTime).Seconds()),
		Checks:        checks,
	}

	// Pipeline queue check
	if h.opts.Queue != nil {
		stats := h.opts.Queue.Stats()
		resp.Queue = &stats
		resp.Workers = h.opts.Queue.Workers()
		checks["pipeline"] = "ok"
	} else {
		checks["pipeline"] = "unavailable"
		resp.Status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}
	if h.opts.Streams != nil {
		resp.ProgressStreams = h.opts.Streams.Len()
	}
	if h.opts.Usage != nil && checks["database"] == "ok" {
		sums, err := h.opts.Usage.SummarizeUsage(r.Context(), time.Now().Add(-usageWindow))
		if err == nil {
			resp.Usage24h = sums
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
