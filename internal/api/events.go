package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/notescribe/internal/progress"
)

type EventsHandler struct {
	registry  *progress.Registry
	keepalive time.Duration
}

func NewEventsHandler(registry *progress.Registry, keepalive time.Duration) *EventsHandler {
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	return &EventsHandler{registry: registry, keepalive: keepalive}
}

// StreamProgress opens an SSE connection and registers it as the progress
// sink for the client id given in ?guid= (or ?clientID=). Without one a new
// id is generated. The first frame is always the identity frame.
func (h *EventsHandler) StreamProgress(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	clientID, ok := QueryStringAliased(r, "guid", "clientID")
	if !ok {
		clientID = uuid.NewString()
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sink := progress.NewStreamSink(w)
	sink.Identify(clientID)
	h.registry.Register(clientID, sink)
	defer h.registry.UnregisterSink(clientID, sink)

	// Keepalive ticker
	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	log := hlog.FromRequest(r).With().Str("client_id", clientID).Logger()
	log.Info().Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case <-sink.Done():
			// Replaced by a newer connection for the same id, or the
			// transport failed.
			log.Info().AnErr("write_error", sink.Err()).Msg("SSE stream closed")
			return
		case <-keepalive.C:
			sink.Keepalive()
		}
	}
}

// Routes registers event routes on the given router.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events/progress", h.StreamProgress)
}
