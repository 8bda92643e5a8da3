package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/notescribe/internal/storage"
)

const msgTranscriptNotFound = "Transcript not found!"

// TranscriptReader is the read side of storage.TranscriptStore.
type TranscriptReader interface {
	Exists(ctx context.Context, key string) bool
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// TranscriptsHandler serves archived transcripts by their archive key.
type TranscriptsHandler struct {
	store TranscriptReader
}

func NewTranscriptsHandler(store TranscriptReader) *TranscriptsHandler {
	return &TranscriptsHandler{store: store}
}

// archiveKey rebuilds a storage key from URL segments, rejecting anything
// that is not a date directory and a plain .txt file name.
func archiveKey(date, name string) (string, bool) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return "", false
	}
	if !strings.HasSuffix(name, ".txt") || strings.HasPrefix(name, ".") ||
		strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return date + "/" + name, true
}

// Get streams GET /transcripts/{date}/{name}.
func (h *TranscriptsHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, ok := archiveKey(chi.URLParam(r, "date"), chi.URLParam(r, "name"))
	if !ok {
		WriteError(w, http.StatusBadRequest, "Invalid transcript path!")
		return
	}
	if !h.store.Exists(r.Context(), key) {
		WriteError(w, http.StatusNotFound, msgTranscriptNotFound)
		return
	}

	body, err := h.store.Open(r.Context(), key)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("key", key).Msg("open archived transcript")
		WriteError(w, http.StatusInternalServerError, "Failed to read transcript!")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", storage.ContentTypeText)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}

// Routes registers transcript archive routes on the given router.
func (h *TranscriptsHandler) Routes(r chi.Router) {
	r.Get("/transcripts/{date}/{name}", h.Get)
}
