package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/notescribe/internal/notify"
	"github.com/snarg/notescribe/internal/pipeline"
)

const (
	msgSuccess     = "Video successfully transcribed!"
	msgInvalidBody = "Invalid request body!"
	msgBusy        = "Server is busy, please try again later."
)

// PipelineRunner runs a pipeline to completion. *pipeline.Pool implements it.
type PipelineRunner interface {
	Submit(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// CompletionNotifier receives successful runs. *notify.Dispatcher implements it.
type CompletionNotifier interface {
	Dispatch(c notify.Completion)
}

type TranscriptionsHandler struct {
	runner   PipelineRunner
	notifier CompletionNotifier
	timeout  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// NewTranscriptionsHandler creates the handler. notifier may be nil. A
// timeout of zero lets runs take as long as they need.
func NewTranscriptionsHandler(runner PipelineRunner, notifier CompletionNotifier, timeout time.Duration) *TranscriptionsHandler {
	return &TranscriptionsHandler{runner: runner, notifier: notifier, timeout: timeout, now: time.Now}
}

type transcriptionRequest struct {
	VideoURL string `json:"videoURL"`
	GUID     string `json:"guid"`
	ClientID string `json:"clientID"`
}

type videoInfo struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title,omitempty"`
	OriginalURL string `json:"original_url,omitempty"`
}

type videoMetadata struct {
	URL       string    `json:"url"`
	Filename  string    `json:"_filename"`
	Filesize  int64     `json:"filesize,omitempty"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	Video     videoInfo `json:"video"`
}

type transcriptionResponse struct {
	Result           string        `json:"result"`
	Filename         string        `json:"filename"`
	TranscribedText  string        `json:"transcribedText"`
	VideoMetadata    videoMetadata `json:"videoMetadata"`
	CompletionTime   string        `json:"completionTime"`
	CompletionTimeMs int64         `json:"completionTimeMs"`
	VideoThumbnail   string        `json:"videoThumbnail"`
}

// Transcribe runs the pipeline for one video and responds with the transcript.
// The run is detached from the request context: a client that disconnects
// does not stop it.
func (h *TranscriptionsHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	var body transcriptionRequest
	if err := DecodeJSON(w, r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	req := pipeline.Request{VideoURL: body.VideoURL, ClientID: body.GUID}
	if req.ClientID == "" {
		req.ClientID = body.ClientID
	}
	if err := pipeline.Validate(req); err != nil {
		WriteError(w, http.StatusBadRequest, pipeline.MessageOf(err))
		return
	}

	if !h.begin() {
		WriteError(w, http.StatusServiceUnavailable, msgBusy)
		return
	}
	defer h.inflight.Done()

	ctx := context.WithoutCancel(r.Context())
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	log := hlog.FromRequest(r)
	res, err := h.runner.Submit(ctx, req)
	if err != nil {
		status, msg := errorStatus(err)
		log.Warn().Err(err).
			Str("client_id", req.ClientID).
			Int("status", status).
			Msg("transcription request failed")
		WriteError(w, status, msg)
		return
	}

	if h.notifier != nil {
		h.notifier.Dispatch(notify.Completion{
			ClientID:     req.ClientID,
			Filename:     res.FilenameWithoutExtension,
			Title:        res.Asset.Title,
			VideoID:      res.Asset.SourceVideoID,
			Transcript:   res.TranscribedText,
			CompletionMs: res.CompletionTimeMs,
			CompletedAt:  h.now(),
		})
	}

	WriteJSON(w, http.StatusOK, newTranscriptionResponse(req, res))
}

func (h *TranscriptionsHandler) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.inflight.Add(1)
	return true
}

// Drain refuses new transcription requests and waits until every accepted
// one has dispatched its completion and written its response, or ctx ends.
func (h *TranscriptionsHandler) Drain(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTranscriptionResponse(req pipeline.Request, res *pipeline.Result) transcriptionResponse {
	a := res.Asset
	originalURL := a.SourceURL
	if originalURL == "" {
		originalURL = req.VideoURL
	}
	return transcriptionResponse{
		Result:          msgSuccess,
		Filename:        res.FilenameWithoutExtension,
		TranscribedText: res.TranscribedText,
		VideoMetadata: videoMetadata{
			URL:       a.ResourceURL,
			Filename:  a.Filename,
			Filesize:  a.SizeBytes,
			Thumbnail: a.ThumbnailURL,
			Video: videoInfo{
				ID:          a.SourceVideoID,
				Title:       a.Title,
				OriginalURL: originalURL,
			},
		},
		CompletionTime:   pipeline.FormatCompletionTime(res.CompletionTimeMs),
		CompletionTimeMs: res.CompletionTimeMs,
		VideoThumbnail:   res.ThumbnailURL,
	}
}

// errorStatus maps a pipeline failure to an HTTP status and client message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrPoolStopped):
		return http.StatusServiceUnavailable, msgBusy
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, pipeline.MsgInternal
	}
	switch pipeline.KindOf(err) {
	case pipeline.KindValidation:
		return http.StatusBadRequest, pipeline.MessageOf(err)
	case pipeline.KindExtraction:
		return http.StatusUnprocessableEntity, pipeline.MessageOf(err)
	case pipeline.KindDownload:
		return http.StatusBadGateway, pipeline.MessageOf(err)
	case pipeline.KindTranscription:
		return http.StatusInternalServerError, pipeline.MessageOf(err)
	default:
		return http.StatusInternalServerError, pipeline.MsgInternal
	}
}

// Routes registers transcription routes on the given router.
func (h *TranscriptionsHandler) Routes(r chi.Router) {
	r.Post("/transcriptions", h.Transcribe)
	r.Post("/upload/video", h.Transcribe)
}
