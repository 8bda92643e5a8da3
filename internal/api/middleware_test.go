package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/notescribe/internal/config"
	"github.com/snarg/notescribe/internal/pipeline"
	"github.com/snarg/notescribe/internal/progress"
)

// newMiddlewareRouter builds the production router around runner, logging
// JSON lines into logOut.
func newMiddlewareRouter(cfg *config.Config, runner PipelineRunner, logOut io.Writer) http.Handler {
	registry := progress.NewRegistry()
	return NewRouter(cfg, Handlers{
		Health:         NewHealthHandler(HealthOptions{Queue: fakeQueue{}, Streams: registry}),
		Events:         NewEventsHandler(registry, time.Hour),
		Transcriptions: NewTranscriptionsHandler(runner, nil, 0),
	}, zerolog.New(logOut))
}

func busyRunner() PipelineRunner {
	return funcRunner(func(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
		return nil, pipeline.ErrQueueFull
	})
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("log line not JSON: %v (%q)", err, line)
		}
		out = append(out, entry)
	}
	return out
}

func TestRequestIDReachesHandlerLogs(t *testing.T) {
	t.Run("provided_id", func(t *testing.T) {
		var buf bytes.Buffer
		router := newMiddlewareRouter(&config.Config{}, busyRunner(), &buf)

		req := httptest.NewRequest("POST", "/api/transcriptions",
			strings.NewReader(`{"videoURL":"https://youtu.be/abc","guid":"c1"}`))
		req.Header.Set("X-Request-ID", "req-42")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
			t.Errorf("X-Request-ID = %q", got)
		}

		lines := logLines(t, &buf)
		if len(lines) != 2 {
			t.Fatalf("log lines = %d, want handler warning and access log: %s", len(lines), buf.String())
		}
		if lines[0]["message"] != "transcription request failed" || lines[0]["client_id"] != "c1" {
			t.Errorf("handler line = %v", lines[0])
		}
		if lines[1]["message"] != "request" || lines[1]["path"] != "/api/transcriptions" {
			t.Errorf("access line = %v", lines[1])
		}
		for i, l := range lines {
			if l["request_id"] != "req-42" {
				t.Errorf("line %d request_id = %v", i, l["request_id"])
			}
		}
	})

	t.Run("generated_id", func(t *testing.T) {
		var buf bytes.Buffer
		router := newMiddlewareRouter(&config.Config{}, busyRunner(), &buf)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))

		id := rec.Header().Get("X-Request-ID")
		if len(id) != 16 {
			t.Fatalf("expected 16-char hex ID, got %q", id)
		}
		lines := logLines(t, &buf)
		if len(lines) != 1 || lines[0]["request_id"] != id {
			t.Errorf("access log = %v, want request_id %q", lines, id)
		}
	})
}

func TestCORSOnProgressStream(t *testing.T) {
	cfg := &config.Config{
		CORSOrigins: []string{"https://app.example.com"},
		AuthToken:   "secret",
	}
	router := newMiddlewareRouter(cfg, busyRunner(), io.Discard)

	t.Run("preflight_allowed_without_token", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/api/events/progress", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Errorf("Allow-Origin = %q", got)
		}
		if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "Last-Event-ID") {
			t.Errorf("Allow-Headers = %q", rec.Header().Get("Access-Control-Allow-Headers"))
		}
	})

	t.Run("preflight_foreign_origin_forbidden", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/api/events/progress", nil)
		req.Header.Set("Origin", "https://elsewhere.example.com")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("stream_carries_cors_headers", func(t *testing.T) {
		srv := httptest.NewServer(router)
		defer srv.Close()

		req, _ := http.NewRequest("GET", srv.URL+"/api/events/progress?guid=web&token=secret", nil)
		req.Header.Set("Origin", "https://app.example.com")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Errorf("Allow-Origin = %q", got)
		}
		if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
			t.Errorf("Content-Type = %q", got)
		}
	})

	t.Run("foreign_origin_stream_served_without_cors", func(t *testing.T) {
		srv := httptest.NewServer(router)
		defer srv.Close()

		req, _ := http.NewRequest("GET", srv.URL+"/api/events/progress?guid=other&token=secret", nil)
		req.Header.Set("Origin", "https://elsewhere.example.com")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q, want none", got)
		}
	})
}

func TestBearerAuth(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		url    string
		header string
		want   int
	}{
		{"no_token_configured", "", "/", "", http.StatusOK},
		{"bearer_header", "secret", "/", "Bearer secret", http.StatusOK},
		{"wrong_bearer", "secret", "/", "Bearer wrong", http.StatusUnauthorized},
		{"basic_scheme_rejected", "secret", "/", "Basic c2VjcmV0", http.StatusUnauthorized},
		{"eventsource_query_token", "secret", "/?token=secret", "", http.StatusOK},
		{"missing", "secret", "/", "", http.StatusUnauthorized},
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			BearerAuth(tt.token)(ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized {
				var body ErrorResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Message != "unauthorized" {
					t.Errorf("body = %q", rec.Body.String())
				}
			}
		})
	}
}

func TestRecovererInRouter(t *testing.T) {
	panicking := funcRunner(func(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
		panic("runner exploded")
	})
	router := newMiddlewareRouter(&config.Config{}, panicking, io.Discard)

	req := httptest.NewRequest("POST", "/api/transcriptions",
		strings.NewReader(`{"videoURL":"https://youtu.be/abc","guid":"c1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Message != "internal server error" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("request id header missing on recovered response")
	}
}

func TestRecovererRepanicsAbort(t *testing.T) {
	aborter := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})
	defer func() {
		if rv := recover(); rv != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rv)
		}
	}()
	Recoverer(aborter).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}
