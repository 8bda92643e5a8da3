package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/notescribe/internal/storage"
)

type brokenReader struct{}

func (brokenReader) Exists(ctx context.Context, key string) bool { return true }
func (brokenReader) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, errors.New("bucket unavailable")
}

func serveTranscript(t *testing.T, store TranscriptReader, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	NewTranscriptsHandler(store).Routes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func TestTranscriptsGet(t *testing.T) {
	store := storage.NewLocalStore(t.TempDir())
	key := storage.TranscriptKey("Some Talk [abc123]", time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC))
	if err := store.Save(context.Background(), key, []byte(" Hello world."), storage.ContentTypeText); err != nil {
		t.Fatal(err)
	}

	t.Run("archived", func(t *testing.T) {
		rec := serveTranscript(t, store, "/transcripts/2024-03-10/Some%20Talk%20%5Babc123%5D.txt")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		if rec.Body.String() != " Hello world." {
			t.Errorf("body = %q", rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != storage.ContentTypeText {
			t.Errorf("Content-Type = %q", ct)
		}
	})

	tests := []struct {
		name string
		path string
		want int
	}{
		{"missing", "/transcripts/2024-03-10/other.txt", http.StatusNotFound},
		{"bad_date", "/transcripts/yesterday/talk.txt", http.StatusBadRequest},
		{"not_txt", "/transcripts/2024-03-10/talk.json", http.StatusBadRequest},
		{"hidden_name", "/transcripts/2024-03-10/..txt", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveTranscript(t, store, tt.path)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	t.Run("open_failure", func(t *testing.T) {
		rec := serveTranscript(t, brokenReader{}, "/transcripts/2024-03-10/talk.txt")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})
}
