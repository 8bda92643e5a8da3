package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/notescribe/internal/config"
)

func TestTranscriptKey(t *testing.T) {
	at := time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{"plain", "Some Talk [abc123]", "2024-03-10/Some Talk [abc123].txt"},
		{"slashes_replaced", "AC/DC - Live", "2024-03-10/AC_DC - Live.txt"},
		{"leading_dots_trimmed", "../secret", "2024-03-10/_secret.txt"},
		{"empty", "  ", "2024-03-10/transcript.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TranscriptKey(tt.filename, at); got != tt.want {
				t.Errorf("TranscriptKey(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(dir)
	ctx := context.Background()
	key := "2024-03-10/talk.txt"

	if s.Exists(ctx, key) {
		t.Fatal("Exists before Save")
	}
	if err := s.Save(ctx, key, []byte("hello"), ContentTypeText); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.Exists(ctx, key) {
		t.Fatal("Exists after Save = false")
	}

	rc, err := s.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello" {
		t.Errorf("data = %q", data)
	}

	// Overwrite leaves no temp files behind.
	if err := s.Save(ctx, key, []byte("again"), ContentTypeText); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "2024-03-10"))
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
	if s.Type() != "local" || s.dir != dir {
		t.Errorf("Type/dir = %q/%q", s.Type(), s.dir)
	}
}

func TestNew(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s, err := New(config.S3Config{}, "", zerolog.Nop())
		if err != nil || s != nil {
			t.Errorf("New = %v, %v; want nil, nil", s, err)
		}
	})

	t.Run("local", func(t *testing.T) {
		s, err := New(config.S3Config{}, t.TempDir(), zerolog.Nop())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if s.Type() != "local" {
			t.Errorf("Type = %q", s.Type())
		}
	})

	t.Run("s3_preferred", func(t *testing.T) {
		srv, _ := fakeS3(t)
		s, err := New(s3Config(srv.URL, ""), t.TempDir(), zerolog.Nop())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if s.Type() != "s3" {
			t.Errorf("Type = %q", s.Type())
		}
	})

	t.Run("s3_unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()
		if _, err := New(s3Config(srv.URL, ""), "", zerolog.Nop()); err == nil {
			t.Error("expected startup check error")
		}
	})
}

func TestS3Store(t *testing.T) {
	srv, objects := fakeS3(t)
	s, err := NewS3Store(s3Config(srv.URL, "notes"), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	ctx := context.Background()

	if err := s.Save(ctx, "2024-03-10/talk.txt", []byte("hello"), ContentTypeText); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok := objects.get("/transcripts-bucket/notes/transcripts/2024-03-10/talk.txt")
	if !ok {
		t.Fatalf("object not stored; have %v", objects.keys())
	}
	if string(got) != "hello" {
		t.Errorf("stored %q", got)
	}
	if !s.Exists(ctx, "2024-03-10/talk.txt") {
		t.Error("Exists = false after Save")
	}
	if s.Exists(ctx, "2024-03-10/missing.txt") {
		t.Error("Exists = true for missing key")
	}

	rc, err := s.Open(ctx, "2024-03-10/talk.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello" {
		t.Errorf("Open read %q", data)
	}
}

func TestS3ObjectKey(t *testing.T) {
	s := &S3Store{}
	if got := s.objectKey("a/b.txt"); got != "transcripts/a/b.txt" {
		t.Errorf("objectKey = %q", got)
	}
	s.prefix = "env"
	if got := s.objectKey("a/b.txt"); got != "env/transcripts/a/b.txt" {
		t.Errorf("objectKey = %q", got)
	}
}

func s3Config(endpoint, prefix string) config.S3Config {
	return config.S3Config{
		Bucket:    "transcripts-bucket",
		Endpoint:  endpoint,
		Region:    "us-east-1",
		AccessKey: "test",
		SecretKey: "test",
		Prefix:    prefix,
	}
}

type objectMap struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (o *objectMap) get(k string) ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.m[k]
	return v, ok
}

func (o *objectMap) keys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for k := range o.m {
		out = append(out, k)
	}
	return out
}

// fakeS3 serves a minimal path-style S3 API: HEAD bucket, PUT/GET/HEAD object.
func fakeS3(t *testing.T) (*httptest.Server, *objectMap) {
	t.Helper()
	objects := &objectMap{m: make(map[string][]byte)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		isBucket := strings.Count(strings.Trim(p, "/"), "/") == 0
		switch {
		case r.Method == http.MethodHead && isBucket:
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects.mu.Lock()
			objects.m[p] = body
			objects.mu.Unlock()
			w.Header().Set("ETag", `"etag"`)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodHead || r.Method == http.MethodGet:
			body, ok := objects.get(p)
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", ContentTypeText)
			if r.Method == http.MethodGet {
				w.Write(body)
			}
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, objects
}
