package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/notescribe/internal/config"
)

// ContentTypeText is the content type of archived transcripts.
const ContentTypeText = "text/plain; charset=utf-8"

// TranscriptStore abstracts transcript archive backends.
type TranscriptStore interface {
	// Save stores data under key. key format: {YYYY-MM-DD}/{filename}.txt
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Open returns a reader for a stored transcript.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if a transcript is stored under key.
	Exists(ctx context.Context, key string) bool

	// Type returns "local" or "s3".
	Type() string
}

// New creates a TranscriptStore based on config. S3 wins when a bucket is
// configured; otherwise transcriptDir selects the local store. It returns
// nil, nil when archiving is disabled, and an error if S3 is configured but
// unreachable.
func New(cfg config.S3Config, transcriptDir string, log zerolog.Logger) (TranscriptStore, error) {
	if !cfg.Enabled() {
		if transcriptDir == "" {
			return nil, nil
		}
		log.Info().Str("dir", transcriptDir).Msg("archiving transcripts to local directory")
		return NewLocalStore(transcriptDir), nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")
	return s3store, nil
}

// TranscriptKey builds the archive key for a transcript completed at t.
func TranscriptKey(filename string, t time.Time) string {
	return path.Join(t.UTC().Format("2006-01-02"), safeName(filename)+".txt")
}

func safeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "transcript"
	}
	return name
}
