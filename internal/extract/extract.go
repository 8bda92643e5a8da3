// Package extract resolves a video page URL to a directly downloadable audio
// resource and its metadata.
package extract

import (
	"context"
	"errors"
)

// ErrExtraction is matched by every failure returned from an Extractor.
var ErrExtraction = errors.New("extraction failed")

// AudioAsset describes the resolved audio resource of a video.
type AudioAsset struct {
	ResourceURL   string `json:"url"`
	Filename      string `json:"_filename"`
	SizeBytes     int64  `json:"filesize"`
	Title         string `json:"title"`
	SourceVideoID string `json:"video_id"`
	SourceURL     string `json:"original_url"`
	ThumbnailURL  string `json:"thumbnail"`
}

// Extractor resolves a video URL. Input is assumed to be validated upstream.
type Extractor interface {
	Extract(ctx context.Context, videoURL string) (*AudioAsset, error)
}

// Error wraps the underlying cause of an extraction failure.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return "extract " + e.URL + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports every *Error as ErrExtraction.
func (e *Error) Is(target error) bool { return target == ErrExtraction }
