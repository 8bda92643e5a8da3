package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// YtdlpExtractor shells out to yt-dlp and reads its single-JSON dump.
type YtdlpExtractor struct {
	path     string
	baseArgs []string
	format   string
	log      zerolog.Logger
}

// NewYtdlpExtractor creates an extractor using the yt-dlp binary at path and
// the given format selector (e.g. "bestaudio").
func NewYtdlpExtractor(path, format string, log zerolog.Logger) *YtdlpExtractor {
	if path == "" {
		path = "yt-dlp"
	}
	if format == "" {
		format = "bestaudio"
	}
	return &YtdlpExtractor{
		path:   path,
		format: format,
		log:    log.With().Str("component", "extractor").Logger(),
	}
}

func (e *YtdlpExtractor) args(videoURL string) []string {
	args := append([]string(nil), e.baseArgs...)
	return append(args,
		"--dump-single-json",
		"--no-playlist",
		"--no-warnings",
		"-f", e.format,
		videoURL,
	)
}

// Extract runs yt-dlp without downloading and returns the requested audio
// download. The returned resource URL is time-limited.
func (e *YtdlpExtractor) Extract(ctx context.Context, videoURL string) (*AudioAsset, error) {
	cmd := exec.CommandContext(ctx, e.path, e.args(videoURL)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		diag := strings.TrimSpace(stderr.String())
		e.log.Warn().Err(err).Str("url", videoURL).Str("stderr", diag).Msg("yt-dlp failed")
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &Error{URL: videoURL, Err: fmt.Errorf("yt-dlp exited with status %d", exitErr.ExitCode())}
		}
		return nil, &Error{URL: videoURL, Err: err}
	}

	asset, err := parseInfo(stdout.Bytes(), videoURL)
	if err != nil {
		return nil, &Error{URL: videoURL, Err: err}
	}
	e.log.Debug().
		Str("video_id", asset.SourceVideoID).
		Str("filename", asset.Filename).
		Int64("size_bytes", asset.SizeBytes).
		Msg("audio resolved")
	return asset, nil
}

// ytdlpInfo is the subset of yt-dlp's info dict that we read.
type ytdlpInfo struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	FullTitle          string `json:"fulltitle"`
	Thumbnail          string `json:"thumbnail"`
	RequestedDownloads []struct {
		URL            string  `json:"url"`
		Filename       string  `json:"_filename"`
		AltFilename    string  `json:"filename"`
		Ext            string  `json:"ext"`
		Filesize       float64 `json:"filesize"`
		FilesizeApprox float64 `json:"filesize_approx"`
	} `json:"requested_downloads"`
}

func parseInfo(data []byte, videoURL string) (*AudioAsset, error) {
	var info ytdlpInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode yt-dlp output: %w", err)
	}
	if len(info.RequestedDownloads) == 0 {
		return nil, errors.New("no requested download in yt-dlp output")
	}
	dl := info.RequestedDownloads[0]
	if dl.URL == "" {
		return nil, errors.New("requested download has no url")
	}

	filename := dl.Filename
	if filename == "" {
		filename = dl.AltFilename
	}
	filename = filepath.Base(filename)
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		if info.ID == "" {
			return nil, errors.New("requested download has no filename")
		}
		ext := dl.Ext
		if ext == "" {
			ext = "m4a"
		}
		filename = info.ID + "." + ext
	}

	size := dl.Filesize
	if size <= 0 {
		size = dl.FilesizeApprox
	}

	title := info.FullTitle
	if title == "" {
		title = info.Title
	}

	return &AudioAsset{
		ResourceURL:   dl.URL,
		Filename:      filename,
		SizeBytes:     int64(size),
		Title:         title,
		SourceVideoID: info.ID,
		SourceURL:     videoURL,
		ThumbnailURL:  info.Thumbnail,
	}, nil
}
