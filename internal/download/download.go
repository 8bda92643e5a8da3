// Package download streams a remote resource to a local file with
// byte-granular progress reporting.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// ChunkSize is the read size of the copy loop. Progress is reported after
// every chunk.
const ChunkSize = 32 * 1024

// DefaultUserAgent is sent unless the caller overrides it.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ErrDownload is matched by every failure returned from Download.
var ErrDownload = errors.New("download failed")

// ProgressFunc receives the bytes written so far and the total size, or -1
// when the server did not declare one.
type ProgressFunc func(written, total int64)

// Error wraps the cause of a failed transfer.
type Error struct {
	Op  string // "request", "status", "create", "read", "write"
	Err error
}

func (e *Error) Error() string {
	return "download " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports every *Error as ErrDownload.
func (e *Error) Is(target error) bool { return target == ErrDownload }

// Downloader copies HTTP resources to disk.
type Downloader struct {
	client    *http.Client
	userAgent string
}

// New creates a Downloader. A nil client uses one with no overall timeout,
// since audio payloads can take minutes; cancellation comes from ctx.
func New(client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{
			Timeout: 0,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		}
	}
	return &Downloader{client: client, userAgent: DefaultUserAgent}
}

// Download streams url into dest, calling onProgress after each chunk.
// A partially written dest is left in place on failure; removing it is the
// caller's responsibility.
func (d *Downloader) Download(ctx context.Context, url, dest string, onProgress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Error{Op: "request", Err: err}
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return &Error{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: "status", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	file, err := os.Create(dest)
	if err != nil {
		return &Error{Op: "create", Err: err}
	}

	if err := copyWithProgress(file, resp.Body, resp.ContentLength, onProgress); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return &Error{Op: "write", Err: err}
	}
	return nil
}

func copyWithProgress(dst io.Writer, src io.Reader, total int64, onProgress ProgressFunc) error {
	buf := make([]byte, ChunkSize)
	var written int64

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return &Error{Op: "write", Err: err}
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return &Error{Op: "read", Err: readErr}
		}
	}

	if total > 0 && written < total {
		return &Error{Op: "read", Err: fmt.Errorf("short body: got %d of %d bytes", written, total)}
	}
	return nil
}
