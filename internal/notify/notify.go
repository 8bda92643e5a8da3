// Package notify fans a completed transcription out to the optional
// downstream collaborators: usage analytics, the completion topic and the
// transcript archive. Collaborators run concurrently and their failures are
// logged, never returned to the requester.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/notescribe/internal/database"
	"github.com/snarg/notescribe/internal/metrics"
	"github.com/snarg/notescribe/internal/mqttclient"
	"github.com/snarg/notescribe/internal/storage"
)

const DefaultTimeout = 30 * time.Second

// Completion describes one successful pipeline run.
type Completion struct {
	ClientID     string
	Filename     string // without extension
	Title        string
	VideoID      string
	Transcript   string
	CompletionMs int64
	CompletedAt  time.Time
}

// Collaborator receives completions.
type Collaborator interface {
	Name() string
	Notify(ctx context.Context, c Completion) error
}

// Dispatcher runs every collaborator for each completion in the background.
type Dispatcher struct {
	collabs []Collaborator
	timeout time.Duration
	log     zerolog.Logger
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a dispatcher. nil collaborators are skipped.
func NewDispatcher(timeout time.Duration, log zerolog.Logger, collabs ...Collaborator) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &Dispatcher{
		timeout: timeout,
		log:     log.With().Str("component", "notify").Logger(),
	}
	for _, c := range collabs {
		if c != nil {
			d.collabs = append(d.collabs, c)
		}
	}
	return d
}

// Names lists the enabled collaborators.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.collabs))
	for _, c := range d.collabs {
		names = append(names, c.Name())
	}
	return names
}

// Dispatch starts one goroutine per collaborator and returns immediately.
// Completions arriving after Close are dropped.
func (d *Dispatcher) Dispatch(c Completion) {
	if c.CompletedAt.IsZero() {
		c.CompletedAt = time.Now()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.Warn().Str("filename", c.Filename).Msg("dispatcher closed, completion dropped")
		return
	}
	for _, collab := range d.collabs {
		d.wg.Add(1)
		go d.run(collab, c)
	}
}

func (d *Dispatcher) run(collab Collaborator, c Completion) {
	defer d.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	start := time.Now()
	if err := collab.Notify(ctx, c); err != nil {
		metrics.CollaboratorErrorsTotal.WithLabelValues(collab.Name()).Inc()
		d.log.Warn().Err(err).
			Str("collaborator", collab.Name()).
			Str("filename", c.Filename).
			Msg("collaborator failed")
		return
	}
	d.log.Debug().
		Str("collaborator", collab.Name()).
		Dur("duration", time.Since(start)).
		Msg("collaborator done")
}

// Wait blocks until all dispatched notifications have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close refuses further completions and waits for the ones already dispatched.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

// ── collaborators ────────────────────────────────────────────────────

// UsageRecorder is the subset of *database.DB used for analytics.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, e database.UsageEvent) (int64, error)
}

// Usage records a "video" usage event per completion.
type Usage struct{ DB UsageRecorder }

func (u Usage) Name() string { return "usage" }

func (u Usage) Notify(ctx context.Context, c Completion) error {
	_, err := u.DB.RecordUsage(ctx, database.UsageEvent{
		Filename:     c.Filename,
		SourceKind:   database.SourceVideo,
		CompletionMs: c.CompletionMs,
	})
	return err
}

// CompletionPublisher is the subset of *mqttclient.Client used here.
type CompletionPublisher interface {
	PublishCompletion(ctx context.Context, msg mqttclient.Completion) error
}

// Publish announces completions on the MQTT topic.
type Publish struct{ Client CompletionPublisher }

func (p Publish) Name() string { return "mqtt" }

func (p Publish) Notify(ctx context.Context, c Completion) error {
	return p.Client.PublishCompletion(ctx, mqttclient.Completion{
		ClientID:     c.ClientID,
		Filename:     c.Filename,
		Title:        c.Title,
		VideoID:      c.VideoID,
		CompletionMs: c.CompletionMs,
		TextBytes:    len(c.Transcript),
		CompletedAt:  c.CompletedAt,
	})
}

// Archive stores the transcript text.
type Archive struct{ Store storage.TranscriptStore }

func (a Archive) Name() string { return "archive-" + a.Store.Type() }

func (a Archive) Notify(ctx context.Context, c Completion) error {
	key := storage.TranscriptKey(c.Filename, c.CompletedAt)
	return a.Store.Save(ctx, key, []byte(c.Transcript), storage.ContentTypeText)
}
