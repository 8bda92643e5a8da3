// Package pipeline drives a single request from a video URL to a transcript:
// extract the audio resource, download it to scratch storage, transcribe it,
// and clean up, reporting progress to the client's stream along the way.
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/notescribe/internal/download"
	"github.com/snarg/notescribe/internal/extract"
	"github.com/snarg/notescribe/internal/metrics"
	"github.com/snarg/notescribe/internal/transcribe"
)

// Downloader fetches a remote resource to a local path.
// *download.Downloader implements it.
type Downloader interface {
	Download(ctx context.Context, url, dest string, onProgress download.ProgressFunc) error
}

// Request is the input of one pipeline run.
type Request struct {
	VideoURL string
	ClientID string
}

// Result is the output of a completed run. Ownership passes to the caller.
type Result struct {
	FilenameWithoutExtension string
	TranscribedText          string
	Asset                    extract.AudioAsset
	CompletionTimeMs         int64
	ThumbnailURL             string
}

// Options configures an Orchestrator.
type Options struct {
	Extractor   extract.Extractor
	Downloader  Downloader
	Transcriber transcribe.Transcriber
	Progress    Emitter
	ScratchDir  string
	Log         zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
	// OnTransition, when set, is called on every state change.
	OnTransition func(clientID string, from, to State)
}

// Orchestrator runs pipelines. It holds no per-run state and is safe for
// concurrent use.
type Orchestrator struct {
	opts      Options
	log       zerolog.Logger
	now       func() time.Time
	removeAll func(string) error
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	return &Orchestrator{
		opts:      opts,
		log:       opts.Log.With().Str("component", "pipeline").Logger(),
		now:       now,
		removeAll: os.RemoveAll,
	}
}

// Validate checks req without running anything. Run performs the same check.
func Validate(req Request) error {
	if err := validate(req); err != nil {
		return err
	}
	return nil
}

func validate(req Request) *Error {
	if strings.TrimSpace(req.VideoURL) == "" {
		return newError(KindValidation, MsgMissingVideoURL, errors.New("video url is empty"))
	}
	if strings.TrimSpace(req.ClientID) == "" {
		return newError(KindValidation, MsgMissingClientID, errors.New("client id is empty"))
	}
	return nil
}

// run holds the state of a single pipeline execution.
type run struct {
	o         *Orchestrator
	req       Request
	log       zerolog.Logger
	state     State
	rep       *reporter
	workDir   string
	enteredAt time.Time
}

func (r *run) transition(to State) {
	from := r.state
	now := r.o.now()
	if from != StateInit && !from.Terminal() {
		metrics.PipelineStageDuration.WithLabelValues(from.String()).Observe(now.Sub(r.enteredAt).Seconds())
	}
	r.state = to
	r.enteredAt = now
	r.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("pipeline state")
	if r.o.opts.OnTransition != nil {
		r.o.opts.OnTransition(r.req.ClientID, from, to)
	}
}

func (r *run) fail(err *Error) (*Result, error) {
	r.transition(StateFailed)
	metrics.PipelineRunsTotal.WithLabelValues("failed").Inc()
	metrics.PipelineFailuresTotal.WithLabelValues(err.Kind.String()).Inc()
	return nil, err
}

// Run executes the pipeline for req. On success the final progress value
// 100 has been delivered before Run returns. On failure no progress is
// reported after the failing stage and the returned error is an *Error.
// Scratch files are removed on every path.
//
// Run does not stop on its own when a client disconnects; ctx cancellation
// is the caller's policy.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	r := &run{
		o:         o,
		req:       req,
		state:     StateInit,
		enteredAt: o.now(),
		log: o.log.With().
			Str("client_id", req.ClientID).
			Str("video_url", req.VideoURL).
			Logger(),
	}

	if err := validate(req); err != nil {
		return r.fail(err)
	}

	metrics.PipelinesActive.Inc()
	defer metrics.PipelinesActive.Dec()

	r.rep = newReporter(req.ClientID, o.opts.Progress)
	defer r.rep.close()
	defer r.cleanup()

	return r.execute(ctx)
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	o := r.o

	// Extract
	r.transition(StateExtracting)
	asset, err := o.opts.Extractor.Extract(ctx, r.req.VideoURL)
	if err != nil {
		r.log.Error().Err(err).Msg("audio extraction failed")
		return r.fail(newError(KindExtraction, MsgExtractionFailed, err))
	}
	if asset == nil || asset.ResourceURL == "" {
		err := errors.New("extractor returned no audio resource")
		r.log.Error().Err(err).Msg("audio extraction failed")
		return r.fail(newError(KindExtraction, MsgExtractionFailed, err))
	}
	r.log = r.log.With().Str("filename", asset.Filename).Logger()

	// Download
	r.transition(StateDownloading)
	workDir, err := os.MkdirTemp(o.opts.ScratchDir, workDirPattern)
	if err != nil {
		r.log.Error().Err(err).Str("scratch_dir", o.opts.ScratchDir).Msg("create scratch directory")
		return r.fail(newError(KindInternal, MsgInternal, err))
	}
	r.workDir = workDir
	audioPath := filepath.Join(workDir, scratchName(asset.Filename))

	downloadStart := o.now()
	var downloaded int64
	err = o.opts.Downloader.Download(ctx, asset.ResourceURL, audioPath, func(written, total int64) {
		downloaded = written
		if asset.SizeBytes > 0 {
			total = asset.SizeBytes
		}
		r.rep.report(downloadPercent(written, total))
	})
	metrics.DownloadedBytesTotal.Add(float64(downloaded))
	if err != nil {
		r.log.Error().Err(err).Int64("bytes", downloaded).Msg("audio download failed")
		return r.fail(newError(KindDownload, MsgDownloadFailed, err))
	}
	downloadDur := o.now().Sub(downloadStart)
	r.rep.report(percentDownloaded)
	r.log.Info().
		Int64("bytes", downloaded).
		Dur("duration", downloadDur).
		Msg("audio downloaded")

	// Transcribe
	r.transition(StateTranscribing)
	transcribeStart := o.now()
	text, err := o.opts.Transcriber.Transcribe(ctx, audioPath,
		func(p int) {
			r.rep.report(transcribePercent(p))
			r.log.Debug().Int("percent", p).Msg("transcription progress")
		},
		func(chunk string) {
			r.log.Trace().Int("bytes", len(chunk)).Msg("transcript chunk")
		},
	)
	if err != nil {
		ev := r.log.Error().Err(err)
		var te *transcribe.Error
		if errors.As(err, &te) {
			ev = ev.Int("exit_code", te.ExitCode).Str("stderr", te.Stderr)
		}
		ev.Msg("transcription failed")
		return r.fail(newError(KindTranscription, MsgTranscribeFailed, err))
	}
	transcribeDur := o.now().Sub(transcribeStart)

	// Finalize
	r.transition(StateFinalizing)
	completion := downloadDur + transcribeDur
	r.removeScratch()
	r.rep.report(percentComplete)

	res := &Result{
		FilenameWithoutExtension: trimExt(asset.Filename),
		TranscribedText:          text,
		Asset:                    *asset,
		CompletionTimeMs:         completion.Milliseconds(),
		ThumbnailURL:             asset.ThumbnailURL,
	}
	r.transition(StateComplete)
	metrics.PipelineRunsTotal.WithLabelValues("complete").Inc()
	r.log.Info().
		Dur("download", downloadDur).
		Dur("transcribe", transcribeDur).
		Int("transcript_bytes", len(text)).
		Msg("pipeline complete")
	return res, nil
}

// removeScratch deletes the run's scratch directory and reports whether it
// is gone. Safe to call repeatedly.
func (r *run) removeScratch() bool {
	if r.workDir == "" {
		return true
	}
	if err := r.o.removeAll(r.workDir); err != nil {
		r.log.Warn().Err(err).Str("dir", r.workDir).Msg("remove scratch directory")
		return false
	}
	r.workDir = ""
	return true
}

// cleanup is the last removal attempt of a run. A directory that survives
// it is counted and left to the Sweeper.
func (r *run) cleanup() {
	if !r.removeScratch() {
		metrics.ScratchCleanupFailuresTotal.Inc()
		r.log.Error().Str("dir", r.workDir).Msg("scratch directory outlived its run")
	}
}

// scratchName reduces an extracted filename to a single safe path element.
func scratchName(name string) string {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == "" {
		return "audio"
	}
	return base
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
