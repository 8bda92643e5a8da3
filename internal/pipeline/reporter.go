package pipeline

import (
	"sync"

	"github.com/snarg/notescribe/internal/metrics"
	"github.com/snarg/notescribe/internal/progress"
)

// Emitter delivers a progress event to whichever sink currently holds the
// client id. *progress.Registry implements it.
type Emitter interface {
	Emit(e progress.Event) bool
}

const reporterBuffer = 128

// Progress checkpoints on the unified 0–100 scale.
const (
	percentDownloaded     = 50
	percentUnknownSize    = 25
	percentTranscribeBase = 50
	percentComplete       = 100
)

// downloadPercent maps downloaded bytes onto [0, 50].
func downloadPercent(written, total int64) int {
	if total <= 0 {
		return percentUnknownSize
	}
	if written <= 0 {
		return 0
	}
	if written >= total {
		return percentDownloaded
	}
	return int(written * percentDownloaded / total)
}

// transcribePercent maps a transcription stage percent onto [50, 100].
func transcribePercent(p int) int {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return percentTranscribeBase + p/2
}

// reporter decouples progress production from delivery. Values pass
// through a buffered channel to a single forwarder goroutine, which resolves
// the client's sink per event so a reconnecting client picks up the stream.
// Only strictly increasing values are forwarded.
type reporter struct {
	clientID string
	emitter  Emitter

	mu     sync.Mutex
	last   int
	closed bool
	ch     chan int
	done   chan struct{}
}

func newReporter(clientID string, emitter Emitter) *reporter {
	r := &reporter{
		clientID: clientID,
		emitter:  emitter,
		ch:       make(chan int, reporterBuffer),
		done:     make(chan struct{}),
	}
	go r.forward()
	return r
}

func (r *reporter) forward() {
	defer close(r.done)
	for p := range r.ch {
		if r.emitter == nil {
			continue
		}
		if r.emitter.Emit(progress.Event{ClientID: r.clientID, Percent: p}) {
			metrics.ProgressEventsTotal.WithLabelValues("delivered").Inc()
		} else {
			metrics.ProgressEventsTotal.WithLabelValues("dropped").Inc()
		}
	}
}

// report queues p if it exceeds every value reported so far.
func (r *reporter) report(p int) {
	if p > percentComplete {
		p = percentComplete
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || p <= r.last {
		return
	}
	r.last = p
	r.ch <- p
}

// close stops accepting values and waits for queued ones to be delivered.
func (r *reporter) close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	r.mu.Unlock()
	<-r.done
}
