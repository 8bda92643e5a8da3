package pipeline

import "github.com/snarg/notescribe/internal/metrics"

// State is a step of a single pipeline run.
type State int

const (
	StateInit State = iota
	StateExtracting
	StateDownloading
	StateTranscribing
	StateFinalizing
	StateComplete
	StateFailed
)

var stateNames = [...]string{
	StateInit:         "init",
	StateExtracting:   "extracting",
	StateDownloading:  "downloading",
	StateTranscribing: "transcribing",
	StateFinalizing:   "finalizing",
	StateComplete:     "complete",
	StateFailed:       "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// TrackState keeps the pipelines_in_state gauge current. It is meant to be
// used as Options.OnTransition.
func TrackState(clientID string, from, to State) {
	if from != StateInit && !from.Terminal() {
		metrics.PipelinesInState.WithLabelValues(from.String()).Dec()
	}
	if to != StateInit && !to.Terminal() {
		metrics.PipelinesInState.WithLabelValues(to.String()).Inc()
	}
}
