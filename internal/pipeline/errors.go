package pipeline

import (
	"errors"
)

// Kind classifies a pipeline failure by the stage that produced it.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindExtraction
	KindDownload
	KindTranscription
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindExtraction:
		return "extraction"
	case KindDownload:
		return "download"
	case KindTranscription:
		return "transcription"
	default:
		return "internal"
	}
}

// Kind sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrExtraction    = &Error{Kind: KindExtraction}
	ErrDownload      = &Error{Kind: KindDownload}
	ErrTranscription = &Error{Kind: KindTranscription}
	ErrInternal      = &Error{Kind: KindInternal}
)

// Client-facing messages. Stage details (stderr, exit codes, HTTP statuses)
// stay in Err and the logs.
const (
	MsgMissingVideoURL  = "No video URL provided!"
	MsgMissingClientID  = "No GUID provided!"
	MsgExtractionFailed = "Could not retrieve audio for this video."
	MsgDownloadFailed   = "Failed to download the video's audio."
	MsgTranscribeFailed = "Failed to transcribe the video's audio."
	MsgInternal         = "Encountered error while processing video!"
)

// Error is returned by Orchestrator.Run for every failed run.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	s := e.Kind.String() + " error"
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// MessageOf returns the client-facing message for err.
func MessageOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	return MsgInternal
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}
