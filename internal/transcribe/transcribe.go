// Package transcribe runs an external speech-to-text process against a local
// audio file and streams its text output.
package transcribe

import (
	"context"
	"errors"
	"fmt"
)

// ErrTranscription is matched by every failure returned from a Transcriber.
var ErrTranscription = errors.New("transcription failed")

// Stage-local checkpoints reported through the progress callback.
const (
	CheckpointFirstOutput = 50
	CheckpointDone        = 100
)

// Transcriber converts an audio file to text.
//
// onProgress receives stage-local percentages (0-100): CheckpointFirstOutput
// when the first text arrives and CheckpointDone only after the process has
// exited successfully. onText receives every chunk as it is read. On failure
// the partial transcript is discarded.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, onProgress func(percent int), onText func(chunk string)) (string, error)
}

// Error describes a failed transcription process.
type Error struct {
	ExitCode int    // -1 when the process could not be started or waited on
	Stderr   string // diagnostic output, for operators only
	Err      error
}

func (e *Error) Error() string {
	msg := "transcription process"
	if e.ExitCode > 0 {
		msg = fmt.Sprintf("%s exited with status %d", msg, e.ExitCode)
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	} else {
		msg = msg + " wrote to stderr"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports every *Error as ErrTranscription.
func (e *Error) Is(target error) bool { return target == ErrTranscription }
