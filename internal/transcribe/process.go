package transcribe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	readSize       = 4096
	maxStderrBytes = 64 * 1024
)

// ProcessOptions configures a ProcessTranscriber.
type ProcessOptions struct {
	Command string   // executable, e.g. "python3"
	Args    []string // leading arguments; the audio path is appended last
	Env     []string // extra KEY=VALUE entries added to the inherited environment
	Log     zerolog.Logger
}

// ProcessTranscriber runs one external process per file and reads the
// transcript from its standard output.
type ProcessTranscriber struct {
	opts ProcessOptions
	log  zerolog.Logger
}

// NewProcessTranscriber creates a transcriber for the given command.
func NewProcessTranscriber(opts ProcessOptions) *ProcessTranscriber {
	return &ProcessTranscriber{
		opts: opts,
		log:  opts.Log.With().Str("component", "transcriber").Logger(),
	}
}

// Transcribe runs the process against audioPath. Both output streams are
// fully drained and the process is waited on before any result is returned.
func (p *ProcessTranscriber) Transcribe(ctx context.Context, audioPath string, onProgress func(int), onText func(string)) (string, error) {
	args := append(append([]string(nil), p.opts.Args...), audioPath)
	cmd := exec.CommandContext(ctx, p.opts.Command, args...)
	if len(p.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), p.opts.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", &Error{ExitCode: -1, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", &Error{ExitCode: -1, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return "", &Error{ExitCode: -1, Err: err}
	}
	p.log.Debug().Str("command", p.opts.Command).Str("input", audioPath).Int("pid", cmd.Process.Pid).Msg("transcription process started")

	var (
		diag bytes.Buffer
		wg   sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		io.Copy(&diag, io.LimitReader(stderr, maxStderrBytes))
		io.Copy(io.Discard, stderr)
	}()

	var text strings.Builder
	buf := make([]byte, readSize)
	first := true
	var readErr error
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if first {
				first = false
				report(onProgress, CheckpointFirstOutput)
			}
			chunk := string(buf[:n])
			text.WriteString(chunk)
			if onText != nil {
				onText(chunk)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = err
			io.Copy(io.Discard, stdout)
			break
		}
	}

	wg.Wait()
	waitErr := cmd.Wait()
	stderrText := strings.TrimSpace(diag.String())

	if waitErr != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		return "", &Error{ExitCode: code, Stderr: stderrText, Err: waitErr}
	}
	if readErr != nil {
		return "", &Error{ExitCode: -1, Stderr: stderrText, Err: readErr}
	}
	if stderrText != "" {
		return "", &Error{ExitCode: 0, Stderr: stderrText}
	}

	report(onProgress, CheckpointDone)
	return text.String(), nil
}

func report(fn func(int), percent int) {
	if fn != nil {
		fn(percent)
	}
}
