package transfer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/italolelis/model_downloader/internal/event"
	"github.com/italolelis/model_downloader/internal/logctx"
	"github.com/italolelis/model_downloader/internal/transfer/progress"
)

const defaultPollInterval = 500 * time.Millisecond

// Attempt describes a single run of an external transfer tool.
type Attempt struct {
	Method string
	Args   []string
	SizeGB float64
}

// Runner executes transfer attempts.
type Runner interface {
	Run(ctx context.Context, a Attempt, state *State, emit func(event.Event)) error
}

// Supervisor runs an external transfer tool, turns the progress it writes to
// stderr into events, and stops it on cancellation.
type Supervisor struct {
	// PollInterval bounds how long a silent stream may stay open after the
	// process has exited before the attempt is considered finished.
	PollInterval time.Duration
	// Timeout is an absolute deadline per attempt. Zero disables it.
	Timeout time.Duration
}

// NewSupervisor creates a supervisor.
func NewSupervisor(pollInterval, timeout time.Duration) *Supervisor {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Supervisor{PollInterval: pollInterval, Timeout: timeout}
}

// Run executes the attempt and blocks until it ends. It returns nil when the
// tool exited with status zero, ErrCancelled after emitting a Cancelled
// event, ctx.Err() when ctx ends first, or a *TransferError.
func (s *Supervisor) Run(ctx context.Context, a Attempt, state *State, emit func(event.Event)) error {
	logger := logctx.LoggerFromContext(ctx).With("method", a.Method)

	if len(a.Args) == 0 {
		return &TransferError{Method: a.Method, ExitCode: -1, Reason: "empty command"}
	}

	r, w, err := os.Pipe()
	if err != nil {
		return &TransferError{Method: a.Method, ExitCode: -1, Reason: "failed to create pipe", Err: err}
	}
	defer r.Close()

	cmd := exec.Command(a.Args[0], a.Args[1:]...)
	cmd.Stderr = w

	logger.InfoContext(ctx, "executing transfer", "command", strings.Join(a.Args, " "))

	if err := cmd.Start(); err != nil {
		w.Close()

		return &TransferError{Method: a.Method, ExitCode: -1, Reason: "failed to start", Err: err}
	}

	// The child holds its own copy of the write end.
	w.Close()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	stop := make(chan struct{})
	defer close(stop)

	lines := readLines(r, stop)

	tracker := progress.NewTracker(a.SizeGB)
	state.SetProgress(0)

	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if s.Timeout > 0 {
		timer := time.NewTimer(s.Timeout)
		defer timer.Stop()

		deadline = timer.C
	}

	var (
		exited       bool
		streamClosed bool
		quiet        bool
		waitErr      error
	)

	kill := func() {
		if exited {
			return
		}

		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logger.WarnContext(ctx, "failed to kill transfer process", "err", err)
		}

		waitErr = <-waitCh
		exited = true
	}

loop:
	for {
		select {
		case <-state.Cancelled():
			kill()
			logger.InfoContext(ctx, "transfer cancelled")
			emit(event.Cancelled{Message: "Cancelled by user"})

			return ErrCancelled
		case <-ctx.Done():
			kill()

			return ctx.Err()
		case <-deadline:
			kill()

			return &TransferError{Method: a.Method, ExitCode: -1, Reason: fmt.Sprintf("attempt deadline of %s exceeded", s.Timeout)}
		case err := <-waitCh:
			exited = true
			waitErr = err
			waitCh = nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				streamClosed = true

				break
			}

			quiet = false

			logger.DebugContext(ctx, "transfer output", "line", line)

			pct, ok := progress.Parse(line)
			if !ok {
				break
			}

			if sample, ok := tracker.Observe(pct); ok {
				state.SetProgress(sample.Percent)
				emit(event.Progress{
					Progress:   sample.Percent,
					SpeedMBps:  sample.SpeedMBps,
					ETASeconds: sample.ETASeconds,
					Method:     a.Method,
				})
			}
		case <-ticker.C:
			// A descendant may keep stderr open after the tool exits. Stop
			// once a full interval passes without output.
			if exited && quiet {
				break loop
			}

			quiet = true
		}

		if exited && streamClosed {
			break
		}
	}

	if state.IsCancelled() {
		emit(event.Cancelled{Message: "Cancelled by user"})

		return ErrCancelled
	}

	if waitErr != nil {
		code := -1

		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}

		return &TransferError{Method: a.Method, ExitCode: code, Reason: "process exited with non-zero status", Err: waitErr}
	}

	return nil
}

// readLines delivers the lines of r until EOF, a read error or stop.
func readLines(r io.Reader, stop <-chan struct{}) <-chan string {
	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(r)
		scanner.Split(scanProgressLines)

		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}

		// Keep the pipe drained so the tool never blocks on a full buffer.
		if scanner.Err() != nil {
			_, _ = io.Copy(io.Discard, r)
		}
	}()

	return lines
}

// scanProgressLines is a bufio.SplitFunc that treats both '\n' and '\r' as
// line terminators, since progress bars redraw with carriage returns.
func scanProgressLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, bytes.TrimSpace(data[:i]), nil
	}

	if atEOF {
		return len(data), bytes.TrimSpace(data), nil
	}

	return 0, nil, nil
}
