package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Options configures one ffmpeg invocation.
type Options struct {
	Command string
	Args    []string
	// Stdin opens a pipe to the process's standard input.
	Stdin bool
	// Stdout receives the output instead of a pipe. Exited then closes only after
	// everything was copied.
	Stdout io.Writer
	// ExtraFiles are inherited as fd 3, 4, ... (ffmpeg reads them as pipe:3, pipe:4).
	ExtraFiles []*os.File
	// StartupWait is how long Start watches for an immediate exit.
	StartupWait time.Duration
	// StopGrace is how long Stop waits after SIGINT before killing.
	StopGrace time.Duration
}

// Process is a running ffmpeg child.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser

	stderr  *stderrLog
	process *os.Process
	waitErr <-chan error
	exited  chan struct{}
	exitErr error
	grace   time.Duration

	stopOnce sync.Once
	stopErr  error
}

// Start launches ffmpeg and fails if it exits during the startup window.
func Start(ctx context.Context, opts Options) (*Process, error) {
	if opts.Command == "" {
		opts.Command = "ffmpeg"
	}
	if opts.StartupWait <= 0 {
		opts.StartupWait = 250 * time.Millisecond
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 1200 * time.Millisecond
	}

	cmd := exec.CommandContext(ctx, opts.Command, opts.Args...)
	stderr := newStderrLog()
	cmd.Stderr = stderr
	cmd.ExtraFiles = opts.ExtraFiles

	var stdin io.WriteCloser
	if opts.Stdin {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create ffmpeg stdin pipe: %w", err)
		}
		stdin = pipe
	}
	var stdout io.ReadCloser
	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	} else {
		pipe, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
		}
		stdout = pipe
	}
	if err := cmd.Start(); err != nil {
		return nil, &StartError{Err: err}
	}

	waitErr := make(chan error, 1)
	p := &Process{
		Stdin:   stdin,
		Stdout:  stdout,
		stderr:  stderr,
		process: cmd.Process,
		waitErr: waitErr,
		exited:  make(chan struct{}),
		grace:   opts.StopGrace,
	}
	go func() {
		err := cmd.Wait()
		p.exitErr = err
		close(p.exited)
		waitErr <- err
		close(waitErr)
	}()

	select {
	case <-p.exited:
		if p.exitErr != nil {
			return nil, &StartError{Err: p.exitErr, Stderr: stderr.String()}
		}
		return nil, &StartError{Err: errors.New("ffmpeg exited before capture started"), Stderr: stderr.String()}
	case <-time.After(opts.StartupWait):
	}

	return p, nil
}

// StartError is returned when ffmpeg cannot be launched or dies immediately.
type StartError struct {
	Err    error
	Stderr string
}

func (e *StartError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("failed to start ffmpeg: %v", e.Err)
	}
	return fmt.Sprintf("ffmpeg exited before capture started: %v: %s", e.Err, trimSpace(e.Stderr))
}

func (e *StartError) Unwrap() error { return e.Err }

// Exited is closed when the process has exited for any reason.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Stderr returns the tail of ffmpeg's diagnostic output.
func (p *Process) Stderr() string {
	return p.stderr.String()
}

// OutputVideo waits until ffmpeg reports its first output video stream.
func (p *Process) OutputVideo(timeout time.Duration) (StreamInfo, error) {
	select {
	case <-p.stderr.videoReady:
		return p.stderr.video(), nil
	case <-p.exited:
		select {
		case <-p.stderr.videoReady:
			return p.stderr.video(), nil
		default:
		}
		return StreamInfo{}, ErrNoVideoStream
	case <-time.After(timeout):
		return StreamInfo{}, ErrNoVideoStream
	}
}

// Stop asks ffmpeg to finish (SIGINT, or EOF on stdin when piped) and kills it after
// the grace window.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		if p.Stdin != nil {
			_ = p.Stdin.Close()
		} else if p.process != nil {
			_ = p.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-p.waitErr:
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		case <-time.After(p.grace):
			if p.process != nil {
				_ = p.process.Kill()
			}
			err, ok := <-p.waitErr
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		}

		if p.Stdout != nil {
			if closeErr := p.Stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				if p.stopErr == nil {
					p.stopErr = closeErr
				}
			}
		}

		if p.stopErr != nil {
			if tail := p.stderr.String(); tail != "" {
				p.stopErr = fmt.Errorf("%w: %s", p.stopErr, trimSpace(tail))
			}
		}
	})

	return p.stopErr
}

// Kill terminates ffmpeg immediately.
func (p *Process) Kill() error {
	if p.process == nil {
		return nil
	}
	select {
	case <-p.exited:
		return nil
	default:
	}
	if err := p.process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimSpace(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
