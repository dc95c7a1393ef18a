// Package process spawns and supervises local MCP server subprocesses.
package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	// GracefulShutdownTimeout is how long to wait for SIGTERM before SIGKILL.
	GracefulShutdownTimeout = 5 * time.Second

	// DefaultStderrCapture is how many leading stderr bytes are kept for diagnostics.
	DefaultStderrCapture = 4096

	maxLogLines = 1000
	// maxStderrLine bounds one captured stderr line; the excess is dropped.
	maxStderrLine = 1024 * 1024
)

// Spec describes a subprocess to start.
type Spec struct {
	Command string
	Args    []string
	// Env holds explicit overrides. They are merged after the inherited
	// environment has been filtered, so they always reach the child.
	Env map[string]string
	Dir string

	// StderrCapture bounds the stderr prefix kept for diagnostics.
	StderrCapture int
	// OnStderr, if set, is called for every stderr line.
	OnStderr func(line string)

	Logger *slog.Logger
}

// StartError is returned when the process could not be spawned at all.
type StartError struct {
	Command string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Command, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Process is a running subprocess with piped stdio.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	logger *slog.Logger

	startedAt time.Time
	done      chan struct{} // closed when process exits
	waitErr   error

	stderrMu   sync.RWMutex
	stderrHead []byte
	stderrCap  int
	logs       []string
	stderrDone chan struct{}

	stopMu  sync.Mutex
	stopped bool
}

// Start spawns the process described by spec.
func Start(ctx context.Context, spec Spec) (*Process, error) {
	if spec.Command == "" {
		return nil, &StartError{Command: spec.Command, Err: errors.New("empty command")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &StartError{Command: spec.Command, Err: err}
	}

	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("starting process", "cmd", spec.Command, "args", spec.Args)

	// Not CommandContext: ctx bounds the spawn, not the process lifetime.
	cmd := exec.Command(spec.Command, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	cmd.Env = BuildEnv(spec.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &StartError{Command: spec.Command, Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	// Plain os.Pipes instead of StdoutPipe/StderrPipe: Wait closes those as
	// soon as the child exits, which would race the reader for the final bytes.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &StartError{Command: spec.Command, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdout, stdoutW)
		return nil, &StartError{Command: spec.Command, Err: fmt.Errorf("stderr pipe: %w", err)}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdin, stdout, stdoutW, stderr, stderrW)
		return nil, &StartError{Command: spec.Command, Err: err}
	}
	// The child holds its own copies of the write ends.
	closeAll(stdoutW, stderrW)

	capture := spec.StderrCapture
	if capture <= 0 {
		capture = DefaultStderrCapture
	}

	p := &Process{
		cmd:        cmd,
		stdin:      stdin,
		stdout:     stdout,
		logger:     logger,
		startedAt:  time.Now(),
		done:       make(chan struct{}),
		stderrCap:  capture,
		stderrDone: make(chan struct{}),
	}

	go p.readStderr(stderr, spec.OnStderr)
	go p.watch()

	logger.Debug("process started", "cmd", spec.Command, "pid", cmd.Process.Pid)
	return p, nil
}

// Stdin returns the write end of the child's stdin.
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the read end of the child's stdout.
func (p *Process) Stdout() io.ReadCloser { return p.stdout }

// PID returns the process ID.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// StartedAt returns when the process started.
func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitStatus describes how the process ended.
type ExitStatus struct {
	Code   int
	Signal string
	Err    error
}

// ExitStatus returns the exit details. ok is false while the process runs.
func (p *Process) ExitStatus() (status ExitStatus, ok bool) {
	if !p.Exited() {
		return ExitStatus{}, false
	}
	status.Err = p.waitErr
	status.Code = -1
	if p.cmd.ProcessState != nil {
		status.Code = p.cmd.ProcessState.ExitCode()
		if ws, isWS := p.cmd.ProcessState.Sys().(syscall.WaitStatus); isWS && ws.Signaled() {
			status.Signal = ws.Signal().String()
		}
	}
	return status, true
}

// Stderr returns the captured leading bytes of the child's stderr.
func (p *Process) Stderr() string {
	p.stderrMu.RLock()
	defer p.stderrMu.RUnlock()
	return string(p.stderrHead)
}

// WaitStderr waits until stderr has been drained or the timeout passes, so
// diagnostics built right after an exit see the complete output.
func (p *Process) WaitStderr(timeout time.Duration) {
	select {
	case <-p.stderrDone:
	case <-time.After(timeout):
	}
}

// Logs returns the most recent stderr lines.
func (p *Process) Logs() []string {
	p.stderrMu.RLock()
	defer p.stderrMu.RUnlock()
	logs := make([]string, len(p.logs))
	copy(logs, p.logs)
	return logs
}

// Stop closes stdin, sends SIGTERM and, if the process has not exited within
// grace, SIGKILL. It blocks until the process is reaped.
func (p *Process) Stop(grace time.Duration) error {
	p.stopMu.Lock()
	if p.stopped {
		p.stopMu.Unlock()
		<-p.done
		return nil
	}
	p.stopped = true
	p.stopMu.Unlock()

	if grace <= 0 {
		grace = GracefulShutdownTimeout
	}

	_ = p.stdin.Close()
	if p.Exited() || p.cmd.Process == nil {
		return nil
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Debug("SIGTERM failed", "pid", p.PID(), "err", err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	p.logger.Warn("process ignored SIGTERM, killing", "pid", p.PID(), "grace", grace)
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("shutdown: kill pid %d: %w", p.PID(), err)
	}
	<-p.done
	return nil
}

func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}

// readStderr captures the stderr prefix and the recent line history. It reads
// until EOF so the child never sees a broken pipe on stderr.
func (p *Process) readStderr(stderr *os.File, onLine func(string)) {
	defer close(p.stderrDone)
	defer stderr.Close()

	r := bufio.NewReaderSize(stderr, 64*1024)
	for {
		line, err := readLine(r, maxStderrLine)
		if err == nil || line != "" {
			p.addStderrLine(line, onLine)
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			p.logger.Debug("stderr read failed", "pid", p.PID(), "err", err)
			_, _ = io.Copy(io.Discard, stderr)
		}
		return
	}
}

func (p *Process) addStderrLine(line string, onLine func(string)) {
	p.stderrMu.Lock()
	if room := p.stderrCap - len(p.stderrHead); room > 0 {
		chunk := line + "\n"
		if len(chunk) > room {
			chunk = chunk[:room]
		}
		p.stderrHead = append(p.stderrHead, chunk...)
	}
	p.logs = append(p.logs, line)
	// Keep only last 1000 lines
	if len(p.logs) > maxLogLines {
		p.logs = p.logs[len(p.logs)-maxLogLines:]
	}
	p.stderrMu.Unlock()

	if onLine != nil {
		onLine(line)
	}
}

// readLine reads one line without its terminator. At most limit bytes are
// kept; the rest of a longer line is consumed and dropped.
func readLine(r *bufio.Reader, limit int) (string, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if room := limit - len(buf); room > 0 {
			buf = append(buf, chunk[:min(len(chunk), room)]...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		buf = bytes.TrimSuffix(buf, []byte("\n"))
		buf = bytes.TrimSuffix(buf, []byte("\r"))
		return string(buf), err
	}
}

// watch reaps the process and records its exit.
func (p *Process) watch() {
	err := p.cmd.Wait()
	p.waitErr = err
	close(p.done)

	status, _ := p.ExitStatus()
	p.logger.Debug("process exited", "pid", p.PID(), "code", status.Code, "signal", status.Signal)
}
