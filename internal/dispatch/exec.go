package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"syscall"
	"time"
)

// ExecRuntime runs tasks as local OS processes, each in a per-service work
// directory. It is meant for development and single-host deployments.
type ExecRuntime struct {
	WorkDir string
}

// NewExecRuntime creates a process-based runtime rooted at workDir.
func NewExecRuntime(workDir string) *ExecRuntime {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "flowplane", "runner")
	}
	return &ExecRuntime{WorkDir: workDir}
}

var pathUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Start implements Runtime.Start using os/exec.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("command is required")
	}

	dir := filepath.Join(e.WorkDir, serviceDir(opts.ServiceID))
	if opts.Workdir != "" {
		// Clean against "/" so the node cannot escape its service directory.
		dir = filepath.Join(dir, filepath.Clean("/"+opts.Workdir))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	out := newOutputBuffer()

	cmd := exec.CommandContext(ctx, opts.Command[0], opts.Command[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), envList(opts.Env)...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	h := &ExecHandle{cmd: cmd, out: out, done: make(chan struct{})}
	go func() {
		h.err = cmd.Wait()
		out.Close()
		close(h.done)
	}()
	return h, nil
}

func serviceDir(serviceID string) string {
	if serviceID == "" {
		return "_"
	}
	return pathUnsafe.ReplaceAllString(serviceID, "_")
}

// ExecHandle is a running process.
type ExecHandle struct {
	cmd  *exec.Cmd
	out  *outputBuffer
	done chan struct{}
	err  error
}

func (h *ExecHandle) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}

	if h.err == nil {
		return ExitResult{ExitCode: 0}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(h.err, &exitErr) {
		return ExitResult{ExitCode: exitErr.ExitCode(), Error: h.err}, nil
	}
	return ExitResult{ExitCode: -1, Error: h.err}, h.err
}

// Stop sends SIGTERM and escalates to SIGKILL if the process outlives ctx.
func (h *ExecHandle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return h.cmd.Process.Kill()
	}
}

func (h *ExecHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return h.out.reader(), nil
}

// outputBuffer collects process output and lets any number of readers follow
// it until the process exits.
type outputBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	closed bool
}

func newOutputBuffer() *outputBuffer {
	b := &outputBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.data = append(b.data, p...)
	b.mu.Unlock()
	b.cond.Broadcast()
	return len(p), nil
}

func (b *outputBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

func (b *outputBuffer) reader() *followReader {
	return &followReader{buf: b}
}

type followReader struct {
	buf     *outputBuffer
	off     int
	stopped bool
}

func (r *followReader) Read(p []byte) (int, error) {
	b := r.buf
	b.mu.Lock()
	defer b.mu.Unlock()

	for r.off >= len(b.data) && !b.closed && !r.stopped {
		b.cond.Wait()
	}
	if r.off >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[r.off:])
	r.off += n
	return n, nil
}

// Close unblocks a pending Read.
func (r *followReader) Close() error {
	r.buf.mu.Lock()
	r.stopped = true
	r.buf.mu.Unlock()
	r.buf.cond.Broadcast()
	return nil
}
