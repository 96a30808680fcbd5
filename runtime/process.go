package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/justapithecus/burrow/log"
	"github.com/justapithecus/burrow/types"
)

// ProcessConfig configures the child-process spawner.
type ProcessConfig struct {
	// Path is the worker binary. Empty means the running executable.
	Path string
	// Args are passed to the binary, typically the hidden worker subcommand
	// and its storage flags.
	Args []string
	// Env entries are appended to the inherited environment; later entries
	// win over inherited ones with the same key.
	Env []string
	// Logger receives lifecycle diagnostics and relayed worker stderr.
	Logger *log.Logger
}

// Process returns a Spawner that runs each worker as a child process.
// Requests go to the child's stdin, responses come back on its stdout and
// stderr is relayed line by line into the logger.
func Process(cfg ProcessConfig) Spawner {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return func(_ context.Context, l Listeners) (Worker, error) {
		path := cfg.Path
		if path == "" {
			exe, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("resolve worker binary: %w", err)
			}
			path = exe
		}

		// Not CommandContext: the worker must outlive the call that spawned it.
		cmd := exec.Command(path, cfg.Args...)
		if len(cfg.Env) > 0 {
			cmd.Env = deduplicateEnv(append(os.Environ(), cfg.Env...))
		}

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
		}

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start worker: %w", err)
		}

		w := &processWorker{
			cmd:    cmd,
			stdin:  stdin,
			ch:     newChannel(stdin, l, logger),
			logger: logger.With(map[string]any{"worker_pid": cmd.Process.Pid}),
		}
		w.logger.Debug("worker process started", map[string]any{"path": path})

		stderrDone := make(chan struct{})
		go func() {
			defer close(stderrDone)
			w.relayStderr(stderr)
		}()
		go func() {
			streamErr := w.ch.readLoop(stdout)
			if !errors.Is(streamErr, ErrWorkerExited) {
				// The channel is unusable; don't leave the child running.
				_ = w.cmd.Process.Kill()
			}
			// Wait closes the stdout pipe, so it must follow the reader.
			<-stderrDone
			w.ch.fail(w.wait(streamErr))
		}()

		return w, nil
	}
}

type processWorker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	ch     *channel
	logger *log.Logger

	mu         sync.Mutex
	lastStderr string
}

func (w *processWorker) Post(req *types.Request) error {
	return w.ch.post(req)
}

// Terminate kills the worker. Reaping happens on the reader goroutine.
func (w *processWorker) Terminate() error {
	if !w.ch.terminate() {
		return nil
	}
	_ = w.stdin.Close()
	if err := w.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill worker: %w", err)
	}
	return nil
}

func (w *processWorker) relayStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		w.mu.Lock()
		w.lastStderr = line
		w.mu.Unlock()
		w.logger.Debug("worker stderr", map[string]any{"line": line})
	}
}

// wait reaps the process and turns its exit into the error reported to the
// listener. A stream fault takes precedence over the exit status.
func (w *processWorker) wait(streamErr error) error {
	code, waitErr := exitCode(w.cmd.Wait())
	if waitErr != nil {
		return errors.Join(streamErr, waitErr)
	}
	w.mu.Lock()
	exitErr := &ExitError{ExitCode: code, Stderr: w.lastStderr}
	w.mu.Unlock()
	w.logger.Debug("worker process exited", map[string]any{"exit_code": code})
	if errors.Is(streamErr, ErrWorkerExited) {
		return exitErr
	}
	return fmt.Errorf("%w (%w)", streamErr, exitErr)
}

// deduplicateEnv keeps the last occurrence of each env var key.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}
