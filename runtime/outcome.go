package runtime

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// Exit codes of the worker process.
const (
	ExitCodeClean        = 0 // input closed, all requests answered
	ExitCodeFault        = 1 // protocol or channel fault
	ExitCodeCrash        = 2 // panic outside request handling
	ExitCodeInvalidInput = 3 // invalid arguments or configuration
)

// ExitError describes a worker process that exited on its own.
type ExitError struct {
	ExitCode int
	// Stderr is the last line the worker wrote to stderr, if any.
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("worker exited with code %d (%s)", e.ExitCode, describeExitCode(e.ExitCode))
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap lets errors.Is(err, ErrWorkerExited) match process exits.
func (e *ExitError) Unwrap() error { return ErrWorkerExited }

func describeExitCode(code int) string {
	switch code {
	case ExitCodeClean:
		return "clean"
	case ExitCodeFault:
		return "channel fault"
	case ExitCodeCrash:
		return "crash"
	case ExitCodeInvalidInput:
		return "invalid input"
	case -1:
		return "killed"
	default:
		return "unknown"
	}
}

// exitCode extracts the exit status from an exec.Cmd.Wait error.
func exitCode(err error) (int, error) {
	if err == nil {
		return ExitCodeClean, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, fmt.Errorf("worker wait failed: %w", err)
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		return status.ExitStatus(), nil
	}
	return -1, nil
}
