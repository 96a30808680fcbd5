package bridge

import (
	"errors"

	"github.com/justapithecus/burrow/types"
)

var (
	// ErrWorkerLost is returned, with RejectOnCrash, to calls whose worker
	// died before answering. It also wraps failures to post a request.
	ErrWorkerLost = errors.New("worker lost")
	// ErrClosed is returned by calls made after, or pending during, Close.
	ErrClosed = errors.New("bridge closed")
	// ErrEmptyFileName is returned without contacting the worker when an
	// operation that needs a file name gets an empty one.
	ErrEmptyFileName = errors.New("fileName is required")
	// ErrRequestTooLarge is returned when a request does not fit in one
	// frame. Nothing reaches the worker.
	ErrRequestTooLarge = errors.New("request exceeds the maximum frame size")
)

// RemoteError is a failure reported by the worker. Message is the worker's
// error text, verbatim.
type RemoteError struct {
	Op      types.OpType
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}
