// Package runtime owns the lifecycle of isolated workers: spawning them,
// carrying frames to and from them, and reporting when they die.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/justapithecus/burrow/ipc"
	"github.com/justapithecus/burrow/log"
	"github.com/justapithecus/burrow/types"
)

// ErrTerminated is returned by Post after Terminate.
var ErrTerminated = errors.New("worker terminated")

// ErrWorkerExited reports that a worker closed its channel without being
// asked to.
var ErrWorkerExited = errors.New("worker exited")

// Worker is a live isolated context.
type Worker interface {
	// Post sends a request. It does not wait for the response.
	Post(req *types.Request) error
	// Terminate stops the worker. Listeners are not invoked afterwards.
	Terminate() error
}

// Listeners receive everything a worker emits. Both are invoked from the
// worker's reader goroutine, never from Spawn itself.
type Listeners struct {
	// OnMessage receives each decoded response.
	OnMessage func(*types.Response)
	// OnError receives the worker's uncaught error. It fires at most once,
	// after which the worker is dead.
	OnError func(error)
}

// Spawner starts a new worker wired to the given listeners.
// The worker outlives ctx; ctx only bounds the spawn itself.
type Spawner func(ctx context.Context, l Listeners) (Worker, error)

// channel is the parent side of a worker's frame pipe.
type channel struct {
	enc       *ipc.FrameEncoder
	listeners Listeners
	logger    *log.Logger

	terminated atomic.Bool
	failOnce   sync.Once
}

func newChannel(w io.Writer, l Listeners, logger *log.Logger) *channel {
	if logger == nil {
		logger = log.Nop()
	}
	return &channel{
		enc:       ipc.NewFrameEncoder(w),
		listeners: l,
		logger:    logger,
	}
}

func (c *channel) post(req *types.Request) error {
	if c.terminated.Load() {
		return ErrTerminated
	}
	if err := c.enc.Encode(req); err != nil {
		return fmt.Errorf("post %s request: %w", req.Type, err)
	}
	return nil
}

// readLoop delivers responses until the stream ends and returns the reason
// it stopped. A clean EOF is reported as ErrWorkerExited.
func (c *channel) readLoop(r io.Reader) error {
	dec := ipc.NewFrameDecoder(r)
	for {
		payload, err := dec.ReadFrame()
		if err == io.EOF {
			return ErrWorkerExited
		}
		if err != nil {
			return err
		}
		resp, err := ipc.DecodeResponse(payload)
		if err != nil {
			c.logger.Warn("dropping undecodable response", map[string]any{
				"error": err.Error(),
			})
			continue
		}
		if c.terminated.Load() {
			continue
		}
		if c.listeners.OnMessage != nil {
			c.listeners.OnMessage(resp)
		}
	}
}

// fail reports err once, unless the worker was terminated on purpose.
func (c *channel) fail(err error) {
	if c.terminated.Load() {
		return
	}
	c.failOnce.Do(func() {
		c.logger.Warn("worker failed", map[string]any{"error": err.Error()})
		if c.listeners.OnError != nil {
			c.listeners.OnError(err)
		}
	})
}

// terminate marks the channel dead and reports whether this call did it.
func (c *channel) terminate() bool {
	return c.terminated.CompareAndSwap(false, true)
}
