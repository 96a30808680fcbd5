package runtime

import (
	"context"
	"fmt"
	"io"

	"github.com/justapithecus/burrow/log"
	"github.com/justapithecus/burrow/types"
	"github.com/justapithecus/burrow/worker"
)

// InProcessConfig configures the in-process spawner.
type InProcessConfig struct {
	// NewDispatcher builds the dispatcher for each new worker.
	NewDispatcher func() (*worker.Dispatcher, error)
	// Logger receives lifecycle diagnostics.
	Logger *log.Logger
}

// InProcess returns a Spawner that runs each worker on its own goroutine.
// The worker shares no memory with the caller: requests and responses cross
// a pair of pipes as frames.
func InProcess(cfg InProcessConfig) Spawner {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return func(ctx context.Context, l Listeners) (Worker, error) {
		if cfg.NewDispatcher == nil {
			return nil, fmt.Errorf("in-process spawner has no dispatcher factory")
		}
		d, err := cfg.NewDispatcher()
		if err != nil {
			return nil, fmt.Errorf("build dispatcher: %w", err)
		}

		reqR, reqW := io.Pipe()
		respR, respW := io.Pipe()
		wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

		w := &inProcessWorker{
			ch:     newChannel(reqW, l, logger),
			reqW:   reqW,
			respR:  respR,
			cancel: cancel,
		}

		go func() {
			err := serveRecovered(wctx, d, reqR, respW)
			if err == nil {
				err = ErrWorkerExited
			}
			_ = reqR.CloseWithError(err)
			_ = respW.CloseWithError(err)
		}()
		go func() {
			w.ch.fail(w.ch.readLoop(respR))
		}()

		logger.Debug("in-process worker started", nil)
		return w, nil
	}
}

func serveRecovered(ctx context.Context, d *worker.Dispatcher, r io.Reader, w io.Writer) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("worker panicked: %v", p)
		}
	}()
	return d.Serve(ctx, r, w)
}

type inProcessWorker struct {
	ch     *channel
	reqW   *io.PipeWriter
	respR  *io.PipeReader
	cancel context.CancelFunc
}

func (w *inProcessWorker) Post(req *types.Request) error {
	return w.ch.post(req)
}

func (w *inProcessWorker) Terminate() error {
	if !w.ch.terminate() {
		return nil
	}
	w.cancel()
	_ = w.reqW.CloseWithError(ErrTerminated)
	return w.respR.CloseWithError(ErrTerminated)
}
