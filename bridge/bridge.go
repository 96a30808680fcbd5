// Package bridge proxies storage operations to an isolated worker.
//
// A Bridge owns at most one worker at a time, created on first use and
// replaced after it dies. Each call gets a fresh correlation id and a
// single-shot completion channel; responses are matched back by id, so any
// number of goroutines can share the worker and settle in any order.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/burrow/adapter"
	"github.com/justapithecus/burrow/ipc"
	"github.com/justapithecus/burrow/log"
	"github.com/justapithecus/burrow/metrics"
	"github.com/justapithecus/burrow/runtime"
	"github.com/justapithecus/burrow/types"
)

// DefaultNotifyTimeout bounds a change notification.
const DefaultNotifyTimeout = 5 * time.Second

// Config configures a Bridge.
type Config struct {
	// Spawner creates workers (required).
	Spawner runtime.Spawner
	// Logger receives lifecycle diagnostics. Nil discards them.
	Logger *log.Logger
	// Collector counts calls and worker lifecycle events. May be nil.
	Collector *metrics.Collector
	// Notifier, when set, is told about every successful mutation.
	Notifier adapter.Adapter
	// NotifyTimeout bounds each notification (default 5s).
	NotifyTimeout time.Duration
	// Backend labels change notifications.
	Backend string
	// RejectOnCrash fails the pending calls of a dead worker with
	// ErrWorkerLost. By default they are abandoned: they never settle and
	// only their context releases the caller.
	RejectOnCrash bool
	// NewID generates correlation ids (default uuid.NewString).
	NewID func() string
}

type result struct {
	resp *types.Response
	err  error
}

// call is a pending call entry.
type call struct {
	op   types.OpType
	gen  uint64
	done chan result // buffered 1; settled at most once
}

// Bridge is safe for concurrent use.
type Bridge struct {
	spawn         runtime.Spawner
	logger        *log.Logger
	collector     *metrics.Collector
	notifier      adapter.Adapter
	notifyTimeout time.Duration
	backend       string
	rejectOnCrash bool
	newID         func() string

	mu      sync.Mutex
	worker  runtime.Worker
	gen     uint64
	pending map[string]*call
	closed  bool
}

// New creates a Bridge. No worker is started until the first call.
func New(cfg Config) (*Bridge, error) {
	if cfg.Spawner == nil {
		return nil, errors.New("bridge requires a spawner")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	timeout := cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	return &Bridge{
		spawn:         cfg.Spawner,
		logger:        logger,
		collector:     cfg.Collector,
		notifier:      cfg.Notifier,
		notifyTimeout: timeout,
		backend:       cfg.Backend,
		rejectOnCrash: cfg.RejectOnCrash,
		newID:         newID,
		pending:       make(map[string]*call),
	}, nil
}

// Init prepares the store.
func (b *Bridge) Init(ctx context.Context) error {
	_, err := b.call(ctx, &types.Request{Type: types.OpInit})
	return err
}

// List returns the visible file names in locale order.
func (b *Bridge) List(ctx context.Context) ([]string, error) {
	resp, err := b.call(ctx, &types.Request{Type: types.OpList})
	if err != nil {
		return nil, err
	}
	names := []string{}
	if err := ipc.DecodeData(resp, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// Create writes content to fileName, creating it if needed, and returns the
// stored name.
func (b *Bridge) Create(ctx context.Context, fileName, content string) (string, error) {
	resp, err := b.call(ctx, &types.Request{Type: types.OpCreate, FileName: fileName, Content: content})
	if err != nil {
		return "", err
	}
	var name string
	if err := ipc.DecodeData(resp, &name); err != nil {
		return "", err
	}
	return name, nil
}

// Read returns the content of an existing file.
func (b *Bridge) Read(ctx context.Context, fileName string) (string, error) {
	resp, err := b.call(ctx, &types.Request{Type: types.OpRead, FileName: fileName})
	if err != nil {
		return "", err
	}
	var content string
	if err := ipc.DecodeData(resp, &content); err != nil {
		return "", err
	}
	return content, nil
}

// Update replaces the content of an existing file.
func (b *Bridge) Update(ctx context.Context, fileName, content string) error {
	_, err := b.call(ctx, &types.Request{Type: types.OpUpdate, FileName: fileName, Content: content})
	return err
}

// Delete removes an existing file.
func (b *Bridge) Delete(ctx context.Context, fileName string) error {
	_, err := b.call(ctx, &types.Request{Type: types.OpDelete, FileName: fileName})
	return err
}

// Outstanding reports how many calls are waiting for a response.
func (b *Bridge) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close terminates the live worker and fails every pending call with
// ErrClosed. Later calls fail with ErrClosed.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	w := b.worker
	b.worker = nil
	pending := b.pending
	b.pending = make(map[string]*call)
	b.mu.Unlock()

	for _, c := range pending {
		c.done <- result{err: ErrClosed}
	}

	var err error
	if w != nil {
		err = w.Terminate()
	}
	if b.notifier != nil {
		err = errors.Join(err, b.notifier.Close())
	}
	return err
}

// call posts req and waits for its response. Failure responses come back
// as *RemoteError.
func (b *Bridge) call(ctx context.Context, req *types.Request) (*types.Response, error) {
	if req.Type.NeedsFileName() && req.FileName == "" {
		return nil, fmt.Errorf("%s: %w", req.Type, ErrEmptyFileName)
	}

	w, c, err := b.register(ctx, req)
	if err != nil {
		return nil, err
	}
	b.collector.IncCallIssued(string(req.Type))

	// A full pipe blocks Post; the caller's context still bounds the call.
	posted := make(chan error, 1)
	go func() { posted <- w.Post(req) }()

	for {
		select {
		case err := <-posted:
			if err != nil {
				return nil, b.postFailed(req, err)
			}
			posted = nil
		case r := <-c.done:
			return b.settle(ctx, req, r)
		case <-ctx.Done():
			// The worker may still run the operation; its reply will be stale.
			b.forget(req.CorrelationID)
			b.collector.IncCallCanceled()
			return nil, ctx.Err()
		}
	}
}

// postFailed releases the entry of a request that never reached the worker.
// A request too large to frame is the caller's fault, not the worker's.
func (b *Bridge) postFailed(req *types.Request, err error) error {
	b.forget(req.CorrelationID)
	var frameErr *ipc.FrameError
	if errors.As(err, &frameErr) && frameErr.Kind == ipc.FrameErrorTooLarge {
		b.collector.IncCallFailed()
		return fmt.Errorf("%s %s: %w: %w", req.Type, req.FileName, ErrRequestTooLarge, err)
	}
	b.collector.IncPostFailure()
	return fmt.Errorf("%s: %w: %w", req.Type, ErrWorkerLost, err)
}

// register assigns a correlation id and records the pending entry against
// the live worker, spawning one if the slot is empty.
func (b *Bridge) register(ctx context.Context, req *types.Request) (runtime.Worker, *call, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, ErrClosed
	}
	w, err := b.workerLocked(ctx)
	if err != nil {
		return nil, nil, err
	}

	id := b.newID()
	for b.pending[id] != nil {
		id = b.newID()
	}
	req.CorrelationID = id

	c := &call{op: req.Type, gen: b.gen, done: make(chan result, 1)}
	b.pending[id] = c
	return w, c, nil
}

// workerLocked returns the live worker, spawning one if needed.
// Must hold b.mu.
func (b *Bridge) workerLocked(ctx context.Context) (runtime.Worker, error) {
	if b.worker != nil {
		return b.worker, nil
	}

	gen := b.gen + 1
	w, err := b.spawn(ctx, runtime.Listeners{
		OnMessage: func(resp *types.Response) { b.onMessage(gen, resp) },
		OnError:   func(err error) { b.onError(gen, err) },
	})
	if err != nil {
		b.collector.IncWorkerSpawnFailure()
		b.logger.Error("failed to start worker", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("start worker: %w", err)
	}

	b.gen = gen
	b.worker = w
	b.collector.IncWorkerSpawn()
	b.logger.Debug("worker started", map[string]any{"generation": gen})
	return w, nil
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (b *Bridge) onMessage(gen uint64, resp *types.Response) {
	b.mu.Lock()
	c, ok := b.pending[resp.CorrelationID]
	if ok && c.gen == gen {
		delete(b.pending, resp.CorrelationID)
	}
	b.mu.Unlock()

	if !ok || c.gen != gen {
		b.collector.IncStaleResponse()
		b.logger.Debug("discarding response without pending call", map[string]any{
			"correlation_id": resp.CorrelationID,
			"generation":     gen,
		})
		return
	}
	c.done <- result{resp: resp}
}

// onError retires the worker of generation gen. Its pending calls are
// abandoned, or rejected with ErrWorkerLost when configured.
func (b *Bridge) onError(gen uint64, err error) {
	b.mu.Lock()
	var dead runtime.Worker
	if b.gen == gen && b.worker != nil {
		dead = b.worker
		b.worker = nil
	}
	var lost []*call
	for id, c := range b.pending {
		if c.gen == gen {
			lost = append(lost, c)
			delete(b.pending, id)
		}
	}
	b.mu.Unlock()

	b.collector.IncWorkerCrash()
	b.logger.Error("worker crashed", map[string]any{
		"generation": gen,
		"error":      err.Error(),
		"pending":    len(lost),
		"rejected":   b.rejectOnCrash,
	})

	if dead != nil {
		_ = dead.Terminate()
	}

	if !b.rejectOnCrash {
		b.collector.AddCallsAbandoned(len(lost))
		return
	}
	for _, c := range lost {
		c.done <- result{err: fmt.Errorf("%w: %w", ErrWorkerLost, err)}
	}
}

func (b *Bridge) settle(ctx context.Context, req *types.Request, r result) (*types.Response, error) {
	if r.err != nil {
		b.collector.IncCallFailed()
		return nil, fmt.Errorf("%s: %w", req.Type, r.err)
	}
	if !r.resp.OK {
		b.collector.IncCallFailed()
		return nil, &RemoteError{Op: req.Type, Message: r.resp.Error}
	}
	b.collector.IncCallSucceeded()
	if req.Type.Mutates() {
		b.notify(ctx, req)
	}
	return r.resp, nil
}

// notify publishes a change event. Failures are logged, never returned.
func (b *Bridge) notify(ctx context.Context, req *types.Request) {
	if b.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.notifyTimeout)
	defer cancel()

	event := adapter.NewFileChangedEvent(string(req.Type), req.FileName, b.backend, req.CorrelationID, time.Now())
	if err := b.notifier.Publish(nctx, event); err != nil {
		b.collector.IncNotifyFailure()
		b.logger.Warn("change notification failed", map[string]any{
			"op":        string(req.Type),
			"file_name": req.FileName,
			"error":     err.Error(),
		})
		return
	}
	b.collector.IncNotifySuccess()
}
