package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justapithecus/burrow/adapter"
	"github.com/justapithecus/burrow/ipc"
	"github.com/justapithecus/burrow/runtime"
	"github.com/justapithecus/burrow/types"
)

// fakeWorker records posted requests; tests answer them through the
// listeners the bridge attached.
type fakeWorker struct {
	l          runtime.Listeners
	posted     chan *types.Request
	postErr    error
	postGate   chan struct{}
	terminated atomic.Bool
}

func (w *fakeWorker) Post(req *types.Request) error {
	if w.postGate != nil {
		<-w.postGate
	}
	if w.postErr != nil {
		return w.postErr
	}
	clone := *req
	w.posted <- &clone
	return nil
}

func (w *fakeWorker) Terminate() error {
	w.terminated.Store(true)
	return nil
}

// next returns the next posted request.
func (w *fakeWorker) next(t *testing.T) *types.Request {
	t.Helper()
	select {
	case req := <-w.posted:
		return req
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a posted request")
		return nil
	}
}

func (w *fakeWorker) succeed(t *testing.T, req *types.Request, payload any) {
	t.Helper()
	resp, err := ipc.NewSuccess(req.CorrelationID, payload)
	if err != nil {
		t.Fatal(err)
	}
	w.l.OnMessage(resp)
}

func (w *fakeWorker) fail(req *types.Request, msg string) {
	w.l.OnMessage(ipc.NewFailure(req.CorrelationID, msg))
}

func (w *fakeWorker) crash(err error) {
	w.l.OnError(err)
}

type fakeSpawner struct {
	mu      sync.Mutex
	workers []*fakeWorker
	err      error
	postErr  error
	postGate chan struct{}
}

func (s *fakeSpawner) spawn(_ context.Context, l runtime.Listeners) (runtime.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	w := &fakeWorker{l: l, posted: make(chan *types.Request, 256), postErr: s.postErr, postGate: s.postGate}
	s.workers = append(s.workers, w)
	return w, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

func (s *fakeSpawner) worker(t *testing.T, i int) *fakeWorker {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if i < len(s.workers) {
			w := s.workers[i]
			s.mu.Unlock()
			return w
		}
		s.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("worker %d never spawned", i)
	return nil
}

// async runs fn on a goroutine and returns its error on a channel.
func async(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}

func await(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("call did not return")
		return nil
	}
}

// recordingNotifier captures published events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []*adapter.FileChangedEvent
	err    error
	closed bool
}

func (n *recordingNotifier) Publish(_ context.Context, ev *adapter.FileChangedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

func (n *recordingNotifier) published() []*adapter.FileChangedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*adapter.FileChangedEvent(nil), n.events...)
}

var errCrash = errors.New("worker blew up")
