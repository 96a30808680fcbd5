package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/burrow/ipc"
	"github.com/justapithecus/burrow/metrics"
	"github.com/justapithecus/burrow/types"
)

func newTestBridge(t *testing.T, mutate func(*Config)) (*Bridge, *fakeSpawner, *metrics.Collector) {
	t.Helper()
	spawner := &fakeSpawner{}
	collector := metrics.NewCollector("fake", "memory")
	cfg := Config{Spawner: spawner.spawn, Collector: collector}
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, spawner, collector
}

func TestNew_RequiresSpawner(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New without spawner succeeded")
	}
}

func TestBridge_LazySingletonWorker(t *testing.T) {
	b, spawner, _ := newTestBridge(t, nil)
	if spawner.count() != 0 {
		t.Fatal("worker spawned before first call")
	}

	for i := range 3 {
		done := async(func() error { return b.Init(t.Context()) })
		w := spawner.worker(t, 0)
		req := w.next(t)
		if req.Type != types.OpInit {
			t.Fatalf("call %d posted %q, want init", i, req.Type)
		}
		w.succeed(t, req, nil)
		if err := await(t, done); err != nil {
			t.Fatalf("Init %d: %v", i, err)
		}
	}
	if n := spawner.count(); n != 1 {
		t.Errorf("spawned %d workers, want 1", n)
	}
}

func TestBridge_ProceduresDecodePayloads(t *testing.T) {
	b, spawner, _ := newTestBridge(t, nil)
	ctx := t.Context()

	var names []string
	done := async(func() (err error) { names, err = b.List(ctx); return err })
	w := spawner.worker(t, 0)
	w.succeed(t, w.next(t), []string{"a.txt", "b.txt"})
	if err := await(t, done); err != nil || len(names) != 2 || names[0] != "a.txt" {
		t.Fatalf("List = %v, %v", names, err)
	}

	var stored string
	done = async(func() (err error) { stored, err = b.Create(ctx, "c.txt", "body"); return err })
	req := w.next(t)
	if req.Type != types.OpCreate || req.FileName != "c.txt" || req.Content != "body" {
		t.Fatalf("posted %+v", req)
	}
	w.succeed(t, req, "c.txt")
	if err := await(t, done); err != nil || stored != "c.txt" {
		t.Fatalf("Create = %q, %v", stored, err)
	}

	var content string
	done = async(func() (err error) { content, err = b.Read(ctx, "c.txt"); return err })
	w.succeed(t, w.next(t), "body")
	if err := await(t, done); err != nil || content != "body" {
		t.Fatalf("Read = %q, %v", content, err)
	}

	done = async(func() error { return b.Update(ctx, "c.txt", "") })
	req = w.next(t)
	if req.Type != types.OpUpdate || req.Content != "" {
		t.Fatalf("posted %+v", req)
	}
	w.succeed(t, req, nil)
	if err := await(t, done); err != nil {
		t.Fatalf("Update: %v", err)
	}

	done = async(func() error { return b.Delete(ctx, "c.txt") })
	w.succeed(t, w.next(t), nil)
	if err := await(t, done); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestBridge_EmptyListIsNotNil(t *testing.T) {
	b, spawner, _ := newTestBridge(t, nil)
	var names []string
	done := async(func() (err error) { names, err = b.List(t.Context()); return err })
	w := spawner.worker(t, 0)
	w.succeed(t, w.next(t), nil)
	if err := await(t, done); err != nil {
		t.Fatal(err)
	}
	if names == nil || len(names) != 0 {
		t.Errorf("List = %#v, want empty slice", names)
	}
}

func TestBridge_CorrelationUnderConcurrency(t *testing.T) {
	b, spawner, collector := newTestBridge(t, nil)
	const n = 50

	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = b.Read(t.Context(), fmt.Sprintf("f%02d", i))
		}()
	}

	w := spawner.worker(t, 0)
	reqs := make([]*types.Request, 0, n)
	seen := make(map[string]bool, n)
	for range n {
		req := w.next(t)
		if seen[req.CorrelationID] {
			t.Fatalf("correlation id %q reused among outstanding calls", req.CorrelationID)
		}
		seen[req.CorrelationID] = true
		reqs = append(reqs, req)
	}

	// Settle in reverse order; each caller must get its own content.
	for i := len(reqs) - 1; i >= 0; i-- {
		w.succeed(t, reqs[i], "content of "+reqs[i].FileName)
	}
	wg.Wait()

	for i := range n {
		if errs[i] != nil {
			t.Errorf("call %d: %v", i, errs[i])
			continue
		}
		if want := fmt.Sprintf("content of f%02d", i); results[i] != want {
			t.Errorf("call %d got %q, want %q", i, results[i], want)
		}
	}
	if b.Outstanding() != 0 {
		t.Errorf("Outstanding = %d after all calls settled", b.Outstanding())
	}
	if s := collector.Snapshot(); s.CallsIssued != n || s.CallsSucceeded != n {
		t.Errorf("issued/succeeded = %d/%d, want %d", s.CallsIssued, s.CallsSucceeded, n)
	}
}

func TestBridge_DuplicateIDsAreRegenerated(t *testing.T) {
	ids := []string{"same", "same", "other"}
	var mu sync.Mutex
	b, spawner, _ := newTestBridge(t, func(c *Config) {
		c.NewID = func() string {
			mu.Lock()
			defer mu.Unlock()
			id := ids[0]
			if len(ids) > 1 {
				ids = ids[1:]
			}
			return id
		}
	})

	first := async(func() error { return b.Init(t.Context()) })
	w := spawner.worker(t, 0)
	r1 := w.next(t)
	second := async(func() error { return b.Init(t.Context()) })
	r2 := w.next(t)

	if r1.CorrelationID != "same" || r2.CorrelationID != "other" {
		t.Fatalf("ids = %q, %q; want same, other", r1.CorrelationID, r2.CorrelationID)
	}
	w.succeed(t, r2, nil)
	w.succeed(t, r1, nil)
	if err := await(t, first); err != nil {
		t.Fatal(err)
	}
	if err := await(t, second); err != nil {
		t.Fatal(err)
	}
}

func TestBridge_RemoteErrorVerbatim(t *testing.T) {
	b, spawner, collector := newTestBridge(t, nil)

	done := async(func() error {
		_, err := b.Read(t.Context(), "missing.txt")
		return err
	})
	w := spawner.worker(t, 0)
	w.fail(w.next(t), "read missing.txt: not found: file does not exist")

	err := await(t, done)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err = %T %v, want *RemoteError", err, err)
	}
	if remote.Op != types.OpRead || remote.Message != "read missing.txt: not found: file does not exist" {
		t.Errorf("RemoteError = %+v", remote)
	}
	if err.Error() != remote.Message {
		t.Errorf("Error() = %q, want verbatim message", err.Error())
	}
	if collector.Snapshot().CallsFailed != 1 {
		t.Error("failure not counted")
	}
}

func TestBridge_UnknownOperation(t *testing.T) {
	b, spawner, _ := newTestBridge(t, nil)

	done := async(func() error {
		_, err := b.call(t.Context(), &types.Request{Type: "bogus"})
		return err
	})
	w := spawner.worker(t, 0)
	req := w.next(t)
	w.fail(req, "Unknown message type: bogus")

	var remote *RemoteError
	if err := await(t, done); !errors.As(err, &remote) || remote.Message != "Unknown message type: bogus" {
		t.Fatalf("err = %v", err)
	}

	// The channel stays usable.
	listed := async(func() error { _, err := b.List(t.Context()); return err })
	w.succeed(t, w.next(t), []string{})
	if err := await(t, listed); err != nil {
		t.Fatalf("List after unknown op: %v", err)
	}
}

func TestBridge_EmptyFileNameFailsLocally(t *testing.T) {
	b, spawner, _ := newTestBridge(t, nil)
	ctx := t.Context()

	checks := map[string]error{
		"create": func() error { _, err := b.Create(ctx, "", "x"); return err }(),
		"read":   func() error { _, err := b.Read(ctx, ""); return err }(),
		"update": b.Update(ctx, "", "x"),
		"delete": b.Delete(ctx, ""),
	}
	for op, err := range checks {
		if !errors.Is(err, ErrEmptyFileName) {
			t.Errorf("%s err = %v, want ErrEmptyFileName", op, err)
		}
	}
	if spawner.count() != 0 {
		t.Error("worker spawned for a locally rejected call")
	}
}

func TestBridge_CrashIsolation(t *testing.T) {
	b, spawner, collector := newTestBridge(t, nil)

	ctxA, cancelA := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancelA()
	callA := async(func() error { _, err := b.Read(ctxA, "a.txt"); return err })

	w1 := spawner.worker(t, 0)
	reqA := w1.next(t)
	w1.crash(errCrash)

	if !w1.terminated.Load() {
		t.Error("crashed worker not terminated")
	}

	// A fresh worker serves the next call.
	callB := async(func() error { _, err := b.Read(t.Context(), "b.txt"); return err })
	w2 := spawner.worker(t, 1)
	w2.succeed(t, w2.next(t), "bee")
	if err := await(t, callB); err != nil {
		t.Fatalf("call B: %v", err)
	}

	// A is abandoned: only its context releases it.
	if err := await(t, callA); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("call A err = %v, want DeadlineExceeded", err)
	}

	// A late answer from the dead worker is discarded.
	w1.succeed(t, reqA, "late")

	s := collector.Snapshot()
	if s.WorkerSpawns != 2 || s.WorkerCrashes != 1 {
		t.Errorf("spawns/crashes = %d/%d, want 2/1", s.WorkerSpawns, s.WorkerCrashes)
	}
	if s.CallsAbandoned != 1 {
		t.Errorf("CallsAbandoned = %d, want 1", s.CallsAbandoned)
	}
	if s.StaleResponses != 1 {
		t.Errorf("StaleResponses = %d, want 1", s.StaleResponses)
	}
}

func TestBridge_RejectOnCrash(t *testing.T) {
	b, spawner, _ := newTestBridge(t, func(c *Config) { c.RejectOnCrash = true })

	call := async(func() error { _, err := b.List(t.Context()); return err })
	w := spawner.worker(t, 0)
	w.next(t)
	w.crash(errCrash)

	err := await(t, call)
	if !errors.Is(err, ErrWorkerLost) {
		t.Fatalf("err = %v, want ErrWorkerLost", err)
	}
	if !errors.Is(err, errCrash) {
		t.Errorf("err = %v, want it to carry the crash cause", err)
	}
}

func TestBridge_CrashOfOldGenerationLeavesNewWorker(t *testing.T) {
	b, spawner, _ := newTestBridge(t, nil)

	first := async(func() error { return b.Init(t.Context()) })
	w1 := spawner.worker(t, 0)
	w1.succeed(t, w1.next(t), nil)
	if err := await(t, first); err != nil {
		t.Fatal(err)
	}
	w1.crash(errCrash)

	second := async(func() error { return b.Init(t.Context()) })
	w2 := spawner.worker(t, 1)
	req := w2.next(t)

	// A duplicate error from the old worker must not retire the new one.
	w1.crash(errCrash)
	w2.succeed(t, req, nil)
	if err := await(t, second); err != nil {
		t.Fatalf("call on new worker: %v", err)
	}
	if w2.terminated.Load() {
		t.Error("new worker terminated by old worker's error")
	}
}

func TestBridge_ContextCancel(t *testing.T) {
	b, spawner, collector := newTestBridge(t, nil)

	ctx, cancel := context.WithCancel(t.Context())
	call := async(func() error { _, err := b.Read(ctx, "slow.txt"); return err })
	w := spawner.worker(t, 0)
	req := w.next(t)
	cancel()

	if err := await(t, call); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if b.Outstanding() != 0 {
		t.Errorf("Outstanding = %d, want 0", b.Outstanding())
	}

	w.succeed(t, req, "too late")
	s := collector.Snapshot()
	if s.CallsCanceled != 1 || s.StaleResponses != 1 {
		t.Errorf("canceled/stale = %d/%d, want 1/1", s.CallsCanceled, s.StaleResponses)
	}
}

func TestBridge_SpawnFailureRetriesNextCall(t *testing.T) {
	b, spawner, collector := newTestBridge(t, nil)
	spawner.err = errors.New("fork failed")

	if err := b.Init(t.Context()); err == nil {
		t.Fatal("Init succeeded without a worker")
	}

	spawner.mu.Lock()
	spawner.err = nil
	spawner.mu.Unlock()

	done := async(func() error { return b.Init(t.Context()) })
	w := spawner.worker(t, 0)
	w.succeed(t, w.next(t), nil)
	if err := await(t, done); err != nil {
		t.Fatalf("Init after spawn recovery: %v", err)
	}
	if s := collector.Snapshot(); s.WorkerSpawnFailures != 1 || s.WorkerSpawns != 1 {
		t.Errorf("spawn failures/spawns = %d/%d", s.WorkerSpawnFailures, s.WorkerSpawns)
	}
}

func TestBridge_PostFailure(t *testing.T) {
	b, spawner, _ := newTestBridge(t, nil)
	spawner.postErr = errors.New("broken pipe")

	err := b.Init(t.Context())
	if !errors.Is(err, ErrWorkerLost) {
		t.Fatalf("err = %v, want ErrWorkerLost", err)
	}
	if b.Outstanding() != 0 {
		t.Errorf("Outstanding = %d after post failure", b.Outstanding())
	}
}

func TestBridge_BlockedPostHonorsContext(t *testing.T) {
	b, spawner, collector := newTestBridge(t, nil)
	spawner.postGate = make(chan struct{})
	defer close(spawner.postGate)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	call := async(func() error { return b.Init(ctx) })

	if err := await(t, call); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if b.Outstanding() != 0 {
		t.Errorf("Outstanding = %d after cancel", b.Outstanding())
	}
	if got := collector.Snapshot().CallsCanceled; got != 1 {
		t.Errorf("CallsCanceled = %d, want 1", got)
	}
}

func TestBridge_OversizedRequestIsLocal(t *testing.T) {
	b, spawner, _ := newTestBridge(t, nil)
	spawner.postErr = fmt.Errorf("post create request: %w", &ipc.FrameError{Kind: ipc.FrameErrorTooLarge, Msg: "payload too big"})

	_, err := b.Create(t.Context(), "big.txt", "x")
	if !errors.Is(err, ErrRequestTooLarge) {
		t.Fatalf("err = %v, want ErrRequestTooLarge", err)
	}
	if errors.Is(err, ErrWorkerLost) {
		t.Error("oversized request reported as a lost worker")
	}
	if b.Outstanding() != 0 {
		t.Errorf("Outstanding = %d after rejected post", b.Outstanding())
	}
}

func TestBridge_Close(t *testing.T) {
	notifier := &recordingNotifier{}
	b, spawner, _ := newTestBridge(t, func(c *Config) { c.Notifier = notifier })

	call := async(func() error { return b.Init(t.Context()) })
	w := spawner.worker(t, 0)
	w.next(t)

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := await(t, call); !errors.Is(err, ErrClosed) {
		t.Errorf("pending call err = %v, want ErrClosed", err)
	}
	if !w.terminated.Load() {
		t.Error("worker not terminated")
	}
	if !notifier.closed {
		t.Error("notifier not closed")
	}
	if err := b.Init(t.Context()); !errors.Is(err, ErrClosed) {
		t.Errorf("call after Close err = %v, want ErrClosed", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestBridge_NotifiesMutations(t *testing.T) {
	notifier := &recordingNotifier{}
	b, spawner, collector := newTestBridge(t, func(c *Config) {
		c.Notifier = notifier
		c.Backend = "memory"
	})
	ctx := t.Context()

	done := async(func() error { _, err := b.Create(ctx, "n.txt", "x"); return err })
	w := spawner.worker(t, 0)
	createReq := w.next(t)
	w.succeed(t, createReq, "n.txt")
	if err := await(t, done); err != nil {
		t.Fatal(err)
	}

	done = async(func() error { _, err := b.Read(ctx, "n.txt"); return err })
	w.succeed(t, w.next(t), "x")
	if err := await(t, done); err != nil {
		t.Fatal(err)
	}

	done = async(func() error { return b.Delete(ctx, "gone.txt") })
	w.fail(w.next(t), "not found")
	if err := await(t, done); err == nil {
		t.Fatal("Delete succeeded")
	}

	events := notifier.published()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1 (reads and failures are silent)", len(events))
	}
	ev := events[0]
	if ev.Op != "create" || ev.FileName != "n.txt" || ev.Backend != "memory" || ev.CorrelationID != createReq.CorrelationID {
		t.Errorf("event = %+v", ev)
	}
	if collector.Snapshot().NotifySuccess != 1 {
		t.Error("notification not counted")
	}
}

func TestBridge_NotifyFailureDoesNotFailCall(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("redis down")}
	b, spawner, collector := newTestBridge(t, func(c *Config) { c.Notifier = notifier })

	done := async(func() error { return b.Update(t.Context(), "u.txt", "y") })
	w := spawner.worker(t, 0)
	w.succeed(t, w.next(t), nil)
	if err := await(t, done); err != nil {
		t.Fatalf("Update failed because of notifier: %v", err)
	}
	if collector.Snapshot().NotifyFailure != 1 {
		t.Error("notify failure not counted")
	}
}
