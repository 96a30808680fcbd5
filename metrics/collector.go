// Package metrics counts what a bridge does over its lifetime.
//
// The Collector is a leaf package with no internal dependencies; operation
// names are plain strings so it stays free of the types package.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	// Calls
	CallsIssued    int64
	CallsSucceeded int64
	CallsFailed    int64
	CallsCanceled  int64
	CallsAbandoned int64
	CallsByOp      map[string]int64

	// Channel
	StaleResponses int64
	PostFailures   int64

	// Worker lifecycle
	WorkerSpawns        int64
	WorkerSpawnFailures int64
	WorkerCrashes       int64

	// Change notifications
	NotifySuccess int64
	NotifyFailure int64

	// Dimensions (informational, set at construction)
	WorkerMode     string
	StorageBackend string
}

// Fields flattens the snapshot for a structured log entry.
func (s Snapshot) Fields() map[string]any {
	return map[string]any{
		"calls_issued":          s.CallsIssued,
		"calls_succeeded":       s.CallsSucceeded,
		"calls_failed":          s.CallsFailed,
		"calls_canceled":        s.CallsCanceled,
		"calls_abandoned":       s.CallsAbandoned,
		"calls_by_op":           s.CallsByOp,
		"stale_responses":       s.StaleResponses,
		"post_failures":         s.PostFailures,
		"worker_spawns":         s.WorkerSpawns,
		"worker_spawn_failures": s.WorkerSpawnFailures,
		"worker_crashes":        s.WorkerCrashes,
		"notify_success":        s.NotifySuccess,
		"notify_failure":        s.NotifyFailure,
		"worker_mode":           s.WorkerMode,
		"storage_backend":       s.StorageBackend,
	}
}

// Collector accumulates counters.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	callsIssued    int64
	callsSucceeded int64
	callsFailed    int64
	callsCanceled  int64
	callsAbandoned int64
	callsByOp      map[string]int64

	staleResponses int64
	postFailures   int64

	workerSpawns        int64
	workerSpawnFailures int64
	workerCrashes       int64

	notifySuccess int64
	notifyFailure int64

	workerMode     string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(workerMode, storageBackend string) *Collector {
	return &Collector{
		callsByOp:      make(map[string]int64),
		workerMode:     workerMode,
		storageBackend: storageBackend,
	}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Calls ---

// IncCallIssued records a call posted to a worker.
func (c *Collector) IncCallIssued(op string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.callsIssued++
	c.callsByOp[op]++
	c.mu.Unlock()
}

// IncCallSucceeded records a call settled with a success response.
func (c *Collector) IncCallSucceeded() {
	if c == nil {
		return
	}
	c.inc(&c.callsSucceeded)
}

// IncCallFailed records a call settled with a failure response or
// rejected because its worker was lost.
func (c *Collector) IncCallFailed() {
	if c == nil {
		return
	}
	c.inc(&c.callsFailed)
}

// IncCallCanceled records a caller that stopped waiting.
func (c *Collector) IncCallCanceled() {
	if c == nil {
		return
	}
	c.inc(&c.callsCanceled)
}

// AddCallsAbandoned records calls left unsettled by a crashed worker.
func (c *Collector) AddCallsAbandoned(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	c.callsAbandoned += int64(n)
	c.mu.Unlock()
}

// --- Channel ---

// IncStaleResponse records a response with no matching pending call.
func (c *Collector) IncStaleResponse() {
	if c == nil {
		return
	}
	c.inc(&c.staleResponses)
}

// IncPostFailure records a request that could not be written to a worker.
func (c *Collector) IncPostFailure() {
	if c == nil {
		return
	}
	c.inc(&c.postFailures)
}

// --- Worker lifecycle ---

// IncWorkerSpawn records a successful worker spawn.
func (c *Collector) IncWorkerSpawn() {
	if c == nil {
		return
	}
	c.inc(&c.workerSpawns)
}

// IncWorkerSpawnFailure records a failed worker spawn.
func (c *Collector) IncWorkerSpawnFailure() {
	if c == nil {
		return
	}
	c.inc(&c.workerSpawnFailures)
}

// IncWorkerCrash records an uncaught worker error.
func (c *Collector) IncWorkerCrash() {
	if c == nil {
		return
	}
	c.inc(&c.workerCrashes)
}

// --- Change notifications ---

// IncNotifySuccess records a published change notification.
func (c *Collector) IncNotifySuccess() {
	if c == nil {
		return
	}
	c.inc(&c.notifySuccess)
}

// IncNotifyFailure records a change notification that could not be published.
func (c *Collector) IncNotifyFailure() {
	if c == nil {
		return
	}
	c.inc(&c.notifyFailure)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byOp := make(map[string]int64, len(c.callsByOp))
	for k, v := range c.callsByOp {
		byOp[k] = v
	}

	return Snapshot{
		CallsIssued:    c.callsIssued,
		CallsSucceeded: c.callsSucceeded,
		CallsFailed:    c.callsFailed,
		CallsCanceled:  c.callsCanceled,
		CallsAbandoned: c.callsAbandoned,
		CallsByOp:      byOp,

		StaleResponses: c.staleResponses,
		PostFailures:   c.postFailures,

		WorkerSpawns:        c.workerSpawns,
		WorkerSpawnFailures: c.workerSpawnFailures,
		WorkerCrashes:       c.workerCrashes,

		NotifySuccess: c.notifySuccess,
		NotifyFailure: c.notifyFailure,

		WorkerMode:     c.workerMode,
		StorageBackend: c.storageBackend,
	}
}
