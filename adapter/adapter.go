// Package adapter defines the change-notification boundary.
//
// Adapters publish a FileChangedEvent after a successful create, update or
// delete so downstream systems can react without polling the store.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// ContractVersion is the version of the FileChangedEvent payload shape.
const ContractVersion = "1"

// EventTypeFileChanged is the only event type adapters publish.
const EventTypeFileChanged = "file_changed"

// FileChangedEvent is the payload published after a mutation.
type FileChangedEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "file_changed"
	Op              string `json:"op"`         // create, update or delete
	FileName        string `json:"file_name"`
	Backend         string `json:"backend,omitempty"`
	Timestamp       string `json:"timestamp"` // RFC 3339
	CorrelationID   string `json:"correlation_id,omitempty"`
}

// NewFileChangedEvent stamps an event for op on fileName.
func NewFileChangedEvent(op, fileName, backend, correlationID string, at time.Time) *FileChangedEvent {
	return &FileChangedEvent{
		ContractVersion: ContractVersion,
		EventType:       EventTypeFileChanged,
		Op:              op,
		FileName:        fileName,
		Backend:         backend,
		Timestamp:       at.UTC().Format(time.RFC3339Nano),
		CorrelationID:   correlationID,
	}
}

// Adapter publishes change events to a downstream system.
type Adapter interface {
	// Publish sends a change event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *FileChangedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Backoff returns the delay before retry attempt i (i >= 1):
// 500ms, 1s, 2s, ...
func Backoff(i int) time.Duration {
	if i < 1 {
		return 0
	}
	return time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
}

// Wait sleeps for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
