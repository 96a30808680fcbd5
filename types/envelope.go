// Package types defines the wire envelopes exchanged between the bridge
// and the isolated worker.
//
//nolint:revive // types is a common Go package naming convention
package types

import "github.com/vmihailenco/msgpack/v5"

// OpType is the request discriminator.
type OpType string

// The closed set of operations a worker understands.
const (
	OpInit   OpType = "init"
	OpList   OpType = "list"
	OpCreate OpType = "create"
	OpRead   OpType = "read"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Ops lists every known operation in declaration order.
var Ops = []OpType{OpInit, OpList, OpCreate, OpRead, OpUpdate, OpDelete}

// Valid reports whether o is one of the known operations.
func (o OpType) Valid() bool {
	switch o {
	case OpInit, OpList, OpCreate, OpRead, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// NeedsFileName reports whether requests of this type must carry a file name.
func (o OpType) NeedsFileName() bool {
	switch o {
	case OpCreate, OpRead, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// CarriesContent reports whether requests of this type carry file content.
func (o OpType) CarriesContent() bool {
	return o == OpCreate || o == OpUpdate
}

// Mutates reports whether a successful request of this type changes the store.
func (o OpType) Mutates() bool {
	return o == OpCreate || o == OpUpdate || o == OpDelete
}

// Request is sent from the bridge to the worker.
// CorrelationID is unique among the outstanding calls of one bridge.
type Request struct {
	// CorrelationID is echoed verbatim on the matching Response.
	CorrelationID string `msgpack:"correlation_id"`
	// Type selects the operation.
	Type OpType `msgpack:"type"`
	// FileName names the target file (create, read, update, delete).
	FileName string `msgpack:"file_name,omitempty"`
	// Content is the full new file body (create, update).
	Content string `msgpack:"content,omitempty"`
}

// Response is sent from the worker to the bridge, exactly one per Request.
// Data is present only when OK; Error only when not.
type Response struct {
	CorrelationID string             `msgpack:"correlation_id"`
	OK            bool               `msgpack:"ok"`
	Data          msgpack.RawMessage `msgpack:"data,omitempty"`
	Error         string             `msgpack:"error,omitempty"`
}
