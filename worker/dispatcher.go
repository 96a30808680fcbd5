// Package worker is the isolated side of the channel. It decodes request
// frames, runs them against an executor and answers each with exactly one
// response frame.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/justapithecus/burrow/executor"
	"github.com/justapithecus/burrow/ipc"
	"github.com/justapithecus/burrow/log"
	"github.com/justapithecus/burrow/types"
)

// Dispatcher routes requests to the executor.
type Dispatcher struct {
	exec   *executor.Executor
	logger *log.Logger
}

// NewDispatcher creates a dispatcher. A nil logger discards diagnostics.
func NewDispatcher(exec *executor.Executor, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{exec: exec, logger: logger}
}

// Handle runs one request and returns its response. It never returns nil:
// executor errors and panics become failure responses.
func (d *Dispatcher) Handle(ctx context.Context, req *types.Request) (resp *types.Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("request panicked", map[string]any{
				"correlation_id": req.CorrelationID,
				"type":           string(req.Type),
				"panic":          fmt.Sprint(r),
			})
			resp = ipc.NewFailure(req.CorrelationID, panicMessage(r))
		}
		d.logger.Debug("request handled", map[string]any{
			"correlation_id": req.CorrelationID,
			"type":           string(req.Type),
			"ok":             resp.OK,
			"duration_ms":    time.Since(start).Milliseconds(),
		})
	}()

	id := req.CorrelationID
	switch req.Type {
	case types.OpInit:
		return d.reply(id, nil, d.exec.Init(ctx))
	case types.OpList:
		names, err := d.exec.List(ctx)
		return d.reply(id, names, err)
	case types.OpCreate:
		name, err := d.exec.Create(ctx, req.FileName, req.Content)
		return d.reply(id, name, err)
	case types.OpRead:
		content, err := d.exec.Read(ctx, req.FileName)
		return d.reply(id, content, err)
	case types.OpUpdate:
		return d.reply(id, nil, d.exec.Update(ctx, req.FileName, req.Content))
	case types.OpDelete:
		return d.reply(id, nil, d.exec.Delete(ctx, req.FileName))
	default:
		return ipc.NewFailure(id, fmt.Sprintf("Unknown message type: %s", req.Type))
	}
}

func (d *Dispatcher) reply(id string, payload any, err error) *types.Response {
	if err != nil {
		return ipc.NewFailure(id, err.Error())
	}
	resp, err := ipc.NewSuccess(id, payload)
	if err != nil {
		return ipc.NewFailure(id, err.Error())
	}
	return resp
}

func panicMessage(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(r)
}
