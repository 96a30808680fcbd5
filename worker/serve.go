package worker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/justapithecus/burrow/ipc"
)

// ErrMissingCorrelationID is returned by Serve when a request cannot be
// answered because it carries no correlation id.
var ErrMissingCorrelationID = errors.New("request without correlation id")

// Serve reads request frames from r and writes one response frame per
// request to w, handling requests strictly one at a time.
//
// Serve returns nil when r reaches a clean EOF. Stream faults (partial or
// oversized frames, write failures) and requests that cannot be correlated
// end the loop with an error; the caller treats it as the worker dying.
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	dec := ipc.NewFrameDecoder(r)
	enc := ipc.NewFrameEncoder(w)

	for {
		payload, err := dec.ReadFrame()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read request frame: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := ipc.DecodeRequest(payload)
		if err != nil {
			id := ipc.ProbeCorrelationID(payload)
			if id == "" {
				return fmt.Errorf("undecodable request: %w", err)
			}
			d.logger.Warn("malformed request", map[string]any{
				"correlation_id": id,
				"error":          err.Error(),
			})
			if err := enc.Encode(ipc.NewFailure(id, err.Error())); err != nil {
				return err
			}
			continue
		}
		if req.CorrelationID == "" {
			return fmt.Errorf("%w (type %q)", ErrMissingCorrelationID, req.Type)
		}

		resp := d.Handle(ctx, req)
		err = enc.Encode(resp)
		var frameErr *ipc.FrameError
		if errors.As(err, &frameErr) && frameErr.Kind == ipc.FrameErrorTooLarge {
			// The result does not fit in a frame; the caller still gets an answer.
			err = enc.Encode(ipc.NewFailure(req.CorrelationID, frameErr.Error()))
		}
		if err != nil {
			return fmt.Errorf("write response frame: %w", err)
		}
	}
}
