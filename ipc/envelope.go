package ipc

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/burrow/types"
)

// NewSuccess builds a success response carrying payload.
// A nil payload produces a response without data.
func NewSuccess(correlationID string, payload any) (*types.Response, error) {
	resp := &types.Response{CorrelationID: correlationID, OK: true}
	if payload == nil {
		return resp, nil
	}
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", correlationID, err)
	}
	resp.Data = data
	return resp, nil
}

// NewFailure builds a failure response with a human-readable message.
func NewFailure(correlationID, message string) *types.Response {
	return &types.Response{CorrelationID: correlationID, OK: false, Error: message}
}

// DecodeData decodes the data of a success response into out.
// Responses without data leave out untouched.
func DecodeData(resp *types.Response, out any) error {
	if len(resp.Data) == 0 {
		return nil
	}
	if err := msgpack.Unmarshal(resp.Data, out); err != nil {
		return &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode response data",
			Err:  err,
		}
	}
	return nil
}
