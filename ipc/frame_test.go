package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/burrow/types"
)

// encodeFrame encodes a payload with its length prefix.
func encodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

func TestFrameEncoder_RequestRoundTrip(t *testing.T) {
	req := types.Request{
		CorrelationID: "corr-1",
		Type:          types.OpCreate,
		FileName:      "notes.txt",
		Content:       "hello\nworld",
	}

	var buf bytes.Buffer
	if err := NewFrameEncoder(&buf).Encode(req); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if got := binary.BigEndian.Uint32(buf.Bytes()[:LengthPrefixSize]); int(got) != buf.Len()-LengthPrefixSize {
		t.Errorf("length prefix = %d, payload = %d", got, buf.Len()-LengthPrefixSize)
	}

	payload, err := NewFrameDecoder(&buf).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	decoded, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if *decoded != req {
		t.Errorf("decoded = %+v, want %+v", *decoded, req)
	}
}

func TestFrameDecoder_MultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	enc := NewFrameEncoder(&buf)
	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		if err := enc.Encode(types.Response{CorrelationID: id, OK: true}); err != nil {
			t.Fatal(err)
		}
	}

	dec := NewFrameDecoder(&buf)
	for _, want := range ids {
		payload, err := dec.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		resp, err := DecodeResponse(payload)
		if err != nil {
			t.Fatalf("DecodeResponse failed: %v", err)
		}
		if resp.CorrelationID != want {
			t.Errorf("CorrelationID = %q, want %q", resp.CorrelationID, want)
		}
	}
	if _, err := dec.ReadFrame(); err != io.EOF {
		t.Errorf("expected io.EOF after last frame, got: %v", err)
	}
}

// Concurrent writers must never interleave bytes of different frames.
func TestFrameEncoder_ConcurrentWritesStayFramed(t *testing.T) {
	var buf bytes.Buffer
	enc := NewFrameEncoder(&buf)

	const writers = 16
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = enc.Encode(types.Request{
				CorrelationID: strings.Repeat("x", i+1),
				Type:          types.OpRead,
				FileName:      strings.Repeat("f", 1000),
			})
		}()
	}
	wg.Wait()

	dec := NewFrameDecoder(&buf)
	seen := 0
	for {
		payload, err := dec.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		if _, err := DecodeRequest(payload); err != nil {
			t.Fatalf("frame %d corrupted: %v", seen, err)
		}
		seen++
	}
	if seen != writers {
		t.Errorf("decoded %d frames, want %d", seen, writers)
	}
}

func TestFrameEncoder_OversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := NewFrameEncoder(&buf).WriteFrame(make([]byte, MaxPayloadSize+1))

	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorTooLarge {
		t.Fatalf("expected FrameErrorTooLarge, got: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("oversized frame wrote %d bytes", buf.Len())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestFrameEncoder_WriteError(t *testing.T) {
	err := NewFrameEncoder(failingWriter{}).Encode(types.Response{CorrelationID: "a"})

	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorEncode {
		t.Fatalf("expected FrameErrorEncode, got: %v", err)
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Error("write error should wrap the writer's error")
	}
	if IsFatalFrameError(err) {
		t.Error("encode errors are reported by the writer, not classified fatal")
	}
}

// Truncated frames cannot be resynchronised and are fatal.
func TestFrameDecoder_PartialFrame(t *testing.T) {
	payload, _ := msgpack.Marshal(types.Request{CorrelationID: "a", Type: types.OpList})
	frame := encodeFrame(payload)
	truncated := frame[:LengthPrefixSize+len(payload)/2]

	_, err := NewFrameDecoder(bytes.NewReader(truncated)).ReadFrame()
	if err == nil {
		t.Fatal("expected error for truncated frame")
	}
	if !IsFatalFrameError(err) {
		t.Errorf("expected fatal frame error, got: %v", err)
	}

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if frameErr.Kind != FrameErrorPartial {
		t.Errorf("Kind = %v, want FrameErrorPartial", frameErr.Kind)
	}
}

func TestFrameDecoder_OversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(MaxPayloadSize+1))

	_, err := NewFrameDecoder(&buf).ReadFrame()
	if err == nil {
		t.Fatal("expected error for oversized frame")
	}

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if frameErr.Kind != FrameErrorTooLarge {
		t.Errorf("Kind = %v, want FrameErrorTooLarge", frameErr.Kind)
	}
	if !frameErr.IsFatal() {
		t.Error("FrameErrorTooLarge.IsFatal() should return true")
	}
}

func TestFrameDecoder_EmptyStream(t *testing.T) {
	_, err := NewFrameDecoder(bytes.NewReader(nil)).ReadFrame()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got: %v", err)
	}
}

func TestFrameDecoder_TruncatedLengthPrefix(t *testing.T) {
	_, err := NewFrameDecoder(bytes.NewReader([]byte{0x00, 0x00})).ReadFrame()

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if frameErr.Kind != FrameErrorPartial {
		t.Errorf("Kind = %v, want FrameErrorPartial", frameErr.Kind)
	}
}

func TestFrameDecoder_EmptyPayload(t *testing.T) {
	payload, err := NewFrameDecoder(bytes.NewReader(encodeFrame(nil))).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if len(payload) != 0 {
		t.Errorf("payload = %v, want empty", payload)
	}
}

// Decode errors are not fatal: the frame was read, only its content was bad.
func TestDecodeRequest_MalformedMsgpack(t *testing.T) {
	_, err := DecodeRequest([]byte{0xc1})

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if frameErr.Kind != FrameErrorDecode {
		t.Errorf("Kind = %v, want FrameErrorDecode", frameErr.Kind)
	}
	if IsFatalFrameError(err) {
		t.Error("decode errors should not be fatal")
	}
}

func TestDecodeRequest_PreservesUnknownType(t *testing.T) {
	payload, _ := msgpack.Marshal(types.Request{CorrelationID: "a", Type: "rename"})
	req, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if req.Type != "rename" || req.Type.Valid() {
		t.Errorf("Type = %q (valid=%v), want unknown rename", req.Type, req.Type.Valid())
	}
}

func TestProbeCorrelationID(t *testing.T) {
	withID, _ := msgpack.Marshal(map[string]any{"correlation_id": "corr-9", "content": []int{1, 2}})
	withoutID, _ := msgpack.Marshal(map[string]any{"type": "read"})

	tests := []struct {
		name    string
		payload []byte
		want    string
	}{
		{"map with id", withID, "corr-9"},
		{"map without id", withoutID, ""},
		{"not msgpack", []byte{0xc1}, ""},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProbeCorrelationID(tt.payload); got != tt.want {
				t.Errorf("ProbeCorrelationID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFrameError_ErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *FrameError
		contains string
	}{
		{
			name:     "partial without underlying error",
			err:      &FrameError{Kind: FrameErrorPartial, Msg: "truncated"},
			contains: "truncated",
		},
		{
			name: "partial with underlying error",
			err: &FrameError{
				Kind: FrameErrorPartial,
				Msg:  "read failed",
				Err:  io.ErrUnexpectedEOF,
			},
			contains: "unexpected EOF",
		},
		{
			name:     "oversized",
			err:      &FrameError{Kind: FrameErrorTooLarge, Msg: "payload too big"},
			contains: "too big",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if msg := tt.err.Error(); !strings.Contains(msg, tt.contains) {
				t.Errorf("error message %q does not contain %q", msg, tt.contains)
			}
		})
	}
}

func TestIsFatalFrameError_NonFrameError(t *testing.T) {
	if IsFatalFrameError(errors.New("regular error")) {
		t.Error("regular errors should not be fatal frame errors")
	}
	if IsFatalFrameError(nil) {
		t.Error("nil should not be a fatal frame error")
	}
	if IsFatalFrameError(io.EOF) {
		t.Error("io.EOF should not be a fatal frame error")
	}
}
