package main

import (
	"errors"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestExitErrHandler_NilError(t *testing.T) {
	// Should not panic or exit on nil error
	exitErrHandler(nil, nil)
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "exit code 0 no message",
			err:      cli.Exit("", 0),
			wantCode: 0,
			wantMsg:  "",
		},
		{
			name:     "operation failure",
			err:      cli.Exit("read failed: File not found: a.txt", 1),
			wantCode: 1,
			wantMsg:  "read failed: File not found: a.txt",
		},
		{
			name:     "worker lost",
			err:      cli.Exit("list timed out waiting for the worker", 2),
			wantCode: 2,
			wantMsg:  "list timed out waiting for the worker",
		},
		{
			name:     "bare exit status suppressed",
			err:      cli.Exit("", 3),
			wantCode: 3,
			wantMsg:  "",
		},
		{
			name:     "wrapped exit coder",
			err:      errors.Join(errors.New("context"), cli.Exit("inner error", 42)),
			wantCode: 42,
			wantMsg:  "inner error",
		},
		{
			name:     "regular error",
			err:      errors.New("regular error"),
			wantCode: 1,
			wantMsg:  "Error: regular error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := exitStatus(tt.err)
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if msg != tt.wantMsg {
				t.Errorf("msg = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}
