package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/burrow/metrics"
)

// SessionReport is the structured JSON report written by --report.
type SessionReport struct {
	Command    string         `json:"command"`
	Outcome    string         `json:"outcome"`
	Message    string         `json:"message,omitempty"`
	ExitCode   int            `json:"exit_code"`
	DurationMs int64          `json:"duration_ms"`
	Metrics    map[string]any `json:"metrics"`
}

// buildSessionReport composes a report from a command's final error, which
// is nil or a cli.ExitCoder, and the bridge metrics.
func buildSessionReport(command string, err error, duration time.Duration, snap metrics.Snapshot) *SessionReport {
	report := &SessionReport{
		Command:    command,
		Outcome:    "ok",
		DurationMs: duration.Milliseconds(),
		Metrics:    snap.Fields(),
	}
	if err == nil {
		return report
	}

	report.Outcome = "error"
	report.Message = err.Error()
	report.ExitCode = 1
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		report.ExitCode = exitCoder.ExitCode()
	}
	return report
}

// writeSessionReport writes the report as JSON to path. "-" means stderr.
func writeSessionReport(report *SessionReport, path string, stderr io.Writer) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}
	if path == "-" {
		if err := writeSessionReportTo(report, stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

func writeSessionReportTo(report *SessionReport, w io.Writer) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func marshalReport(report *SessionReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}
