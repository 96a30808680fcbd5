package tui

import (
	"context"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Options configures RunBrowse.
type Options struct {
	// Timeout bounds each list or read call. Zero waits forever.
	Timeout time.Duration
	// Input and Output default to the terminal.
	Input  io.Reader
	Output io.Writer
}

// RunBrowse runs the file browser until the user quits or ctx ends.
func RunBrowse(ctx context.Context, store Store, opts Options) error {
	model := NewBrowseModel(ctx, store, opts.Timeout)
	progOpts := []tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}
	if opts.Input != nil {
		progOpts = append(progOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		progOpts = append(progOpts, tea.WithOutput(opts.Output))
	}
	_, err := tea.NewProgram(model, progOpts...).Run()
	return err
}
