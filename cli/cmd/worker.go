package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/burrow/runtime"
)

// WorkerCommand returns the hidden worker command. It serves framed
// requests on stdin and writes framed responses to stdout until stdin
// closes. Diagnostics go to stderr. Exit codes follow runtime.ExitCode*.
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:   "worker",
		Usage:  "Run the storage worker over stdin/stdout",
		Hidden: true,
		Action: workerAction,
	}
}

func workerAction(c *cli.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = cli.Exit(fmt.Sprintf("fatal: %v", r), runtime.ExitCodeCrash)
		}
	}()

	s, err := loadSettings(c)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeInvalidInput)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDispatcher(ctx, s, c.App.ErrWriter)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeInvalidInput)
	}
	if err := d.Serve(ctx, c.App.Reader, c.App.Writer); err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeFault)
	}
	return nil
}
