package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/burrow/types"
)

// NewApp builds the burrow application. The caller sets ExitErrHandler.
func NewApp(commit string) *cli.App {
	return &cli.App{
		Name:    "burrow",
		Usage:   "Private durable file store behind an isolated worker",
		Version: fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:   GlobalFlags(),
		Commands: []*cli.Command{
			InitCommand(),
			ListCommand(),
			CreateCommand(),
			ReadCommand(),
			UpdateCommand(),
			DeleteCommand(),
			BrowseCommand(),
			VersionCommand(commit),
			WorkerCommand(),
		},
	}
}
