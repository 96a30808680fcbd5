package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/burrow/cli/render"
	"github.com/justapithecus/burrow/types"
)

// VersionResponse is the response for the version command.
// The CLI, the worker and the wire protocol share one version.
type VersionResponse struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// VersionCommand returns the version command. It never starts a worker.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		resp := VersionResponse{
			Version: types.Version,
			Commit:  commit,
		}

		return r.Render(resp)
	}
}
