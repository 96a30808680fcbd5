package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/burrow/bridge"
	"github.com/justapithecus/burrow/cli/render"
	"github.com/justapithecus/burrow/cli/tui"
	"github.com/justapithecus/burrow/ipc"
)

// Exit codes for file commands:
//   - 0: success
//   - 1: the worker reported a failure (missing file, storage error)
//   - 2: the worker could not be reached, crashed or timed out
//   - 3: invalid input (flags, config, empty file name, oversized content)
//   - 130: interrupted
const (
	exitOperationFailed = 1
	exitWorkerLost      = 2
	exitInvalidInput    = 3
	exitInterrupted     = 130
)

// InitResponse is the response for the init command.
type InitResponse struct {
	Initialized bool   `json:"initialized"`
	Backend     string `json:"backend"`
}

// FileResponse names the file a command acted on.
type FileResponse struct {
	Name string `json:"name"`
}

// ReadResponse carries a file's content.
type ReadResponse struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

var (
	nameFlag = &cli.StringFlag{
		Name:    "name",
		Aliases: []string{"n"},
		Usage:   "File name (or pass it as the first argument)",
	}
	contentFlag = &cli.StringFlag{
		Name:    "content",
		Aliases: []string{"c"},
		Usage:   "Content to write",
	}
	fileFlag = &cli.StringFlag{
		Name:  "file",
		Usage: "Read content from a local file (- for stdin)",
	}
)

// InitCommand returns the init command.
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Prepare the store and request persistent storage",
		Action: withSession("init", func(ctx context.Context, c *cli.Context, s *session) error {
			if err := s.bridge.Init(ctx); err != nil {
				return err
			}
			return s.renderer.Render(InitResponse{Initialized: true, Backend: s.settings.storage.backend})
		}),
	}
}

// ListCommand returns the list command.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List visible files in locale order",
		Action: withSession("list", func(ctx context.Context, c *cli.Context, s *session) error {
			names, err := s.bridge.List(ctx)
			if err != nil {
				return err
			}
			return s.renderer.Render(names)
		}),
	}
}

// CreateCommand returns the create command.
func CreateCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a file, replacing any existing content",
		ArgsUsage: "[name]",
		Flags:     []cli.Flag{nameFlag, contentFlag, fileFlag},
		Action: withSession("create", func(ctx context.Context, c *cli.Context, s *session) error {
			content, err := contentInput(c, false)
			if err != nil {
				return err
			}
			name, err := s.bridge.Create(ctx, fileName(c), content)
			if err != nil {
				return err
			}
			return s.renderer.Render(FileResponse{Name: name})
		}),
	}
}

// ReadCommand returns the read command.
func ReadCommand() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Aliases:   []string{"cat"},
		Usage:     "Print a file's content",
		ArgsUsage: "[name]",
		Flags:     []cli.Flag{nameFlag},
		Action: withSession("read", func(ctx context.Context, c *cli.Context, s *session) error {
			name := fileName(c)
			content, err := s.bridge.Read(ctx, name)
			if err != nil {
				return err
			}
			if s.renderer.Format() == render.FormatTable {
				return s.renderer.Render(content)
			}
			return s.renderer.Render(ReadResponse{Name: name, Content: content})
		}),
	}
}

// UpdateCommand returns the update command.
func UpdateCommand() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Replace the content of an existing file",
		ArgsUsage: "[name]",
		Flags:     []cli.Flag{nameFlag, contentFlag, fileFlag},
		Action: withSession("update", func(ctx context.Context, c *cli.Context, s *session) error {
			content, err := contentInput(c, true)
			if err != nil {
				return err
			}
			name := fileName(c)
			if err := s.bridge.Update(ctx, name, content); err != nil {
				return err
			}
			return s.renderer.Render(FileResponse{Name: name})
		}),
	}
}

// DeleteCommand returns the delete command.
func DeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete an existing file",
		ArgsUsage: "[name]",
		Flags:     []cli.Flag{nameFlag},
		Action: withSession("delete", func(ctx context.Context, c *cli.Context, s *session) error {
			name := fileName(c)
			if err := s.bridge.Delete(ctx, name); err != nil {
				return err
			}
			return s.renderer.Render(FileResponse{Name: name})
		}),
	}
}

type sessionAction func(ctx context.Context, c *cli.Context, s *session) error

// withSession opens a session, bounds the call by --timeout and SIGINT or
// SIGTERM, and maps the result onto an exit code.
func withSession(op string, fn sessionAction) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer s.close()

		ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx, cancel := s.callContext(ctx)
		defer cancel()

		start := time.Now()
		err = exitError(op, fn(ctx, c, s))
		s.report(op, err, time.Since(start))
		return err
	}
}

// exitError maps a command error onto a cli.ExitCoder.
func exitError(op string, err error) error {
	if err == nil {
		return nil
	}
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		return err
	}

	var remote *bridge.RemoteError
	switch {
	case errors.As(err, &remote):
		return cli.Exit(fmt.Sprintf("%s failed: %s", op, remote.Message), exitOperationFailed)
	case errors.Is(err, bridge.ErrEmptyFileName):
		return cli.Exit(fmt.Sprintf("%s failed: a file name is required", op), exitInvalidInput)
	case errors.Is(err, bridge.ErrRequestTooLarge):
		return cli.Exit(fmt.Sprintf("%s failed: content exceeds the %d MiB frame limit", op, ipc.MaxFrameSize>>20), exitInvalidInput)
	case errors.Is(err, context.Canceled):
		return cli.Exit(fmt.Sprintf("%s interrupted", op), exitInterrupted)
	case errors.Is(err, context.DeadlineExceeded):
		return cli.Exit(fmt.Sprintf("%s timed out waiting for the worker", op), exitWorkerLost)
	default:
		return cli.Exit(fmt.Sprintf("%s failed: %v", op, err), exitWorkerLost)
	}
}

// fileName takes --name, falling back to the first argument.
func fileName(c *cli.Context) string {
	if name := c.String("name"); name != "" {
		return name
	}
	return c.Args().First()
}

// contentInput reads --content or --file. With required set, one of them
// must be given.
func contentInput(c *cli.Context, required bool) (string, error) {
	hasContent, hasFile := c.IsSet("content"), c.IsSet("file")
	switch {
	case hasContent && hasFile:
		return "", cli.Exit("--content and --file are mutually exclusive", exitInvalidInput)
	case hasContent:
		return c.String("content"), nil
	case hasFile:
		data, err := readInput(c, c.String("file"))
		if err != nil {
			return "", cli.Exit(err.Error(), exitInvalidInput)
		}
		return string(data), nil
	case required:
		return "", cli.Exit("one of --content or --file is required", exitInvalidInput)
	default:
		return "", nil
	}
}

func readInput(c *cli.Context, path string) ([]byte, error) {
	if path == "-" {
		r := c.App.Reader
		if r == nil {
			r = os.Stdin
		}
		return io.ReadAll(r)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return data, nil
}

// BrowseCommand returns the browse command: an interactive, read-only file
// browser. Each list or read is bounded by --timeout.
func BrowseCommand() *cli.Command {
	return &cli.Command{
		Name:  "browse",
		Usage: "Browse files interactively",
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.close()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			start := time.Now()
			err = exitError("browse", tui.RunBrowse(ctx, s.bridge, tui.Options{
				Timeout: s.settings.timeout,
			}))
			s.report("browse", err, time.Since(start))
			return err
		},
	}
}
