// Package cmd provides CLI commands for the burrow binary.
package cmd

import (
	"time"

	"github.com/urfave/cli/v2"
)

// EnvConfig names the environment variable holding the config file path.
const EnvConfig = "BURROW_CONFIG"

// Output flags shared by every command that renders a result.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
)

// GlobalFlags returns the application-level flags. Every value except
// --config may also come from the config file; flags win.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			EnvVars: []string{EnvConfig},
			Usage:   "Path to a burrow.yaml config file",
		},
		&cli.StringFlag{
			Name:  "storage-backend",
			Value: "fs",
			Usage: "Storage backend: fs, lode-fs, memory, s3",
		},
		&cli.StringFlag{
			Name:  "storage-path",
			Usage: "Root directory (fs, lode-fs) or bucket/prefix (s3)",
		},
		&cli.StringFlag{
			Name:  "s3-region",
			Usage: "AWS region for the s3 backend",
		},
		&cli.StringFlag{
			Name:  "s3-endpoint",
			Usage: "Custom endpoint for S3-compatible providers",
		},
		&cli.BoolFlag{
			Name:  "s3-path-style",
			Usage: "Force path-style S3 addressing",
		},
		&cli.StringFlag{
			Name:  "worker-mode",
			Value: "process",
			Usage: "Worker isolation: process, inprocess",
		},
		&cli.BoolFlag{
			Name:  "reject-on-crash",
			Usage: "Fail calls pending on a crashed worker instead of abandoning them",
		},
		&cli.StringFlag{
			Name:  "locale",
			Usage: "BCP 47 tag used to order listings",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Value: "warn",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Value: 30 * time.Second,
			Usage: "Per-call timeout (0 waits forever)",
		},
		&cli.StringFlag{
			Name:  "report",
			Usage: "Write a JSON session report to this path (- for stderr)",
		},
		&cli.StringFlag{
			Name:  "notify-type",
			Usage: "Change notifier: webhook, redis",
		},
		&cli.StringFlag{
			Name:  "notify-url",
			Usage: "Webhook endpoint or redis:// URL",
		},
		&cli.StringFlag{
			Name:  "notify-channel",
			Usage: "Redis pub/sub channel",
		},
		&cli.StringFlag{
			Name:  "notify-index-key",
			Usage: "Redis hash holding the latest event per file",
		},
		&cli.StringFlag{
			Name:  "notify-secret",
			Usage: "Webhook signing secret",
		},
		&cli.DurationFlag{
			Name:  "notify-timeout",
			Usage: "Per-delivery notifier timeout",
		},
		&cli.IntFlag{
			Name:  "notify-retries",
			Value: 3,
			Usage: "Notifier retry attempts",
		},
		FormatFlag,
		NoColorFlag,
	}
}
