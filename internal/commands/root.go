package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"imgcache/config"
	"imgcache/internal/logging"
)

// NewRoot builds the imgcache command tree.
func NewRoot(flags *Flags, version string, out io.Writer) *cli.Command {
	flags.Out = out

	serveCmd := NewServeCmd(flags)

	root := &cli.Command{
		Name:      "imgcache",
		Usage:     "Cache remote images as data URLs",
		UsageText: "imgcache [global options] command [command options]",
		Description: `imgcache fetches clinic photos and logos once, keeps them as data URLs in a
bounded, expiring cache, and persists the cache so it survives restarts.

Run 'imgcache' with no arguments to start the HTTP server.`,
		Version:   version,
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file (default: config/config.yaml or config.yaml if present)",
				Sources:     cli.EnvVars("IMGCACHE_CONFIG"),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "log format (json, text); defaults to text on a terminal",
				Destination: &flags.LogFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			result, err := config.Load(flags.ConfigPath)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			flags.Config = result.Config

			logOpts := logging.Options{Format: result.Config.Log.Format, Level: result.Config.Log.Level}
			if flags.LogFormat != "" {
				logOpts.Format = flags.LogFormat
			}
			if flags.LogLevel != "" {
				logOpts.Level = flags.LogLevel
			}
			logger := logging.Setup(logOpts)
			if result.Path != "" {
				logger.Debug("configuration loaded", "path", result.Path)
			}
			return ctx, nil
		},
	}

	root = serveCmd.Register(root)
	root = NewPreloadCmd(flags).Register(root)
	root = NewClearCmd(flags).Register(root)
	root = NewStatsCmd(flags).Register(root)

	root.Action = func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() > 0 {
			return fmt.Errorf("unknown command %q. Run 'imgcache --help' for usage", c.Args().First())
		}
		return serveCmd.Run(ctx, c)
	}

	return root
}
