package commands

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
)

type ServeCmd struct {
	flags           *Flags
	shutdownTimeout time.Duration
}

// NewServeCmd creates a new serve command
func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

// Register adds the serve command to the application
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run the image cache HTTP server",
		UsageText: "imgcache serve [--shutdown-timeout 30s]",
		Description: `Starts the HTTP API. The cache is restored from the configured store
on startup and written back on every change.

This is the default command when none is given.`,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:        "shutdown-timeout",
				Usage:       "how long to wait for in-flight requests on shutdown",
				Sources:     cli.EnvVars("SHUTDOWN_TIMEOUT"),
				Value:       30 * time.Second,
				Destination: &cmd.shutdownTimeout,
			},
		},
		Action: cmd.Run,
	})

	return app
}

// Run starts the server and blocks until SIGINT or SIGTERM.
func (cmd *ServeCmd) Run(ctx context.Context, c *cli.Command) error {
	if cmd.shutdownTimeout <= 0 {
		cmd.shutdownTimeout = 30 * time.Second
	}

	a, err := cmd.flags.openApp(ctx)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Start(":" + cmd.flags.Config.Server.Port)
	}()

	var startErr error
	select {
	case startErr = <-errCh:
	case <-sigCtx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cmd.shutdownTimeout)
	defer cancel()

	return errors.Join(startErr, a.Shutdown(shutdownCtx))
}
