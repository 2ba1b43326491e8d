package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v3"
)

type ClearCmd struct {
	flags *Flags
}

// NewClearCmd creates a new clear command
func NewClearCmd(flags *Flags) *ClearCmd {
	return &ClearCmd{flags: flags}
}

// Register adds the clear command to the application
func (cmd *ClearCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "clear",
		Usage:     "Delete the persisted image cache",
		UsageText: "imgcache clear",
		Description: `Removes the cache snapshot from the configured store. A running server
keeps its in-memory entries; use DELETE /admin/v1/cache to clear those.`,
		Action: cmd.run,
	})

	return app
}

func (cmd *ClearCmd) run(ctx context.Context, c *cli.Command) error {
	a, err := cmd.flags.openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Shutdown(context.WithoutCancel(ctx)) }()

	before := a.Cache().Stats()
	a.Cache().Clear(ctx)

	fmt.Fprintf(cmd.flags.Out, "cleared %d cached image(s)\n", before.EntryCount)
	return nil
}

type StatsCmd struct {
	flags *Flags
}

// NewStatsCmd creates a new stats command
func NewStatsCmd(flags *Flags) *StatsCmd {
	return &StatsCmd{flags: flags}
}

// Register adds the stats command to the application
func (cmd *StatsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "stats",
		Usage:     "Print statistics of the persisted image cache",
		UsageText: "imgcache stats",
		Description: `Restores the cache from the configured store and prints its size and
entry count as JSON. Hit and miss counters start at zero in a new process.`,
		Action: cmd.run,
	})

	return app
}

func (cmd *StatsCmd) run(ctx context.Context, c *cli.Command) error {
	a, err := cmd.flags.openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Shutdown(context.WithoutCancel(ctx)) }()

	enc := json.NewEncoder(cmd.flags.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(a.Cache().Stats())
}
