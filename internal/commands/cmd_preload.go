package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
)

type PreloadCmd struct {
	flags *Flags
	file  string
}

// NewPreloadCmd creates a new preload command
func NewPreloadCmd(flags *Flags) *PreloadCmd {
	return &PreloadCmd{flags: flags}
}

// Register adds the preload command to the application
func (cmd *PreloadCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "preload",
		Usage:     "Fetch images into the persisted cache",
		UsageText: "imgcache preload [--file urls.txt] [url...]",
		Description: `Loads every URL given as an argument or listed in --file (one per line,
'#' starts a comment) and writes the warmed cache to the configured store.

A failing URL is reported and does not stop the others.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "file with one image URL per line ('-' for stdin)",
				Destination: &cmd.file,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *PreloadCmd) run(ctx context.Context, c *cli.Command) error {
	urls := c.Args().Slice()
	if cmd.file != "" {
		fromFile, err := readURLFile(cmd.file)
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs given, pass them as arguments or with --file")
	}

	a, err := cmd.flags.openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Shutdown(context.WithoutCancel(ctx)) }()

	report := a.Cache().PreloadImages(ctx, urls)
	fmt.Fprintf(cmd.flags.Out, "requested %d, loaded %d, failed %d\n", report.Requested, report.Loaded, report.Failed)

	if report.Loaded == 0 {
		return fmt.Errorf("no images could be loaded")
	}
	return nil
}

func readURLFile(path string) ([]string, error) {
	if path == "-" {
		return readURLs(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close()
	return readURLs(f)
}

// readURLs returns the non-empty, non-comment lines of r.
func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url file: %w", err)
	}
	return urls, nil
}
