// Package main is the entry point for the imgcache server and CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"imgcache/internal/commands"
	"imgcache/internal/version"
)

func main() {
	root := commands.NewRoot(&commands.Flags{}, version.Info(), os.Stdout)

	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
