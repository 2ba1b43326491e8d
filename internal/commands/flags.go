// Package commands implements the imgcache command line.
package commands

import (
	"context"
	"fmt"
	"io"

	"imgcache/config"
	"imgcache/internal/app"
)

// Flags holds global flag values shared by every command.
type Flags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config

	// Out receives command output
	Out io.Writer
}

// openApp builds the application from the loaded configuration.
// The caller must call Shutdown on the result.
func (f *Flags) openApp(ctx context.Context) (*app.App, error) {
	if f.Config == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	a, err := app.New(ctx, app.Config{AppConfig: &config.LoadResult{Config: f.Config}})
	if err != nil {
		return nil, fmt.Errorf("initialize application: %w", err)
	}
	return a, nil
}
