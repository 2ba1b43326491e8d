// Package logging builds the process-wide slog handler.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Format names accepted by New.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Options selects the handler format and minimum level.
type Options struct {
	// Format is "json", "text" or empty. Empty means text on a terminal, JSON otherwise.
	Format string
	// Level is parsed with slog.Level.UnmarshalText; empty or invalid means info.
	Level string
}

// New returns a handler writing to w.
// Text output is colorized only when w is a terminal.
func New(w io.Writer, opts Options) slog.Handler {
	level := ParseLevel(opts.Level)
	tty := isTerminal(w)

	format := strings.ToLower(opts.Format)
	if format == "" {
		format = FormatJSON
		if tty {
			format = FormatText
		}
	}

	if format == FormatText {
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !tty,
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// Setup installs a stdout logger as the slog default and returns it.
func Setup(opts Options) *slog.Logger {
	logger := slog.New(New(os.Stdout, opts))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
