// Package logging provides structured logging for filterd using
// stdlib slog, with a runtime-adjustable level so verbosity changes
// from the control socket take effect without restart.
package logging

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Options controls logger creation.
type Options struct {
	Debug   bool      // foreground mode; implies text output
	Verbose int       // repeat count of -v
	Output  io.Writer // defaults to os.Stderr
}

// New creates a configured logger plus the level handle used to apply
// CTL_LOG_VERBOSE at runtime. Output is text when attached to a
// terminal or in debug mode, JSON otherwise.
func New(opts Options) (*slog.Logger, *slog.LevelVar) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := new(slog.LevelVar)
	SetVerbose(level, opts.Verbose)

	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if opts.Debug || isTerminal(out) {
		handler = slog.NewTextHandler(out, hopts)
	} else {
		handler = slog.NewJSONHandler(out, hopts)
	}

	return slog.New(handler), level
}

// SetVerbose maps a verbosity count onto the level handle: zero means
// info, anything higher means debug.
func SetVerbose(level *slog.LevelVar, verbose int) {
	if verbose > 0 {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
