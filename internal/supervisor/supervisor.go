// Package supervisor implements the privileged control process of
// filterd: it spawns and wires the frontend, engine, and filter
// subprocesses, distributes configuration to the engine, and runs the
// signal-driven reload/shutdown loop.
package supervisor

import (
	"log/slog"

	"github.com/gofrs/flock"

	"github.com/filterdteam/filterd/internal/config"
	"github.com/filterdteam/filterd/internal/metrics"
	"github.com/filterdteam/filterd/internal/proc"
	"github.com/filterdteam/filterd/internal/wire"
)

// Supervisor owns the active configuration and the process-handle
// table. Both are mutated only from the run loop goroutine; channel
// readers and the config watcher feed events into it.
type Supervisor struct {
	cfg        *config.Config
	configPath string
	defines    map[string]string
	sockPath   string

	frontend *proc.Handle
	engine   *proc.Handle
	filters  map[string]*proc.Handle

	// Write halves of the child channels, split out so protocol logic
	// is testable without sockets.
	frontendSender wire.Sender
	engineSender   wire.Sender

	spawner proc.FilterSpawner
	signals *SignalQueue
	watcher *Watcher
	metrics *metrics.Collector
	lock    *flock.Flock

	logger *slog.Logger
	level  *slog.LevelVar

	debug   bool
	verbose int
}

// Options configures a Supervisor.
type Options struct {
	Config     *config.Config
	ConfigPath string
	Defines    map[string]string
	Debug      bool
	Verbose    int
	Logger     *slog.Logger
	Level      *slog.LevelVar
}

// New creates a supervisor for the given parsed configuration.
func New(opts Options) *Supervisor {
	return &Supervisor{
		cfg:        opts.Config,
		configPath: opts.ConfigPath,
		sockPath:   opts.Config.Daemon.Socket,
		defines:    opts.Defines,
		filters:    make(map[string]*proc.Handle),
		spawner:    &proc.ExecFilterSpawner{Logger: opts.Logger},
		metrics:    metrics.New(),
		logger:     opts.Logger,
		level:      opts.Level,
		debug:      opts.Debug,
		verbose:    opts.Verbose,
	}
}

// filterByPid finds the filter handle for a reaped pid, if any.
func (s *Supervisor) filterByPid(pid int) *proc.Handle {
	for _, h := range s.filters {
		if h.Pid == pid {
			return h
		}
	}
	return nil
}
