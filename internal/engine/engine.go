// Package engine implements the filter-engine process of filterd. It
// receives its configuration from the privileged parent over the
// inherited channel and swaps rulesets atomically at the end of each
// distribution sequence.
package engine

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/filterdteam/filterd/internal/proc"
	"github.com/filterdteam/filterd/internal/wire"
)

// Engine holds the engine's runtime state. All fields are owned by the
// event loop goroutine.
type Engine struct {
	parent  wire.Sender
	ipc     *os.File
	active  *Ruleset
	pending *Ruleset

	// Most recently declared filter of the pending ruleset; node
	// expansions attach to it.
	current *Filter

	logger *slog.Logger
}

// Options configures an engine process.
type Options struct {
	User   string
	Logger *slog.Logger
}

// New creates an engine with no configuration loaded.
func New(parent wire.Sender, logger *slog.Logger) *Engine {
	return &Engine{parent: parent, logger: logger}
}

// Run is the engine process entry point: attach to the parent channel,
// drop privileges, then serve parent messages until the channel closes.
func Run(opts Options) error {
	conn, err := proc.ParentChannel()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := proc.DropPrivileges(opts.User, opts.Logger); err != nil {
		return err
	}

	e := New(conn, opts.Logger)
	defer e.close()
	opts.Logger.Debug("engine ready", "pid", os.Getpid())

	conn.Start()
	for ev := range conn.Events() {
		if ev.Err != nil {
			// Parent gone; normal shutdown path.
			opts.Logger.Debug("parent channel closed", "error", ev.Err)
			return nil
		}
		if err := e.Handle(ev.Msg); err != nil {
			return err
		}
	}
	return nil
}

// Handle processes one message from the parent. A protocol violation
// is fatal to the process.
func (e *Engine) Handle(m *wire.Msg) error {
	switch m.Type {
	case wire.SocketIPC:
		if e.ipc != nil {
			e.ipc.Close()
		}
		e.ipc = os.NewFile(uintptr(m.FD), "frontend")

	case wire.ReconfConf:
		if e.pending != nil {
			return fmt.Errorf("config sequence restarted before end marker")
		}
		e.pending = NewRuleset()
		e.current = nil

	case wire.ReconfFilterProc:
		if e.pending == nil {
			return e.outOfSequence(m)
		}
		ch := os.NewFile(uintptr(m.FD), m.Text())
		if err := e.pending.Attach(m.Text(), int(m.Pid), ch); err != nil {
			ch.Close()
			return err
		}
		e.logger.Debug("filter process attached", "filter", m.Text(), "pid", m.Pid)

	case wire.ReconfFilter:
		if e.pending == nil {
			return e.outOfSequence(m)
		}
		f, err := e.pending.Declare(m.Text())
		if err != nil {
			return err
		}
		e.current = f

	case wire.ReconfFilterNode:
		if e.pending == nil || e.current == nil {
			return e.outOfSequence(m)
		}
		e.current.Nodes = append(e.current.Nodes, m.Text())

	case wire.ReconfEnd:
		if e.pending == nil {
			return e.outOfSequence(m)
		}
		if e.active != nil {
			e.active.Close()
		}
		e.active = e.pending
		e.pending = nil
		e.current = nil
		e.logger.Info("configuration installed", "filters", len(e.active.Names()))

	default:
		e.logger.Debug("unexpected parent message", "type", m.Type.String())
	}
	return nil
}

// Active returns the ruleset currently in force, or nil before the
// first complete distribution.
func (e *Engine) Active() *Ruleset { return e.active }

func (e *Engine) outOfSequence(m *wire.Msg) error {
	return fmt.Errorf("%s outside a config sequence", m.Type)
}

func (e *Engine) close() {
	if e.ipc != nil {
		e.ipc.Close()
	}
	if e.pending != nil {
		e.pending.Close()
	}
	if e.active != nil {
		e.active.Close()
	}
}
