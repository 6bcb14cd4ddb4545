// Package frontend implements the control-socket process of filterd.
// It owns the unix-domain control socket, multiplexes control clients
// onto the parent channel, and routes replies back by correlation id.
package frontend

import (
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/filterdteam/filterd/internal/proc"
	"github.com/filterdteam/filterd/internal/wire"
)

// Frontend holds the frontend's runtime state. All fields are owned by
// the event loop goroutine; session readers and the accept loop only
// feed events into it.
type Frontend struct {
	parent   wire.Sender
	engine   *os.File
	sessions map[uint32]*session
	nextID   uint32

	logger *slog.Logger
}

// Options configures a frontend process.
type Options struct {
	User   string
	Socket string
	Logger *slog.Logger
}

// New creates a frontend with no sessions.
func New(parent wire.Sender, logger *slog.Logger) *Frontend {
	return &Frontend{
		parent:   parent,
		sessions: make(map[uint32]*session),
		logger:   logger,
	}
}

// Run is the frontend process entry point: attach to the parent
// channel, bind the control socket, drop privileges, then serve until
// the parent channel closes.
func Run(opts Options) error {
	conn, err := proc.ParentChannel()
	if err != nil {
		return err
	}
	defer conn.Close()

	ln, err := listenControl(opts.Socket)
	if err != nil {
		return err
	}
	defer ln.Close()

	if err := proc.DropPrivileges(opts.User, opts.Logger); err != nil {
		return err
	}

	f := New(conn, opts.Logger)
	defer f.close()
	opts.Logger.Debug("frontend ready", "pid", os.Getpid(), "socket", opts.Socket)

	accepts := make(chan *wire.Conn)
	go acceptLoop(ln, accepts, opts.Logger)

	ctl := make(chan ctlEvent, 16)
	conn.Start()
	for {
		select {
		case ev := <-conn.Events():
			if ev.Err != nil {
				opts.Logger.Debug("parent channel closed", "error", ev.Err)
				return nil
			}
			f.handleParent(ev.Msg)

		case c := <-accepts:
			if c == nil {
				return fmt.Errorf("control socket closed unexpectedly")
			}
			s := f.register(c, func() { c.Close() })
			go readSession(s.id, c, ctl)

		case ev := <-ctl:
			f.handleControl(ev)
		}
	}
}

// listenControl binds the control socket, replacing a stale one left
// behind by an earlier instance. Only root may connect.
func listenControl(path string) (*net.UnixListener, error) {
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		os.Remove(path)
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("cannot bind control socket %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return nil, err
	}
	return ln, nil
}

func acceptLoop(ln *net.UnixListener, accepts chan<- *wire.Conn, logger *slog.Logger) {
	for {
		uc, err := ln.AcceptUnix()
		if err != nil {
			logger.Debug("accept loop ending", "error", err)
			close(accepts)
			return
		}
		accepts <- wire.NewConn(uc)
	}
}

func readSession(id uint32, c *wire.Conn, ctl chan<- ctlEvent) {
	for {
		m, err := c.Recv()
		ctl <- ctlEvent{sid: id, msg: m, err: err}
		if err != nil {
			return
		}
	}
}

// handleParent processes one message from the privileged parent.
func (f *Frontend) handleParent(m *wire.Msg) {
	switch m.Type {
	case wire.SocketIPC:
		if f.engine != nil {
			f.engine.Close()
		}
		f.engine = os.NewFile(uintptr(m.FD), "engine")

	case wire.CtlEnd:
		s := f.sessions[m.CorrID]
		if s == nil {
			f.logger.Debug("reply for unknown session", "corrid", m.CorrID)
			return
		}
		if err := s.sender.Send(wire.CtlEnd, s.lastCorr, 0, -1, nil); err != nil {
			f.logger.Debug("cannot deliver reply", "session", s.id, "error", err)
			f.drop(s.id)
		}

	default:
		f.logger.Debug("unexpected parent message", "type", m.Type.String())
	}
}

func (f *Frontend) close() {
	if f.engine != nil {
		f.engine.Close()
	}
	for id := range f.sessions {
		f.drop(id)
	}
}
