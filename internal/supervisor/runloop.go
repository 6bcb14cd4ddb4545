package supervisor

import (
	"fmt"
	"os"
	"syscall"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/filterdteam/filterd/internal/logging"
	"github.com/filterdteam/filterd/internal/proc"
	"github.com/filterdteam/filterd/internal/wire"
)

// Run executes the supervisor: privilege checks, child spawning and
// wiring, initial config distribution, then the event loop. It returns
// only after shutdown has reaped every descendant, or with an error on
// a fatal startup failure before any partial daemon is left running.
func (s *Supervisor) Run() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("need root privileges")
	}
	if _, _, err := proc.LookupUser(s.cfg.Daemon.User); err != nil {
		return err
	}

	s.lock = flock.New(s.cfg.Daemon.Lockfile)
	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("cannot lock %s: %w", s.cfg.Daemon.Lockfile, err)
	}
	if !locked {
		return fmt.Errorf("another daemon holds %s", s.cfg.Daemon.Lockfile)
	}
	defer s.lock.Unlock()

	s.logger.Info("startup", "pid", os.Getpid())

	s.signals = NewSignalQueue(s.logger)
	defer s.signals.Stop()

	roleOpts := proc.RoleOptions{
		Debug:   s.debug,
		Verbose: s.verbose,
		Socket:  s.cfg.Daemon.Socket,
		User:    s.cfg.Daemon.User,
	}
	if s.frontend, err = proc.ExecRole(proc.RoleFrontend, roleOpts, s.logger); err != nil {
		return err
	}
	if s.engine, err = proc.ExecRole(proc.RoleEngine, roleOpts, s.logger); err != nil {
		return err
	}
	s.frontendSender = s.frontend.Conn
	s.engineSender = s.engine.Conn
	s.frontend.Conn.Start()
	s.engine.Conn.Start()

	// Connect the two children to each other over a dedicated pair;
	// the supervisor relays nothing between them afterwards.
	if err := s.wireChildren(); err != nil {
		return err
	}

	if err := s.distribute(s.cfg); err != nil {
		return fmt.Errorf("initial config distribution: %w", err)
	}

	// No further privileged actions from here on beyond spawning
	// filter processes on reload and removing the control socket.

	if s.cfg.Metrics.Listen != "" {
		go s.metrics.Serve(s.cfg.Metrics.Listen, s.cfg.Metrics.Username,
			s.cfg.Metrics.Password, s.logger)
	}

	// Captured once: a handle closed mid-loop (failed reload) still
	// delivers its terminal event here and drives the shutdown path.
	frontendEvents := s.frontend.Conn.Events()
	engineEvents := s.engine.Conn.Events()

	var watchCh <-chan struct{}
	if s.cfg.Daemon.Watch {
		w, err := NewWatcher(s.configPath, s.logger)
		if err != nil {
			s.logger.Warn("config watcher disabled", "error", err)
		} else {
			s.watcher = w
			watchCh = w.C
			defer w.Close()
		}
	}

	for {
		select {
		case sig := <-s.signals.C:
			if s.handleSignal(sig) {
				goto shutdown
			}
		case ev := <-frontendEvents:
			if !s.handleFrontend(ev) {
				goto shutdown
			}
		case ev := <-engineEvents:
			if !s.handleEngine(ev) {
				goto shutdown
			}
		case <-watchCh:
			s.logger.Info("config file changed on disk")
			if err := s.reload(); err != nil {
				s.logger.Warn("configuration reload failed", "error", err)
			}
		}
	}

shutdown:
	s.shutdown()
	return nil
}

// wireChildren creates the frontend-engine socket pair and hands one
// end to each child.
func (s *Supervisor) wireChildren() error {
	a, b, err := proc.RawPair()
	if err != nil {
		return err
	}
	defer a.Close()
	defer b.Close()

	if err := s.frontendSender.Send(wire.SocketIPC, 0, 0, int(a.Fd()), nil); err != nil {
		return fmt.Errorf("cannot pass ipc socket to frontend: %w", err)
	}
	if err := s.engineSender.Send(wire.SocketIPC, 0, 0, int(b.Fd()), nil); err != nil {
		return fmt.Errorf("cannot pass ipc socket to engine: %w", err)
	}
	return nil
}

// handleSignal processes one signal; true means begin shutdown.
func (s *Supervisor) handleSignal(sig os.Signal) bool {
	switch sig {
	case syscall.SIGTERM, syscall.SIGINT:
		s.logger.Info("received signal", "signal", sig.String())
		return true

	case syscall.SIGHUP:
		if err := s.reload(); err != nil {
			s.logger.Warn("configuration reload failed", "error", err)
		} else {
			s.logger.Debug("configuration reloaded")
		}
		return false

	case syscall.SIGCHLD:
		s.handleExits(proc.ReapExited())
		return false

	default:
		s.logger.Warn("unhandled signal", "signal", sig.String())
		return false
	}
}

// handleExits logs reaped children and drops dead filter handles. A
// pid with no handle is not an error: it may already have been torn
// down explicitly.
func (s *Supervisor) handleExits(exits []proc.Exit) {
	for _, e := range exits {
		switch {
		case e.Status.Signaled():
			s.logger.Warn("process terminated by signal",
				"pid", e.Pid, "signal", int(e.Status.Signal()))
			s.metrics.ChildExitTotal.WithLabelValues("signal").Inc()
		case e.Status.ExitStatus() != 0:
			s.logger.Warn("process exited with status",
				"pid", e.Pid, "status", e.Status.ExitStatus())
			s.metrics.ChildExitTotal.WithLabelValues("error").Inc()
		default:
			s.logger.Debug("process exited normally", "pid", e.Pid)
			s.metrics.ChildExitTotal.WithLabelValues("clean").Inc()
		}

		if h := s.filterByPid(e.Pid); h != nil {
			delete(s.filters, h.Name)
		}
	}
}

// handleFrontend processes one event from the frontend channel; false
// means the channel died and the daemon should shut down.
func (s *Supervisor) handleFrontend(ev wire.Event) bool {
	if ev.Err != nil {
		s.logger.Warn("frontend channel closed", "error", ev.Err)
		return false
	}

	m := ev.Msg
	switch m.Type {
	case wire.CtlReload:
		if err := s.reload(); err != nil {
			s.logger.Warn("configuration reload failed", "error", err)
		} else {
			s.logger.Info("configuration reloaded")
		}

	case wire.CtlLogVerbose:
		// Payload already validated by the frontend.
		v, err := m.Int32()
		if err != nil {
			s.logger.Debug("bad verbosity payload", "error", err)
			return true
		}
		s.setVerbose(int(v))

	case wire.CtlShowMainInfo:
		if err := s.frontendSender.Send(wire.CtlEnd, m.CorrID, 0, -1, nil); err != nil {
			s.logger.Warn("cannot answer status query", "error", err)
		}

	default:
		s.logger.Debug("unexpected frontend message", "type", m.Type.String())
	}
	return true
}

// handleEngine processes one event from the engine channel; false
// means the channel died and the daemon should shut down.
func (s *Supervisor) handleEngine(ev wire.Event) bool {
	if ev.Err != nil {
		s.logger.Warn("engine channel closed", "error", ev.Err)
		return false
	}
	s.logger.Debug("unexpected engine message", "type", ev.Msg.Type.String())
	return true
}

func (s *Supervisor) setVerbose(v int) {
	s.verbose = v
	if s.level != nil {
		logging.SetVerbose(s.level, v)
	}
}

// shutdown tears the whole process tree down: close every channel so
// children see peer-closed and exit, wait for all descendants, then
// remove the control socket. Terminal.
func (s *Supervisor) shutdown() {
	s.logger.Info("shutting down")

	frontendPid := s.frontend.Pid
	enginePid := s.engine.Pid

	s.frontend.Close()
	s.engine.Close()
	for _, h := range s.filters {
		h.Close()
	}
	s.filters = make(map[string]*proc.Handle)
	s.cfg = nil

	s.logger.Debug("waiting for children to terminate")
	proc.WaitAll(func(pid int, sig unix.Signal) {
		role := "filter"
		switch pid {
		case frontendPid:
			role = "frontend"
		case enginePid:
			role = "engine"
		}
		s.logger.Warn("child terminated by signal", "role", role, "pid", pid, "signal", int(sig))
	})

	if err := os.Remove(s.sockPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("cannot remove control socket", "error", err)
	}

	s.logger.Info("terminating")
}
