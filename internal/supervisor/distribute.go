package supervisor

import (
	"fmt"

	"github.com/filterdteam/filterd/internal/config"
	"github.com/filterdteam/filterd/internal/wire"
)

// reload parses the configuration file again and distributes the
// result to the engine. On any failure the previously active
// configuration remains in force and no process state is torn down,
// except that a distribution send failure means the engine channel is
// dead and the engine handle is closed.
func (s *Supervisor) reload() error {
	xconf, warnings, err := config.Load(s.configPath, s.defines)
	if err != nil {
		s.metrics.ReloadErrorTotal.Inc()
		return err
	}
	for _, w := range warnings {
		s.logger.Warn("config warning", "warning", w)
	}

	if err := s.distribute(xconf); err != nil {
		s.metrics.ReloadErrorTotal.Inc()
		return err
	}

	s.cfg = xconf
	s.metrics.ReloadTotal.Inc()
	return nil
}

// distribute transmits a configuration to the engine as one bracketed
// sequence: a begin marker, a process-attach message per concrete
// filter spawned, a declaration per filter spec with leaf expansions
// for chains, and an end marker that triggers the engine's atomic
// swap. Filter processes spawned before a failure stay in the handle
// table for the normal reap path.
func (s *Supervisor) distribute(cfg *config.Config) error {
	if err := s.engineSender.Send(wire.ReconfConf, 0, 0, -1, nil); err != nil {
		return s.engineFailed(err)
	}

	for i := range cfg.Filters {
		f := &cfg.Filters[i]
		if f.IsChain() {
			continue
		}
		h, engineEnd, err := s.spawner.SpawnFilter(f.Name, f.Exec)
		if err != nil {
			return fmt.Errorf("cannot spawn filter %s: %w", f.Name, err)
		}
		s.filters[f.Name] = h
		s.metrics.FilterSpawnTotal.WithLabelValues(f.Name).Inc()

		err = s.engineSender.Send(wire.ReconfFilterProc, 0, uint32(h.Pid),
			int(engineEnd.Fd()), wire.String(f.Name))
		engineEnd.Close()
		if err != nil {
			return s.engineFailed(err)
		}
	}

	for i := range cfg.Filters {
		f := &cfg.Filters[i]
		if err := s.engineSender.Send(wire.ReconfFilter, 0, 0, -1, wire.String(f.Name)); err != nil {
			return s.engineFailed(err)
		}
		if !f.IsChain() {
			continue
		}
		// Validation guarantees resolution succeeds on any config that
		// reaches distribution.
		leaves, err := config.Resolve(cfg, f.Name)
		if err != nil {
			return fmt.Errorf("chain %s: %w", f.Name, err)
		}
		for _, leaf := range leaves {
			if err := s.engineSender.Send(wire.ReconfFilterNode, 0, 0, -1, wire.String(leaf)); err != nil {
				return s.engineFailed(err)
			}
		}
	}

	if err := s.engineSender.Send(wire.ReconfEnd, 0, 0, -1, nil); err != nil {
		return s.engineFailed(err)
	}
	return nil
}

// engineFailed records a dead engine channel mid-distribution. The
// handle is closed; the run loop observes the closure and shuts the
// daemon down.
func (s *Supervisor) engineFailed(err error) error {
	if s.engine != nil {
		s.engine.Close()
	}
	return fmt.Errorf("engine channel: %w", err)
}
