package frontend

import (
	"github.com/filterdteam/filterd/internal/wire"
)

// session is one connected control client.
type session struct {
	id     uint32
	sender wire.Sender

	// Correlation id of the client's request in flight; restored on
	// the reply so the client can match it.
	lastCorr uint32

	closeFn func()
}

// ctlEvent is one message (or terminal error) read from a control
// client.
type ctlEvent struct {
	sid uint32
	msg *wire.Msg
	err error
}

// register adds a control session and assigns it a nonzero id used to
// correlate requests forwarded to the parent.
func (f *Frontend) register(sender wire.Sender, closeFn func()) *session {
	f.nextID++
	if f.nextID == 0 {
		f.nextID = 1
	}
	for f.sessions[f.nextID] != nil {
		f.nextID++
	}
	s := &session{id: f.nextID, sender: sender, closeFn: closeFn}
	f.sessions[s.id] = s
	f.logger.Debug("control session opened", "session", s.id)
	return s
}

// drop closes and forgets a session.
func (f *Frontend) drop(id uint32) {
	s := f.sessions[id]
	if s == nil {
		return
	}
	delete(f.sessions, id)
	if s.closeFn != nil {
		s.closeFn()
	}
	f.logger.Debug("control session closed", "session", id)
}

// handleControl processes one event from a control client: requests
// are forwarded to the parent under the session's id, anything else
// ends the session.
func (f *Frontend) handleControl(ev ctlEvent) {
	if ev.err != nil {
		f.drop(ev.sid)
		return
	}
	s := f.sessions[ev.sid]
	if s == nil {
		return
	}

	m := ev.msg
	switch m.Type {
	case wire.CtlReload, wire.CtlShowMainInfo:
		s.lastCorr = m.CorrID
		if err := f.parent.Send(m.Type, s.id, 0, -1, nil); err != nil {
			f.logger.Warn("cannot forward control request", "error", err)
			f.drop(s.id)
		}

	case wire.CtlLogVerbose:
		if _, err := m.Int32(); err != nil {
			f.logger.Debug("bad verbosity payload", "session", s.id)
			f.drop(s.id)
			return
		}
		s.lastCorr = m.CorrID
		if err := f.parent.Send(m.Type, s.id, 0, -1, m.Data); err != nil {
			f.logger.Warn("cannot forward control request", "error", err)
			f.drop(s.id)
		}

	default:
		f.logger.Debug("unexpected control message", "session", s.id, "type", m.Type.String())
		f.drop(s.id)
	}
}
