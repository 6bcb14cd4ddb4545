// Package proc manages filterd child processes: socket-pair wiring,
// spawning of role and filter processes, privilege handling, and
// child reaping.
package proc

import (
	"github.com/filterdteam/filterd/internal/wire"
)

// Role identifies what a child process is for.
type Role int

const (
	RoleFrontend Role = iota
	RoleEngine
	RoleFilter
)

func (r Role) String() string {
	switch r {
	case RoleFrontend:
		return "frontend"
	case RoleEngine:
		return "engine"
	case RoleFilter:
		return "filter"
	default:
		return "unknown"
	}
}

// ChannelFD is the well-known descriptor number on which a child
// process inherits its channel to the supervisor (for roles) or to the
// engine (for filters).
const ChannelFD = 3

// Handle is one supervised child process. Conn is nil for filter
// handles: their socket end is transferred to the engine at spawn time
// and the supervisor only tracks the pid for reaping.
type Handle struct {
	Role Role
	Name string
	Pid  int
	Conn *wire.Conn
}

// Close tears down the handle's channel, if any. The child sees the
// peer close and exits on its own.
func (h *Handle) Close() {
	if h.Conn != nil {
		h.Conn.Close()
		h.Conn = nil
	}
}
