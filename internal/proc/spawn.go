package proc

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/filterdteam/filterd/internal/wire"
)

// RoleOptions carries the command-line state a re-executed role
// process needs to reconstruct its environment.
type RoleOptions struct {
	Debug   bool
	Verbose int
	Socket  string
	User    string
}

// args builds the argument vector for re-executing the daemon binary
// in the given role.
func (o RoleOptions) args(role Role) []string {
	var flag string
	switch role {
	case RoleFrontend:
		flag = "-F"
	case RoleEngine:
		flag = "-E"
	}
	argv := []string{flag}
	if o.Debug {
		argv = append(argv, "-d")
	}
	for i := 0; i < o.Verbose; i++ {
		argv = append(argv, "-v")
	}
	if role == RoleFrontend && o.Socket != "" {
		argv = append(argv, "-s", o.Socket)
	}
	if o.User != "" {
		argv = append(argv, "--user", o.User)
	}
	return argv
}

// ExecRole re-executes the current binary as a frontend or engine
// process, wired to the supervisor over a fresh socket pair inherited
// on ChannelFD. It returns a fully wired handle or an error; there is
// no partially wired state to clean up on failure.
func ExecRole(role Role, opts RoleOptions, logger *slog.Logger) (*Handle, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot locate own executable: %w", err)
	}

	uc, childEnd, err := Pair()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(exe, opts.args(role)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{childEnd} // becomes ChannelFD
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		childEnd.Close()
		uc.Close()
		return nil, fmt.Errorf("cannot start %s: %w", role, err)
	}
	childEnd.Close()

	logger.Debug("started child", "role", role.String(), "pid", cmd.Process.Pid)

	return &Handle{
		Role: role,
		Name: role.String(),
		Pid:  cmd.Process.Pid,
		Conn: wire.NewConn(uc),
	}, nil
}

// ParentChannel opens the channel a role process inherits from the
// supervisor on ChannelFD.
func ParentChannel() (*wire.Conn, error) {
	f := os.NewFile(ChannelFD, "parent")
	if f == nil {
		return nil, fmt.Errorf("no parent channel on fd %d", ChannelFD)
	}
	defer f.Close()
	return wire.FromFile(f)
}

// FilterSpawner creates filter child processes. Implementations are
// ExecFilterSpawner (real) and MockFilterSpawner (testing).
type FilterSpawner interface {
	// SpawnFilter starts the filter program with its socket end on
	// ChannelFD and returns the handle plus the engine-side end of the
	// pair. The caller forwards that descriptor to the engine and
	// closes it.
	SpawnFilter(name string, argv []string) (*Handle, *os.File, error)
}

// ExecFilterSpawner spawns real filter processes.
type ExecFilterSpawner struct {
	Logger *slog.Logger
}

// SpawnFilter implements FilterSpawner. All inherited descriptors
// other than stdio and the filter's channel end are close-on-exec.
func (s *ExecFilterSpawner) SpawnFilter(name string, argv []string) (*Handle, *os.File, error) {
	if len(argv) == 0 {
		return nil, nil, fmt.Errorf("filter %s: empty argument vector", name)
	}

	engineEnd, filterEnd, err := RawPair()
	if err != nil {
		return nil, nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{filterEnd} // becomes ChannelFD
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		filterEnd.Close()
		engineEnd.Close()
		return nil, nil, fmt.Errorf("filter %s: %w", name, err)
	}
	filterEnd.Close()

	s.Logger.Debug("forked filter", "name", name, "pid", cmd.Process.Pid)

	h := &Handle{
		Role: RoleFilter,
		Name: name,
		Pid:  cmd.Process.Pid,
	}
	return h, engineEnd, nil
}

// MockFilterSpawner records spawn requests for tests.
type MockFilterSpawner struct {
	Calls []string // filter names in spawn order
	Err   error    // returned for every spawn when set
}

// SpawnFilter implements FilterSpawner without forking. The returned
// descriptor refers to /dev/null so callers can send and close it.
func (m *MockFilterSpawner) SpawnFilter(name string, argv []string) (*Handle, *os.File, error) {
	if m.Err != nil {
		return nil, nil, m.Err
	}
	m.Calls = append(m.Calls, name)
	f, err := os.Open(os.DevNull)
	if err != nil {
		return nil, nil, err
	}
	h := &Handle{
		Role: RoleFilter,
		Name: name,
		Pid:  10000 + len(m.Calls),
	}
	return h, f, nil
}
