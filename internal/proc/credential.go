package proc

import (
	"fmt"
	"log/slog"
	"os/user"
	"strconv"
	"syscall"
)

// LookupUser resolves a daemon user name to numeric uid and gid. The
// supervisor calls this at startup to fail fast when the run-as user
// does not exist.
func LookupUser(name string) (uid, gid int, err error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, fmt.Errorf("unknown user %s", name)
	}
	uid, err = strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("user %s: invalid uid %q", name, u.Uid)
	}
	gid, err = strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("user %s: invalid gid %q", name, u.Gid)
	}
	return uid, gid, nil
}

// DropPrivileges switches the current process to the given user.
// Frontend and engine call this after acquiring their inherited
// descriptors; the supervisor keeps its identity because it must still
// fork filter processes on reload.
func DropPrivileges(name string, logger *slog.Logger) error {
	if name == "" {
		return nil
	}
	uid, gid, err := LookupUser(name)
	if err != nil {
		return err
	}

	if err := syscall.Setgroups([]int{gid}); err != nil {
		return fmt.Errorf("setgroups: %w", err)
	}
	if err := syscall.Setgid(gid); err != nil {
		return fmt.Errorf("setgid(%d): %w", gid, err)
	}
	if err := syscall.Setuid(uid); err != nil {
		return fmt.Errorf("setuid(%d): %w", uid, err)
	}

	logger.Debug("dropped privileges", "user", name, "uid", uid, "gid", gid)
	return nil
}
