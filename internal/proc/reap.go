package proc

import (
	"golang.org/x/sys/unix"
)

// Exit describes one reaped child.
type Exit struct {
	Pid    int
	Status unix.WaitStatus
}

// ReapExited collects every child that has exited or been signalled,
// without blocking. Stopped or continued children are skipped. Called
// from the run loop on SIGCHLD delivery.
func ReapExited() []Exit {
	var exits []Exit
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil || pid <= 0 {
			return exits
		}
		if ws.Stopped() || ws.Continued() {
			continue
		}
		exits = append(exits, Exit{Pid: pid, Status: ws})
	}
}

// WaitAll blocks until every descendant has been reaped, tolerating
// interruption. report is invoked for each child that terminated on a
// signal; it may be nil.
func WaitAll(report func(pid int, sig unix.Signal)) {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return // ECHILD: nothing left to wait for
		}
		if ws.Signaled() && report != nil {
			report(pid, ws.Signal())
		}
	}
}
