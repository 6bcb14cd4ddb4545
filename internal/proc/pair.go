package proc

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Pair creates a connected stream socket pair. The first end is
// wrapped for use as a channel in this process; the second is returned
// as a plain file suitable for handing a child via ExtraFiles or for
// sending over a channel.
func Pair() (*net.UnixConn, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}

	parent := os.NewFile(uintptr(fds[0]), "channel")
	c, err := net.FileConn(parent)
	parent.Close() // FileConn duplicated the descriptor
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		unix.Close(fds[1])
		return nil, nil, fmt.Errorf("socketpair: unexpected conn type %T", c)
	}

	child := os.NewFile(uintptr(fds[1]), "channel-peer")
	return uc, child, nil
}

// RawPair creates a connected stream socket pair as two plain files,
// for wiring two children to each other.
func RawPair() (*os.File, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	return os.NewFile(uintptr(fds[0]), "ipc"), os.NewFile(uintptr(fds[1]), "ipc"), nil
}
