package supervisor

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalQueue captures OS signals for deferred processing in the main
// loop, so handler logic runs as ordinary sequential code rather than
// in signal context.
type SignalQueue struct {
	C  <-chan os.Signal
	ch chan os.Signal
}

// NewSignalQueue creates a signal queue with a buffer of 16 signals.
// It registers for SIGTERM, SIGINT, SIGHUP, and SIGCHLD, and ignores
// SIGPIPE so a dead peer surfaces as a channel error instead.
func NewSignalQueue(logger *slog.Logger) *SignalQueue {
	signal.Ignore(syscall.SIGPIPE)

	ch := make(chan os.Signal, 16)
	signal.Notify(ch,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGCHLD,
	)
	return &SignalQueue{C: ch, ch: ch}
}

// Stop deregisters signal notifications.
func (sq *SignalQueue) Stop() {
	signal.Stop(sq.ch)
}
