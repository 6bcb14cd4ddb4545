package wire

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Conn is a message channel over one end of a connected unix stream
// socket pair. Frames are self-delimiting; partial reads are buffered
// and reassembled. A descriptor is sent in the same sendmsg as the
// frame it belongs to, so it arrives with that message.
type Conn struct {
	uc *net.UnixConn

	rbuf []byte // unconsumed bytes from the stream

	fmu sync.Mutex
	fds []int // received descriptors not yet attached to a message

	events chan Event
	once   sync.Once
	wmu    sync.Mutex
}

// Event is one delivery from the read side of a Conn: a decoded
// message, or a terminal error when the peer closed or the transport
// failed. After an error event the Events channel is closed.
type Event struct {
	Msg *Msg
	Err error
}

// NewConn wraps an already connected unix stream socket.
func NewConn(uc *net.UnixConn) *Conn {
	return &Conn{
		uc:     uc,
		events: make(chan Event, 16),
	}
}

// FromFile wraps an inherited descriptor, typically the well-known
// channel fd a child process receives from the supervisor.
func FromFile(f *os.File) (*Conn, error) {
	c, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("cannot use fd %d as channel: %w", f.Fd(), err)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("fd %d is not a unix stream socket", f.Fd())
	}
	return NewConn(uc), nil
}

// Send transmits one message. A descriptor is attached when fd >= 0;
// the caller keeps ownership of it. The payload must match the type's
// policy.
func (c *Conn) Send(t Type, corrID, pid uint32, fd int, data []byte) error {
	if err := checkPolicy(t, data, fd >= 0); err != nil {
		return &ChannelError{Op: "send", Err: err}
	}
	if len(data) > MaxPayload {
		return &ChannelError{Op: "send", Err: fmt.Errorf("%s: payload of %d bytes exceeds limit", t, len(data))}
	}

	frame := make([]byte, headerSize+len(data))
	binary.BigEndian.PutUint16(frame[0:2], uint16(headerSize+len(data)))
	binary.BigEndian.PutUint16(frame[2:4], uint16(t))
	binary.BigEndian.PutUint32(frame[4:8], corrID)
	binary.BigEndian.PutUint32(frame[8:12], pid)
	copy(frame[headerSize:], data)

	var oob []byte
	if fd >= 0 {
		oob = unix.UnixRights(fd)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, _, err := c.uc.WriteMsgUnix(frame, oob, nil); err != nil {
		return &ChannelError{Op: "send", Err: err}
	}
	return nil
}

// Recv reads the next complete message, blocking as needed. It returns
// a ChannelError for malformed frames and the transport error (io.EOF
// on clean peer close) otherwise.
func (c *Conn) Recv() (*Msg, error) {
	for {
		if m, err := c.nextFrame(); m != nil || err != nil {
			return m, err
		}

		buf := make([]byte, MaxFrame)
		oob := make([]byte, 256)
		n, oobn, _, _, err := c.uc.ReadMsgUnix(buf, oob)
		if oobn > 0 {
			if cerr := c.collectFDs(oob[:oobn]); cerr != nil {
				return nil, cerr
			}
		}
		if n > 0 {
			c.rbuf = append(c.rbuf, buf[:n]...)
		}
		if err != nil {
			if n > 0 {
				continue // drain buffered frames before surfacing the error
			}
			return nil, err
		}
	}
}

// nextFrame decodes one message from the reassembly buffer, or returns
// (nil, nil) when no complete frame is buffered.
func (c *Conn) nextFrame() (*Msg, error) {
	if len(c.rbuf) < headerSize {
		return nil, nil
	}
	length := int(binary.BigEndian.Uint16(c.rbuf[0:2]))
	if length < headerSize || length > MaxFrame {
		return nil, &ChannelError{Op: "recv", Err: fmt.Errorf("invalid frame length %d", length)}
	}
	if len(c.rbuf) < length {
		return nil, nil
	}

	m := &Msg{
		Type:   Type(binary.BigEndian.Uint16(c.rbuf[2:4])),
		CorrID: binary.BigEndian.Uint32(c.rbuf[4:8]),
		Pid:    binary.BigEndian.Uint32(c.rbuf[8:12]),
		FD:     -1,
		Data:   append([]byte(nil), c.rbuf[headerSize:length]...),
	}
	c.rbuf = c.rbuf[length:]

	if m.Type.CarriesFD() {
		fd, ok := c.popFD()
		if !ok {
			return nil, &ChannelError{Op: "recv", Err: fmt.Errorf("%s: descriptor did not arrive with message", m.Type)}
		}
		m.FD = fd
	}
	if err := checkPolicy(m.Type, m.Data, m.FD >= 0); err != nil {
		if m.FD >= 0 {
			unix.Close(m.FD)
		}
		return nil, &ChannelError{Op: "recv", Err: err}
	}
	return m, nil
}

// collectFDs parses SCM_RIGHTS control data into the descriptor queue.
func (c *Conn) collectFDs(oob []byte) error {
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return &ChannelError{Op: "recv", Err: err}
	}
	for _, cm := range cmsgs {
		fds, err := unix.ParseUnixRights(&cm)
		if err != nil {
			return &ChannelError{Op: "recv", Err: err}
		}
		for _, fd := range fds {
			unix.CloseOnExec(fd)
			c.pushFD(fd)
		}
	}
	return nil
}

// releaseFDs closes every queued descriptor not yet attached to a
// message. Idempotent; called from Close and from the reader's
// terminal path, whichever runs last catches late arrivals.
func (c *Conn) releaseFDs() {
	c.fmu.Lock()
	fds := c.fds
	c.fds = nil
	c.fmu.Unlock()
	for _, fd := range fds {
		unix.Close(fd)
	}
}

func (c *Conn) pushFD(fd int) {
	c.fmu.Lock()
	c.fds = append(c.fds, fd)
	c.fmu.Unlock()
}

func (c *Conn) popFD() (int, bool) {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	if len(c.fds) == 0 {
		return -1, false
	}
	fd := c.fds[0]
	c.fds = c.fds[1:]
	return fd, true
}

// Start begins asynchronous delivery: a reader goroutine pushes one
// Event per message into the Events channel and, on peer close or
// transport error, a final Event with Err set before closing it.
func (c *Conn) Start() {
	c.once.Do(func() {
		go func() {
			for {
				m, err := c.Recv()
				if err != nil {
					c.releaseFDs()
					c.events <- Event{Err: err}
					close(c.events)
					return
				}
				c.events <- Event{Msg: m}
			}
		}()
	})
}

// Events returns the delivery channel. Valid after Start.
func (c *Conn) Events() <-chan Event { return c.events }

// Close shuts the transport down and releases any descriptors that
// were received but never attached to a delivered message. Safe to
// call while a reader started by Start is live.
func (c *Conn) Close() error {
	c.releaseFDs()
	return c.uc.Close()
}
