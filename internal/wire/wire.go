// Package wire implements the framed, typed message protocol spoken
// between the filterd supervisor and its child processes. A message
// carries a type, a correlation id, a pid, an optional file descriptor
// passed out-of-band, and a small bounded payload.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Type identifies a protocol message.
type Type uint16

// Message types. The payload and descriptor rules for each type are
// fixed by the policy table below.
const (
	typeInvalid Type = iota

	// SocketIPC hands a child the socket end of its private channel to
	// the other child process.
	SocketIPC

	// Control messages relayed between frontend and supervisor.
	CtlReload
	CtlLogVerbose
	CtlShowMainInfo
	CtlEnd

	// Configuration distribution, supervisor to engine.
	ReconfConf
	ReconfFilter
	ReconfFilterProc
	ReconfFilterNode
	ReconfEnd
)

var typeNames = map[Type]string{
	SocketIPC:        "SOCKET_IPC",
	CtlReload:        "CTL_RELOAD",
	CtlLogVerbose:    "CTL_LOG_VERBOSE",
	CtlShowMainInfo:  "CTL_SHOW_MAIN_INFO",
	CtlEnd:           "CTL_END",
	ReconfConf:       "RECONF_CONF",
	ReconfFilter:     "RECONF_FILTER",
	ReconfFilterProc: "RECONF_FILTER_PROC",
	ReconfFilterNode: "RECONF_FILTER_NODE",
	ReconfEnd:        "RECONF_END",
}

// String returns the protocol name of the type.
func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(t))
}

// payloadKind constrains the payload a type may carry.
type payloadKind int

const (
	payloadNone   payloadKind = iota // zero-length payload
	payloadString                    // NUL-terminated non-empty string
	payloadInt32                     // exactly 4 bytes
)

type policy struct {
	payload payloadKind
	fd      bool
}

var policies = map[Type]policy{
	SocketIPC:        {payloadNone, true},
	CtlReload:        {payloadNone, false},
	CtlLogVerbose:    {payloadInt32, false},
	CtlShowMainInfo:  {payloadNone, false},
	CtlEnd:           {payloadNone, false},
	ReconfConf:       {payloadNone, false},
	ReconfFilter:     {payloadString, false},
	ReconfFilterProc: {payloadString, true},
	ReconfFilterNode: {payloadString, false},
	ReconfEnd:        {payloadNone, false},
}

// CarriesFD reports whether messages of this type travel with an
// attached file descriptor.
func (t Type) CarriesFD() bool {
	return policies[t].fd
}

// Frame layout: 12-byte big-endian header followed by the payload.
//
//	uint16 length (header + payload)
//	uint16 type
//	uint32 correlation id
//	uint32 pid
const (
	headerSize = 12

	// MaxFrame bounds a complete frame. Only small control messages
	// cross this channel.
	MaxFrame = 16384

	// MaxPayload bounds the opaque payload of a single message.
	MaxPayload = MaxFrame - headerSize
)

// Msg is a single decoded protocol message. FD is -1 when no
// descriptor accompanies the message.
type Msg struct {
	Type   Type
	CorrID uint32
	Pid    uint32
	FD     int
	Data   []byte
}

// Text returns the payload as a string with the trailing NUL removed.
func (m *Msg) Text() string {
	d := m.Data
	if n := len(d); n > 0 && d[n-1] == 0 {
		d = d[:n-1]
	}
	return string(d)
}

// Int32 decodes a fixed-size int32 payload.
func (m *Msg) Int32() (int32, error) {
	if len(m.Data) != 4 {
		return 0, &ChannelError{Op: "decode", Err: fmt.Errorf("%s: payload length %d, want 4", m.Type, len(m.Data))}
	}
	return int32(binary.BigEndian.Uint32(m.Data)), nil
}

// String builds a NUL-terminated string payload.
func String(s string) []byte {
	return append([]byte(s), 0)
}

// Int32Payload builds a fixed-size int32 payload.
func Int32Payload(v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

// checkPolicy verifies payload length and descriptor presence against
// the type's policy.
func checkPolicy(t Type, data []byte, haveFD bool) error {
	p, ok := policies[t]
	if !ok {
		return fmt.Errorf("unknown message type %d", uint16(t))
	}
	switch p.payload {
	case payloadNone:
		if len(data) != 0 {
			return fmt.Errorf("%s: unexpected payload of %d bytes", t, len(data))
		}
	case payloadString:
		if len(data) < 2 || data[len(data)-1] != 0 {
			return fmt.Errorf("%s: payload is not a NUL-terminated string", t)
		}
	case payloadInt32:
		if len(data) != 4 {
			return fmt.Errorf("%s: payload length %d, want 4", t, len(data))
		}
	}
	if p.fd != haveFD {
		if p.fd {
			return fmt.Errorf("%s: missing file descriptor", t)
		}
		return fmt.Errorf("%s: unexpected file descriptor", t)
	}
	return nil
}

// ChannelError describes a framing, policy, or transport failure on a
// Conn. The owner treats it as peer death and tears down the handle.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// Sender is the write half of a channel. The supervisor's distribution
// and reply paths depend only on this, so tests can record sequences.
type Sender interface {
	Send(t Type, corrID, pid uint32, fd int, data []byte) error
}
