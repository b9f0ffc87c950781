// Package canframe defines the raw CAN 2.0B frame type exchanged between
// the backend transports (serial, SocketCAN) and the UAVCAN transport
// layer (internal/slicer, internal/assembler).
package canframe

// SocketCAN flag bits, carried in the upper bits of a raw can_id as the
// kernel's <linux/can.h> defines them. internal/socketcan masks/sets these
// when talking to the kernel; everywhere else in this module, Frame.ID is
// always the plain 29-bit UAVCAN identifier with no flag bits mixed in,
// since every frame on a UAVCAN/CAN bus is extended-format.
const (
	EFFFlag = 0x80000000
	RTRFlag = 0x40000000
	ERRFlag = 0x20000000
	SFFMask = 0x7FF
	EFFMask = 0x1FFFFFFF
)

// MTU is the classic CAN 2.0B payload size this module targets; UAVCAN/CAN
// FD (64-byte payloads) is out of scope, matching spec.md's MTU=8 framing.
const MTU = 8

// Frame is one CAN 2.0B frame: a 29-bit identifier and up to 8 payload
// bytes, only the first Len of which are valid.
type Frame struct {
	ID   uint32
	Len  uint8
	Data [MTU]byte
}

// CopyShallow returns an independent copy of f, handy in tests and when a
// frame must outlive the buffer it was decoded into.
func (f Frame) CopyShallow() Frame {
	var g Frame
	g.ID, g.Len = f.ID, f.Len
	copy(g.Data[:], f.Data[:])
	return g
}

// Payload returns the frame's valid payload bytes.
func (f *Frame) Payload() []byte { return f.Data[:f.Len] }
