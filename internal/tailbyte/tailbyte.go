// Package tailbyte encodes and decodes the single-byte per-frame transfer
// framing trailer appended to every UAVCAN/CAN frame.
package tailbyte

import "github.com/kstaniek/go-uavcan-can/internal/identifier"

// Kind is the 3-bit start/end/toggle discriminator occupying the top bits
// of a tail byte.
type Kind uint8

const (
	// MiddleT0: start=0, end=0, toggle=0
	MiddleT0 Kind = 0b000
	// MiddleT1: start=0, end=0, toggle=1
	MiddleT1 Kind = 0b001
	// EndT0: start=0, end=1, toggle=0
	EndT0 Kind = 0b010
	// EndT1: start=0, end=1, toggle=1
	EndT1 Kind = 0b011
	// MultiFrameV0 is a UAVCAN v0 multi-frame start tail byte; always rejected.
	MultiFrameV0 Kind = 0b100
	// MultiFrame: start=1, end=0, toggle=1 (first frame of a multi-frame transfer).
	MultiFrame Kind = 0b101
	// SingleFrameV0 is a UAVCAN v0 single-frame tail byte; always rejected.
	SingleFrameV0 Kind = 0b110
	// SingleFrame: start=1, end=1, toggle=1.
	SingleFrame Kind = 0b111
)

// TailByte is the decoded form of the trailing byte of a CAN frame.
type TailByte struct {
	Kind Kind
	Id   identifier.TransferId
}

// Decode extracts a TailByte from its wire byte: bit 7 start, bit 6 end,
// bit 5 toggle, bits 0-4 the 5-bit transfer id.
func Decode(b byte) TailByte {
	return TailByte{
		Kind: Kind(b >> 5),
		Id:   identifier.TransferId(b & 0b0001_1111),
	}
}

// Byte serializes the tail byte back to wire form.
func (t TailByte) Byte() byte {
	return (byte(t.Kind) << 5) | t.Id.Inner()
}

// IsMiddle reports whether kind is a middle (non-start, non-end) frame.
func (k Kind) IsMiddle() bool { return k == MiddleT0 || k == MiddleT1 }

// IsEnd reports whether kind is an end-of-transfer frame.
func (k Kind) IsEnd() bool { return k == EndT0 || k == EndT1 }

// NewSingleFrame builds the tail byte for a one-frame transfer.
func NewSingleFrame(id identifier.TransferId) TailByte {
	return TailByte{Kind: SingleFrame, Id: id}
}

// Sequence generates the tail-byte stream for a transfer spanning
// frameCount frames (see spec §4.2): a single SingleFrame byte when
// frameCount <= 1; otherwise a MultiFrame start byte, alternating
// Middle{T0,T1} bytes, and an End{T0,T1} final byte, toggle starting at 1.
type Sequence struct {
	id         identifier.TransferId
	current    int
	frameCount int
	kind       Kind
}

// NewSequence constructs a tail-byte generator for a transfer of frameCount
// frames carrying transfer id id.
func NewSequence(id identifier.TransferId, frameCount int) *Sequence {
	kind := SingleFrame
	if frameCount > 1 {
		kind = MultiFrame
	}
	return &Sequence{id: id, frameCount: frameCount, kind: kind}
}

// Next yields the next tail byte in the sequence, or ok=false once
// frameCount bytes have been produced.
func (s *Sequence) Next() (TailByte, bool) {
	if s.current == s.frameCount {
		return TailByte{}, false
	}
	switch {
	case s.current == s.frameCount-1 && s.kind != SingleFrame:
		if s.kind == MiddleT0 {
			s.kind = EndT1
		} else {
			s.kind = EndT0
		}
	case s.current == 1:
		s.kind = MiddleT0
	case s.current != 0:
		if s.kind == MiddleT0 {
			s.kind = MiddleT1
		} else {
			s.kind = MiddleT0
		}
	}
	s.current++
	return TailByte{Kind: s.kind, Id: s.id}, true
}
