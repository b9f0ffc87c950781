// Package transfer implements the per-session transfer reassembly state
// machine driven by (payload-kind, tail-byte) inputs, plus the session
// record and map key the assembler keys its transfer table by.
package transfer

import (
	"github.com/kstaniek/go-uavcan-can/internal/identifier"
	"github.com/kstaniek/go-uavcan-can/internal/piece"
	"github.com/kstaniek/go-uavcan-can/internal/tailbyte"
)

// State is one of the five reassembly states a session can be in.
type State uint8

const (
	Empty State = iota
	AssemblingT1
	AssemblingT0
	Done
	Failure
)

func (s State) String() string {
	switch s {
	case Empty:
		return "Empty"
	case AssemblingT1:
		return "AssemblingT1"
	case AssemblingT0:
		return "AssemblingT0"
	case Done:
		return "Done"
	case Failure:
		return "Failure"
	default:
		return "?"
	}
}

// PayloadKind classifies a frame's raw byte length (excluding the tail
// byte) for the purposes of driving the FSM.
type PayloadKind uint8

const (
	// KindEmpty: the frame carried only a tail byte, no payload.
	KindEmpty PayloadKind = iota
	// KindLessThanMTU: payload shorter than MTU-1 bytes (only valid on End frames).
	KindLessThanMTU
	// KindExactlyMTU: payload is exactly MTU-1 bytes (required on Middle frames).
	KindExactlyMTU
	// KindInvalid: frame length outside 0..=MTU, or zero-length (no tail byte).
	KindInvalid
)

// Output is the action the assembler must take in response to Advance.
type Output uint8

const (
	// Ignore: no storage change.
	Ignore Output = iota
	// Push: store the current frame's payload as a new piece.
	Push
	// CheckCrcAndPush: validate the transport CRC over the whole transfer,
	// then push the final piece on success.
	CheckCrcAndPush
	// Drop: discard the session's stored chain; the frame itself is not stored.
	Drop
)

// Machine is the pure per-session FSM described in spec §4.4. It carries no
// storage references; the assembler drives piece-pool mutation based on its
// Output.
type Machine struct {
	state      State
	transferID identifier.TransferId
	hasID      bool
}

// State returns the machine's current state.
func (m *Machine) State() State { return m.state }

// TransferID returns the last tail-byte transfer id observed, if any.
func (m *Machine) TransferID() (identifier.TransferId, bool) { return m.transferID, m.hasID }

// Advance drives the FSM for one incoming frame. tailByte is nil when the
// frame's raw length fell outside 0..=MTU (a malformed frame shape with no
// usable tail byte).
func (m *Machine) Advance(kind PayloadKind, tailByte *tailbyte.TailByte) Output {
	if tailByte == nil {
		switch m.state {
		case Empty, Failure:
			m.state = Failure
			return Ignore
		case AssemblingT1, AssemblingT0:
			m.state = Failure
			return Drop
		case Done:
			return Ignore
		default:
			m.state = Failure
			return Ignore
		}
	}

	m.transferID = tailByte.Id
	m.hasID = true

	switch tailByte.Kind {
	case tailbyte.SingleFrame:
		switch m.state {
		case Empty, Done, Failure:
			m.state = Done
			return Push
		default: // AssemblingT1, AssemblingT0
			m.state = Failure
			return Drop
		}

	case tailbyte.MultiFrame:
		switch m.state {
		case Empty, Done, Failure:
			m.state = AssemblingT1
			return Push
		default:
			m.state = Failure
			return Drop
		}

	case tailbyte.MiddleT0:
		if m.state == AssemblingT1 {
			if kind == KindExactlyMTU {
				m.state = AssemblingT0
				return Push
			}
			m.state = Failure
			return Drop
		}
		m.state = Failure
		return Drop

	case tailbyte.EndT0:
		if m.state == AssemblingT1 {
			if kind == KindLessThanMTU || kind == KindExactlyMTU {
				m.state = Done
				return CheckCrcAndPush
			}
			m.state = Failure
			return Drop
		}
		m.state = Failure
		return Drop

	case tailbyte.MiddleT1:
		if m.state == AssemblingT0 {
			if kind == KindExactlyMTU {
				m.state = AssemblingT1
				return Push
			}
			m.state = Failure
			return Drop
		}
		m.state = Failure
		return Drop

	case tailbyte.EndT1:
		if m.state == AssemblingT0 {
			if kind == KindLessThanMTU || kind == KindExactlyMTU {
				m.state = Done
				return CheckCrcAndPush
			}
			m.state = Failure
			return Drop
		}
		m.state = Failure
		return Drop

	case tailbyte.SingleFrameV0, tailbyte.MultiFrameV0:
		m.state = Failure
		return Ignore

	default:
		m.state = Failure
		return Ignore
	}
}

// Fail forces the machine into Failure without touching storage. Used by
// the assembler's optional priority-based eviction path.
func (m *Machine) Fail() { m.state = Failure }

// Session is one entry of the assembler's transfer table: the FSM plus the
// piece-chain bookkeeping, priority, arrival sequence, and timeout clock.
type Session struct {
	Machine              Machine
	FirstPieceIdx        piece.Idx
	LastPieceIdx         piece.Idx
	HasPieces            bool
	LastPieceLen         int
	Priority             identifier.Priority
	SequenceNumber       int16
	LastChangedTimestamp uint32
}

// NewSession creates a fresh session at priority/sequenceNumber, timestamped
// at timeNow.
func NewSession(priority identifier.Priority, sequenceNumber int16, timeNow uint32) *Session {
	return &Session{Priority: priority, SequenceNumber: sequenceNumber, LastChangedTimestamp: timeNow}
}

// MapKey identifies a session within the assembler's transfer table:
// (transfer_kind, source_node_id), exactly spec §3's TransfersMapKey.
type MapKey struct {
	KindBits uint32
	Source   identifier.NodeId
}

// KeyFor derives the map key for an incoming CanId.
func KeyFor(id identifier.CanId) MapKey {
	return MapKey{KindBits: id.TransferKind.SerializedBits(), Source: id.SourceNodeId}
}
