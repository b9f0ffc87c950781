// Package identifier parses and formats the 29-bit UAVCAN/CAN identifier
// into structured routing metadata and back.
package identifier

import (
	"errors"
	"fmt"
)

// ErrNonZeroHighBits is returned when bits 29..31 of the raw 32-bit value
// carrying the CAN ID are set (CAN 2.0B identifiers are 29 bits wide).
var ErrNonZeroHighBits = errors.New("identifier: non-zero high bits")

// ErrWrongReservedBit is returned when a reserved bit required to be zero
// is set: bit 23 always, and bit 7 for message-kind identifiers.
var ErrWrongReservedBit = errors.New("identifier: wrong reserved bit")

// NodeId is a UAVCAN node identifier in 0..=127.
type NodeId uint8

// MaxNodeId is the highest valid NodeId.
const MaxNodeId = 127

// NewNodeId validates x and returns a NodeId, or an error if out of range.
func NewNodeId(x uint8) (NodeId, error) {
	if x > MaxNodeId {
		return 0, fmt.Errorf("identifier: node id %d out of range 0..=%d", x, MaxNodeId)
	}
	return NodeId(x), nil
}

// Inner returns the underlying value.
func (n NodeId) Inner() uint8 { return uint8(n) }

// SubjectId is a UAVCAN subject identifier in 0..=8191.
type SubjectId uint16

// MaxSubjectId is the highest valid SubjectId.
const MaxSubjectId = 8191

// NewSubjectId validates x and returns a SubjectId, or an error if out of range.
func NewSubjectId(x uint16) (SubjectId, error) {
	if x > MaxSubjectId {
		return 0, fmt.Errorf("identifier: subject id %d out of range 0..=%d", x, MaxSubjectId)
	}
	return SubjectId(x), nil
}

// Inner returns the underlying value.
func (s SubjectId) Inner() uint16 { return uint16(s) }

// ServiceId is a UAVCAN service identifier in 0..=511.
type ServiceId uint16

// MaxServiceId is the highest valid ServiceId.
const MaxServiceId = 511

// NewServiceId validates x and returns a ServiceId, or an error if out of range.
func NewServiceId(x uint16) (ServiceId, error) {
	if x > MaxServiceId {
		return 0, fmt.Errorf("identifier: service id %d out of range 0..=%d", x, MaxServiceId)
	}
	return ServiceId(x), nil
}

// Inner returns the underlying value.
func (s ServiceId) Inner() uint16 { return uint16(s) }

// TransferId is a 5-bit wrapping transfer sequence number in 0..=31.
type TransferId uint8

// MaxTransferId is the highest valid TransferId.
const MaxTransferId = 31

// NewTransferId validates x and returns a TransferId, or an error if out of range.
func NewTransferId(x uint8) (TransferId, error) {
	if x > MaxTransferId {
		return 0, fmt.Errorf("identifier: transfer id %d out of range 0..=%d", x, MaxTransferId)
	}
	return TransferId(x), nil
}

// Inner returns the underlying value.
func (t TransferId) Inner() uint8 { return uint8(t) }

// Increment advances the transfer id, wrapping 31 -> 0.
func (t TransferId) Increment() TransferId {
	if t == MaxTransferId {
		return 0
	}
	return t + 1
}

// Priority is the 8-valued UAVCAN priority enumeration. Ordering is
// inverted with respect to the numeric value: Exceptional (0) outranks
// Optional (7). Use Priority.Higher to compare, not the raw integer value.
type Priority uint8

const (
	Exceptional Priority = iota
	Immediate
	Fast
	High
	Nominal
	Low
	Slow
	Optional
)

// NewPriority validates p and returns a Priority, or an error if out of range.
func NewPriority(p uint8) (Priority, error) {
	if p > uint8(Optional) {
		return 0, fmt.Errorf("identifier: priority %d out of range 0..=%d", p, Optional)
	}
	return Priority(p), nil
}

// Higher reports whether a outranks b (lower numeric value wins).
func (p Priority) Higher(other Priority) bool { return p < other }

var priorityLetters = [...]byte{'E', 'I', 'F', 'H', 'N', 'L', 'S', 'O'}

// String renders the single-letter priority code (EIFHNLSO), matching the
// original uavcan-llr Display impl.
func (p Priority) String() string {
	if int(p) >= len(priorityLetters) {
		return "?"
	}
	return string(priorityLetters[p])
}

// Message identifies a broadcast transfer kind.
type Message struct {
	SubjectId   SubjectId
	IsAnonymous bool
}

// Service identifies a request/response transfer kind.
type Service struct {
	DestinationNodeId NodeId
	ServiceId         ServiceId
	IsRequest         bool
}

// TransferKind is a tagged union of Message and Service. Exactly one of
// IsService determines which fields are meaningful.
type TransferKind struct {
	IsService bool
	Message   Message
	Service   Service
}

// SerializedBits packs the transfer-kind-discriminating bits (7..25 of the
// 29-bit identifier) into a uint32, used as the discriminating part of the
// assembler's session map key.
func (k TransferKind) SerializedBits() uint32 {
	if k.IsService {
		dest := uint32(k.Service.DestinationNodeId.Inner()) << 7
		svc := uint32(k.Service.ServiceId.Inner()) << 14
		var req uint32
		if k.Service.IsRequest {
			req = 1 << 24
		}
		return dest | svc | req | (1 << 25)
	}
	subject := uint32(k.Message.SubjectId.Inner()) << 8
	var anon uint32
	if k.Message.IsAnonymous {
		anon = 1 << 24
	}
	return subject | anon
}

// CanId is the structured form of the 29-bit UAVCAN/CAN identifier.
type CanId struct {
	SourceNodeId NodeId
	TransferKind TransferKind
	Priority     Priority
}

// NewMessageId builds a CanId for a message (broadcast) transfer.
func NewMessageId(source NodeId, subject SubjectId, anonymous bool, priority Priority) CanId {
	return CanId{
		SourceNodeId: source,
		TransferKind: TransferKind{Message: Message{SubjectId: subject, IsAnonymous: anonymous}},
		Priority:     priority,
	}
}

// NewServiceCanId builds a CanId for a service request/response transfer.
func NewServiceCanId(source, destination NodeId, service ServiceId, isRequest bool, priority Priority) CanId {
	return CanId{
		SourceNodeId: source,
		TransferKind: TransferKind{
			IsService: true,
			Service:   Service{DestinationNodeId: destination, ServiceId: service, IsRequest: isRequest},
		},
		Priority: priority,
	}
}

// Decode parses the low 29 bits of value into a CanId.
//
// Bit layout (bit 0 = LSB):
//
//	0-6    source node id
//	7      message reserved bit (must be 0) / low bit of destination (service)
//	7-13   destination node id (service)
//	8-20   subject id (message)
//	14-22  service id (service)
//	23     reserved, must be 0
//	24     is_anonymous (message) / is_request (service)
//	25     kind discriminator (0 message, 1 service)
//	26-28  priority
func Decode(value uint32) (CanId, error) {
	if value>>29 != 0 {
		return CanId{}, ErrNonZeroHighBits
	}
	if value&(1<<23) != 0 {
		return CanId{}, ErrWrongReservedBit
	}
	source := NodeId(value & 0x7F)
	isService := value&(1<<25) != 0
	var kind TransferKind
	if isService {
		destination := NodeId((value >> 7) & 0x7F)
		service := ServiceId((value >> 14) & 0x1FF)
		isRequest := value&(1<<24) != 0
		kind = TransferKind{
			IsService: true,
			Service:   Service{DestinationNodeId: destination, ServiceId: service, IsRequest: isRequest},
		}
	} else {
		if value&(1<<7) != 0 {
			return CanId{}, ErrWrongReservedBit
		}
		subject := SubjectId((value >> 8) & 0x1FFF)
		isAnonymous := value&(1<<24) != 0
		kind = TransferKind{Message: Message{SubjectId: subject, IsAnonymous: isAnonymous}}
	}
	priority := Priority((value >> 26) & 0x7)
	return CanId{SourceNodeId: source, TransferKind: kind, Priority: priority}, nil
}

// Encode serializes id back into the low 29 bits of a uint32. Total over
// any CanId produced by Decode or the New* constructors.
func (id CanId) Encode() uint32 {
	priority := uint32(id.Priority) << 26
	bits := id.TransferKind.SerializedBits()
	source := uint32(id.SourceNodeId.Inner())
	return priority | bits | source
}

// String renders a human-readable form, e.g. "N007 N->M_0008" for a message
// or "N007 N->N:007 SRq511" for a service request.
func (id CanId) String() string {
	head := fmt.Sprintf("N%03d %s->", id.SourceNodeId.Inner(), id.Priority)
	if id.TransferKind.IsService {
		svc := id.TransferKind.Service
		dir := "Rp"
		if svc.IsRequest {
			dir = "Rq"
		}
		return fmt.Sprintf("%sN:%03d S%s%03d", head, svc.DestinationNodeId.Inner(), dir, svc.ServiceId.Inner())
	}
	msg := id.TransferKind.Message
	anon := '_'
	if msg.IsAnonymous {
		anon = 'A'
	}
	return fmt.Sprintf("%sM%c%04d", head, anon, msg.SubjectId.Inner())
}
