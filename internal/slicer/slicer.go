// Package slicer fragments an outbound transfer payload into a sequence of
// CAN frame bodies (payload bytes plus trailing tail byte), appending the
// transport CRC across frame boundaries for multi-frame transfers.
//
// Grounded on original_source/src/slicer.rs and the byte-exact vectors in
// original_source/uavcan-llr/src/lib.rs (check_frame_count, check_slicer).
package slicer

import (
	"github.com/kstaniek/go-uavcan-can/internal/crc16"
	"github.com/kstaniek/go-uavcan-can/internal/identifier"
	"github.com/kstaniek/go-uavcan-can/internal/tailbyte"
)

// FrameCount returns the number of CAN frames needed to carry a payload of
// payloadLen bytes over frames with MTU mtu (mtu is the full wire frame
// size, tail byte included; per-frame payload capacity is mtu-1).
//
// A payload that fits in a single frame (payloadLen <= mtu-1) needs one
// frame. Otherwise the payload plus a trailing 2-byte CRC is split across
// ceil((payloadLen+2) / (mtu-1)) frames.
func FrameCount(payloadLen, mtu int) int {
	capacity := mtu - 1
	if payloadLen <= capacity {
		return 1
	}
	total := payloadLen + 2
	return (total + capacity - 1) / capacity
}

// Slicer yields successive CAN frame bodies for one outbound transfer.
type Slicer struct {
	payload    []byte
	capacity   int
	frameCount int
	tails      *tailbyte.Sequence
	produced   int

	// crc is the checksum of the whole payload, computed once up front and
	// appended big-endian across the tail of the frame stream.
	crc      uint16
	tailPos  int // offset of next unconsumed byte in the logical payload+crc stream
	totalLen int // len(payload) + 2 when multi-frame, else len(payload)
}

// New constructs a Slicer for payload, using mtu-byte frames and starting
// the tail-byte sequence at transferID.
func New(payload []byte, mtu int, transferID identifier.TransferId) *Slicer {
	capacity := mtu - 1
	frameCount := FrameCount(len(payload), mtu)
	s := &Slicer{
		payload:    payload,
		capacity:   capacity,
		frameCount: frameCount,
		tails:      tailbyte.NewSequence(transferID, frameCount),
	}
	if frameCount > 1 {
		s.crc = crc16.Checksum(payload)
		s.totalLen = len(payload) + 2
	} else {
		s.totalLen = len(payload)
	}
	return s
}

// logicalByte returns the byte at logical offset i of the payload+crc
// stream (crc appended big-endian after the raw payload).
func (s *Slicer) logicalByte(i int) byte {
	if i < len(s.payload) {
		return s.payload[i]
	}
	switch i - len(s.payload) {
	case 0:
		return byte(s.crc >> 8)
	default:
		return byte(s.crc)
	}
}

// Next produces the next frame body (chunk bytes followed by the tail
// byte), or ok=false once all frames have been produced.
func (s *Slicer) Next() (frame []byte, ok bool) {
	tb, more := s.tails.Next()
	if !more {
		return nil, false
	}
	remaining := s.totalLen - s.tailPos
	n := s.capacity
	if remaining < n {
		n = remaining
	}
	if s.produced == s.frameCount-1 {
		// Last frame carries whatever remains, which may be < capacity.
		n = remaining
	}
	chunk := make([]byte, n+1)
	for i := 0; i < n; i++ {
		chunk[i] = s.logicalByte(s.tailPos + i)
	}
	chunk[n] = tb.Byte()
	s.tailPos += n
	s.produced++
	return chunk, true
}

// Remaining reports how many frames are still to be produced.
func (s *Slicer) Remaining() int { return s.frameCount - s.produced }
