// Package relaywire implements the TCP wire protocol used to relay raw CAN
// frames to monitoring/tooling clients connected to the bridge's relay
// server. It is independent of the UAVCAN transfer layer: it carries
// individual CAN frames, not reassembled transfers.
//
// Ported from the teacher's internal/cnl/codec.go; same 4-byte-BE-id +
// 1-byte-length + payload wire shape, rebound to canframe.Frame.
package relaywire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-uavcan-can/internal/canframe"
	"github.com/kstaniek/go-uavcan-can/internal/metrics"
)

// Codec encodes/decodes relay frames. Stateless and safe for concurrent use.
type Codec struct{}

// ErrInvalidLength is returned when a frame length (DLC) is outside 0..8.
var ErrInvalidLength = errors.New("relaywire: invalid length")

// ErrTruncatedFrame is returned when the underlying reader ends mid-frame.
var ErrTruncatedFrame = errors.New("relaywire: truncated frame")

// Encode packs frames into a single relay packet.
func (c *Codec) Encode(frames []canframe.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(len(frames) * (4 + 1 + 8))
	_, _ = c.EncodeTo(&buf, frames)
	return buf.Bytes()
}

// EncodeTo writes the wire representation of frames to w and returns bytes
// written. Each frame is encoded as: 4-byte BE ID, 1-byte length (lower 7
// bits), payload.
func (c *Codec) EncodeTo(w io.Writer, frames []canframe.Frame) (int, error) {
	var total int
	for _, f := range frames {
		var id [4]byte
		binary.BigEndian.PutUint32(id[:], f.ID)
		n, err := w.Write(id[:])
		total += n
		if err != nil {
			return total, fmt.Errorf("relaywire encode id: %w", err)
		}
		n, err = w.Write([]byte{f.Len})
		total += n
		if err != nil {
			return total, fmt.Errorf("relaywire encode len: %w", err)
		}
		ln := int(f.Len & 0x7F)
		if ln > 0 {
			n, err = w.Write(f.Data[:ln])
			total += n
			if err != nil {
				return total, fmt.Errorf("relaywire encode data: %w", err)
			}
		}
	}
	return total, nil
}

// Decode reads exactly one frame from r. It returns io.EOF if called at a
// clean frame boundary and no more data is available.
func (c *Codec) Decode(r io.Reader) (canframe.Frame, error) {
	var f canframe.Frame
	var idb [4]byte
	if _, err := io.ReadFull(r, idb[:]); err != nil {
		return f, err
	}
	f.ID = binary.BigEndian.Uint32(idb[:])
	var lb [1]byte
	n, err := r.Read(lb[:])
	if err != nil {
		return f, err
	}
	if n == 0 {
		return f, io.EOF
	}
	ln := int(lb[0] & 0x7F)
	if ln > 8 {
		metrics.IncMalformed()
		return f, fmt.Errorf("relaywire decode: %w (%d)", ErrInvalidLength, ln)
	}
	f.Len = uint8(ln)
	if ln > 0 {
		if _, err := io.ReadFull(r, f.Data[:ln]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				metrics.IncMalformed()
				return f, fmt.Errorf("relaywire decode payload: %w", ErrTruncatedFrame)
			}
			metrics.IncMalformed()
			return f, fmt.Errorf("relaywire decode payload: %w", err)
		}
	}
	return f, nil
}

// DecodeN decodes up to max frames (if max>0) or until EOF (if max<=0),
// invoking onFrame for each. It returns the number of frames decoded and
// the terminal error (which can be io.EOF).
func (c *Codec) DecodeN(r io.Reader, max int, onFrame func(canframe.Frame)) (int, error) {
	var n int
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}

// DecodeStream decodes a single frame, kept for callers that only ever
// expect one frame per read.
func (c *Codec) DecodeStream(r io.Reader, onFrame func(canframe.Frame)) error {
	fr, err := c.Decode(r)
	if err != nil {
		return err
	}
	onFrame(fr)
	return nil
}
