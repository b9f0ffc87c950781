package transport

import (
	"io"

	"github.com/kstaniek/go-uavcan-can/internal/canframe"
	"github.com/kstaniek/go-uavcan-can/internal/relaywire"
)

// FrameDecoder decodes a single CAN frame from a stream.
type FrameDecoder interface {
	Decode(r io.Reader) (canframe.Frame, error)
}

// MultiFrameDecoder optionally drains multiple frames from a stream.
type MultiFrameDecoder interface {
	DecodeN(r io.Reader, max int, onFrame func(canframe.Frame)) (int, error)
}

// FrameBatchEncoder can encode batches efficiently (either to bytes or directly to writer).
type FrameBatchEncoder interface {
	Encode([]canframe.Frame) []byte
	EncodeTo(w io.Writer, frames []canframe.Frame) (int, error)
}

// FrameSink is a generic CAN frame transmission target.
type FrameSink interface {
	SendFrame(canframe.Frame) error
}

// Compile-time assertions that *relaywire.Codec satisfies the optional capabilities.
var (
	_ FrameDecoder      = (*relaywire.Codec)(nil)
	_ MultiFrameDecoder = (*relaywire.Codec)(nil)
	_ FrameBatchEncoder = (*relaywire.Codec)(nil)
)
