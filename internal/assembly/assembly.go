// Package assembly turns a queue of discrete CAN frames into a chunked
// byte stream and a chunked byte stream back into discrete CAN frames.
//
// Frames are concatenated on the transport with no chunk-level framing, so
// a frame routinely straddles a chunk boundary in either direction. Each
// direction keeps exactly one fixed-capacity overflow buffer holding the
// single partial frame in flight; there is no dynamic allocation on the
// hot path and no internal synchronization. Calls within one direction
// must be sequential; the two directions touch disjoint state and may run
// on separate goroutines.
package assembly

import "github.com/canlink/go-can-gateway/internal/can"

// overflowCap must cover the largest on-wire frame (70 bytes).
const overflowCap = 72

// FrameSource is the receive-side queue the read assembler pops from.
// TryPop must never block and must be safe to interleave with the
// producer filling the queue.
type FrameSource interface {
	TryPop() (can.Frame, bool)
}

// FrameSink accepts a fully reassembled frame for transmission. The bus
// the frame targets is carried in the frame itself.
type FrameSink interface {
	SendFrame(can.Frame) error
}

// SinkFunc adapts a function to the FrameSink interface.
type SinkFunc func(can.Frame) error

func (f SinkFunc) SendFrame(fr can.Frame) error { return f(fr) }

// overflow is the single-slot holding area for a frame spanning more than
// one chunk.
//
// Read side: filled counts the unsent tail bytes of the most recently
// popped frame; filled == 0 means no partial is pending and the assembler
// may pop again. Write side: once the in-progress frame's length is known,
// filled+needed equals that length.
type overflow struct {
	filled int
	needed int
	data   [overflowCap]byte
}

func (o *overflow) reset() {
	o.filled = 0
	o.needed = 0
}
