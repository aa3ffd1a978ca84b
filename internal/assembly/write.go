package assembly

import (
	"errors"
	"fmt"

	"github.com/canlink/go-can-gateway/internal/metrics"
	"github.com/canlink/go-can-gateway/internal/wire"
)

// ErrCorruptStream reports an inbound byte stream whose next frame header
// declares an impossible length class. The stream cannot be re-framed past
// that point; the caller must drop it and start a fresh session.
var ErrCorruptStream = errors.New("assembly: corrupt stream")

// Writer reconstructs frames from caller-sized chunks and hands each to a
// sink the moment its last byte arrives. An incomplete trailing frame is
// retained for the next call, so the caller may split the stream anywhere,
// including mid-header and one byte at a time.
type Writer struct {
	sink FrameSink
	buf  overflow
}

// NewWriter creates a write-side assembler submitting to sink.
func NewWriter(sink FrameSink) *Writer {
	return &Writer{sink: sink}
}

// Write consumes src. The only error is ErrCorruptStream; sink errors
// (e.g. a full transmit pool dropping the frame) are counted and do not
// abort the stream, mirroring the transmit path's best-effort contract.
func (w *Writer) Write(src []byte) error {
	metrics.AddChunkBytesIn(len(src))
	pos := 0

	// Complete the buffered partial frame first.
	if w.buf.filled > 0 {
		if w.buf.needed <= len(src) {
			copy(w.buf.data[w.buf.filled:], src[:w.buf.needed])
			w.buf.filled += w.buf.needed
			pos = w.buf.needed
			w.submit(w.buf.data[:w.buf.filled])
			w.buf.reset()
		} else {
			copy(w.buf.data[w.buf.filled:], src)
			w.buf.filled += len(src)
			w.buf.needed -= len(src)
			return nil
		}
	}

	// Rest of the input is a run of complete frames plus at most one tail.
	for pos < len(src) {
		n, err := wire.FrameLen(src[pos])
		if err != nil {
			metrics.IncMalformed()
			metrics.IncError(metrics.ErrCorruptStream)
			return fmt.Errorf("%w: %v", ErrCorruptStream, err)
		}
		if pos+n <= len(src) {
			w.submit(src[pos : pos+n])
			pos += n
			continue
		}
		rem := len(src) - pos
		copy(w.buf.data[:], src[pos:])
		w.buf.filled = rem
		w.buf.needed = n - rem
		metrics.IncWriteOverflow()
		pos = len(src)
	}
	return nil
}

func (w *Writer) submit(b []byte) {
	fr, _, err := wire.Unmarshal(b)
	if err != nil {
		// b was sized by the same header Unmarshal reads, so this only
		// trips if the overflow invariant broke.
		metrics.IncMalformed()
		return
	}
	metrics.IncAssembled()
	_ = w.sink.SendFrame(fr)
}

// Pending returns (buffered, missing) byte counts of the in-progress frame.
func (w *Writer) Pending() (int, int) { return w.buf.filled, w.buf.needed }

// Reset discards any buffered partial frame.
func (w *Writer) Reset() { w.buf.reset() }
