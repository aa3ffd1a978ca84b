package assembly

import (
	"github.com/canlink/go-can-gateway/internal/metrics"
	"github.com/canlink/go-can-gateway/internal/wire"
)

// Reader packs frames popped from a source into caller-sized chunks.
// A frame is committed once popped: its bytes are delivered across as many
// Read calls as it takes, never re-enqueued and never reordered.
type Reader struct {
	src     FrameSource
	buf     overflow
	scratch [wire.MaxFrameLen]byte
}

// NewReader creates a read-side assembler popping from src.
func NewReader(src FrameSource) *Reader {
	return &Reader{src: src}
}

// Read fills dst with as many whole-or-partial frame bytes as possible and
// returns the byte count, which is less than len(dst) only when the source
// ran dry. Any tail that did not fit stays in the overflow buffer for the
// next call; dst capacity may differ on every call.
func (r *Reader) Read(dst []byte) int {
	pos := 0

	// Send tail of the previous frame first.
	if r.buf.filled > 0 {
		n := min(len(dst), r.buf.filled)
		copy(dst[:n], r.buf.data[:n])
		copy(r.buf.data[:], r.buf.data[n:r.buf.filled])
		r.buf.filled -= n
		pos = n
	}

	if r.buf.filled == 0 {
		for pos < len(dst) {
			fr, ok := r.src.TryPop()
			if !ok {
				break
			}
			n, err := wire.MarshalInto(r.scratch[:], &fr)
			if err != nil {
				// A frame with an impossible length never entered the
				// queue through the codec; drop it rather than emit a
				// stream the host cannot re-frame.
				metrics.IncMalformed()
				continue
			}
			metrics.IncPacked()
			if pos+n <= len(dst) {
				copy(dst[pos:], r.scratch[:n])
				pos += n
				continue
			}
			cut := len(dst) - pos
			copy(dst[pos:], r.scratch[:cut])
			r.buf.filled = n - cut
			copy(r.buf.data[:], r.scratch[cut:n])
			metrics.IncReadOverflow()
			pos = len(dst)
		}
	}

	metrics.AddChunkBytesOut(pos)
	return pos
}

// Pending returns how many tail bytes of a straddling frame are buffered.
func (r *Reader) Pending() int { return r.buf.filled }

// Reset discards any buffered partial frame.
func (r *Reader) Reset() { r.buf.reset() }
