package serial

import (
	"errors"

	"github.com/canlink/go-can-gateway/internal/assembly"
	"github.com/canlink/go-can-gateway/internal/can"
	"github.com/canlink/go-can-gateway/internal/logging"
	"github.com/canlink/go-can-gateway/internal/metrics"
)

// Ingest reassembles frames from the serial adapter's byte stream. The
// adapter emits the same back-to-back wire format as the host link, and
// serial reads return arbitrary byte counts, so RX is a second consumer of
// the write-side assembler.
type Ingest struct {
	w *assembly.Writer
}

// NewIngest creates an ingest emitting each completed frame to out.
func NewIngest(out func(can.Frame)) *Ingest {
	sink := assembly.SinkFunc(func(fr can.Frame) error {
		metrics.IncSerialRx()
		out(fr)
		return nil
	})
	return &Ingest{w: assembly.NewWriter(sink)}
}

// Feed consumes one serial read's worth of bytes. On stream corruption the
// partial state is discarded and ingestion resynchronizes at the next Feed;
// the wire has no preamble to hunt for, so a corrupt header costs whatever
// the adapter sends until the next clean frame boundary.
func (in *Ingest) Feed(p []byte) {
	if err := in.w.Write(p); err != nil {
		if errors.Is(err, assembly.ErrCorruptStream) {
			logging.L().Warn("serial_stream_corrupt", "error", err)
			in.w.Reset()
			return
		}
		logging.L().Error("serial_ingest_error", "error", err)
	}
}

// Reset discards any buffered partial frame (port reopen, adapter reset).
func (in *Ingest) Reset() { in.w.Reset() }
