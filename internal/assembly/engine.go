package assembly

// Engine couples the two unidirectional assemblers of one session and the
// post-write admission check. One Engine per transport session; Reset must
// run before the first Read or Write of each session.
type Engine struct {
	r *Reader
	w *Writer
	n *Notifier
}

// EngineOption configures optional Engine collaborators.
type EngineOption func(*Engine)

// WithNotifier attaches the transmit admission notifier consulted after
// each write batch.
func WithNotifier(n *Notifier) EngineOption {
	return func(e *Engine) { e.n = n }
}

// NewEngine builds a session engine: src feeds the device-to-host
// direction, sink receives host-to-device frames.
func NewEngine(src FrameSource, sink FrameSink, opts ...EngineOption) *Engine {
	e := &Engine{
		r: NewReader(src),
		w: NewWriter(sink),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Read fills dst with the outbound byte stream; see Reader.Read.
func (e *Engine) Read(dst []byte) int { return e.r.Read(dst) }

// Write consumes one inbound chunk and reports which transport kinds have
// transmit capacity for a further burst; see Writer.Write.
func (e *Engine) Write(src []byte) (Availability, error) {
	err := e.w.Write(src)
	var av Availability
	if e.n != nil {
		av = e.n.Refresh()
	}
	return av, err
}

// Reset zeroes both directions' overflow state. Idempotent; a partial
// frame straddling a session end is discarded, never resumed.
func (e *Engine) Reset() {
	e.r.Reset()
	e.w.Reset()
}

// Reader exposes the read-side assembler (tests, pull-mode transports).
func (e *Engine) Reader() *Reader { return e.r }

// Writer exposes the write-side assembler.
func (e *Engine) Writer() *Writer { return e.w }
