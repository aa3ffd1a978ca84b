package transport

import (
	"github.com/canlink/go-can-gateway/internal/assembly"
	"github.com/canlink/go-can-gateway/internal/queue"
)

// Compile-time assertions tying the concrete plumbing to the roles the
// assembly engine consumes: the async transmitter is both the frame sink
// and the slot pool observed by admission, and the ring is the frame
// source the read side pops.
var (
	_ assembly.FrameSink   = (*AsyncTx)(nil)
	_ assembly.SlotPool    = (*AsyncTx)(nil)
	_ assembly.FrameSource = (*queue.Ring)(nil)
	_ assembly.SlotPool    = (*queue.Ring)(nil)
)
