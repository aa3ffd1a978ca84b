// Package queue provides the bounded concurrency-safe frame queue shared
// between the assembly engine and the producer/consumer goroutines feeding
// it (backend RX loop on one side, transport writers on the other).
package queue

import "github.com/canlink/go-can-gateway/internal/can"

// Ring is a bounded FIFO of frames backed by a buffered channel, giving
// lock-free non-blocking push/pop that is safe to interleave from separate
// goroutines. Both operations are single-pass and never block.
type Ring struct {
	ch chan can.Frame
}

// NewRing creates a ring holding up to capacity frames.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{ch: make(chan can.Frame, capacity)}
}

// TryPush enqueues fr and reports whether it fit; a full ring drops.
func (r *Ring) TryPush(fr can.Frame) bool {
	select {
	case r.ch <- fr:
		return true
	default:
		return false
	}
}

// TryPop dequeues the oldest frame if one is available.
func (r *Ring) TryPop() (can.Frame, bool) {
	select {
	case fr := <-r.ch:
		return fr, true
	default:
		return can.Frame{}, false
	}
}

// Drain discards all queued frames and returns how many were dropped.
func (r *Ring) Drain() int {
	var n int
	for {
		if _, ok := r.TryPop(); !ok {
			return n
		}
		n++
	}
}

func (r *Ring) Len() int { return len(r.ch) }
func (r *Ring) Cap() int { return cap(r.ch) }

// FreeSlots returns how many more frames fit right now.
func (r *Ring) FreeSlots() int { return cap(r.ch) - len(r.ch) }
