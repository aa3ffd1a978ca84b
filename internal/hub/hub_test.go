package hub

import (
	"testing"
	"time"

	"github.com/canlink/go-can-gateway/internal/can"
	"github.com/canlink/go-can-gateway/internal/queue"
)

func TestHub_Broadcast_DropDoesNotBlock(t *testing.T) {
	h := New()
	cl := &Client{Out: queue.NewRing(4), Closed: make(chan struct{})}
	h.Add(cl)
	defer h.Remove(cl)

	// Don't pop from cl.Out to simulate a stalled session
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(can.Frame{Addr: 0x123, Extended: true})
	}
	elapsed := time.Since(start)
	if elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	// Queue should be full
	if cl.Out.Len() != cl.Out.Cap() {
		t.Fatalf("expected client queue to be full, got len=%d cap=%d", cl.Out.Len(), cl.Out.Cap())
	}
}

func TestHub_Broadcast_DropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow := &Client{Out: queue.NewRing(1), Closed: make(chan struct{})}
	fast := &Client{Out: queue.NewRing(16), Closed: make(chan struct{})}
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	// Fill slow queue
	h.Broadcast(can.Frame{Addr: 0x1})

	// Now send bursts that drop on slow but must be delivered to fast
	for i := 0; i < 10; i++ {
		h.Broadcast(can.Frame{Addr: 0x2})
	}

	got := 0
	for {
		if _, ok := fast.Out.TryPop(); !ok {
			break
		}
		got++
	}
	if got != 11 {
		t.Fatalf("fast client got %d frames, want 11", got)
	}
	if slow.Out.Len() != 1 {
		t.Fatalf("slow client queue len = %d, want 1", slow.Out.Len())
	}
}

func TestHub_KickPolicyClosesStalledClient(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	cl := &Client{Out: queue.NewRing(1), Closed: make(chan struct{})}
	h.Add(cl)
	defer h.Remove(cl)

	h.Broadcast(can.Frame{Addr: 0x1}) // fills the queue
	h.Broadcast(can.Frame{Addr: 0x2}) // overflows -> kick
	select {
	case <-cl.Closed:
	default:
		t.Fatalf("stalled client not kicked under PolicyKick")
	}
}
