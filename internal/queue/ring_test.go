package queue

import (
	"sync"
	"testing"

	"github.com/canlink/go-can-gateway/internal/can"
)

func TestRing_FIFOAndBounds(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 3; i++ {
		if !r.TryPush(can.Frame{Addr: uint32(i)}) {
			t.Fatalf("push %d rejected below capacity", i)
		}
	}
	if r.TryPush(can.Frame{Addr: 99}) {
		t.Fatalf("push accepted beyond capacity")
	}
	if r.FreeSlots() != 0 {
		t.Fatalf("FreeSlots = %d, want 0", r.FreeSlots())
	}
	for i := 0; i < 3; i++ {
		fr, ok := r.TryPop()
		if !ok || fr.Addr != uint32(i) {
			t.Fatalf("pop %d: got %v %v", i, fr.Addr, ok)
		}
	}
	if _, ok := r.TryPop(); ok {
		t.Fatalf("pop from empty ring succeeded")
	}
	if r.FreeSlots() != 3 {
		t.Fatalf("FreeSlots = %d, want 3", r.FreeSlots())
	}
}

func TestRing_Drain(t *testing.T) {
	r := NewRing(4)
	r.TryPush(can.Frame{})
	r.TryPush(can.Frame{})
	if n := r.Drain(); n != 2 {
		t.Fatalf("Drain = %d, want 2", n)
	}
	if r.Len() != 0 {
		t.Fatalf("Len after drain = %d", r.Len())
	}
}

func TestRing_ConcurrentInterleave(t *testing.T) {
	r := NewRing(64)
	const total = 10000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			for !r.TryPush(can.Frame{Addr: uint32(i)}) {
			}
		}
	}()
	var got int
	var last int64 = -1
	for got < total {
		fr, ok := r.TryPop()
		if !ok {
			continue
		}
		if int64(fr.Addr) <= last {
			t.Fatalf("out of order: %d after %d", fr.Addr, last)
		}
		last = int64(fr.Addr)
		got++
	}
	wg.Wait()
}
