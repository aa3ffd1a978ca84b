//go:build linux

package main

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/canlink/go-can-gateway/internal/can"
	"github.com/canlink/go-can-gateway/internal/hub"
	"github.com/canlink/go-can-gateway/internal/metrics"
	"github.com/canlink/go-can-gateway/internal/queue"
	"github.com/canlink/go-can-gateway/internal/socketcan"
)

type fakeSocketDev struct {
	frames   []can.Frame
	idx      int
	errAfter bool
}

func (d *fakeSocketDev) ReadFrame(fr *can.Frame) error {
	if d.idx < len(d.frames) {
		*fr = d.frames[d.idx]
		d.idx++
		return nil
	}
	if d.errAfter {
		return io.ErrUnexpectedEOF
	}
	time.Sleep(10 * time.Millisecond)
	return io.EOF
}
func (d *fakeSocketDev) WriteFrame(fr can.Frame) error { return nil }
func (d *fakeSocketDev) Close() error                  { return nil }

func TestInitSocketCANBackendBasic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frame := can.Frame{Addr: 0x555, Len: 3, Bus: 1}
	frame.Data[0], frame.Data[1], frame.Data[2] = 0x01, 0x02, 0x03

	openSocketCANDevice = func(iface string, bus uint8) (socketcan.Dev, error) {
		return &fakeSocketDev{frames: []can.Frame{frame}, errAfter: true}, nil
	}
	defer func() {
		openSocketCANDevice = func(iface string, bus uint8) (socketcan.Dev, error) {
			return socketcan.Open(iface, bus)
		}
	}()

	h := hub.New()
	c := &hub.Client{Out: queue.NewRing(1), Closed: make(chan struct{})}
	h.Add(c)
	cfg := &appConfig{backend: "socketcan", canIf: "vcan0", canBus: 1}
	var wg sync.WaitGroup
	be, err := initSocketCANBackend(ctx, cfg, h, testLogger(), &wg)
	if err != nil {
		t.Fatalf("initSocketCANBackend: %v", err)
	}
	defer be.cleanup()

	fr := popWithin(t, c.Out, 200*time.Millisecond)
	if fr.Addr != frame.Addr || fr.Len != frame.Len {
		t.Fatalf("unexpected frame: %+v", fr)
	}

	if err := be.send(frame); err != nil {
		t.Fatalf("send frame: %v", err)
	}
	// Allow read error path to trigger once.
	time.Sleep(30 * time.Millisecond)
	snap := metrics.Snap()
	if snap.SocketCANRx == 0 {
		t.Fatalf("expected SocketCANRx > 0")
	}
	if snap.Errors == 0 {
		t.Fatalf("expected at least one error increment (read error after frame)")
	}
}
