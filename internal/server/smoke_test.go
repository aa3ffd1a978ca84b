package server

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/canlink/go-can-gateway/internal/assembly"
	"github.com/canlink/go-can-gateway/internal/can"
	"github.com/canlink/go-can-gateway/internal/hub"
	"github.com/canlink/go-can-gateway/internal/queue"
	"github.com/canlink/go-can-gateway/internal/wire"
)

// capture backend sends for verification
var (
	captured   []can.Frame
	capturedMu sync.Mutex
)

func dummySend(fr can.Frame) error {
	capturedMu.Lock()
	captured = append(captured, fr.CopyShallow())
	capturedMu.Unlock()
	return nil
}

func resetCaptured() {
	capturedMu.Lock()
	captured = nil
	capturedMu.Unlock()
}

func capturedFrames() []can.Frame {
	capturedMu.Lock()
	defer capturedMu.Unlock()
	out := make([]can.Frame, len(captured))
	copy(out, captured)
	return out
}

func testFrame(t testing.TB, addr uint32, bus uint8, data ...byte) can.Frame {
	t.Helper()
	var fr can.Frame
	fr.Addr = addr
	fr.Extended = true
	fr.Bus = bus
	fr.Len = uint8(len(data))
	copy(fr.Data[:], data)
	return fr
}

func startTestServer(t *testing.T, ctx context.Context, opts ...ServerOption) (*Server, net.Conn) {
	t.Helper()
	base := []ServerOption{
		WithSend(dummySend),
		WithHandshakeTimeout(2 * time.Second),
		WithFlushInterval(time.Millisecond),
	}
	srv := NewServer(append(base, opts...)...)
	srv.SetListenAddr("127.0.0.1:0")
	go func() {
		if err := srv.Serve(ctx); err != nil {
			t.Logf("Serve returned: %v", err)
		}
	}()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatalf("server did not signal readiness")
	}
	d := net.Dialer{Timeout: time.Second}
	conn, err := d.DialContext(ctx, "tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if _, err := conn.Write([]byte(hello)); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	buf := make([]byte, len(hello))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if string(buf) != hello {
		t.Fatalf("unexpected handshake magic %q", string(buf))
	}
	return srv, conn
}

func waitCapturedLen(t *testing.T, n int) []can.Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := capturedFrames(); len(got) >= n {
			return got
		}
		time.Sleep(2 * time.Millisecond)
	}
	got := capturedFrames()
	t.Fatalf("captured %d frames, want %d", len(got), n)
	return nil
}

// TestSmoke_HostToDevice drives frames through the write path, split
// across deliberately awkward chunk boundaries.
func TestSmoke_HostToDevice(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resetCaptured()
	h := hub.New()
	_, conn := startTestServer(t, ctx, WithHub(h))

	want := []can.Frame{
		testFrame(t, 0x123, 0, 1, 2, 3),
		testFrame(t, 0x1ABCD, 2, 0xDE, 0xAD, 0xBE, 0xEF, 1, 2, 3, 4),
		testFrame(t, 0x77, 1),
	}
	var stream []byte
	for i := range want {
		var err error
		stream, err = wire.AppendFrame(stream, &want[i])
		if err != nil {
			t.Fatalf("AppendFrame: %v", err)
		}
	}
	// Write in 5-byte slices so every frame straddles a TCP write.
	for pos := 0; pos < len(stream); pos += 5 {
		end := pos + 5
		if end > len(stream) {
			end = len(stream)
		}
		if _, err := conn.Write(stream[pos:end]); err != nil {
			t.Fatalf("write chunk: %v", err)
		}
	}
	got := waitCapturedLen(t, len(want))
	for i := range want {
		if got[i].Addr != want[i].Addr || got[i].Bus != want[i].Bus || got[i].Len != want[i].Len ||
			!bytes.Equal(got[i].Data[:got[i].Len], want[i].Data[:want[i].Len]) {
			t.Fatalf("frame %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
	}
}

// TestSmoke_DeviceToHost broadcasts frames and checks the byte stream the
// client receives is the exact serialization in order.
func TestSmoke_DeviceToHost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resetCaptured()
	h := hub.New()
	// Small chunk so multi-frame batches straddle chunk boundaries.
	_, conn := startTestServer(t, ctx, WithHub(h), WithChunkLen(16))

	want := []can.Frame{
		testFrame(t, 0x100, 0, 1, 2, 3, 4, 5, 6, 7, 8),
		testFrame(t, 0x200, 1, 9, 8, 7),
		testFrame(t, 0x300, 2),
	}
	var expect []byte
	for i := range want {
		var err error
		expect, err = wire.AppendFrame(expect, &want[i])
		if err != nil {
			t.Fatalf("AppendFrame: %v", err)
		}
	}
	// Give the session a moment to register with the hub.
	deadline := time.Now().Add(time.Second)
	for h.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	for i := range want {
		h.Broadcast(want[i])
	}

	got := make([]byte, len(expect))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !bytes.Equal(got, expect) {
		t.Fatalf("stream mismatch\n got  % X\n want % X", got, expect)
	}
}

// TestSmoke_CorruptStreamDisconnects sends a classic frame declaring an FD
// length class; the server must drop the session rather than guess.
func TestSmoke_CorruptStreamDisconnects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resetCaptured()
	h := hub.New()
	_, conn := startTestServer(t, ctx, WithHub(h))

	if _, err := conn.Write([]byte{0xF0, 0, 0, 0, 0, 0}); err != nil {
		t.Fatalf("write corrupt: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("connection survived corrupt stream")
	}
}

// TestSmoke_MaxClients rejects a second session when the cap is 1.
func TestSmoke_MaxClients(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resetCaptured()
	h := hub.New()
	srv, _ := startTestServer(t, ctx, WithHub(h), WithMaxClients(1))

	d := net.Dialer{Timeout: time.Second}
	conn2, err := d.DialContext(ctx, "tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer conn2.Close()
	if _, err := conn2.Write([]byte(hello)); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	buf := make([]byte, len(hello))
	_ = conn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _ = io.ReadFull(conn2, buf) // server may answer hello before rejecting
	// The rejected connection must be closed promptly.
	one := make([]byte, 1)
	if _, err := conn2.Read(one); err == nil {
		t.Fatalf("second session was not rejected")
	}
}

// TestSmoke_BackpressurePausesReads saturates a tiny TX pool and checks
// the session resumes once slots recover.
func TestSmoke_BackpressurePausesReads(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resetCaptured()
	h := hub.New()
	pool := queue.NewRing(4)
	send := func(fr can.Frame) error {
		pool.TryPush(fr)
		return dummySend(fr)
	}
	_, conn := startTestServer(t, ctx,
		WithHub(h),
		WithSend(send),
		WithTxPool(pool),
		WithThresholds(assembly.Thresholds{USB: 2, SPI: 2}),
	)

	fr := testFrame(t, 0x42, 0, 1)
	one, err := wire.AppendFrame(nil, &fr)
	if err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}
	// Fill the pool past the threshold; the session reader pauses but the
	// connection must stay healthy.
	for i := 0; i < 3; i++ {
		if _, err := conn.Write(one); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	waitCapturedLen(t, 3)
	// Simulate transmit completions, then verify further writes flow.
	pool.Drain()
	if _, err := conn.Write(one); err != nil {
		t.Fatalf("write after drain: %v", err)
	}
	waitCapturedLen(t, 4)
}

func BenchmarkServer_HostToDevice(b *testing.B) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := NewServer(
		WithSend(func(can.Frame) error { return nil }),
		WithFlushInterval(time.Millisecond),
	)
	srv.SetListenAddr("127.0.0.1:0")
	go func() { _ = srv.Serve(ctx) }()
	<-srv.Ready()
	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		b.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(hello)); err != nil {
		b.Fatalf("hello: %v", err)
	}
	buf := make([]byte, len(hello))
	if _, err := io.ReadFull(conn, buf); err != nil {
		b.Fatalf("hello read: %v", err)
	}
	fr := testFrame(b, 0x123, 0, 1, 2, 3, 4, 5, 6, 7, 8)
	stream, _ := wire.AppendFrame(nil, &fr)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conn.Write(stream); err != nil {
			b.Fatalf("write: %v", err)
		}
	}
}
