package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canlink/go-can-gateway/internal/assembly"
	"github.com/canlink/go-can-gateway/internal/can"
	"github.com/canlink/go-can-gateway/internal/hub"
	"github.com/canlink/go-can-gateway/internal/logging"
	"github.com/canlink/go-can-gateway/internal/metrics"
	"github.com/canlink/go-can-gateway/internal/queue"
)

// SendFunc transmits a CAN frame to the selected backend device.
type SendFunc func(can.Frame) error

// Server owns one host-link listener. Each accepted connection is one
// session: a handshake, an engine reset, then two goroutines moving
// transport chunks through the session's assembly engine. The transport
// kind (usb or spi class) selects the chunk size and which admission bit
// gates inbound writes.
type Server struct {
	mu     sync.RWMutex
	addr   string
	Hub    *hub.Hub
	Send   SendFunc
	TxPool assembly.SlotPool

	kind       string
	chunkLen   int
	thresholds assembly.Thresholds

	flushInterval        time.Duration
	readDeadline         time.Duration
	handshakeTimeout     time.Duration
	maxClients           int
	readyOnce            sync.Once
	readyCh              chan struct{}
	lastErrMu            sync.Mutex
	lastErr              error
	errCh                chan error
	listener             net.Listener
	clientsMu            sync.RWMutex
	clients              map[*hub.Client]net.Conn
	wg                   sync.WaitGroup
	logger               *slog.Logger
	nextConnID           uint64
	totalAccepted        atomic.Uint64
	totalHandshakeFail   atomic.Uint64
	totalConnected       atomic.Uint64
	totalDisconnected    atomic.Uint64
	totalBackendOverflow atomic.Uint64
	totalBackendErrors   atomic.Uint64
	totalCorruptStreams  atomic.Uint64
}

const (
	defaultUSBChunkLen      = 64
	defaultSPIChunkLen      = 1024
	defaultFlushInterval    = 5 * time.Millisecond
	defaultReadDeadline     = 60 * time.Second
	defaultHandshakeTimeout = 3 * time.Second
)

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		kind:             metrics.KindUSB,
		thresholds:       assembly.DefaultThresholds(),
		flushInterval:    defaultFlushInterval,
		readDeadline:     defaultReadDeadline,
		handshakeTimeout: defaultHandshakeTimeout,
		readyCh:          make(chan struct{}),
		errCh:            make(chan error, 1),
		clients:          make(map[*hub.Client]net.Conn),
		logger:           logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	if s.chunkLen == 0 {
		if s.kind == metrics.KindSPI {
			s.chunkLen = defaultSPIChunkLen
		} else {
			s.chunkLen = defaultUSBChunkLen
		}
	}
	return s
}

func WithListenAddr(a string) ServerOption   { return func(s *Server) { s.addr = a } }
func WithHub(hb *hub.Hub) ServerOption       { return func(s *Server) { s.Hub = hb } }
func WithSend(send SendFunc) ServerOption    { return func(s *Server) { s.Send = send } }
func WithTxPool(p assembly.SlotPool) ServerOption {
	return func(s *Server) { s.TxPool = p }
}

// WithKind selects the transport class ("usb" or "spi") the listener
// stands in for; it picks the default chunk size and the admission bit
// gating inbound writes.
func WithKind(kind string) ServerOption {
	return func(s *Server) {
		if kind == metrics.KindUSB || kind == metrics.KindSPI {
			s.kind = kind
		}
	}
}

// WithChunkLen overrides the transport chunk size for outbound reads.
func WithChunkLen(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.chunkLen = n
		}
	}
}

func WithThresholds(t assembly.Thresholds) ServerOption {
	return func(s *Server) { s.thresholds = t }
}

func WithFlushInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) SetListenAddr(a string) { s.setAddr(a) }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}
func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Serve accepts host sessions and spawns their chunk-moving goroutines.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	if addr == "" {
		addr = ":0"
	}
	s.mu.Unlock()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.listener = ln
	if s.readyCh != nil {
		s.readyOnce.Do(func() { close(s.readyCh) })
	}
	s.logger.Info("host_listen", "addr", s.Addr(), "kind", s.kind, "chunk", s.chunkLen)
	s.logger.Info("ready")
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts a single connection, performs handshake, registers the
// session and spawns its IO goroutines. Returns nil on success; a wrapped
// error on fatal listener errors.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if _, ok := err.(net.Error); ok { // transient
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	if err := s.Handshake(ctx, conn); err != nil {
		wrap := fmt.Errorf("%w: %v", ErrHandshake, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		s.totalHandshakeFail.Add(1)
		connLogger.Warn("handshake_failed", "error", wrap)
		_ = conn.Close()
		return nil
	}
	if s.maxClients > 0 && s.Hub != nil && s.Hub.Count() >= s.maxClients {
		metrics.IncHubReject()
		connLogger.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return nil
	}
	sess := s.newSession()
	s.clientsMu.Lock()
	s.clients[sess.client] = conn
	s.clientsMu.Unlock()
	s.totalConnected.Add(1)
	connLogger.Info("session_connected")
	s.startWriter(ctx.Done(), conn, sess, connLogger)
	s.startReader(ctx.Done(), conn, sess, connLogger)
	return nil
}

// session bundles one connection's hub client with its assembly engine.
type session struct {
	client *hub.Client
	engine *assembly.Engine
	// resume receives a ping when the admission notifier observes
	// recovered transmit capacity for this session's transport kind.
	resume chan struct{}
}

// newSession allocates a hub client and a freshly reset engine wired to
// this server's backend sender and transmit pool.
func (s *Server) newSession() *session {
	bufSize := 512
	if s.Hub != nil && s.Hub.OutBufSize > 0 {
		bufSize = s.Hub.OutBufSize
	}
	cl := &hub.Client{Out: queue.NewRing(bufSize), Closed: make(chan struct{})}
	if s.Hub != nil {
		s.Hub.Add(cl)
		metrics.SetHubClients(s.Hub.Count())
	}
	sess := &session{client: cl, resume: make(chan struct{}, 1)}
	ping := func() {
		select {
		case sess.resume <- struct{}{}:
		default:
		}
	}
	n := &assembly.Notifier{Pool: s.TxPool, Thresholds: s.thresholds}
	if s.kind == metrics.KindSPI {
		n.ResumeSPI = ping
	} else {
		n.ResumeUSB = ping
	}
	sink := assembly.SinkFunc(func(fr can.Frame) error {
		metrics.IncHostRx()
		return s.sendToBackend(fr)
	})
	sess.engine = assembly.NewEngine(&countingSource{ring: cl.Out}, sink, assembly.WithNotifier(n))
	sess.engine.Reset() // session state must start clean
	return sess
}

// countingSource wraps the hub ring so host-bound pops feed the host tx
// counter.
type countingSource struct{ ring *queue.Ring }

func (c *countingSource) TryPop() (can.Frame, bool) {
	fr, ok := c.ring.TryPop()
	if ok {
		metrics.AddHostTx(1)
	}
	return fr, ok
}

// gated reports whether this server's transport kind currently lacks
// transmit capacity for a further burst.
func (s *Server) gated(av assembly.Availability) bool {
	if s.TxPool == nil {
		return false
	}
	if s.kind == metrics.KindSPI {
		return !av.SPI
	}
	return !av.USB
}

// Shutdown gracefully closes all resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.clientsMu.Lock()
	for cl, conn := range s.clients {
		_ = conn.Close()
		if s.Hub != nil {
			s.Hub.Remove(cl)
		}
		delete(s.clients, cl)
	}
	s.clientsMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary", "accepted", s.totalAccepted.Load(), "handshake_fail", s.totalHandshakeFail.Load(), "connected", s.totalConnected.Load(), "disconnected", s.totalDisconnected.Load(), "backend_overflow", s.totalBackendOverflow.Load(), "backend_errors", s.totalBackendErrors.Load(), "corrupt_streams", s.totalCorruptStreams.Load())
		return nil
	}
}
