package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/canlink/go-can-gateway/internal/assembly"
	"github.com/canlink/go-can-gateway/internal/can"
	"github.com/canlink/go-can-gateway/internal/metrics"
	"github.com/canlink/go-can-gateway/internal/serial"
	"github.com/canlink/go-can-gateway/internal/socketcan"
)

// sendToBackend forwards one reassembled frame to the backend, classifying
// overflow drops separately from hard errors.
func (s *Server) sendToBackend(fr can.Frame) error {
	if s.Send == nil {
		return nil
	}
	err := s.Send(fr)
	if err == nil {
		return nil
	}
	if errors.Is(err, serial.ErrTxOverflow) || errors.Is(err, socketcan.ErrTxOverflow) {
		s.totalBackendOverflow.Add(1)
		s.logger.Debug("backend_overflow_drop", "addr", fmt.Sprintf("0x%X", fr.Addr), "bus", fr.Bus, "len", fr.Len)
		return err
	}
	s.totalBackendErrors.Add(1)
	s.logger.Error("backend_tx_error", "error", err, "addr", fmt.Sprintf("0x%X", fr.Addr))
	return err
}

// startReader launches the goroutine feeding inbound chunks into the
// session engine. Chunks arrive with whatever sizes the host picked; the
// engine's write side reassembles frames across the boundaries.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, sess *session, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Closing the client wakes the writer, whose cleanup removes the
		// session from the hub.
		defer sess.client.Close()
		defer func() { _ = conn.Close() }()
		buf := make([]byte, s.chunkLen)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			n, err := conn.Read(buf)
			if n > 0 {
				av, werr := sess.engine.Write(buf[:n])
				if werr != nil {
					// The stream cannot be re-framed past a corrupt
					// header; drop the session, the host reconnects.
					s.totalCorruptStreams.Add(1)
					logger.Warn("corrupt_stream_disconnect", "error", werr)
					return
				}
				if s.gated(av) {
					if !s.waitCapacity(ctxDone, sess) {
						return
					}
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return
			}
			select {
			case <-ctxDone:
				return
			case <-sess.client.Closed:
				return
			default:
			}
		}
	}()
}

// waitCapacity pauses inbound reads until the transmit pool again has room
// for a full burst. The notifier ping is the fast path; the poll covers
// slot recoveries that happen while no write is running the admission
// check. Returns false when the session should exit instead.
func (s *Server) waitCapacity(ctxDone <-chan struct{}, sess *session) bool {
	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-sess.resume:
		case <-t.C:
		case <-ctxDone:
			return false
		case <-sess.client.Closed:
			return false
		}
		av := assembly.CheckAdmission(s.TxPool, s.thresholds)
		if !s.gated(av) {
			return true
		}
	}
}
