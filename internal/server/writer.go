package server

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/canlink/go-can-gateway/internal/metrics"
)

// startWriter launches the goroutine draining the session engine's read
// side into transport chunks on the connection. Chunks are always chunkLen
// bytes except the last of a batch; a frame straddling the boundary is
// continued in the next chunk by the engine's overflow buffer.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, sess *session, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			if s.Hub != nil {
				s.Hub.Remove(sess.client)
			}
			s.clientsMu.Lock()
			delete(s.clients, sess.client)
			s.clientsMu.Unlock()
			s.totalDisconnected.Add(1)
			logger.Info("session_disconnected")
		}()
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		chunk := make([]byte, s.chunkLen)
		flush := func() error {
			for {
				n := sess.engine.Read(chunk)
				if n == 0 {
					return nil
				}
				if _, err := conn.Write(chunk[:n]); err != nil {
					wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
					metrics.IncError(mapErrToMetric(wrap))
					s.setError(wrap)
					return wrap
				}
				if n < len(chunk) { // queue drained
					return nil
				}
			}
		}
		for {
			select {
			case <-t.C:
				if err := flush(); err != nil {
					return
				}
			case <-sess.client.Closed:
				_ = flush()
				return
			case <-ctxDone:
				_ = flush()
				return
			}
		}
	}()
}
