package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/canlink/go-can-gateway/internal/can"
	"github.com/canlink/go-can-gateway/internal/hub"
	"github.com/canlink/go-can-gateway/internal/metrics"
	"github.com/canlink/go-can-gateway/internal/transport"
)

var errLoopbackOverflow = errors.New("loopback tx overflow")

// initLoopbackBackend echoes every transmitted frame back to the hub with
// the returned flag set, standing in for real hardware in development and
// end-to-end tests. It still runs a real TX worker so admission gating and
// overflow behave like the device backends.
func initLoopbackBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger) (*backendHandle, error) {
	bus := uint8(cfg.canBus)
	send := func(fr can.Frame) error {
		fr.Returned = true
		if fr.Bus == 0 {
			fr.Bus = bus
		}
		h.Broadcast(fr)
		return nil
	}
	hooks := transport.Hooks{
		OnDrop: func() error {
			metrics.IncError(metrics.ErrHostWrite)
			return errLoopbackOverflow
		},
	}
	tx := transport.NewAsyncTx(ctx, txQueueSize, send, hooks)
	l.Info("loopback_backend", "bus", cfg.canBus)
	return &backendHandle{send: tx.SendFrame, pool: tx, cleanup: tx.Close}, nil
}
