package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/canlink/go-can-gateway/internal/assembly"
	"github.com/canlink/go-can-gateway/internal/can"
	"github.com/canlink/go-can-gateway/internal/hub"
)

// backendHandle is what a backend init returns: the frame sender the host
// sessions call, the transmit slot pool admission checks observe, and a
// cleanup closing the device and its TX worker.
type backendHandle struct {
	send    func(can.Frame) error
	pool    assembly.SlotPool
	cleanup func()
}

// initBackend selects the backend, starts its RX loop and returns its handle.
// It returns an error instead of exiting the process to allow graceful
// handling by the caller.
func initBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (*backendHandle, error) {
	switch cfg.backend {
	case "serial":
		return initSerialBackend(ctx, cfg, h, l, wg)
	case "socketcan":
		return initSocketCANBackend(ctx, cfg, h, l, wg)
	case "loopback":
		return initLoopbackBackend(ctx, cfg, h, l)
	default:
		return nil, fmt.Errorf("unknown backend %q (use serial|socketcan|loopback)", cfg.backend)
	}
}
