package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/canlink/go-can-gateway/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"packed", snap.Packed,
					"assembled", snap.Assembled,
					"bytes_out", snap.BytesOut,
					"bytes_in", snap.BytesIn,
					"serial_rx", snap.SerialRx,
					"serial_tx", snap.SerialTx,
					"socketcan_rx", snap.SocketCANRx,
					"socketcan_tx", snap.SocketCANTx,
					"host_rx", snap.HostRx,
					"host_tx", snap.HostTx,
					"hub_drops", snap.HubDrops,
					"malformed", snap.Malformed,
					"resumes", snap.Resumes,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
