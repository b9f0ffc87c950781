package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-uavcan-can/internal/canframe"
	"github.com/kstaniek/go-uavcan-can/internal/hub"
)

// initBackend selects the backend, starts its RX loop and returns a frame sender and cleanup.
// It returns an error instead of exiting the process to allow graceful handling by the caller.
// Every frame the RX loop receives is both broadcast to the relay hub and fed
// into pump for transfer reassembly.
func initBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, pump *transferPump, l *slog.Logger, wg *sync.WaitGroup) (func(canframe.Frame) error, func(), error) {
	switch cfg.backend {
	case "serial":
		return initSerialBackend(ctx, cfg, h, pump, l, wg)
	case "socketcan":
		return initSocketCANBackend(ctx, cfg, h, pump, l, wg)
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use serial|socketcan)", cfg.backend)
	}
}
