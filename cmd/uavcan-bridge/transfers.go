package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-uavcan-can/internal/assembler"
	"github.com/kstaniek/go-uavcan-can/internal/canframe"
	"github.com/kstaniek/go-uavcan-can/internal/identifier"
	"github.com/kstaniek/go-uavcan-can/internal/metrics"
)

// transferPump owns an Assembler and serializes access to it: ProcessFrame is
// called from whichever backend RX goroutine is active, Pop and
// RemoveOutdatedTransfers from the periodic sweep below, and Assembler
// requires external serialization across goroutines.
type transferPump struct {
	mu       sync.Mutex
	asm      *assembler.Assembler
	counters assembler.Counters
}

func newTransferPump(cfg *appConfig) *transferPump {
	maxAge := uint32(cfg.transferMaxAge.Milliseconds())
	return &transferPump{asm: assembler.New(canframe.MTU, cfg.maxTransfers, cfg.maxPieces, maxAge)}
}

// feed decodes a raw frame's 29-bit identifier and admits it into the
// assembler. Malformed identifiers (reserved-bit violations) are counted as
// dropped frames and otherwise ignored; they never reach a session.
func (p *transferPump) feed(fr canframe.Frame, timeNow uint32) {
	id, err := identifier.Decode(fr.ID)
	if err != nil {
		metrics.AddDroppedFrames(1)
		return
	}
	p.mu.Lock()
	p.asm.ProcessFrame(id, fr.Data[:fr.Len], timeNow)
	p.mu.Unlock()
}

// sweep removes sessions idle longer than maxAge and pops every transfer
// that is ready, invoking onReady for each. syncMetricsLocked mirrors the
// assembler's cumulative counters into Prometheus as deltas, since Counters
// only ever grows.
func (p *transferPump) sweep(buf []byte, timeNow, maxAge uint32, onReady func(assembler.ReadyTransfer)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asm.RemoveOutdatedTransfers(timeNow, maxAge)
	for {
		rt, ok := p.asm.Pop(buf)
		if !ok {
			break
		}
		payload := append([]byte(nil), rt.Payload...)
		rt.Payload = payload
		onReady(rt)
	}
	p.syncMetricsLocked()
}

func (p *transferPump) syncMetricsLocked() {
	cur := p.asm.Counters()
	prev := p.counters
	for i := uint64(0); i < cur.TransfersWithGoodCRC-prev.TransfersWithGoodCRC; i++ {
		metrics.IncTransferGoodCRC()
	}
	for i := uint64(0); i < cur.TransfersWithBadCRC-prev.TransfersWithBadCRC; i++ {
		metrics.IncTransferBadCRC()
	}
	if d := cur.DroppedFrames - prev.DroppedFrames; d > 0 {
		metrics.AddDroppedFrames(int(d))
	}
	if d := cur.DuplicateFrames - prev.DuplicateFrames; d > 0 {
		metrics.AddDuplicateFrames(int(d))
	}
	if d := cur.TransfersTableFull - prev.TransfersTableFull; d > 0 {
		metrics.AddTransfersTableFull(int(d))
	}
	if d := cur.PiecesPoolFull - prev.PiecesPoolFull; d > 0 {
		metrics.AddPiecesPoolFull(int(d))
	}
	p.counters = cur
}

// startTransferPump launches the periodic sweep/pop goroutine. Every
// completed transfer is logged at info level; the caller's backend RX loops
// feed frames into pump concurrently with this goroutine's sweeps.
func startTransferPump(ctx context.Context, cfg *appConfig, pump *transferPump, l *slog.Logger, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(cfg.transferPopTick)
		defer t.Stop()
		maxAge := uint32(cfg.transferMaxAge.Milliseconds())
		buf := make([]byte, cfg.maxPieces*(canframe.MTU-1))
		for {
			select {
			case <-t.C:
				now := uint32(time.Now().UnixMilli())
				pump.sweep(buf, now, maxAge, func(rt assembler.ReadyTransfer) {
					l.Info("transfer_ready",
						"source", fmt.Sprintf("N%03d", rt.Source),
						"priority", rt.Priority.String(),
						"service", rt.Kind.IsService,
						"len", len(rt.Payload),
					)
				})
			case <-ctx.Done():
				return
			}
		}
	}()
}
