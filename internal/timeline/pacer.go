package timeline

import (
	"context"
	"runtime"
	"time"
)

// Pacer is the suspension point between two ticks.
type Pacer interface {
	Wait(ctx context.Context) error
}

// YieldPacer yields the goroutine and checks for cancellation without
// sleeping. Frame timing is carried by the encoder's declared frame rate, so
// frames are produced as fast as the encoder accepts them.
type YieldPacer struct{}

// Wait implements Pacer.
func (YieldPacer) Wait(ctx context.Context) error {
	runtime.Gosched()
	return ctx.Err()
}

// TickerPacer releases one tick per interval of wall-clock time.
type TickerPacer struct {
	ticker *time.Ticker
}

// NewTickerPacer creates a TickerPacer. Call Stop when done.
func NewTickerPacer(interval time.Duration) *TickerPacer {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &TickerPacer{ticker: time.NewTicker(interval)}
}

// Wait implements Pacer.
func (p *TickerPacer) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ticker.C:
		return nil
	}
}

// Stop releases the ticker.
func (p *TickerPacer) Stop() {
	p.ticker.Stop()
}
