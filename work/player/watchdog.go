package player

import (
	"context"
	"sync"
	"time"
)

// Ticker is the part of time.Ticker the watchdog needs
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates the watchdog's ticker
type TickerFactory func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (tt timeTicker) C() <-chan time.Time { return tt.t.C }
func (tt timeTicker) Stop()               { tt.t.Stop() }

// NewTimeTicker wraps time.NewTicker
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Watchdog runs check on every tick until stopped. Start and Stop are
// idempotent, and Stop returns only after the loop and any running check
// have finished.
type Watchdog struct {
	interval  time.Duration
	newTicker TickerFactory
	check     func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatchdog creates a stopped watchdog
func NewWatchdog(interval time.Duration, newTicker TickerFactory, check func(ctx context.Context)) *Watchdog {
	if newTicker == nil {
		newTicker = NewTimeTicker
	}
	return &Watchdog{
		interval:  interval,
		newTicker: newTicker,
		check:     check,
	}
}

// Start launches the loop if it is not already running
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done

	ticker := w.newTicker(w.interval)
	go w.loop(ctx, ticker, done)
}

// Stop halts the loop and waits for it to exit
func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active
func (w *Watchdog) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

func (w *Watchdog) loop(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			w.check(ctx)
		}
	}
}
