package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"radio-relay/work/logger"
	"radio-relay/work/metrics"
	"radio-relay/work/types"
	"radio-relay/work/utils"
)

// Controller owns the single playback session of the remote player and the
// watchdog that keeps it alive.
type Controller struct {
	player   Player    // remote player commands go through here
	watchdog *Watchdog // restarts the session when the player stalls

	// opMu serializes command sequences sent to the player
	opMu sync.Mutex

	mu      sync.Mutex
	station *types.Station // nil when STOPPED
}

// Option customizes a Controller
type Option func(*controllerOptions)

type controllerOptions struct {
	newTicker TickerFactory
}

// WithTicker replaces the watchdog's ticker, used by tests to step ticks by hand
func WithTicker(f TickerFactory) Option {
	return func(o *controllerOptions) { o.newTicker = f }
}

// NewController creates a STOPPED controller whose watchdog polls every interval
func NewController(p Player, interval time.Duration, opts ...Option) *Controller {
	o := controllerOptions{newTicker: NewTimeTicker}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Controller{player: p}
	c.watchdog = NewWatchdog(interval, o.newTicker, c.checkPlayback)
	return c
}

// Play replaces whatever the player is doing with station.
//
// The player is told to stop, empty its playlist and play the station's URL.
// Only when all three succeed does the session become PLAYING with station
// remembered, and the watchdog start.
func (c *Controller) Play(ctx context.Context, station types.Station) error {
	c.opMu.Lock()
	err := c.switchTo(ctx, station.URL)
	if err == nil {
		c.mu.Lock()
		s := station
		c.station = &s
		c.mu.Unlock()
	}
	c.opMu.Unlock()

	if err != nil {
		return err
	}

	logger.Info("{player/controller - Play} playing %s (%s)", station.Name, utils.LogURL(station.URL))
	c.watchdog.Start()
	return nil
}

// Stop halts the watchdog, then the player, then forgets the session. The
// watchdog is stopped first so it cannot restart playback behind the stop.
func (c *Controller) Stop(ctx context.Context) error {
	c.watchdog.Stop()

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.player.Stop(ctx); err != nil {
		return err
	}
	if err := c.player.Empty(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.station = nil
	c.mu.Unlock()

	logger.Info("{player/controller - Stop} playback stopped")
	return nil
}

// Status reports whether the player is producing audio, and the remembered
// station when it is.
//
// Parameters:
//   - ctx: bounds the status request
//
// Returns:
//   - types.PlayerStatus: playback flag plus the session's station while playing
//   - error: ErrPlayerControl wrapped when the player cannot be queried
func (c *Controller) Status(ctx context.Context) (types.PlayerStatus, error) {
	st, err := c.player.Status(ctx)
	if err != nil {
		return types.PlayerStatus{}, err
	}
	if !st.Playing() {
		return types.PlayerStatus{Playback: false}, nil
	}

	station, ok := c.current()
	if !ok {
		return types.PlayerStatus{Playback: true}, nil
	}
	return types.PlayerStatus{Playback: true, Data: &station}, nil
}

// NowPlaying returns the title the player reports for the current stream
func (c *Controller) NowPlaying(ctx context.Context) (string, error) {
	st, err := c.player.Status(ctx)
	if err != nil {
		return "", err
	}
	return st.NowPlaying, nil
}

// State reports the session state
func (c *Controller) State() types.PlaybackState {
	if _, ok := c.current(); ok {
		return types.StatePlaying
	}
	return types.StateStopped
}

// Shutdown stops the watchdog without touching the player
func (c *Controller) Shutdown() {
	c.watchdog.Stop()
}

func (c *Controller) current() (types.Station, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.station == nil {
		return types.Station{}, false
	}
	return *c.station, true
}

// switchTo runs the stop, empty, play sequence; callers hold opMu
func (c *Controller) switchTo(ctx context.Context, streamURL string) error {
	if err := c.player.Stop(ctx); err != nil {
		return err
	}
	if err := c.player.Empty(ctx); err != nil {
		return err
	}
	if err := c.player.Play(ctx, streamURL); err != nil {
		return err
	}
	return nil
}

// checkPlayback is the watchdog tick: when a station is remembered but the
// player is not playing, the station is started again. Failures are logged
// and left to the next tick.
func (c *Controller) checkPlayback(ctx context.Context) {
	station, ok := c.current()
	if !ok {
		return
	}

	st, err := c.player.Status(ctx)
	if err != nil {
		logger.Warn("{player/controller - checkPlayback} status failed: %v", err)
		return
	}
	if st.Playing() {
		return
	}

	logger.Info("{player/controller - checkPlayback} player is %s, restarting %s", st.State, station.Name)
	metrics.WatchdogRestarts.Inc()

	if err := c.restart(ctx, station); err != nil {
		logger.Warn("{player/controller - checkPlayback} restart failed: %v", err)
	}
}

func (c *Controller) restart(ctx context.Context, station types.Station) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	// the watchdog was stopped while the status poll was in flight
	if ctx.Err() != nil {
		return nil
	}

	// a Play or Stop may have replaced the session while we polled
	if cur, ok := c.current(); !ok || cur.URL != station.URL {
		return nil
	}

	if err := c.switchTo(ctx, station.URL); err != nil {
		return fmt.Errorf("restart %s: %w", station.Name, err)
	}
	return nil
}
