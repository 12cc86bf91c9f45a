package main

import (
	"sync"
	"time"
)

// watchdogTickInterval is the sub-interval at which the watchdog checks
// for silence and, if needed, emits fill data — ten ticks per second,
// matching the original's second_frac=10.
const watchdogTickInterval = 100 * time.Millisecond

// watchdogStartupDelay is the grace period after start before the
// watchdog begins judging silence, giving the upstream link time to
// connect and the first descriptor time to arrive.
const watchdogStartupDelay = 4 * time.Second

// fillByte is the neutral sample value injected during silence: the
// IQ midpoint for unsigned 8-bit samples.
const fillByte = 0x7f

type watchdogState int

const (
	wdWaitingFirstData watchdogState = iota
	wdLive
	wdFilling
	wdResetting
)

// Watchdog detects a silent upstream link and keeps clients fed with
// neutral fill samples until the link recovers or is force-reset.
// Grounded on the original's watchdog_thread, expressed as a Go ticker
// loop in place of the original's manual sleep/check cycle.
type Watchdog struct {
	engine *Engine

	mu          sync.Mutex
	state       watchdogState
	silentTicks int

	stopCh chan struct{}
}

func newWatchdog(engine *Engine) *Watchdog {
	return &Watchdog{engine: engine, state: wdWaitingFirstData, stopCh: make(chan struct{})}
}

func (w *Watchdog) start() {
	go w.run()
}

func (w *Watchdog) stop() {
	close(w.stopCh)
}

func (w *Watchdog) run() {
	select {
	case <-time.After(watchdogStartupDelay):
	case <-w.stopCh:
		return
	}

	ticker := time.NewTicker(watchdogTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.tick()
		case <-w.stopCh:
			return
		}
	}
}

// tick runs one watchdog cycle: check for data since the last tick,
// and if silent, inject fill and possibly force a reconnect.
func (w *Watchdog) tick() {
	n := w.engine.bytesSinceWatchdogTick.Swap(0)

	w.mu.Lock()
	defer w.mu.Unlock()

	if n > 0 {
		if w.state != wdLive {
			logInfof("watchdog: data resumed, state -> live")
		}
		w.state = wdLive
		w.silentTicks = 0
		w.engine.metrics.setWatchdogState("live")
		return
	}

	w.silentTicks++
	w.state = wdFilling
	w.engine.metrics.setWatchdogState("filling")

	w.injectFill()

	thresholdTicks := int(w.engine.config.Liveness.WatchdogInterval) * int(time.Second/watchdogTickInterval)
	if thresholdTicks > 0 && w.silentTicks >= thresholdTicks {
		w.state = wdResetting
		w.engine.metrics.setWatchdogState("resetting")
		logErrorf("watchdog: upstream silent for %d ticks, forcing reconnect", w.silentTicks)
		w.engine.upstream.forceReset()
		w.silentTicks = 0
	}
}

// stateString reports the watchdog's current state for the admin
// monitor surface.
func (w *Watchdog) stateString() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case wdLive:
		return "live"
	case wdFilling:
		return "filling"
	case wdResetting:
		return "resetting"
	default:
		return "waiting_first_data"
	}
}

// injectFill broadcasts one tick's worth of neutral samples sized to
// the currently configured sample rate (2 bytes/sample, spec.md §4.6).
// The original fills with fixed 16384-byte buffers; here one buffer is
// injected per watchdogTickInterval instead, sized to the tick's share
// of a second's worth of samples. The resulting byte stream is
// identical, only the queue-entry granularity differs.
func (w *Watchdog) injectFill() {
	rate := w.engine.sampleRate()
	n := int(uint64(rate) * 2 / uint64(time.Second/watchdogTickInterval))
	if n <= 0 {
		return
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = fillByte
	}
	w.engine.broadcast(buf)
}
