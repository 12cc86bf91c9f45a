package main

import (
	"sync/atomic"
)

// Engine is the root object wiring together every component of one
// running proxy instance: config, the upstream link, the client
// listener, the optional DSP sidecar, the watchdog, and the optional
// ambient services (metrics, MQTT, GeoIP, admin surfaces). Grounded on
// the teacher's main.go, which builds and wires an equivalent set of
// long-lived singletons before starting their goroutines.
type Engine struct {
	config *Config

	sampleRateValue atomic.Uint32

	bytesSinceWatchdogTick atomic.Uint64

	server   *Server
	upstream *UpstreamLink
	dsp      *DSPSidecar // nil if disabled
	watchdog *Watchdog

	metrics *Metrics
	mqtt    *MQTTPublisher // nil if disabled
	geoip   *GeoIPService  // nil if disabled
	mcp     *AdminMCP      // nil if disabled
	monitor *AdminMonitor  // nil if disabled
}

// newEngine constructs every component from cfg but starts none of
// them; call Start to bring the proxy up.
func newEngine(cfg *Config) (*Engine, error) {
	e := &Engine{config: cfg}
	e.sampleRateValue.Store(cfg.Liveness.InitialSampleRate)

	geo, err := NewGeoIPService(cfg.GeoIP.DatabasePath)
	if err != nil {
		return nil, err
	}
	e.geoip = geo

	e.metrics = newMetrics(cfg)
	e.server = newServer(e)
	e.upstream = newUpstreamLink(e)

	if cfg.DSP.UseDSPCommand {
		e.dsp = newDSPSidecar(e)
	}

	e.watchdog = newWatchdog(e)

	if cfg.MQTT.Enabled {
		mp, err := newMQTTPublisher(cfg)
		if err != nil {
			return nil, err
		}
		e.mqtt = mp
	}

	if cfg.Admin.MCPEnabled {
		e.mcp = newAdminMCP(e)
	}
	if cfg.Admin.MonitorEnabled {
		e.monitor = newAdminMonitor(e)
	}

	return e, nil
}

// Start brings every component up. It does not block.
func (e *Engine) Start() error {
	if err := e.server.start(); err != nil {
		return err
	}
	e.upstream.start()
	if e.dsp != nil {
		e.dsp.start()
	}
	e.watchdog.start()
	if e.mqtt != nil {
		e.mqtt.start()
	}
	e.metrics.start()

	if e.mcp != nil {
		if err := e.mcp.start(); err != nil {
			return err
		}
	}
	if e.monitor != nil {
		if err := e.monitor.start(); err != nil {
			return err
		}
	}

	return nil
}

// Stop tears every component down in roughly reverse-start order.
func (e *Engine) Stop() {
	e.watchdog.stop()
	if e.dsp != nil {
		e.dsp.stop()
	}
	e.upstream.stop()
	e.server.stop()
	if e.mqtt != nil {
		e.mqtt.stop()
	}
	if e.geoip != nil {
		e.geoip.Close()
	}
}

// sampleRate returns the currently active sample rate.
func (e *Engine) sampleRate() uint32 {
	return e.sampleRateValue.Load()
}

// setSampleRate applies a new sample rate accepted by the command
// policy; the watchdog's fill-injection rate tracks this value
// (spec.md §4.6).
func (e *Engine) setSampleRate(rate uint32) {
	e.sampleRateValue.Store(rate)
}

// waitForDongleID delegates to the upstream link; split out as an
// Engine method so session.go only ever talks to the Engine, never
// reaching into the upstream link directly.
func (e *Engine) waitForDongleID(done <-chan struct{}) []byte {
	return e.upstream.waitForDongleID(done)
}

// onUpstreamData is the single entry point for bytes arriving from the
// upstream connection: routed to the DSP sidecar's input when enabled,
// otherwise broadcast directly (spec.md §4.4/§4.5).
func (e *Engine) onUpstreamData(buf []byte) {
	e.metrics.observeUpstreamBytes(len(buf))
	if e.dsp != nil {
		e.dsp.submit(buf)
		return
	}
	e.broadcast(buf)
}

// broadcast fans one chunk of sample data out to every connected
// session (spec.md §4.3), and is also the path the watchdog uses to
// inject fill data.
func (e *Engine) broadcast(buf []byte) {
	e.server.broadcast(buf)
}
