package main

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/shirou/gopsutil/v3/process"
)

// Metrics exposes Prometheus gauges/counters for the running proxy.
// Grounded on the teacher's prometheus.go, which registers an
// equivalent set of server-health gauges and serves them over HTTP.
type Metrics struct {
	cfg *MetricsConfig

	connectedClients    prometheus.Gauge
	upstreamConnected   prometheus.Gauge
	upstreamBytesTotal  prometheus.Counter
	sessionsAdmitted    prometheus.Counter
	sessionsRemoved     prometheus.Counter
	connectionsRejected *prometheus.CounterVec
	commandsAllowed     *prometheus.CounterVec
	commandsDenied      *prometheus.CounterVec
	watchdogState       *prometheus.GaugeVec
	dspBytesIn          prometheus.Counter
	dspBytesOut         prometheus.Counter
	processCPUPercent   prometheus.Gauge
	processRSSBytes     prometheus.Gauge
}

func newMetrics(cfg *Config) *Metrics {
	m := &Metrics{
		cfg: &cfg.Metrics,

		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtlmus_connected_clients",
			Help: "Number of currently connected client sessions.",
		}),
		upstreamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtlmus_upstream_connected",
			Help: "1 if the upstream rtl_tcp link is connected, else 0.",
		}),
		upstreamBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtlmus_upstream_bytes_total",
			Help: "Total bytes received from the upstream link.",
		}),
		sessionsAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtlmus_sessions_admitted_total",
			Help: "Total client sessions admitted.",
		}),
		sessionsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtlmus_sessions_removed_total",
			Help: "Total client sessions removed.",
		}),
		connectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtlmus_connections_rejected_total",
			Help: "Total connections rejected, by reason.",
		}, []string{"reason"}),
		commandsAllowed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtlmus_commands_allowed_total",
			Help: "Total control commands allowed, by opcode.",
		}, []string{"opcode"}),
		commandsDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtlmus_commands_denied_total",
			Help: "Total control commands denied, by opcode.",
		}, []string{"opcode"}),
		watchdogState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtlmus_watchdog_state",
			Help: "1 for the currently active watchdog state, 0 otherwise.",
		}, []string{"state"}),
		dspBytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtlmus_dsp_bytes_in_total",
			Help: "Total bytes submitted to the DSP sidecar.",
		}),
		dspBytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtlmus_dsp_bytes_out_total",
			Help: "Total bytes received back from the DSP sidecar.",
		}),
		processCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtlmus_process_cpu_percent",
			Help: "Process CPU utilization percent, sampled periodically.",
		}),
		processRSSBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtlmus_process_rss_bytes",
			Help: "Process resident set size in bytes.",
		}),
	}

	if cfg.Metrics.Enabled {
		prometheus.MustRegister(
			m.connectedClients, m.upstreamConnected, m.upstreamBytesTotal,
			m.sessionsAdmitted, m.sessionsRemoved, m.connectionsRejected,
			m.commandsAllowed, m.commandsDenied, m.watchdogState,
			m.dspBytesIn, m.dspBytesOut, m.processCPUPercent, m.processRSSBytes,
		)
	}

	return m
}

// start serves /metrics and launches the gopsutil self-sampling loop,
// if metrics are enabled.
func (m *Metrics) start() {
	if !m.cfg.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(m.cfg.ListenAddress, mux); err != nil {
			logErrorf("metrics: HTTP server stopped: %v", err)
		}
	}()

	go m.selfSampleLoop()

	if m.cfg.PushGatewayURL != "" {
		go m.pushLoop()
	}
}

// pushLoop periodically pushes the registry to an optional Prometheus
// Pushgateway, for deployments that scrape rather than are scraped.
func (m *Metrics) pushLoop() {
	interval := time.Duration(m.cfg.PushIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	pusher := push.New(m.cfg.PushGatewayURL, "rtl_mus").Gatherer(prometheus.DefaultGatherer)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if err := pusher.Push(); err != nil {
			logDebugf("metrics: pushgateway push failed: %v", err)
		}
	}
}

// selfSampleLoop periodically records this process's own CPU and
// memory usage via gopsutil, matching the teacher's resource-reporting
// goroutines.
func (m *Metrics) selfSampleLoop() {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logErrorf("metrics: gopsutil process handle: %v", err)
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if pct, err := proc.CPUPercent(); err == nil {
			m.processCPUPercent.Set(pct)
		}
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			m.processRSSBytes.Set(float64(info.RSS))
		}
	}
}

func (m *Metrics) observeUpstreamBytes(n int) {
	if !m.cfg.Enabled {
		return
	}
	m.upstreamBytesTotal.Add(float64(n))
}

func (m *Metrics) observeSessionAdmitted() {
	if !m.cfg.Enabled {
		return
	}
	m.sessionsAdmitted.Inc()
}

func (m *Metrics) observeSessionRemoved() {
	if !m.cfg.Enabled {
		return
	}
	m.sessionsRemoved.Inc()
}

func (m *Metrics) observeConnectionRejected(reason string) {
	if !m.cfg.Enabled {
		return
	}
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeCommand(opcode Opcode, allowed bool) {
	if !m.cfg.Enabled {
		return
	}
	label := opcodeLabel(opcode)
	if allowed {
		m.commandsAllowed.WithLabelValues(label).Inc()
	} else {
		m.commandsDenied.WithLabelValues(label).Inc()
	}
}

func (m *Metrics) setConnectedClients(n int) {
	if !m.cfg.Enabled {
		return
	}
	m.connectedClients.Set(float64(n))
}

func (m *Metrics) setUpstreamConnected(connected bool) {
	if !m.cfg.Enabled {
		return
	}
	if connected {
		m.upstreamConnected.Set(1)
	} else {
		m.upstreamConnected.Set(0)
	}
}

func (m *Metrics) setWatchdogState(state string) {
	if !m.cfg.Enabled {
		return
	}
	for _, s := range []string{"live", "filling", "resetting"} {
		if s == state {
			m.watchdogState.WithLabelValues(s).Set(1)
		} else {
			m.watchdogState.WithLabelValues(s).Set(0)
		}
	}
}

func opcodeLabel(op Opcode) string {
	switch op {
	case OpSetFrequency:
		return "set_frequency"
	case OpSetSampleRate:
		return "set_sample_rate"
	case OpSetGainMode:
		return "set_gain_mode"
	case OpSetGain:
		return "set_gain"
	case OpSetFreqCorrection:
		return "set_freq_correction"
	case OpSetIFGain:
		return "set_if_gain"
	case OpSetTestMode:
		return "set_test_mode"
	case OpSetAGCMode:
		return "set_agc_mode"
	case OpSetDirectSampling:
		return "set_direct_sampling"
	case OpSetOffsetTuning:
		return "set_offset_tuning"
	case OpSetRTLXtal:
		return "set_rtl_xtal"
	case OpSetTunerXtal:
		return "set_tuner_xtal"
	case OpSetTunerGainByIdx:
		return "set_tuner_gain_by_idx"
	default:
		return "unknown"
	}
}
