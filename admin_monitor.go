package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// monitorSnapshot is the read-only JSON status pushed to every connected
// monitor client.
type monitorSnapshot struct {
	ConnectedClients  int    `json:"connected_clients"`
	UpstreamConnected bool   `json:"upstream_connected"`
	SampleRate        uint32 `json:"sample_rate"`
	WatchdogState     string `json:"watchdog_state"`
}

// AdminMonitor serves a read-only websocket stream of engine status.
// Grounded on the teacher's websocket.go: an Upgrader plus a
// buffered-channel-backed writer goroutine per connection, here
// generalized from spectrum data to periodic JSON snapshots.
type AdminMonitor struct {
	engine   *Engine
	upgrader websocket.Upgrader
}

func newAdminMonitor(engine *Engine) *AdminMonitor {
	return &AdminMonitor{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (m *AdminMonitor) start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/monitor", m.handle)
	go func() {
		if err := http.ListenAndServe(m.engine.config.Admin.MonitorListen, mux); err != nil {
			logErrorf("admin monitor: HTTP server stopped: %v", err)
		}
	}()
	return nil
}

func (m *AdminMonitor) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logDebugf("admin monitor: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		snap := monitorSnapshot{
			ConnectedClients:  m.engine.server.sessionCount(),
			UpstreamConnected: m.engine.upstream.isConnected(),
			SampleRate:        m.engine.sampleRate(),
			WatchdogState:     m.engine.watchdog.stateString(),
		}
		payload, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
