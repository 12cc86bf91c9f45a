package main

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func testEngineForWatchdog(watchdogIntervalSecs int, sampleRate uint32) *Engine {
	cfg := &Config{
		Liveness: LivenessConfig{WatchdogInterval: watchdogIntervalSecs, ReconnectInterval: 1},
	}
	e := &Engine{config: cfg}
	e.sampleRateValue.Store(sampleRate)
	e.metrics = newMetrics(cfg)
	e.server = newServer(e)
	e.upstream = newUpstreamLink(e)
	return e
}

func TestWatchdog_InjectFill_SizedToSampleRate(t *testing.T) {
	e := testEngineForWatchdog(10, 2048000)
	w := newWatchdog(e)

	var captured []byte
	sv := e.server
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })

	s := newClientSession(e, serverConn, 0, "127.0.0.1", 10000)
	sv.mu.Lock()
	sv.clients[s.ident] = s
	sv.mu.Unlock()

	w.injectFill()

	select {
	case captured = <-s.outbound:
	default:
		t.Fatal("expected a fill chunk to be broadcast")
	}

	wantLen := int(uint64(2048000) * 2 / 10)
	require.Len(t, captured, wantLen)
	for _, b := range captured {
		require.Equal(t, byte(fillByte), b)
	}
}

func TestWatchdog_Tick_ForcesResetAfterSustainedSilence(t *testing.T) {
	e := testEngineForWatchdog(1, 2048000) // 1 second -> 10 ticks at 100ms
	w := newWatchdog(e)

	for i := 0; i < 9; i++ {
		w.tick()
		require.Equal(t, wdFilling, w.state)
	}
	w.tick()
	require.Equal(t, wdResetting, w.state)
}

func TestWatchdog_Tick_DataResumeReturnsToLive(t *testing.T) {
	e := testEngineForWatchdog(10, 2048000)
	w := newWatchdog(e)

	w.tick()
	require.Equal(t, wdFilling, w.state)

	e.bytesSinceWatchdogTick.Add(128)
	w.tick()
	require.Equal(t, wdLive, w.state)
	require.Equal(t, 0, w.silentTicks)
}
