package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testEngineForUpstream() *Engine {
	cfg := &Config{Liveness: LivenessConfig{ReconnectInterval: 1, InitialSampleRate: 2048000}}
	e := &Engine{config: cfg}
	e.sampleRateValue.Store(cfg.Liveness.InitialSampleRate)
	return e
}

func TestPutU32_BigEndian(t *testing.T) {
	b := make([]byte, 4)
	putU32(b, 0x01020304)
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, b)
}

func TestUpstreamLink_WaitForDongleID_UnblocksOnCapture(t *testing.T) {
	e := testEngineForUpstream()
	ul := newUpstreamLink(e)

	done := make(chan struct{})
	result := make(chan []byte, 1)
	go func() {
		result <- ul.waitForDongleID(done)
	}()

	time.Sleep(20 * time.Millisecond)

	descriptor := []byte("RTL0\x00\x00\x00\x00\x00\x00\x00\x00")
	ul.mu.Lock()
	ul.dongleID = descriptor
	close(ul.dongleReady)
	ul.mu.Unlock()

	select {
	case got := <-result:
		require.Equal(t, descriptor, got)
	case <-time.After(time.Second):
		t.Fatal("waitForDongleID did not unblock")
	}
}

func TestUpstreamLink_WaitForDongleID_UnblocksOnDone(t *testing.T) {
	e := testEngineForUpstream()
	ul := newUpstreamLink(e)

	done := make(chan struct{})
	result := make(chan []byte, 1)
	go func() {
		result <- ul.waitForDongleID(done)
	}()

	time.Sleep(20 * time.Millisecond)
	close(done)

	select {
	case got := <-result:
		require.Nil(t, got)
	case <-time.After(time.Second):
		t.Fatal("waitForDongleID did not unblock on done")
	}
}

func TestUpstreamLink_ForceReset_IsIdempotentWhileResetting(t *testing.T) {
	e := testEngineForUpstream()
	ul := newUpstreamLink(e)

	ul.forceReset()
	require.True(t, ul.resetting.Load())

	// A second call while still "resetting" must be a no-op, not a panic.
	ul.forceReset()
	require.True(t, ul.resetting.Load())
}

func TestUpstreamLink_EnqueueCommand_DropsWhenFull(t *testing.T) {
	e := testEngineForUpstream()
	ul := newUpstreamLink(e)

	var frame [CommandFrameLen]byte
	accepted := 0
	for i := 0; i < commandQueueCapacity+10; i++ {
		if ul.enqueueCommand(frame) {
			accepted++
		}
	}
	require.Equal(t, commandQueueCapacity, accepted)
}
