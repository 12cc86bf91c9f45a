package main

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func testEngine(buffer CacheFullBehaviour) *Engine {
	cfg := &Config{
		Command: CommandConfig{},
		Buffer:  BufferConfig{CacheFullBehaviour: buffer},
	}
	e := &Engine{config: cfg}
	e.metrics = newMetrics(cfg)
	e.server = newServer(e)
	return e
}

func newTestSession(t *testing.T, e *Engine) (*ClientSession, net.Conn) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })
	s := newClientSession(e, serverConn, 0, "127.0.0.1", 12345)
	return s, clientConn
}

func TestOutboundQueue_BoundedCapacity(t *testing.T) {
	e := testEngine(Ignore)
	s, _ := newTestSession(t, e)

	for i := 0; i < outboundQueueCapacity; i++ {
		require.True(t, s.addData([]byte{byte(i)}))
	}
	require.Len(t, s.outbound, outboundQueueCapacity)
}

func TestAddData_Ignore_DropsSilently(t *testing.T) {
	e := testEngine(Ignore)
	s, _ := newTestSession(t, e)

	for i := 0; i < outboundQueueCapacity; i++ {
		s.addData([]byte{byte(i)})
	}
	require.True(t, s.addData([]byte{0xff}))
	require.Len(t, s.outbound, outboundQueueCapacity)
}

func TestAddData_DropSamples_MakesRoom(t *testing.T) {
	e := testEngine(DropSamples)
	s, _ := newTestSession(t, e)

	for i := 0; i < outboundQueueCapacity; i++ {
		s.addData([]byte{byte(i)})
	}
	require.True(t, s.addData([]byte{0xff}))
	require.LessOrEqual(t, len(s.outbound), outboundQueueCapacity)
}

func TestAddData_DropClient_ClosesSession(t *testing.T) {
	e := testEngine(DropClient)
	s, _ := newTestSession(t, e)

	for i := 0; i < outboundQueueCapacity; i++ {
		require.True(t, s.addData([]byte{byte(i)}))
	}
	require.False(t, s.addData([]byte{0xff}))

	select {
	case <-s.done:
	default:
		t.Fatal("expected session to be closed after DropClient behaviour")
	}
}
