package main

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServer_BroadcastFansOutToEverySession(t *testing.T) {
	e := testEngine(Ignore)
	sv := e.server

	var sessions []*ClientSession
	for i := 0; i < 5; i++ {
		serverConn, clientConn := net.Pipe()
		t.Cleanup(func() { clientConn.Close() })
		s := newClientSession(e, serverConn, int64(i), "127.0.0.1", 10000+i)
		sv.mu.Lock()
		sv.clients[s.ident] = s
		sv.mu.Unlock()
		sessions = append(sessions, s)
	}

	payload := []byte{1, 2, 3, 4}
	sv.broadcast(payload)

	for _, s := range sessions {
		select {
		case got := <-s.outbound:
			require.Equal(t, payload, got)
		default:
			t.Fatalf("session %s did not receive broadcast", s)
		}
	}
}

func TestServer_RemoveIsIdempotent(t *testing.T) {
	e := testEngine(Ignore)
	sv := e.server

	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })
	s := newClientSession(e, serverConn, 0, "127.0.0.1", 10000)

	sv.mu.Lock()
	sv.clients[s.ident] = s
	sv.mu.Unlock()
	require.Equal(t, 1, sv.sessionCount())

	sv.remove(s)
	require.Equal(t, 0, sv.sessionCount())

	// A second remove of an already-removed session must not panic or
	// double-count.
	sv.remove(s)
	require.Equal(t, 0, sv.sessionCount())
}
