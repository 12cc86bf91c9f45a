package main

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// Server is the client-facing TCP listener: it accepts connections,
// applies the IP and country filters, and fans broadcast data out to
// every admitted session. Grounded on the teacher's log_receiver.go
// accept loop (goroutine-per-connection) and session.go's
// SessionManager (a mutex-guarded session set).
type Server struct {
	engine *Engine

	listener net.Listener

	nextIdent atomic.Int64

	mu      sync.RWMutex
	clients map[int64]*ClientSession

	stopCh chan struct{}
}

func newServer(engine *Engine) *Server {
	return &Server{
		engine:  engine,
		clients: make(map[int64]*ClientSession),
		stopCh:  make(chan struct{}),
	}
}

// start opens the listening socket and launches the accept loop.
func (sv *Server) start() error {
	addr := fmt.Sprintf("%s:%d", sv.engine.config.Server.ListenAddress, sv.engine.config.Server.ListenPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	sv.listener = ln
	logInfof("server: listening on %s", addr)

	go sv.acceptLoop()
	return nil
}

func (sv *Server) stop() {
	close(sv.stopCh)
	if sv.listener != nil {
		sv.listener.Close()
	}
	sv.mu.Lock()
	sessions := make([]*ClientSession, 0, len(sv.clients))
	for _, s := range sv.clients {
		sessions = append(sessions, s)
	}
	sv.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

// acceptLoop accepts connections one at a time, spawning a goroutine
// per admitted session — the equivalent of a single-threaded
// readiness loop's per-fd dispatch (spec.md §9).
func (sv *Server) acceptLoop() {
	for {
		conn, err := sv.listener.Accept()
		if err != nil {
			select {
			case <-sv.stopCh:
				return
			default:
			}
			logErrorf("server: accept error: %v", err)
			continue
		}

		go sv.handleAccept(conn)
	}
}

// handleAccept applies the IP and country filters to a freshly accepted
// connection, then, if admitted, registers and runs its session.
func (sv *Server) handleAccept(conn net.Conn) {
	host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		logErrorf("server: parsing remote address %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	ip := net.ParseIP(host)

	access := &sv.engine.config.Access
	if !IPAllowed(ip, access) {
		logInfof("server: rejecting %s: denied by IP access control", host)
		sv.engine.metrics.observeConnectionRejected("ip_access_control")
		conn.Close()
		return
	}

	country := sv.engine.geoip.Country(ip)
	if CountryDenied(country, &sv.engine.config.GeoIP) {
		logInfof("server: rejecting %s: denied country %s", host, country)
		sv.engine.metrics.observeConnectionRejected("country")
		conn.Close()
		return
	}

	port := 0
	fmt.Sscanf(portStr, "%d", &port)

	ident := sv.nextIdent.Add(1) - 1
	session := newClientSession(sv.engine, conn, ident, host, port)
	session.country = country

	sv.mu.Lock()
	sv.clients[ident] = session
	count := len(sv.clients)
	sv.mu.Unlock()

	logInfof("server: admitted session %s (country=%s, total=%d)", session, country, count)
	sv.engine.metrics.observeSessionAdmitted()
	sv.engine.metrics.setConnectedClients(count)
	if sv.engine.mqtt != nil {
		sv.engine.mqtt.publishSessionAdmitted(session)
	}

	session.run()
}

// remove unregisters a closed session; idempotent, matching
// ClientSession.close's own idempotence.
func (sv *Server) remove(s *ClientSession) {
	sv.mu.Lock()
	_, existed := sv.clients[s.ident]
	delete(sv.clients, s.ident)
	count := len(sv.clients)
	sv.mu.Unlock()

	if existed {
		logInfof("server: removed session %s (total=%d)", s, count)
		sv.engine.metrics.observeSessionRemoved()
		sv.engine.metrics.setConnectedClients(count)
		if sv.engine.mqtt != nil {
			sv.engine.mqtt.publishSessionRemoved(s)
		}
	}
}

// broadcast fans one chunk out to every currently registered session.
// A session whose outbound queue is handled per its own
// cache_full_behaviour (spec.md §4.2); broadcast itself never blocks.
func (sv *Server) broadcast(buf []byte) {
	sv.mu.RLock()
	sessions := make([]*ClientSession, 0, len(sv.clients))
	for _, s := range sv.clients {
		sessions = append(sessions, s)
	}
	sv.mu.RUnlock()

	for _, s := range sessions {
		s.addData(buf)
	}
}

// sessionCount reports the number of currently registered sessions, for
// metrics and the admin surfaces.
func (sv *Server) sessionCount() int {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return len(sv.clients)
}

// snapshot returns a stable copy of the session list, for the admin
// surfaces (spec.md's SPEC_FULL domain-stack expansion).
func (sv *Server) snapshot() []*ClientSession {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	out := make([]*ClientSession, 0, len(sv.clients))
	for _, s := range sv.clients {
		out = append(out, s)
	}
	return out
}
