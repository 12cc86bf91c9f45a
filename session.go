package main

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// outboundQueueCapacity is the bounded FIFO capacity for a session's
// outbound sample queue (spec.md §3, invariant |outbound(s)| <= 250).
const outboundQueueCapacity = 250

// ClientSession is one accepted downstream connection (spec.md §4.2).
// Grounded on the teacher's Session/wsConn pair: a struct holding
// connection identity plus a buffered channel drained by a dedicated
// writer goroutine, in place of the teacher's HTTP/WebSocket framing.
type ClientSession struct {
	ident     int64
	corrID    uuid.UUID // per-session correlation id; not included in log lines or telemetry payloads, never wire-visible
	address   string
	port      int
	startTime time.Time
	country   string

	conn net.Conn
	r    *bufio.Reader

	outbound chan []byte // bounded FIFO, capacity outboundQueueCapacity

	engine *Engine

	closeOnce sync.Once
	done      chan struct{}
}

// newClientSession constructs a session for an accepted connection. The
// caller is responsible for registering it with the Server before
// starting its goroutines.
func newClientSession(engine *Engine, conn net.Conn, ident int64, address string, port int) *ClientSession {
	return &ClientSession{
		ident:     ident,
		corrID:    uuid.New(),
		address:   address,
		port:      port,
		startTime: time.Now(),
		conn:      conn,
		r:         bufio.NewReader(conn),
		outbound:  make(chan []byte, outboundQueueCapacity),
		engine:    engine,
		done:      make(chan struct{}),
	}
}

func (s *ClientSession) String() string {
	return fmt.Sprintf("%d@%s:%d", s.ident, s.address, s.port)
}

// run drives both halves of the session until it closes: a writer
// goroutine drains outbound to the socket (dongle descriptor first),
// while the calling goroutine reads 5-byte command frames.
func (s *ClientSession) run() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	s.readLoop()

	s.close()
	<-writerDone
}

// writeLoop sends the dongle descriptor once it is known, then drains
// outbound in FIFO order. net.Conn.Write already loops internally until
// the full buffer is written or an error occurs, so — unlike an
// event-loop design working against a non-blocking socket — no explicit
// "residual" bytes need to be tracked here (see DESIGN.md).
func (s *ClientSession) writeLoop() {
	dongleID := s.engine.waitForDongleID(s.done)
	if dongleID == nil {
		return
	}
	if _, err := s.conn.Write(dongleID); err != nil {
		logDebugf("session %s: writing dongle id: %v", s, err)
		return
	}

	for {
		select {
		case buf, ok := <-s.outbound:
			if !ok {
				return
			}
			if _, err := s.conn.Write(buf); err != nil {
				logDebugf("session %s: write error: %v", s, err)
				return
			}
		case <-s.done:
			return
		}
	}
}

// readLoop reads 5-byte command frames and applies the command policy
// (spec.md §4.2). A partial frame at EOF/close is discarded, never
// reassembled across a reconnect of this client.
func (s *ClientSession) readLoop() {
	var buf [CommandFrameLen]byte
	for {
		if _, err := readFull(s.r, buf[:]); err != nil {
			logDebugf("session %s: closing: %v", s, err)
			return
		}

		frame := ParseCommandFrame(buf[:])
		sinceStart := time.Since(s.startTime)
		d := EvaluateCommand(frame, &s.engine.config.Command, s.ident, sinceStart)
		s.engine.metrics.observeCommand(frame.Opcode, d.allow)

		if !d.allow {
			logDebugf("session %s: deny opcode %d param %d", s, frame.Opcode, frame.Param)
			continue
		}

		if d.sampleRateSet {
			s.engine.setSampleRate(d.newSampleRate)
		}

		logDebugf("session %s: allow opcode %d param %d", s, frame.Opcode, frame.Param)
		if !s.engine.upstream.enqueueCommand(frame.Raw) {
			logDebugf("session %s: command queue full, dropping frame", s)
		}
	}
}

// readFull reads exactly len(buf) bytes, matching io.ReadFull semantics;
// broken out so readLoop's intent (read a whole 5-byte frame or fail) is
// explicit.
func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// addData enqueues one broadcast chunk, applying the configured
// cache-full behaviour (spec.md §4.2) when the queue is already full.
// Returns false if the session was closed as a result (DropClient).
func (s *ClientSession) addData(buf []byte) bool {
	select {
	case s.outbound <- buf:
		return true
	default:
	}

	switch s.engine.config.Buffer.CacheFullBehaviour {
	case DropSamples:
		// spec.md §4.2 / the original's handling (rtl_mus.py:257-260):
		// empty the queue and discard the triggering buffer too, rather
		// than making room for it — the client resyncs on whatever
		// arrives next.
		logErrorf("session %s: outbound queue full, dropping samples", s)
		s.drainOutbound()
		return true

	case DropClient:
		logErrorf("session %s: outbound queue full, dropping client", s)
		s.close()
		return false

	case Ignore:
		return true

	default:
		logErrorf("session %s: invalid cache_full_behaviour", s)
		return true
	}
}

// drainOutbound empties the outbound queue without blocking.
func (s *ClientSession) drainOutbound() {
	for {
		select {
		case <-s.outbound:
		default:
			return
		}
	}
}

// close tears the session down exactly once; safe to call concurrently
// from the reader, the writer, and the server's broadcast path (the
// DropClient cache_full_behaviour calls this from the broadcaster's
// goroutine, a third caller alongside run()'s own teardown and
// Server.stop()'s shutdown sweep — sync.Once is what makes that safe).
func (s *ClientSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
		s.engine.server.remove(s)
	})
}
