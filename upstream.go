package main

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// dongleDescriptorLen is the fixed size of the rtl_tcp dongle descriptor
// (magic "RTL0" + tuner type + gain count, spec.md §6).
const dongleDescriptorLen = 12

// upstreamReadChunk is the maximum size of one receive from the
// upstream socket (spec.md §4.4).
const upstreamReadChunk = 16384

// commandQueueCapacity bounds the shared upstream command FIFO
// (spec.md §3).
const commandQueueCapacity = 1024

// UpstreamLink owns the single TCP connection to the upstream rtl_tcp
// server, reconnecting on any failure. Grounded on the teacher's
// DXClusterClient (dxcluster.go): a connect()/disconnect() pair, a
// connection loop goroutine, and a mutex-guarded connection handle.
type UpstreamLink struct {
	engine *Engine

	mu          sync.RWMutex
	conn        net.Conn
	connected   bool
	dongleID    []byte
	dongleReady chan struct{}

	refusedLogged bool

	commands chan [CommandFrameLen]byte

	resetting atomic.Bool
	immediate atomic.Bool

	stopCh chan struct{}
}

func newUpstreamLink(engine *Engine) *UpstreamLink {
	return &UpstreamLink{
		engine:      engine,
		dongleReady: make(chan struct{}),
		commands:    make(chan [CommandFrameLen]byte, commandQueueCapacity),
		stopCh:      make(chan struct{}),
	}
}

// start launches the connection loop in its own goroutine.
func (ul *UpstreamLink) start() {
	go ul.connectionLoop()
}

func (ul *UpstreamLink) stop() {
	close(ul.stopCh)
	ul.mu.RLock()
	conn := ul.conn
	ul.mu.RUnlock()
	if conn != nil {
		conn.Close()
	}
}

// connectionLoop is the only goroutine that ever calls connect(); this
// makes the `resetting` flag purely about deduplicating forceReset
// triggers rather than guarding actual concurrent dials.
func (ul *UpstreamLink) connectionLoop() {
	for {
		select {
		case <-ul.stopCh:
			return
		default:
		}

		ul.resetting.Store(false)

		if err := ul.connect(); err != nil {
			ul.logConnectError(err)
			if ul.waitBeforeRetry(time.Duration(ul.engine.config.Liveness.ReconnectInterval) * time.Second) {
				return
			}
			continue
		}

		ul.handleConnection()

		if ul.waitBeforeRetry(time.Duration(ul.engine.config.Liveness.ReconnectInterval) * time.Second) {
			return
		}
	}
}

// waitBeforeRetry waits either the configured delay or, if a watchdog
// forceReset is pending, no time at all. Returns true if the engine is
// shutting down.
func (ul *UpstreamLink) waitBeforeRetry(d time.Duration) bool {
	if ul.immediate.Swap(false) {
		return false
	}
	select {
	case <-ul.stopCh:
		return true
	case <-time.After(d):
		return false
	}
}

func (ul *UpstreamLink) logConnectError(err error) {
	refused := isConnRefused(err)
	if refused {
		ul.mu.Lock()
		already := ul.refusedLogged
		ul.refusedLogged = true
		ul.mu.Unlock()
		if already {
			return
		}
	}
	logErrorf("upstream: connect failed: %v", err)
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || strings.Contains(err.Error(), "connection refused")
}

// connect dials the upstream rtl_tcp server and pushes the initial
// sample-rate command, matching the teacher's DXClusterClient.connect.
func (ul *UpstreamLink) connect() error {
	addr := fmt.Sprintf("%s:%d", ul.engine.config.Server.RTLHost, ul.engine.config.Server.RTLPort)
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return err
	}

	ul.mu.Lock()
	ul.conn = conn
	ul.connected = true
	ul.dongleID = nil
	ul.dongleReady = make(chan struct{})
	ul.refusedLogged = false
	ul.mu.Unlock()

	logInfof("upstream: connected to %s", addr)
	ul.engine.metrics.setUpstreamConnected(true)

	initial := [CommandFrameLen]byte{}
	initial[0] = byte(OpSetSampleRate)
	putU32(initial[1:], ul.engine.sampleRate())
	select {
	case ul.commands <- initial:
	default:
		logErrorf("upstream: command queue full, dropped initial sample rate command")
	}

	return nil
}

// disconnect closes the connection and marks it not-connected. Returns
// whether it actually transitioned, matching the teacher's
// DXClusterClient.disconnect idempotence idiom.
func (ul *UpstreamLink) disconnect() bool {
	ul.mu.Lock()
	wasConnected := ul.connected
	if !wasConnected {
		ul.mu.Unlock()
		return false
	}
	ul.connected = false
	if ul.conn != nil {
		ul.conn.Close()
		ul.conn = nil
	}
	ul.dongleID = nil
	ul.mu.Unlock()
	ul.engine.metrics.setUpstreamConnected(false)
	return true
}

// forceReset closes the current connection immediately so the
// connection loop reconnects with no delay (spec.md §4.6 Watchdog).
// Concurrent calls collapse into a single reset via the `resetting` CAS
// (spec.md §9).
func (ul *UpstreamLink) forceReset() {
	if !ul.resetting.CompareAndSwap(false, true) {
		logDebugf("upstream: already resetting, ignoring")
		return
	}
	ul.immediate.Store(true)
	ul.disconnect()
}

// isConnected reports the upstream's live/dead state for the watchdog.
func (ul *UpstreamLink) isConnected() bool {
	ul.mu.RLock()
	defer ul.mu.RUnlock()
	return ul.connected
}

// waitForDongleID blocks until the upstream connection active at or
// after the caller started waiting has captured its 12-byte descriptor,
// or until done fires. Grounded on spec.md §8's ordering invariant that
// a session never receives a stale descriptor from a past connection.
func (ul *UpstreamLink) waitForDongleID(done <-chan struct{}) []byte {
	for {
		ul.mu.RLock()
		id := ul.dongleID
		ready := ul.dongleReady
		ul.mu.RUnlock()

		if id != nil {
			return id
		}

		select {
		case <-ready:
		case <-done:
			return nil
		case <-ul.stopCh:
			return nil
		}
	}
}

// enqueueCommand pushes an allowed 5-byte frame onto the shared upstream
// command queue. Returns false if the queue was full (frame dropped).
func (ul *UpstreamLink) enqueueCommand(frame [CommandFrameLen]byte) bool {
	select {
	case ul.commands <- frame:
		return true
	default:
		return false
	}
}

// handleConnection runs the receive loop and the command-drain writer
// for one live connection; returns when the connection ends.
func (ul *UpstreamLink) handleConnection() {
	ul.mu.RLock()
	conn := ul.conn
	ul.mu.RUnlock()

	connDone := make(chan struct{})
	go ul.commandWriter(conn, connDone)
	defer close(connDone)

	r := bufio.NewReaderSize(conn, upstreamReadChunk)

	descriptor := make([]byte, dongleDescriptorLen)
	if _, err := readFull(r, descriptor); err != nil {
		logErrorf("upstream: reading dongle descriptor: %v", err)
		ul.disconnect()
		return
	}

	ul.mu.Lock()
	ul.dongleID = descriptor
	close(ul.dongleReady)
	ul.mu.Unlock()

	buf := make([]byte, upstreamReadChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			ul.engine.bytesSinceWatchdogTick.Add(uint64(n))
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			ul.engine.onUpstreamData(chunk)
		}
		if err != nil {
			logErrorf("upstream: read error: %v", err)
			ul.disconnect()
			return
		}
	}
}

// commandWriter drains the shared command queue to the upstream socket
// for the lifetime of one connection.
func (ul *UpstreamLink) commandWriter(conn net.Conn, connDone <-chan struct{}) {
	for {
		select {
		case frame := <-ul.commands:
			if _, err := conn.Write(frame[:]); err != nil {
				logDebugf("upstream: command write error: %v", err)
				return
			}
		case <-connDone:
			return
		case <-ul.stopCh:
			return
		}
	}
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
