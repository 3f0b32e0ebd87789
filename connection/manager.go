// Package connection owns the duplex channel to the Gateway: it dials,
// performs the handshake, probes for extended-state capability, polls for
// extended state, watches liveness, and reconnects with jittered backoff.
// All state lives on a single run loop goroutine; the exported API posts
// commands into that loop, so no invariant is ever touched concurrently.
package connection

import (
	"encoding/json"
	"math"
	"math/rand"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/MightComeback/molt-mascot-sub001/latency"
	"github.com/MightComeback/molt-mascot-sub001/protocol"
)

// Phase is the connection lifecycle state
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseDisconnected Phase = "disconnected"
)

// Snapshot is a point-in-time copy of the connection state for readers
// outside the run loop.
type Snapshot struct {
	Phase                 Phase
	ConnectedSince        time.Time
	LastDisconnect        time.Time
	LastCloseCode         int
	LastCloseReason       string
	ReconnectAttempt      uint
	SessionConnectCount   uint
	LastMessageAt         time.Time
	HasExtendedCapability bool
	PollingPaused         bool
}

// Options configures a Manager. Zero fields get working defaults; the
// seams exist so tests can inject a fake dialer, clock and random source.
type Options struct {
	Dialer          protocol.Dialer
	Events          Events
	Logger          zerolog.Logger
	LatencyCapacity int
	Now             func() time.Time
	Rand            func() float64
}

// inboundMsg is what the read pump posts into the run loop
type inboundMsg struct {
	gen    uint64
	data   []byte
	closed bool
	code   int
	reason string
}

// Manager is the connection state machine
type Manager struct {
	dialer  protocol.Dialer
	events  Events
	logger  zerolog.Logger
	tracker *latency.Tracker
	now     func() time.Time
	rnd     func() float64

	commands chan func()
	inbound  chan inboundMsg
	loopDone chan struct{}

	// Everything below is owned by the run loop goroutine

	cfg       Config
	destroyed bool

	phase               Phase
	connectedSince      time.Time
	lastDisconnect      time.Time
	lastCloseCode       int
	lastCloseReason     string
	reconnectAttempt    uint
	sessionConnectCount uint
	lastMessageAt       time.Time
	hasExtended         bool
	pollingPaused       bool

	conn protocol.Conn
	gen  uint64

	handshakeID     string
	handshakeSentAt time.Time

	getCursor   *methodCursor
	resetCursor *methodCursor

	pendingID          string
	pendingSentAt      time.Time
	pendingResetID     string
	pendingResetSentAt time.Time
	sendGuard          *rate.Limiter

	reconnectTimer     *time.Timer
	countdownTicker    *time.Ticker
	countdownRemaining int
	staleTicker        *time.Ticker
	pollTicker         *time.Ticker

	// Mirror of the loop-owned state for concurrent readers
	snapMu sync.RWMutex
	snap   Snapshot
}

// NewManager creates a manager and starts its run loop. Call Destroy to
// stop it.
func NewManager(opts Options) *Manager {
	m := &Manager{
		dialer:      opts.Dialer,
		events:      opts.Events,
		logger:      opts.Logger.With().Str("component", "connection").Logger(),
		tracker:     latency.NewTracker(opts.LatencyCapacity),
		now:         opts.Now,
		rnd:         opts.Rand,
		commands:    make(chan func(), 32),
		inbound:     make(chan inboundMsg, 32),
		loopDone:    make(chan struct{}),
		phase:       PhaseIdle,
		getCursor:   newMethodCursor(DefaultGetStateMethods),
		resetCursor: newMethodCursor(DefaultResetStateMethods),
	}
	if m.dialer == nil {
		m.dialer = &protocol.GorillaDialer{}
	}
	if m.events == nil {
		m.events = NopEvents{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.rnd == nil {
		m.rnd = rand.Float64
	}
	m.publishSnapshot()
	go m.run()
	return m
}

// Connect replaces the configuration and opens a fresh channel, cancelling
// any pending reconnect timeline first.
func (m *Manager) Connect(cfg Config) {
	m.post(func() { m.connect(cfg) })
}

// ForceReconnect is the user-invoked "reconnect now": it resets the
// attempt counter, tears down, and redials immediately without waiting for
// backoff. A nil cfg reuses the current configuration.
func (m *Manager) ForceReconnect(cfg *Config) {
	m.post(func() {
		if cfg == nil && m.cfg.GatewayURL == "" {
			return
		}
		m.reconnectAttempt = 0
		m.stopReconnectTimers()
		next := m.cfg
		if cfg != nil {
			next = *cfg
		}
		m.logger.Info().Msg("Force reconnect requested")
		m.connect(next)
	})
}

// Destroy tears everything down and stops the run loop. No callbacks fire
// after Destroy returns control to the loop; safe to call more than once.
func (m *Manager) Destroy() {
	m.post(func() {
		m.logger.Info().Msg("Destroying connection")
		m.destroyed = true
		m.stopReconnectTimers()
		m.teardownTransport()
		m.phase = PhaseDisconnected
	})
}

// PausePolling suspends the extended-state poll loop without touching the
// connection (e.g. while the widget window is hidden).
func (m *Manager) PausePolling() {
	m.post(func() {
		if m.pollingPaused {
			return
		}
		m.pollingPaused = true
		m.stopPoller()
		m.logger.Debug().Msg("Polling paused")
	})
}

// ResumePolling restarts the poll loop and triggers an immediate refresh
// rather than waiting for the next tick.
func (m *Manager) ResumePolling() {
	m.post(func() {
		if !m.pollingPaused {
			return
		}
		m.pollingPaused = false
		m.resetSendGuard()
		m.logger.Debug().Msg("Polling resumed")
		if m.hasExtended && m.isConnected() {
			m.startPoller()
			m.requestExtendedState()
		}
	})
}

// RefreshState requests extended state out of band, subject to the same
// pending and rate-limit guards as the poll loop.
func (m *Manager) RefreshState() {
	m.post(func() { m.requestExtendedState() })
}

// ResetExtendedState asks the Gateway to reset its extended state, probing
// the reset candidate list for a supported method name.
func (m *Manager) ResetExtendedState() {
	m.post(func() { m.requestStateReset() })
}

// Snapshot returns the latest published connection state
func (m *Manager) Snapshot() Snapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap
}

// Tracker exposes the latency window for the presentation layer
func (m *Manager) Tracker() *latency.Tracker {
	return m.tracker
}

// post hands a command to the run loop, dropping it once destroyed
func (m *Manager) post(fn func()) {
	select {
	case m.commands <- fn:
	case <-m.loopDone:
	}
}

func (m *Manager) run() {
	defer close(m.loopDone)
	for {
		select {
		case fn := <-m.commands:
			fn()
		case msg := <-m.inbound:
			m.handleInbound(msg)
		case <-timerC(m.reconnectTimer):
			m.reconnectTimer = nil
			m.handleReconnectDue()
		case <-tickerC(m.countdownTicker):
			m.handleCountdownTick()
		case <-tickerC(m.staleTicker):
			m.handleStaleTick()
		case <-tickerC(m.pollTicker):
			m.requestExtendedState()
		}
		m.publishSnapshot()
		if m.destroyed {
			m.drainCommands()
			return
		}
	}
}

// drainCommands runs commands already queued when the loop shuts down.
// Every queued closure is a no-op once destroyed except a dial completion,
// which must still close its connection.
func (m *Manager) drainCommands() {
	for {
		select {
		case fn := <-m.commands:
			fn()
		default:
			return
		}
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (m *Manager) publishSnapshot() {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()
	m.snap = Snapshot{
		Phase:                 m.phase,
		ConnectedSince:        m.connectedSince,
		LastDisconnect:        m.lastDisconnect,
		LastCloseCode:         m.lastCloseCode,
		LastCloseReason:       m.lastCloseReason,
		ReconnectAttempt:      m.reconnectAttempt,
		SessionConnectCount:   m.sessionConnectCount,
		LastMessageAt:         m.lastMessageAt,
		HasExtendedCapability: m.hasExtended,
		PollingPaused:         m.pollingPaused,
	}
}

func (m *Manager) isConnected() bool {
	return m.conn != nil && !m.connectedSince.IsZero()
}

func (m *Manager) setPhase(phase Phase) {
	if m.phase == phase {
		return
	}
	m.phase = phase
	m.logger.Debug().Str("phase", string(phase)).Msg("Connection phase changed")
	m.events.ConnectionStateChanged(phase)
}

// connect opens a fresh channel to cfg, silently discarding any existing
// transport so its close never schedules a duplicate reconnect.
func (m *Manager) connect(cfg Config) {
	if m.destroyed {
		return
	}
	m.stopReconnectTimers()
	m.teardownTransport()

	m.cfg = cfg.withDefaults()

	// Probe cursors survive reconnect cycles; they are rebuilt only when
	// the candidate lists themselves change
	if !slices.Equal(m.getCursor.methods, m.cfg.GetStateMethods) {
		m.getCursor = newMethodCursor(m.cfg.GetStateMethods)
	}
	if !slices.Equal(m.resetCursor.methods, m.cfg.ResetStateMethods) {
		m.resetCursor = newMethodCursor(m.cfg.ResetStateMethods)
	}

	m.setPhase(PhaseConnecting)
	m.logger.Info().Str("gatewayURL", m.cfg.GatewayURL).Uint("attempt", m.reconnectAttempt).Msg("Connecting to gateway")

	gen := m.gen
	url := m.cfg.GatewayURL
	go func() {
		conn, resp, err := m.dialer.Dial(url, http.Header{})
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		// The run loop may have been destroyed while the dial was in
		// flight; nothing would run the completion, so close here.
		select {
		case <-m.loopDone:
			if conn != nil {
				conn.Close()
			}
			return
		default:
		}
		m.post(func() {
			if gen != m.gen || m.destroyed {
				if conn != nil {
					conn.Close()
				}
				return
			}
			m.handleDialResult(conn, err)
		})
	}()
}

func (m *Manager) handleDialResult(conn protocol.Conn, err error) {
	if err != nil {
		m.logger.Warn().Err(err).Msg("Dial failed")
		m.events.ConnError("dial failed: " + err.Error())
		m.handleClose(m.gen, websocket.CloseAbnormalClosure, err.Error())
		return
	}

	m.conn = conn
	m.lastMessageAt = m.now()
	go m.readPump(m.gen, conn)

	req := protocol.NewRequest(m.cfg.HandshakeMethod, m.cfg.handshakeParams())
	m.handshakeID = req.ID
	m.handshakeSentAt = m.now()
	if err := conn.WriteJSON(req); err != nil {
		m.logger.Error().Err(err).Msg("Failed to send handshake request")
		m.events.ConnError("handshake send failed: " + err.Error())
		conn.Close() // read pump delivers the close, driving reconnect
		return
	}
	m.logger.Debug().Str("requestID", req.ID).Str("method", req.Method).Msg("Handshake sent")
}

// readPump feeds inbound frames into the run loop until the transport
// dies. Frames are tagged with the transport generation so frames from a
// superseded channel are dropped.
func (m *Manager) readPump(gen uint64, conn protocol.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := protocol.CloseStatus(err)
			select {
			case m.inbound <- inboundMsg{gen: gen, closed: true, code: code, reason: reason}:
			case <-m.loopDone:
			}
			return
		}
		select {
		case m.inbound <- inboundMsg{gen: gen, data: data}:
		case <-m.loopDone:
			return
		}
	}
}

func (m *Manager) handleInbound(msg inboundMsg) {
	if msg.gen != m.gen {
		return
	}
	if msg.closed {
		m.handleClose(msg.gen, msg.code, msg.reason)
		return
	}

	// Every inbound frame is the liveness signal
	m.lastMessageAt = m.now()

	var env protocol.Envelope
	if err := json.Unmarshal(msg.data, &env); err != nil {
		m.logger.Debug().Err(err).Msg("Dropping unparseable frame")
		return
	}

	switch env.Type {
	case protocol.TypeResponse:
		switch env.ID {
		case m.handshakeID:
			m.handleHandshakeResponse(env)
		case m.pendingID:
			m.handleStateResponse(env)
		case m.pendingResetID:
			m.handleResetResponse(env)
		default:
			// Response for a request we no longer track
			m.logger.Debug().Str("requestID", env.ID).Msg("Ignoring uncorrelated response")
		}
	case protocol.TypeEvent:
		m.events.RawEvent(env)
		if m.hasExtended {
			// Events hint at state changes; refresh faster than the poll
			// interval, still behind the pending/rate guards
			m.requestExtendedState()
		}
	default:
		m.logger.Debug().Str("type", env.Type).Msg("Ignoring frame of unknown type")
	}
}

func (m *Manager) handleHandshakeResponse(env protocol.Envelope) {
	rtt := m.now().Sub(m.handshakeSentAt)
	m.handshakeID = ""

	if !protocol.IsHelloOK(env.Payload) {
		detail := protocol.ErrorDetail(env.Payload)
		m.logger.Warn().Str("detail", detail).Msg("Handshake rejected")
		m.events.HandshakeFailure(detail)
		// Force-close so the ordinary close path guarantees a retry even
		// against a Gateway that rejects handshakes without closing
		if m.conn != nil {
			m.conn.Close()
		}
		return
	}

	m.reconnectAttempt = 0
	m.sessionConnectCount++
	m.connectedSince = m.now()
	m.setPhase(PhaseConnected)
	m.startStaleWatchdog()

	// Fresh session: previous connection quality and probe progress on the
	// get-state list must not leak in. Reset-state progress is kept.
	m.getCursor.Rewind()
	m.pendingID = ""
	m.pendingSentAt = time.Time{}
	m.resetSendGuard()
	m.tracker.Reset()
	m.tracker.Push(float64(rtt.Milliseconds()))

	m.logger.Info().
		Uint("sessionConnectCount", m.sessionConnectCount).
		Int64("handshakeRTTMs", rtt.Milliseconds()).
		Msg("Handshake succeeded")
	m.events.HandshakeSuccess()

	// Probe for extended capability right away
	m.requestExtendedState()
}

func (m *Manager) handleStateResponse(env protocol.Envelope) {
	m.tracker.Push(float64(m.now().Sub(m.pendingSentAt).Milliseconds()))
	m.pendingID = ""
	m.pendingSentAt = time.Time{}

	if protocol.IsMethodNotFound(env.Payload) {
		rejected, _ := m.getCursor.Current()
		m.getCursor.Advance()
		if next, ok := m.getCursor.Current(); ok {
			m.logger.Debug().Str("rejected", rejected).Str("next", next).Msg("State method not supported, trying next candidate")
			m.resetSendGuard()
			m.requestExtendedState()
		} else {
			m.logger.Info().Msg("Gateway has no extended state capability")
			m.hasExtended = false
			m.stopPoller()
		}
		return
	}

	if protocol.IsErrorPayload(env.Payload) {
		detail := protocol.ErrorDetail(env.Payload)
		m.logger.Warn().Str("detail", detail).Msg("Extended state request rejected")
		m.events.ConnError("state request failed: " + detail)
		return
	}

	if !protocol.IsStatePayload(env.Payload) {
		m.logger.Debug().Msg("Dropping state response with unrecognized payload shape")
		return
	}

	if !m.hasExtended {
		method, _ := m.getCursor.Current()
		m.logger.Info().Str("method", method).Msg("Extended state capability confirmed")
	}
	m.hasExtended = true
	if !m.pollingPaused {
		m.startPoller()
	}
	m.events.ExtendedState(env.Payload)
}

func (m *Manager) handleResetResponse(env protocol.Envelope) {
	m.tracker.Push(float64(m.now().Sub(m.pendingResetSentAt).Milliseconds()))
	m.pendingResetID = ""
	m.pendingResetSentAt = time.Time{}

	if protocol.IsMethodNotFound(env.Payload) {
		rejected, _ := m.resetCursor.Current()
		m.resetCursor.Advance()
		if next, ok := m.resetCursor.Current(); ok {
			m.logger.Debug().Str("rejected", rejected).Str("next", next).Msg("Reset method not supported, trying next candidate")
			m.requestStateReset()
		} else {
			m.logger.Info().Msg("Gateway has no extended state reset capability")
		}
		return
	}

	if protocol.IsErrorPayload(env.Payload) {
		detail := protocol.ErrorDetail(env.Payload)
		m.logger.Warn().Str("detail", detail).Msg("State reset rejected")
		m.events.ConnError("state reset failed: " + detail)
		return
	}

	m.logger.Info().Msg("Extended state reset acknowledged")
	m.events.ExtendedStateReset()
	// The Gateway's state just changed shape; pull a fresh copy promptly
	m.resetSendGuard()
	m.requestExtendedState()
}

// requestExtendedState sends one extended-state request if none is pending
// and the send guard allows it. At most one request is ever in flight.
func (m *Manager) requestExtendedState() {
	if !m.isConnected() || m.pendingID != "" {
		return
	}
	method, ok := m.getCursor.Current()
	if !ok {
		return
	}
	if !m.sendGuard.Allow() {
		return
	}

	req := protocol.NewRequest(method, struct{}{})
	if err := m.conn.WriteJSON(req); err != nil {
		// Channel may already be closing; the pump will report it. Leave
		// the pending flag clear so the next cycle retries.
		m.logger.Debug().Err(err).Str("method", method).Msg("State request send failed")
		return
	}
	m.pendingID = req.ID
	m.pendingSentAt = m.now()
}

func (m *Manager) requestStateReset() {
	if !m.isConnected() || m.pendingResetID != "" {
		return
	}
	method, ok := m.resetCursor.Current()
	if !ok {
		return
	}

	req := protocol.NewRequest(method, struct{}{})
	if err := m.conn.WriteJSON(req); err != nil {
		m.logger.Debug().Err(err).Str("method", method).Msg("Reset request send failed")
		return
	}
	m.pendingResetID = req.ID
	m.pendingResetSentAt = m.now()
}

// handleClose runs the full disconnect transition and schedules the
// backoff-delayed reconnect.
func (m *Manager) handleClose(gen uint64, code int, reason string) {
	if gen != m.gen {
		return
	}
	m.teardownTransport()

	m.lastDisconnect = m.now()
	m.lastCloseCode = code
	m.lastCloseReason = reason
	m.connectedSince = time.Time{}
	m.setPhase(PhaseDisconnected)

	m.logger.Warn().Int("code", code).Str("reason", reason).Msg("Disconnected from gateway")

	// A new Gateway session may carry different extended config
	m.events.ExtendedStateReset()
	m.events.Disconnected(code, reason)

	if m.destroyed {
		return
	}

	delay := Delay(m.reconnectAttempt, m.cfg.ReconnectBase, m.cfg.ReconnectMax, m.cfg.JitterFraction, m.rnd)
	m.reconnectAttempt++

	m.logger.Info().Dur("delay", delay).Uint("attempt", m.reconnectAttempt).Msg("Reconnect scheduled")
	m.startCountdown(delay)
	m.reconnectTimer = time.NewTimer(delay)
}

func (m *Manager) handleReconnectDue() {
	m.stopCountdown()
	if m.destroyed || m.cfg.GatewayURL == "" {
		return
	}
	m.connect(m.cfg)
}

func (m *Manager) startCountdown(delay time.Duration) {
	m.stopCountdown()
	m.countdownRemaining = int(math.Ceil(delay.Seconds()))
	if m.countdownRemaining <= 0 {
		return
	}
	m.events.ReconnectCountdown(m.countdownRemaining)
	m.countdownTicker = time.NewTicker(time.Second)
}

func (m *Manager) handleCountdownTick() {
	if m.countdownRemaining <= 0 {
		m.stopCountdown()
		return
	}
	m.countdownRemaining--
	if m.countdownRemaining > 0 {
		m.events.ReconnectCountdown(m.countdownRemaining)
	}
}

func (m *Manager) stopCountdown() {
	if m.countdownTicker != nil {
		m.countdownTicker.Stop()
		m.countdownTicker = nil
	}
	m.countdownRemaining = 0
}

func (m *Manager) startStaleWatchdog() {
	if m.staleTicker != nil {
		m.staleTicker.Stop()
	}
	m.staleTicker = time.NewTicker(m.cfg.StaleCheckInterval)
}

func (m *Manager) handleStaleTick() {
	if !m.isConnected() {
		return
	}
	age := m.now().Sub(m.lastMessageAt)
	if age <= m.cfg.StaleTimeout {
		return
	}
	m.logger.Error().Dur("age", age).Msg("Connection stale, forcing close")
	m.events.ConnError("stale connection: no messages for " + age.Round(time.Second).String())
	// Close the transport; the pump reports the close, which drives the
	// ordinary backoff/reconnect path. Staleness is not terminal.
	m.conn.Close()
}

func (m *Manager) startPoller() {
	if m.pollTicker != nil {
		return
	}
	m.pollTicker = time.NewTicker(m.cfg.PollInterval)
	m.logger.Debug().Dur("interval", m.cfg.PollInterval).Msg("State poller started")
}

func (m *Manager) stopPoller() {
	if m.pollTicker != nil {
		m.pollTicker.Stop()
		m.pollTicker = nil
	}
}

func (m *Manager) resetSendGuard() {
	guard := m.cfg.SendGuard
	if guard <= 0 {
		guard = DefaultSendGuard
	}
	m.sendGuard = rate.NewLimiter(rate.Every(guard), 1)
}

// stopReconnectTimers cancels a pending reconnect and its countdown so two
// reconnect timelines can never overlap.
func (m *Manager) stopReconnectTimers() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopCountdown()
}

// teardownTransport closes the current channel without running the close
// transition: the generation bump makes the pump's close report a no-op.
// Idempotent and safe when no channel exists.
func (m *Manager) teardownTransport() {
	m.gen++
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.staleTicker != nil {
		m.staleTicker.Stop()
		m.staleTicker = nil
	}
	m.stopPoller()
	m.hasExtended = false
	m.handshakeID = ""
	m.pendingID = ""
	m.pendingSentAt = time.Time{}
	m.pendingResetID = ""
	m.pendingResetSentAt = time.Time{}
	if m.sendGuard == nil {
		m.resetSendGuard()
	}
}
