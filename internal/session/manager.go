package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/mqtt-console/internal/policy"
)

// Session defaults.
const (
	// defaultClientIDPrefix matches the original web console's client IDs.
	defaultClientIDPrefix = "console-"

	// clientIDSuffixLen is the number of random characters after the prefix.
	clientIDSuffixLen = 8

	// defaultSweepInterval is how often pending entries are checked for
	// expiry when a pending timeout is configured.
	defaultSweepInterval = time.Second

	// reasonSessionEnded is the failure reason on entries flushed at logout.
	reasonSessionEnded = "session ended"

	// reasonReplaced is the end reason when a new login replaces a session.
	reasonReplaced = "replaced by new login"

	// reasonLogout is the end reason for an operator logout.
	reasonLogout = "logout"
)

// Logger is the logging interface used by the session package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Config tunes the Manager.
type Config struct {
	Rules          policy.Rules
	QoS            byte
	Correlation    Correlation
	PendingTimeout time.Duration
	SweepInterval  time.Duration
	ClientIDPrefix string
}

// session is the single active connection. It is created whole by Connect
// and dropped whole by teardown; identity never changes in place.
type session struct {
	generation    uint64
	identity      string
	class         policy.Class
	endpoint      Endpoint
	clientID      string
	conn          Conn
	presenceTopic string
	autoSub       string
	subscriptions []string
	connectedAt   time.Time
	stopSweep     chan struct{}
}

// Snapshot describes the session state at one point in time.
type Snapshot struct {
	Connected     bool      `json:"connected"`
	Identity      string    `json:"identity,omitempty"`
	Class         string    `json:"class,omitempty"`
	Endpoint      string    `json:"endpoint,omitempty"`
	ClientID      string    `json:"client_id,omitempty"`
	PresenceTopic string    `json:"presence_topic,omitempty"`
	ConnectedAt   time.Time `json:"connected_at,omitzero"`
	Subscriptions []string  `json:"subscriptions,omitempty"`
	Pending       int       `json:"pending"`
}

// Manager owns the one broker session and its pending-publish queue.
//
// Operator actions and transport callbacks all take the same lock, so
// policy checks, enqueues, acknowledgments and flushes never interleave.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Events are emitted with the lock held (see Sink).
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	dialer  Dialer
	sink    Sink
	logger  Logger
	tracker *Tracker
	now     func() time.Time

	current    *session
	generation uint64
}

// NewManager creates a Manager with no session.
func NewManager(cfg Config, dialer Dialer, sink Sink) *Manager {
	if sink == nil {
		sink = discardSink{}
	}
	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = defaultClientIDPrefix
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	m := &Manager{
		cfg:    cfg,
		dialer: dialer,
		sink:   sink,
		logger: nopLogger{},
		now:    time.Now,
	}
	m.tracker = NewTracker(cfg.Rules, cfg.QoS, cfg.Correlation, sink, m.logger)
	m.tracker.SetPendingTimeout(cfg.PendingTimeout)
	return m
}

// SetLogger sets the logger for the manager and its tracker.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = nopLogger{}
	}
	m.mu.Lock()
	m.logger = logger
	m.tracker.logger = logger
	m.mu.Unlock()
}

// Connect opens a session for creds.Username.
//
// On success it publishes the retained online presence to the Last Will
// topic, issues the auto-subscription and emits SessionEstablished. On
// failure it emits SessionFailed and returns a *ConnectError.
//
// An identity the policy refuses is rejected before anything changes, and
// the current session, if any, stays up. Otherwise the current session is
// ended before dialing, so a dial failure leaves no session.
func (m *Manager) Connect(ctx context.Context, creds Credentials, endpoint Endpoint) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity := creds.Username

	// An identity refused locally never reaches the broker, so the live
	// session and its queue are left untouched.
	will, err := m.cfg.Rules.LastWill(identity)
	if err != nil {
		return m.snapshotLocked(), m.connectFailed(identity, &ConnectError{
			Kind:   KindInvalidCredentials,
			Detail: err.Error(),
			Err:    fmt.Errorf("%w: %w", ErrInvalidCredentials, err),
		})
	}

	if m.current != nil {
		m.teardown(ErrSessionEnded, reasonReplaced, true)
	}

	m.generation++
	gen := m.generation
	clientID := m.cfg.ClientIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:clientIDSuffixLen]

	m.logger.Info("connecting",
		"identity", identity,
		"endpoint", endpoint.String(),
		"client_id", clientID,
	)

	conn, err := m.dialer.Dial(ctx, DialOptions{
		Endpoint: endpoint,
		ClientID: clientID,
		Username: identity,
		Password: creds.Password,
		Will:     will,
		Handlers: m.handlersFor(gen),
	})
	if err != nil {
		return Snapshot{}, m.connectFailed(identity, classifyConnectError(err))
	}

	s := &session{
		generation:    gen,
		identity:      identity,
		class:         m.cfg.Rules.Classify(identity),
		endpoint:      endpoint,
		clientID:      clientID,
		conn:          conn,
		presenceTopic: will.Topic,
		autoSub:       m.cfg.Rules.AutoSubscription(identity),
		connectedAt:   m.now(),
	}
	m.current = s

	online := policy.OnlinePayload(identity, clientID, s.connectedAt)
	if err := conn.Publish(Message{Topic: will.Topic, Payload: online, QoS: will.QoS, Retained: true}); err != nil {
		m.logger.Warn("online presence not published", "topic", will.Topic, "error", err)
	}

	if err := conn.Subscribe(s.autoSub, m.cfg.QoS); err != nil {
		m.logger.Warn("auto-subscription failed", "pattern", s.autoSub, "error", err)
	} else {
		s.subscriptions = append(s.subscriptions, s.autoSub)
		m.sink.Emit(Subscribed{Pattern: s.autoSub, Auto: true})
	}

	if m.cfg.PendingTimeout > 0 {
		s.stopSweep = make(chan struct{})
		go m.sweepLoop(gen, s.stopSweep)
	}

	m.sink.Emit(SessionEstablished{
		Identity:         identity,
		Endpoint:         endpoint.String(),
		ClientID:         clientID,
		AutoSubscription: s.autoSub,
		At:               s.connectedAt,
	})
	m.logger.Info("session established",
		"identity", identity,
		"class", s.class.String(),
		"auto_subscription", s.autoSub,
	)

	return m.snapshotLocked(), nil
}

// Disconnect ends the active session: it publishes an offline presence and
// closes the transport, both best effort, then fails every pending publish
// with "session ended". It returns ErrNoSession if nothing was active.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ErrNoSession
	}
	m.teardown(ErrSessionEnded, reasonLogout, true)
	return nil
}

// Close ends any active session. It is safe to call more than once.
func (m *Manager) Close() error {
	if err := m.Disconnect(); err != nil && !errors.Is(err, ErrNoSession) {
		return err
	}
	return nil
}

// Publish submits an operator publish on the active session.
//
// It never blocks on the broker. The returned record is Pending if the
// message was sent, or Failed if it was refused locally, by the transport,
// or because no session is active.
func (m *Manager) Publish(topic string, payload []byte) Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		now := m.now()
		rec := Record{
			Topic:      topic,
			Payload:    payload,
			CreatedAt:  now,
			ResolvedAt: now,
			Status:     StatusFailed,
			Reason:     "not connected",
			Err:        ErrNoSession,
		}
		m.sink.Emit(PublishResolved{Record: rec})
		return rec
	}

	return m.tracker.Submit(m.current.conn, m.current.identity, topic, payload)
}

// Subscribe adds an operator subscription to the active session.
func (m *Manager) Subscribe(pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ErrNoSession
	}
	if pattern == "" {
		return fmt.Errorf("%w: empty pattern", ErrInvalidInput)
	}

	if err := m.current.conn.Subscribe(pattern, m.cfg.QoS); err != nil {
		return fmt.Errorf("subscribing to %q: %w", pattern, err)
	}

	for _, p := range m.current.subscriptions {
		if p == pattern {
			return nil
		}
	}
	m.current.subscriptions = append(m.current.subscriptions, pattern)
	m.sink.Emit(Subscribed{Pattern: pattern})
	m.logger.Info("subscribed", "pattern", pattern)
	return nil
}

// Status returns a snapshot of the session.
func (m *Manager) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Pending returns the pending publishes, oldest first.
func (m *Manager) Pending() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.Snapshot()
}

// IsConnected reports whether a session is active.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// HealthCheck returns ErrNoSession when no session is active.
func (m *Manager) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("session health check: %w", ctx.Err())
	default:
	}
	if !m.IsConnected() {
		return ErrNoSession
	}
	return nil
}

// handlersFor binds transport callbacks to one session generation.
func (m *Manager) handlersFor(gen uint64) Handlers {
	return Handlers{
		OnConnectionLost: func(err error) {
			m.handleConnectionLost(gen, err)
		},
		OnDeliveryAcknowledged: func(id string) {
			m.handleAcknowledged(gen, id)
		},
		OnDeliveryFailed: func(id string, err error) {
			m.handleDeliveryFailed(gen, id, err)
		},
		OnMessageArrived: func(topic string, payload []byte) {
			m.handleMessage(gen, topic, payload)
		},
	}
}

// activeLocked reports whether gen is the live session.
func (m *Manager) activeLocked(gen uint64) bool {
	return m.current != nil && m.current.generation == gen
}

// handleConnectionLost fails all pending publishes, emits SessionLost and
// drops the session. It is a no-op when the session is already gone.
func (m *Manager) handleConnectionLost(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.activeLocked(gen) {
		return
	}

	reason := "connection lost"
	if err != nil {
		reason = err.Error()
	}

	identity := m.current.identity
	m.logger.Warn("connection lost", "identity", identity, "error", err, "pending", m.tracker.Len())

	m.tracker.FlushAsFailed(fmt.Errorf("%w: %s", ErrConnectionLost, reason), reason)
	m.sink.Emit(SessionLost{Identity: identity, Reason: reason})
	m.teardown(nil, "", false)
}

func (m *Manager) handleAcknowledged(gen uint64, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.activeLocked(gen) {
		m.logger.Debug("acknowledgment after session end ignored", "id", id)
		return
	}
	m.tracker.Acknowledge(id)
}

func (m *Manager) handleDeliveryFailed(gen uint64, id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.activeLocked(gen) {
		return
	}
	m.tracker.Fail(id, err)
}

func (m *Manager) handleMessage(gen uint64, topic string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.activeLocked(gen) {
		return
	}
	m.sink.Emit(MessageReceived{Topic: topic, Payload: payload, At: m.now()})
}

// sweepLoop expires stale pending entries until stop is closed.
func (m *Manager) sweepLoop(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(gen)
		case <-stop:
			return
		}
	}
}

func (m *Manager) sweep(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.activeLocked(gen) {
		return
	}
	if expired := m.tracker.Expire(); len(expired) > 0 {
		m.logger.Warn("pending publishes expired", "count", len(expired))
	}
}

// teardown drops the current session. With closeConn it first publishes an
// offline presence and closes the transport, swallowing any error, then
// flushes the queue with cause and emits SessionEnded. Without closeConn
// the caller has already flushed and reported the loss.
func (m *Manager) teardown(cause error, reason string, closeConn bool) {
	s := m.current
	m.current = nil

	if s.stopSweep != nil {
		close(s.stopSweep)
	}

	if !closeConn {
		return
	}

	offline := policy.OfflinePayload(s.identity, s.clientID, m.now())
	if err := s.conn.Publish(Message{Topic: s.presenceTopic, Payload: offline, QoS: 1, Retained: true}); err != nil {
		m.logger.Debug("offline presence not published", "error", err)
	}
	s.conn.Disconnect()

	m.tracker.FlushAsFailed(cause, reasonSessionEnded)
	m.sink.Emit(SessionEnded{Identity: s.identity, Reason: reason})
	m.logger.Info("session ended", "identity", s.identity, "reason", reason)
}

func (m *Manager) connectFailed(identity string, ce *ConnectError) *ConnectError {
	m.sink.Emit(SessionFailed{
		Identity: identity,
		Error:    ce.Kind,
		KindName: ce.Kind.String(),
		Detail:   ce.Detail,
		Guidance: ce.Guidance(),
	})
	m.logger.Warn("connect failed", "identity", identity, "kind", ce.Kind.String(), "error", ce.Err)
	return ce
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{Pending: m.tracker.Len()}
	s := m.current
	if s == nil {
		return snap
	}

	snap.Connected = true
	snap.Identity = s.identity
	snap.Class = s.class.String()
	snap.Endpoint = s.endpoint.String()
	snap.ClientID = s.clientID
	snap.PresenceTopic = s.presenceTopic
	snap.ConnectedAt = s.connectedAt
	snap.Subscriptions = append([]string(nil), s.subscriptions...)
	return snap
}
