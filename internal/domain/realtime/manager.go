package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options configure a Manager. Zero durations take the defaults.
type Options struct {
	// URL builds the push endpoint for a user.
	URL func(userID string) (string, error)
	// Header returns extra handshake headers, e.g. Authorization.
	Header func() http.Header
	Dialer Dialer

	MinBackoff time.Duration
	MaxBackoff time.Duration
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration

	Logger *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = DefaultMinBackoff
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = DefaultMaxBackoff
		if o.MaxBackoff < o.MinBackoff {
			o.MaxBackoff = o.MinBackoff
		}
	}
	if o.PongWait <= 0 {
		o.PongWait = DefaultPongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = DefaultWriteWait
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Manager owns at most one push session. It is constructed once per
// authenticated client and is safe for concurrent use.
type Manager struct {
	opts    Options
	handler Handler

	mu   sync.Mutex
	sess *session
}

func NewManager(handler Handler, opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{opts: opts, handler: handler}
}

// Connect starts the session for userID. It is a no-op while a session for
// the same user exists; a different user replaces the current session.
func (m *Manager) Connect(userID string) error {
	if userID == "" {
		return ErrNoUserID
	}
	if m.opts.URL == nil {
		return ErrNoURL
	}

	m.mu.Lock()
	if m.sess != nil && m.sess.userID == userID {
		m.mu.Unlock()
		return nil
	}
	old := m.sess
	s := newSession(userID, m.handler, m.opts)
	m.sess = s
	m.mu.Unlock()

	if old != nil {
		m.opts.Logger.Info("switching push session user",
			zap.String("from", old.userID),
			zap.String("to", userID),
		)
		old.stop()
	}

	go s.run()
	return nil
}

// Teardown stops the session and waits for it to exit. Safe to call any
// number of times; a later Connect starts from a clean state.
func (m *Manager) Teardown() {
	m.mu.Lock()
	s := m.sess
	m.sess = nil
	m.mu.Unlock()

	if s != nil {
		s.stop()
	}
}

// State reports the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()

	if s == nil {
		return StateDisconnected
	}
	return s.State()
}

// UserID returns the user of the active session, if any.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return ""
	}
	return m.sess.userID
}

// Send writes an event on the live connection.
func (m *Manager) Send(ev Event) error {
	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()

	if s == nil {
		return ErrNotRunning
	}
	return s.send(ev)
}
