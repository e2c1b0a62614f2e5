package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// session is one user's connection loop. It reconnects until stopped.
type session struct {
	userID  string
	handler Handler
	opts    Options
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	state atomic.Int32

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newSession(userID string, handler Handler, opts Options) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		userID:  userID,
		handler: handler,
		opts:    opts,
		logger:  opts.Logger.With(zap.String("user_id", userID)),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) setState(st State) {
	if State(s.state.Swap(int32(st))) != st {
		s.logger.Debug("push state", zap.Stringer("state", st))
	}
}

func (s *session) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.MinBackoff
	b.MaxInterval = s.opts.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (s *session) run() {
	defer close(s.done)
	defer s.setState(StateDisconnected)

	b := s.newBackoff()
	for {
		if s.ctx.Err() != nil {
			return
		}

		s.setState(StateConnecting)
		conn, err := s.dial()
		if err != nil {
			s.setState(StateDisconnected)
			s.logger.Warn("push connect failed", zap.Error(err))
			if !s.sleep(b.NextBackOff()) {
				return
			}
			continue
		}

		b.Reset()
		err = s.serve(conn)
		s.dropConn(conn)
		s.setState(StateDisconnected)

		if s.ctx.Err() != nil {
			return
		}
		s.logger.Info("push connection lost", zap.Error(err))
		if !s.sleep(b.NextBackOff()) {
			return
		}
	}
}

func (s *session) dial() (*websocket.Conn, error) {
	url, err := s.opts.URL(s.userID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if s.opts.Header != nil {
		header = s.opts.Header()
	}

	conn, resp, err := s.opts.Dialer.DialContext(s.ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.ctx.Err() != nil {
		conn.Close()
		return nil, s.ctx.Err()
	}
	s.conn = conn
	return conn, nil
}

// serve runs one connected period and returns when the connection drops.
func (s *session) serve(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	s.setState(StateConnected)

	join, err := NewEvent(EventJoin, s.userID)
	if err != nil {
		return err
	}
	if err := s.write(conn, join); err != nil {
		return err
	}
	s.logger.Info("push connected")
	s.handler.OnConnected(s.ctx, s.userID)

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(conn, stopPing)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil || ev.Name == "" {
			s.logger.Warn("dropping malformed push frame", zap.ByteString("frame", raw))
			continue
		}
		s.handler.OnEvent(s.ctx, ev.Name, ev.Data)
	}
}

func (s *session) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *session) write(conn *websocket.Conn, ev Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
	return conn.WriteJSON(ev)
}

func (s *session) send(ev Event) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	if conn == nil || s.State() != StateConnected {
		return ErrNotRunning
	}
	return s.write(conn, ev)
}

func (s *session) dropConn(conn *websocket.Conn) {
	s.connMu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.connMu.Unlock()
	conn.Close()
}

// sleep waits d or until the session is stopped.
func (s *session) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// stop cancels the session, closes the live connection and waits for the
// loop to exit. Must not be called from the session goroutine.
func (s *session) stop() {
	s.once.Do(func() {
		s.cancel()
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			s.conn.Close()
		}
		s.connMu.Unlock()
	})
	<-s.done
}
