package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// State of the push connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventJoin is sent by the client on every (re)connect.
const EventJoin = "join"

// Event is the push channel envelope.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes data into an envelope.
func NewEvent(name string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: raw}, nil
}

// Handler receives push traffic. Calls come from the session goroutine, one
// at a time. A Handler must not call Manager.Connect or Manager.Teardown.
type Handler interface {
	OnConnected(ctx context.Context, userID string)
	OnEvent(ctx context.Context, name string, data json.RawMessage)
}

// Dialer opens websocket connections. *websocket.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

var (
	ErrNoURL      = errors.New("push url is not configured")
	ErrNoUserID   = errors.New("user id is required")
	ErrNotRunning = errors.New("no active push connection")
)

const (
	DefaultMinBackoff = 1 * time.Second
	DefaultMaxBackoff = 5 * time.Second
	DefaultPongWait   = 60 * time.Second
	DefaultWriteWait  = 10 * time.Second

	maxMessageSize = 1 << 20
)
