package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type State int32

const (
	StateConnected State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type SessionOptions struct {
	// Relay rebroadcasts text frames received from the client to every other session.
	Relay bool
	// RelayRate limits relayed frames per second, RelayBurst is the bucket size.
	RelayRate  rate.Limit
	RelayBurst int
	// PingInterval of zero disables keepalive pings and the read deadline.
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
}

func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		RelayRate:    10,
		RelayBurst:   20,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
	}
}

var errSubscriptionClosed = errors.New("subscription closed")

// Session relays hub messages to one client connection and drains messages coming back from it.
type Session struct {
	id    string
	conn  Conn
	hub   *Hub
	opts  SessionOptions
	state atomic.Int32
}

func NewSession(conn Conn, hub *Hub, opts SessionOptions) *Session {
	return &Session{id: uuid.NewString(), conn: conn, hub: hub, opts: opts}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Run subscribes to the hub and runs the outbound and inbound loops until either fails or ctx is done. Whichever
// loop stops first closes the connection, which stops the other. The subscription is released before Run returns.
// A normal close from the client returns nil.
func (s *Session) Run(ctx context.Context) error {
	sub := s.hub.Subscribe()
	defer sub.Close()

	s.state.Store(int32(StateRunning))
	defer s.state.Store(int32(StateClosed))
	slog.Info("session started", "session", s.id, "subscribers", s.hub.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.conn.Close()
		return s.outbound(gctx, sub)
	})
	g.Go(func() error {
		defer s.conn.Close()
		return s.inbound(sub)
	})
	err := g.Wait()

	slog.Info("session closed", "session", s.id, "dropped", sub.Dropped(), "err", err)
	if err == nil || errors.Is(err, context.Canceled) || isNormalClose(err) {
		return nil
	}
	return err
}

func isNormalClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	}
	return false
}

func (s *Session) writeDeadline() time.Time {
	if s.opts.WriteWait <= 0 {
		return time.Time{}
	}
	return time.Now().Add(s.opts.WriteWait)
}

func (s *Session) outbound(ctx context.Context, sub *Subscription) error {
	var ping <-chan time.Time
	if s.opts.PingInterval > 0 {
		t := time.NewTicker(s.opts.PingInterval)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return errSubscriptionClosed
			}
			_ = s.conn.SetWriteDeadline(s.writeDeadline())
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return fmt.Errorf("failed to write message: %w", err)
			}
		case <-ping:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, s.writeDeadline()); err != nil {
				return fmt.Errorf("failed to write ping: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) inbound(sub *Subscription) error {
	if s.opts.PingInterval > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		})
	}
	var limiter *rate.Limiter
	if s.opts.Relay {
		limiter = rate.NewLimiter(s.opts.RelayRate, s.opts.RelayBurst)
	}
	for {
		mt, p, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
		slog.Debug("received message", "session", s.id, "type", mt, "bytes", len(p))
		if limiter == nil || mt != websocket.TextMessage {
			continue
		}
		if !limiter.Allow() {
			slog.Warn("relay rate exceeded, dropping message", "session", s.id)
			continue
		}
		s.hub.publishFrom(sub, string(p))
	}
}
