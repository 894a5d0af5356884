package realtime

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	mt int
	p  []byte
}

// fakeConn stands in for a websocket: frames pushed to in are read by the session, writes land on out.
type fakeConn struct {
	in       chan frame
	out      chan string
	closed   chan struct{}
	once     sync.Once
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan frame, 10), out: make(chan string, 100), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return f.mt, f.p, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(mt int, p []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	c.out <- string(p)
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *fakeConn) SetPongHandler(func(string) error)         {}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) next(t *testing.T) string {
	t.Helper()
	select {
	case m := <-c.out:
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for write")
		return ""
	}
}

func startSession(t *testing.T, conn Conn, hub *Hub, opts SessionOptions) (*Session, chan error) {
	t.Helper()
	s := NewSession(conn, hub, opts)
	assert.Equal(t, StateConnected, s.State())
	done := make(chan error, 1)
	before := hub.Len()
	go func() { done <- s.Run(context.Background()) }()
	require.Eventually(t, func() bool { return hub.Len() == before+1 }, time.Second, time.Millisecond)
	return s, done
}

func wait(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
		return nil
	}
}

func TestSession_forwards_broadcasts(t *testing.T) {
	hub := NewHub(10)
	conn := newFakeConn()
	s, done := startSession(t, conn, hub, SessionOptions{})
	assert.Equal(t, StateRunning, s.State())

	hub.Publish("hello")
	hub.Publish("world")
	assert.Equal(t, "hello", conn.next(t))
	assert.Equal(t, "world", conn.next(t))

	// client hangs up
	close(conn.in)
	assert.ErrorIs(t, wait(t, done), io.EOF)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, hub.Len())
}

func TestSession_inbound_not_relayed_by_default(t *testing.T) {
	hub := NewHub(10)
	conn := newFakeConn()
	_, done := startSession(t, conn, hub, SessionOptions{})
	other := hub.Subscribe()
	defer other.Close()

	conn.in <- frame{websocket.TextMessage, []byte("just saying")}
	hub.Publish("marker")
	assert.Equal(t, "marker", receive(t, other))
	assertEmpty(t, other)

	conn.in <- frame{websocket.CloseMessage, nil}
	close(conn.in)
	_ = wait(t, done)
}

func TestSession_relay_to_others(t *testing.T) {
	hub := NewHub(10)
	opts := SessionOptions{Relay: true, RelayRate: 100, RelayBurst: 100}
	a := newFakeConn()
	_, doneA := startSession(t, a, hub, opts)
	b := newFakeConn()
	_, doneB := startSession(t, b, hub, opts)

	a.in <- frame{websocket.TextMessage, []byte("from a")}
	assert.Equal(t, "from a", b.next(t))
	a.in <- frame{websocket.BinaryMessage, []byte{1, 2}}
	hub.Publish("sync")
	assert.Equal(t, "sync", a.next(t))
	assert.Equal(t, "sync", b.next(t))
	select {
	case m := <-a.out:
		t.Fatalf("sender received %q", m)
	default:
	}

	close(a.in)
	close(b.in)
	_ = wait(t, doneA)
	_ = wait(t, doneB)
	assert.Equal(t, 0, hub.Len())
}

func TestSession_relay_rate_limited(t *testing.T) {
	hub := NewHub(10)
	a := newFakeConn()
	_, done := startSession(t, a, hub, SessionOptions{Relay: true, RelayRate: 0, RelayBurst: 1})
	other := hub.Subscribe()
	defer other.Close()

	a.in <- frame{websocket.TextMessage, []byte("1")}
	a.in <- frame{websocket.TextMessage, []byte("2")}
	assert.Equal(t, "1", receive(t, other))
	close(a.in)
	_ = wait(t, done)
	assertEmpty(t, other)
}

func TestSession_write_failure_closes(t *testing.T) {
	hub := NewHub(10)
	conn := newFakeConn()
	conn.writeErr = errors.New("broken pipe")
	s, done := startSession(t, conn, hub, SessionOptions{})

	hub.Publish("boom")
	err := wait(t, done)
	assert.ErrorContains(t, err, "broken pipe")
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, hub.Len())
}

func TestSession_normal_close_is_nil(t *testing.T) {
	hub := NewHub(10)
	conn := &closingConn{fakeConn: newFakeConn()}
	_, done := startSession(t, conn, hub, SessionOptions{})
	conn.in <- frame{}
	assert.NoError(t, wait(t, done))
}

// closingConn reports a normal close frame on the first read.
type closingConn struct {
	*fakeConn
}

func (c *closingConn) ReadMessage() (int, []byte, error) {
	<-c.in
	return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
}

func TestSession_context_cancel(t *testing.T) {
	hub := NewHub(10)
	conn := newFakeConn()
	s := NewSession(conn, hub, DefaultSessionOptions())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, wait(t, done))
	assert.Equal(t, "closed", s.State().String())
}
