package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prperemyshlev/chatsync/internal/config"
	"github.com/prperemyshlev/chatsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type wsServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	tokens   []string
	received chan Envelope
	reject   atomic.Bool
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{received: make(chan Envelope, 16)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		s.closeAll()
		s.Server.Close()
	})
	return s
}

func (s *wsServer) handle(w http.ResponseWriter, r *http.Request) {
	if s.reject.Load() {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.tokens = append(s.tokens, r.URL.Query().Get("token"))
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if env, err := Decode(data); err == nil {
			s.received <- env
		}
	}
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *wsServer) last() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[len(s.conns)-1]
}

func (s *wsServer) lastToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[len(s.tokens)-1]
}

func (s *wsServer) push(t *testing.T, event domain.Event, payload any) {
	t.Helper()
	frame, err := Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, s.last().WriteMessage(websocket.TextMessage, frame))
}

func (s *wsServer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
}

func testConfig(url string) config.RealtimeConfig {
	return config.RealtimeConfig{
		URL:              url,
		HandshakeTimeout: config.Duration{Duration: time.Second},
		PingInterval:     config.Duration{Duration: time.Second},
		WriteTimeout:     config.Duration{Duration: time.Second},
		ReconnectInitial: config.Duration{Duration: 10 * time.Millisecond},
		ReconnectMax:     config.Duration{Duration: 50 * time.Millisecond},
		InboxSize:        16,
	}
}

func newTestChannel(t *testing.T, url string, dialer Dialer) *Channel {
	t.Helper()
	if dialer == nil {
		dialer = NewWebsocketDialer(time.Second)
	}
	ch := NewChannel(testConfig(url), dialer, nil, zap.NewNop())
	t.Cleanup(ch.Close)
	return ch
}

type stateRecorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *stateRecorder) record(c StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *stateRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.To
	}
	return out
}

func (r *stateRecorder) lastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return nil
	}
	return r.changes[len(r.changes)-1].Err
}

func TestConnectSameTokenOpensOneTransport(t *testing.T) {
	srv := newWSServer(t)
	ch := newTestChannel(t, srv.url(), nil)
	ctx := context.Background()

	require.NoError(t, ch.Connect(ctx, "t1"))
	require.NoError(t, ch.Connect(ctx, "t1"))

	assert.Equal(t, Connected, ch.State())
	assert.Equal(t, int64(1), ch.TransportsOpened())
	assert.Eventually(t, func() bool { return srv.accepted() == 1 }, waitFor, tick)
	assert.Equal(t, "t1", srv.lastToken())
}

func TestConcurrentConnectsCoalesce(t *testing.T) {
	srv := newWSServer(t)
	ch := newTestChannel(t, srv.url(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ch.Connect(context.Background(), "t1"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), ch.TransportsOpened())
	assert.Equal(t, Connected, ch.State())
}

func TestConnectDifferentTokenReplacesTransport(t *testing.T) {
	srv := newWSServer(t)
	ch := newTestChannel(t, srv.url(), nil)
	ctx := context.Background()

	require.NoError(t, ch.Connect(ctx, "t1"))
	require.NoError(t, ch.Connect(ctx, "t2"))

	assert.Equal(t, int64(2), ch.TransportsOpened())
	assert.Eventually(t, func() bool { return srv.accepted() == 2 }, waitFor, tick)
	assert.Equal(t, "t2", srv.lastToken())
}

func TestConnectWithoutToken(t *testing.T) {
	ch := newTestChannel(t, "ws://unused", nil)
	assert.ErrorIs(t, ch.Connect(context.Background(), ""), domain.ErrNotAuthenticated)
	assert.Equal(t, Disconnected, ch.State())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	srv := newWSServer(t)
	ch := newTestChannel(t, srv.url(), nil)
	rec := &stateRecorder{}
	ch.OnStateChange(rec.record)

	ch.Disconnect()
	require.NoError(t, ch.Connect(context.Background(), "t1"))
	ch.Disconnect()
	ch.Disconnect()

	require.NoError(t, ch.Flush(context.Background()))
	assert.Equal(t, Disconnected, ch.State())
	assert.Equal(t, []State{Connecting, Connected, Disconnected}, rec.states())
}

func TestEventsReachEveryHandler(t *testing.T) {
	srv := newWSServer(t)
	ch := newTestChannel(t, srv.url(), nil)

	var first, second atomic.Int32
	disposeFirst := OnEvent(ch, domain.EventParticipantAdded, func(ev domain.ParticipantsEvent) {
		assert.Equal(t, "c9", ev.ConversationID)
		first.Add(1)
	})
	ch.On(domain.EventParticipantAdded, func(json.RawMessage) { second.Add(1) })

	require.NoError(t, ch.Connect(context.Background(), "t1"))
	require.Eventually(t, func() bool { return srv.accepted() == 1 }, waitFor, tick)

	srv.push(t, domain.EventParticipantAdded, domain.ParticipantsEvent{ConversationID: "c9", UserIDs: []string{"u2"}})
	require.Eventually(t, func() bool { return first.Load() == 1 && second.Load() == 1 }, waitFor, tick)

	disposeFirst()
	disposeFirst()

	srv.push(t, domain.EventParticipantAdded, domain.ParticipantsEvent{ConversationID: "c9"})
	require.Eventually(t, func() bool { return second.Load() == 2 }, waitFor, tick)
	assert.Equal(t, int32(1), first.Load())
}

func TestHandlerPanicDoesNotStopDelivery(t *testing.T) {
	srv := newWSServer(t)
	ch := newTestChannel(t, srv.url(), nil)

	var calls atomic.Int32
	ch.On(domain.EventMessageReceived, func(json.RawMessage) { panic("boom") })
	ch.On(domain.EventMessageReceived, func(json.RawMessage) { calls.Add(1) })

	require.NoError(t, ch.Connect(context.Background(), "t1"))
	require.Eventually(t, func() bool { return srv.accepted() == 1 }, waitFor, tick)

	srv.push(t, domain.EventMessageReceived, domain.MessageEvent{})
	srv.push(t, domain.EventMessageReceived, domain.MessageEvent{})

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, waitFor, tick)
}

func TestEmit(t *testing.T) {
	srv := newWSServer(t)
	ch := newTestChannel(t, srv.url(), nil)
	ctx := context.Background()

	assert.ErrorIs(t, ch.Emit(ctx, domain.EventReact, domain.ReactPayload{}), domain.ErrNotConnected)

	require.NoError(t, ch.Connect(ctx, "t1"))
	require.NoError(t, ch.Emit(ctx, domain.EventReact, domain.ReactPayload{MessageID: "m1", Emoji: "👍"}))

	select {
	case env := <-srv.received:
		assert.Equal(t, domain.EventReact, env.Type)
		var p domain.ReactPayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		assert.Equal(t, "m1", p.MessageID)
	case <-time.After(waitFor):
		t.Fatal("server did not receive the emitted event")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	srv := newWSServer(t)
	ch := newTestChannel(t, srv.url(), nil)
	rec := &stateRecorder{}
	ch.OnStateChange(rec.record)

	require.NoError(t, ch.Connect(context.Background(), "t1"))
	require.Eventually(t, func() bool { return srv.accepted() == 1 }, waitFor, tick)

	_ = srv.last().Close()

	require.Eventually(t, func() bool { return ch.TransportsOpened() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return ch.State() == Connected }, waitFor, tick)
	require.NoError(t, ch.Flush(context.Background()))
	assert.Equal(t, []State{Connecting, Connected, Reconnecting, Connected}, rec.states())
	assert.Equal(t, "t1", srv.lastToken())
}

func TestHandshakeRejected(t *testing.T) {
	srv := newWSServer(t)
	srv.reject.Store(true)
	ch := newTestChannel(t, srv.url(), nil)
	rec := &stateRecorder{}
	ch.OnStateChange(rec.record)

	err := ch.Connect(context.Background(), "expired")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, Disconnected, ch.State())

	require.NoError(t, ch.Flush(context.Background()))
	assert.ErrorIs(t, rec.lastErr(), domain.ErrUnauthorized)
	assert.Equal(t, int64(0), ch.TransportsOpened())
}

func TestServerAuthCloseIsFatal(t *testing.T) {
	srv := newWSServer(t)
	ch := newTestChannel(t, srv.url(), nil)
	rec := &stateRecorder{}
	ch.OnStateChange(rec.record)

	require.NoError(t, ch.Connect(context.Background(), "t1"))
	require.Eventually(t, func() bool { return srv.accepted() == 1 }, waitFor, tick)

	msg := websocket.FormatCloseMessage(CloseAuthRejected, "token revoked")
	require.NoError(t, srv.last().WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	require.Eventually(t, func() bool { return ch.State() == Disconnected }, waitFor, tick)
	require.NoError(t, ch.Flush(context.Background()))
	assert.ErrorIs(t, rec.lastErr(), domain.ErrUnauthorized)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), ch.TransportsOpened())
}

// blockingDialer hands out fake transports once released
type blockingDialer struct {
	dialing chan struct{}
	release chan struct{}
	conns   []*fakeConn
	mu      sync.Mutex
}

func (d *blockingDialer) Dial(ctx context.Context, url, token string) (Conn, error) {
	d.dialing <- struct{}{}
	<-d.release
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

type fakeConn struct {
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("closed")
}

func (c *fakeConn) WriteMessage(int, []byte) error            { return nil }
func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func TestDisconnectWhileDialingDiscardsTransport(t *testing.T) {
	dialer := &blockingDialer{dialing: make(chan struct{}, 1), release: make(chan struct{})}
	ch := newTestChannel(t, "ws://fake", dialer)

	result := make(chan error, 1)
	go func() { result <- ch.Connect(context.Background(), "t1") }()

	<-dialer.dialing
	ch.Disconnect()
	close(dialer.release)

	err := <-result
	assert.ErrorIs(t, err, domain.ErrSessionChanged)
	assert.Equal(t, Disconnected, ch.State())
	assert.Equal(t, int64(0), ch.TransportsOpened())

	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	require.Len(t, dialer.conns, 1)
	assert.True(t, dialer.conns[0].isClosed())
}
