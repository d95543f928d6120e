package session_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chaats/internal/domain"
	"github.com/nfrund/chaats/internal/hub"
	"github.com/nfrund/chaats/internal/logging"
	"github.com/nfrund/chaats/internal/session"
)

type fakeConn struct {
	in       chan []byte
	out      chan []byte
	closed   chan struct{}
	once     sync.Once
	code     atomic.Int32
	closes   atomic.Int32
	writeErr error
	gate     chan struct{}
	writing  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 16),
		out:     make(chan []byte, 64),
		closed:  make(chan struct{}),
		writing: make(chan struct{}, 64),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case f, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Write(ctx context.Context, p []byte) error {
	c.writing <- struct{}{}
	if c.writeErr != nil {
		return c.writeErr
	}
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.out <- p
	return nil
}

func (c *fakeConn) Close(code session.StatusCode, _ string) error {
	c.closes.Add(1)
	c.once.Do(func() {
		c.code.Store(int32(code))
		close(c.closed)
	})
	return nil
}

type fakeHandshake struct {
	conn     *fakeConn
	accepted atomic.Bool
	rejected atomic.Int32
}

func (h *fakeHandshake) Accept() (session.Conn, error) {
	h.accepted.Store(true)
	return h.conn, nil
}

func (h *fakeHandshake) Reject(code session.StatusCode, _ string) error {
	h.rejected.Store(int32(code))
	return nil
}

type fakeProvider struct {
	users   map[string]domain.UserIdentity
	gate    chan struct{}
	entered chan struct{}
}

func (p *fakeProvider) Verify(_ context.Context, credential string) (domain.UserIdentity, error) {
	if p.entered != nil {
		close(p.entered)
	}
	if p.gate != nil {
		<-p.gate
	}
	ident, ok := p.users[credential]
	if !ok {
		return domain.UserIdentity{}, fmt.Errorf("%w: unknown token", domain.ErrAuth)
	}
	return ident, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	frames []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, from hub.Peer, frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, fmt.Sprintf("%d:%s", from.Identity().ID, frame))
	return nil
}

func (d *recordingDispatcher) seen() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.frames...)
}

var alice = domain.UserIdentity{ID: 1, DisplayName: "alice"}

type fixture struct {
	hs         *fakeHandshake
	conn       *fakeConn
	provider   *fakeProvider
	reg        *hub.Registry
	dispatcher *recordingDispatcher
	opened     atomic.Int32
	closed     atomic.Int32
	sess       *session.Session
}

func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()
	f := &fixture{
		conn:       newFakeConn(),
		provider:   &fakeProvider{users: map[string]domain.UserIdentity{"good": alice}},
		reg:        hub.New(hub.WithLogger(logging.Discard())),
		dispatcher: &recordingDispatcher{},
	}
	f.hs = &fakeHandshake{conn: f.conn}
	f.sess = session.New(f.hs, session.Dependencies{
		Provider:   f.provider,
		Registry:   f.reg,
		Dispatcher: f.dispatcher,
		Logger:     logging.Discard(),
		Hooks: session.Hooks{
			OnAuthenticated: func(*session.Session) { f.opened.Add(1) },
			OnClosed:        func(*session.Session, string) { f.closed.Add(1) },
		},
	}, opts...)
	t.Cleanup(f.sess.Close)
	return f
}

func nextFrame(t *testing.T, c *fakeConn) string {
	t.Helper()
	select {
	case p := <-c.out:
		return string(p)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return ""
	}
}

func TestSession_AuthenticateSuccess(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, session.Unauthenticated, f.sess.State())
	require.NotEmpty(t, f.sess.ID())

	ident, err := f.sess.Authenticate(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, alice, ident)
	assert.Equal(t, alice, f.sess.Identity())
	assert.Equal(t, session.Authenticated, f.sess.State())
	assert.True(t, f.hs.accepted.Load())
	assert.True(t, f.reg.Online(alice.ID))
	assert.Equal(t, int32(1), f.opened.Load())

	assert.JSONEq(t, `{"authentication_status":"authenticated"}`, nextFrame(t, f.conn))
}

func TestSession_AuthenticateFailureRejectsWithPolicyViolation(t *testing.T) {
	f := newFixture(t)

	_, err := f.sess.Authenticate(context.Background(), "forged")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.Equal(t, int32(session.StatusPolicyViolation), f.hs.rejected.Load())
	assert.False(t, f.hs.accepted.Load())
	assert.Equal(t, session.Closed, f.sess.State())
	assert.Zero(t, f.reg.Len())
	assert.Zero(t, f.opened.Load())

	select {
	case <-f.sess.Done():
	default:
		t.Fatal("session should be done after a failed authentication")
	}

	assert.ErrorIs(t, f.sess.Dispatch(context.Background(), []byte(`{"action":"list_users"}`)), session.ErrNotAuthenticated)
	assert.Empty(t, f.dispatcher.seen())
}

func TestSession_AuthenticateTwice(t *testing.T) {
	f := newFixture(t)
	_, err := f.sess.Authenticate(context.Background(), "good")
	require.NoError(t, err)

	_, err = f.sess.Authenticate(context.Background(), "good")
	assert.ErrorIs(t, err, session.ErrInvalidState)
	assert.Equal(t, 1, f.reg.Len())
}

func TestSession_DispatchBeforeAuthentication(t *testing.T) {
	f := newFixture(t)
	err := f.sess.Dispatch(context.Background(), []byte(`{"action":"direct_message"}`))
	assert.ErrorIs(t, err, session.ErrNotAuthenticated)
	assert.Empty(t, f.dispatcher.seen())
	assert.ErrorIs(t, f.sess.Send([]byte("x")), session.ErrSessionClosed)
}

func TestSession_ServeDispatchesInOrderAndClosesOnEOF(t *testing.T) {
	f := newFixture(t)
	_, err := f.sess.Authenticate(context.Background(), "good")
	require.NoError(t, err)

	f.conn.in <- []byte("one")
	f.conn.in <- []byte("two")
	f.conn.in <- []byte("three")
	close(f.conn.in)

	require.NoError(t, f.sess.Serve(context.Background()))
	assert.Equal(t, []string{"1:one", "1:two", "1:three"}, f.dispatcher.seen())
	assert.Equal(t, session.Closed, f.sess.State())
	assert.False(t, f.reg.Online(alice.ID))
	assert.Equal(t, int32(1), f.closed.Load())
	assert.Equal(t, int32(session.StatusNormalClosure), f.conn.code.Load())
}

func TestSession_ServeStopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	_, err := f.sess.Authenticate(context.Background(), "good")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sess.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, int32(session.StatusGoingAway), f.conn.code.Load())
}

func TestSession_ServeRequiresAuthentication(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.sess.Serve(context.Background()), session.ErrNotAuthenticated)
}

func TestSession_SendBufferFull(t *testing.T) {
	f := newFixture(t, session.WithSendBuffer(1), session.WithWriteTimeout(time.Minute))
	f.conn.gate = make(chan struct{})
	t.Cleanup(func() { close(f.conn.gate) })

	_, err := f.sess.Authenticate(context.Background(), "good")
	require.NoError(t, err)

	// The pump is now parked writing the authentication frame.
	select {
	case <-f.conn.writing:
	case <-time.After(2 * time.Second):
		t.Fatal("write pump never started")
	}

	require.NoError(t, f.sess.Send([]byte("queued")))
	assert.ErrorIs(t, f.sess.Send([]byte("overflow")), session.ErrSendBufferFull)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	_, err := f.sess.Authenticate(context.Background(), "good")
	require.NoError(t, err)

	f.sess.Close()
	f.sess.Close()
	f.sess.CloseWithStatus(session.StatusGoingAway, "again")

	assert.Equal(t, int32(1), f.closed.Load())
	assert.Equal(t, int32(1), f.conn.closes.Load())
	assert.Zero(t, f.reg.Len())
	assert.ErrorIs(t, f.sess.Send([]byte("late")), session.ErrSessionClosed)
}

func TestSession_WriteFailureClosesSession(t *testing.T) {
	f := newFixture(t)
	f.conn.writeErr = errors.New("broken pipe")

	_, err := f.sess.Authenticate(context.Background(), "good")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.sess.State() == session.Closed
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, f.reg.Online(alice.ID))
	assert.Equal(t, int32(session.StatusInternalError), f.conn.code.Load())
}

func TestSession_FrameRateLimit(t *testing.T) {
	f := newFixture(t, session.WithFrameRate(0.001, 2))
	_, err := f.sess.Authenticate(context.Background(), "good")
	require.NoError(t, err)
	assert.JSONEq(t, `{"authentication_status":"authenticated"}`, nextFrame(t, f.conn))

	ctx := context.Background()
	require.NoError(t, f.sess.Dispatch(ctx, []byte("a")))
	require.NoError(t, f.sess.Dispatch(ctx, []byte("b")))
	assert.ErrorIs(t, f.sess.Dispatch(ctx, []byte("c")), session.ErrRateLimited)

	assert.Equal(t, []string{"1:a", "1:b"}, f.dispatcher.seen())
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, nextFrame(t, f.conn))
}

func TestSession_CloseDuringVerification(t *testing.T) {
	f := newFixture(t)
	f.provider.gate = make(chan struct{})

	result := make(chan error, 1)
	go func() {
		_, err := f.sess.Authenticate(context.Background(), "good")
		result <- err
	}()

	f.sess.Close()
	close(f.provider.gate)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, session.ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Authenticate did not return")
	}
	assert.Zero(t, f.reg.Len())
	assert.Zero(t, f.opened.Load())
}

func TestSession_ClosedDuringVerificationNeverAccepts(t *testing.T) {
	f := newFixture(t)
	f.provider.gate = make(chan struct{})
	f.provider.entered = make(chan struct{})

	result := make(chan error, 1)
	go func() {
		_, err := f.sess.Authenticate(context.Background(), "good")
		result <- err
	}()

	select {
	case <-f.provider.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("verification did not start")
	}
	f.sess.Close()
	close(f.provider.gate)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, session.ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Authenticate did not return")
	}
	assert.False(t, f.hs.accepted.Load(), "a closed session must not complete the upgrade")
	assert.Equal(t, int32(session.StatusGoingAway), f.hs.rejected.Load())
	assert.Zero(t, f.reg.Len())
	assert.Zero(t, f.opened.Load())
}

func TestSession_ConcurrentCloseAfterAuthenticate(t *testing.T) {
	for i := 0; i < 200; i++ {
		f := newFixture(t)
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for !f.reg.Online(alice.ID) {
				time.Sleep(time.Microsecond)
			}
			for _, c := range f.reg.SessionsFor(alice.ID) {
				c.Close()
			}
		}()

		_, err := f.sess.Authenticate(context.Background(), "good")
		require.NoError(t, err)
		<-closed
		assert.Equal(t, session.Closed, f.sess.State())
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unauthenticated", session.Unauthenticated.String())
	assert.Equal(t, "authenticated", session.Authenticated.String())
	assert.Equal(t, "closed", session.Closed.String())
	assert.Equal(t, "state(9)", session.State(9).String())
}
