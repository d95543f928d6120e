// Package session implements the per-connection state machine:
// Unauthenticated -> Authenticated -> Closed, with Unauthenticated -> Closed
// for failed or abandoned handshakes.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nfrund/chaats/internal/domain"
	"github.com/nfrund/chaats/internal/hub"
	"github.com/nfrund/chaats/internal/metrics"
)

// State is the lifecycle state of a Session.
type State int32

const (
	Unauthenticated State = iota
	Authenticated
	Closed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// StatusCode is a WebSocket close status.
type StatusCode int

const (
	StatusNormalClosure   StatusCode = 1000
	StatusGoingAway       StatusCode = 1001
	StatusPolicyViolation StatusCode = 1008
	StatusInternalError   StatusCode = 1011
)

var (
	ErrNotAuthenticated = errors.New("session is not authenticated")
	ErrInvalidState     = errors.New("session is not awaiting authentication")
	ErrSessionClosed    = errors.New("session is closed")
	ErrSendBufferFull   = errors.New("session send buffer is full")
	ErrRateLimited      = errors.New("session frame rate exceeded")
)

// Conn is an accepted, bidirectional frame connection. Read returns io.EOF
// once the peer closed the connection normally.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
	Close(code StatusCode, reason string) error
}

// Handshake is a connection whose upgrade has not been completed yet. Exactly
// one of Accept or Reject is called.
type Handshake interface {
	Accept() (Conn, error)
	Reject(code StatusCode, reason string) error
}

// Registry is the part of the connection registry a session needs.
type Registry interface {
	Register(id domain.UserID, c hub.Client)
	Unregister(id domain.UserID, c hub.Client)
}

// Dispatcher handles one inbound frame of an authenticated peer.
type Dispatcher interface {
	Dispatch(ctx context.Context, from hub.Peer, frame []byte) error
}

// Hooks are notified of lifecycle transitions of authenticated sessions.
type Hooks struct {
	OnAuthenticated func(s *Session)
	OnClosed        func(s *Session, reason string)
}

// Dependencies are the collaborators every session needs.
type Dependencies struct {
	Provider   domain.IdentityProvider
	Registry   Registry
	Dispatcher Dispatcher
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Hooks      Hooks
}

// Option tunes a session.
type Option func(*Session)

// WithID overrides the generated session ID.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithSendBuffer sets the capacity of the outbound queue.
func WithSendBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.send = make(chan []byte, n)
		}
	}
}

// WithWriteTimeout bounds each write to the connection.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithFrameRate limits inbound frames to r per second with the given burst.
func WithFrameRate(r float64, burst int) Option {
	return func(s *Session) {
		if r > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(r), burst)
		}
	}
}

const (
	defaultSendBuffer   = 256
	defaultWriteTimeout = 10 * time.Second
)

var (
	authenticatedFrame = []byte(`{"authentication_status":"authenticated"}`)
	rateLimitedFrame   = []byte(`{"error":"rate limit exceeded"}`)
)

// Session owns one physical connection and, once authenticated, the
// identity of the user behind it.
type Session struct {
	id        string
	handshake Handshake
	deps      Dependencies
	logger    *slog.Logger

	mu       sync.RWMutex
	state    State
	identity domain.UserIdentity
	conn     Conn

	send         chan []byte
	writeTimeout time.Duration
	limiter      *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
}

// New opens a session for hs in the Unauthenticated state. The transport is
// not accepted until Authenticate succeeds.
func New(hs Handshake, deps Dependencies, opts ...Option) *Session {
	s := &Session{
		id:           uuid.NewString(),
		handshake:    hs,
		deps:         deps,
		state:        Unauthenticated,
		send:         make(chan []byte, defaultSendBuffer),
		writeTimeout: defaultWriteTimeout,
		limiter:      rate.NewLimiter(rate.Inf, 0),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger.With("component", "session", "session_id", s.id)
	return s
}

// ID returns the unique session ID.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Identity returns the authenticated identity. It is the zero value before
// authentication.
func (s *Session) Identity() domain.UserIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Authenticate verifies credential with the identity provider. On success
// the transport is accepted, the session is registered under the user and
// an authenticated frame is queued. On failure the handshake is rejected
// with StatusPolicyViolation and the returned error wraps domain.ErrAuth.
func (s *Session) Authenticate(ctx context.Context, credential string) (domain.UserIdentity, error) {
	switch st := s.State(); st {
	case Unauthenticated:
	case Closed:
		return domain.UserIdentity{}, ErrSessionClosed
	default:
		return domain.UserIdentity{}, fmt.Errorf("authenticate in state %s: %w", st, ErrInvalidState)
	}

	ident, err := s.deps.Provider.Verify(ctx, credential)
	if err != nil {
		if !errors.Is(err, domain.ErrAuth) {
			err = fmt.Errorf("%w: %w", domain.ErrAuth, err)
		}
		s.reject(StatusPolicyViolation, "authentication failed")
		s.deps.Metrics.AuthFailed()
		s.logger.Info("Authentication failed", "error", err)
		return domain.UserIdentity{}, err
	}

	if s.State() != Unauthenticated {
		// Closed while the provider round trip was in flight.
		if err := s.handshake.Reject(StatusGoingAway, "session closed"); err != nil {
			s.logger.Debug("Failed to reject handshake", "error", err)
		}
		return domain.UserIdentity{}, ErrSessionClosed
	}

	conn, err := s.handshake.Accept()
	if err != nil {
		s.markClosed()
		return domain.UserIdentity{}, fmt.Errorf("accept connection: %w", err)
	}

	logger := s.logger.With("user_id", ident.ID)
	s.mu.Lock()
	if s.state != Unauthenticated {
		s.mu.Unlock()
		_ = conn.Close(StatusGoingAway, "session closed")
		return domain.UserIdentity{}, ErrSessionClosed
	}
	s.conn = conn
	s.identity = ident
	s.state = Authenticated
	s.logger = logger
	s.deps.Registry.Register(ident.ID, s)
	s.mu.Unlock()

	go s.writePump(conn)

	if err := s.Send(authenticatedFrame); err != nil {
		s.logger.Warn("Failed to queue authentication status", "error", err)
	}
	s.deps.Metrics.SessionOpened()
	if h := s.deps.Hooks.OnAuthenticated; h != nil {
		h(s)
	}
	s.logger.Info("Session authenticated", "display_name", ident.DisplayName)
	return ident, nil
}

func (s *Session) reject(code StatusCode, reason string) {
	s.markClosed()
	if err := s.handshake.Reject(code, reason); err != nil {
		s.logger.Debug("Failed to reject handshake", "error", err)
	}
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.state = Closed
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
}

// Serve reads frames until the connection ends, dispatching them one at a
// time so a session's inbound stream is never reordered. The session is
// closed when Serve returns.
func (s *Session) Serve(ctx context.Context) error {
	s.mu.RLock()
	conn, state := s.conn, s.state
	s.mu.RUnlock()
	if state != Authenticated || conn == nil {
		return ErrNotAuthenticated
	}

	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				s.CloseWithStatus(StatusGoingAway, "server shutting down")
				return nil
			case errors.Is(err, io.EOF):
				s.CloseWithStatus(StatusNormalClosure, "client disconnected")
				return nil
			default:
				if s.State() == Closed {
					// Closed locally, e.g. by a failed write.
					return nil
				}
				s.CloseWithStatus(StatusInternalError, "read failed")
				return fmt.Errorf("read frame: %w", err)
			}
		}
		if err := s.Dispatch(ctx, frame); err != nil {
			s.logFrameError(err)
		}
	}
}

// Dispatch hands one inbound frame to the dispatcher. It is a no-op that
// returns ErrNotAuthenticated unless the session is authenticated.
func (s *Session) Dispatch(ctx context.Context, frame []byte) error {
	if s.State() != Authenticated {
		return ErrNotAuthenticated
	}
	if !s.limiter.Allow() {
		s.deps.Metrics.FrameError("rate_limited")
		_ = s.Send(rateLimitedFrame)
		return ErrRateLimited
	}
	return s.deps.Dispatcher.Dispatch(ctx, s, frame)
}

func (s *Session) logFrameError(err error) {
	switch {
	case errors.Is(err, domain.ErrProtocol):
		s.logger.Warn("Dropped malformed frame", "error", err)
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound):
		s.logger.Info("Rejected frame", "error", err)
	case errors.Is(err, ErrRateLimited):
		s.logger.Debug("Frame rate limited")
	default:
		s.logger.Error("Frame handling failed", "error", err)
	}
}

// Send queues payload for the write pump. It never blocks: a full queue is
// reported as ErrSendBufferFull so fan-out can drop a stuck session.
func (s *Session) Send(payload []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != Authenticated {
		return ErrSessionClosed
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close moves the session to Closed with a normal closure status.
func (s *Session) Close() {
	s.CloseWithStatus(StatusNormalClosure, "session closed")
}

// CloseWithStatus moves the session to Closed from any state, unregisters
// it if it was registered and closes the transport. Only the first call has
// an effect.
func (s *Session) CloseWithStatus(code StatusCode, reason string) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	wasAuthenticated := s.state == Authenticated
	s.state = Closed
	if wasAuthenticated {
		s.deps.Registry.Unregister(s.identity.ID, s)
	}
	conn := s.conn
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.done) })
	if conn != nil {
		if err := conn.Close(code, reason); err != nil {
			s.logger.Debug("Connection close returned error", "error", err)
		}
	}
	if wasAuthenticated {
		s.deps.Metrics.SessionClosed()
		if h := s.deps.Hooks.OnClosed; h != nil {
			h(s, reason)
		}
		s.logger.Info("Session closed", "reason", reason, "code", int(code))
	}
}

// writePump drains the outbound queue onto the connection until the session closes.
func (s *Session) writePump(conn Conn) {
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
			err := conn.Write(ctx, payload)
			cancel()
			if err != nil {
				s.logger.Warn("WebSocket write error", "error", err)
				s.CloseWithStatus(StatusInternalError, "write failed")
				return
			}
		}
	}
}
