// Package websocket serves chat sessions over WebSocket connections.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/chaats/internal/domain"
	"github.com/nfrund/chaats/internal/events"
	"github.com/nfrund/chaats/internal/pubsub"
	"github.com/nfrund/chaats/internal/session"
)

// CookieName is the cookie checked for a token when the request carries
// neither an Authorization header nor a token query parameter.
const CookieName = "auth_token"

// Config tunes the sessions created by a Handler.
type Config struct {
	SendBuffer   int
	WriteTimeout time.Duration
	ReadLimit    int64
	FrameRate    float64
	FrameBurst   int
	// Origins are the accepted Origin patterns. Empty disables the check.
	Origins []string
}

// Handler upgrades HTTP requests into authenticated chat sessions.
type Handler struct {
	deps      session.Dependencies
	publisher pubsub.Publisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	closing  bool
	sessions map[*session.Session]struct{}
	wg       sync.WaitGroup
}

// NewHandler creates a Handler. Session lifecycle events are published on
// publisher when it is not nil, after any hooks already set in deps.
func NewHandler(deps session.Dependencies, publisher pubsub.Publisher, cfg Config) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		deps:      deps,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With("component", "websocket"),
		now:       time.Now,
		sessions:  make(map[*session.Session]struct{}),
	}
	h.deps.Hooks = h.wrapHooks(deps.Hooks)
	return h
}

func (h *Handler) wrapHooks(inner session.Hooks) session.Hooks {
	return session.Hooks{
		OnAuthenticated: func(s *session.Session) {
			if inner.OnAuthenticated != nil {
				inner.OnAuthenticated(s)
			}
			h.publishLifecycle(events.SessionConnected, s, "")
		},
		OnClosed: func(s *session.Session, reason string) {
			if inner.OnClosed != nil {
				inner.OnClosed(s, reason)
			}
			h.publishLifecycle(events.SessionDisconnected, s, reason)
		},
	}
}

func (h *Handler) publishLifecycle(event pubsub.Event[events.SessionLifecycle], s *session.Session, reason string) {
	if h.publisher == nil {
		return
	}
	id := s.Identity().ID
	payload := events.SessionLifecycle{
		SessionID: s.ID(),
		UserID:    id,
		At:        h.now().UTC(),
		Reason:    reason,
	}
	if err := pubsub.Publish(context.Background(), h.publisher, event, id.String(), payload); err != nil {
		h.logger.Error("Failed to publish session event", "event", event.Name(), "session_id", s.ID(), "error", err)
	}
}

func (h *Handler) acceptOptions() *websocket.AcceptOptions {
	if len(h.cfg.Origins) == 0 {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: h.cfg.Origins}
}

func (h *Handler) sessionOptions() []session.Option {
	return []session.Option{
		session.WithSendBuffer(h.cfg.SendBuffer),
		session.WithWriteTimeout(h.cfg.WriteTimeout),
		session.WithFrameRate(h.cfg.FrameRate, h.cfg.FrameBurst),
	}
}

// track adds s to the live set. It reports false once Shutdown has started.
func (h *Handler) track(s *session.Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.sessions[s] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(s *session.Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	h.wg.Done()
}

// Upgrade is the echo handler for the WebSocket endpoint. It blocks for the
// lifetime of the session.
func (h *Handler) Upgrade(c echo.Context) error {
	r := c.Request()
	hs := &handshake{w: c.Response(), r: r, opts: h.acceptOptions(), readLimit: h.cfg.ReadLimit}
	s := session.New(hs, h.deps, h.sessionOptions()...)

	if !h.track(s) {
		_ = hs.Reject(session.StatusGoingAway, "server shutting down")
		return nil
	}
	defer h.untrack(s)

	// The hijacked request context ends with this handler; sessions end on
	// their own close or on Shutdown.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	ident, err := s.Authenticate(ctx, Credential(r))
	if err != nil {
		if errors.Is(err, domain.ErrAuth) {
			h.logger.Info("WebSocket authentication rejected", "session_id", s.ID(), "remote_ip", c.RealIP(), "error", err)
		} else {
			h.logger.Warn("WebSocket upgrade failed", "session_id", s.ID(), "error", err)
		}
		return nil
	}

	h.logger.Debug("WebSocket session started", "session_id", s.ID(), "user_id", ident.ID)
	if err := s.Serve(ctx); err != nil {
		h.logger.Warn("WebSocket session ended with error", "session_id", s.ID(), "user_id", ident.ID, "error", err)
	}
	return nil
}

// Shutdown closes every live session with StatusGoingAway and waits for
// their handlers to return, or for ctx to end.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	live := make([]*session.Session, 0, len(h.sessions))
	for s := range h.sessions {
		live = append(live, s)
	}
	h.mu.Unlock()

	for _, s := range live {
		s.CloseWithStatus(session.StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Credential extracts the bearer token from r: the Authorization header,
// then the token query parameter, then the auth cookie.
func Credential(r *http.Request) string {
	if auth := r.Header.Get(echo.HeaderAuthorization); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}
