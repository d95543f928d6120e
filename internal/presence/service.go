// Package presence tracks which users are online from the session lifecycle
// events on the bus.
package presence

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nfrund/chaats/internal/domain"
	"github.com/nfrund/chaats/internal/events"
	"github.com/nfrund/chaats/internal/pubsub"
)

// OfflineDebounceDelay is the time to wait before marking a user as offline
// after their last session closes. Page reloads reconnect within it.
const OfflineDebounceDelay = 5 * time.Second

// Presence is the tracked state of one user.
type Presence struct {
	UserID   domain.UserID `json:"user_id"`
	Status   domain.Status `json:"status"`
	Sessions int           `json:"sessions"`
	Since    time.Time     `json:"since"`
}

type userState struct {
	sessions  map[string]struct{}
	since     time.Time
	announced domain.Status
	offline   *time.Timer // pending offline transition
	gen       uint64
}

// Tracker keeps userID -> set of session IDs. A user stays online while the
// offline debounce for their last session is pending.
type Tracker struct {
	mu    sync.RWMutex
	users map[domain.UserID]*userState

	publisher pubsub.Publisher
	logger    *slog.Logger
	debounce  time.Duration
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithOfflineDebounce sets the offline debounce. Zero marks users offline
// as soon as their last session closes.
func WithOfflineDebounce(d time.Duration) Option {
	return func(t *Tracker) {
		if d >= 0 {
			t.debounce = d
		}
	}
}

// WithLogger sets the tracker logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a Tracker that publishes events.PresenceUpdate on publisher.
func NewTracker(publisher pubsub.Publisher, opts ...Option) *Tracker {
	t := &Tracker{
		users:     make(map[domain.UserID]*userState),
		publisher: publisher,
		logger:    slog.Default(),
		debounce:  OfflineDebounceDelay,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "presence")
	return t
}

// Start subscribes the tracker to session lifecycle and status events.
func (t *Tracker) Start(ctx context.Context, sub pubsub.Subscriber) error {
	if err := pubsub.Subscribe(ctx, sub, events.SessionConnected, func(_ context.Context, ev events.SessionLifecycle) error {
		t.Connect(ev.UserID, ev.SessionID)
		return nil
	}); err != nil {
		return err
	}
	if err := pubsub.Subscribe(ctx, sub, events.SessionDisconnected, func(_ context.Context, ev events.SessionLifecycle) error {
		t.Disconnect(ev.UserID, ev.SessionID)
		return nil
	}); err != nil {
		return err
	}
	if err := pubsub.Subscribe(ctx, sub, events.UserStatus, func(_ context.Context, ev domain.StatusEvent) error {
		t.Announce(ev)
		return nil
	}); err != nil {
		return err
	}
	t.logger.Info("Presence tracker subscribed",
		"connected_topic", events.SessionConnected.Name(),
		"disconnected_topic", events.SessionDisconnected.Name())
	return nil
}

// Connect records sessionID for userID and cancels a pending offline transition.
func (t *Tracker) Connect(userID domain.UserID, sessionID string) {
	t.mu.Lock()
	st, exists := t.users[userID]
	if !exists {
		st = &userState{sessions: make(map[string]struct{}), since: t.now()}
		t.users[userID] = st
	}
	if st.offline != nil {
		st.offline.Stop()
		st.offline = nil
		t.logger.Debug("Cancelled offline debounce due to reconnection", "user_id", userID, "session_id", sessionID)
	}
	st.sessions[sessionID] = struct{}{}
	online := t.onlineLocked()
	t.mu.Unlock()

	if !exists {
		t.logger.Info("User came online", "user_id", userID, "session_id", sessionID)
		t.publish(online)
	}
}

// Disconnect removes sessionID. When it was the user's last session the user
// goes offline after the debounce.
func (t *Tracker) Disconnect(userID domain.UserID, sessionID string) {
	t.mu.Lock()
	st, exists := t.users[userID]
	if !exists {
		t.mu.Unlock()
		t.logger.Debug("Disconnect for untracked user", "user_id", userID, "session_id", sessionID)
		return
	}
	delete(st.sessions, sessionID)
	if len(st.sessions) > 0 || st.offline != nil {
		t.mu.Unlock()
		return
	}

	if t.debounce == 0 {
		delete(t.users, userID)
		online := t.onlineLocked()
		t.mu.Unlock()
		t.logger.Info("User went offline", "user_id", userID)
		t.publish(online)
		return
	}

	st.gen++
	gen := st.gen
	st.offline = time.AfterFunc(t.debounce, func() { t.expire(userID, gen) })
	t.mu.Unlock()
	t.logger.Debug("Scheduled offline transition", "user_id", userID, "delay", t.debounce)
}

func (t *Tracker) expire(userID domain.UserID, gen uint64) {
	t.mu.Lock()
	st, exists := t.users[userID]
	if !exists || st.offline == nil || st.gen != gen || len(st.sessions) > 0 {
		t.mu.Unlock()
		return
	}
	delete(t.users, userID)
	online := t.onlineLocked()
	t.mu.Unlock()

	t.logger.Info("User went offline after debounce period", "user_id", userID)
	t.publish(online)
}

// Announce records a client-announced status for an online user.
func (t *Tracker) Announce(ev domain.StatusEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.users[ev.UserID]; ok {
		st.announced = ev.Status
	}
}

// IsOnline reports whether userID is online.
func (t *Tracker) IsOnline(userID domain.UserID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.users[userID]
	return ok
}

// OnlineUsers returns the online user IDs in ascending order.
func (t *Tracker) OnlineUsers() []domain.UserID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onlineLocked()
}

// Presence returns the tracked state of userID.
func (t *Tracker) Presence(userID domain.UserID) (Presence, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.users[userID]
	if !ok {
		return Presence{}, false
	}
	status := domain.StatusOnline
	if st.announced != "" {
		status = st.announced
	}
	return Presence{UserID: userID, Status: status, Sessions: len(st.sessions), Since: st.since}, true
}

// Shutdown stops pending offline timers.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, st := range t.users {
		if st.offline != nil {
			st.offline.Stop()
			st.offline = nil
		}
	}
}

func (t *Tracker) onlineLocked() []domain.UserID {
	out := make([]domain.UserID, 0, len(t.users))
	for id := range t.users {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (t *Tracker) publish(online []domain.UserID) {
	if t.publisher == nil {
		return
	}
	err := pubsub.Publish(context.Background(), t.publisher, events.PresenceUpdate, "", events.PresenceChanged{
		Online: online,
		At:     t.now(),
	})
	if err != nil {
		t.logger.Error("Failed to publish presence update", "error", err, "topic", events.PresenceUpdate.Name())
	}
}
