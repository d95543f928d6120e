// Package chat implements the actions an authenticated session can send:
// direct messages, history, typing, status and profile queries.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nfrund/chaats/internal/domain"
	"github.com/nfrund/chaats/internal/hub"
	"github.com/nfrund/chaats/internal/metrics"
)

// Fanout delivers a payload to every live session of a user.
type Fanout interface {
	BroadcastTo(id domain.UserID, payload []byte) (delivered, failed int)
}

// OnlineChecker reports whether a user currently has a live session.
type OnlineChecker interface {
	IsOnline(id domain.UserID) bool
}

// OnlineFunc adapts a function to OnlineChecker.
type OnlineFunc func(id domain.UserID) bool

func (f OnlineFunc) IsOnline(id domain.UserID) bool { return f(id) }

// Dependencies are the collaborators of a Service.
type Dependencies struct {
	Messages domain.MessageStore
	Profiles domain.ProfileStore
	Fanout   Fanout
	Online   OnlineChecker
	Status   StatusHook
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// handlerFunc handles one decoded action. frame is the complete inbound frame.
type handlerFunc func(ctx context.Context, from hub.Peer, frame []byte) error

// Service routes inbound frames by their action tag.
type Service struct {
	messages domain.MessageStore
	profiles domain.ProfileStore
	fanout   Fanout
	online   OnlineChecker
	status   StatusHook
	logger   *slog.Logger
	metrics  *metrics.Metrics

	handlers map[string]handlerFunc
}

// New creates a Service.
func New(deps Dependencies) *Service {
	s := &Service{
		messages: deps.Messages,
		profiles: deps.Profiles,
		fanout:   deps.Fanout,
		online:   deps.Online,
		status:   deps.Status,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "chat")
	if s.online == nil {
		s.online = OnlineFunc(func(domain.UserID) bool { return false })
	}
	if s.status == nil {
		s.status = NopStatusHook{}
	}

	s.handlers = map[string]handlerFunc{
		ActionDirectMessage:  s.directMessage,
		ActionMessageHistory: s.messageHistory,
		ActionTyping:         s.typing,
		ActionUserStatus:     s.userStatus,
		ActionListUsers:      s.listUsers,
		ActionGetProfile:     s.getProfile,
		ActionUpdateProfile:  s.updateProfile,
	}
	return s
}

// Dispatch decodes frame and runs the handler registered for its action.
// Malformed frames return an error wrapping domain.ErrProtocol and get no
// reply. Unknown actions are ignored. Validation, lookup and store failures
// are reported to from as an error frame and also returned.
func (s *Service) Dispatch(ctx context.Context, from hub.Peer, frame []byte) error {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		s.metrics.FrameError("protocol")
		return fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}
	if env.Action == "" {
		s.metrics.FrameError("protocol")
		return fmt.Errorf("%w: missing action", domain.ErrProtocol)
	}
	h, ok := s.handlers[env.Action]
	if !ok {
		s.logger.Debug("Ignoring unknown action", "action", env.Action, "user_id", from.Identity().ID)
		return nil
	}
	s.metrics.Frame(env.Action)

	err := h(ctx, from, frame)
	if err == nil {
		return nil
	}
	s.metrics.FrameError(errorKind(err))
	if errors.Is(err, domain.ErrProtocol) {
		return err
	}

	action, message := env.Action, "internal error"
	var re *replyError
	if errors.As(err, &re) {
		action, message = re.action, re.message
	}
	s.reply(from, errorFrame{Action: action, Error: message})
	return err
}

func (s *Service) reply(to hub.Peer, frame any) {
	if err := to.Send(encode(frame)); err != nil {
		s.logger.Debug("Reply not queued", "user_id", to.Identity().ID, "error", err)
	}
}

// decode unmarshals the frame body into req.
func decode(frame []byte, req any) error {
	if err := json.Unmarshal(frame, req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}
	return nil
}

// replyError is a handler failure that is reported to the origin.
type replyError struct {
	action  string
	message string
	err     error
}

func (e *replyError) Error() string { return e.err.Error() }
func (e *replyError) Unwrap() error { return e.err }

func invalid(action, message string) error {
	return &replyError{action: action, message: message, err: fmt.Errorf("%w: %s", domain.ErrValidation, message)}
}

func notFound(action, message string, cause error) error {
	return &replyError{action: action, message: message, err: cause}
}

func storeFailure(action, message string, cause error) error {
	if !errors.Is(cause, domain.ErrStore) {
		cause = fmt.Errorf("%w: %w", domain.ErrStore, cause)
	}
	return &replyError{action: action, message: message, err: cause}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrProtocol):
		return "protocol"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrStore):
		return "store"
	}
	return "internal"
}

// sameUser reports whether an optional claimed id matches the origin.
func sameUser(claimed *domain.UserID, me domain.UserID) bool {
	return claimed == nil || *claimed == me
}
