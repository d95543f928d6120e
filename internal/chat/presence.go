package chat

import (
	"context"
	"fmt"

	"github.com/nfrund/chaats/internal/domain"
	"github.com/nfrund/chaats/internal/events"
	"github.com/nfrund/chaats/internal/hub"
	"github.com/nfrund/chaats/internal/pubsub"
)

// StatusHook receives validated status announcements. Peer fan-out of
// statuses is left to the hook.
type StatusHook interface {
	OnStatus(ctx context.Context, ev domain.StatusEvent) error
}

// StatusHookFunc adapts a function to StatusHook.
type StatusHookFunc func(ctx context.Context, ev domain.StatusEvent) error

func (f StatusHookFunc) OnStatus(ctx context.Context, ev domain.StatusEvent) error { return f(ctx, ev) }

// NopStatusHook discards every status.
type NopStatusHook struct{}

func (NopStatusHook) OnStatus(context.Context, domain.StatusEvent) error { return nil }

// BusStatusHook publishes statuses on the events.UserStatus topic.
type BusStatusHook struct {
	Publisher pubsub.Publisher
}

func (h BusStatusHook) OnStatus(ctx context.Context, ev domain.StatusEvent) error {
	return pubsub.Publish(ctx, h.Publisher, events.UserStatus, ev.UserID.String(), ev)
}

func (s *Service) typing(ctx context.Context, from hub.Peer, frame []byte) error {
	var req TypingRequest
	if err := decode(frame, &req); err != nil {
		return err
	}
	return s.HandleTyping(ctx, from, req)
}

// HandleTyping relays a typing indicator to the receiver's sessions only.
// Nothing is persisted and the origin gets no ack.
func (s *Service) HandleTyping(_ context.Context, from hub.Peer, req TypingRequest) error {
	me := from.Identity().ID
	if err := check(ActionTyping, req); err != nil {
		return err
	}
	if !sameUser(req.SenderID, me) {
		return invalid(ActionTyping, "sender_id does not match the authenticated user")
	}
	if req.ReceiverID == me {
		return invalid(ActionTyping, "cannot send typing indicator to yourself")
	}

	delivered, failed := s.fanout.BroadcastTo(req.ReceiverID, encode(typingFrame{
		Action: ActionTyping,
		TypingEvent: domain.TypingEvent{
			SenderID:   me,
			ReceiverID: req.ReceiverID,
			IsTyping:   req.IsTyping,
		},
	}))
	s.metrics.Delivered(ActionTyping, delivered, failed)
	return nil
}

func (s *Service) userStatus(ctx context.Context, from hub.Peer, frame []byte) error {
	var req StatusRequest
	if err := decode(frame, &req); err != nil {
		return err
	}
	return s.HandleStatus(ctx, from, req)
}

// HandleStatus validates a status announcement and hands it to the status hook.
func (s *Service) HandleStatus(ctx context.Context, from hub.Peer, req StatusRequest) error {
	me := from.Identity().ID
	if err := check(ActionUserStatus, req); err != nil {
		return err
	}
	if !sameUser(req.UserID, me) {
		return invalid(ActionUserStatus, "user_id does not match the authenticated user")
	}

	ev := domain.StatusEvent{UserID: me, Status: domain.Status(req.Status)}
	if err := s.status.OnStatus(ctx, ev); err != nil {
		return &replyError{action: ActionUserStatus, message: "status could not be published", err: fmt.Errorf("status hook: %w", err)}
	}
	s.logger.Debug("User status received", "user_id", me, "status", ev.Status)
	return nil
}
