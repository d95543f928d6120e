package chat

import (
	"context"
	"errors"

	"github.com/nfrund/chaats/internal/domain"
	"github.com/nfrund/chaats/internal/hub"
)

func (s *Service) directMessage(ctx context.Context, from hub.Peer, frame []byte) error {
	var req DirectMessageRequest
	if err := decode(frame, &req); err != nil {
		return err
	}
	_, err := s.HandleDirectMessage(ctx, from, req)
	return err
}

// HandleDirectMessage validates req, persists it, fans it out to every live
// session of the receiver and acks the origin with the message ID. Having no
// live receiver session is not an error; the message stays in history.
func (s *Service) HandleDirectMessage(ctx context.Context, from hub.Peer, req DirectMessageRequest) (domain.Message, error) {
	me := from.Identity().ID
	if err := check(ActionDirectMessage, req); err != nil {
		return domain.Message{}, err
	}
	if !sameUser(req.SenderID, me) {
		return domain.Message{}, invalid(ActionDirectMessage, "sender_id does not match the authenticated user")
	}
	if _, err := s.profiles.Get(ctx, req.ReceiverID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Message{}, &replyError{action: ActionDirectMessage, message: "receiver not found", err: errors.Join(domain.ErrValidation, err)}
		}
		return domain.Message{}, storeFailure(ActionMessageSent, "could not resolve receiver", err)
	}

	msg, err := s.messages.Create(ctx, me, req.ReceiverID, req.Content)
	if err != nil {
		s.logger.Error("Failed to persist message", "sender_id", me, "receiver_id", req.ReceiverID, "error", err)
		return domain.Message{}, storeFailure(ActionMessageSent, "message could not be stored", err)
	}
	s.metrics.MessageStored()

	delivered, failed := s.fanout.BroadcastTo(msg.ReceiverID, encode(directMessageFrame{
		Action:     ActionDirectMessage,
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		Timestamp:  formatTimestamp(msg),
	}))
	s.metrics.Delivered(ActionDirectMessage, delivered, failed)
	s.logger.Debug("Direct message routed",
		"message_id", msg.ID, "sender_id", me, "receiver_id", msg.ReceiverID,
		"delivered", delivered, "failed", failed)

	s.reply(from, messageSentFrame{Action: ActionMessageSent, MessageID: msg.ID})
	return msg, nil
}
