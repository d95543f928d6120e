package chat

import (
	"context"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/nfrund/chaats/internal/domain"
	"github.com/nfrund/chaats/internal/hub"
)

func (s *Service) messageHistory(ctx context.Context, from hub.Peer, frame []byte) error {
	var req HistoryRequest
	if err := decode(frame, &req); err != nil {
		return err
	}
	if err := check(ActionMessageHistory, req); err != nil {
		return err
	}

	me := from.Identity().ID
	a := me
	if req.SenderID != nil {
		a = *req.SenderID
	}
	if a != me && req.ReceiverID != me {
		return invalid(ActionMessageHistory, "history is only available to conversation participants")
	}

	msgs, err := s.GetHistory(ctx, a, req.ReceiverID)
	if err != nil {
		return storeFailure(ActionMessageHistory, "history could not be loaded", err)
	}
	s.metrics.HistoryServed()

	s.reply(from, historyFrame{
		Action: ActionMessageHistory,
		MessageHistory: lo.Map(msgs, func(m domain.Message, _ int) historyEntry {
			return historyEntry{
				MessageID:  m.ID,
				SenderID:   m.SenderID,
				ReceiverID: m.ReceiverID,
				Content:    m.Content,
				Timestamp:  formatTimestamp(m),
			}
		}),
	})
	return nil
}

// GetHistory returns every message exchanged between a and b, in either
// direction, ascending by (timestamp, id). It is symmetric in a and b.
func (s *Service) GetHistory(ctx context.Context, a, b domain.UserID) ([]domain.Message, error) {
	msgs, err := s.messages.Query(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("query history %s/%s: %w", a, b, err)
	}
	out := slices.Clone(msgs)
	domain.SortMessages(out)
	if out == nil {
		out = []domain.Message{}
	}
	return out, nil
}
