package domain

// Status is a user presence status as announced by a client.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline:
		return true
	}
	return false
}

// TypingEvent is an ephemeral typing indicator. It is never persisted.
type TypingEvent struct {
	SenderID   UserID `json:"sender_id"`
	ReceiverID UserID `json:"receiver_id"`
	IsTyping   bool   `json:"is_typing"`
}

// StatusEvent is an ephemeral status change announced by a user.
type StatusEvent struct {
	UserID UserID `json:"user_id"`
	Status Status `json:"status"`
}
