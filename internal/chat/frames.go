package chat

import (
	"encoding/json"

	"github.com/nfrund/chaats/internal/domain"
)

// Inbound actions.
const (
	ActionDirectMessage  = "direct_message"
	ActionMessageHistory = "message_history"
	ActionTyping         = "typing"
	ActionUserStatus     = "user_status"
	ActionListUsers      = "list_users"
	ActionGetProfile     = "get_profile"
	ActionUpdateProfile  = "update_profile"
)

// ActionMessageSent acknowledges a direct_message to its sender.
const ActionMessageSent = "message_sent"

type envelope struct {
	Action string `json:"action"`
}

// DirectMessageRequest is the body of a direct_message frame. SenderID may be
// omitted; when present it must match the authenticated user.
type DirectMessageRequest struct {
	SenderID   *domain.UserID `json:"sender_id"`
	ReceiverID domain.UserID  `json:"receiver_id" validate:"required,gt=0"`
	Content    string         `json:"content" validate:"required,notblank"`
}

// HistoryRequest is the body of a message_history frame.
type HistoryRequest struct {
	SenderID   *domain.UserID `json:"sender_id"`
	ReceiverID domain.UserID  `json:"receiver_id" validate:"required,gt=0"`
}

// TypingRequest is the body of a typing frame.
type TypingRequest struct {
	SenderID   *domain.UserID `json:"sender_id"`
	ReceiverID domain.UserID  `json:"receiver_id" validate:"required,gt=0"`
	IsTyping   bool           `json:"is_typing"`
}

// StatusRequest is the body of a user_status frame.
type StatusRequest struct {
	UserID *domain.UserID `json:"user_id"`
	Status string         `json:"status" validate:"required,oneof=online away offline"`
}

type getProfileRequest struct {
	UserID domain.UserID `json:"user_id" validate:"required,gt=0"`
}

type updateProfileRequest struct {
	UserID         domain.UserID `json:"user_id" validate:"required,gt=0"`
	Email          *string       `json:"email" validate:"omitempty,email,max=254"`
	FirstName      *string       `json:"first_name" validate:"omitempty,max=30"`
	LastName       *string       `json:"last_name" validate:"omitempty,max=30"`
	ProfilePicture *string       `json:"profile_picture" validate:"omitempty,max=2048"`
}

// Outbound frames.

type errorFrame struct {
	Action string `json:"action"`
	Error  string `json:"error"`
}

type messageSentFrame struct {
	Action    string `json:"action"`
	MessageID int64  `json:"message_id"`
}

type directMessageFrame struct {
	Action     string        `json:"action"`
	MessageID  int64         `json:"message_id"`
	SenderID   domain.UserID `json:"sender_id"`
	ReceiverID domain.UserID `json:"receiver_id"`
	Content    string        `json:"content"`
	Timestamp  string        `json:"timestamp"`
}

type historyEntry struct {
	MessageID  int64         `json:"message_id"`
	SenderID   domain.UserID `json:"sender_id"`
	ReceiverID domain.UserID `json:"receiver_id"`
	Content    string        `json:"content"`
	Timestamp  string        `json:"timestamp"`
}

type historyFrame struct {
	Action         string         `json:"action"`
	MessageHistory []historyEntry `json:"message_history"`
}

type typingFrame struct {
	Action string `json:"action"`
	domain.TypingEvent
}

type profileView struct {
	domain.Profile
	Online bool `json:"online"`
}

type listUsersFrame struct {
	Action string        `json:"action"`
	Users  []profileView `json:"users"`
}

type profileFrame struct {
	Action string      `json:"action"`
	User   profileView `json:"user"`
}

type messageFrame struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

func formatTimestamp(m domain.Message) string {
	return m.Timestamp.UTC().Format(domain.TimestampLayout)
}

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Only fixed, well-typed frames are encoded here.
		panic(err)
	}
	return b
}
