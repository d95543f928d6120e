// Package events defines the typed topics the messaging core publishes on the bus.
package events

import (
	"time"

	"github.com/nfrund/chaats/internal/domain"
	"github.com/nfrund/chaats/internal/pubsub"
)

// SessionLifecycle is published when an authenticated session opens or closes.
type SessionLifecycle struct {
	SessionID string        `json:"session_id"`
	UserID    domain.UserID `json:"user_id"`
	At        time.Time     `json:"at"`
	Reason    string        `json:"reason,omitempty"`
}

// PresenceChanged lists the users currently considered online.
type PresenceChanged struct {
	Online []domain.UserID `json:"online"`
	At     time.Time       `json:"at"`
}

var (
	// SessionConnected fires after a session authenticated and registered.
	SessionConnected = pubsub.NewEvent[SessionLifecycle](
		"session.connected",
		"An authenticated session was registered",
	)
	// SessionDisconnected fires after a registered session closed.
	SessionDisconnected = pubsub.NewEvent[SessionLifecycle](
		"session.disconnected",
		"A registered session was closed",
	)
	// UserStatus carries client-announced status changes.
	UserStatus = pubsub.NewEvent[domain.StatusEvent](
		"presence.user_status",
		"A user announced a status change",
	)
	// PresenceUpdate carries the online user list after each change.
	PresenceUpdate = pubsub.NewEvent[PresenceChanged](
		"presence.changed",
		"The set of online users changed",
	)
)
