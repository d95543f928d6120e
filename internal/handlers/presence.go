// Package handlers holds the small JSON endpoints served next to the
// WebSocket route.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/chaats/internal/domain"
	"github.com/nfrund/chaats/internal/presence"
)

// PresenceSource is the read side of the presence tracker.
type PresenceSource interface {
	OnlineUsers() []domain.UserID
	Presence(userID domain.UserID) (presence.Presence, bool)
}

// PresenceHandler serves read-only presence lookups.
type PresenceHandler struct {
	presence PresenceSource
}

// NewPresenceHandler creates a new presence handler
func NewPresenceHandler(src PresenceSource) *PresenceHandler {
	return &PresenceHandler{presence: src}
}

// Register mounts the handler's routes on g.
func (h *PresenceHandler) Register(g *echo.Group) {
	g.GET("", h.GetPresence)
	g.GET("/:userID", h.GetUserPresence)
}

// GetPresence returns the current online users as JSON
func (h *PresenceHandler) GetPresence(c echo.Context) error {
	if h.presence == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "presence service not available",
		})
	}

	onlineUsers := h.presence.OnlineUsers()
	return c.JSON(http.StatusOK, map[string]any{
		"online_users": onlineUsers,
		"count":        len(onlineUsers),
	})
}

// GetUserPresence returns the presence status for a specific user
func (h *PresenceHandler) GetUserPresence(c echo.Context) error {
	if h.presence == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "presence service not available",
		})
	}

	id, err := strconv.ParseInt(c.Param("userID"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "userID must be a positive integer",
		})
	}

	p, exists := h.presence.Presence(domain.UserID(id))
	if !exists {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "user not found or offline",
		})
	}
	return c.JSON(http.StatusOK, p)
}
