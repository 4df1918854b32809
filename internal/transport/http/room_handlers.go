package http

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecode-server/internal/chat"
	"github.com/vovakirdan/wirecode-server/internal/executor"
	"github.com/vovakirdan/wirecode-server/internal/proto"
	"github.com/vovakirdan/wirecode-server/internal/rooms"
	"github.com/vovakirdan/wirecode-server/internal/store"
)

// RoomHandlers provides HTTP handlers for room endpoints.
type RoomHandlers struct {
	registry *rooms.Registry
	chat     *chat.Log
	hub      Hub
	log      *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(registry *rooms.Registry, chatLog *chat.Log, hub Hub, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		registry: registry,
		chat:     chatLog,
		hub:      hub,
		log:      logger,
	}
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	RoomID    string       `json:"roomId"`
	Code      string       `json:"code"`
	Language  string       `json:"language"`
	CreatedAt string       `json:"createdAt"`
	UpdatedAt string       `json:"updatedAt"`
	Users     []proto.User `json:"users"`
}

// GetRoom returns the room record. A room that is live on this instance
// reports its current buffer rather than the last flushed one.
// GET /api/rooms/:roomId
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	roomID := c.Param("roomId")

	room, err := h.registry.Get(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, rooms.ErrEmptyRoomID) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Room not found"})
			return
		}
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to get room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := RoomResponse{
		RoomID:    room.RoomID,
		Code:      room.Code,
		Language:  room.Language,
		CreatedAt: room.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: room.UpdatedAt.UTC().Format(time.RFC3339),
		Users:     []proto.User{},
	}

	live, ok, err := h.hub.Room(c.Request.Context(), roomID)
	if err != nil {
		h.log.Warn().Err(err).Str("room_id", roomID).Msg("live room lookup failed")
	}
	if ok {
		resp.Code = live.Code
		resp.Language = live.Language
		resp.Users = roster(live.Members)
	}

	c.JSON(http.StatusOK, resp)
}

// ListMessages returns the recent chat of a room, oldest first.
// GET /api/rooms/:roomId/messages?limit=
func (h *RoomHandlers) ListMessages(c *gin.Context) {
	roomID := c.Param("roomId")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be an integer"})
			return
		}
		limit = n
	}

	messages, err := h.chat.Recent(c.Request.Context(), roomID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]proto.ChatMessage, 0, len(messages))
	for _, m := range messages {
		response = append(response, chatMessage(m))
	}
	c.JSON(http.StatusOK, response)
}

// Download serves the room buffer as a file named after the room language.
// GET /api/rooms/:roomId/download
func (h *RoomHandlers) Download(c *gin.Context) {
	roomID := c.Param("roomId")

	code, language := "", ""
	live, ok, err := h.hub.Room(c.Request.Context(), roomID)
	if err != nil {
		h.log.Warn().Err(err).Str("room_id", roomID).Msg("live room lookup failed")
	}
	if ok {
		code, language = live.Code, live.Language
	} else {
		room, err := h.registry.Get(c.Request.Context(), roomID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, ErrorResponse{Error: "Room not found"})
				return
			}
			h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to get room")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		code, language = room.Code, room.Language
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(roomID, language)))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(code))
}

func downloadName(roomID, language string) string {
	ext := ".txt"
	if lang, err := executor.ParseLanguage(language); err == nil {
		ext = path.Ext(lang.Runtime().Filename)
	}
	return roomID + ext
}
