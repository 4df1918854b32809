package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Room is the persisted state of a collaborative room.
type Room struct {
	RoomID    string
	Code      string
	Language  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID        string
	RoomID    string
	Text      string
	Author    string
	SocketID  string // connection that sent the message
	CreatedAt time.Time
}

// RoomStore handles room persistence.
type RoomStore interface {
	// GetRoom retrieves a room by its identifier. Returns ErrNotFound if absent.
	GetRoom(ctx context.Context, roomID string) (*Room, error)

	// CreateRoom inserts room unless a room with the same identifier exists.
	// Either way the stored record is returned.
	CreateRoom(ctx context.Context, room *Room) (*Room, error)

	// UpsertDocument stores code and language for a room and bumps UpdatedAt.
	UpsertDocument(ctx context.Context, roomID, code, language string, updatedAt time.Time) error
}

// MessageStore handles chat message persistence.
type MessageStore interface {
	// SaveMessage persists a message and fills in msg.ID.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListRecentMessages returns up to limit messages of a room, newest first.
	ListRecentMessages(ctx context.Context, roomID string, limit int) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	RoomStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
