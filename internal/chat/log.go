// Package chat is the append-only, per-room chat history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/vovakirdan/wirecode-server/internal/store"
)

// MaxRecent caps how many messages Recent returns.
const MaxRecent = 50

var (
	ErrEmptyRoom = errors.New("room id is required")
	ErrEmptyText = errors.New("message text is required")
)

// Log appends and reads chat messages through a MessageStore.
type Log struct {
	store store.MessageStore
	now   func() time.Time
}

// NewLog builds a Log backed by s.
func NewLog(s store.MessageStore) *Log {
	return &Log{store: s, now: time.Now}
}

// Append persists a message. The identifier and timestamp are assigned here,
// never taken from the client.
func (l *Log) Append(ctx context.Context, roomID, text, author, connID string) (*store.Message, error) {
	if roomID == "" {
		return nil, ErrEmptyRoom
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	msg := &store.Message{
		RoomID:    roomID,
		Text:      text,
		Author:    author,
		SocketID:  connID,
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	return msg, nil
}

// Recent returns the latest messages of a room, oldest first. A limit outside
// (0, MaxRecent] is treated as MaxRecent.
func (l *Log) Recent(ctx context.Context, roomID string, limit int) ([]*store.Message, error) {
	if roomID == "" {
		return nil, ErrEmptyRoom
	}
	if limit <= 0 || limit > MaxRecent {
		limit = MaxRecent
	}

	msgs, err := l.store.ListRecentMessages(ctx, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	slices.Reverse(msgs)
	if msgs == nil {
		msgs = []*store.Message{}
	}
	return msgs, nil
}
