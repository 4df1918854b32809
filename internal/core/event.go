package core

import (
	"github.com/vovakirdan/wirecode-server/internal/crdt"
	"github.com/vovakirdan/wirecode-server/internal/presence"
	"github.com/vovakirdan/wirecode-server/internal/store"
)

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventLoadCode delivers the room text and language on join or resync.
	EventLoadCode EventKind = iota
	// EventDocSnapshot delivers the full replica state to crdt clients.
	EventDocSnapshot
	// EventCodeChange delivers the new whole buffer to text clients.
	EventCodeChange
	// EventDocOps delivers replica operations to crdt clients.
	EventDocOps
	// EventLanguageChange notifies about a new room language.
	EventLanguageChange
	// EventChatMessage delivers a stored chat message.
	EventChatMessage
	// EventRecentMessages delivers the chat tail upon joining a room.
	EventRecentMessages
	// EventRoomUsers delivers the room roster.
	EventRoomUsers
	// EventCursorUpdate relays another member's caret.
	EventCursorUpdate
	// EventError notifies clients about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	Room     string
	Code     string
	Language string
	Site     string
	Snapshot *crdt.Snapshot
	Ops      []crdt.Op
	Message  *store.Message
	Messages []*store.Message
	Users    []presence.Member
	Cursor   *CursorEvent
	Error    *CoreError
}

// CursorEvent is a caret update attributed to a member.
type CursorEvent struct {
	UserID string
	Name   string
	Cursor
}

func errorEvent(code, msg string) *Event {
	return &Event{Kind: EventError, Error: coreError(code, msg)}
}
