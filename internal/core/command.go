package core

import (
	"encoding/json"

	"github.com/vovakirdan/wirecode-server/internal/crdt"
)

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinRoom moves the client into a room.
	CommandJoinRoom CommandKind = iota
	// CommandLeaveRoom removes the client from its room.
	CommandLeaveRoom
	// CommandCodeChange replaces the whole buffer (text mode).
	CommandCodeChange
	// CommandDocOps merges replica operations (crdt mode).
	CommandDocOps
	// CommandLanguageChange switches the room language.
	CommandLanguageChange
	// CommandSendChat appends a chat message.
	CommandSendChat
	// CommandCursor shares the caret position.
	CommandCursor
	// CommandResync asks for a fresh document snapshot.
	CommandResync

	commandDisconnect
)

// Command represents an action requested by a client.
type Command struct {
	Kind     CommandKind
	Room     string
	Name     string
	Mode     Mode
	Code     string
	Language string
	Ops      []crdt.Op
	Text     string
	Cursor   *Cursor
}

// Cursor is an opaque caret position and selection. The server never
// interprets it.
type Cursor struct {
	Position  json.RawMessage
	Selection json.RawMessage
}
