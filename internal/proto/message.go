package proto

import (
	"encoding/json"

	"github.com/vovakirdan/wirecode-server/internal/crdt"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	TypeHello          = "hello"
	TypeJoinRoom       = "join-room"
	TypeLeaveRoom      = "leave-room"
	TypeLoadCode       = "load-code"
	TypeDocSnapshot    = "doc-snapshot"
	TypeCodeChange     = "code-change"
	TypeDocOp          = "doc-op"
	TypeLanguageChange = "language-change"
	TypeChatMessage    = "chat-message"
	TypeRecentMessages = "recent-messages"
	TypeRoomUsers      = "room-users"
	TypeCursorUpdate   = "cursor-update"
	TypeResync         = "resync"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// HelloData is sent by the client to negotiate the protocol version.
type HelloData struct {
	Protocol int `json:"protocol,omitempty"`
}

// JoinData requests to join a room.
type JoinData struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

// CodeData carries a whole buffer.
type CodeData struct {
	RoomID   string `json:"roomId,omitempty"`
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

// DocOpData carries replica operations.
type DocOpData struct {
	Ops []crdt.Op `json:"ops"`
}

// DocSnapshotData seeds a client replica. Site is the identifier the client
// must use for its own operations.
type DocSnapshotData struct {
	Site     string        `json:"site"`
	Snapshot crdt.Snapshot `json:"snapshot"`
}

// LanguageData announces a room language.
type LanguageData struct {
	Language string `json:"language"`
}

// ChatInput is a chat message from the client. CreatedAt is ignored; the
// server assigns timestamps.
type ChatInput struct {
	RoomID  string `json:"roomId,omitempty"`
	Message struct {
		Text      string `json:"text"`
		CreatedAt string `json:"createdAt,omitempty"`
	} `json:"message"`
}

// ChatMeta identifies the sender of a chat message.
type ChatMeta struct {
	SocketID string `json:"socketId"`
	User     string `json:"user"`
}

// ChatMessage is a stored chat message.
type ChatMessage struct {
	ID        string   `json:"_id"`
	RoomID    string   `json:"roomId"`
	Text      string   `json:"text"`
	CreatedAt string   `json:"createdAt"`
	Meta      ChatMeta `json:"meta"`
}

// RecentMessagesData is the chat tail delivered on join.
type RecentMessagesData struct {
	Messages []ChatMessage `json:"messages"`
}

// User is a roster entry.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CursorInput is a caret update from the client.
type CursorInput struct {
	Position  json.RawMessage `json:"position,omitempty"`
	Selection json.RawMessage `json:"selection,omitempty"`
}

// CursorData is a caret update relayed to other members.
type CursorData struct {
	UserID    string          `json:"userId"`
	Name      string          `json:"name"`
	Position  json.RawMessage `json:"position,omitempty"`
	Selection json.RawMessage `json:"selection,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
