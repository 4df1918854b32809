package http

import (
	"encoding/json"
	"time"

	"github.com/vovakirdan/wirecode-server/internal/core"
	"github.com/vovakirdan/wirecode-server/internal/presence"
	"github.com/vovakirdan/wirecode-server/internal/proto"
	"github.com/vovakirdan/wirecode-server/internal/store"
)

func invalid(msg string) *proto.Error {
	return &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: msg}
}

// decode unmarshals optional data. Missing data decodes to the zero value.
func decode(data json.RawMessage, v any) bool {
	if len(data) == 0 || string(data) == "null" {
		return true
	}
	return json.Unmarshal(data, v) == nil
}

func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.TypeJoinRoom:
		var join proto.JoinData
		if !decode(inbound.Data, &join) {
			return nil, invalid("malformed join-room payload")
		}
		if join.RoomID == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "roomId is required"}
		}
		return &core.Command{
			Kind: core.CommandJoinRoom,
			Room: join.RoomID,
			Name: join.Name,
			Mode: core.ParseMode(join.Mode),
		}, nil
	case proto.TypeLeaveRoom:
		return &core.Command{Kind: core.CommandLeaveRoom}, nil
	case proto.TypeCodeChange:
		var code proto.CodeData
		if !decode(inbound.Data, &code) {
			return nil, invalid("malformed code-change payload")
		}
		return &core.Command{
			Kind:     core.CommandCodeChange,
			Room:     code.RoomID,
			Code:     code.Code,
			Language: code.Language,
		}, nil
	case proto.TypeDocOp:
		var ops proto.DocOpData
		if !decode(inbound.Data, &ops) {
			return nil, invalid("malformed doc-op payload")
		}
		if len(ops.Ops) == 0 {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "ops are required"}
		}
		return &core.Command{Kind: core.CommandDocOps, Ops: ops.Ops}, nil
	case proto.TypeLanguageChange:
		var lang proto.LanguageData
		if !decode(inbound.Data, &lang) {
			return nil, invalid("malformed language-change payload")
		}
		if lang.Language == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "language is required"}
		}
		return &core.Command{Kind: core.CommandLanguageChange, Language: lang.Language}, nil
	case proto.TypeChatMessage:
		var msg proto.ChatInput
		if !decode(inbound.Data, &msg) {
			return nil, invalid("malformed chat-message payload")
		}
		return &core.Command{
			Kind: core.CommandSendChat,
			Room: msg.RoomID,
			Text: msg.Message.Text,
		}, nil
	case proto.TypeCursorUpdate:
		var cur proto.CursorInput
		if !decode(inbound.Data, &cur) {
			return nil, invalid("malformed cursor-update payload")
		}
		return &core.Command{
			Kind:   core.CommandCursor,
			Cursor: &core.Cursor{Position: cur.Position, Selection: cur.Selection},
		}, nil
	case proto.TypeResync:
		return &core.Command{Kind: core.CommandResync}, nil
	default:
		return nil, invalid("unknown message type")
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventLoadCode:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.TypeLoadCode,
			Data:  proto.CodeData{Code: event.Code, Language: event.Language},
		}
	case core.EventDocSnapshot:
		data := proto.DocSnapshotData{Site: event.Site}
		if event.Snapshot != nil {
			data.Snapshot = *event.Snapshot
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.TypeDocSnapshot,
			Data:  data,
		}
	case core.EventCodeChange:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.TypeCodeChange,
			Data:  proto.CodeData{RoomID: event.Room, Code: event.Code, Language: event.Language},
		}
	case core.EventDocOps:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.TypeDocOp,
			Data:  proto.DocOpData{Ops: event.Ops},
		}
	case core.EventLanguageChange:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.TypeLanguageChange,
			Data:  proto.LanguageData{Language: event.Language},
		}
	case core.EventChatMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.TypeChatMessage,
			Data:  chatMessage(event.Message),
		}
	case core.EventRecentMessages:
		messages := make([]proto.ChatMessage, 0, len(event.Messages))
		for _, m := range event.Messages {
			messages = append(messages, chatMessage(m))
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.TypeRecentMessages,
			Data:  proto.RecentMessagesData{Messages: messages},
		}
	case core.EventRoomUsers:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.TypeRoomUsers,
			Data:  roster(event.Users),
		}
	case core.EventCursorUpdate:
		data := proto.CursorData{}
		if event.Cursor != nil {
			data = proto.CursorData{
				UserID:    event.Cursor.UserID,
				Name:      event.Cursor.Name,
				Position:  event.Cursor.Position,
				Selection: event.Cursor.Selection,
			}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.TypeCursorUpdate,
			Data:  data,
		}
	case core.EventError:
		errPayload := &proto.Error{Code: core.ErrCodeInternal, Msg: "internal error"}
		if event.Error != nil {
			errPayload = &proto.Error{Code: event.Error.Code, Msg: event.Error.Message}
		}
		return proto.Outbound{Type: proto.OutboundTypeError, Error: errPayload}
	default:
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: core.ErrCodeInternal, Msg: "unknown event"},
		}
	}
}

func chatMessage(m *store.Message) proto.ChatMessage {
	if m == nil {
		return proto.ChatMessage{}
	}
	return proto.ChatMessage{
		ID:        m.ID,
		RoomID:    m.RoomID,
		Text:      m.Text,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
		Meta:      proto.ChatMeta{SocketID: m.SocketID, User: m.Author},
	}
}

func roster(members []presence.Member) []proto.User {
	users := make([]proto.User, 0, len(members))
	for _, m := range members {
		users = append(users, proto.User{ID: m.ConnID, Name: m.Name})
	}
	return users
}
