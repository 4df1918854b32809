package http

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirecode-server/internal/core"
	"github.com/vovakirdan/wirecode-server/internal/presence"
	"github.com/vovakirdan/wirecode-server/internal/proto"
	"github.com/vovakirdan/wirecode-server/internal/store"
)

func TestInboundJoinDefaults(t *testing.T) {
	cmd, perr := inboundToCommand(proto.Inbound{Type: proto.TypeJoinRoom, Data: json.RawMessage(`{"roomId":"r1","name":"alice"}`)})
	require.Nil(t, perr)
	assert.Equal(t, core.CommandJoinRoom, cmd.Kind)
	assert.Equal(t, "r1", cmd.Room)
	assert.Equal(t, core.ModeText, cmd.Mode)

	cmd, perr = inboundToCommand(proto.Inbound{Type: proto.TypeJoinRoom, Data: json.RawMessage(`{"roomId":"r1","mode":"crdt"}`)})
	require.Nil(t, perr)
	assert.Equal(t, core.ModeCRDT, cmd.Mode)
}

func TestInboundRejects(t *testing.T) {
	cases := []struct {
		in   proto.Inbound
		code string
	}{
		{proto.Inbound{Type: proto.TypeJoinRoom, Data: json.RawMessage(`{}`)}, core.ErrCodeBadRequest},
		{proto.Inbound{Type: proto.TypeDocOp, Data: json.RawMessage(`{"ops":[]}`)}, core.ErrCodeBadRequest},
		{proto.Inbound{Type: proto.TypeLanguageChange}, core.ErrCodeBadRequest},
		{proto.Inbound{Type: proto.TypeCodeChange, Data: json.RawMessage(`"oops"`)}, core.ErrCodeInvalidMessage},
		{proto.Inbound{Type: "bogus"}, core.ErrCodeInvalidMessage},
	}
	for _, tc := range cases {
		cmd, perr := inboundToCommand(tc.in)
		assert.Nil(t, cmd, tc.in.Type)
		require.NotNil(t, perr, tc.in.Type)
		assert.Equal(t, tc.code, perr.Code, tc.in.Type)
	}
}

func TestOutboundChatAndRoster(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := outboundFromEvent(&core.Event{Kind: core.EventChatMessage, Message: &store.Message{
		ID: "7", RoomID: "r", Text: "hi", Author: "alice", SocketID: "c1", CreatedAt: at,
	}})
	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"event","event":"chat-message","data":{"_id":"7","roomId":"r","text":"hi","createdAt":"2024-05-01T12:00:00Z","meta":{"socketId":"c1","user":"alice"}}}`, string(raw))

	out = outboundFromEvent(&core.Event{Kind: core.EventRoomUsers, Users: []presence.Member{{ConnID: "c1", Name: "alice"}}})
	raw, err = json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"event","event":"room-users","data":[{"id":"c1","name":"alice"}]}`, string(raw))

	out = outboundFromEvent(&core.Event{Kind: core.EventError, Error: &core.CoreError{Code: core.ErrCodeNotInRoom, Message: "join first"}})
	assert.Equal(t, proto.OutboundTypeError, out.Type)
	assert.Equal(t, core.ErrCodeNotInRoom, out.Error.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2)
	stop := make(chan struct{})
	defer close(stop)
	rl.startReset(stop)
	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	assert.True(t, newRateLimiter(0).allow())
}
