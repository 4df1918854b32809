package http

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/wirecode-server/internal/config"
	"github.com/vovakirdan/wirecode-server/internal/core"
	"github.com/vovakirdan/wirecode-server/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t, "", nil)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("unexpected health payload: %+v", body)
	}
}

func TestWebSocketJoinAndChat(t *testing.T) {
	env := startTestServer(t, "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := env.dial(t, ctx)
	connB := env.dial(t, ctx)

	send(t, ctx, connA, proto.TypeJoinRoom, proto.JoinData{RoomID: "general", Name: "alice"})
	readUntil(t, ctx, connA, proto.TypeLoadCode)
	send(t, ctx, connB, proto.TypeJoinRoom, proto.JoinData{RoomID: "general", Name: "bob"})
	readUntil(t, ctx, connB, proto.TypeLoadCode)

	var users []proto.User
	frame := readUntil(t, ctx, connA, proto.TypeRoomUsers)
	for len(users) < 2 {
		if err := json.Unmarshal(frame.Data, &users); err != nil {
			t.Fatalf("unmarshal roster: %v", err)
		}
		if len(users) < 2 {
			frame = readUntil(t, ctx, connA, proto.TypeRoomUsers)
		}
	}
	if users[0].Name != "alice" || users[1].Name != "bob" {
		t.Fatalf("unexpected roster: %+v", users)
	}

	var chatIn proto.ChatInput
	chatIn.RoomID = "general"
	chatIn.Message.Text = "hi there"
	send(t, ctx, connA, proto.TypeChatMessage, chatIn)

	for _, conn := range []*websocket.Conn{connA, connB} {
		frame := readUntil(t, ctx, conn, proto.TypeChatMessage)
		var msg proto.ChatMessage
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			t.Fatalf("unmarshal chat: %v", err)
		}
		if msg.Text != "hi there" || msg.Meta.User != "alice" || msg.ID == "" || msg.CreatedAt == "" {
			t.Fatalf("unexpected chat payload: %+v", msg)
		}
	}
}

func TestWebSocketCodeChangeSkipsSender(t *testing.T) {
	env := startTestServer(t, "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := env.dial(t, ctx)
	connB := env.dial(t, ctx)

	send(t, ctx, connA, proto.TypeJoinRoom, proto.JoinData{RoomID: "pair", Name: "alice"})
	readUntil(t, ctx, connA, proto.TypeLoadCode)
	send(t, ctx, connB, proto.TypeJoinRoom, proto.JoinData{RoomID: "pair", Name: "bob"})
	readUntil(t, ctx, connB, proto.TypeLoadCode)

	send(t, ctx, connA, proto.TypeCodeChange, proto.CodeData{RoomID: "pair", Code: "abc"})

	frame := readUntil(t, ctx, connB, proto.TypeCodeChange)
	var code proto.CodeData
	if err := json.Unmarshal(frame.Data, &code); err != nil {
		t.Fatalf("unmarshal code: %v", err)
	}
	if code.Code != "abc" {
		t.Fatalf("unexpected code: %+v", code)
	}

	// The sender's next load-code must already carry the edit, with no
	// code-change echo in between.
	send(t, ctx, connA, proto.TypeResync, nil)
	for {
		frame := readFrame(t, ctx, connA)
		if frame.Event == proto.TypeCodeChange {
			t.Fatalf("sender received its own code-change")
		}
		if frame.Event == proto.TypeLoadCode {
			var load proto.CodeData
			if err := json.Unmarshal(frame.Data, &load); err != nil {
				t.Fatalf("unmarshal load: %v", err)
			}
			if load.Code != "abc" {
				t.Fatalf("unexpected resync code %q", load.Code)
			}
			return
		}
	}
}

func TestWebSocketCRDTJoinGetsSnapshot(t *testing.T) {
	env := startTestServer(t, "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx)
	send(t, ctx, conn, proto.TypeJoinRoom, proto.JoinData{RoomID: "crdt", Name: "carol", Mode: string(core.ModeCRDT)})

	frame := readUntil(t, ctx, conn, proto.TypeDocSnapshot)
	var snap proto.DocSnapshotData
	if err := json.Unmarshal(frame.Data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.Site == "" {
		t.Fatalf("snapshot without site: %+v", snap)
	}
}

func TestWebSocketRejectsMalformedFrames(t *testing.T) {
	env := startTestServer(t, "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx)

	if err := conn.Write(ctx, websocket.MessageText, []byte("{")); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readUntil(t, ctx, conn, proto.OutboundTypeError)
	if frame.Error == nil || frame.Error.Code != core.ErrCodeInvalidMessage {
		t.Fatalf("expected invalid_message, got %+v", frame)
	}

	send(t, ctx, conn, "no-such-type", nil)
	frame = readUntil(t, ctx, conn, proto.OutboundTypeError)
	if frame.Error == nil || frame.Error.Code != core.ErrCodeInvalidMessage {
		t.Fatalf("expected invalid_message, got %+v", frame)
	}

	send(t, ctx, conn, proto.TypeJoinRoom, proto.JoinData{})
	frame = readUntil(t, ctx, conn, proto.OutboundTypeError)
	if frame.Error == nil || frame.Error.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request, got %+v", frame)
	}

	// The connection survives bad input.
	send(t, ctx, conn, proto.TypeJoinRoom, proto.JoinData{RoomID: "ok"})
	readUntil(t, ctx, conn, proto.TypeLoadCode)
}

func TestWebSocketChatBeforeJoin(t *testing.T) {
	env := startTestServer(t, "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx)

	var chatIn proto.ChatInput
	chatIn.Message.Text = "hello?"
	send(t, ctx, conn, proto.TypeChatMessage, chatIn)

	frame := readUntil(t, ctx, conn, proto.OutboundTypeError)
	if frame.Error == nil || frame.Error.Code != core.ErrCodeNotInRoom {
		t.Fatalf("expected not_in_room, got %+v", frame)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	env := startTestServer(t, "", func(cfg *config.Config) {
		cfg.RateLimitPerMinute = 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx)

	send(t, ctx, conn, proto.TypeHello, proto.HelloData{Protocol: proto.ProtocolVersion})
	send(t, ctx, conn, proto.TypeJoinRoom, proto.JoinData{RoomID: "busy"})

	frame := readUntil(t, ctx, conn, proto.OutboundTypeError)
	if frame.Error == nil || frame.Error.Code != core.ErrCodeRateLimited {
		t.Fatalf("expected rate_limited, got %+v", frame)
	}
}

func TestWebSocketReadLimit(t *testing.T) {
	env := startTestServer(t, "", func(cfg *config.Config) {
		cfg.MaxMessageBytes = 64
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx)

	big := make([]byte, 1024)
	for i := range big {
		big[i] = 'x'
	}
	send(t, ctx, conn, proto.TypeCodeChange, proto.CodeData{Code: string(big)})

	for {
		_, _, err := conn.Read(ctx)
		if err == nil {
			continue
		}
		if status := websocket.CloseStatus(err); status != websocket.StatusMessageTooBig {
			t.Fatalf("expected message too big close, got %v", err)
		}
		return
	}
}
