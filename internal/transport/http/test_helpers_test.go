package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecode-server/internal/chat"
	"github.com/vovakirdan/wirecode-server/internal/config"
	"github.com/vovakirdan/wirecode-server/internal/core"
	"github.com/vovakirdan/wirecode-server/internal/executor"
	"github.com/vovakirdan/wirecode-server/internal/proto"
	"github.com/vovakirdan/wirecode-server/internal/rooms"
	"github.com/vovakirdan/wirecode-server/internal/store/sqlite"
)

type testEnv struct {
	ts       *httptest.Server
	store    *sqlite.SQLiteStore
	registry *rooms.Registry
	chat     *chat.Log
	hub      *core.Hub
}

// createTestStore creates an in-memory SQLite store with schema applied.
func createTestStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", func(db *sql.DB) error {
		_, err := db.Exec(sqlite.Schema)
		return err
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// startTestServer runs a hub and the HTTP server. executorURL may be empty
// when a test does not run code.
func startTestServer(t *testing.T, executorURL string, mutate func(*config.Config)) *testEnv {
	t.Helper()

	st := createTestStore(t)
	logger := zerolog.Nop()

	registry := rooms.NewRegistry(st)
	chatLog := chat.NewLog(st)
	hub := core.NewHub(core.Options{
		Registry: registry,
		Chat:     chatLog,
		Logger:   &logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = hub.Run(ctx)
	}()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	if executorURL == "" {
		executorURL = "http://127.0.0.1:1"
	}

	server := NewServer(Deps{
		Hub:      hub,
		Registry: registry,
		Chat:     chatLog,
		Executor: executor.NewClient(executorURL, 2*time.Second),
	}, &cfg, &logger)

	ts := httptest.NewServer(server.Handler)
	// Cleanups run last-in first-out: server, then hub, then store.
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: st, registry: registry, chat: chatLog, hub: hub}
}

func (e *testEnv) dial(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal %s: %v", typ, err)
		}
		raw = b
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: raw}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

type outboundFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

// readUntil returns the first frame matching event, skipping others.
// Use event "error" to wait for an error frame.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, event string) outboundFrame {
	t.Helper()

	for {
		var frame outboundFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if frame.Event == event || (event == proto.OutboundTypeError && frame.Type == proto.OutboundTypeError) {
			return frame
		}
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) outboundFrame {
	t.Helper()

	var frame outboundFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}
