package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/wirecode-server/internal/store"
)

// newTestStore connects to the database named by WIRECODE_TEST_MONGO_URI and
// isolates each test in its own database.
func newTestStore(t *testing.T) *MongoStore {
	t.Helper()

	uri := os.Getenv("WIRECODE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("WIRECODE_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbName := "wirecode_test_" + uuid.NewString()[:8]
	s, err := New(ctx, Config{URI: uri, Database: dbName})
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() {
		_ = s.rooms.Database().Drop(context.Background())
		_ = s.Close()
	})
	return s
}

func TestMongoRoomLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	if _, err := s.GetRoom(ctx, "abc"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	room, err := s.CreateRoom(ctx, &store.Room{RoomID: "abc", Language: "javascript", CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if room.Language != "javascript" || room.Code != "" {
		t.Fatalf("unexpected room: %+v", room)
	}

	if err := s.UpsertDocument(ctx, "abc", "fmt.Println(1)", "go", now.Add(time.Second)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	again, err := s.CreateRoom(ctx, &store.Room{RoomID: "abc", Language: "javascript", CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatalf("create room again: %v", err)
	}
	if again.Code != "fmt.Println(1)" || again.Language != "go" {
		t.Fatalf("expected stored document to survive, got %+v", again)
	}
}

func TestMongoRecentMessagesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := range 4 {
		msg := &store.Message{
			RoomID:    "abc",
			Text:      fmt.Sprintf("m%d", i),
			Author:    "alice",
			SocketID:  "sock-1",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("save: %v", err)
		}
		if msg.ID == "" {
			t.Fatalf("expected id to be assigned")
		}
	}

	msgs, err := s.ListRecentMessages(ctx, "abc", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Text != "m3" || msgs[1].Text != "m2" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if msgs[0].Author != "alice" || msgs[0].SocketID != "sock-1" {
		t.Fatalf("unexpected meta: %+v", msgs[0])
	}
}
