package core

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/wirecode-server/internal/chat"
	"github.com/vovakirdan/wirecode-server/internal/presence"
	"github.com/vovakirdan/wirecode-server/internal/rooms"
	"github.com/vovakirdan/wirecode-server/internal/store/sqlite"
)

type testHub struct {
	*Hub
	store    *sqlite.SQLiteStore
	registry *rooms.Registry
	chat     *chat.Log
	cancel   context.CancelFunc
	stopped  chan struct{}
}

// newTestHub starts a hub over an in-memory database. The hub is stopped
// before the database is closed.
func newTestHub(tb testing.TB, opts Options) *testHub {
	tb.Helper()

	s, err := sqlite.NewWithSetup(":memory:", func(db *sql.DB) error {
		_, err := db.Exec(sqlite.Schema)
		return err
	})
	if err != nil {
		tb.Fatalf("failed to create store: %v", err)
	}
	tb.Cleanup(func() { _ = s.Close() })

	opts.Registry = rooms.NewRegistry(s)
	opts.Chat = chat.NewLog(s)
	th := &testHub{
		Hub:      NewHub(opts),
		store:    s,
		registry: opts.Registry,
		chat:     opts.Chat,
		stopped:  make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	th.cancel = cancel
	go func() {
		defer close(th.stopped)
		_ = th.Run(ctx)
	}()
	tb.Cleanup(th.stop)
	return th
}

func (th *testHub) stop() {
	th.cancel()
	<-th.stopped
}

func (th *testHub) connect(id string) *Client {
	c := NewClient(id)
	th.RegisterClient(c)
	return c
}

func mustEvent(t testing.TB, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// mustRoster waits for a room-users event listing exactly names, in order.
func mustRoster(t testing.TB, ch <-chan *Event, names ...string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	var last []presence.Member
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil || ev.Kind != EventRoomUsers {
				continue
			}
			last = ev.Users
			if rosterNames(ev.Users) == joinNames(names) {
				return
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected roster %v, last seen %+v", names, last)
}

func rosterNames(users []presence.Member) string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Name)
	}
	return joinNames(names)
}

func joinNames(names []string) string {
	return strings.Join(names, ",")
}

// noEvent fails if an event of kind arrives within wait.
func noEvent(t testing.TB, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event %v: %+v", kind, ev)
			}
		case <-timer.C:
			return
		}
	}
}

// join sends a join command and waits until the client is attached.
func join(t testing.TB, c *Client, room, name string, mode Mode) *Event {
	t.Helper()
	c.Commands <- &Command{Kind: CommandJoinRoom, Room: room, Name: name, Mode: mode}
	return mustEvent(t, c.Events, EventLoadCode)
}

// barrier returns once every command c sent before it has been processed.
func barrier(t testing.TB, c *Client) *Event {
	t.Helper()
	c.Commands <- &Command{Kind: CommandResync}
	return mustEvent(t, c.Events, EventLoadCode)
}

func eventually(t testing.TB, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
