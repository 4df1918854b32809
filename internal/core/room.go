package core

import (
	"time"

	"github.com/vovakirdan/wirecode-server/internal/crdt"
)

// Room is the live state of a room on this instance. It is owned by the hub
// goroutine.
type Room struct {
	Name     string
	doc      *crdt.Doc
	language string
	clients  map[*Client]struct{}

	loaded  bool
	waiting []*Client

	dirty    bool
	flushing bool

	chatBusy  bool
	chatQueue []chatRequest

	emptySince time.Time
}

type chatRequest struct {
	client *Client
	author string
	text   string
}

// NewRoom constructs a room that still has to load its document.
func NewRoom(name string) *Room {
	return &Room{
		Name:    name,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	r.emptySince = time.Time{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client, now time.Time) bool {
	if _, exists := r.clients[c]; !exists {
		r.dropWaiting(c)
		return false
	}
	delete(r.clients, c)
	if len(r.clients) == 0 {
		r.emptySince = now
	}
	return true
}

func (r *Room) dropWaiting(c *Client) {
	for i, w := range r.waiting {
		if w == c {
			r.waiting = append(r.waiting[:i:i], r.waiting[i+1:]...)
			return
		}
	}
}

// Broadcast sends an event to all clients in the room.
func (r *Room) Broadcast(event *Event) {
	for client := range r.clients {
		client.send(event)
	}
}

// BroadcastExcept sends an event to every client but sender.
func (r *Room) BroadcastExcept(event *Event, sender *Client) {
	for client := range r.clients {
		if client != sender {
			client.send(event)
		}
	}
}

// broadcastEdit tells every client except sender about ops, in the form each
// client's mode expects. Text clients only hear about it when the text
// changed. A client that misses an edit is marked stale and gets the whole
// document again instead of further edits.
func (r *Room) broadcastEdit(ops []crdt.Op, textChanged bool, sender *Client) {
	var opsEv, textEv *Event
	for client := range r.clients {
		if client == sender {
			continue
		}
		if client.stale {
			r.resync(client)
			continue
		}
		switch client.mode {
		case ModeCRDT:
			if len(ops) == 0 {
				continue
			}
			if opsEv == nil {
				opsEv = &Event{Kind: EventDocOps, Room: r.Name, Ops: ops}
			}
			if !client.send(opsEv) {
				client.stale = true
			}
		default:
			if !textChanged {
				continue
			}
			if textEv == nil {
				textEv = &Event{Kind: EventCodeChange, Room: r.Name, Code: r.doc.Text(), Language: r.language}
			}
			if !client.send(textEv) {
				client.stale = true
			}
		}
	}
}

// snapshotEvents is the full document as c's mode expects it.
func (r *Room) snapshotEvents(c *Client) []*Event {
	evs := []*Event{{Kind: EventLoadCode, Room: r.Name, Code: r.doc.Text(), Language: r.language}}
	if c.mode == ModeCRDT {
		snap := r.doc.Snapshot()
		evs = append(evs, &Event{Kind: EventDocSnapshot, Room: r.Name, Site: c.ID, Snapshot: &snap})
	}
	return evs
}

// resync sends c the whole document. c stays stale until that fits in its
// buffer.
func (r *Room) resync(c *Client) {
	c.stale = !c.sendAll(r.snapshotEvents(c)...)
}

// resyncStale retries clients that are still waiting for a snapshot.
func (r *Room) resyncStale() {
	for client := range r.clients {
		if client.stale {
			r.resync(client)
		}
	}
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}

// idle reports whether the room can be dropped from memory.
func (r *Room) idle(now time.Time, ttl time.Duration) bool {
	return r.loaded && r.Empty() && len(r.waiting) == 0 &&
		!r.dirty && !r.flushing && !r.chatBusy &&
		!r.emptySince.IsZero() && now.Sub(r.emptySince) >= ttl
}
