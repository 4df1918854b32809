// Package presence tracks which connection is in which room under which name.
// Membership is ephemeral and never persisted.
package presence

import "sync"

// DefaultName is used when a member joins without a display name.
const DefaultName = "Anonymous"

// Member is a live connection's membership in a room.
type Member struct {
	ConnID string `json:"id"`
	Name   string `json:"name"`
	RoomID string `json:"-"`
}

// Tracker maps connections to rooms. Safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	byConn map[string]Member
	// byRoom keeps members of each room in join order.
	byRoom map[string][]string
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byConn: make(map[string]Member),
		byRoom: make(map[string][]string),
	}
}

// Join registers connID as a member of roomID. A connection belongs to at
// most one room: joining another room first leaves the previous one, which is
// returned with moved set so the caller can refresh that room's roster.
// Joining the same room again only updates the display name.
func (t *Tracker) Join(connID, roomID, name string) (prev Member, moved bool) {
	if name == "" {
		name = DefaultName
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.byConn[connID]; ok {
		if cur.RoomID == roomID {
			cur.Name = name
			t.byConn[connID] = cur
			return Member{}, false
		}
		t.removeLocked(cur)
		prev, moved = cur, true
	}

	t.byConn[connID] = Member{ConnID: connID, Name: name, RoomID: roomID}
	t.byRoom[roomID] = append(t.byRoom[roomID], connID)
	return prev, moved
}

// Leave removes connID's membership. Reports false if it had none.
func (t *Tracker) Leave(connID string) (Member, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.byConn[connID]
	if !ok {
		return Member{}, false
	}
	t.removeLocked(m)
	return m, true
}

func (t *Tracker) removeLocked(m Member) {
	delete(t.byConn, m.ConnID)

	ids := t.byRoom[m.RoomID]
	for i, id := range ids {
		if id == m.ConnID {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(t.byRoom, m.RoomID)
		return
	}
	t.byRoom[m.RoomID] = ids
}

// Roster returns the members of roomID in join order.
func (t *Tracker) Roster(roomID string) []Member {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := t.byRoom[roomID]
	roster := make([]Member, 0, len(ids))
	for _, id := range ids {
		roster = append(roster, t.byConn[id])
	}
	return roster
}

// Lookup returns the membership of connID.
func (t *Tracker) Lookup(connID string) (Member, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m, ok := t.byConn[connID]
	return m, ok
}

// Rooms lists rooms that have at least one member.
func (t *Tracker) Rooms() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rooms := make([]string, 0, len(t.byRoom))
	for id := range t.byRoom {
		rooms = append(rooms, id)
	}
	return rooms
}

// Count returns the number of members in roomID.
func (t *Tracker) Count(roomID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.byRoom[roomID])
}
