package core

import "sync"

// Mode selects how a client exchanges document edits.
type Mode string

const (
	// ModeText clients send and receive the whole buffer on every change.
	ModeText Mode = "text"
	// ModeCRDT clients hold a replica and exchange operations.
	ModeCRDT Mode = "crdt"
)

// ParseMode maps a wire value to a Mode. Unknown values fall back to text.
func ParseMode(s string) Mode {
	if Mode(s) == ModeCRDT {
		return ModeCRDT
	}
	return ModeText
}

// Client is an editor connection as seen by the core layer.
type Client struct {
	ID       string
	Commands chan *Command
	Events   chan *Event

	// Owned by the hub goroutine.
	name  string
	mode  Mode
	gone  bool
	stale bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client with initialized channels.
func NewClient(id string) *Client {
	return &Client{
		ID:       id,
		Commands: make(chan *Command, 16),
		Events:   make(chan *Event, 64),
		mode:     ModeText,
		done:     make(chan struct{}),
	}
}

// send delivers ev unless the client is not keeping up and reports whether
// it was queued.
func (c *Client) send(ev *Event) bool {
	if c.gone {
		return false
	}
	select {
	case c.Events <- ev:
		return true
	default:
		// Drop if slow consumer.
		return false
	}
}

// sendAll queues evs together or not at all. Only the hub goroutine writes
// to Events, so free space can only grow between the check and the sends.
func (c *Client) sendAll(evs ...*Event) bool {
	if c.gone || cap(c.Events)-len(c.Events) < len(evs) {
		return false
	}
	for _, ev := range evs {
		c.Events <- ev
	}
	return true
}
