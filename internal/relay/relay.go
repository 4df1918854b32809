// Package relay forwards room traffic between server instances that serve the
// same rooms. Envelopes are CBOR encoded; every instance ignores envelopes it
// published itself.
package relay

import (
	"context"
	"errors"

	"github.com/vovakirdan/wirecode-server/internal/crdt"
	"github.com/vovakirdan/wirecode-server/internal/store"
)

// subscriberBuffer bounds the per-subscription queue. Envelopes beyond it are
// dropped; affected rooms recover on the next reseed.
const subscriberBuffer = 100

// ErrClosed is returned by operations on a closed relay.
var ErrClosed = errors.New("relay closed")

// Kind tells what an envelope carries.
type Kind string

const (
	KindOps      Kind = "ops"
	KindLanguage Kind = "language"
	KindChat     Kind = "chat"
)

// Envelope is the unit exchanged between instances.
type Envelope struct {
	Origin   string         `cbor:"origin"`
	Room     string         `cbor:"room"`
	Kind     Kind           `cbor:"kind"`
	Ops      []crdt.Op      `cbor:"ops,omitempty"`
	Language string         `cbor:"language,omitempty"`
	Message  *store.Message `cbor:"message,omitempty"`
}

// Relay publishes envelopes to and receives envelopes from peer instances.
type Relay interface {
	// Publish sends env to every other instance. Origin is filled in.
	Publish(ctx context.Context, env *Envelope) error

	// Subscribe returns envelopes from other instances. The channel is closed
	// when ctx is cancelled or the relay is closed.
	Subscribe(ctx context.Context) (<-chan *Envelope, error)

	// Origin is this instance's identifier.
	Origin() string

	Close() error
}

// deliver decodes a payload and queues it unless it came from origin.
// Reports false when the envelope was dropped.
func deliver(origin string, payload []byte, out chan<- *Envelope) (bool, error) {
	var env Envelope
	if err := Unmarshal(payload, &env); err != nil {
		return false, err
	}
	if env.Origin == origin {
		return false, nil
	}
	select {
	case out <- &env:
		return true, nil
	default:
		return false, nil
	}
}
