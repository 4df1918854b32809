package relay

import (
	"context"
	"fmt"
	"sync"
)

// Bus connects Local relays inside one process. Envelopes still go through
// the CBOR codec so local and networked deployments behave alike.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Local][]chan *Envelope
}

// NewBus returns an empty in-process bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Local][]chan *Envelope)}
}

// Join attaches a new relay with the given origin to the bus.
func (b *Bus) Join(origin string) *Local {
	return &Local{bus: b, origin: origin}
}

// Local is the in-process relay driver. A Local created with NewLocal has a
// private bus and therefore never receives anything.
type Local struct {
	bus    *Bus
	origin string

	mu     sync.Mutex
	closed bool
}

// NewLocal returns a relay for single-instance deployments.
func NewLocal(origin string) *Local {
	return NewBus().Join(origin)
}

func (l *Local) Origin() string { return l.origin }

func (l *Local) Publish(_ context.Context, env *Envelope) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}

	env.Origin = l.origin
	data, err := Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	l.bus.mu.RLock()
	defer l.bus.mu.RUnlock()
	for peer, chans := range l.bus.subs {
		if peer == l {
			continue
		}
		for _, ch := range chans {
			_, _ = deliver(l.origin, data, ch)
		}
	}
	return nil
}

func (l *Local) Subscribe(ctx context.Context) (<-chan *Envelope, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	ch := make(chan *Envelope, subscriberBuffer)
	l.bus.mu.Lock()
	l.bus.subs[l] = append(l.bus.subs[l], ch)
	l.bus.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.unsubscribe(ch)
	}()
	return ch, nil
}

func (l *Local) unsubscribe(ch chan *Envelope) {
	l.bus.mu.Lock()
	defer l.bus.mu.Unlock()

	chans := l.bus.subs[l]
	for i, c := range chans {
		if c == ch {
			close(c)
			chans = append(chans[:i:i], chans[i+1:]...)
			break
		}
	}
	if len(chans) == 0 {
		delete(l.bus.subs, l)
		return
	}
	l.bus.subs[l] = chans
}

// Close detaches the relay and closes its subscriptions.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.bus.mu.Lock()
	defer l.bus.mu.Unlock()
	for _, ch := range l.bus.subs[l] {
		close(ch)
	}
	delete(l.bus.subs, l)
	return nil
}
