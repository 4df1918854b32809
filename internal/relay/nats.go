package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig holds NATS relay settings.
type NATSConfig struct {
	URL           string
	Subject       string
	Origin        string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NATS relays envelopes over a core NATS subject.
type NATS struct {
	nc      *nats.Conn
	subject string
	origin  string
	logger  *zerolog.Logger
	done    chan struct{}
	once    sync.Once
}

// NewNATS connects to the NATS server at cfg.URL.
func NewNATS(cfg NATSConfig, logger *zerolog.Logger) (*NATS, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url missing")
	}
	if cfg.Subject == "" {
		cfg.Subject = "wirecode.rooms"
	}
	if cfg.Name == "" {
		cfg.Name = "wirecode-" + cfg.Origin
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &NATS{
		nc:      nc,
		subject: cfg.Subject,
		origin:  cfg.Origin,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

func (n *NATS) Origin() string { return n.origin }

func (n *NATS) Publish(_ context.Context, env *Envelope) error {
	env.Origin = n.origin
	data, err := Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := n.nc.Publish(n.subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (n *NATS) Subscribe(ctx context.Context) (<-chan *Envelope, error) {
	msgs := make(chan *nats.Msg, subscriberBuffer)
	sub, err := n.nc.ChanSubscribe(n.subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	if err := n.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", err)
	}

	out := make(chan *Envelope, subscriberBuffer)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case <-ctx.Done():
				return
			case <-n.done:
				return
			case msg := <-msgs:
				if _, err := deliver(n.origin, msg.Data, out); err != nil {
					n.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("drop malformed relay envelope")
				}
			}
		}
	}()
	return out, nil
}

// Close stops subscriptions and closes the connection.
func (n *NATS) Close() error {
	n.once.Do(func() {
		close(n.done)
		n.nc.Close()
	})
	return nil
}
