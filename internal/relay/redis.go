package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds Redis relay settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Origin   string
}

// Redis relays envelopes over a Redis pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *zerolog.Logger

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig, logger *zerolog.Logger) (*Redis, error) {
	if cfg.Channel == "" {
		cfg.Channel = "wirecode:rooms"
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{
		client:  client,
		channel: cfg.Channel,
		origin:  cfg.Origin,
		logger:  logger,
	}, nil
}

func (r *Redis) Origin() string { return r.origin }

func (r *Redis) Publish(ctx context.Context, env *Envelope) error {
	env.Origin = r.origin
	data, err := Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context) (<-chan *Envelope, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	// Wait for the subscription to be confirmed so nothing published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	r.mu.Lock()
	r.subs = append(r.subs, pubsub)
	r.mu.Unlock()

	out := make(chan *Envelope, subscriberBuffer)
	go r.processMessages(ctx, pubsub, out)
	return out, nil
}

// processMessages reads messages from the Redis pubsub and forwards envelopes
// from other instances.
func (r *Redis) processMessages(ctx context.Context, pubsub *redis.PubSub, out chan<- *Envelope) {
	defer close(out)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = pubsub.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := deliver(r.origin, []byte(msg.Payload), out); err != nil {
				r.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("drop malformed relay envelope")
			}
		}
	}
}

// Close closes all subscriptions and the Redis client.
func (r *Redis) Close() error {
	r.mu.Lock()
	for _, pubsub := range r.subs {
		_ = pubsub.Close()
	}
	r.subs = nil
	r.mu.Unlock()

	return r.client.Close()
}
