// Package rooms maps room identifiers to their persisted document state.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/wirecode-server/internal/store"
)

// DefaultLanguage is assigned to rooms created without an explicit language.
const DefaultLanguage = "javascript"

// ErrEmptyRoomID is returned when a room identifier is blank.
var ErrEmptyRoomID = errors.New("room id is required")

// Registry creates and updates room records.
type Registry struct {
	store    store.RoomStore
	language string
	now      func() time.Time
	sf       singleflight.Group
}

// Option customises a Registry.
type Option func(*Registry)

// WithDefaultLanguage overrides the language of newly created rooms.
func WithDefaultLanguage(lang string) Option {
	return func(r *Registry) {
		if lang != "" {
			r.language = lang
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry builds a registry backed by s.
func NewRegistry(s store.RoomStore, opts ...Option) *Registry {
	r := &Registry{
		store:    s,
		language: DefaultLanguage,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultLanguage reports the language given to new rooms.
func (r *Registry) DefaultLanguage() string {
	return r.language
}

// GetOrCreate returns the room, creating and persisting an empty one if absent.
// Concurrent calls for the same room share a single store round trip.
func (r *Registry) GetOrCreate(ctx context.Context, roomID string) (*store.Room, error) {
	if roomID == "" {
		return nil, ErrEmptyRoomID
	}

	v, err, _ := r.sf.Do(roomID, func() (any, error) {
		room, err := r.store.GetRoom(ctx, roomID)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("get room: %w", err)
		}

		now := r.now().UTC()
		room, err = r.store.CreateRoom(ctx, &store.Room{
			RoomID:    roomID,
			Language:  r.language,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return nil, fmt.Errorf("create room: %w", err)
		}
		return room, nil
	})
	if err != nil {
		return nil, err
	}

	room, ok := v.(*store.Room)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	// Callers may mutate their copy.
	cp := *room
	return &cp, nil
}

// UpdateDocument stores text and language for a room and bumps its timestamp.
func (r *Registry) UpdateDocument(ctx context.Context, roomID, text, language string) error {
	if roomID == "" {
		return ErrEmptyRoomID
	}
	if language == "" {
		language = r.language
	}
	if err := r.store.UpsertDocument(ctx, roomID, text, language, r.now().UTC()); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

// Get returns the stored room or an error wrapping store.ErrNotFound.
func (r *Registry) Get(ctx context.Context, roomID string) (*store.Room, error) {
	if roomID == "" {
		return nil, ErrEmptyRoomID
	}
	return r.store.GetRoom(ctx, roomID)
}
