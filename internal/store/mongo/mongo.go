// Package mongo implements store.Store on MongoDB. Room records live in the
// "rooms" collection keyed by a unique roomId; chat messages live in
// "messages" with an index on {roomId, createdAt desc}.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vovakirdan/wirecode-server/internal/store"
)

const (
	roomsCollection    = "rooms"
	messagesCollection = "messages"
)

// Config holds connection settings.
type Config struct {
	URI            string
	Database       string
	MaxPoolSize    uint64
	ConnectTimeout time.Duration
}

type roomDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	RoomID    string             `bson:"roomId"`
	Code      string             `bson:"code"`
	Language  string             `bson:"language"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

type messageMeta struct {
	SocketID string `bson:"socketId"`
	User     string `bson:"user"`
}

type messageDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	RoomID    string             `bson:"roomId"`
	Text      string             `bson:"text"`
	CreatedAt time.Time          `bson:"createdAt"`
	Meta      messageMeta        `bson:"meta"`
}

// MongoStore implements store.Store for MongoDB.
type MongoStore struct {
	client   *mongo.Client
	rooms    *mongo.Collection
	messages *mongo.Collection
}

// New connects to MongoDB, verifies the connection and ensures indexes.
func New(ctx context.Context, cfg Config) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "codeeditor"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := options.Client().ApplyURI(cfg.URI).SetServerSelectionTimeout(cfg.ConnectTimeout)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &MongoStore{
		client:   client,
		rooms:    db.Collection(roomsCollection),
		messages: db.Collection(messagesCollection),
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.rooms.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "roomId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("create rooms index: %w", err)
	}
	if _, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "createdAt", Value: -1}},
	}); err != nil {
		return fmt.Errorf("create messages index: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// GetRoom retrieves a room by its identifier.
func (s *MongoStore) GetRoom(ctx context.Context, roomID string) (*store.Room, error) {
	var doc roomDoc
	err := s.rooms.FindOne(ctx, bson.M{"roomId": roomID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("room %q: %w", roomID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("find room: %w", err)
	}
	return doc.toRoom(), nil
}

// CreateRoom inserts the room if it does not exist yet and returns the stored record.
func (s *MongoStore) CreateRoom(ctx context.Context, room *store.Room) (*store.Room, error) {
	update := bson.M{"$setOnInsert": bson.M{
		"roomId":    room.RoomID,
		"code":      room.Code,
		"language":  room.Language,
		"createdAt": room.CreatedAt.UTC(),
		"updatedAt": room.UpdatedAt.UTC(),
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc roomDoc
	err := s.rooms.FindOneAndUpdate(ctx, bson.M{"roomId": room.RoomID}, update, opts).Decode(&doc)
	if err != nil {
		// Two concurrent upserts can race on the unique index; the loser reads the winner.
		if mongo.IsDuplicateKeyError(err) {
			return s.GetRoom(ctx, room.RoomID)
		}
		return nil, fmt.Errorf("create room: %w", err)
	}
	return doc.toRoom(), nil
}

// UpsertDocument stores the latest code and language of a room.
func (s *MongoStore) UpsertDocument(ctx context.Context, roomID, code, language string, updatedAt time.Time) error {
	ts := updatedAt.UTC()
	update := bson.M{
		"$set":         bson.M{"code": code, "language": language, "updatedAt": ts},
		"$setOnInsert": bson.M{"createdAt": ts},
	}
	_, err := s.rooms.UpdateOne(ctx, bson.M{"roomId": roomID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert room document: %w", err)
	}
	return nil
}

// SaveMessage persists a message and assigns its ID.
func (s *MongoStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	doc := messageDoc{
		RoomID:    msg.RoomID,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt.UTC(),
		Meta:      messageMeta{SocketID: msg.SocketID, User: msg.Author},
	}
	res, err := s.messages.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		msg.ID = oid.Hex()
	}
	return nil
}

// ListRecentMessages returns up to limit messages of a room, newest first.
func (s *MongoStore) ListRecentMessages(ctx context.Context, roomID string, limit int) ([]*store.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.messages.Find(ctx, bson.M{"roomId": roomID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []*store.Message
	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		messages = append(messages, &store.Message{
			ID:        doc.ID.Hex(),
			RoomID:    doc.RoomID,
			Text:      doc.Text,
			Author:    doc.Meta.User,
			SocketID:  doc.Meta.SocketID,
			CreatedAt: doc.CreatedAt,
		})
	}
	return messages, cursor.Err()
}

func (d *roomDoc) toRoom() *store.Room {
	return &store.Room{
		RoomID:    d.RoomID,
		Code:      d.Code,
		Language:  d.Language,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
