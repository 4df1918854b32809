package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/wirecode-server/internal/store"
)

// Schema is applied on startup. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS rooms (
	room_id    TEXT PRIMARY KEY,
	code       TEXT NOT NULL DEFAULT '',
	language   TEXT NOT NULL DEFAULT 'javascript',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id    TEXT NOT NULL,
	text       TEXT NOT NULL,
	author     TEXT NOT NULL,
	socket_id  TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, created_at DESC);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies Schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema against ":memory:".
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits before setup; an in-memory database lives
	// only as long as its single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== RoomStore implementation ====

// GetRoom retrieves a room by its identifier.
func (s *SQLiteStore) GetRoom(ctx context.Context, roomID string) (*store.Room, error) {
	query := `
		SELECT room_id, code, language, created_at, updated_at
		FROM rooms
		WHERE room_id = ?
	`
	var room store.Room
	err := s.db.QueryRowContext(ctx, query, roomID).Scan(
		&room.RoomID,
		&room.Code,
		&room.Language,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %q: %w", roomID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query room: %w", err)
	}

	return &room, nil
}

// CreateRoom inserts the room if it does not exist yet and returns the stored record.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *store.Room) (*store.Room, error) {
	query := `
		INSERT INTO rooms (room_id, code, language, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(room_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query,
		room.RoomID, room.Code, room.Language, room.CreatedAt.UTC(), room.UpdatedAt.UTC(),
	); err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}

	return s.GetRoom(ctx, room.RoomID)
}

// UpsertDocument stores the latest code and language of a room.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, roomID, code, language string, updatedAt time.Time) error {
	query := `
		INSERT INTO rooms (room_id, code, language, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			code = excluded.code,
			language = excluded.language,
			updated_at = excluded.updated_at
	`
	ts := updatedAt.UTC()
	if _, err := s.db.ExecContext(ctx, query, roomID, code, language, ts, ts); err != nil {
		return fmt.Errorf("upsert room document: %w", err)
	}
	return nil
}

// ==== MessageStore implementation ====

// SaveMessage persists a message and assigns its ID.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (room_id, text, author, socket_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, msg.RoomID, msg.Text, msg.Author, msg.SocketID, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	msg.ID = strconv.FormatInt(id, 10)
	return nil
}

// ListRecentMessages returns up to limit messages of a room, newest first.
func (s *SQLiteStore) ListRecentMessages(ctx context.Context, roomID string, limit int) ([]*store.Message, error) {
	query := `
		SELECT id, room_id, text, author, socket_id, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		var id int64
		if err := rows.Scan(&id, &msg.RoomID, &msg.Text, &msg.Author, &msg.SocketID, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ID = strconv.FormatInt(id, 10)
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}
