// Package client is a collaborative editing session that keeps a local
// replica of a room document in sync with the server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecode-server/internal/crdt"
	"github.com/vovakirdan/wirecode-server/internal/proto"
)

const (
	defaultReconnectDelay    = 250 * time.Millisecond
	defaultMaxReconnectDelay = 10 * time.Second

	// MaxUnacked is how many local operations a session keeps before it
	// asks the server for a snapshot to confirm them.
	MaxUnacked = 512
)

var (
	// ErrNotReady is returned by edits made before the first snapshot.
	ErrNotReady = errors.New("session not seeded yet")
	// ErrClosed is returned after Run has returned.
	ErrClosed = errors.New("session closed")
)

// Options configures a Session. URL and Room are required.
type Options struct {
	URL    string
	Room   string
	Name   string
	Logger *zerolog.Logger

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	// Callbacks run on the session's read goroutine.
	OnChange   func(text string)
	OnLanguage func(language string)
	OnChat     func(msg proto.ChatMessage)
	OnUsers    func(users []proto.User)
	OnError    func(err proto.Error)
}

// Session is a crdt-mode editor connection. Edits apply to the local replica
// first and are shipped afterwards; when the connection drops the session
// redials, reseeds from the server snapshot and resends edits the snapshot
// does not contain.
type Session struct {
	opts Options
	log  *zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	doc       *crdt.Doc
	language  string
	unacked   []crdt.Op
	resyncing bool
	closed    bool

	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a session. Call Run to connect.
func New(opts Options) *Session {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Session{
		opts:  opts,
		log:   logger,
		ready: make(chan struct{}),
	}
}

// Run keeps the session connected until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		s.mu.Lock()
		s.closed = true
		s.conn = nil
		s.mu.Unlock()
	}()

	delay := s.opts.ReconnectDelay
	for {
		seeded, err := s.serve(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if seeded {
			delay = s.opts.ReconnectDelay
		}
		s.log.Warn().Err(err).Dur("retry_in", delay).Str("room_id", s.opts.Room).Msg("session disconnected")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, s.opts.MaxReconnectDelay)
	}
}

// Ready blocks until the replica has been seeded once.
func (s *Session) Ready(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Text returns the local replica text.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return ""
	}
	return s.doc.Text()
}

// Language returns the room language last announced by the server.
func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// Unacked reports how many local operations the server has not confirmed
// through a snapshot.
func (s *Session) Unacked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unacked)
}

// Insert inserts text at rune position pos.
func (s *Session) Insert(ctx context.Context, pos int, text string) error {
	return s.edit(ctx, func(d *crdt.Doc) ([]crdt.Op, error) { return d.Insert(pos, text) })
}

// Delete removes n runes starting at pos.
func (s *Session) Delete(ctx context.Context, pos, n int) error {
	return s.edit(ctx, func(d *crdt.Doc) ([]crdt.Op, error) { return d.Delete(pos, n) })
}

// Replace turns the buffer into text with a minimal prefix/suffix edit.
func (s *Session) Replace(ctx context.Context, text string) error {
	return s.edit(ctx, func(d *crdt.Doc) ([]crdt.Op, error) { return d.Replace(text) })
}

func (s *Session) edit(ctx context.Context, fn func(*crdt.Doc) ([]crdt.Op, error)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.doc == nil {
		s.mu.Unlock()
		return ErrNotReady
	}
	ops, err := fn(s.doc)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if len(ops) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.unacked = append(s.unacked, ops...)
	text := s.doc.Text()
	conn := s.conn
	confirm := conn != nil && s.needConfirm()
	s.mu.Unlock()

	s.notifyChange(text)

	if conn == nil {
		// Shipped after the next reseed.
		return nil
	}
	if err := s.write(ctx, conn, proto.TypeDocOp, proto.DocOpData{Ops: ops}); err != nil {
		s.log.Debug().Err(err).Msg("send doc-op, will resend after reconnect")
		return nil
	}
	if confirm {
		s.requestResync(ctx, conn)
	}
	return nil
}

// needConfirm reports whether enough edits piled up to ask for a snapshot
// and marks the request as sent. Callers hold s.mu.
func (s *Session) needConfirm() bool {
	if len(s.unacked) < MaxUnacked || s.resyncing {
		return false
	}
	s.resyncing = true
	return true
}

func (s *Session) requestResync(ctx context.Context, conn *websocket.Conn) {
	if err := s.write(ctx, conn, proto.TypeResync, struct{}{}); err != nil {
		s.log.Debug().Err(err).Msg("request resync")
	}
}

// SetLanguage switches the room language.
func (s *Session) SetLanguage(ctx context.Context, language string) error {
	conn, err := s.current()
	if err != nil {
		return err
	}
	if err := s.write(ctx, conn, proto.TypeLanguageChange, proto.LanguageData{Language: language}); err != nil {
		return err
	}
	s.mu.Lock()
	s.language = language
	s.mu.Unlock()
	return nil
}

// Chat sends a chat message to the room.
func (s *Session) Chat(ctx context.Context, text string) error {
	conn, err := s.current()
	if err != nil {
		return err
	}
	var in proto.ChatInput
	in.RoomID = s.opts.Room
	in.Message.Text = text
	return s.write(ctx, conn, proto.TypeChatMessage, in)
}

// Cursor shares the caret position and selection with other members.
func (s *Session) Cursor(ctx context.Context, position, selection json.RawMessage) error {
	conn, err := s.current()
	if err != nil {
		return err
	}
	return s.write(ctx, conn, proto.TypeCursorUpdate, proto.CursorInput{Position: position, Selection: selection})
}

func (s *Session) current() (*websocket.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.conn == nil {
		return nil, ErrNotReady
	}
	return s.conn, nil
}

// serve runs one connection. seeded reports whether a snapshot arrived.
func (s *Session) serve(ctx context.Context) (seeded bool, err error) {
	conn, _, err := websocket.Dial(ctx, s.opts.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := s.write(ctx, conn, proto.TypeHello, proto.HelloData{Protocol: proto.ProtocolVersion}); err != nil {
		return false, err
	}
	if err := s.write(ctx, conn, proto.TypeJoinRoom, proto.JoinData{
		RoomID: s.opts.Room,
		Name:   s.opts.Name,
		Mode:   "crdt",
	}); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.conn = conn
	s.resyncing = false
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
	}()

	for {
		var frame inboundFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return seeded, fmt.Errorf("read: %w", err)
		}
		if err := s.handle(ctx, conn, frame); err != nil {
			return seeded, err
		}
		if frame.Event == proto.TypeDocSnapshot {
			seeded = true
		}
	}
}

type inboundFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func (s *Session) handle(ctx context.Context, conn *websocket.Conn, frame inboundFrame) error {
	if frame.Type == proto.OutboundTypeError {
		if frame.Error != nil {
			s.log.Warn().Str("code", frame.Error.Code).Str("msg", frame.Error.Msg).Msg("server error")
			if s.opts.OnError != nil {
				s.opts.OnError(*frame.Error)
			}
		}
		return nil
	}

	switch frame.Event {
	case proto.TypeDocSnapshot:
		var data proto.DocSnapshotData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return fmt.Errorf("decode doc-snapshot: %w", err)
		}
		return s.reseed(ctx, conn, data)
	case proto.TypeDocOp:
		var data proto.DocOpData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return fmt.Errorf("decode doc-op: %w", err)
		}
		s.merge(ctx, conn, data.Ops)
	case proto.TypeLoadCode, proto.TypeLanguageChange:
		var data proto.LanguageData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", frame.Event, err)
		}
		s.mu.Lock()
		changed := data.Language != "" && data.Language != s.language
		if changed {
			s.language = data.Language
		}
		s.mu.Unlock()
		if changed && s.opts.OnLanguage != nil {
			s.opts.OnLanguage(data.Language)
		}
	case proto.TypeChatMessage:
		var msg proto.ChatMessage
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			return fmt.Errorf("decode chat-message: %w", err)
		}
		if s.opts.OnChat != nil {
			s.opts.OnChat(msg)
		}
	case proto.TypeRecentMessages:
		var data proto.RecentMessagesData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return fmt.Errorf("decode recent-messages: %w", err)
		}
		if s.opts.OnChat != nil {
			for _, msg := range data.Messages {
				s.opts.OnChat(msg)
			}
		}
	case proto.TypeRoomUsers:
		var users []proto.User
		if err := json.Unmarshal(frame.Data, &users); err != nil {
			return fmt.Errorf("decode room-users: %w", err)
		}
		if s.opts.OnUsers != nil {
			s.opts.OnUsers(users)
		}
	}
	return nil
}

// reseed replaces the replica with the server state, replays local edits
// the snapshot lacks and ships them again. Edits that build on characters
// the server no longer knows are dropped.
func (s *Session) reseed(ctx context.Context, conn *websocket.Conn, data proto.DocSnapshotData) error {
	doc, err := crdt.FromSnapshot(data.Site, data.Snapshot)
	if err != nil {
		return fmt.Errorf("seed replica: %w", err)
	}

	s.mu.Lock()
	var replay []crdt.Op
	if missing := missingFrom(data.Snapshot, s.unacked); len(missing) > 0 {
		var rejected []crdt.Op
		replay, rejected, err = doc.MergeReady(missing...)
		if err != nil {
			s.log.Warn().Err(err).Msg("replay local edits")
		}
		if len(rejected) > 0 {
			s.log.Warn().Int("dropped", len(rejected)).Msg("local edits reference characters the server lost")
		}
	}
	s.doc = doc
	s.unacked = replay
	s.resyncing = false
	confirm := s.needConfirm()
	text := doc.Text()
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	s.notifyChange(text)

	if len(replay) > 0 {
		if err := s.write(ctx, conn, proto.TypeDocOp, proto.DocOpData{Ops: replay}); err != nil {
			return err
		}
	}
	if confirm {
		s.requestResync(ctx, conn)
	}
	return nil
}

// merge applies remote operations. A replica left with operations it cannot
// place has missed something and asks for a snapshot.
func (s *Session) merge(ctx context.Context, conn *websocket.Conn, ops []crdt.Op) {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return
	}
	applied, err := s.doc.Apply(ops...)
	needResync := s.doc.Pending() > 0 && !s.resyncing
	if needResync {
		s.resyncing = true
	}
	text := s.doc.Text()
	s.mu.Unlock()

	if err != nil {
		s.log.Warn().Err(err).Msg("apply remote ops")
	}
	if applied > 0 {
		s.notifyChange(text)
	}
	if needResync {
		s.requestResync(ctx, conn)
	}
}

func (s *Session) notifyChange(text string) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(text)
	}
}

func (s *Session) write(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: raw}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

// missingFrom returns the operations of ops whose effect snap does not show.
func missingFrom(snap crdt.Snapshot, ops []crdt.Op) []crdt.Op {
	if len(ops) == 0 {
		return nil
	}
	nodes := make(map[crdt.ID]bool, len(snap.Nodes))
	for _, n := range snap.Nodes {
		nodes[n.ID] = n.Deleted
	}
	var missing []crdt.Op
	for _, op := range ops {
		deleted, present := nodes[op.ID]
		switch op.Kind {
		case crdt.OpInsert:
			if present {
				continue
			}
		case crdt.OpDelete:
			if present && deleted {
				continue
			}
		}
		missing = append(missing, op)
	}
	return missing
}
