package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecode-server/internal/chat"
	"github.com/vovakirdan/wirecode-server/internal/crdt"
	"github.com/vovakirdan/wirecode-server/internal/presence"
	"github.com/vovakirdan/wirecode-server/internal/relay"
	"github.com/vovakirdan/wirecode-server/internal/rooms"
	"github.com/vovakirdan/wirecode-server/internal/store"
)

const (
	defaultFlushInterval = 2 * time.Second
	defaultIdleTTL       = 10 * time.Minute
	defaultFinalFlush    = 5 * time.Second
	outboxSize           = 256
)

// ErrHubStopped is returned by queries made after the hub shut down.
var ErrHubStopped = errors.New("hub stopped")

// Options configures a Hub. Registry and Chat are required.
type Options struct {
	Registry *rooms.Registry
	Chat     *chat.Log
	Presence *presence.Tracker
	Relay    relay.Relay
	Logger   *zerolog.Logger

	// Site identifies this instance's replica edits. Must be unique per
	// instance when a relay is used.
	Site string

	FlushInterval time.Duration
	IdleTTL       time.Duration
	HistoryLimit  int
	// FinalFlushTimeout bounds the flush of dirty rooms on shutdown.
	FinalFlushTimeout time.Duration
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Clients int `json:"clients"`
	Rooms   int `json:"rooms"`
}

// RoomState is the live document of a room.
type RoomState struct {
	Code     string
	Language string
	Members  []presence.Member
}

// Hub owns every live room. All room, document and roster mutations happen on
// the goroutine running Run; storage and relay I/O run elsewhere and report
// back through completions.
type Hub struct {
	registry *rooms.Registry
	chat     *chat.Log
	presence *presence.Tracker
	relay    relay.Relay
	log      *zerolog.Logger
	site     string

	flushInterval time.Duration
	idleTTL       time.Duration
	historyLimit  int
	finalFlush    time.Duration
	now           func() time.Time

	register    chan *Client
	inbox       chan clientCommand
	completions chan func()
	outbox      chan *relay.Envelope
	done        chan struct{}

	// Owned by the Run goroutine.
	clients map[*Client]struct{}
	rooms   map[string]*Room

	wg sync.WaitGroup
}

type clientCommand struct {
	client *Client
	cmd    *Command
}

// NewHub creates a hub. Call Run to start it.
func NewHub(opts Options) *Hub {
	h := &Hub{
		registry:      opts.Registry,
		chat:          opts.Chat,
		presence:      opts.Presence,
		relay:         opts.Relay,
		log:           opts.Logger,
		site:          opts.Site,
		flushInterval: opts.FlushInterval,
		idleTTL:       opts.IdleTTL,
		historyLimit:  opts.HistoryLimit,
		finalFlush:    opts.FinalFlushTimeout,
		now:           time.Now,
		register:      make(chan *Client),
		inbox:         make(chan clientCommand, 64),
		completions:   make(chan func(), 64),
		outbox:        make(chan *relay.Envelope, outboxSize),
		done:          make(chan struct{}),
		clients:       make(map[*Client]struct{}),
		rooms:         make(map[string]*Room),
	}
	if h.presence == nil {
		h.presence = presence.NewTracker()
	}
	if h.log == nil {
		nop := zerolog.Nop()
		h.log = &nop
	}
	if h.site == "" {
		h.site = "server"
	}
	if h.flushInterval <= 0 {
		h.flushInterval = defaultFlushInterval
	}
	if h.idleTTL <= 0 {
		h.idleTTL = defaultIdleTTL
	}
	if h.historyLimit <= 0 || h.historyLimit > chat.MaxRecent {
		h.historyLimit = chat.MaxRecent
	}
	if h.finalFlush <= 0 {
		h.finalFlush = defaultFinalFlush
	}
	return h
}

// Presence exposes the tracker the hub maintains.
func (h *Hub) Presence() *presence.Tracker {
	return h.presence
}

// RegisterClient connects c to the hub. Commands sent on c.Commands are
// processed in order until UnregisterClient is called.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.gone = true
		close(c.Events)
	}
}

// UnregisterClient disconnects c after its queued commands are processed.
// Calling it more than once has no further effect.
func (h *Hub) UnregisterClient(c *Client) {
	c.closeOnce.Do(func() { close(c.done) })
}

// Run processes commands until ctx is cancelled, then flushes dirty rooms.
func (h *Hub) Run(ctx context.Context) error {
	var envelopes <-chan *relay.Envelope
	if h.relay != nil {
		ch, err := h.relay.Subscribe(ctx)
		if err != nil {
			close(h.done)
			return err
		}
		envelopes = ch
		h.wg.Add(1)
		go h.publishLoop(ctx)
	}

	ticker := time.NewTicker(h.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case c := <-h.register:
			h.handleRegister(c)
		case in := <-h.inbox:
			h.handleCommand(ctx, in.client, in.cmd)
		case fn := <-h.completions:
			fn()
		case env, ok := <-envelopes:
			if !ok {
				envelopes = nil
				continue
			}
			h.handleEnvelope(env)
		case <-ticker.C:
			h.maintain(ctx)
		}
	}
}

// Stats reports connected clients and live rooms.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := h.query(ctx, func() {
		s = Stats{Clients: len(h.clients), Rooms: len(h.rooms)}
	})
	return s, err
}

// Room returns the live document of roomID. ok is false when the room is
// not loaded on this instance.
func (h *Hub) Room(ctx context.Context, roomID string) (state RoomState, ok bool, err error) {
	err = h.query(ctx, func() {
		r, exists := h.rooms[roomID]
		if !exists || !r.loaded {
			return
		}
		state = RoomState{Code: r.doc.Text(), Language: r.language, Members: h.presence.Roster(roomID)}
		ok = true
	})
	return state, ok, err
}

func (h *Hub) query(ctx context.Context, fn func()) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	done := make(chan struct{})
	select {
	case h.completions <- func() { fn(); close(done) }:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) handleRegister(c *Client) {
	if _, ok := h.clients[c]; ok {
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	go h.pump(c)
	h.log.Debug().Str("client_id", c.ID).Msg("client connected")
}

// pump forwards c's commands to the hub. After UnregisterClient it drains
// what is already queued and then emits the disconnect.
func (h *Hub) pump(c *Client) {
	defer h.wg.Done()

	disconnect := &Command{Kind: commandDisconnect}
	for {
		select {
		case cmd, ok := <-c.Commands:
			if !ok {
				h.forward(c, disconnect)
				return
			}
			if !h.forward(c, cmd) {
				return
			}
		case <-c.done:
			for {
				select {
				case cmd, ok := <-c.Commands:
					if ok && h.forward(c, cmd) {
						continue
					}
				default:
				}
				h.forward(c, disconnect)
				return
			}
		case <-h.done:
			return
		}
	}
}

func (h *Hub) forward(c *Client, cmd *Command) bool {
	if cmd == nil {
		return true
	}
	select {
	case h.inbox <- clientCommand{client: c, cmd: cmd}:
		return true
	case <-h.done:
		return false
	}
}

// async runs work off the hub goroutine. The returned func, if any, runs
// back on the hub goroutine and must re-check any state it relies on.
func (h *Hub) async(ctx context.Context, work func(context.Context) func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		done := work(ctx)
		if done == nil {
			return
		}
		select {
		case h.completions <- done:
		case <-h.done:
		}
	}()
}

func (h *Hub) handleCommand(ctx context.Context, c *Client, cmd *Command) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	switch cmd.Kind {
	case CommandJoinRoom:
		h.join(ctx, c, cmd)
	case CommandLeaveRoom:
		h.leave(c)
	case CommandCodeChange:
		h.codeChange(c, cmd)
	case CommandDocOps:
		h.docOps(c, cmd)
	case CommandLanguageChange:
		if r := h.joinedRoom(c); r != nil && cmd.Language != "" && cmd.Language != r.language {
			h.setLanguage(r, cmd.Language, c)
		}
	case CommandSendChat:
		h.sendChat(ctx, c, cmd)
	case CommandCursor:
		h.cursor(c, cmd)
	case CommandResync:
		r := h.joinedRoom(c)
		if r == nil {
			c.send(errorEvent(ErrCodeNotInRoom, "join a room first"))
			return
		}
		r.resync(c)
	case commandDisconnect:
		h.disconnect(c)
	default:
		c.send(errorEvent(ErrCodeBadRequest, "unknown command"))
	}
}

func (h *Hub) join(ctx context.Context, c *Client, cmd *Command) {
	roomID := strings.TrimSpace(cmd.Room)
	if roomID == "" {
		c.send(errorEvent(ErrCodeBadRequest, "roomId is required"))
		return
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		name = presence.DefaultName
	}
	c.name = name
	c.mode = cmd.Mode
	if c.mode == "" {
		c.mode = ModeText
	}

	prev, moved := h.presence.Join(c.ID, roomID, name)
	if moved {
		h.detach(c, prev.RoomID)
	}

	r, ok := h.rooms[roomID]
	if !ok {
		r = NewRoom(roomID)
		h.rooms[roomID] = r
		h.loadRoom(ctx, r)
	}
	if !r.loaded {
		r.dropWaiting(c)
		r.waiting = append(r.waiting, c)
		return
	}
	h.attach(ctx, c, r)
}

func (h *Hub) loadRoom(ctx context.Context, r *Room) {
	h.async(ctx, func(ctx context.Context) func() {
		stored, err := h.registry.GetOrCreate(ctx, r.Name)
		return func() { h.roomLoaded(ctx, r, stored, err) }
	})
}

func (h *Hub) roomLoaded(ctx context.Context, r *Room, stored *store.Room, err error) {
	if h.rooms[r.Name] != r {
		return
	}
	waiting := r.waiting
	r.waiting = nil

	if err != nil {
		h.log.Error().Err(err).Str("room_id", r.Name).Msg("load room")
		delete(h.rooms, r.Name)
		for _, c := range waiting {
			if !h.isMember(c, r.Name) {
				continue
			}
			h.presence.Leave(c.ID)
			c.send(errorEvent(ErrCodeInternal, "failed to load room"))
		}
		return
	}

	r.doc = crdt.FromText(h.site, stored.Code)
	r.language = stored.Language
	r.loaded = true
	r.emptySince = h.now()

	for _, c := range waiting {
		if h.isMember(c, r.Name) {
			h.attach(ctx, c, r)
		}
	}
}

func (h *Hub) attach(ctx context.Context, c *Client, r *Room) {
	r.AddClient(c)
	r.resync(c)
	h.pushHistory(ctx, c, r.Name)
	h.broadcastRoster(r)
}

func (h *Hub) pushHistory(ctx context.Context, c *Client, roomID string) {
	h.async(ctx, func(ctx context.Context) func() {
		msgs, err := h.chat.Recent(ctx, roomID, h.historyLimit)
		return func() {
			if err != nil {
				h.log.Error().Err(err).Str("room_id", roomID).Msg("load chat history")
				return
			}
			if h.isMember(c, roomID) {
				c.send(&Event{Kind: EventRecentMessages, Room: roomID, Messages: msgs})
			}
		}
	})
}

func (h *Hub) broadcastRoster(r *Room) {
	r.Broadcast(&Event{Kind: EventRoomUsers, Room: r.Name, Users: h.presence.Roster(r.Name)})
}

// detach removes c from the live room after its membership is gone and
// refreshes the roster of the members left behind.
func (h *Hub) detach(c *Client, roomID string) {
	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if r.RemoveClient(c, h.now()) {
		h.broadcastRoster(r)
	}
}

func (h *Hub) leave(c *Client) {
	m, ok := h.presence.Leave(c.ID)
	if !ok {
		c.send(errorEvent(ErrCodeNotInRoom, "not in a room"))
		return
	}
	h.detach(c, m.RoomID)
}

func (h *Hub) disconnect(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if m, ok := h.presence.Leave(c.ID); ok {
		h.detach(c, m.RoomID)
	}
	c.gone = true
	close(c.Events)
	h.log.Debug().Str("client_id", c.ID).Msg("client disconnected")
}

// joinedRoom returns the loaded room c is attached to, or nil.
func (h *Hub) joinedRoom(c *Client) *Room {
	m, ok := h.presence.Lookup(c.ID)
	if !ok {
		return nil
	}
	r, ok := h.rooms[m.RoomID]
	if !ok || !r.loaded {
		return nil
	}
	if _, attached := r.clients[c]; !attached {
		return nil
	}
	return r
}

func (h *Hub) isMember(c *Client, roomID string) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	m, ok := h.presence.Lookup(c.ID)
	return ok && m.RoomID == roomID
}

func (h *Hub) codeChange(c *Client, cmd *Command) {
	r := h.joinedRoom(c)
	if r == nil {
		return
	}

	textChanged := cmd.Code != r.doc.Text()
	if cmd.Language != "" && cmd.Language != r.language {
		h.setLanguage(r, cmd.Language, c)
	}
	if !textChanged {
		return
	}

	ops, err := r.doc.Replace(cmd.Code)
	if err != nil {
		c.send(errorEvent(ErrCodeBadRequest, err.Error()))
		return
	}
	r.dirty = true
	r.broadcastEdit(ops, true, c)
	h.publish(&relay.Envelope{Room: r.Name, Kind: relay.KindOps, Ops: ops})
}

func (h *Hub) docOps(c *Client, cmd *Command) {
	r := h.joinedRoom(c)
	if r == nil || len(cmd.Ops) == 0 {
		return
	}

	// The client only knows characters this replica sent it, so an op that
	// cannot be placed here is bogus. The client is reseeded instead.
	changed, rejected, err := r.doc.MergeReady(cmd.Ops...)
	if err != nil {
		c.send(errorEvent(ErrCodeBadRequest, err.Error()))
		return
	}
	if len(rejected) > 0 {
		h.log.Debug().Str("room_id", r.Name).Str("client_id", c.ID).Int("rejected", len(rejected)).Msg("ops reference unknown characters")
		c.send(errorEvent(ErrCodeBadRequest, fmt.Sprintf("%d operations reference unknown characters", len(rejected))))
		r.resync(c)
	}
	if len(changed) == 0 {
		return
	}
	r.dirty = true
	r.broadcastEdit(changed, true, c)
	h.publish(&relay.Envelope{Room: r.Name, Kind: relay.KindOps, Ops: changed})
}

func (h *Hub) setLanguage(r *Room, language string, sender *Client) {
	r.language = language
	r.dirty = true
	r.BroadcastExcept(&Event{Kind: EventLanguageChange, Room: r.Name, Language: language}, sender)
	h.publish(&relay.Envelope{Room: r.Name, Kind: relay.KindLanguage, Language: language})
}

func (h *Hub) sendChat(ctx context.Context, c *Client, cmd *Command) {
	m, ok := h.presence.Lookup(c.ID)
	if !ok {
		c.send(errorEvent(ErrCodeNotInRoom, "join a room before chatting"))
		return
	}
	if strings.TrimSpace(cmd.Text) == "" {
		c.send(errorEvent(ErrCodeBadRequest, "message text is required"))
		return
	}
	r, ok := h.rooms[m.RoomID]
	if !ok {
		c.send(errorEvent(ErrCodeNotInRoom, "join a room before chatting"))
		return
	}
	r.chatQueue = append(r.chatQueue, chatRequest{client: c, author: m.Name, text: cmd.Text})
	h.drainChat(ctx, r)
}

// drainChat stores queued messages of a room one at a time so the broadcast
// order matches the storage order.
func (h *Hub) drainChat(ctx context.Context, r *Room) {
	if r.chatBusy || len(r.chatQueue) == 0 {
		return
	}
	req := r.chatQueue[0]
	r.chatQueue = r.chatQueue[1:]
	r.chatBusy = true

	h.async(ctx, func(ctx context.Context) func() {
		msg, err := h.chat.Append(ctx, r.Name, req.text, req.author, req.client.ID)
		return func() {
			r.chatBusy = false
			if err != nil {
				h.log.Error().Err(err).Str("room_id", r.Name).Str("client_id", req.client.ID).Msg("store chat message")
				req.client.send(errorEvent(ErrCodeInternal, "failed to store message"))
			} else {
				r.Broadcast(&Event{Kind: EventChatMessage, Room: r.Name, Message: msg})
				h.publish(&relay.Envelope{Room: r.Name, Kind: relay.KindChat, Message: msg})
			}
			h.drainChat(ctx, r)
		}
	})
}

func (h *Hub) cursor(c *Client, cmd *Command) {
	r := h.joinedRoom(c)
	if r == nil || cmd.Cursor == nil {
		return
	}
	r.BroadcastExcept(&Event{
		Kind:   EventCursorUpdate,
		Room:   r.Name,
		Cursor: &CursorEvent{UserID: c.ID, Name: c.name, Cursor: *cmd.Cursor},
	}, c)
}

func (h *Hub) handleEnvelope(env *relay.Envelope) {
	r, ok := h.rooms[env.Room]
	if !ok || !r.loaded {
		return
	}

	switch env.Kind {
	case relay.KindOps:
		changed, err := r.doc.Merge(env.Ops...)
		if err != nil {
			h.log.Warn().Err(err).Str("room_id", r.Name).Str("origin", env.Origin).Msg("apply relayed ops")
		}
		if len(changed) == 0 {
			return
		}
		r.dirty = true
		r.broadcastEdit(changed, true, nil)
	case relay.KindLanguage:
		if env.Language == "" || env.Language == r.language {
			return
		}
		r.language = env.Language
		r.dirty = true
		r.Broadcast(&Event{Kind: EventLanguageChange, Room: r.Name, Language: env.Language})
	case relay.KindChat:
		if env.Message != nil {
			r.Broadcast(&Event{Kind: EventChatMessage, Room: r.Name, Message: env.Message})
		}
	}
}

func (h *Hub) publish(env *relay.Envelope) {
	if h.relay == nil {
		return
	}
	select {
	case h.outbox <- env:
	default:
		h.log.Warn().Str("room_id", env.Room).Msg("relay outbox full, dropping envelope")
	}
}

func (h *Hub) publishLoop(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case env := <-h.outbox:
			if err := h.relay.Publish(ctx, env); err != nil {
				h.log.Warn().Err(err).Str("room_id", env.Room).Msg("relay publish")
			}
		case <-h.done:
			return
		}
	}
}

// maintain reseeds stale clients, flushes dirty rooms and evicts rooms that
// stayed empty for the idle TTL.
func (h *Hub) maintain(ctx context.Context) {
	now := h.now()
	for id, r := range h.rooms {
		r.resyncStale()
		if r.loaded && r.dirty && !r.flushing {
			h.flush(ctx, r)
		}
		if r.idle(now, h.idleTTL) {
			delete(h.rooms, id)
			h.log.Debug().Str("room_id", id).Msg("room evicted")
		}
	}
}

func (h *Hub) flush(ctx context.Context, r *Room) {
	text, language := r.doc.Text(), r.language
	r.dirty = false
	r.flushing = true

	h.async(ctx, func(ctx context.Context) func() {
		err := h.registry.UpdateDocument(ctx, r.Name, text, language)
		return func() {
			r.flushing = false
			if err != nil {
				h.log.Error().Err(err).Str("room_id", r.Name).Msg("flush document")
				r.dirty = true
			}
		}
	})
}

func (h *Hub) shutdown() {
	close(h.done)
	h.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), h.finalFlush)
	defer cancel()

	for id, r := range h.rooms {
		if !r.loaded || (!r.dirty && !r.flushing) {
			continue
		}
		if err := h.registry.UpdateDocument(ctx, id, r.doc.Text(), r.language); err != nil {
			h.log.Error().Err(err).Str("room_id", id).Msg("final flush")
		}
	}
	for c := range h.clients {
		c.gone = true
		close(c.Events)
	}
	h.log.Info().Int("rooms", len(h.rooms)).Msg("hub stopped")
}
