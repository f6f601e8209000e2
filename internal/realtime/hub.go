package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const defaultOutboxSize = 1024

var ErrHubClosed = errors.New("hub is shut down")

// Conn is a connection handle held by the hub. Send must never block: it
// reports false when the frame was dropped.
type Conn interface {
	ID() string
	Send(frame Frame) bool
	Close() error
}

// Member is one connection present in a room.
type Member struct {
	ConnID string `json:"conn_id"`
	UserID string `json:"user_id"`
}

type membership struct {
	conn   Conn
	room   uint
	userID string
}

// HubOptions wires the optional cross-process pieces.
type HubOptions struct {
	NodeID   string
	Presence Presence
	Relay    Relay
	Logger   *slog.Logger
}

// Hub fans out room events to the connections joined to each test. Locks
// are only held to look up or snapshot a room; frames are sent afterwards.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[uint]map[string]*membership
	members map[string]*membership
	closed  bool

	nodeID   string
	presence Presence
	relay    Relay
	outbox   chan Envelope
	done     chan struct{}
	stop     context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewHub(opts HubOptions) *Hub {
	if opts.NodeID == "" {
		opts.NodeID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		rooms:    make(map[uint]map[string]*membership),
		members:  make(map[string]*membership),
		nodeID:   opts.NodeID,
		presence: opts.Presence,
		relay:    opts.Relay,
		outbox:   make(chan Envelope, defaultOutboxSize),
		done:     make(chan struct{}),
		logger:   opts.Logger.With("component", "hub", "node_id", opts.NodeID),
	}
}

func (h *Hub) NodeID() string {
	return h.nodeID
}

// Start begins relaying broadcasts to and from other nodes. It is a no-op
// without a relay.
func (h *Hub) Start(ctx context.Context) error {
	if h.relay == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	inbound, err := h.relay.Subscribe(ctx)
	if err != nil {
		cancel()
		return err
	}
	h.stop = cancel

	h.wg.Add(2)
	go h.consume(inbound)
	go h.publish(ctx)

	h.logger.Info("Room relay started")
	return nil
}

func (h *Hub) consume(inbound <-chan Envelope) {
	defer h.wg.Done()
	for env := range inbound {
		if env.NodeID == h.nodeID {
			continue
		}
		h.deliver(env.RoomID, Frame{Type: env.Event, Payload: env.Payload}, "")
	}
}

func (h *Hub) publish(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-h.outbox:
			if err := h.relay.Publish(ctx, env); err != nil {
				h.logger.Warn("Failed to relay room event", "room", env.RoomID, "event", env.Event, "error", err)
			}
		}
	}
}

// Join adds conn to the room of testID. A connection is in at most one
// room; joining another room leaves the previous one first.
func (h *Hub) Join(ctx context.Context, testID uint, conn Conn, userID string) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	previous := h.removeLocked(conn.ID())
	m := &membership{conn: conn, room: testID, userID: userID}
	room, ok := h.rooms[testID]
	if !ok {
		room = make(map[string]*membership)
		h.rooms[testID] = room
	}
	room[conn.ID()] = m
	h.members[conn.ID()] = m
	h.mu.Unlock()

	if previous != nil && previous.room != testID {
		h.announceLeft(ctx, previous)
	}

	if h.presence != nil {
		if err := h.presence.Add(ctx, testID, conn.ID(), userID); err != nil {
			h.logger.Warn("Failed to record presence", "room", testID, "user_id", userID, "error", err)
		}
	}

	h.Broadcast(testID, EventUserJoined, UserPayload{UserID: userID}, conn)
	h.logger.Debug("Connection joined room", "room", testID, "conn_id", conn.ID(), "user_id", userID)
	return nil
}

// Leave removes conn from its room, if any, and reports the room it left.
func (h *Hub) Leave(ctx context.Context, conn Conn) (uint, bool) {
	h.mu.Lock()
	m := h.removeLocked(conn.ID())
	h.mu.Unlock()

	if m == nil {
		return 0, false
	}
	h.announceLeft(ctx, m)
	return m.room, true
}

// LeaveUser removes every connection of userID from the room. The
// connections stay open. Returns the removed connections.
func (h *Hub) LeaveUser(ctx context.Context, testID uint, userID string) []Conn {
	h.mu.Lock()
	var removed []*membership
	for id, m := range h.rooms[testID] {
		if m.userID == userID {
			removed = append(removed, m)
			h.removeLocked(id)
		}
	}
	h.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}

	conns := make([]Conn, 0, len(removed))
	for _, m := range removed {
		conns = append(conns, m.conn)
		h.forgetPresence(ctx, m)
	}
	h.Broadcast(testID, EventUserLeft, UserPayload{UserID: userID}, nil)
	return conns
}

// Broadcast sends event to every member of the room except exclude, and to
// other nodes through the relay. Delivery is best effort.
func (h *Hub) Broadcast(testID uint, event string, payload any, exclude Conn) {
	frame := NewFrame(event, "", payload)
	excludeID := ""
	if exclude != nil {
		excludeID = exclude.ID()
	}
	h.deliver(testID, frame, excludeID)

	if h.relay == nil {
		return
	}
	env := Envelope{NodeID: h.nodeID, RoomID: testID, Event: event, Payload: frame.Payload}
	select {
	case <-h.done:
	case h.outbox <- env:
	default:
		h.logger.Debug("Relay outbox full, dropping room event", "room", testID, "event", event)
	}
}

// Members returns the connections of this node in the room.
func (h *Hub) Members(testID uint) []Member {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room := h.rooms[testID]
	members := make([]Member, 0, len(room))
	for id, m := range room {
		members = append(members, Member{ConnID: id, UserID: m.userID})
	}
	return members
}

// Shutdown closes every connection and stops the relay loops.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	all := make([]*membership, 0, len(h.members))
	for _, m := range h.members {
		all = append(all, m)
	}
	h.rooms = make(map[uint]map[string]*membership)
	h.members = make(map[string]*membership)
	h.mu.Unlock()

	close(h.done)
	for _, m := range all {
		h.forgetPresence(ctx, m)
		_ = m.conn.Close()
	}

	if h.stop != nil {
		h.stop()
	}

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.logger.Info("Hub shut down", "connections_closed", len(all))
	return nil
}

func (h *Hub) deliver(testID uint, frame Frame, excludeID string) {
	h.mu.RLock()
	room := h.rooms[testID]
	targets := make([]Conn, 0, len(room))
	for id, m := range room {
		if id != excludeID {
			targets = append(targets, m.conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if !conn.Send(frame) {
			h.logger.Debug("Dropped frame for slow connection", "room", testID, "conn_id", conn.ID(), "event", frame.Type)
		}
	}
}

func (h *Hub) announceLeft(ctx context.Context, m *membership) {
	h.forgetPresence(ctx, m)
	h.Broadcast(m.room, EventUserLeft, UserPayload{UserID: m.userID}, m.conn)
}

func (h *Hub) forgetPresence(ctx context.Context, m *membership) {
	if h.presence == nil {
		return
	}
	if err := h.presence.Remove(ctx, m.room, m.conn.ID()); err != nil {
		h.logger.Warn("Failed to clear presence", "room", m.room, "conn_id", m.conn.ID(), "error", err)
	}
}

// removeLocked must be called with h.mu held.
func (h *Hub) removeLocked(connID string) *membership {
	m, ok := h.members[connID]
	if !ok {
		return nil
	}
	delete(h.members, connID)
	if room, ok := h.rooms[m.room]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(h.rooms, m.room)
		}
	}
	return m
}

// Envelope is a broadcast as carried between nodes.
type Envelope struct {
	NodeID  string          `json:"node_id"`
	RoomID  uint            `json:"room_id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
