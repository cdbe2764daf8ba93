package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Room keys. Every connection is subscribed to its user's private room on
// attach so server-initiated events reach all of that user's devices.
func UserRoom(userID uuid.UUID) string         { return "user:" + userID.String() }
func ConversationRoom(convID uuid.UUID) string { return "conv:" + convID.String() }

// Hub tracks this process's live connections and their room subscriptions.
// Membership is connection-scoped and vanishes on detach; nothing here is
// authoritative state, it is safe to lose and rebuild on reconnect.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]*Connection            // sessionID -> connection
	userConns map[uuid.UUID]map[string]struct{} // userID -> set of sessionIDs
	rooms     map[string]map[string]*Connection // room -> sessionID -> connection
	connRooms map[string]map[string]struct{}    // sessionID -> set of rooms
}

// NewHub constructs an initialized Hub.
func NewHub() *Hub {
	return &Hub{
		conns:     make(map[string]*Connection),
		userConns: make(map[uuid.UUID]map[string]struct{}),
		rooms:     make(map[string]map[string]*Connection),
		connRooms: make(map[string]map[string]struct{}),
	}
}

// Attach registers a connection and subscribes it to its user's private room.
func (h *Hub) Attach(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID] = conn

	sessions := h.userConns[conn.UserID]
	if sessions == nil {
		sessions = make(map[string]struct{})
		h.userConns[conn.UserID] = sessions
	}
	sessions[conn.ID] = struct{}{}

	h.connRooms[conn.ID] = make(map[string]struct{})
	h.joinLocked(UserRoom(conn.UserID), conn)
	h.mu.Unlock()

	conn.Start()
}

// Detach removes a connection and all of its room subscriptions. It performs
// no data mutation; a disconnect tears down only ephemeral state.
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	h.detachLocked(conn.ID)
	h.mu.Unlock()
}

// Join subscribes the connection to a room.
func (h *Hub) Join(room string, conn *Connection) {
	h.mu.Lock()
	if _, ok := h.conns[conn.ID]; ok {
		h.joinLocked(room, conn)
	}
	h.mu.Unlock()
}

// Publish writes payload to every connection in the room, optionally skipping
// one session (typing events exclude the typist's own connection). Returns
// the number of connections written to.
func (h *Hub) Publish(room string, payload []byte, excludeSessionID string) int {
	h.mu.RLock()
	members := h.rooms[room]
	if len(members) == 0 {
		h.mu.RUnlock()
		return 0
	}

	delivered := 0
	for _, conn := range members {
		if excludeSessionID != "" && conn.ID == excludeSessionID {
			continue
		}
		if err := conn.Send(payload); err == nil {
			delivered++
		}
	}
	h.mu.RUnlock()
	return delivered
}

// UserOnline reports whether the user has at least one live connection on
// this instance.
func (h *Hub) UserOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	online := len(h.userConns[userID]) > 0
	h.mu.RUnlock()
	return online
}

// Close terminates all tracked connections and clears hub state.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*Connection)
	h.userConns = make(map[uuid.UUID]map[string]struct{})
	h.rooms = make(map[string]map[string]*Connection)
	h.connRooms = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(1001, "hub shutdown")
	}
}

func (h *Hub) joinLocked(room string, conn *Connection) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Connection)
		h.rooms[room] = members
	}
	members[conn.ID] = conn

	memberships := h.connRooms[conn.ID]
	if memberships == nil {
		memberships = make(map[string]struct{})
		h.connRooms[conn.ID] = memberships
	}
	memberships[room] = struct{}{}
}

func (h *Hub) detachLocked(sessionID string) {
	conn, ok := h.conns[sessionID]
	if !ok {
		return
	}
	delete(h.conns, sessionID)

	if sessions, ok := h.userConns[conn.UserID]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(h.userConns, conn.UserID)
		}
	}

	for room := range h.connRooms[sessionID] {
		members := h.rooms[room]
		if members == nil {
			continue
		}
		delete(members, sessionID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.connRooms, sessionID)
}
