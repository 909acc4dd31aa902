// Package registry maps authenticated identities to live connections and
// room membership, and gates message delivery. Connections are ephemeral:
// the registry holds no persistent state and a room exists only while at
// least one connection has joined it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/inkwell/chat-core/internal/audit"
	"github.com/inkwell/chat-core/internal/directory"
	"github.com/inkwell/chat-core/internal/metrics"
)

// AdminRoom is the implicit broadcast room joined by admin-role users.
const AdminRoom = "admin"

// Authentication failure modes, surfaced to clients as auth_error.
var (
	ErrUnknownUser      = errors.New("registry: unknown user")
	ErrInactiveUser     = errors.New("registry: inactive account")
	ErrNotAuthenticated = errors.New("registry: connection not authenticated")
)

// AuthReason maps an authentication error to the stable reason code carried
// by auth_error messages.
func AuthReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownUser):
		return "unknown_user"
	case errors.Is(err, ErrInactiveUser):
		return "inactive_account"
	default:
		return ""
	}
}

// Conn is the write side of a live connection. *ws.Connection implements it.
type Conn interface {
	WriteMessage(data []byte) error
}

// entry is the registry's view of one authenticated connection.
type entry struct {
	connID string
	user   directory.User
	conn   Conn
	rooms  map[string]struct{}
}

// Registry tracks authenticated connections, the user-to-connection
// mapping, and room membership. All methods are safe for concurrent use:
// each connection's events run on its own goroutine.
type Registry struct {
	directory directory.Directory
	audit     audit.Sink

	mu    sync.RWMutex
	conns map[string]*entry            // connID -> entry
	users map[int64]string             // userID -> connID (last authenticate wins)
	rooms map[string]map[string]*entry // roomID -> connID -> entry
}

// New creates an empty Registry.
func New(dir directory.Directory, sink audit.Sink) *Registry {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Registry{
		directory: dir,
		audit:     sink,
		conns:     make(map[string]*entry),
		users:     make(map[int64]string),
		rooms:     make(map[string]map[string]*entry),
	}
}

// Authenticate binds a connection to a user id after verifying the user
// exists and is active. The user-to-connection mapping is last-write-wins:
// a second login for the same user silently takes over direct-message
// delivery from the first (the first connection keeps any explicit room
// memberships it holds). A connection re-authenticating as a different user
// drops its previous identity first. Admin-role users additionally join the
// admin broadcast room.
func (r *Registry) Authenticate(ctx context.Context, connID string, conn Conn, userID int64) (*directory.User, error) {
	user, err := r.directory.Lookup(ctx, userID)
	if err != nil {
		r.recordAuthFailure(userID, "lookup_failed")
		return nil, fmt.Errorf("registry: authenticate user %d: %w", userID, err)
	}
	if user == nil {
		r.recordAuthFailure(userID, "unknown_user")
		return nil, ErrUnknownUser
	}
	if !user.IsActive {
		r.recordAuthFailure(userID, "inactive_account")
		return nil, ErrInactiveUser
	}

	r.mu.Lock()
	e, ok := r.conns[connID]
	if !ok {
		e = &entry{connID: connID, conn: conn, rooms: make(map[string]struct{})}
		r.conns[connID] = e
	}

	// A connection re-authenticating as a different user gives up the old
	// identity: its delivery mapping and any role-derived room membership.
	// Without this, the old user's direct messages would keep landing on a
	// connection now owned by someone else.
	if e.user.ID != 0 && e.user.ID != userID {
		log.Printf("[registry] conn=%s re-authenticated as user=%d, was user=%d", connID, userID, e.user.ID)
		if r.users[e.user.ID] == connID {
			delete(r.users, e.user.ID)
			metrics.AuthenticatedUsers.Dec()
		}
		if e.user.IsAdmin() && !user.IsAdmin() {
			r.leaveLocked(e, AdminRoom)
		}
	}

	if prev, ok := r.users[userID]; ok && prev != connID {
		log.Printf("[registry] user=%d re-authenticated on conn=%s, delivery moved from conn=%s", userID, connID, prev)
	} else if !ok {
		metrics.AuthenticatedUsers.Inc()
	}
	e.user = *user
	r.users[userID] = connID

	if user.IsAdmin() {
		r.joinLocked(e, AdminRoom)
	}
	r.mu.Unlock()

	r.audit.Record(audit.Event{
		Type:   audit.EventAuthSuccess,
		UserID: userID,
		Detail: map[string]interface{}{"role": user.Role, "conn_id": connID},
	})
	return user, nil
}

// User returns the authenticated user bound to a connection, or false when
// the connection has not authenticated.
func (r *Registry) User(connID string) (directory.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return directory.User{}, false
	}
	return e.user, true
}

// JoinRoom adds the connection to a room. Any room id is joinable; the room
// comes into existence with its first member.
func (r *Registry) JoinRoom(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return ErrNotAuthenticated
	}
	r.joinLocked(e, roomID)
	return nil
}

// LeaveRoom removes the connection from a room. Leaving a room the
// connection never joined is a no-op.
func (r *Registry) LeaveRoom(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return ErrNotAuthenticated
	}
	r.leaveLocked(e, roomID)
	return nil
}

// Disconnect removes a connection from the user mapping and every room it
// joined. In-flight sends for the connection are abandoned, not drained.
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return
	}
	for roomID := range e.rooms {
		r.leaveLocked(e, roomID)
	}
	if r.users[e.user.ID] == connID {
		delete(r.users, e.user.ID)
		metrics.AuthenticatedUsers.Dec()
	}
	delete(r.conns, connID)
}

// ToUser delivers a payload to the user's current connection, if any.
// Returns the number of connections written to (0 or 1 under last-wins
// addressing). Delivery is not guaranteed: with no live connection the
// payload is dropped and the recipient catches up via history.
func (r *Registry) ToUser(userID int64, data []byte) int {
	r.mu.RLock()
	var conn Conn
	if connID, ok := r.users[userID]; ok {
		if e, ok := r.conns[connID]; ok {
			conn = e.conn
		}
	}
	r.mu.RUnlock()

	if conn == nil {
		return 0
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("[registry] write to user=%d failed: %v", userID, err)
		return 0
	}
	return 1
}

// ToRoom delivers a payload to every connection currently joined to the
// room, sender included. Write errors on individual connections are logged
// and skipped; dead connections are reaped by the transport's heartbeat.
func (r *Registry) ToRoom(roomID string, data []byte) int {
	r.mu.RLock()
	members := make([]Conn, 0, len(r.rooms[roomID]))
	for _, e := range r.rooms[roomID] {
		members = append(members, e.conn)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range members {
		if err := conn.WriteMessage(data); err != nil {
			log.Printf("[registry] write to room=%s failed: %v", roomID, err)
			continue
		}
		delivered++
	}
	return delivered
}

// ToAdmins delivers a payload to every admin connection.
func (r *Registry) ToAdmins(data []byte) int {
	return r.ToRoom(AdminRoom, data)
}

// RoomSize returns the current member count of a room.
func (r *Registry) RoomSize(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// Rooms returns the rooms the connection has joined.
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(e.rooms))
	for roomID := range e.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}

func (r *Registry) joinLocked(e *entry, roomID string) {
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*entry)
		r.rooms[roomID] = members
	}
	members[e.connID] = e
	e.rooms[roomID] = struct{}{}
}

func (r *Registry) leaveLocked(e *entry, roomID string) {
	delete(e.rooms, roomID)
	if members, ok := r.rooms[roomID]; ok {
		delete(members, e.connID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

func (r *Registry) recordAuthFailure(userID int64, reason string) {
	r.audit.Record(audit.Event{
		Type:   audit.EventAuthFailure,
		UserID: userID,
		Detail: map[string]interface{}{"reason": reason},
	})
}
