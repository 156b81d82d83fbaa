package runtime

import (
	"context"
	"log/slog"
	"social-lab/contract"
	"social-lab/domain"
	"social-lab/errors"
	"sync"
)

type Set map[domain.ConnID]struct{}

// Registry holds ephemeral subscription state only: which connection belongs to
// which user and which rooms each connection listens to. It performs no authorization.
type Registry struct {
	mu          sync.RWMutex
	log         *slog.Logger
	Sessions    map[domain.ConnID]contract.EventSink // map connection -> Sink
	owners      map[domain.ConnID]domain.UserID
	userConns   map[domain.UserID]Set
	RoomMembers map[domain.RoomKey]Set // map room to connections
	connRooms   map[domain.ConnID]map[domain.RoomKey]struct{}
	// applied remembers the last stamped change per user and room while the user is connected
	applied map[domain.UserID]map[domain.RoomKey]uint64
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:         log,
		Sessions:    make(map[domain.ConnID]contract.EventSink),
		owners:      make(map[domain.ConnID]domain.UserID),
		userConns:   make(map[domain.UserID]Set),
		RoomMembers: make(map[domain.RoomKey]Set),
		connRooms:   make(map[domain.ConnID]map[domain.RoomKey]struct{}),
		applied:     make(map[domain.UserID]map[domain.RoomKey]uint64),
	}
}

// Register binds a connection to its authenticated user and joins the user room.
func (r *Registry) Register(conn domain.ConnID, user domain.UserID, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Sessions[conn] = sink
	r.owners[conn] = user
	if _, ok := r.userConns[user]; !ok {
		r.userConns[user] = make(Set)
	}
	r.userConns[user][conn] = struct{}{}
	r.join(conn, domain.UserRoom(user))
}

func (r *Registry) Join(conn domain.ConnID, room domain.RoomKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Sessions[conn]; !ok {
		return
	}
	r.join(conn, room)
}

func (r *Registry) Leave(conn domain.ConnID, room domain.RoomKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leave(conn, room)
}

// LeaveAll unsubscribes a connection from every room and forgets it.
// Calling it twice is harmless. It returns the rooms the connection was in.
func (r *Registry) LeaveAll(conn domain.ConnID) []domain.RoomKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := make([]domain.RoomKey, 0, len(r.connRooms[conn]))
	for room := range r.connRooms[conn] {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		r.leave(conn, room)
	}
	delete(r.connRooms, conn)
	delete(r.Sessions, conn)

	if user, ok := r.owners[conn]; ok {
		delete(r.owners, conn)
		if conns, ok := r.userConns[user]; ok {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(r.userConns, user)
				delete(r.applied, user)
			}
		}
	}
	return rooms
}

// JoinUser subscribes every live connection of user to room.
func (r *Registry) JoinUser(user domain.UserID, room domain.RoomKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.userConns[user] {
		r.join(conn, room)
	}
}

func (r *Registry) LeaveUser(user domain.UserID, room domain.RoomKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.userConns[user] {
		r.leave(conn, room)
	}
}

func (r *Registry) Subscribe(s domain.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.newer(s) {
		return
	}
	for conn := range r.userConns[s.User] {
		r.join(conn, s.Room)
	}
}

func (r *Registry) Unsubscribe(s domain.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.newer(s) {
		return
	}
	for conn := range r.userConns[s.User] {
		r.leave(conn, s.Room)
	}
}

// newer records s as the latest change of its user and room. Unstamped changes always apply.
func (r *Registry) newer(s domain.Subscription) bool {
	if s.Seq == 0 {
		return true
	}
	if _, ok := r.userConns[s.User]; !ok {
		return false
	}
	rooms, ok := r.applied[s.User]
	if !ok {
		rooms = make(map[domain.RoomKey]uint64)
		r.applied[s.User] = rooms
	}
	if s.Seq <= rooms[s.Room] {
		r.log.Debug("Stale subscription change ignored", "user", s.User, "room", s.Room, "seq", s.Seq, "applied", rooms[s.Room])
		return false
	}
	rooms[s.Room] = s.Seq
	return true
}

// DropRoom unsubscribes everyone from a room that no longer exists.
func (r *Registry) DropRoom(room domain.RoomKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.RoomMembers[room] {
		if rooms, ok := r.connRooms[conn]; ok {
			delete(rooms, room)
		}
	}
	delete(r.RoomMembers, room)
}

// Broadcast hands the envelope to every subscriber of the room and returns how many accepted it.
// Sinks are called outside the lock, a full sink only loses this event.
func (r *Registry) Broadcast(ctx context.Context, d domain.Delivery) int {
	sinks := r.GetSinksForRoom(d.Room, d.ExceptUser)
	delivered := 0
	for conn, sink := range sinks {
		if err := sink.Consume(ctx, d.Envelope); err != nil {
			r.log.Debug("Event dropped", "conn", conn, "room", d.Room, "event", d.Envelope.Event, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Send delivers to a single connection.
func (r *Registry) Send(ctx context.Context, conn domain.ConnID, e domain.Envelope) error {
	r.mu.RLock()
	sink, ok := r.Sessions[conn]
	r.mu.RUnlock()
	if !ok {
		return errors.ErrConnectionClosed
	}
	return sink.Consume(ctx, e)
}

// GetSinksForRoom resolves the room subscribers into their sinks,
// skipping the connections of except when set.
func (r *Registry) GetSinksForRoom(room domain.RoomKey, except domain.UserID) map[domain.ConnID]contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.RoomMembers[room]
	if !ok {
		return nil
	}
	sinks := make(map[domain.ConnID]contract.EventSink, len(members))
	for conn := range members {
		if except != "" && r.owners[conn] == except {
			continue
		}
		if sink, exists := r.Sessions[conn]; exists {
			sinks[conn] = sink
		}
	}
	return sinks
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.Sessions)
}

func (r *Registry) UserConnectionCount(user domain.UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns[user])
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.RoomMembers)
}

func (r *Registry) join(conn domain.ConnID, room domain.RoomKey) {
	if _, ok := r.RoomMembers[room]; !ok {
		r.RoomMembers[room] = make(Set)
	}
	r.RoomMembers[room][conn] = struct{}{}
	if _, ok := r.connRooms[conn]; !ok {
		r.connRooms[conn] = make(map[domain.RoomKey]struct{})
	}
	r.connRooms[conn][room] = struct{}{}
}

// leave ensures no empty sets are left in the room map.
func (r *Registry) leave(conn domain.ConnID, room domain.RoomKey) {
	if members, ok := r.RoomMembers[room]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(r.RoomMembers, room)
		}
	}
	if rooms, ok := r.connRooms[conn]; ok {
		delete(rooms, room)
	}
}
