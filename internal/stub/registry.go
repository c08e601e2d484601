package stub

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry tracks the members of every room
type Registry struct {
	mu     sync.RWMutex
	rooms  map[int32]map[*Connection]struct{}
	logger logrus.FieldLogger
}

// NewRegistry creates an empty registry
func NewRegistry(logger logrus.FieldLogger) *Registry {
	return &Registry{
		rooms:  make(map[int32]map[*Connection]struct{}),
		logger: logger,
	}
}

// Register adds conn to its room
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[conn.RoomID()]
	if members == nil {
		members = make(map[*Connection]struct{})
		r.rooms[conn.RoomID()] = members
	}
	members[conn] = struct{}{}
	return nil
}

// Unregister removes conn and reports whether it was a member.
// Unregistering twice is a no-op.
func (r *Registry) Unregister(conn *Connection) bool {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[conn.RoomID()]
	if _, ok := members[conn]; !ok {
		return false
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(r.rooms, conn.RoomID())
	}
	return true
}

// Broadcast delivers msg to every member of its room and returns the number reached
// FUNCTIONAL DISCOVERY: A member whose queue stays full is dropped from the room
// rather than stalling delivery to everyone else
func (r *Registry) Broadcast(msg *Message) int {
	r.mu.RLock()
	members := make([]*Connection, 0, len(r.rooms[msg.RoomID]))
	for conn := range r.rooms[msg.RoomID] {
		members = append(members, conn)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range members {
		if err := conn.WriteJSON(msg); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"room": msg.RoomID,
				"user": conn.Username(),
			}).Warn("dropping room member")
			r.Unregister(conn)
			_ = conn.Close()
			continue
		}
		delivered++
	}
	return delivered
}

// Usernames lists the members of a room in sorted order
func (r *Registry) Usernames(roomID int32) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rooms[roomID]))
	for conn := range r.rooms[roomID] {
		names = append(names, conn.Username())
	}
	sort.Strings(names)
	return names
}

// CloseAll closes every member connection
func (r *Registry) CloseAll() {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[int32]map[*Connection]struct{})
	r.mu.Unlock()

	for _, members := range rooms {
		for conn := range members {
			_ = conn.Close()
		}
	}
}
