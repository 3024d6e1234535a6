package session

import "sync"

// Registry tracks connection-level room membership. Rooms exist only while
// they have members.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]Conn
	memberOf map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]map[string]Conn),
		memberOf: make(map[string]map[string]struct{}),
	}
}

// Join reports whether conn was newly added.
func (r *Registry) Join(room string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Conn)
		r.rooms[room] = members
	}
	if _, ok := members[conn.ID()]; ok {
		return false
	}
	members[conn.ID()] = conn

	rooms, ok := r.memberOf[conn.ID()]
	if !ok {
		rooms = make(map[string]struct{})
		r.memberOf[conn.ID()] = rooms
	}
	rooms[room] = struct{}{}
	return true
}

// Leave reports whether conn was a member.
func (r *Registry) Leave(room string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(room, conn.ID())
}

func (r *Registry) leaveLocked(room, connID string) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}

	if rooms, ok := r.memberOf[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.memberOf, connID)
		}
	}
	return true
}

// LeaveAll removes conn from every room it joined and returns those rooms.
func (r *Registry) LeaveAll(conn Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, ok := r.memberOf[conn.ID()]
	if !ok {
		return nil
	}
	left := make([]string, 0, len(rooms))
	for room := range rooms {
		left = append(left, room)
	}
	for _, room := range left {
		r.leaveLocked(room, conn.ID())
	}
	return left
}

// Members returns a snapshot that later membership changes do not affect.
func (r *Registry) Members(room string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	out := make([]Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Contains(room string, conn Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][conn.ID()]
	return ok
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
