package websocket

import (
	"sort"
	"sync"
)

// Registry tracks which sessions are in which rooms. Membership lives for
// the session only. All access is serialized through mu.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]struct{} // room -> sessions
	sessions map[string]map[string]struct{} // session -> rooms
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]map[string]struct{}),
		sessions: make(map[string]map[string]struct{}),
	}
}

// Join adds session to room. It reports false if the session was already a
// member.
func (r *Registry) Join(session, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	if _, ok := members[session]; ok {
		return false
	}
	members[session] = struct{}{}

	joined, ok := r.sessions[session]
	if !ok {
		joined = make(map[string]struct{})
		r.sessions[session] = joined
	}
	joined[room] = struct{}{}
	return true
}

// Leave removes session from room. It reports false if the session was not a
// member.
func (r *Registry) Leave(session, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(session, room)
}

func (r *Registry) leaveLocked(session, room string) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[session]; !ok {
		return false
	}
	delete(members, session)
	if len(members) == 0 {
		delete(r.rooms, room)
	}

	if joined, ok := r.sessions[session]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.sessions, session)
		}
	}
	return true
}

// LeaveAll removes session from every room and returns the rooms it left.
func (r *Registry) LeaveAll(session string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.sessions[session]
	left := make([]string, 0, len(joined))
	for room := range joined {
		left = append(left, room)
	}
	for _, room := range left {
		r.leaveLocked(session, room)
	}
	sort.Strings(left)
	return left
}

// Members returns a sorted snapshot of the sessions in room.
func (r *Registry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]string, 0, len(members))
	for s := range members {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Rooms returns a sorted snapshot of the rooms session has joined.
func (r *Registry) Rooms(session string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := r.sessions[session]
	out := make([]string, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// RoomCount returns how many rooms have at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
