package realtime

import (
	"sort"
	"sync"
)

// Registry maps conversation ids to the connection ids joined to them. Empty
// rooms are removed as soon as their last member leaves.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
	// conns is the reverse index used on disconnect
	conns map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]struct{}),
		conns: make(map[string]map[string]struct{}),
	}
}

// Join adds connID to the room, creating it if needed. Joining twice is a
// no-op; the result reports whether the connection was newly added.
func (r *Registry) Join(conversationID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[conversationID]
	if !ok {
		room = make(map[string]struct{})
		r.rooms[conversationID] = room
	}
	if _, ok := room[connID]; ok {
		return false
	}
	room[connID] = struct{}{}

	joined, ok := r.conns[connID]
	if !ok {
		joined = make(map[string]struct{})
		r.conns[connID] = joined
	}
	joined[conversationID] = struct{}{}
	return true
}

// Leave removes connID from the room and deletes the room if it is empty.
func (r *Registry) Leave(conversationID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(conversationID, connID)
}

func (r *Registry) leaveLocked(conversationID, connID string) bool {
	room, ok := r.rooms[conversationID]
	if !ok {
		return false
	}
	if _, ok := room[connID]; !ok {
		return false
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, conversationID)
	}
	if joined, ok := r.conns[connID]; ok {
		delete(joined, conversationID)
		if len(joined) == 0 {
			delete(r.conns, connID)
		}
	}
	return true
}

// RemoveConnectionEverywhere removes connID from every room and returns the
// rooms it was removed from.
func (r *Registry) RemoveConnectionEverywhere(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.conns[connID]
	rooms := make([]string, 0, len(joined))
	for id := range joined {
		rooms = append(rooms, id)
	}
	for _, id := range rooms {
		r.leaveLocked(id, connID)
	}
	sort.Strings(rooms)
	return rooms
}

// MembersOf returns a snapshot of the room's connection ids, possibly empty.
func (r *Registry) MembersOf(conversationID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[conversationID]
	out := make([]string, 0, len(room))
	for id := range room {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether connID is joined to the room.
func (r *Registry) Contains(conversationID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[conversationID][connID]
	return ok
}

// RoomsOf returns the rooms connID is joined to.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.conns[connID]))
	for id := range r.conns[connID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DeleteRoom evicts every member and returns the evicted connection ids.
func (r *Registry) DeleteRoom(conversationID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[conversationID]
	evicted := make([]string, 0, len(room))
	for id := range room {
		evicted = append(evicted, id)
	}
	for _, id := range evicted {
		r.leaveLocked(conversationID, id)
	}
	sort.Strings(evicted)
	return evicted
}

// Len returns the number of non-empty rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
