package realtime

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var errUserNotConnected = errors.New("user not connected")

// Hub indexes live sessions by connection id and by user id. A user may hold
// several connections at once, one per device or tab.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Session
	byUser map[string]map[string]*Session
}

func NewHub() *Hub {
	return &Hub{
		conns:  make(map[string]*Session),
		byUser: make(map[string]map[string]*Session),
	}
}

// Register adds s and returns how many connections its user now holds.
func (h *Hub) Register(s *Session) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[s.id] = s
	uid := s.userKey()
	if _, ok := h.byUser[uid]; !ok {
		h.byUser[uid] = make(map[string]*Session)
	}
	h.byUser[uid][s.id] = s
	return len(h.byUser[uid])
}

// Unregister removes s and returns how many connections its user still holds.
func (h *Hub) Unregister(s *Session) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, s.id)
	uid := s.userKey()
	conns, ok := h.byUser[uid]
	if !ok {
		return 0
	}
	delete(conns, s.id)
	if len(conns) == 0 {
		delete(h.byUser, uid)
		return 0
	}
	return len(conns)
}

// Get returns the live session with the given connection id.
func (h *Hub) Get(connID string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.conns[connID]
	return s, ok
}

// SessionsOf returns the live connections of userID.
func (h *Hub) SessionsOf(userID string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sessions := make([]*Session, 0, len(h.byUser[userID]))
	for _, s := range h.byUser[userID] {
		sessions = append(sessions, s)
	}
	return sessions
}

// SendToUser sends ev to every connection of userID. Delivery is best
// effort: all connections are tried and the first error is returned.
func (h *Hub) SendToUser(userID string, ev Event) error {
	sessions := h.SessionsOf(userID)
	if len(sessions) == 0 {
		return fmt.Errorf("%w: %s", errUserNotConnected, userID)
	}

	var firstErr error
	for _, s := range sessions {
		if err := s.send(ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Users returns the number of distinct connected users.
func (h *Hub) Users() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser)
}

// UserIDs returns the hex ids of connected users, sorted.
func (h *Hub) UserIDs() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.byUser))
	for id := range h.byUser {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
