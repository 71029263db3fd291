package data

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/PaulBabatuyi/roomchat/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// MemoryStore implements the users, chats and messages stores in process
// memory. It backs the "memory" storage driver and the tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[bson.ObjectID]*User
	chats    map[bson.ObjectID]*Chat
	messages map[bson.ObjectID]*Message
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[bson.ObjectID]*User),
		chats:    make(map[bson.ObjectID]*Chat),
		messages: make(map[bson.ObjectID]*Message),
	}
}

// CreateUser inserts a user; emails and usernames are unique.
func (s *MemoryStore) CreateUser(_ context.Context, email, username, hashedPassword string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = normalize.Email(email)
	username = normalize.Username(username, email)
	for _, u := range s.users {
		if u.Email == email || u.Username == username {
			return nil, ErrUserExists
		}
	}
	now := time.Now()
	u := &User{
		ID:        bson.NewObjectID(),
		Email:     email,
		Username:  username,
		Password:  hashedPassword,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[u.ID] = u
	cp := *u
	return &cp, nil
}

// GetUserByEmail finds a user by email.
func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = normalize.Email(email)
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

// GetUserByID finds a user by id.
func (s *MemoryStore) GetUserByID(_ context.Context, id bson.ObjectID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// UserExists checks if a user exists by email.
func (s *MemoryStore) UserExists(ctx context.Context, email string) (bool, error) {
	_, err := s.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	return err == nil, err
}

// SetOnline flips the user's online flag.
func (s *MemoryStore) SetOnline(_ context.Context, id bson.ObjectID, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.IsOnline = online
	u.UpdatedAt = time.Now()
	return nil
}

// SetLastSeen stamps the user's last-seen time.
func (s *MemoryStore) SetLastSeen(_ context.Context, id bson.ObjectID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.LastSeen = &at
	u.UpdatedAt = time.Now()
	return nil
}

// CreateChat returns the existing 1:1 chat between the two users, or creates it.
func (s *MemoryStore) CreateChat(_ context.Context, userID, receiverID bson.ObjectID) (*Chat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.chats {
		if !c.IsGroup && len(c.Users) == 2 && c.HasMember(userID) && c.HasMember(receiverID) {
			return copyChat(c), false, nil
		}
	}
	now := time.Now()
	c := &Chat{
		ID:        bson.NewObjectID(),
		Users:     []bson.ObjectID{userID, receiverID},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.chats[c.ID] = c
	return copyChat(c), true, nil
}

// CreateGroupChat inserts a group chat administered by adminID.
func (s *MemoryStore) CreateGroupChat(_ context.Context, adminID bson.ObjectID, userIDs []bson.ObjectID, name string) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := newGroupChat(adminID, userIDs, name)
	c.ID = bson.NewObjectID()
	s.chats[c.ID] = c
	return copyChat(c), nil
}

// FindChatByID finds a chat by id.
func (s *MemoryStore) FindChatByID(_ context.Context, id bson.ObjectID) (*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[id]
	if !ok {
		return nil, ErrChatNotFound
	}
	return copyChat(c), nil
}

// ListUserChats returns the user's chats, most recently updated first.
func (s *MemoryStore) ListUserChats(_ context.Context, userID bson.ObjectID, limit int64) ([]*ChatSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ChatSummary
	for _, c := range s.chats {
		if !c.HasMember(userID) {
			continue
		}
		sum := &ChatSummary{Chat: copyChat(c)}
		if c.LatestMessage != nil {
			if m, ok := s.messages[*c.LatestMessage]; ok {
				sum.LatestMessage = copyMessage(m)
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Chat.UpdatedAt.After(out[j].Chat.UpdatedAt)
	})
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateLatestMessage points the chat at its newest message.
func (s *MemoryStore) UpdateLatestMessage(_ context.Context, chatID, messageID bson.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return ErrChatNotFound
	}
	id := messageID
	c.LatestMessage = &id
	c.UpdatedAt = time.Now()
	return nil
}

// UpdateGroup replaces a group's name and member list.
func (s *MemoryStore) UpdateGroup(_ context.Context, id bson.ObjectID, name string, users []bson.ObjectID) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[id]
	if !ok || !c.IsGroup {
		return nil, ErrChatNotFound
	}
	c.GroupName = name
	c.Users = append([]bson.ObjectID(nil), users...)
	c.UpdatedAt = time.Now()
	return copyChat(c), nil
}

// DeleteChat removes the chat.
func (s *MemoryStore) DeleteChat(_ context.Context, id bson.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[id]; !ok {
		return ErrChatNotFound
	}
	delete(s.chats, id)
	return nil
}

// CreateMessage stores a message with readBy set to the sender.
func (s *MemoryStore) CreateMessage(_ context.Context, msg *Message) (*Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	m := copyMessage(msg)
	m.ID = bson.NewObjectID()
	m.ReadBy = []bson.ObjectID{m.Sender}
	m.CreatedAt = now
	m.UpdatedAt = now
	s.messages[m.ID] = m
	return copyMessage(m), nil
}

// GetPopulatedMessage returns the message with sender and chat attached.
func (s *MemoryStore) GetPopulatedMessage(_ context.Context, id bson.ObjectID) (*MessageView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	view := &MessageView{
		ID:          m.ID,
		Sender:      UserSummary{ID: m.Sender},
		Content:     m.Content,
		MessageType: m.MessageType,
		MediaURL:    m.MediaURL,
		MediaURLs:   append([]string(nil), m.MediaURLs...),
		ImageCount:  m.ImageCount,
		ReadBy:      append([]bson.ObjectID(nil), m.ReadBy...),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if u, ok := s.users[m.Sender]; ok {
		view.Sender = u.Summary()
	}
	if c, ok := s.chats[m.Chat]; ok {
		view.Chat = copyChat(c)
	}
	return view, nil
}

// GetMessageByID finds a single message.
func (s *MemoryStore) GetMessageByID(_ context.Context, id bson.ObjectID) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return copyMessage(m), nil
}

// GetMessageHistory returns the newest limit messages of a chat, oldest first.
func (s *MemoryStore) GetMessageHistory(_ context.Context, chatID bson.ObjectID, limit int64) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Message
	for _, m := range s.messages {
		if m.Chat == chatID {
			out = append(out, copyMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

// MarkReadByUser adds userID to readBy where absent and returns changed ids.
func (s *MemoryStore) MarkReadByUser(_ context.Context, chatID bson.ObjectID, ids []bson.ObjectID, userID bson.ObjectID) ([]bson.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []bson.ObjectID
	for _, id := range ids {
		m, ok := s.messages[id]
		if !ok || m.Chat != chatID || containsID(m.ReadBy, userID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, userID)
		m.UpdatedAt = time.Now()
		changed = append(changed, id)
	}
	return changed, nil
}

func containsID(ids []bson.ObjectID, id bson.ObjectID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func copyChat(c *Chat) *Chat {
	cp := *c
	cp.Users = append([]bson.ObjectID(nil), c.Users...)
	return &cp
}

func copyMessage(m *Message) *Message {
	cp := *m
	cp.MediaURLs = append([]string(nil), m.MediaURLs...)
	cp.ReadBy = append([]bson.ObjectID(nil), m.ReadBy...)
	return &cp
}
