package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/PaulBabatuyi/roomchat/internal/data"
	"github.com/PaulBabatuyi/roomchat/internal/metrics"
	"github.com/PaulBabatuyi/roomchat/internal/middleware"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Sender writes one outbound event to a connection. Each session calls Send
// from a single writer goroutine, so Send may block on a slow peer without
// holding up anyone else.
type Sender interface {
	Send(ev Event) error
}

// Authenticator resolves a handshake credential to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*data.User, error)
}

// Store is the storage surface the core depends on.
type Store interface {
	ChatFinder
	MessageStore
	LatestMessageUpdater
	ReceiptStore
}

// Options tunes a Manager. Zero values are usable.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Limiter bounds inbound events per connection; nil disables limiting.
	Limiter *middleware.LimiterStore
	// MaxContentLength bounds message content in runes.
	MaxContentLength int
	// StorageTimeout bounds the storage work of one inbound event.
	StorageTimeout time.Duration
	// OutboundQueue bounds the events waiting for one connection's writer.
	OutboundQueue int
}

// Manager owns the connection lifecycle: it authenticates connections,
// routes their events through the pipelines and cleans up on disconnect.
type Manager struct {
	auth       Authenticator
	registry   *Registry
	hub        *Hub
	members    *MembershipValidator
	ingest     *IngestPipeline
	receipts   *ReceiptPipeline
	dispatcher *Dispatcher
	presence   *PresenceTracker
	limiter    *middleware.LimiterStore
	timeout    time.Duration
	queueSize  int
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// presenceMu orders hub registration with the presence write it causes,
	// so a reconnect racing a disconnect cannot leave the user offline.
	presenceMu sync.Mutex
}

func NewManager(auth Authenticator, store Store, registry *Registry, presence *PresenceTracker, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := NewHub()
	members := NewMembershipValidator(store)
	return &Manager{
		auth:       auth,
		registry:   registry,
		hub:        hub,
		members:    members,
		ingest:     NewIngestPipeline(members, store, store, opts.MaxContentLength, logger, opts.Metrics),
		receipts:   NewReceiptPipeline(members, store, opts.Metrics),
		dispatcher: NewDispatcher(registry, hub, logger, opts.Metrics),
		presence:   presence,
		limiter:    opts.Limiter,
		timeout:    opts.StorageTimeout,
		queueSize:  opts.OutboundQueue,
		logger:     logger,
		metrics:    opts.Metrics,
	}
}

// Connect authenticates token and registers a session writing to sender.
// On failure an error event is sent and an authentication error returned;
// the caller must then close the transport.
func (m *Manager) Connect(ctx context.Context, token string, sender Sender) (*Session, error) {
	user, err := m.auth.Authenticate(ctx, token)
	if err != nil {
		authErr := newError(KindAuthentication, err)
		m.metrics.AuthFailed()
		m.logger.Info("connection rejected", "error", err)
		_ = sender.Send(ErrorEvent(authErr))
		return nil, authErr
	}

	s := newSession(uuid.NewString(), user, sender, m.queueSize, m.logger)
	s.m = m
	go s.writeLoop()

	m.presenceMu.Lock()
	if m.hub.Register(s) == 1 && m.presence != nil {
		m.presence.Online(user.ID)
	}
	m.presenceMu.Unlock()

	m.metrics.ConnectionOpened()
	m.logger.Info("connection authenticated", "conn_id", s.id, "user_id", user.ID.Hex())
	return s, nil
}

// CloseRoom evicts every connection from the conversation's room and tells
// them with chat_deleted. It returns the number of evicted connections.
func (m *Manager) CloseRoom(conversationID string) int {
	evicted := m.registry.DeleteRoom(conversationID)
	for _, id := range evicted {
		if s, ok := m.hub.Get(id); ok {
			_ = s.send(ChatDeleted(conversationID))
		}
	}
	m.metrics.SetRooms(m.registry.Len())
	if len(evicted) > 0 {
		m.logger.Info("room closed", "room", conversationID, "evicted", len(evicted))
	}
	return len(evicted)
}

// EvictUsers takes every connection of the given users out of the
// conversation's room and tells them with removed_from_chat. It returns the
// number of connections that were joined to the room.
func (m *Manager) EvictUsers(conversationID string, userIDs []bson.ObjectID) int {
	evicted := 0
	for _, id := range userIDs {
		for _, s := range m.hub.SessionsOf(id.Hex()) {
			if m.registry.Leave(conversationID, s.id) {
				evicted++
			}
			_ = s.send(RemovedFromChat(conversationID))
		}
	}
	m.metrics.SetRooms(m.registry.Len())
	if evicted > 0 {
		m.logger.Info("members evicted", "room", conversationID, "evicted", evicted)
	}
	return evicted
}

// NotifyUsers sends ev to every live connection of the given users and
// returns how many users were reached.
func (m *Manager) NotifyUsers(userIDs []bson.ObjectID, ev Event) int {
	reached := 0
	for _, id := range userIDs {
		if err := m.hub.SendToUser(id.Hex(), ev); err == nil {
			reached++
		}
	}
	return reached
}

// Stats reports live connection and room counts.
type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Rooms       int `json:"rooms"`
}

// OnlineUsers returns the hex ids of users with at least one live connection.
func (m *Manager) OnlineUsers() []string { return m.hub.UserIDs() }

func (m *Manager) Stats() Stats {
	return Stats{Connections: m.hub.Len(), Users: m.hub.Users(), Rooms: m.registry.Len()}
}

func (m *Manager) disconnect(s *Session) {
	rooms := m.registry.RemoveConnectionEverywhere(s.id)

	m.presenceMu.Lock()
	if m.hub.Unregister(s) == 0 && m.presence != nil {
		m.presence.Offline(s.user.ID)
	}
	m.presenceMu.Unlock()

	if m.limiter != nil {
		m.limiter.Forget(s.limiterKey())
	}
	m.metrics.ConnectionClosed()
	m.metrics.SetRooms(m.registry.Len())
	m.logger.Info("connection closed", "conn_id", s.id, "user_id", s.user.ID.Hex(), "rooms", len(rooms))
}
