package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/PaulBabatuyi/roomchat/internal/data"
	"github.com/PaulBabatuyi/roomchat/internal/metrics"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// State is a connection's lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

const defaultOutboundQueue = 256

var errOutboundFull = errors.New("outbound queue full")

// Session is one authenticated connection. The transport calls Handle for
// each inbound event, in order, and Close when the connection ends.
//
// Outbound events go through a bounded queue drained by a single writer
// goroutine, so a connection that stops reading only ever stalls itself.
type Session struct {
	id     string
	user   *data.User
	sender Sender
	m      *Manager
	logger *slog.Logger

	mu    sync.Mutex
	state State
	out   chan Event
	// written is closed once the writer has drained the queue after Close.
	written chan struct{}
}

func newSession(id string, user *data.User, sender Sender, queueSize int, logger *slog.Logger) *Session {
	if queueSize <= 0 {
		queueSize = defaultOutboundQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:      id,
		user:    user,
		sender:  sender,
		logger:  logger,
		state:   StateAuthenticated,
		out:     make(chan Event, queueSize),
		written: make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) User() *data.User { return s.user }

func (s *Session) UserID() bson.ObjectID { return s.user.ID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Rooms returns the conversations this connection is joined to.
func (s *Session) Rooms() []string { return s.m.registry.RoomsOf(s.id) }

func (s *Session) userKey() string { return s.user.ID.Hex() }

func (s *Session) limiterKey() string { return "conn:" + s.id }

// send queues ev for the writer without blocking. A full queue drops the
// event.
func (s *Session) send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return ErrSessionClosed
	}
	select {
	case s.out <- ev:
		return nil
	default:
		s.logger.Warn("outbound queue full, event dropped", "conn_id", s.id, "event", ev.Name)
		return errOutboundFull
	}
}

// writeLoop hands queued events to the transport in order. After the first
// failed write the rest are discarded: transports do not recover from one.
func (s *Session) writeLoop() {
	defer close(s.written)
	broken := false
	for ev := range s.out {
		if broken {
			continue
		}
		if err := s.sender.Send(ev); err != nil {
			broken = true
			s.logger.Debug("outbound write failed", "conn_id", s.id, "event", ev.Name, "error", err)
		}
	}
}

// stopWriter marks the session disconnected and lets the writer finish what
// is queued. It reports false if the session was already closed.
func (s *Session) stopWriter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return false
	}
	s.state = StateDisconnected
	close(s.out)
	return true
}

// Handle processes one inbound event. Failures are reported to this
// connection as an error event; the returned error is non-nil only when the
// session is closed.
func (s *Session) Handle(ctx context.Context, in Inbound) error {
	if s.State() == StateDisconnected {
		return ErrSessionClosed
	}
	name := "unknown"
	if in != nil {
		name = in.EventName()
	}

	if s.m.limiter != nil && !s.m.limiter.Allow(s.limiterKey()) {
		s.m.metrics.Event(name, metrics.OutcomeLimited)
		_ = s.send(ErrorEvent(newError(KindRateLimited, ErrRateLimited)))
		return nil
	}

	if s.m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.m.timeout)
		defer cancel()
	}

	var err error
	switch ev := in.(type) {
	case JoinChat:
		err = s.join(ctx, ev)
	case LeaveChat:
		err = s.leave(ev)
	case SendMessage:
		err = s.sendMessage(ctx, ev)
	case MarkAsRead:
		err = s.markAsRead(ctx, ev)
	default:
		err = validationError(ErrUnknownEvent)
	}

	if errors.Is(err, ErrSessionClosed) {
		return err
	}
	if err != nil {
		s.m.metrics.Event(name, metrics.OutcomeRejected)
		s.m.logger.Debug("event rejected",
			"conn_id", s.id, "event", name, "kind", KindOf(err).String(), "error", err)
		_ = s.send(ErrorEvent(err))
		return nil
	}
	s.m.metrics.Event(name, metrics.OutcomeOK)
	return nil
}

// HandleRaw decodes an envelope and handles it. Decoding failures are
// reported to the connection like any other validation error.
func (s *Session) HandleRaw(ctx context.Context, raw []byte) error {
	in, err := ParseInbound(raw)
	if err != nil {
		return s.rejectMalformed(err)
	}
	return s.Handle(ctx, in)
}

// HandleEnvelope is HandleRaw for transports that decode the envelope
// themselves.
func (s *Session) HandleEnvelope(ctx context.Context, env Envelope) error {
	in, err := DecodeInbound(env)
	if err != nil {
		return s.rejectMalformed(err)
	}
	return s.Handle(ctx, in)
}

func (s *Session) rejectMalformed(err error) error {
	if s.State() == StateDisconnected {
		return ErrSessionClosed
	}
	s.m.metrics.Event("unknown", metrics.OutcomeRejected)
	_ = s.send(ErrorEvent(err))
	return nil
}

func (s *Session) join(ctx context.Context, ev JoinChat) error {
	chat, err := s.m.members.Authorize(ctx, s.user.ID, ev.ConversationID)
	if err != nil {
		return err
	}
	room := chat.ID.Hex()

	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.m.registry.Join(room, s.id)
	s.mu.Unlock()

	s.m.metrics.SetRooms(s.m.registry.Len())
	return s.send(JoinedChat(room))
}

func (s *Session) leave(ev LeaveChat) error {
	id, err := ParseConversationID(ev.ConversationID)
	if err != nil {
		return err
	}
	room := id.Hex()
	s.m.registry.Leave(room, s.id)
	s.m.metrics.SetRooms(s.m.registry.Len())
	return s.send(LeftChat(room))
}

func (s *Session) sendMessage(ctx context.Context, ev SendMessage) error {
	view, err := s.m.ingest.Ingest(ctx, s.user.ID, ev)
	if err != nil {
		return err
	}
	id, _ := ParseConversationID(ev.ConversationID)
	s.broadcast(id.Hex(), NewMessage(view))
	return nil
}

func (s *Session) markAsRead(ctx context.Context, ev MarkAsRead) error {
	update, err := s.m.receipts.MarkRead(ctx, s.user.ID, ev)
	if err != nil {
		return err
	}
	s.broadcast(update.ConversationID, MessagesRead(update))
	return nil
}

// broadcast fans ev out to the room. The originating connection always gets
// a copy, even if it has not joined the room.
func (s *Session) broadcast(room string, ev Event) {
	if !s.m.registry.Contains(room, s.id) {
		_ = s.send(ev)
	}
	s.m.dispatcher.Dispatch(room, ev)
}

// Close removes the connection from every room and the hub and marks the
// user offline if this was their last connection. Events already queued are
// still written. It is idempotent.
func (s *Session) Close() {
	if !s.stopWriter() {
		return
	}
	s.m.disconnect(s)
}
