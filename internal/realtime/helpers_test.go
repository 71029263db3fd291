package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/PaulBabatuyi/roomchat/internal/auth"
	"github.com/PaulBabatuyi/roomchat/internal/data"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var errBrokenPipe = errors.New("broken pipe")

// flushEvent is queued behind real events; the recorder closes its channel
// instead of keeping it.
const flushEvent = "test_flush"

// recorder is a Sender that keeps every event it is given.
type recorder struct {
	mu     sync.Mutex
	events []Event
	fail   bool
	sess   *Session
}

func (r *recorder) Send(ev Event) error {
	if ev.Name == flushEvent {
		close(ev.Data.(chan struct{}))
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errBrokenPipe
	}
	r.events = append(r.events, ev)
	return nil
}

// settle waits until the session's writer has handed over everything queued
// so far.
func (r *recorder) settle() {
	r.mu.Lock()
	s, fail := r.sess, r.fail
	r.mu.Unlock()
	if s == nil || fail {
		return
	}
	done := make(chan struct{})
	if err := s.send(Event{Name: flushEvent, Data: done}); err != nil {
		done = s.written
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

func (r *recorder) named(name string) []Event {
	r.settle()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) lastError(t *testing.T) ErrorPayload {
	t.Helper()
	errs := r.named(EventError)
	require.NotEmpty(t, errs, "expected an error event")
	p, ok := errs[len(errs)-1].Data.(ErrorPayload)
	require.True(t, ok)
	return p
}

type testEnv struct {
	store    *data.MemoryStore
	jwt      *auth.JWTManager
	registry *Registry
	presence *PresenceTracker
	mgr      *Manager
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, data.NewMemoryStore(), nil, opts)
}

func newTestEnvWithStore(t *testing.T, mem *data.MemoryStore, store Store, opts Options) *testEnv {
	t.Helper()
	if store == nil {
		store = mem
	}
	jm := auth.NewJWTManager("test-secret", time.Hour)
	reg := NewRegistry()
	presence := NewPresenceTracker(mem, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	presence.Start(ctx)
	t.Cleanup(cancel)
	t.Cleanup(presence.Close)

	return &testEnv{
		store:    mem,
		jwt:      jm,
		registry: reg,
		presence: presence,
		mgr:      NewManager(auth.NewAuthenticator(jm, mem), store, reg, presence, opts),
	}
}

func (e *testEnv) user(t *testing.T, name string) *data.User {
	t.Helper()
	u, err := e.store.CreateUser(context.Background(), name+"@example.com", name, "hash")
	require.NoError(t, err)
	return u
}

func (e *testEnv) token(t *testing.T, u *data.User) string {
	t.Helper()
	tok, _, err := e.jwt.GenerateToken(u.ID, u.Email)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) connect(t *testing.T, u *data.User) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s, err := e.mgr.Connect(context.Background(), "Bearer "+e.token(t, u), rec)
	require.NoError(t, err)
	rec.sess = s
	t.Cleanup(s.Close)
	return s, rec
}

func (e *testEnv) chat(t *testing.T, a, b *data.User) string {
	t.Helper()
	c, _, err := e.store.CreateChat(context.Background(), a.ID, b.ID)
	require.NoError(t, err)
	return c.ID.Hex()
}

func (e *testEnv) join(t *testing.T, s *Session, room string) {
	t.Helper()
	require.NoError(t, s.Handle(context.Background(), JoinChat{ConversationID: room}))
	require.True(t, e.registry.Contains(room, s.ID()), "join did not register")
}

// failingStore wraps a MemoryStore and fails selected operations.
type failingStore struct {
	*data.MemoryStore
	failCreate bool
	failLatest bool
}

func (f *failingStore) CreateMessage(ctx context.Context, msg *data.Message) (*data.Message, error) {
	if f.failCreate {
		return nil, errors.New("write concern timeout")
	}
	return f.MemoryStore.CreateMessage(ctx, msg)
}

func (f *failingStore) UpdateLatestMessage(ctx context.Context, chatID, messageID bson.ObjectID) error {
	if f.failLatest {
		return errors.New("write concern timeout")
	}
	return f.MemoryStore.UpdateLatestMessage(ctx, chatID, messageID)
}

// blockingSender never returns from Send until released.
type blockingSender struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingSender() *blockingSender {
	return &blockingSender{entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingSender) Send(Event) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return errBrokenPipe
}
