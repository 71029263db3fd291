package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/PaulBabatuyi/roomchat/internal/metrics"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	presenceQueueSize    = 1024
	presenceWriteTimeout = 5 * time.Second
)

// PresenceStore persists the online flag and last-seen time.
type PresenceStore interface {
	SetOnline(ctx context.Context, id bson.ObjectID, online bool) error
	SetLastSeen(ctx context.Context, id bson.ObjectID, at time.Time) error
}

// PresenceMirror is an optional secondary presence sink such as Redis.
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
}

type presenceUpdate struct {
	userID bson.ObjectID
	online bool
	at     time.Time
}

// PresenceTracker applies presence writes in the order they were queued, on
// a single worker. Failures are logged and dropped, and so are updates that
// arrive while the queue is full.
type PresenceTracker struct {
	store   PresenceStore
	mirror  PresenceMirror
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	closed  bool
	started bool
	queue   chan presenceUpdate
	done    chan struct{}
}

// NewPresenceTracker returns a tracker; mirror may be nil. Start must be
// called for queued updates to be written.
func NewPresenceTracker(store PresenceStore, mirror PresenceMirror, logger *slog.Logger, m *metrics.Metrics) *PresenceTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PresenceTracker{
		store:   store,
		mirror:  mirror,
		logger:  logger,
		metrics: m,
		queue:   make(chan presenceUpdate, presenceQueueSize),
		done:    make(chan struct{}),
	}
}

// Online queues an online flip for userID.
func (p *PresenceTracker) Online(userID bson.ObjectID) {
	p.enqueue(presenceUpdate{userID: userID, online: true, at: time.Now()})
}

// Offline queues an offline flip and a last-seen stamp for userID.
func (p *PresenceTracker) Offline(userID bson.ObjectID) {
	p.enqueue(presenceUpdate{userID: userID, online: false, at: time.Now()})
}

// enqueue never blocks: when the worker falls behind a slow store, the update
// is dropped and counted as a failed presence write.
func (p *PresenceTracker) enqueue(u presenceUpdate) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Debug("presence update after close dropped", "user_id", u.userID.Hex())
		return
	}
	select {
	case p.queue <- u:
	default:
		p.metrics.PresenceFailed()
		p.logger.Warn("presence queue full, update dropped", "user_id", u.userID.Hex(), "online", u.online)
	}
}

// Start launches the worker. It writes queued updates until Close is
// called, then drains the queue; if ctx is cancelled first, pending updates
// are dropped. Start must be called at most once.
func (p *PresenceTracker) Start(ctx context.Context) {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	go p.run(ctx)
}

func (p *PresenceTracker) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case u, ok := <-p.queue:
			if !ok {
				return
			}
			p.apply(u)
		case <-ctx.Done():
			return
		}
	}
}

// Close stops accepting updates and waits for the worker to write those
// already queued. It returns at once if Start was never called.
func (p *PresenceTracker) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	started := p.started
	close(p.queue)
	p.mu.Unlock()

	if started {
		<-p.done
	}
}

func (p *PresenceTracker) apply(u presenceUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
	defer cancel()

	log := p.logger.With("user_id", u.userID.Hex(), "online", u.online)
	if err := p.store.SetOnline(ctx, u.userID, u.online); err != nil {
		p.failed(log, "set online", err)
	}
	if !u.online {
		if err := p.store.SetLastSeen(ctx, u.userID, u.at); err != nil {
			p.failed(log, "set last seen", err)
		}
	}

	if p.mirror == nil {
		return
	}
	var err error
	if u.online {
		err = p.mirror.SetOnline(ctx, u.userID.Hex())
	} else {
		err = p.mirror.SetOffline(ctx, u.userID.Hex(), u.at)
	}
	if err != nil {
		p.failed(log, "mirror presence", err)
	}
}

func (p *PresenceTracker) failed(log *slog.Logger, op string, err error) {
	p.metrics.PresenceFailed()
	log.Warn("presence write failed", "op", op, "error", err)
}
