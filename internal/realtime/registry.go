package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vantive/pulse/pkg/metrics"
)

// Registry tracks every live session. All mutations are atomic with respect
// to concurrent publishes: a publish works against a snapshot taken under the
// read lock and never observes a half-updated subscription set.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      *zap.Logger
	now      func() time.Time
}

// NewRegistry creates an empty session registry.
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		log:      log.With(zap.String("module", "realtime")),
		now:      time.Now,
	}
}

// Connect registers a new live connection for the user. Multiple connections
// per user are independent entries. Connect never fails.
func (r *Registry) Connect(userID string, sink Sink) *Session {
	session := newSession(uuid.New().String(), userID, sink, r.now())

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	metrics.ActiveSessions.Inc()
	r.log.Info("session connected",
		zap.String("connection_id", session.ID),
		zap.String("user_id", userID))
	return session
}

// Disconnect removes a connection and drops its subscriptions. Removing an
// unknown handle is a no-op.
func (r *Registry) Disconnect(connectionID string) {
	r.mu.Lock()
	session, ok := r.sessions[connectionID]
	if ok {
		delete(r.sessions, connectionID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := session.sink.Close(); err != nil {
		r.log.Debug("sink close failed", zap.String("connection_id", connectionID), zap.Error(err))
	}
	metrics.ActiveSessions.Dec()
	r.log.Info("session disconnected",
		zap.String("connection_id", connectionID),
		zap.String("user_id", session.UserID))
}

// Get returns the session for a connection id.
func (r *Registry) Get(connectionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connectionID]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Subscribe adds a topic to the connection's subscription set and returns the
// acknowledgment event to be sent back on that same connection.
func (r *Registry) Subscribe(connectionID, topic string) (Event, bool) {
	session, ok := r.Get(connectionID)
	if !ok {
		return Event{}, false
	}
	session.subscribe(topic)
	return Event{
		Type:    EventSubscriptionConfirmed,
		Payload: map[string]interface{}{"topic": topic},
	}, true
}

// Unsubscribe removes a topic from the connection's subscription set.
func (r *Registry) Unsubscribe(connectionID, topic string) (Event, bool) {
	session, ok := r.Get(connectionID)
	if !ok {
		return Event{}, false
	}
	session.unsubscribe(topic)
	return Event{
		Type:    EventUnsubscribeConfirmed,
		Payload: map[string]interface{}{"topic": topic},
	}, true
}

// snapshotSubscribed returns the sessions currently subscribed to the topic.
// The slice is safe to iterate without holding the registry lock.
func (r *Registry) snapshotSubscribed(topic string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.subscribed(topic) {
			out = append(out, s)
		}
	}
	return out
}

// SweepInactive force-disconnects every session idle longer than maxIdle and
// returns how many were dropped. This is a liveness cap: a transport that is
// technically still open is dropped once its inbound traffic goes stale.
func (r *Registry) SweepInactive(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.RLock()
	var stale []string
	for id, s := range r.sessions {
		if s.LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.log.Warn("dropping inactive session", zap.String("connection_id", id))
		r.Disconnect(id)
	}
	return len(stale)
}
