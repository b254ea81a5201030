package realtime

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Sink is the outbound half of a client connection. Send must be safe for
// concurrent use; a failed send affects only that connection.
type Sink interface {
	Send(event Event) error
	Close() error
}

// Session is one live connection for one user. A user with several devices
// holds several independent sessions.
type Session struct {
	ID          string
	UserID      string
	ConnectedAt time.Time

	lastActivity atomic.Int64

	mu     sync.RWMutex
	topics map[string]struct{}
	prefs  map[string]interface{}

	sink Sink
}

func newSession(id, userID string, sink Sink, now time.Time) *Session {
	s := &Session{
		ID:          id,
		UserID:      userID,
		ConnectedAt: now,
		topics:      make(map[string]struct{}),
		prefs:       make(map[string]interface{}),
		sink:        sink,
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// Touch records inbound activity on the connection.
func (s *Session) Touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

// LastActivity returns the time of the last inbound traffic.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Send pushes an event to this connection only.
func (s *Session) Send(event Event) error {
	return s.sink.Send(event)
}

func (s *Session) subscribe(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topic] = struct{}{}
}

func (s *Session) unsubscribe(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, topic)
}

func (s *Session) subscribed(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.topics[topic]
	return ok
}

// Topics returns a copy of the session's subscription set.
func (s *Session) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// SetPreference stores a session-scoped, ephemeral preference. Preferences
// die with the connection.
func (s *Session) SetPreference(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[key] = value
}

// Preferences returns a copy of the session's ephemeral preferences.
func (s *Session) Preferences() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.prefs))
	for k, v := range s.prefs {
		out[k] = v
	}
	return out
}
