package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSink struct {
	mu       sync.Mutex
	events   []Event
	failWith error
	closed   bool
}

func (f *fakeSink) Send(e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) received() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

func TestPublishReachesOnlySubscribers(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))
	broadcaster := NewBroadcaster(registry, zaptest.NewLogger(t))

	subscribed := &fakeSink{}
	other := &fakeSink{}
	s1 := registry.Connect("alice", subscribed)
	s2 := registry.Connect("bob", other)

	_, ok := registry.Subscribe(s1.ID, "finance")
	require.True(t, ok)
	_, ok = registry.Subscribe(s2.ID, "fitness")
	require.True(t, ok)

	delivered := broadcaster.Publish("finance", "finance_update", map[string]int{"count": 3})

	assert.Equal(t, 1, delivered)
	require.Len(t, subscribed.received(), 1)
	assert.Equal(t, "finance_update", subscribed.received()[0].Type)
	assert.Empty(t, other.received())
}

func TestPublishIsolatesFailedRecipients(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))
	broadcaster := NewBroadcaster(registry, zaptest.NewLogger(t))

	healthy1 := &fakeSink{}
	broken := &fakeSink{failWith: errors.New("connection reset")}
	healthy2 := &fakeSink{}
	for _, c := range []struct {
		user string
		sink Sink
	}{
		{"alice", healthy1},
		{"mallory", broken},
		{"bob", healthy2},
	} {
		s := registry.Connect(c.user, c.sink)
		_, ok := registry.Subscribe(s.ID, "chat:general")
		require.True(t, ok)
	}

	delivered := broadcaster.Publish("chat:general", "chat_message", map[string]string{"text": "hi"})

	assert.Equal(t, 2, delivered)
	assert.Len(t, healthy1.received(), 1)
	assert.Len(t, healthy2.received(), 1)
}

func TestPublishUnknownTopicDeliversNothing(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))
	broadcaster := NewBroadcaster(registry, zaptest.NewLogger(t))

	sink := &fakeSink{}
	s := registry.Connect("alice", sink)
	_, ok := registry.Subscribe(s.ID, "finance")
	require.True(t, ok)

	assert.Equal(t, 0, broadcaster.Publish("no-such-topic", "x", nil))
	assert.Empty(t, sink.received())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))
	broadcaster := NewBroadcaster(registry, zaptest.NewLogger(t))

	sink := &fakeSink{}
	s := registry.Connect("alice", sink)
	_, ok := registry.Subscribe(s.ID, "finance")
	require.True(t, ok)

	broadcaster.Publish("finance", "finance_update", nil)
	_, ok = registry.Unsubscribe(s.ID, "finance")
	require.True(t, ok)
	broadcaster.Publish("finance", "finance_update", nil)

	assert.Len(t, sink.received(), 1)
}

func TestDisconnectClosesSinkAndDropsSubscriptions(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))
	broadcaster := NewBroadcaster(registry, zaptest.NewLogger(t))

	sink := &fakeSink{}
	s := registry.Connect("alice", sink)
	_, ok := registry.Subscribe(s.ID, "finance")
	require.True(t, ok)

	registry.Disconnect(s.ID)

	assert.True(t, sink.closed)
	assert.Equal(t, 0, registry.Len())
	assert.Equal(t, 0, broadcaster.Publish("finance", "finance_update", nil))

	// idempotent
	registry.Disconnect(s.ID)
	assert.Equal(t, 0, registry.Len())
}

func TestSweepInactiveDropsStaleSessions(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))

	current := time.Now()
	registry.now = func() time.Time { return current }

	stale := registry.Connect("alice", &fakeSink{})
	current = current.Add(15 * time.Minute)
	fresh := registry.Connect("bob", &fakeSink{})

	dropped := registry.SweepInactive(10 * time.Minute)

	assert.Equal(t, 1, dropped)
	_, ok := registry.Get(stale.ID)
	assert.False(t, ok)
	_, ok = registry.Get(fresh.ID)
	assert.True(t, ok)
}

func TestTouchKeepsSessionAlive(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))

	current := time.Now()
	registry.now = func() time.Time { return current }

	s := registry.Connect("alice", &fakeSink{})
	current = current.Add(15 * time.Minute)
	s.Touch(current)

	assert.Equal(t, 0, registry.SweepInactive(10*time.Minute))
}
