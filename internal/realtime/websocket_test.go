package realtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// bareSink builds a wsSink without a live connection or write loop, the state
// a sink is in while frames sit in its buffer.
func bareSink(t *testing.T) *wsSink {
	t.Helper()
	return &wsSink{
		send: make(chan Event, sendBufferSize),
		done: make(chan struct{}),
		log:  zaptest.NewLogger(t),
	}
}

func TestSinkSendAfterClose(t *testing.T) {
	sink := bareSink(t)

	require.NoError(t, sink.Send(Event{Type: EventPong}))
	require.NoError(t, sink.Close())

	err := sink.Send(Event{Type: EventPong})
	assert.ErrorIs(t, err, ErrSinkClosed)

	// closing again is a no-op
	assert.NoError(t, sink.Close())
}

func TestSinkSendWhenBufferFull(t *testing.T) {
	sink := bareSink(t)

	for i := 0; i < sendBufferSize; i++ {
		require.NoError(t, sink.Send(Event{Type: EventPong}))
	}

	err := sink.Send(Event{Type: EventPong})
	assert.ErrorIs(t, err, ErrSlowClient)
}

// A disconnect can land between a publish snapshot and the sends against it,
// so a sink must tolerate Send racing Close instead of panicking.
func TestPublishSurvivesConcurrentDisconnect(t *testing.T) {
	registry := NewRegistry(zaptest.NewLogger(t))
	broadcaster := NewBroadcaster(registry, zaptest.NewLogger(t))

	for i := 0; i < 50; i++ {
		sink := bareSink(t)
		session := registry.Connect("ada", sink)
		_, ok := registry.Subscribe(session.ID, "finance")
		require.True(t, ok)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				broadcaster.Publish("finance", "finance_update", map[string]int{"seq": j})
			}
		}()
		go func() {
			defer wg.Done()
			registry.Disconnect(session.ID)
		}()
		wg.Wait()

		err := sink.Send(Event{Type: EventPong})
		assert.ErrorIs(t, err, ErrSinkClosed)
	}
}
