package realtime

import (
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vantive/pulse/pkg/metrics"
)

// fanOutConcurrency bounds parallel deliveries per publish.
const fanOutConcurrency = 16

// Broadcaster fans an event out to every session subscribed to a topic.
// Topics are opaque strings; an unknown topic simply has zero subscribers.
type Broadcaster struct {
	registry *Registry
	log      *zap.Logger
}

// NewBroadcaster creates a broadcaster over the given registry.
func NewBroadcaster(registry *Registry, log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		log:      log.With(zap.String("module", "broadcaster")),
	}
}

// Publish delivers the payload to every subscriber of the topic and returns
// the number of successful deliveries. A failed send is logged and skipped;
// one bad connection never blocks fan-out to the others. No ordering or
// delivery guarantee holds across recipients.
func (b *Broadcaster) Publish(topic, eventType string, payload interface{}) int {
	sessions := b.registry.snapshotSubscribed(topic)
	if len(sessions) == 0 {
		return 0
	}

	event := Event{Type: eventType, Payload: payload}
	var delivered atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(fanOutConcurrency)
	for _, session := range sessions {
		g.Go(func() error {
			if err := session.Send(event); err != nil {
				metrics.BroadcastsDropped.WithLabelValues(topic).Inc()
				b.log.Warn("fan-out delivery failed",
					zap.String("topic", topic),
					zap.String("connection_id", session.ID),
					zap.String("user_id", session.UserID),
					zap.Error(err))
				return nil
			}
			delivered.Inc()
			metrics.BroadcastsDelivered.WithLabelValues(topic).Inc()
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered.Load())
}
