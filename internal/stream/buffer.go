package stream

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vantive/pulse/pkg/metrics"
)

const (
	bufferCap  = 1000
	bufferTrim = 500
)

// DomainEvent is a validated raw event waiting for its stream processor.
// Events are transient: they live only in the buffer until drained.
type DomainEvent struct {
	Domain     string
	Payload    interface{}
	ReceivedAt time.Time
}

// Buffer is the shared per-domain event buffer. Handlers append concurrently;
// each domain's processor drains. On overflow the oldest events are dropped
// and the newest 500 kept.
type Buffer struct {
	mu     sync.Mutex
	events map[string][]DomainEvent
	log    *zap.Logger
	now    func() time.Time
}

// NewBuffer creates an empty event buffer.
func NewBuffer(log *zap.Logger) *Buffer {
	return &Buffer{
		events: make(map[string][]DomainEvent),
		log:    log.With(zap.String("module", "stream_buffer")),
		now:    time.Now,
	}
}

// Ingest validates and appends a raw event for the domain.
func (b *Buffer) Ingest(domain string, payload map[string]interface{}) error {
	typed, err := decodePayload(domain, payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	events := append(b.events[domain], DomainEvent{
		Domain:     domain,
		Payload:    typed,
		ReceivedAt: b.now(),
	})
	if len(events) > bufferCap {
		dropped := len(events) - bufferTrim
		events = append([]DomainEvent(nil), events[dropped:]...)
		b.log.Warn("event buffer overflow, trimmed oldest events",
			zap.String("domain", domain),
			zap.Int("dropped", dropped))
	}
	b.events[domain] = events

	metrics.EventsIngested.WithLabelValues(domain).Inc()
	return nil
}

// Drain removes and returns all buffered events for the domain. Read and
// clear happen under one lock so nothing is reprocessed.
func (b *Buffer) Drain(domain string) []DomainEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.events[domain]
	delete(b.events, domain)
	return events
}

// Len returns the number of buffered events for the domain.
func (b *Buffer) Len(domain string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events[domain])
}
