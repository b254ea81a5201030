package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/vantive/pulse/pkg/lifecycle"
)

// Publisher fans an aggregate out to every subscriber of a topic.
type Publisher interface {
	Publish(topic, eventType string, payload interface{}) int
}

// TextGenerator is an external collaborator that turns aggregates into
// human-readable insight text. Its internals are opaque; failures degrade to
// an empty insight.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Processor drains one domain's buffered events on a fixed interval,
// aggregates them and publishes the result to the domain topic. A failed
// iteration is logged and backed off, never fatal to the loop.
type Processor struct {
	domain   string
	interval time.Duration
	buffer   *Buffer
	pub      Publisher
	gen      TextGenerator
	log      *zap.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewProcessor creates a stream processor for one domain.
func NewProcessor(domain string, interval time.Duration, buffer *Buffer, pub Publisher, gen TextGenerator, log *zap.Logger) *Processor {
	return &Processor{
		domain:   domain,
		interval: interval,
		buffer:   buffer,
		pub:      pub,
		gen:      gen,
		log:      log.With(zap.String("module", "stream"), zap.String("domain", domain)),
		stopCh:   make(chan struct{}),
	}
}

// NewProcessors creates the full set of domain processors. Higher
// interactivity domains tick faster.
func NewProcessors(buffer *Buffer, pub Publisher, gen TextGenerator, log *zap.Logger) []*Processor {
	return []*Processor{
		NewProcessor(DomainChat, 2*time.Second, buffer, pub, nil, log),
		NewProcessor(DomainFinance, 5*time.Second, buffer, pub, gen, log),
		NewProcessor(DomainFitness, 10*time.Second, buffer, pub, gen, log),
		NewProcessor(DomainMarketplace, 15*time.Second, buffer, pub, gen, log),
	}
}

// Name implements lifecycle.Resource.
func (p *Processor) Name() string {
	return p.domain + "_processor"
}

// Start launches the processor loop.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	p.wg.Add(1)
	go p.run(ctx)
	p.started = true
	return nil
}

// Stop signals the loop and waits for the current iteration to finish.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health implements lifecycle.Resource.
func (p *Processor) Health() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return &lifecycle.HealthError{Resource: p.Name(), Message: "processor not started"}
	}
	return nil
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.interval
	bo.MaxInterval = 4 * p.interval
	bo.MaxElapsedTime = 0 // the loop runs until explicit shutdown

	wait := p.interval
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := p.tick(ctx); err != nil {
			p.log.Error("stream processor iteration failed", zap.Error(err))
			wait = bo.NextBackOff()
			continue
		}
		bo.Reset()
		wait = p.interval
	}
}

// tick drains, aggregates and publishes one batch. A panic inside the
// heuristics is converted to an error at the iteration boundary.
func (p *Processor) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stream processor panic: %v", r)
		}
	}()

	events := p.buffer.Drain(p.domain)
	if len(events) == 0 {
		return nil
	}

	payload := p.aggregate(ctx, events)
	delivered := p.pub.Publish(p.domain, p.domain+"_update", payload)
	p.log.Debug("published aggregate",
		zap.Int("events", len(events)),
		zap.Int("delivered", delivered))
	return nil
}

func (p *Processor) aggregate(ctx context.Context, events []DomainEvent) interface{} {
	switch p.domain {
	case DomainFinance:
		summary := aggregateFinance(events)
		summary.Insight = p.insight(ctx, fmt.Sprintf(
			"Summarize spending: %d transactions totaling %.2f across %d categories",
			summary.Count, summary.Total, len(summary.ByCategory)))
		return summary
	case DomainFitness:
		summary := aggregateFitness(events)
		summary.Insight = p.insight(ctx, fmt.Sprintf(
			"Summarize activity: %d workouts, %.0f minutes, %.0f calories",
			summary.Workouts, summary.TotalDurationMin, summary.TotalCalories))
		return summary
	case DomainMarketplace:
		summary := aggregateMarketplace(events)
		summary.Insight = p.insight(ctx, fmt.Sprintf(
			"Summarize browsing: %d product views, trending category %q",
			summary.Views, summary.TrendingCategory))
		return summary
	default:
		return aggregateChat(events)
	}
}

func (p *Processor) insight(ctx context.Context, prompt string) string {
	if p.gen == nil {
		return ""
	}
	genCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	text, err := p.gen.Generate(genCtx, prompt)
	if err != nil {
		p.log.Debug("insight generation failed", zap.Error(err))
		return ""
	}
	return text
}
