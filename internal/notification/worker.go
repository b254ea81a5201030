package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vantive/pulse/pkg/lifecycle"
	"github.com/vantive/pulse/pkg/metrics"
)

// DeliveryWorker consumes the engine's queue and drives each notification
// through its channel provider. One worker is enough; providers bound their
// own latency.
type DeliveryWorker struct {
	engine    *Engine
	repo      Repository
	providers map[ChannelKind]Provider
	log       *zap.Logger
	now       func() time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

func NewDeliveryWorker(engine *Engine, repo Repository, providers []Provider, log *zap.Logger) *DeliveryWorker {
	byChannel := make(map[ChannelKind]Provider, len(providers))
	for _, p := range providers {
		byChannel[p.Channel()] = p
	}
	return &DeliveryWorker{
		engine:    engine,
		repo:      repo,
		providers: byChannel,
		log:       log.With(zap.String("module", "notification"), zap.String("worker", "delivery")),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Name implements lifecycle.Resource.
func (w *DeliveryWorker) Name() string { return "notification_delivery_worker" }

// Start launches the consume loop.
func (w *DeliveryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	w.wg.Add(1)
	go w.run(ctx)
	w.started = true
	return nil
}

// Stop signals the loop and waits for in-flight delivery to finish.
func (w *DeliveryWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return nil
	}
	close(w.stopCh)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
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
func (w *DeliveryWorker) Health() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return &lifecycle.HealthError{Resource: w.Name(), Message: "worker not started"}
	}
	return nil
}

func (w *DeliveryWorker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case id := <-w.engine.Queue():
			if err := w.process(ctx, id); err != nil {
				w.log.Error("delivery failed",
					zap.Int64("notification_id", id),
					zap.Error(err))
			}
		}
	}
}

// process delivers one notification. Only pending records are delivered;
// anything else on the queue is a stale entry and is skipped silently.
func (w *DeliveryWorker) process(ctx context.Context, id int64) error {
	n, err := w.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.Status != StatusPending {
		return nil
	}
	now := w.now()
	if n.ScheduledAt != nil && n.ScheduledAt.After(now) {
		// not due yet, the scheduler will release it
		return nil
	}

	pref, err := w.engine.GetPreference(ctx, n.UserID)
	if err != nil {
		return err
	}
	if !pref.ChannelEnabled(n.Channel) {
		// stays pending; redeliver works once the channel is re-enabled
		w.log.Info("channel disabled by preference, skipping",
			zap.Int64("notification_id", n.ID),
			zap.String("channel", string(n.Channel)))
		metrics.NotificationsProcessed.WithLabelValues(string(n.Channel), "skipped").Inc()
		return nil
	}
	if n.Priority != PriorityCritical && pref.InQuietHours(now) {
		// stays pending; a later redeliver or release picks it up
		w.log.Debug("suppressed by quiet hours",
			zap.Int64("notification_id", n.ID),
			zap.String("user_id", n.UserID))
		metrics.NotificationsProcessed.WithLabelValues(string(n.Channel), "suppressed").Inc()
		return nil
	}

	var sendErr error
	if provider, ok := w.providers[n.Channel]; ok {
		sendErr = provider.Send(ctx, n)
	} else {
		sendErr = ErrNotConfigured
	}

	attempt := &DeliveryAttempt{
		NotificationID: n.ID,
		Channel:        n.Channel,
		Succeeded:      sendErr == nil,
		AttemptedAt:    now,
	}
	if sendErr != nil {
		attempt.Error = sendErr.Error()
	}
	if err := w.repo.RecordAttempt(ctx, attempt); err != nil {
		w.log.Warn("recording delivery attempt failed", zap.Error(err))
	}

	if sendErr != nil {
		n.Status = StatusFailed
		n.RetryCount++
		n.ErrorMessage = sendErr.Error()
		metrics.NotificationsProcessed.WithLabelValues(string(n.Channel), "failed").Inc()
	} else {
		n.Status = StatusSent
		n.SentAt = &now
		n.ErrorMessage = ""
		metrics.NotificationsProcessed.WithLabelValues(string(n.Channel), "sent").Inc()
	}
	n.UpdatedAt = w.now()
	if err := w.repo.Update(ctx, n); err != nil {
		return err
	}
	return sendErr
}
