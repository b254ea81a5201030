package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BackgroundWorker runs a work function on a fixed interval under supervision.
// An error from one iteration is logged and the loop continues; the worker
// only exits on Stop or context cancellation.
type BackgroundWorker struct {
	name     string
	workFunc func(ctx context.Context) error
	interval time.Duration
	log      *zap.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewBackgroundWorker creates a new background worker
func NewBackgroundWorker(name string, workFunc func(ctx context.Context) error, interval time.Duration, log *zap.Logger) *BackgroundWorker {
	return &BackgroundWorker{
		name:     name,
		workFunc: workFunc,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Name returns the worker name
func (w *BackgroundWorker) Name() string {
	return w.name
}

// Start begins the background worker
func (w *BackgroundWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	w.wg.Add(1)
	go w.run(ctx)
	w.started = true

	w.log.Info("Background worker started", zap.String("worker", w.name))
	return nil
}

// Stop gracefully stops the background worker
func (w *BackgroundWorker) Stop(ctx context.Context) error {
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
		w.log.Info("Background worker stopped", zap.String("worker", w.name))
		return nil
	case <-ctx.Done():
		w.log.Warn("Background worker stop timeout", zap.String("worker", w.name))
		return ctx.Err()
	}
}

// Health checks if the worker is running
func (w *BackgroundWorker) Health() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return &HealthError{Resource: w.name, Message: "worker not started"}
	}
	return nil
}

// run is the main worker loop
func (w *BackgroundWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Background worker context cancelled", zap.String("worker", w.name))
			return
		case <-w.stopCh:
			w.log.Debug("Background worker stop signal received", zap.String("worker", w.name))
			return
		case <-ticker.C:
			if err := w.workFunc(ctx); err != nil {
				w.log.Error("Background worker execution failed",
					zap.String("worker", w.name),
					zap.Error(err))
			}
		}
	}
}
