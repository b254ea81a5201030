package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// memoryRepo is an in-memory Repository for tests.
type memoryRepo struct {
	mu            sync.Mutex
	nextID        int64
	notifications map[int64]*Notification
	preferences   map[string]*Preference
	attempts      []*DeliveryAttempt
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		notifications: make(map[int64]*Notification),
		preferences:   make(map[string]*Preference),
	}
}

func (r *memoryRepo) Insert(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	n.ID = r.nextID
	clone := *n
	r.notifications[n.ID] = &clone
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	clone := *n
	return &clone, nil
}

func (r *memoryRepo) Update(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.notifications[n.ID]; !ok {
		return ErrNotificationNotFound
	}
	clone := *n
	r.notifications[n.ID] = &clone
	return nil
}

func (r *memoryRepo) ListByUser(_ context.Context, userID string, limit int) ([]*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Notification
	for _, n := range r.notifications {
		if n.UserID == userID && len(out) < limit {
			clone := *n
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListDuePending(_ context.Context, now time.Time, limit int) ([]*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Notification
	for _, n := range r.notifications {
		if n.Status == StatusPending && (n.ScheduledAt == nil || !n.ScheduledAt.After(now)) && len(out) < limit {
			clone := *n
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetPreference(_ context.Context, userID string) (*Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pref, ok := r.preferences[userID]
	if !ok {
		return nil, ErrPreferenceNotFound
	}
	clone := *pref
	return &clone, nil
}

func (r *memoryRepo) UpsertPreference(_ context.Context, pref *Preference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *pref
	r.preferences[pref.UserID] = &clone
	return nil
}

func (r *memoryRepo) RecordAttempt(_ context.Context, attempt *DeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
	return nil
}

func (r *memoryRepo) status(t *testing.T, id int64) Status {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	require.True(t, ok)
	return n.Status
}

func newTestEngine(t *testing.T, repo Repository) *Engine {
	t.Helper()
	return NewEngine(repo, NewTemplateStore(BuiltinTemplates()), 16, zaptest.NewLogger(t))
}

func TestCreateRendersAndQueues(t *testing.T) {
	repo := newMemoryRepo()
	engine := newTestEngine(t, repo)

	created, err := engine.Create(context.Background(), &Notification{
		UserID:       "ada@example.com",
		Channel:      ChannelEmail,
		TemplateName: "welcome_email",
		Variables:    map[string]string{"username": "ada"},
	})

	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.Status)
	assert.Equal(t, PriorityNormal, created.Priority)
	assert.Equal(t, "Welcome, ada!", created.Subject)
	assert.Contains(t, created.Body, "Hi ada")

	select {
	case id := <-engine.Queue():
		assert.Equal(t, created.ID, id)
	default:
		t.Fatal("notification was not queued")
	}
}

func TestCreateRejectsChannelMismatch(t *testing.T) {
	engine := newTestEngine(t, newMemoryRepo())

	_, err := engine.Create(context.Background(), &Notification{
		UserID:       "ada",
		Channel:      ChannelSMS,
		TemplateName: "welcome_email",
		Variables:    map[string]string{"username": "ada"},
	})

	assert.Error(t, err)
}

func TestCreateRejectsMissingVariables(t *testing.T) {
	engine := newTestEngine(t, newMemoryRepo())

	_, err := engine.Create(context.Background(), &Notification{
		UserID:       "ada",
		Channel:      ChannelEmail,
		TemplateName: "welcome_email",
	})

	assert.ErrorIs(t, err, ErrTemplateRender)
}

func TestScheduledNotificationIsNotQueuedImmediately(t *testing.T) {
	repo := newMemoryRepo()
	engine := newTestEngine(t, repo)
	future := time.Now().Add(time.Hour)

	created, err := engine.Create(context.Background(), &Notification{
		UserID:       "ada",
		Channel:      ChannelEmail,
		TemplateName: "welcome_email",
		Variables:    map[string]string{"username": "ada"},
		ScheduledAt:  &future,
	})
	require.NoError(t, err)

	select {
	case <-engine.Queue():
		t.Fatal("scheduled notification must not be queued before its time")
	default:
	}

	// once the schedule passes, the release loop queues it
	engine.now = func() time.Time { return future.Add(time.Minute) }
	released, err := engine.ReleaseScheduled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	select {
	case id := <-engine.Queue():
		assert.Equal(t, created.ID, id)
	default:
		t.Fatal("due notification was not released")
	}
}

func TestReleaseRescuesUnqueuedPending(t *testing.T) {
	repo := newMemoryRepo()
	engine := newTestEngine(t, repo)

	// a pending row with no schedule and no queue entry, as happens when the
	// queue is full at creation time
	stranded := &Notification{
		UserID:    "ada",
		Channel:   ChannelEmail,
		Subject:   "Welcome!",
		Body:      "Hi ada",
		Priority:  PriorityNormal,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, repo.Insert(context.Background(), stranded))

	released, err := engine.ReleaseScheduled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	select {
	case id := <-engine.Queue():
		assert.Equal(t, stranded.ID, id)
	default:
		t.Fatal("stranded notification was not released")
	}
}

func TestMarkReadTransitions(t *testing.T) {
	repo := newMemoryRepo()
	engine := newTestEngine(t, repo)

	created, err := engine.Create(context.Background(), &Notification{
		UserID:       "ada",
		Channel:      ChannelEmail,
		TemplateName: "welcome_email",
		Variables:    map[string]string{"username": "ada"},
	})
	require.NoError(t, err)

	// pending -> read is not allowed
	err = engine.MarkRead(context.Background(), created.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	created.Status = StatusSent
	require.NoError(t, repo.Update(context.Background(), created))
	require.NoError(t, engine.MarkRead(context.Background(), created.ID))
	assert.Equal(t, StatusRead, repo.status(t, created.ID))

	// read -> read is not allowed either
	err = engine.MarkRead(context.Background(), created.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRedeliverOnlyFailedOrPending(t *testing.T) {
	repo := newMemoryRepo()
	engine := newTestEngine(t, repo)

	created, err := engine.Create(context.Background(), &Notification{
		UserID:       "ada",
		Channel:      ChannelEmail,
		TemplateName: "welcome_email",
		Variables:    map[string]string{"username": "ada"},
	})
	require.NoError(t, err)
	<-engine.Queue() // drop the initial enqueue

	created.Status = StatusFailed
	require.NoError(t, repo.Update(context.Background(), created))
	require.NoError(t, engine.Redeliver(context.Background(), created.ID))
	assert.Equal(t, StatusPending, repo.status(t, created.ID))

	created.Status = StatusSent
	require.NoError(t, repo.Update(context.Background(), created))
	err = engine.Redeliver(context.Background(), created.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestGetPreferenceDefaults(t *testing.T) {
	engine := newTestEngine(t, newMemoryRepo())

	pref, err := engine.GetPreference(context.Background(), "nobody")

	require.NoError(t, err)
	assert.True(t, pref.EmailEnabled)
	assert.True(t, pref.SMSEnabled)
	assert.True(t, pref.PushEnabled)
	assert.Empty(t, pref.QuietHoursStart)
}

func TestUpdatePreferenceValidation(t *testing.T) {
	engine := newTestEngine(t, newMemoryRepo())

	err := engine.UpdatePreference(context.Background(), &Preference{
		UserID:          "ada",
		QuietHoursStart: "25:00",
		QuietHoursEnd:   "08:00",
	})
	assert.Error(t, err)

	err = engine.UpdatePreference(context.Background(), &Preference{
		UserID:          "ada",
		QuietHoursStart: "22:00",
	})
	assert.Error(t, err)

	err = engine.UpdatePreference(context.Background(), &Preference{
		UserID:          "ada",
		EmailEnabled:    true,
		QuietHoursStart: "22:00",
		QuietHoursEnd:   "08:00",
	})
	require.NoError(t, err)

	pref, err := engine.GetPreference(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, "22:00", pref.QuietHoursStart)
	assert.False(t, pref.SMSEnabled)
}

func TestRedeliverUnknownNotification(t *testing.T) {
	engine := newTestEngine(t, newMemoryRepo())

	err := engine.Redeliver(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
}
