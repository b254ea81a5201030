package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeProvider struct {
	channel ChannelKind
	err     error

	mu    sync.Mutex
	sends []*Notification
}

func (p *fakeProvider) Channel() ChannelKind { return p.channel }

func (p *fakeProvider) Send(_ context.Context, n *Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sends = append(p.sends, n)
	return nil
}

func (p *fakeProvider) sendCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sends)
}

func newTestWorker(t *testing.T, repo Repository, engine *Engine, providers ...Provider) *DeliveryWorker {
	t.Helper()
	return NewDeliveryWorker(engine, repo, providers, zaptest.NewLogger(t))
}

func createPending(t *testing.T, engine *Engine, channel ChannelKind, template string) *Notification {
	t.Helper()
	n, err := engine.Create(context.Background(), &Notification{
		UserID:       "ada",
		Channel:      channel,
		TemplateName: template,
		Variables: map[string]string{
			"username": "ada",
			"code":     "123456",
			"event":    "login",
			"location": "Berlin",
			"amount":   "12.00",
			"merchant": "bistro",
			"title":    "hello",
			"message":  "world",
		},
	})
	require.NoError(t, err)
	<-engine.Queue()
	return n
}

func TestProcessDeliversAndMarksSent(t *testing.T) {
	repo := newMemoryRepo()
	engine := newTestEngine(t, repo)
	provider := &fakeProvider{channel: ChannelEmail}
	worker := newTestWorker(t, repo, engine, provider)

	n := createPending(t, engine, ChannelEmail, "welcome_email")
	require.NoError(t, worker.process(context.Background(), n.ID))

	assert.Equal(t, 1, provider.sendCount())
	assert.Equal(t, StatusSent, repo.status(t, n.ID))
	require.Len(t, repo.attempts, 1)
	assert.True(t, repo.attempts[0].Succeeded)

	got, err := repo.Get(context.Background(), n.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SentAt)
	assert.False(t, got.SentAt.IsZero())
	assert.Empty(t, got.ErrorMessage)
}

func TestProcessProviderFailure(t *testing.T) {
	repo := newMemoryRepo()
	engine := newTestEngine(t, repo)
	provider := &fakeProvider{channel: ChannelEmail, err: errors.New("smtp timeout")}
	worker := newTestWorker(t, repo, engine, provider)

	n := createPending(t, engine, ChannelEmail, "welcome_email")
	err := worker.process(context.Background(), n.ID)

	assert.Error(t, err)
	assert.Equal(t, StatusFailed, repo.status(t, n.ID))
	require.Len(t, repo.attempts, 1)
	assert.False(t, repo.attempts[0].Succeeded)
	assert.Contains(t, repo.attempts[0].Error, "smtp timeout")

	got, getErr := repo.Get(context.Background(), n.ID)
	require.NoError(t, getErr)
	assert.Equal(t, 1, got.RetryCount)
	assert.Nil(t, got.SentAt)
	assert.Contains(t, got.ErrorMessage, "smtp timeout")
}

func TestProcessMissingProviderFailsImmediately(t *testing.T) {
	repo := newMemoryRepo()
	engine := newTestEngine(t, repo)
	worker := newTestWorker(t, repo, engine)

	n := createPending(t, engine, ChannelPush, "generic_push")
	err := worker.process(context.Background(), n.ID)

	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, StatusFailed, repo.status(t, n.ID))
}

func TestProcessSkipsNonPending(t *testing.T) {
	repo := newMemoryRepo()
	engine := newTestEngine(t, repo)
	provider := &fakeProvider{channel: ChannelEmail}
	worker := newTestWorker(t, repo, engine, provider)

	n := createPending(t, engine, ChannelEmail, "welcome_email")
	n.Status = StatusSent
	require.NoError(t, repo.Update(context.Background(), n))

	require.NoError(t, worker.process(context.Background(), n.ID))
	assert.Equal(t, 0, provider.sendCount())
	assert.Empty(t, repo.attempts)
}

func TestProcessQuietHoursSuppression(t *testing.T) {
	repo := newMemoryRepo()
	engine := newTestEngine(t, repo)
	provider := &fakeProvider{channel: ChannelEmail}
	worker := newTestWorker(t, repo, engine, provider)

	require.NoError(t, repo.UpsertPreference(context.Background(), &Preference{
		UserID:          "ada",
		EmailEnabled:    true,
		QuietHoursStart: "22:00",
		QuietHoursEnd:   "08:00",
	}))

	n := createPending(t, engine, ChannelEmail, "welcome_email")

	// 23:30 falls inside the overnight window: nothing is delivered and the
	// record stays pending for a later attempt
	worker.now = func() time.Time { return clockToday(t, "23:30") }
	require.NoError(t, worker.process(context.Background(), n.ID))
	assert.Equal(t, 0, provider.sendCount())
	assert.Equal(t, StatusPending, repo.status(t, n.ID))

	// after the window ends delivery goes through
	worker.now = func() time.Time { return clockToday(t, "08:30") }
	require.NoError(t, worker.process(context.Background(), n.ID))
	assert.Equal(t, 1, provider.sendCount())
	assert.Equal(t, StatusSent, repo.status(t, n.ID))
}

func TestProcessCriticalOverridesQuietHours(t *testing.T) {
	repo := newMemoryRepo()
	engine := newTestEngine(t, repo)
	provider := &fakeProvider{channel: ChannelEmail}
	worker := newTestWorker(t, repo, engine, provider)

	require.NoError(t, repo.UpsertPreference(context.Background(), &Preference{
		UserID:          "ada",
		EmailEnabled:    true,
		QuietHoursStart: "22:00",
		QuietHoursEnd:   "08:00",
	}))

	created, err := engine.Create(context.Background(), &Notification{
		UserID:       "ada",
		Channel:      ChannelEmail,
		TemplateName: "security_alert_email",
		Priority:     PriorityCritical,
		Variables: map[string]string{
			"username": "ada", "event": "new login", "location": "Sydney",
		},
	})
	require.NoError(t, err)
	<-engine.Queue()

	worker.now = func() time.Time { return clockToday(t, "23:30") }
	require.NoError(t, worker.process(context.Background(), created.ID))
	assert.Equal(t, 1, provider.sendCount())
}

func TestProcessChannelDisabled(t *testing.T) {
	repo := newMemoryRepo()
	engine := newTestEngine(t, repo)
	provider := &fakeProvider{channel: ChannelSMS}
	worker := newTestWorker(t, repo, engine, provider)

	require.NoError(t, repo.UpsertPreference(context.Background(), &Preference{
		UserID:       "ada",
		EmailEnabled: true,
		SMSEnabled:   false,
	}))

	n := createPending(t, engine, ChannelSMS, "login_code_sms")
	require.NoError(t, worker.process(context.Background(), n.ID))

	assert.Equal(t, 0, provider.sendCount())
	assert.Equal(t, StatusPending, repo.status(t, n.ID))
	assert.Empty(t, repo.attempts)

	// re-enabling the channel and redelivering goes through
	require.NoError(t, repo.UpsertPreference(context.Background(), &Preference{
		UserID:       "ada",
		EmailEnabled: true,
		SMSEnabled:   true,
	}))
	require.NoError(t, engine.Redeliver(context.Background(), n.ID))
	<-engine.Queue()
	require.NoError(t, worker.process(context.Background(), n.ID))
	assert.Equal(t, 1, provider.sendCount())
	assert.Equal(t, StatusSent, repo.status(t, n.ID))
}

func TestWorkerConsumesQueue(t *testing.T) {
	repo := newMemoryRepo()
	engine := newTestEngine(t, repo)
	provider := &fakeProvider{channel: ChannelEmail}
	worker := newTestWorker(t, repo, engine, provider)

	ctx := context.Background()
	require.NoError(t, worker.Start(ctx))
	defer func() { require.NoError(t, worker.Stop(ctx)) }()

	created, err := engine.Create(ctx, &Notification{
		UserID:       "ada",
		Channel:      ChannelEmail,
		TemplateName: "welcome_email",
		Variables:    map[string]string{"username": "ada"},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return repo.status(t, created.ID) == StatusSent
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, provider.sendCount())
}
