package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Status is the delivery state machine: pending -> sent | failed, sent -> read.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusRead    Status = "read"
)

// Priority orders delivery urgency. It is carried on the record and surfaced
// to clients; the queue itself is FIFO. Critical notifications are delivered
// even inside a recipient's quiet-hours window.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var (
	ErrNotificationNotFound = errors.New("notification: not found")
	ErrPreferenceNotFound   = errors.New("notification: preference not found")
	ErrInvalidTransition    = errors.New("notification: invalid status transition")
	ErrQueueFull            = errors.New("notification: delivery queue full")
)

// Notification is one message addressed to one user on one channel.
type Notification struct {
	ID           int64             `json:"id"`
	UserID       string            `json:"user_id"`
	Channel      ChannelKind       `json:"channel"`
	TemplateName string            `json:"template_name"`
	Variables    map[string]string `json:"variables,omitempty"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body,omitempty"`
	Priority     Priority          `json:"priority"`
	Status       Status            `json:"status"`
	RetryCount   int               `json:"retry_count"`
	ScheduledAt  *time.Time        `json:"scheduled_at,omitempty"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Preference is a user's per-channel delivery settings including an optional
// quiet-hours window ("HH:MM" local to the user's configured offset).
type Preference struct {
	UserID          string `json:"user_id"`
	EmailEnabled    bool   `json:"email_enabled"`
	SMSEnabled      bool   `json:"sms_enabled"`
	PushEnabled     bool   `json:"push_enabled"`
	QuietHoursStart string `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   string `json:"quiet_hours_end,omitempty"`
	UTCOffsetMin    int    `json:"utc_offset_min"`
}

// DefaultPreference is used when a user has never saved settings: all
// channels on, no quiet hours.
func DefaultPreference(userID string) *Preference {
	return &Preference{
		UserID:       userID,
		EmailEnabled: true,
		SMSEnabled:   true,
		PushEnabled:  true,
	}
}

// ChannelEnabled reports whether the given channel is switched on.
func (p *Preference) ChannelEnabled(channel ChannelKind) bool {
	switch channel {
	case ChannelEmail:
		return p.EmailEnabled
	case ChannelSMS:
		return p.SMSEnabled
	case ChannelPush:
		return p.PushEnabled
	default:
		return false
	}
}

// InQuietHours reports whether t falls inside the user's quiet window.
// The window may cross midnight (22:00-08:00).
func (p *Preference) InQuietHours(t time.Time) bool {
	if p.QuietHoursStart == "" || p.QuietHoursEnd == "" {
		return false
	}
	start, err := parseClock(p.QuietHoursStart)
	if err != nil {
		return false
	}
	end, err := parseClock(p.QuietHoursEnd)
	if err != nil {
		return false
	}
	local := t.UTC().Add(time.Duration(p.UTCOffsetMin) * time.Minute)
	now := local.Hour()*60 + local.Minute()
	if start <= end {
		return now >= start && now < end
	}
	// overnight window
	return now >= start || now < end
}

func parseClock(s string) (int, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("notification: bad clock value %q: %w", s, err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// DeliveryAttempt is one provider call for one notification.
type DeliveryAttempt struct {
	ID             int64       `json:"id"`
	NotificationID int64       `json:"notification_id"`
	Channel        ChannelKind `json:"channel"`
	Succeeded      bool        `json:"succeeded"`
	Error          string      `json:"error,omitempty"`
	AttemptedAt    time.Time   `json:"attempted_at"`
}

// Repository persists notifications, preferences and attempt history.
type Repository interface {
	Insert(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id int64) (*Notification, error)
	Update(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error)
	ListDuePending(ctx context.Context, now time.Time, limit int) ([]*Notification, error)

	GetPreference(ctx context.Context, userID string) (*Preference, error)
	UpsertPreference(ctx context.Context, pref *Preference) error

	RecordAttempt(ctx context.Context, attempt *DeliveryAttempt) error
}

// Engine owns the notification lifecycle: create records, feed the delivery
// queue, apply status transitions and manage preferences. Delivery itself is
// the worker's job.
type Engine struct {
	repo      Repository
	templates *TemplateStore
	queue     chan int64
	log       *zap.Logger
	now       func() time.Time
}

func NewEngine(repo Repository, templates *TemplateStore, queueSize int, log *zap.Logger) *Engine {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Engine{
		repo:      repo,
		templates: templates,
		queue:     make(chan int64, queueSize),
		log:       log.With(zap.String("module", "notification")),
		now:       time.Now,
	}
}

// Queue exposes the delivery queue to the worker.
func (e *Engine) Queue() <-chan int64 { return e.queue }

// Create renders the template, persists a pending notification and enqueues
// it unless it is scheduled for the future.
func (e *Engine) Create(ctx context.Context, n *Notification) (*Notification, error) {
	tmpl, err := e.templates.Get(n.TemplateName)
	if err != nil {
		return nil, err
	}
	if tmpl.Channel != n.Channel {
		return nil, fmt.Errorf("notification: template %s is for channel %s, not %s",
			tmpl.Name, tmpl.Channel, n.Channel)
	}
	subject, body, err := tmpl.Render(n.Variables)
	if err != nil {
		return nil, err
	}

	now := e.now()
	n.Subject = subject
	n.Body = body
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}
	n.Status = StatusPending
	n.CreatedAt = now
	n.UpdatedAt = now
	if err := e.repo.Insert(ctx, n); err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}

	if n.ScheduledAt == nil || !n.ScheduledAt.After(now) {
		if err := e.enqueue(n.ID); err != nil {
			e.log.Warn("delivery queue full, notification stays pending",
				zap.Int64("notification_id", n.ID))
		}
	}
	return n, nil
}

func (e *Engine) enqueue(id int64) error {
	select {
	case e.queue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Redeliver re-queues a failed or still-pending notification. Retries are
// always operator or user initiated, never automatic.
func (e *Engine) Redeliver(ctx context.Context, id int64) error {
	n, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	switch n.Status {
	case StatusFailed, StatusPending:
	default:
		return fmt.Errorf("%w: cannot redeliver %s notification", ErrInvalidTransition, n.Status)
	}
	if n.Status == StatusFailed {
		n.Status = StatusPending
		n.UpdatedAt = e.now()
		if err := e.repo.Update(ctx, n); err != nil {
			return fmt.Errorf("reset notification status: %w", err)
		}
	}
	return e.enqueue(id)
}

// MarkRead transitions a sent notification to read.
func (e *Engine) MarkRead(ctx context.Context, id int64) error {
	n, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.Status != StatusSent {
		return fmt.Errorf("%w: cannot mark %s notification as read", ErrInvalidTransition, n.Status)
	}
	n.Status = StatusRead
	n.UpdatedAt = e.now()
	return e.repo.Update(ctx, n)
}

// ReleaseScheduled enqueues pending notifications that are due: scheduled
// rows whose time has arrived, plus unscheduled rows that never made it onto
// the queue (a full queue at creation time, or a quiet-hours suppression).
// Called periodically by the scheduler.
func (e *Engine) ReleaseScheduled(ctx context.Context) (int, error) {
	due, err := e.repo.ListDuePending(ctx, e.now(), 100)
	if err != nil {
		return 0, fmt.Errorf("list due notifications: %w", err)
	}
	released := 0
	for _, n := range due {
		if err := e.enqueue(n.ID); err != nil {
			break
		}
		released++
	}
	if released > 0 {
		e.log.Info("released scheduled notifications", zap.Int("count", released))
	}
	return released, nil
}

// ListByUser returns a user's most recent notifications.
func (e *Engine) ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return e.repo.ListByUser(ctx, userID, limit)
}

// GetPreference returns the user's settings, falling back to defaults for
// users who never saved any.
func (e *Engine) GetPreference(ctx context.Context, userID string) (*Preference, error) {
	pref, err := e.repo.GetPreference(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrPreferenceNotFound) {
			return DefaultPreference(userID), nil
		}
		return nil, err
	}
	return pref, nil
}

// UpdatePreference validates and persists the user's settings.
func (e *Engine) UpdatePreference(ctx context.Context, pref *Preference) error {
	for _, clock := range []string{pref.QuietHoursStart, pref.QuietHoursEnd} {
		if clock == "" {
			continue
		}
		if _, err := parseClock(clock); err != nil {
			return err
		}
	}
	if (pref.QuietHoursStart == "") != (pref.QuietHoursEnd == "") {
		return fmt.Errorf("notification: quiet hours need both start and end")
	}
	return e.repo.UpsertPreference(ctx, pref)
}
