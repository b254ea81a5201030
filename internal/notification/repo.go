package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vantive/pulse/pkg/json"
)

// PostgresRepository implements Repository on a *sql.DB.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, n *Notification) error {
	vars, err := json.Marshal(n.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO notifications
			(user_id, channel, template_name, variables, subject, body,
			 priority, status, retry_count, scheduled_at, sent_at,
			 error_message, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id`,
		n.UserID, n.Channel, n.TemplateName, vars, n.Subject, n.Body,
		n.Priority, n.Status, n.RetryCount, n.ScheduledAt, n.SentAt,
		nullString(n.ErrorMessage), n.CreatedAt, n.UpdatedAt,
	).Scan(&n.ID)
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (*Notification, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, channel, template_name, variables, subject, body,
		       priority, status, retry_count, scheduled_at, sent_at,
		       error_message, created_at, updated_at
		FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Update(ctx context.Context, n *Notification) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = $1, retry_count = $2, sent_at = $3,
		    error_message = $4, updated_at = $5
		WHERE id = $6`,
		n.Status, n.RetryCount, n.SentAt, nullString(n.ErrorMessage), n.UpdatedAt, n.ID)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, channel, template_name, variables, subject, body,
		       priority, status, retry_count, scheduled_at, sent_at,
		       error_message, created_at, updated_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// ListDuePending returns pending notifications that are deliverable now:
// unscheduled rows and rows whose schedule has passed. Unscheduled rows are
// included so anything that missed its queue slot still gets picked up by the
// release sweep.
func (r *PostgresRepository) ListDuePending(ctx context.Context, now time.Time, limit int) ([]*Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, channel, template_name, variables, subject, body,
		       priority, status, retry_count, scheduled_at, sent_at,
		       error_message, created_at, updated_at
		FROM notifications
		WHERE status = $1 AND (scheduled_at IS NULL OR scheduled_at <= $2)
		ORDER BY created_at ASC
		LIMIT $3`, StatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func (r *PostgresRepository) GetPreference(ctx context.Context, userID string) (*Preference, error) {
	pref := &Preference{}
	var start, end sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, email_enabled, sms_enabled, push_enabled,
		       quiet_hours_start, quiet_hours_end, utc_offset_min
		FROM notification_preferences WHERE user_id = $1`, userID,
	).Scan(&pref.UserID, &pref.EmailEnabled, &pref.SMSEnabled, &pref.PushEnabled,
		&start, &end, &pref.UTCOffsetMin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPreferenceNotFound
		}
		return nil, fmt.Errorf("get preference: %w", err)
	}
	pref.QuietHoursStart = start.String
	pref.QuietHoursEnd = end.String
	return pref, nil
}

func (r *PostgresRepository) UpsertPreference(ctx context.Context, pref *Preference) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notification_preferences
			(user_id, email_enabled, sms_enabled, push_enabled,
			 quiet_hours_start, quiet_hours_end, utc_offset_min, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			email_enabled = EXCLUDED.email_enabled,
			sms_enabled = EXCLUDED.sms_enabled,
			push_enabled = EXCLUDED.push_enabled,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end = EXCLUDED.quiet_hours_end,
			utc_offset_min = EXCLUDED.utc_offset_min,
			updated_at = NOW()`,
		pref.UserID, pref.EmailEnabled, pref.SMSEnabled, pref.PushEnabled,
		nullString(pref.QuietHoursStart), nullString(pref.QuietHoursEnd), pref.UTCOffsetMin)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RecordAttempt(ctx context.Context, attempt *DeliveryAttempt) error {
	return r.db.QueryRowContext(ctx, `
		INSERT INTO notification_delivery_attempts
			(notification_id, channel, succeeded, error, attempted_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id`,
		attempt.NotificationID, attempt.Channel, attempt.Succeeded,
		nullString(attempt.Error), attempt.AttemptedAt,
	).Scan(&attempt.ID)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*Notification, error) {
	n := &Notification{}
	var vars []byte
	var scheduled, sent sql.NullTime
	var errMsg sql.NullString
	err := row.Scan(&n.ID, &n.UserID, &n.Channel, &n.TemplateName, &vars,
		&n.Subject, &n.Body, &n.Priority, &n.Status, &n.RetryCount,
		&scheduled, &sent, &errMsg, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if scheduled.Valid {
		t := scheduled.Time
		n.ScheduledAt = &t
	}
	if sent.Valid {
		t := sent.Time
		n.SentAt = &t
	}
	n.ErrorMessage = errMsg.String
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &n.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal variables: %w", err)
		}
	}
	return n, nil
}

func collectNotifications(rows *sql.Rows) ([]*Notification, error) {
	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
