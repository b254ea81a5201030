package security

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vantive/pulse/pkg/json"
)

// PostgresRepository implements EventRepository on a *sql.DB.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) InsertLoginAttempt(ctx context.Context, attempt *LoginAttempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO login_attempts (user_id, ip_address, user_agent, success, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		attempt.UserID, attempt.IPAddress, attempt.UserAgent, attempt.Success, attempt.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	return nil
}

// CountRecentFailures counts failed attempts since the cutoff from either the
// user or the source address, so distributed guessing against one account and
// one host spraying many accounts both trip the limit.
func (r *PostgresRepository) CountRecentFailures(ctx context.Context, userID, ip string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE success = FALSE
		  AND created_at >= $1
		  AND (user_id = $2 OR ip_address = $3)`,
		since, userID, ip,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count login failures: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) InsertSecurityEvent(ctx context.Context, event *SecurityEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO security_events
			(user_id, event_type, severity, action_taken, risk_score,
			 ip_address, user_agent, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id`,
		event.UserID, event.EventType, event.Severity,
		nullString(event.ActionTaken), event.RiskScore,
		nullString(event.IPAddress), nullString(event.UserAgent),
		details, event.CreatedAt,
	).Scan(&event.ID)
}

func (r *PostgresRepository) InsertFraudAlert(ctx context.Context, alert *FraudAlert) error {
	return r.db.QueryRowContext(ctx, `
		INSERT INTO fraud_alerts (user_id, score, reasons, blocked, created_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id`,
		alert.UserID, alert.Score, pq.Array(alert.Reasons), alert.Blocked, alert.CreatedAt,
	).Scan(&alert.ID)
}

// nullString maps "" to SQL NULL so optional event fields stay unset in the row.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
