package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vantive/pulse/pkg/metrics"
)

// Severity grades security events.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weights are the additive contributions of each payment risk signal.
type Weights struct {
	RiskProfile  float64
	LargeAmount  float64
	Velocity     float64
	BadIP        float64
	SuspiciousUA float64
	GeoAnomaly   float64
}

// DefaultWeights mirrors the tuned production values.
func DefaultWeights() Weights {
	return Weights{
		RiskProfile:  0.3,
		LargeAmount:  0.2,
		Velocity:     0.3,
		BadIP:        0.4,
		SuspiciousUA: 0.2,
		GeoAnomaly:   0.3,
	}
}

// Config tunes lockout and fraud scoring behavior.
type Config struct {
	MaxLoginAttempts   int
	AttemptWindow      time.Duration
	LockoutDuration    time.Duration
	FraudEnabled       bool
	BlockThreshold     float64
	SuspiciousScore    float64
	LargeAmountFloor   float64
	VelocityPerHourMax int64
	ProfileRiskFloor   float64
	Weights            Weights
}

// DefaultConfig returns the standard tuning: 5 failures in 15 minutes locks
// for 15 minutes, payments block at score 0.7.
func DefaultConfig() Config {
	return Config{
		MaxLoginAttempts:   5,
		AttemptWindow:      15 * time.Minute,
		LockoutDuration:    15 * time.Minute,
		FraudEnabled:       true,
		BlockThreshold:     0.7,
		SuspiciousScore:    0.5,
		LargeAmountFloor:   1000.0,
		VelocityPerHourMax: 5,
		ProfileRiskFloor:   0.7,
		Weights:            DefaultWeights(),
	}
}

// LoginAttempt is one authentication try.
type LoginAttempt struct {
	UserID    string    `json:"user_id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent,omitempty"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
}

// SecurityEvent is an audit record of anything the service judged notable.
type SecurityEvent struct {
	ID          int64                  `json:"id"`
	UserID      string                 `json:"user_id,omitempty"`
	EventType   string                 `json:"event_type"`
	Severity    Severity               `json:"severity"`
	ActionTaken string                 `json:"action_taken,omitempty"`
	RiskScore   float64                `json:"risk_score,omitempty"`
	IPAddress   string                 `json:"ip_address,omitempty"`
	UserAgent   string                 `json:"user_agent,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Actions recorded on a payment_risk event.
const (
	ActionBlocked   = "blocked"
	ActionMonitored = "monitored"
)

// FraudAlert is raised when a payment crosses the suspicious score.
type FraudAlert struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Score     float64   `json:"score"`
	Reasons   []string  `json:"reasons"`
	Blocked   bool      `json:"blocked"`
	CreatedAt time.Time `json:"created_at"`
}

// Transaction is the payment context handed to the analyzer.
type Transaction struct {
	UserID    string  `json:"user_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency,omitempty"`
	Merchant  string  `json:"merchant,omitempty"`
	IPAddress string  `json:"ip_address,omitempty"`
	UserAgent string  `json:"user_agent,omitempty"`
	Country   string  `json:"country,omitempty"`
}

// Verdict is the analyzer's decision on one payment.
type Verdict struct {
	Allowed bool     `json:"allowed"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// ThreatReport is the outcome of scanning one input string.
type ThreatReport struct {
	Clean    bool     `json:"clean"`
	Families []string `json:"families,omitempty"`
	Severity Severity `json:"severity,omitempty"`
}

// RiskProfile is a user's long-lived behavioral baseline.
type RiskProfile struct {
	UserID       string    `json:"user_id"`
	Score        float64   `json:"score"`
	UsualCountry string    `json:"usual_country,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LockoutStore tracks active lockouts keyed by subject ("user:x" or "ip:y").
type LockoutStore interface {
	Lock(ctx context.Context, subject string, ttl time.Duration) error
	IsLocked(ctx context.Context, subject string) (bool, error)
}

// VelocityStore counts a user's transactions in the current hour.
type VelocityStore interface {
	Increment(ctx context.Context, userID string) (int64, error)
	Count(ctx context.Context, userID string) (int64, error)
}

// ProfileStore caches risk profiles. A miss returns (nil, nil).
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*RiskProfile, error)
	Save(ctx context.Context, profile *RiskProfile) error
}

// EventRepository persists the audit trail.
type EventRepository interface {
	InsertLoginAttempt(ctx context.Context, attempt *LoginAttempt) error
	CountRecentFailures(ctx context.Context, userID, ip string, since time.Time) (int, error)
	InsertSecurityEvent(ctx context.Context, event *SecurityEvent) error
	InsertFraudAlert(ctx context.Context, alert *FraudAlert) error
}

// Service implements account lockout, payment risk scoring and input threat
// scanning.
type Service struct {
	cfg      Config
	lockouts LockoutStore
	velocity VelocityStore
	profiles ProfileStore
	repo     EventRepository
	badIPs   map[string]struct{}
	log      *zap.Logger
	now      func() time.Time
}

func NewService(cfg Config, lockouts LockoutStore, velocity VelocityStore, profiles ProfileStore, repo EventRepository, badIPs []string, log *zap.Logger) *Service {
	ipSet := make(map[string]struct{}, len(badIPs))
	for _, ip := range badIPs {
		ipSet[ip] = struct{}{}
	}
	return &Service{
		cfg:      cfg,
		lockouts: lockouts,
		velocity: velocity,
		profiles: profiles,
		repo:     repo,
		badIPs:   ipSet,
		log:      log.With(zap.String("module", "security")),
		now:      time.Now,
	}
}

// RecordLoginAttempt persists the attempt and, on failure, applies the
// sliding-window lockout. Reaching the limit locks both the user and the
// source address.
func (s *Service) RecordLoginAttempt(ctx context.Context, attempt *LoginAttempt) error {
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = s.now()
	}
	if err := s.repo.InsertLoginAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	if attempt.Success {
		return nil
	}

	since := s.now().Add(-s.cfg.AttemptWindow)
	failures, err := s.repo.CountRecentFailures(ctx, attempt.UserID, attempt.IPAddress, since)
	if err != nil {
		return fmt.Errorf("count recent failures: %w", err)
	}
	if failures < s.cfg.MaxLoginAttempts {
		return nil
	}

	for _, subject := range []string{"user:" + attempt.UserID, "ip:" + attempt.IPAddress} {
		if err := s.lockouts.Lock(ctx, subject, s.cfg.LockoutDuration); err != nil {
			s.log.Error("applying lockout failed", zap.String("subject", subject), zap.Error(err))
		}
	}
	metrics.SecurityEvents.WithLabelValues("account_locked", string(SeverityHigh)).Inc()
	s.audit(ctx, &SecurityEvent{
		UserID:    attempt.UserID,
		EventType: "account_locked",
		Severity:  SeverityHigh,
		Details: map[string]interface{}{
			"ip_address": attempt.IPAddress,
			"failures":   failures,
		},
	})
	s.log.Warn("account locked after repeated failures",
		zap.String("user_id", attempt.UserID),
		zap.String("ip", attempt.IPAddress),
		zap.Int("failures", failures))
	return nil
}

// IsAccountLocked reports whether the user or the source address is under an
// active lockout.
func (s *Service) IsAccountLocked(ctx context.Context, userID, ip string) (bool, error) {
	for _, subject := range []string{"user:" + userID, "ip:" + ip} {
		if subject == "user:" || subject == "ip:" {
			continue
		}
		locked, err := s.lockouts.IsLocked(ctx, subject)
		if err != nil {
			return false, fmt.Errorf("lockout check: %w", err)
		}
		if locked {
			return true, nil
		}
	}
	return false, nil
}

// AnalyzePayment scores a transaction without mutating any state, so the same
// input always yields the same verdict. A panic inside the heuristics blocks
// the payment rather than letting it through.
func (s *Service) AnalyzePayment(ctx context.Context, tx *Transaction) (verdict *Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("payment analysis panic, blocking", zap.Any("panic", r))
			verdict = &Verdict{Allowed: false, Score: 1.0, Reasons: []string{"analysis_failure"}}
			err = nil
		}
	}()

	if !s.cfg.FraudEnabled {
		return &Verdict{Allowed: true, Score: 0}, nil
	}

	score := 0.0
	var reasons []string

	profile, profErr := s.profiles.Get(ctx, tx.UserID)
	if profErr != nil {
		s.log.Warn("risk profile lookup failed", zap.Error(profErr))
	}
	if profile != nil && profile.Score > s.cfg.ProfileRiskFloor {
		score += s.cfg.Weights.RiskProfile
		reasons = append(reasons, "high_risk_profile")
	}
	if tx.Amount > s.cfg.LargeAmountFloor {
		score += s.cfg.Weights.LargeAmount
		reasons = append(reasons, "large_amount")
	}
	count, velErr := s.velocity.Count(ctx, tx.UserID)
	if velErr != nil {
		s.log.Warn("velocity lookup failed", zap.Error(velErr))
	}
	if count > s.cfg.VelocityPerHourMax {
		score += s.cfg.Weights.Velocity
		reasons = append(reasons, "high_velocity")
	}
	if _, bad := s.badIPs[tx.IPAddress]; bad {
		score += s.cfg.Weights.BadIP
		reasons = append(reasons, "known_bad_ip")
	}
	if suspiciousUserAgent(tx.UserAgent) {
		score += s.cfg.Weights.SuspiciousUA
		reasons = append(reasons, "suspicious_user_agent")
	}
	if profile != nil && profile.UsualCountry != "" && tx.Country != "" &&
		!strings.EqualFold(profile.UsualCountry, tx.Country) {
		score += s.cfg.Weights.GeoAnomaly
		reasons = append(reasons, "geo_anomaly")
	}

	verdict = &Verdict{Allowed: score < s.cfg.BlockThreshold, Score: score, Reasons: reasons}
	if score > s.cfg.SuspiciousScore {
		alert := &FraudAlert{
			UserID:    tx.UserID,
			Score:     score,
			Reasons:   reasons,
			Blocked:   !verdict.Allowed,
			CreatedAt: s.now(),
		}
		if err := s.repo.InsertFraudAlert(ctx, alert); err != nil {
			s.log.Error("recording fraud alert failed", zap.Error(err))
		}
		severity := SeverityMedium
		action := ActionMonitored
		if !verdict.Allowed {
			severity = SeverityHigh
			action = ActionBlocked
		}
		s.audit(ctx, &SecurityEvent{
			UserID:      tx.UserID,
			EventType:   "payment_risk",
			Severity:    severity,
			ActionTaken: action,
			RiskScore:   score,
			IPAddress:   tx.IPAddress,
			UserAgent:   tx.UserAgent,
			Details: map[string]interface{}{
				"reasons": reasons,
				"amount":  tx.Amount,
			},
		})
		metrics.SecurityEvents.WithLabelValues("fraud_alert", string(severity)).Inc()
		s.log.Warn("suspicious payment",
			zap.String("user_id", tx.UserID),
			zap.Float64("score", score),
			zap.Strings("reasons", reasons),
			zap.Bool("blocked", !verdict.Allowed))
	}
	return verdict, nil
}

// RecordTransaction notes a completed payment: it bumps the user's hourly
// velocity counter. Call it after a payment settles, never from analysis.
func (s *Service) RecordTransaction(ctx context.Context, tx *Transaction) error {
	if _, err := s.velocity.Increment(ctx, tx.UserID); err != nil {
		return fmt.Errorf("increment velocity: %w", err)
	}
	return nil
}

// ScanInput matches raw input against the threat signature set. A panic
// inside matching flags the input rather than passing it.
func (s *Service) ScanInput(ctx context.Context, userID, input string) (report *ThreatReport) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("input scan panic, flagging input", zap.Any("panic", r))
			report = &ThreatReport{Clean: false, Families: []string{"scan_failure"}, Severity: SeverityHigh}
		}
	}()

	report = &ThreatReport{Clean: true}
	for _, p := range threatPatterns {
		if !p.re.MatchString(input) {
			continue
		}
		report.Clean = false
		report.Families = append(report.Families, p.family)
		if severityRank(p.severity) > severityRank(report.Severity) {
			report.Severity = p.severity
		}
	}
	if !report.Clean {
		metrics.SecurityEvents.WithLabelValues("threat_detected", string(report.Severity)).Inc()
		s.audit(ctx, &SecurityEvent{
			UserID:    userID,
			EventType: "threat_detected",
			Severity:  report.Severity,
			Details: map[string]interface{}{
				"families": report.Families,
			},
		})
	}
	return report
}

// RecordEvent folds an observed risk signal into the user's profile with an
// exponential moving average, so old behavior decays instead of vanishing.
func (s *Service) RecordEvent(ctx context.Context, userID string, riskScore float64, country string) error {
	profile, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load risk profile: %w", err)
	}
	if profile == nil {
		profile = &RiskProfile{UserID: userID, Score: riskScore}
	} else {
		profile.Score = 0.7*profile.Score + 0.3*riskScore
	}
	if country != "" {
		profile.UsualCountry = country
	}
	profile.UpdatedAt = s.now()
	if err := s.profiles.Save(ctx, profile); err != nil {
		return fmt.Errorf("save risk profile: %w", err)
	}
	return nil
}

func (s *Service) audit(ctx context.Context, event *SecurityEvent) {
	event.CreatedAt = s.now()
	if err := s.repo.InsertSecurityEvent(ctx, event); err != nil {
		s.log.Error("recording security event failed",
			zap.String("event_type", event.EventType),
			zap.Error(err))
	}
}

var suspiciousAgentMarkers = []string{"curl", "python-requests", "sqlmap", "nikto", "bot", "scanner"}

func suspiciousUserAgent(ua string) bool {
	if ua == "" {
		return false
	}
	lower := strings.ToLower(ua)
	for _, marker := range suspiciousAgentMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}
