package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/vantive/pulse/pkg/json"
)

// ErrNotConfigured is returned by a provider whose credentials are absent.
// Delivery through it fails immediately instead of timing out.
var ErrNotConfigured = errors.New("notification: provider not configured")

// Provider sends one rendered message over one channel.
type Provider interface {
	Channel() ChannelKind
	Send(ctx context.Context, n *Notification) error
}

// EmailProvider delivers over SMTP.
type EmailProvider struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (p *EmailProvider) Channel() ChannelKind { return ChannelEmail }

func (p *EmailProvider) Send(ctx context.Context, n *Notification) error {
	if p.Host == "" || p.From == "" {
		return ErrNotConfigured
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n%s",
		p.From, n.UserID, n.Subject, n.Body)

	addr := fmt.Sprintf("%s:%d", p.Host, p.Port)
	var auth smtp.Auth
	if p.Username != "" {
		auth = smtp.PlainAuth("", p.Username, p.Password, p.Host)
	}
	if err := smtp.SendMail(addr, auth, p.From, []string{n.UserID}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// SMSProvider delivers through an HTTP gateway API.
type SMSProvider struct {
	Endpoint string
	APIKey   string
	Sender   string
	HTTP     *http.Client
}

func (p *SMSProvider) Channel() ChannelKind { return ChannelSMS }

func (p *SMSProvider) Send(ctx context.Context, n *Notification) error {
	if p.Endpoint == "" || p.APIKey == "" {
		return ErrNotConfigured
	}
	return postJSON(ctx, p.HTTP, p.Endpoint, p.APIKey, map[string]string{
		"from": p.Sender,
		"to":   n.UserID,
		"text": n.Body,
	})
}

// PushProvider delivers through a push gateway API.
type PushProvider struct {
	Endpoint string
	APIKey   string
	HTTP     *http.Client
}

func (p *PushProvider) Channel() ChannelKind { return ChannelPush }

func (p *PushProvider) Send(ctx context.Context, n *Notification) error {
	if p.Endpoint == "" || p.APIKey == "" {
		return ErrNotConfigured
	}
	return postJSON(ctx, p.HTTP, p.Endpoint, p.APIKey, map[string]string{
		"user_id": n.UserID,
		"title":   n.Subject,
		"body":    n.Body,
	})
}

func postJSON(ctx context.Context, client *http.Client, endpoint, apiKey string, payload interface{}) error {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode provider payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	return nil
}

// BreakerProvider wraps a Provider with a circuit breaker so a dead gateway
// fails fast instead of stalling the delivery loop.
type BreakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerProvider(inner Provider, log *zap.Logger) *BreakerProvider {
	settings := gobreaker.Settings{
		Name:        string(inner.Channel()) + "_provider",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("provider breaker state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &BreakerProvider{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (p *BreakerProvider) Channel() ChannelKind { return p.inner.Channel() }

func (p *BreakerProvider) Send(ctx context.Context, n *Notification) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.inner.Send(ctx, n)
	})
	return err
}
