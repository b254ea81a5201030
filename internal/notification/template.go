package notification

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ChannelKind identifies a delivery channel.
type ChannelKind string

const (
	ChannelEmail ChannelKind = "email"
	ChannelSMS   ChannelKind = "sms"
	ChannelPush  ChannelKind = "push"
)

var (
	ErrTemplateNotFound = errors.New("notification: template not found")
	ErrTemplateRender   = errors.New("notification: template render failed")
)

// Template is a named message body with {variable} placeholders.
type Template struct {
	Name    string
	Channel ChannelKind
	Subject string
	Body    string
	Active  bool
}

// Render substitutes every {name} placeholder in the subject and body. A
// placeholder with no matching variable fails the render rather than leaking
// braces to the recipient.
func (t *Template) Render(vars map[string]string) (subject, body string, err error) {
	subject, err = substitute(t.Subject, vars)
	if err != nil {
		return "", "", err
	}
	body, err = substitute(t.Body, vars)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func substitute(text string, vars map[string]string) (string, error) {
	var out strings.Builder
	for {
		open := strings.IndexByte(text, '{')
		if open < 0 {
			out.WriteString(text)
			return out.String(), nil
		}
		closing := strings.IndexByte(text[open:], '}')
		if closing < 0 {
			out.WriteString(text)
			return out.String(), nil
		}
		name := text[open+1 : open+closing]
		value, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("%w: missing variable %q", ErrTemplateRender, name)
		}
		out.WriteString(text[:open])
		out.WriteString(value)
		text = text[open+closing+1:]
	}
}

// BuiltinTemplates is the fixed template set loaded at startup.
func BuiltinTemplates() []*Template {
	return []*Template{
		{
			Name:    "welcome_email",
			Channel: ChannelEmail,
			Subject: "Welcome, {username}!",
			Body:    "Hi {username},\n\nYour account is ready. Glad to have you with us.",
			Active:  true,
		},
		{
			Name:    "security_alert_email",
			Channel: ChannelEmail,
			Subject: "Security alert on your account",
			Body:    "Hi {username},\n\nWe noticed {event} from {location}. If this was not you, reset your password.",
			Active:  true,
		},
		{
			Name:    "payment_receipt_email",
			Channel: ChannelEmail,
			Subject: "Receipt for your payment of {amount}",
			Body:    "Hi {username},\n\nWe received your payment of {amount} to {merchant}.",
			Active:  true,
		},
		{
			Name:    "login_code_sms",
			Channel: ChannelSMS,
			Body:    "Your verification code is {code}. It expires in 10 minutes.",
			Active:  true,
		},
		{
			Name:    "security_alert_sms",
			Channel: ChannelSMS,
			Body:    "Security alert: {event}. Reply STOP to opt out.",
			Active:  true,
		},
		{
			Name:    "generic_push",
			Channel: ChannelPush,
			Subject: "{title}",
			Body:    "{message}",
			Active:  true,
		},
	}
}

// TemplateStore holds the active template set. Lookups only see active
// templates; deactivated ones stay registered so they can be re-enabled.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewTemplateStore(templates []*Template) *TemplateStore {
	byName := make(map[string]*Template, len(templates))
	for _, t := range templates {
		byName[t.Name] = t
	}
	return &TemplateStore{templates: byName}
}

// Get returns the named template, or ErrTemplateNotFound when it is missing
// or deactivated.
func (s *TemplateStore) Get(name string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[name]
	if !ok || !t.Active {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return t, nil
}

// SetActive toggles a template. Returns ErrTemplateNotFound for unknown names.
func (s *TemplateStore) SetActive(name string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	t.Active = active
	return nil
}

// Names lists registered template names, sorted for stable output.
func (s *TemplateStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
