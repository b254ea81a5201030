package notification

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vantive/pulse/pkg/json"
)

func TestEmailProviderNotConfigured(t *testing.T) {
	provider := &EmailProvider{}

	err := provider.Send(context.Background(), &Notification{UserID: "ada@example.com"})

	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSMSProviderPostsGatewayPayload(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider := &SMSProvider{
		Endpoint: server.URL,
		APIKey:   "test-key",
		Sender:   "pulse",
		HTTP:     server.Client(),
	}
	err := provider.Send(context.Background(), &Notification{
		UserID: "+4915200000000",
		Body:   "Your verification code is 123456.",
	})

	require.NoError(t, err)
	assert.Equal(t, "pulse", got["from"])
	assert.Equal(t, "+4915200000000", got["to"])
	assert.Contains(t, got["text"], "123456")
}

func TestPushProviderGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	provider := &PushProvider{Endpoint: server.URL, APIKey: "k", HTTP: server.Client()}
	err := provider.Send(context.Background(), &Notification{UserID: "ada"})

	assert.ErrorContains(t, err, "502")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	failing := &fakeProvider{channel: ChannelSMS, err: errors.New("gateway down")}
	wrapped := NewBreakerProvider(failing, zap.NewNop())

	for i := 0; i < 5; i++ {
		err := wrapped.Send(context.Background(), &Notification{UserID: "ada"})
		assert.ErrorContains(t, err, "gateway down")
	}

	err := wrapped.Send(context.Background(), &Notification{UserID: "ada"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
