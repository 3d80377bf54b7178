package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNotifier(t *testing.T, handler http.Handler) *WebhookNotifier {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	notifier, err := NewWebhookNotifier(WebhookNotifierConfig{
		WebhookURL:     server.URL,
		TimeoutSeconds: 5,
	}, nil)
	require.NoError(t, err)
	return notifier
}

func TestWebhookNotifier_SendLowBalanceAlert(t *testing.T) {
	var got map[string]string
	notifier := newTestNotifier(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))

	err := notifier.SendLowBalanceAlert(context.Background(), decimal.RequireFromString("42.50"), "EUR")
	require.NoError(t, err)

	assert.Equal(t, "low_balance", got["alert"])
	assert.Equal(t, "42.5", got["balance"])
	assert.Contains(t, got["text"], "42.50 EUR")
}

func TestWebhookNotifier_SendOrderFailureAlert(t *testing.T) {
	var got map[string]string
	notifier := newTestNotifier(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))

	err := notifier.SendOrderFailureAlert(context.Background(), "ord-1", "all attempts exhausted")
	require.NoError(t, err)

	assert.Equal(t, "order_failure", got["alert"])
	assert.Equal(t, "ord-1", got["order_id"])
}

func TestWebhookNotifier_RejectedAlert(t *testing.T) {
	notifier := newTestNotifier(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	err := notifier.SendOrderFailureAlert(context.Background(), "ord-1", "details")
	assert.Error(t, err)
}

func TestNewWebhookNotifier_RequiresURL(t *testing.T) {
	_, err := NewWebhookNotifier(WebhookNotifierConfig{}, nil)
	assert.ErrorIs(t, err, ErrConfigMissingWebhookURL)
}
