package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

func TestNewPicksGateway(t *testing.T) {
	g, err := New("", "", true)
	require.NoError(t, err)
	assert.Equal(t, "offline", g.Name())

	g, err = New("sk_test_123", "whsec_x", false)
	require.NoError(t, err)
	assert.Equal(t, "stripe", g.Name())

	_, err = New("", "", false)
	require.ErrorIs(t, err, ErrNotConfigured, "offline needs an explicit opt-in")
	_, err = New("sk_test_123", "", true)
	require.ErrorIs(t, err, ErrNoWebhookSecret)
}

func TestOfflineIntentsAreUnguessable(t *testing.T) {
	g := OfflineGateway{}
	a, err := g.CreateIntent(context.Background(), IntentParams{OrderID: "ord_abc", AmountCents: 1000, Currency: "USD"})
	require.NoError(t, err)
	b, err := g.CreateIntent(context.Background(), IntentParams{OrderID: "ord_abc", AmountCents: 1000, Currency: "USD"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.ID, "pi_offline_"))
	assert.NotContains(t, a.ID, "abc")
	assert.NotEqual(t, a.ID, b.ID)
	assert.True(t, strings.HasPrefix(a.ClientSecret, a.ID+"_secret_"))

	_, err = g.CreateIntent(context.Background(), IntentParams{OrderID: "ord_abc"})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestOfflineParseEvent(t *testing.T) {
	ev, err := OfflineGateway{}.ParseEvent([]byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_offline_abc"}}}`), "")
	require.NoError(t, err)
	assert.Equal(t, Event{Type: EventSucceeded, IntentID: "pi_offline_abc"}, ev)

	_, err = OfflineGateway{}.ParseEvent([]byte(`not json`), "")
	require.ErrorIs(t, err, ErrMalformedEvent)
}

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeParseEventVerifiesSignature(t *testing.T) {
	g := NewStripe("sk_test_123", "whsec_test")
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_123","object":"payment_intent"}}}`)

	ev, err := g.ParseEvent(payload, sign(payload, "whsec_test", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, Event{Type: EventFailed, IntentID: "pi_123"}, ev)

	_, err = g.ParseEvent(payload, sign(payload, "whsec_other", time.Now()))
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = g.ParseEvent(payload, sign(payload, "whsec_test", time.Now().Add(-time.Hour)))
	require.ErrorIs(t, err, ErrInvalidSignature, "stale timestamps are rejected")
}

func TestStripeWithoutWebhookSecretRejectsEverything(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_victim","object":"payment_intent"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: ""})

	_, err := NewStripe("sk_test_x", "").ParseEvent(payload, signed.Header)
	require.ErrorIs(t, err, ErrInvalidSignature)
}
