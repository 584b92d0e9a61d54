// Package payments creates payment intents and decodes gateway webhooks.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	EventSucceeded = "payment_intent.succeeded"
	EventFailed    = "payment_intent.payment_failed"
)

var (
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
	ErrNoWebhookSecret  = errors.New("stripe webhook secret is required")
	ErrNotConfigured    = errors.New("no payment gateway configured")
)

type IntentParams struct {
	OrderID     string
	AmountCents int64
	Currency    string
	Email       string
}

type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// Event is the part of a webhook the shop acts on.
type Event struct {
	Type     string
	IntentID string
}

// Gateway is the payment provider.
type Gateway interface {
	Name() string
	CreateIntent(ctx context.Context, p IntentParams) (Intent, error)
	ParseEvent(payload []byte, signature string) (Event, error)
}

// ---------------------------------------------------------------------------
// Stripe
// ---------------------------------------------------------------------------

type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

func NewStripe(secretKey, webhookSecret string) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, nil), webhookSecret: webhookSecret}
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) CreateIntent(ctx context.Context, p IntentParams) (Intent, error) {
	if p.AmountCents <= 0 {
		return Intent{}, ErrInvalidAmount
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.AmountCents),
		Currency: stripe.String(strings.ToLower(p.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if p.Email != "" {
		params.ReceiptEmail = stripe.String(p.Email)
	}
	params.Context = ctx
	params.AddMetadata("order_id", p.OrderID)
	params.SetIdempotencyKey("order-" + p.OrderID)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe create intent: %w", err)
	}
	return Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

func (g *StripeGateway) ParseEvent(payload []byte, signature string) (Event, error) {
	if g.webhookSecret == "" {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, ErrNoWebhookSecret)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := Event{Type: string(ev.Type)}
	if !strings.HasPrefix(out.Type, "payment_intent.") {
		return out, nil
	}
	if ev.Data == nil {
		return Event{}, ErrMalformedEvent
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil || pi.ID == "" {
		return Event{}, ErrMalformedEvent
	}
	out.IntentID = pi.ID
	return out, nil
}

// ---------------------------------------------------------------------------
// Offline
// ---------------------------------------------------------------------------

// OfflineGateway stands in for the provider in local runs. Webhooks are
// unsigned JSON in the provider's event shape, so it must only be enabled
// explicitly. Intent ids and client secrets are random and unrelated to
// the order id.
type OfflineGateway struct{}

func (OfflineGateway) Name() string { return "offline" }

func (OfflineGateway) CreateIntent(_ context.Context, p IntentParams) (Intent, error) {
	if p.AmountCents <= 0 {
		return Intent{}, ErrInvalidAmount
	}
	id := "pi_offline_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	secret := id + "_secret_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	return Intent{ID: id, ClientSecret: secret, Status: "requires_payment_method"}, nil
}

func (OfflineGateway) ParseEvent(payload []byte, _ string) (Event, error) {
	var raw struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID string `json:"id"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil || raw.Type == "" {
		return Event{}, ErrMalformedEvent
	}
	return Event{Type: raw.Type, IntentID: raw.Data.Object.ID}, nil
}

// New picks the Stripe gateway when a secret key is configured and the
// offline gateway only when offline is set.
func New(secretKey, webhookSecret string, offline bool) (Gateway, error) {
	if strings.TrimSpace(secretKey) == "" {
		if !offline {
			return nil, ErrNotConfigured
		}
		return OfflineGateway{}, nil
	}
	if strings.TrimSpace(webhookSecret) == "" {
		return nil, ErrNoWebhookSecret
	}
	return NewStripe(secretKey, webhookSecret), nil
}
