// Package payments sells credit packages through Stripe PaymentIntents.
package payments

import (
	"context"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

// Intent is the provider-neutral view of a payment intent.
type Intent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"clientSecret"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"-"`
}

// StatusSucceeded is the status of a captured payment.
const StatusSucceeded = string(stripe.PaymentIntentStatusSucceeded)

// CreateIntentParams describes a new payment intent.
type CreateIntentParams struct {
	AmountCents int64
	Currency    string
	Metadata    map[string]string
}

// Gateway creates and retrieves payment intents.
type Gateway interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
}

// StripeGateway talks to the Stripe API.
type StripeGateway struct {
	client paymentintent.Client
}

// NewStripeGateway builds a gateway using the given secret key.
func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{
		client: paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey},
	}
}

// CreateIntent creates a card-only intent without redirect-based methods.
func (g *StripeGateway) CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error) {
	p := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(params.AmountCents),
		Currency: stripe.String(params.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	p.Context = ctx
	for key, value := range params.Metadata {
		p.AddMetadata(key, value)
	}
	pi, err := g.client.New(p)
	if err != nil {
		return nil, err
	}
	return fromStripe(pi), nil
}

// GetIntent retrieves an intent by ID.
func (g *StripeGateway) GetIntent(ctx context.Context, id string) (*Intent, error) {
	p := &stripe.PaymentIntentParams{}
	p.Context = ctx
	pi, err := g.client.Get(id, p)
	if err != nil {
		return nil, err
	}
	return fromStripe(pi), nil
}

func fromStripe(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
}
