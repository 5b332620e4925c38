package payments

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"

	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
)

// StripeGateway opens one PaymentIntent per order. The intent id is the order id.
type StripeGateway struct {
	client *paymentintent.Client
}

// NewStripeGateway uses the live API backend when backend is nil.
func NewStripeGateway(secretKey string, backend stripe.Backend) (*StripeGateway, error) {
	client, err := newIntentClient(secretKey, backend)
	if err != nil {
		return nil, err
	}
	return &StripeGateway{client: client}, nil
}

func newIntentClient(secretKey string, backend stripe.Backend) (*paymentintent.Client, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	return &paymentintent.Client{B: backend, Key: secretKey}, nil
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) CreateOrder(ctx context.Context, req OrderRequest) (model.PaymentOrder, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String("Consultation booking " + req.BookingID),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("booking_id", req.BookingID)
	params.AddMetadata("receipt", req.Receipt)
	for k, v := range req.Notes {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}

	pi, err := g.client.New(params)
	if err != nil {
		return model.PaymentOrder{}, &GatewayError{Gateway: g.Name(), Err: err}
	}
	order := orderFromRequest(pi.ID, g.Name(), req)
	order.Amount = pi.Amount
	order.ClientSecret = pi.ClientSecret
	order.CreatedAt = time.Unix(pi.Created, 0).UTC()
	return order, nil
}

// StripeVerifier asks Stripe whether the intent behind a confirmation has
// succeeded. The signature field, when present, must be the intent's client secret.
type StripeVerifier struct {
	client *paymentintent.Client
}

func NewStripeVerifier(secretKey string, backend stripe.Backend) (*StripeVerifier, error) {
	client, err := newIntentClient(secretKey, backend)
	if err != nil {
		return nil, err
	}
	return &StripeVerifier{client: client}, nil
}

func (v *StripeVerifier) Verify(ctx context.Context, c model.Confirmation) (bool, error) {
	if c.OrderID == "" || c.PaymentID == "" {
		return false, nil
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := v.client.Get(c.OrderID, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == 404 {
			return false, nil
		}
		return false, &VerificationError{Verifier: "stripe", Err: err}
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return false, nil
	}
	if c.Signature != "" && subtle.ConstantTimeCompare([]byte(c.Signature), []byte(pi.ClientSecret)) != 1 {
		return false, nil
	}
	if c.PaymentID == pi.ID {
		return true, nil
	}
	return pi.LatestCharge != nil && pi.LatestCharge.ID == c.PaymentID, nil
}
