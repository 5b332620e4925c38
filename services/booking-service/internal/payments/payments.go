package payments

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
)

// OrderRequest is a server-priced request to open a payment with a gateway.
type OrderRequest struct {
	BookingID      string
	Amount         int64
	Fee            int64
	Tax            int64
	Currency       string
	Receipt        string
	Notes          map[string]string
	IdempotencyKey string
}

type Gateway interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (model.PaymentOrder, error)
}

// Verifier decides whether a checkout confirmation proves a real payment.
// false means the proof was rejected; an error means no decision was reached.
type Verifier interface {
	Verify(ctx context.Context, c model.Confirmation) (bool, error)
}

type GatewayError struct {
	Gateway string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Gateway, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

type VerificationError struct {
	Verifier string
	Err      error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("payment verifier %s: %v", e.Verifier, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

func orderFromRequest(id, gateway string, req OrderRequest) model.PaymentOrder {
	notes := make(map[string]string, len(req.Notes))
	for k, v := range req.Notes {
		notes[k] = v
	}
	return model.PaymentOrder{
		ID:        id,
		BookingID: req.BookingID,
		Provider:  gateway,
		Amount:    req.Amount,
		Fee:       req.Fee,
		Tax:       req.Tax,
		Currency:  req.Currency,
		Receipt:   req.Receipt,
		Notes:     notes,
		Status:    model.OrderCreated,

		IdempotencyKey: req.IdempotencyKey,
	}
}
