package payments

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
)

// MockGateway stands in for a hosted checkout in development. Orders never
// leave the process; SimulateCheckout plays the user completing payment.
type MockGateway struct {
	secret string
	now    func() time.Time
}

func NewMockGateway(signingSecret string) *MockGateway {
	return &MockGateway{secret: signingSecret, now: time.Now}
}

func (g *MockGateway) Name() string { return "mock" }

func (g *MockGateway) CreateOrder(ctx context.Context, req OrderRequest) (model.PaymentOrder, error) {
	if err := ctx.Err(); err != nil {
		return model.PaymentOrder{}, &GatewayError{Gateway: g.Name(), Err: err}
	}
	order := orderFromRequest("order_"+randomID(), g.Name(), req)
	order.CreatedAt = g.now().UTC()
	return order, nil
}

// SimulateCheckout returns the confirmation the checkout widget would hand
// back for orderID, signed so HMACVerifier accepts it.
func (g *MockGateway) SimulateCheckout(orderID string) model.Confirmation {
	paymentID := "pay_" + randomID()
	return model.Confirmation{
		PaymentID: paymentID,
		OrderID:   orderID,
		Signature: Sign(g.secret, orderID, paymentID),
	}
}

func randomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
}
