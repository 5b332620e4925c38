package model

import "time"

type OrderStatus string

const (
	OrderCreated OrderStatus = "created"
	OrderPaid    OrderStatus = "paid"
	OrderFailed  OrderStatus = "failed"
)

// PaymentOrder is one gateway-side payment attempt for a booking.
// Amount = Fee + Tax, all in minor units.
type PaymentOrder struct {
	ID        string
	BookingID string
	Provider  string
	Amount    int64
	Fee       int64
	Tax       int64
	Currency  string
	Receipt   string
	Notes     map[string]string
	Status    OrderStatus
	PaymentID string
	// IdempotencyKey is the client key the order was opened under, if any.
	IdempotencyKey string
	// ClientSecret is handed to the checkout widget; it is never stored.
	ClientSecret string
	CreatedAt    time.Time
}

// Confirmation is what the checkout flow hands back after the user pays.
type Confirmation struct {
	PaymentID string
	OrderID   string
	Signature string
}
