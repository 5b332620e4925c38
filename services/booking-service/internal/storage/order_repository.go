package storage

import (
	"context"
	"encoding/json"

	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
)

type OrderRepository struct {
	db DB
}

func NewOrderRepository(conn DB) *OrderRepository {
	return &OrderRepository{db: conn}
}

func (r *OrderRepository) Create(ctx context.Context, o model.PaymentOrder) error {
	notes, err := json.Marshal(o.Notes)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO payment_orders
			(id, booking_id, provider, amount, fee, tax, currency, receipt, notes, status,
			idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12)
	`, o.ID, o.BookingID, o.Provider, o.Amount, o.Fee, o.Tax, o.Currency, o.Receipt, notes,
		string(o.Status), o.IdempotencyKey, o.CreatedAt)
	return mapError(err)
}

const orderColumns = `
	id, booking_id::text, provider, amount, fee, tax, currency, receipt, notes, status,
	COALESCE(payment_id, ''), COALESCE(idempotency_key, ''), created_at`

func scanOrder(row rowScanner) (model.PaymentOrder, error) {
	var (
		o     model.PaymentOrder
		notes []byte
	)
	if err := row.Scan(&o.ID, &o.BookingID, &o.Provider, &o.Amount, &o.Fee, &o.Tax, &o.Currency,
		&o.Receipt, &notes, &o.Status, &o.PaymentID, &o.IdempotencyKey, &o.CreatedAt); err != nil {
		return model.PaymentOrder{}, mapError(err)
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &o.Notes); err != nil {
			return model.PaymentOrder{}, err
		}
	}
	return o, nil
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (model.PaymentOrder, error) {
	return scanOrder(r.db.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM payment_orders
		WHERE id = $1
	`, orderID))
}

// LatestPaid returns the order that settled the booking.
func (r *OrderRepository) LatestPaid(ctx context.Context, bookingID string) (model.PaymentOrder, error) {
	return scanOrder(r.db.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM payment_orders
		WHERE booking_id = $1 AND status = 'paid'
		ORDER BY updated_at DESC
		LIMIT 1
	`, bookingID))
}

// FindByIdempotencyKey returns the order a client already opened for the
// booking under key.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, bookingID, key string) (model.PaymentOrder, error) {
	return scanOrder(r.db.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM payment_orders
		WHERE booking_id = $1 AND idempotency_key = $2
	`, bookingID, key))
}
