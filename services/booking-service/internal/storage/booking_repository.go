package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/medbook/libs/db"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/outbox"
)

// DB is satisfied by *db.Pool and by pgxmock pools.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type BookingRepository struct {
	db     DB
	outbox *outbox.Repository
}

func NewBookingRepository(conn DB, outboxRepo *outbox.Repository) *BookingRepository {
	return &BookingRepository{db: conn, outbox: outboxRepo}
}

const bookingColumns = `
	b.id::text, b.user_id, b.doctor_id::text, to_char(b.booking_date, 'YYYY-MM-DD'), b.booking_time,
	b.consultation_type, b.status, b.payment_status, COALESCE(b.payment_id, ''),
	b.created_at, b.updated_at, b.cancelled_at, b.completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner, extra ...any) (model.Booking, error) {
	var b model.Booking
	dest := []any{
		&b.ID, &b.SubjectID, &b.ProviderID, &b.Date, &b.Time,
		&b.Kind, &b.Status, &b.PaymentStatus, &b.PaymentID,
		&b.CreatedAt, &b.UpdatedAt, &b.CancelledAt, &b.CompletedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return model.Booking{}, mapError(err)
	}
	return b, nil
}

func (r *BookingRepository) Create(ctx context.Context, b model.Booking) (model.Booking, error) {
	b.Status = model.StatusPending
	b.PaymentStatus = model.PaymentPending
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO bookings
				(user_id, doctor_id, booking_date, booking_time, consultation_type, status, payment_status)
			VALUES ($1, $2, $3::date, $4, $5, 'pending', 'pending')
			RETURNING id::text, created_at
		`, b.SubjectID, b.ProviderID, b.Date, b.Time, string(b.Kind)).Scan(&b.ID, &b.CreatedAt)
		if err != nil {
			return mapError(err)
		}
		return r.emit(ctx, tx, outbox.TypeBookingCreated, b, "", b.CreatedAt)
	})
	if err != nil {
		return model.Booking{}, err
	}
	return b, nil
}

func (r *BookingRepository) Get(ctx context.Context, bookingID string) (model.Booking, error) {
	return scanBooking(r.db.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings b
		WHERE b.id = $1
	`, bookingID))
}

func (r *BookingRepository) GetView(ctx context.Context, bookingID string) (model.BookingView, error) {
	var v model.BookingView
	b, err := scanBooking(r.db.QueryRow(ctx, `
		SELECT `+bookingColumns+`, d.name, d.specialization, COALESCE(d.image, '')
		FROM bookings b
		JOIN doctors d ON d.id = b.doctor_id
		WHERE b.id = $1
	`, bookingID), &v.ProviderName, &v.ProviderSpecialization, &v.ProviderImage)
	if err != nil {
		return model.BookingView{}, err
	}
	v.Booking = b
	return v, nil
}

// ListBySubject returns every booking of the user, newest first.
func (r *BookingRepository) ListBySubject(ctx context.Context, subjectID string) ([]model.BookingView, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumns+`, d.name, d.specialization, COALESCE(d.image, '')
		FROM bookings b
		JOIN doctors d ON d.id = b.doctor_id
		WHERE b.user_id = $1
		ORDER BY b.created_at DESC
	`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := []model.BookingView{}
	for rows.Next() {
		var v model.BookingView
		b, err := scanBooking(rows, &v.ProviderName, &v.ProviderSpecialization, &v.ProviderImage)
		if err != nil {
			return nil, err
		}
		v.Booking = b
		views = append(views, v)
	}
	return views, rows.Err()
}

// BookedTimes lists the times held by live bookings for a doctor on a day.
func (r *BookingRepository) BookedTimes(ctx context.Context, providerID, date string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT booking_time
		FROM bookings
		WHERE doctor_id = $1
			AND booking_date = $2::date
			AND status IN ('pending', 'confirmed')
		ORDER BY booking_time
	`, providerID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// Cancel marks the booking cancelled. Cancelling twice is a no-op.
func (r *BookingRepository) Cancel(ctx context.Context, bookingID, subjectID string) (model.Booking, error) {
	var out model.Booking
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		b, err := lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if b.SubjectID != subjectID {
			return model.ErrNotOwner
		}
		if b.Status == model.StatusCancelled {
			out = b
			return nil
		}

		var cancelledAt time.Time
		err = tx.QueryRow(ctx, `
			UPDATE bookings
			SET status = 'cancelled',
				cancelled_at = now(),
				updated_at = now()
			WHERE id = $1 AND user_id = $2
			RETURNING cancelled_at
		`, bookingID, subjectID).Scan(&cancelledAt)
		if err != nil {
			return mapError(err)
		}
		b.Status = model.StatusCancelled
		b.CancelledAt = &cancelledAt
		b.UpdatedAt = &cancelledAt
		out = b
		return r.emit(ctx, tx, outbox.TypeBookingCancelled, b, "", cancelledAt)
	})
	return out, err
}

// ConfirmPayment atomically records a verified payment: the booking becomes
// confirmed/completed with paymentID and the order is marked paid.
func (r *BookingRepository) ConfirmPayment(ctx context.Context, bookingID, orderID, paymentID string) (model.Booking, error) {
	var out model.Booking
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		b, err := lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if b.PaymentStatus == model.PaymentCompleted {
			if b.PaymentID == paymentID && b.Status != model.StatusCancelled {
				out = b
				return nil
			}
			return model.ErrInvalidTransition
		}
		if b.Status != model.StatusPending {
			return model.ErrInvalidTransition
		}

		var updatedAt time.Time
		err = tx.QueryRow(ctx, `
			UPDATE bookings
			SET status = 'confirmed',
				payment_status = 'completed',
				payment_id = $2,
				updated_at = now()
			WHERE id = $1 AND status = 'pending'
			RETURNING updated_at
		`, bookingID, paymentID).Scan(&updatedAt)
		if err != nil {
			return mapError(err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE payment_orders
			SET status = 'paid', payment_id = $3, updated_at = now()
			WHERE id = $1 AND booking_id = $2
		`, orderID, bookingID, paymentID); err != nil {
			return err
		}

		b.Status = model.StatusConfirmed
		b.PaymentStatus = model.PaymentCompleted
		b.PaymentID = paymentID
		b.UpdatedAt = &updatedAt
		out = b
		return r.emit(ctx, tx, outbox.TypeBookingConfirmed, b, orderID, updatedAt)
	})
	return out, err
}

// MarkPaymentFailed records a gateway-reported failure; status is unchanged.
func (r *BookingRepository) MarkPaymentFailed(ctx context.Context, bookingID, orderID, paymentID string) (model.Booking, error) {
	var out model.Booking
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		b, err := lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if b.PaymentStatus == model.PaymentCompleted {
			return model.ErrInvalidTransition
		}

		var updatedAt time.Time
		err = tx.QueryRow(ctx, `
			UPDATE bookings
			SET payment_status = 'failed',
				payment_id = $2,
				updated_at = now()
			WHERE id = $1
			RETURNING updated_at
		`, bookingID, paymentID).Scan(&updatedAt)
		if err != nil {
			return mapError(err)
		}
		if orderID != "" {
			if _, err := tx.Exec(ctx, `
				UPDATE payment_orders
				SET status = 'failed', payment_id = $3, updated_at = now()
				WHERE id = $1 AND booking_id = $2 AND status = 'created'
			`, orderID, bookingID, paymentID); err != nil {
				return err
			}
		}

		b.PaymentStatus = model.PaymentFailed
		b.PaymentID = paymentID
		b.UpdatedAt = &updatedAt
		out = b
		return r.emit(ctx, tx, outbox.TypeBookingPaymentFailed, b, orderID, updatedAt)
	})
	return out, err
}

// Complete moves a confirmed booking to completed once the consultation happened.
func (r *BookingRepository) Complete(ctx context.Context, bookingID string) (model.Booking, error) {
	var out model.Booking
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		b, err := lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		switch b.Status {
		case model.StatusCompleted:
			out = b
			return nil
		case model.StatusConfirmed:
		default:
			return model.ErrInvalidTransition
		}

		var completedAt time.Time
		err = tx.QueryRow(ctx, `
			UPDATE bookings
			SET status = 'completed',
				completed_at = now(),
				updated_at = now()
			WHERE id = $1 AND status = 'confirmed'
			RETURNING completed_at
		`, bookingID).Scan(&completedAt)
		if err != nil {
			return mapError(err)
		}
		b.Status = model.StatusCompleted
		b.CompletedAt = &completedAt
		b.UpdatedAt = &completedAt
		out = b
		return r.emit(ctx, tx, outbox.TypeBookingCompleted, b, "", completedAt)
	})
	return out, err
}

func lockBooking(ctx context.Context, tx pgx.Tx, bookingID string) (model.Booking, error) {
	return scanBooking(tx.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings b
		WHERE b.id = $1
		FOR UPDATE
	`, bookingID))
}

func (r *BookingRepository) emit(ctx context.Context, tx pgx.Tx, eventType string, b model.Booking, orderID string, at time.Time) error {
	evt, err := outbox.BookingEvent(eventType, b, orderID, at)
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, tx, evt)
}

// mapError folds "no such row" outcomes into model.ErrNotFound and unique
// key collisions into model.ErrDuplicate.
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22P02", "23503": // invalid uuid text, missing doctor
			return model.ErrNotFound
		case "23505":
			return model.ErrDuplicate
		}
	}
	return err
}
