package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	otelx "github.com/md-rashed-zaman/medbook/libs/otel"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/lock"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/pricing"
)

type BookingStore interface {
	Create(ctx context.Context, b model.Booking) (model.Booking, error)
	Get(ctx context.Context, bookingID string) (model.Booking, error)
	GetView(ctx context.Context, bookingID string) (model.BookingView, error)
	ListBySubject(ctx context.Context, subjectID string) ([]model.BookingView, error)
	BookedTimes(ctx context.Context, providerID, date string) ([]string, error)
	Cancel(ctx context.Context, bookingID, subjectID string) (model.Booking, error)
	ConfirmPayment(ctx context.Context, bookingID, orderID, paymentID string) (model.Booking, error)
	MarkPaymentFailed(ctx context.Context, bookingID, orderID, paymentID string) (model.Booking, error)
}

type OrderStore interface {
	Create(ctx context.Context, o model.PaymentOrder) error
	Get(ctx context.Context, orderID string) (model.PaymentOrder, error)
	FindByIdempotencyKey(ctx context.Context, bookingID, key string) (model.PaymentOrder, error)
	LatestPaid(ctx context.Context, bookingID string) (model.PaymentOrder, error)
}

type ProviderSource interface {
	Get(ctx context.Context, providerID string) (model.Provider, error)
}

type Deps struct {
	Bookings  BookingStore
	Orders    OrderStore
	Providers ProviderSource
	Gateway   payments.Gateway
	Verifier  payments.Verifier
	Locker    lock.Locker
	Metrics   *metrics.BookingMetrics
	Logger    *slog.Logger
}

type Config struct {
	Currency string
	LockTTL  time.Duration
}

// Controller owns every booking state transition except completion.
type Controller struct {
	bookings  BookingStore
	orders    OrderStore
	providers ProviderSource
	gateway   payments.Gateway
	verifier  payments.Verifier
	locker    lock.Locker
	metrics   *metrics.BookingMetrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	currency string
	lockTTL  time.Duration
}

func New(deps Deps, cfg Config) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "INR"
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Controller{
		bookings:  deps.Bookings,
		orders:    deps.Orders,
		providers: deps.Providers,
		gateway:   deps.Gateway,
		verifier:  deps.Verifier,
		locker:    locker,
		metrics:   deps.Metrics,
		logger:    logger,
		tracer:    otelx.Tracer("booking-service/lifecycle"),
		now:       time.Now,
		currency:  currency,
		lockTTL:   ttl,
	}
}

type BookingRequest struct {
	ProviderID string
	Date       string
	Time       string
	Kind       model.ConsultationKind
}

func (c *Controller) CreateBooking(ctx context.Context, sess identity.Session, req BookingRequest) (b model.Booking, err error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.CreateBooking")
	defer func() { otelx.EndSpan(span, err) }()

	if err := c.requireSession(sess); err != nil {
		return model.Booking{}, err
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)
	if err := validateID("doctor_id", req.ProviderID); err != nil {
		return model.Booking{}, err
	}
	if req.Date == "" {
		return model.Booking{}, invalid("date", "required")
	}
	if _, err := availability.ParseDate(req.Date); err != nil {
		return model.Booking{}, invalid("date", "must be YYYY-MM-DD")
	}
	if req.Time == "" {
		return model.Booking{}, invalid("time", "required")
	}
	if !availability.IsGridSlot(req.Time) {
		return model.Booking{}, invalid("time", "not a bookable slot")
	}
	if !req.Kind.Valid() {
		return model.Booking{}, invalid("consultation_type", "must be one of in-clinic, video, chat")
	}

	provider, err := c.providers.Get(ctx, req.ProviderID)
	if err != nil {
		return model.Booking{}, storeErr("get provider", err)
	}
	if _, ok := provider.Fees.For(req.Kind); !ok {
		return model.Booking{}, invalid("consultation_type", "not offered by this doctor")
	}

	span.SetAttributes(attribute.String("doctor_id", req.ProviderID))
	b, err = c.bookings.Create(ctx, model.Booking{
		SubjectID:  sess.SubjectID,
		ProviderID: req.ProviderID,
		Date:       req.Date,
		Time:       req.Time,
		Kind:       req.Kind,
	})
	if err != nil {
		return model.Booking{}, storeErr("create booking", err)
	}
	c.metrics.ObserveTransition("created")
	c.logger.Info("booking created", "booking_id", b.ID, "doctor_id", b.ProviderID, "date", b.Date, "time", b.Time)
	return b, nil
}

// QuoteOrder prices a payment order for the caller's booking from the
// doctor's fee for the booked consultation kind.
func (c *Controller) QuoteOrder(ctx context.Context, sess identity.Session, bookingID string) (payments.OrderRequest, error) {
	if err := c.requireSession(sess); err != nil {
		return payments.OrderRequest{}, err
	}
	if err := validateID("booking_id", bookingID); err != nil {
		return payments.OrderRequest{}, err
	}
	b, err := c.bookings.Get(ctx, bookingID)
	if err != nil {
		return payments.OrderRequest{}, storeErr("get booking", err)
	}
	if b.SubjectID != sess.SubjectID {
		return payments.OrderRequest{}, ErrNotOwner
	}
	if err := payable(b); err != nil {
		return payments.OrderRequest{}, err
	}

	provider, err := c.providers.Get(ctx, b.ProviderID)
	if err != nil {
		return payments.OrderRequest{}, storeErr("get provider", err)
	}
	fee, ok := provider.Fees.For(b.Kind)
	if !ok {
		return payments.OrderRequest{}, invalid("consultation_type", "not offered by this doctor")
	}
	quote, err := pricing.QuoteFee(fee)
	if err != nil {
		return payments.OrderRequest{}, invalid("fee", err.Error())
	}
	return payments.OrderRequest{
		BookingID: b.ID,
		Amount:    quote.Total,
		Fee:       quote.Fee,
		Tax:       quote.Tax,
		Currency:  c.currency,
		Receipt:   "receipt_" + b.ID,
		Notes: map[string]string{
			"doctorName":       provider.Name,
			"consultationType": string(b.Kind),
			"bookingId":        b.ID,
		},
	}, nil
}

// OpenPaymentOrder quotes and creates an order for the caller's booking in
// one single-flight section.
func (c *Controller) OpenPaymentOrder(ctx context.Context, sess identity.Session, bookingID, idempotencyKey string) (order model.PaymentOrder, err error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.OpenPaymentOrder")
	defer func() { otelx.EndSpan(span, err) }()

	bookingID = strings.TrimSpace(bookingID)
	if err := validateID("booking_id", bookingID); err != nil {
		return model.PaymentOrder{}, err
	}
	release, err := c.acquire(ctx, bookingID)
	if err != nil {
		return model.PaymentOrder{}, err
	}
	defer release()

	req, err := c.QuoteOrder(ctx, sess, bookingID)
	if err != nil {
		return model.PaymentOrder{}, err
	}
	req.IdempotencyKey = strings.TrimSpace(idempotencyKey)
	return c.createOrder(ctx, req)
}

// CreatePaymentOrder opens a new gateway order for req and persists it. Each
// call creates a fresh order unless req carries an idempotency key that was
// already used for the booking.
func (c *Controller) CreatePaymentOrder(ctx context.Context, req payments.OrderRequest) (order model.PaymentOrder, err error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.CreatePaymentOrder")
	defer func() { otelx.EndSpan(span, err) }()

	if err := validateID("booking_id", req.BookingID); err != nil {
		return model.PaymentOrder{}, err
	}
	if req.Amount <= 0 {
		return model.PaymentOrder{}, invalid("amount", "must be positive")
	}
	if strings.TrimSpace(req.Currency) == "" {
		req.Currency = c.currency
	}

	release, err := c.acquire(ctx, req.BookingID)
	if err != nil {
		return model.PaymentOrder{}, err
	}
	defer release()

	b, err := c.bookings.Get(ctx, req.BookingID)
	if err != nil {
		return model.PaymentOrder{}, storeErr("get booking", err)
	}
	if err := payable(b); err != nil {
		return model.PaymentOrder{}, err
	}
	return c.createOrder(ctx, req)
}

func (c *Controller) createOrder(ctx context.Context, req payments.OrderRequest) (model.PaymentOrder, error) {
	if req.IdempotencyKey != "" {
		existing, err := c.orders.FindByIdempotencyKey(ctx, req.BookingID, req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return model.PaymentOrder{}, storeErr("find order", err)
		}
	}

	start := c.now()
	order, err := c.gateway.CreateOrder(ctx, req)
	c.metrics.ObserveGatewayCall(c.gateway.Name(), "create_order", c.now().Sub(start))
	if err != nil {
		c.metrics.ObserveOrder(c.gateway.Name(), "failed")
		var gerr *payments.GatewayError
		if !errors.As(err, &gerr) {
			err = &payments.GatewayError{Gateway: c.gateway.Name(), Err: err}
		}
		return model.PaymentOrder{}, err
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = c.now().UTC()
	}
	if err := c.orders.Create(ctx, order); err != nil {
		// A retry with the same key raced past the lookup; the stored order wins.
		if errors.Is(err, model.ErrDuplicate) && req.IdempotencyKey != "" {
			if existing, ferr := c.orders.FindByIdempotencyKey(ctx, req.BookingID, req.IdempotencyKey); ferr == nil {
				return existing, nil
			}
		}
		return model.PaymentOrder{}, storeErr("create order", err)
	}
	c.metrics.ObserveOrder(c.gateway.Name(), "created")
	c.logger.Info("payment order created", "booking_id", order.BookingID, "order_id", order.ID,
		"amount", order.Amount, "currency", order.Currency, "gateway", order.Provider)
	return order, nil
}

// ConfirmPayment verifies conf with the trusted verifier and, only when it
// passes, confirms the order's booking in one store write. A nil sess skips
// the ownership check (gateway webhooks).
func (c *Controller) ConfirmPayment(ctx context.Context, sess *identity.Session, conf model.Confirmation) (b model.Booking, err error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.ConfirmPayment")
	defer func() { otelx.EndSpan(span, err) }()

	if sess != nil {
		if err := c.requireSession(*sess); err != nil {
			return model.Booking{}, err
		}
	}
	conf.OrderID = strings.TrimSpace(conf.OrderID)
	conf.PaymentID = strings.TrimSpace(conf.PaymentID)
	if conf.OrderID == "" {
		return model.Booking{}, invalid("order_id", "required")
	}
	if conf.PaymentID == "" {
		return model.Booking{}, invalid("payment_id", "required")
	}
	span.SetAttributes(attribute.String("order_id", conf.OrderID))

	ok, err := c.verifier.Verify(ctx, conf)
	if err != nil {
		c.metrics.ObserveVerification("error")
		c.logger.Warn("payment verification errored", "order_id", conf.OrderID, "err", err)
		return model.Booking{}, fmt.Errorf("%w: %w", ErrPaymentVerificationFailed, err)
	}
	if !ok {
		c.metrics.ObserveVerification("rejected")
		c.logger.Warn("payment verification rejected", "order_id", conf.OrderID, "payment_id", conf.PaymentID)
		return model.Booking{}, ErrPaymentVerificationFailed
	}
	c.metrics.ObserveVerification("verified")

	order, err := c.orders.Get(ctx, conf.OrderID)
	if err != nil {
		return model.Booking{}, storeErr("get order", err)
	}
	if sess != nil {
		owned, err := c.bookings.Get(ctx, order.BookingID)
		if err != nil {
			return model.Booking{}, storeErr("get booking", err)
		}
		if owned.SubjectID != sess.SubjectID {
			return model.Booking{}, ErrNotOwner
		}
	}

	release, err := c.acquire(ctx, order.BookingID)
	if err != nil {
		return model.Booking{}, err
	}
	defer release()

	b, err = c.bookings.ConfirmPayment(ctx, order.BookingID, order.ID, conf.PaymentID)
	if err != nil {
		return model.Booking{}, storeErr("confirm payment", err)
	}
	c.metrics.ObserveTransition("confirmed")
	c.logger.Info("booking confirmed", "booking_id", b.ID, "order_id", order.ID, "payment_id", conf.PaymentID)
	return b, nil
}

type FailureReport struct {
	BookingID string
	OrderID   string
	PaymentID string
}

// ReportPaymentFailure records a gateway-reported failure. The booking keeps
// its status so the user can retry with a new order.
func (c *Controller) ReportPaymentFailure(ctx context.Context, sess *identity.Session, rep FailureReport) (b model.Booking, err error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.ReportPaymentFailure")
	defer func() { otelx.EndSpan(span, err) }()

	if sess != nil {
		if err := c.requireSession(*sess); err != nil {
			return model.Booking{}, err
		}
	}
	rep.BookingID = strings.TrimSpace(rep.BookingID)
	rep.OrderID = strings.TrimSpace(rep.OrderID)
	rep.PaymentID = strings.TrimSpace(rep.PaymentID)
	if rep.OrderID != "" {
		order, err := c.orders.Get(ctx, rep.OrderID)
		if err != nil {
			return model.Booking{}, storeErr("get order", err)
		}
		if rep.BookingID == "" {
			rep.BookingID = order.BookingID
		} else if order.BookingID != rep.BookingID {
			return model.Booking{}, invalid("order_id", "belongs to another booking")
		}
	}
	if err := validateID("booking_id", rep.BookingID); err != nil {
		return model.Booking{}, err
	}
	if rep.PaymentID == "" {
		return model.Booking{}, invalid("payment_id", "required")
	}
	if sess != nil {
		owned, err := c.bookings.Get(ctx, rep.BookingID)
		if err != nil {
			return model.Booking{}, storeErr("get booking", err)
		}
		if owned.SubjectID != sess.SubjectID {
			return model.Booking{}, ErrNotOwner
		}
	}

	b, err = c.bookings.MarkPaymentFailed(ctx, rep.BookingID, rep.OrderID, rep.PaymentID)
	if err != nil {
		return model.Booking{}, storeErr("mark payment failed", err)
	}
	c.metrics.ObserveTransition("payment_failed")
	c.logger.Info("payment failure recorded", "booking_id", b.ID, "payment_id", rep.PaymentID)
	return b, nil
}

// CancelBooking cancels the caller's booking. Cancelling twice succeeds.
func (c *Controller) CancelBooking(ctx context.Context, sess identity.Session, bookingID string) (b model.Booking, err error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.CancelBooking")
	defer func() { otelx.EndSpan(span, err) }()

	if err := c.requireSession(sess); err != nil {
		return model.Booking{}, err
	}
	bookingID = strings.TrimSpace(bookingID)
	if err := validateID("booking_id", bookingID); err != nil {
		return model.Booking{}, err
	}
	b, err = c.bookings.Cancel(ctx, bookingID, sess.SubjectID)
	if err != nil {
		return model.Booking{}, storeErr("cancel booking", err)
	}
	c.metrics.ObserveTransition("cancelled")
	c.logger.Info("booking cancelled", "booking_id", b.ID)
	return b, nil
}

func (c *Controller) ListBookings(ctx context.Context, sess identity.Session) ([]model.BookingView, error) {
	if err := c.requireSession(sess); err != nil {
		return nil, err
	}
	views, err := c.bookings.ListBySubject(ctx, sess.SubjectID)
	if err != nil {
		return nil, storeErr("list bookings", err)
	}
	return views, nil
}

func (c *Controller) GetBooking(ctx context.Context, sess identity.Session, bookingID string) (model.BookingView, error) {
	if err := c.requireSession(sess); err != nil {
		return model.BookingView{}, err
	}
	bookingID = strings.TrimSpace(bookingID)
	if err := validateID("booking_id", bookingID); err != nil {
		return model.BookingView{}, err
	}
	v, err := c.bookings.GetView(ctx, bookingID)
	if err != nil {
		return model.BookingView{}, storeErr("get booking", err)
	}
	if v.SubjectID != sess.SubjectID {
		return model.BookingView{}, ErrNotOwner
	}
	return v, nil
}

// Receipt returns the caller's paid booking and the order that settled it.
func (c *Controller) Receipt(ctx context.Context, sess identity.Session, bookingID string) (model.BookingView, model.PaymentOrder, error) {
	v, err := c.GetBooking(ctx, sess, bookingID)
	if err != nil {
		return model.BookingView{}, model.PaymentOrder{}, err
	}
	if v.PaymentStatus != model.PaymentCompleted {
		return model.BookingView{}, model.PaymentOrder{}, ErrInvalidTransition
	}
	order, err := c.orders.LatestPaid(ctx, v.ID)
	if err != nil {
		return model.BookingView{}, model.PaymentOrder{}, storeErr("get paid order", err)
	}
	return v, order, nil
}

// AvailableSlots lays the doctor's live bookings for date over the day grid.
func (c *Controller) AvailableSlots(ctx context.Context, providerID, date string) ([]availability.Slot, error) {
	providerID = strings.TrimSpace(providerID)
	date = strings.TrimSpace(date)
	if err := validateID("doctor_id", providerID); err != nil {
		return nil, err
	}
	if _, err := availability.ParseDate(date); err != nil {
		return nil, invalid("date", "must be YYYY-MM-DD")
	}
	if _, err := c.providers.Get(ctx, providerID); err != nil {
		return nil, storeErr("get provider", err)
	}
	booked, err := c.bookings.BookedTimes(ctx, providerID, date)
	if err != nil {
		return nil, storeErr("booked times", err)
	}
	return availability.DaySlots(booked), nil
}

func (c *Controller) requireSession(sess identity.Session) error {
	if !sess.Active(c.now()) {
		return ErrUnauthenticated
	}
	return nil
}

func (c *Controller) acquire(ctx context.Context, bookingID string) (func(), error) {
	release, err := c.locker.Acquire(ctx, "booking:"+bookingID, c.lockTTL)
	if errors.Is(err, lock.ErrHeld) {
		return nil, ErrPaymentInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("acquire payment lock: %w", err)
	}
	return release, nil
}

func payable(b model.Booking) error {
	if b.Status == model.StatusCancelled || b.Status == model.StatusCompleted {
		return ErrInvalidTransition
	}
	if b.PaymentStatus == model.PaymentCompleted {
		return ErrInvalidTransition
	}
	return nil
}

func validateID(field, id string) error {
	if id == "" {
		return invalid(field, "required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return invalid(field, "must be a uuid")
	}
	return nil
}
