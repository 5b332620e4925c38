package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/payments"
)

// Catalog is the doctor directory as the handlers see it.
type Catalog interface {
	List(ctx context.Context) ([]model.Provider, error)
	Get(ctx context.Context, providerID string) (model.Provider, error)
}

// EventLedger remembers gateway webhook deliveries that were already applied.
type EventLedger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID string) error
}

// CheckoutSimulator plays the hosted checkout in development.
type CheckoutSimulator interface {
	SimulateCheckout(orderID string) model.Confirmation
}

type Deps struct {
	Controller *lifecycle.Controller
	Catalog    Catalog
	Ledger     EventLedger
	Checkout   CheckoutSimulator
	Metrics    *metrics.BookingMetrics
	Logger     *slog.Logger
}

type Config struct {
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
}

type Handler struct {
	ctrl     *lifecycle.Controller
	catalog  Catalog
	ledger   EventLedger
	checkout CheckoutSimulator
	metrics  *metrics.BookingMetrics
	logger   *slog.Logger
	now      func() time.Time

	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
}

func New(deps Deps, cfg Config) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tolerance := cfg.StripeWebhookTolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Handler{
		ctrl:                   deps.Controller,
		catalog:                deps.Catalog,
		ledger:                 deps.Ledger,
		checkout:               deps.Checkout,
		metrics:                deps.Metrics,
		logger:                 logger,
		now:                    time.Now,
		stripeWebhookSecret:    cfg.StripeWebhookSecret,
		stripeWebhookTolerance: tolerance,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/doctors", h.Doctors)
	mux.HandleFunc("/api/v1/doctors/profile", h.DoctorProfile)
	mux.HandleFunc("/api/v1/slots", h.Slots)

	mux.HandleFunc("/api/v1/bookings", h.Bookings)
	mux.HandleFunc("/api/v1/bookings/detail", h.BookingDetail)
	mux.HandleFunc("/api/v1/bookings/cancel", h.CancelBooking)
	mux.HandleFunc("/api/v1/bookings/receipt", h.Receipt)

	mux.HandleFunc("/api/v1/payments/orders", h.CreateOrder)
	mux.HandleFunc("/api/v1/payments/confirm", h.ConfirmPayment)
	mux.HandleFunc("/api/v1/payments/failure", h.ReportFailure)
	mux.HandleFunc("/api/v1/payments/webhooks/stripe", h.StripeWebhook)

	if h.checkout != nil {
		mux.HandleFunc("/api/v1/dev/checkout", h.DevCheckout)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps controller errors onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	http.Error(w, msg, status)
}

func statusFor(err error) (int, string) {
	var (
		verr *lifecycle.ValidationError
		gerr *payments.GatewayError
	)
	switch {
	case errors.Is(err, lifecycle.ErrUnauthenticated):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, lifecycle.ErrNotOwner):
		return http.StatusForbidden, "booking belongs to another user"
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, lifecycle.ErrInvalidInput):
		return http.StatusBadRequest, "invalid input"
	case errors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, lifecycle.ErrPaymentInProgress):
		return http.StatusConflict, "payment already in progress"
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return http.StatusConflict, "booking cannot move to the requested state"
	case errors.Is(err, lifecycle.ErrPaymentVerificationFailed):
		return http.StatusUnprocessableEntity, "payment verification failed"
	case errors.As(err, &gerr):
		return http.StatusBadGateway, "payment gateway unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
