package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
)

// StripeWebhook applies PaymentIntent outcomes. The Stripe signature is the
// only authentication; replayed events are acknowledged without effect.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(h.stripeWebhookSecret) == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	evtType := string(evt.Type)
	log := h.logger.With("provider_event_id", evt.ID, "event_type", evtType)

	if h.ledger != nil {
		seen, err := h.ledger.Seen(ctx, evt.ID)
		if err != nil {
			log.Error("webhook ledger lookup failed", "err", err)
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		if seen {
			h.metrics.ObserveWebhook(evtType, "duplicate")
			log.Info("stripe event duplicate ignored")
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			return
		}
	}

	var applyErr error
	switch evt.Type {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			http.Error(w, "invalid payment intent payload", http.StatusBadRequest)
			return
		}
		_, applyErr = h.ctrl.ConfirmPayment(ctx, nil, model.Confirmation{
			OrderID:   pi.ID,
			PaymentID: paymentIDOf(&pi),
		})
	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			http.Error(w, "invalid payment intent payload", http.StatusBadRequest)
			return
		}
		_, applyErr = h.ctrl.ReportPaymentFailure(ctx, nil, lifecycle.FailureReport{
			BookingID: strings.TrimSpace(pi.Metadata["booking_id"]),
			OrderID:   pi.ID,
			PaymentID: paymentIDOf(&pi),
		})
	default:
		h.metrics.ObserveWebhook(evtType, "ignored")
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	outcome := "applied"
	if applyErr != nil {
		if retryable(applyErr) {
			h.metrics.ObserveWebhook(evtType, "retry")
			log.Error("stripe event not applied", "err", applyErr)
			h.writeError(w, r, applyErr)
			return
		}
		outcome = "rejected"
		log.Warn("stripe event rejected", "err", applyErr)
	}

	if h.ledger != nil {
		if err := h.ledger.Record(ctx, evt.ID); err != nil {
			log.Error("webhook ledger record failed", "err", err)
		}
	}
	h.metrics.ObserveWebhook(evtType, outcome)
	log.Info("stripe event processed", "outcome", outcome)
	writeJSON(w, http.StatusOK, map[string]any{"status": outcome})
}

// paymentIDOf prefers the charge id; intents without one use their own id.
func paymentIDOf(pi *stripe.PaymentIntent) string {
	if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
		return pi.LatestCharge.ID
	}
	return pi.ID
}

// retryable reports failures Stripe should redeliver: the verifier did not
// accept the payment, or the store could not reach a decision. These are
// never recorded in the ledger so a redelivery is applied afresh.
func retryable(err error) bool {
	var serr *lifecycle.StoreError
	return errors.Is(err, lifecycle.ErrPaymentVerificationFailed) ||
		errors.As(err, &serr) ||
		errors.Is(err, lifecycle.ErrPaymentInProgress)
}
