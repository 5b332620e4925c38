package handlers

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
)

type createOrderRequest struct {
	BookingID string `json:"booking_id"`
}

type orderResponse struct {
	OrderID      string            `json:"order_id"`
	BookingID    string            `json:"booking_id"`
	Gateway      string            `json:"gateway"`
	Amount       int64             `json:"amount"`
	Fee          int64             `json:"fee"`
	Tax          int64             `json:"tax"`
	Currency     string            `json:"currency"`
	Receipt      string            `json:"receipt"`
	Notes        map[string]string `json:"notes,omitempty"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"client_secret,omitempty"`
	CreatedAt    string            `json:"created_at"`
}

type confirmationRequest struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Signature string `json:"signature"`
}

type failureRequest struct {
	BookingID string `json:"booking_id"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
}

type checkoutRequest struct {
	OrderID string `json:"order_id"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(idempotencyKey) > 128 {
		http.Error(w, "Idempotency-Key too long", http.StatusBadRequest)
		return
	}

	sess, _ := identity.CurrentSession(r.Context())
	order, err := h.ctrl.OpenPaymentOrder(r.Context(), sess, req.BookingID, idempotencyKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse{
		OrderID:      order.ID,
		BookingID:    order.BookingID,
		Gateway:      order.Provider,
		Amount:       order.Amount,
		Fee:          order.Fee,
		Tax:          order.Tax,
		Currency:     order.Currency,
		Receipt:      order.Receipt,
		Notes:        order.Notes,
		Status:       string(order.Status),
		ClientSecret: order.ClientSecret,
		CreatedAt:    formatTime(order.CreatedAt),
	})
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req confirmationRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	sess, _ := identity.CurrentSession(r.Context())
	b, err := h.ctrl.ConfirmPayment(r.Context(), &sess, model.Confirmation{
		PaymentID: req.PaymentID,
		OrderID:   req.OrderID,
		Signature: req.Signature,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *Handler) ReportFailure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req failureRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	sess, _ := identity.CurrentSession(r.Context())
	b, err := h.ctrl.ReportPaymentFailure(r.Context(), &sess, lifecycle.FailureReport{
		BookingID: req.BookingID,
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

// DevCheckout plays the hosted checkout for the mock gateway and returns the
// signed confirmation a real widget would hand back.
func (h *Handler) DevCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.OrderID == "" {
		http.Error(w, "order_id required", http.StatusBadRequest)
		return
	}
	conf := h.checkout.SimulateCheckout(req.OrderID)
	writeJSON(w, http.StatusOK, confirmationRequest{
		PaymentID: conf.PaymentID,
		OrderID:   conf.OrderID,
		Signature: conf.Signature,
	})
}
