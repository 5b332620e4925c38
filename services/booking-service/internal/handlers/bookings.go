package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/receipts"
)

type createBookingRequest struct {
	DoctorID         string `json:"doctor_id"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	ConsultationType string `json:"consultation_type"`
}

type cancelBookingRequest struct {
	BookingID string `json:"booking_id"`
}

type bookingResponse struct {
	BookingID        string `json:"booking_id"`
	DoctorID         string `json:"doctor_id"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	ConsultationType string `json:"consultation_type"`
	Status           string `json:"status"`
	PaymentStatus    string `json:"payment_status"`
	PaymentID        string `json:"payment_id,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at,omitempty"`
	CancelledAt      string `json:"cancelled_at,omitempty"`
	CompletedAt      string `json:"completed_at,omitempty"`

	DoctorName           string `json:"doctor_name,omitempty"`
	DoctorSpecialization string `json:"doctor_specialization,omitempty"`
	DoctorImage          string `json:"doctor_image,omitempty"`
}

func toBookingResponse(b model.Booking) bookingResponse {
	return bookingResponse{
		BookingID:        b.ID,
		DoctorID:         b.ProviderID,
		Date:             b.Date,
		Time:             b.Time,
		ConsultationType: string(b.Kind),
		Status:           string(b.Status),
		PaymentStatus:    string(b.PaymentStatus),
		PaymentID:        b.PaymentID,
		CreatedAt:        formatTime(b.CreatedAt),
		UpdatedAt:        formatTimePtr(b.UpdatedAt),
		CancelledAt:      formatTimePtr(b.CancelledAt),
		CompletedAt:      formatTimePtr(b.CompletedAt),
	}
}

func toViewResponse(v model.BookingView) bookingResponse {
	resp := toBookingResponse(v.Booking)
	resp.DoctorName = v.ProviderName
	resp.DoctorSpecialization = v.ProviderSpecialization
	resp.DoctorImage = v.ProviderImage
	return resp
}

// Bookings serves POST (create) and GET (list own) on one path.
func (h *Handler) Bookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createBooking(w, r)
	case http.MethodGet:
		h.listBookings(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) createBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	sess, _ := identity.CurrentSession(r.Context())
	b, err := h.ctrl.CreateBooking(r.Context(), sess, lifecycle.BookingRequest{
		ProviderID: req.DoctorID,
		Date:       req.Date,
		Time:       req.Time,
		Kind:       model.ConsultationKind(strings.TrimSpace(req.ConsultationType)),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

func (h *Handler) listBookings(w http.ResponseWriter, r *http.Request) {
	sess, _ := identity.CurrentSession(r.Context())
	views, err := h.ctrl.ListBookings(r.Context(), sess)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]bookingResponse, 0, len(views))
	for _, v := range views {
		items = append(items, toViewResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": items})
}

func (h *Handler) BookingDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, _ := identity.CurrentSession(r.Context())
	v, err := h.ctrl.GetBooking(r.Context(), sess, r.URL.Query().Get("booking_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewResponse(v))
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cancelBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	sess, _ := identity.CurrentSession(r.Context())
	b, err := h.ctrl.CancelBooking(r.Context(), sess, req.BookingID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *Handler) Receipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, _ := identity.CurrentSession(r.Context())
	v, order, err := h.ctrl.Receipt(r.Context(), sess, r.URL.Query().Get("booking_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pdf, err := receipts.Render(v, order, h.now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+order.Receipt+`.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
