package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/lifecycle/lifecycletest"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/payments"
)

const (
	signingSecret = "test-signing-secret"
	webhookSecret = "whsec_test"
)

type memoryLedger struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (l *memoryLedger) Seen(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[id], nil
}

func (l *memoryLedger) Record(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[id] = true
	return nil
}

type testServer struct {
	store  *lifecycletest.Store
	doctor model.Provider
	mux    *http.ServeMux
}

func newTestServer(t *testing.T, verifier payments.Verifier) *testServer {
	t.Helper()
	store := lifecycletest.NewStore()
	doctor := store.AddProvider(model.Provider{
		Name:           "Dr. Asha Rao",
		Specialization: "Cardiology",
		Languages:      []string{"English", "Marathi"},
		Fees:           model.Fees{InClinic: 800, Video: 600},
		WorkExperience: []model.WorkExperience{{Position: "Consultant", Hospital: "City Heart Centre", Duration: "2015-2020"}},
	})
	gateway := payments.NewMockGateway(signingSecret)
	if verifier == nil {
		v, err := payments.NewHMACVerifier(signingSecret)
		if err != nil {
			t.Fatalf("NewHMACVerifier: %v", err)
		}
		verifier = v
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl := lifecycle.New(lifecycle.Deps{
		Bookings:  store,
		Orders:    store.Orders(),
		Providers: store.Providers(),
		Gateway:   gateway,
		Verifier:  verifier,
		Logger:    logger,
	}, lifecycle.Config{Currency: "INR"})
	h := New(Deps{
		Controller: ctrl,
		Catalog:    store.Providers(),
		Ledger:     &memoryLedger{seen: map[string]bool{}},
		Checkout:   gateway,
		Logger:     logger,
	}, Config{StripeWebhookSecret: webhookSecret})

	mux := http.NewServeMux()
	h.Register(mux)
	return &testServer{store: store, doctor: doctor, mux: mux}
}

func (s *testServer) do(t *testing.T, method, path, subject string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if subject != "" {
		sess := identity.Session{SubjectID: subject, ExpiresAt: time.Now().Add(time.Hour)}
		req = req.WithContext(identity.WithSession(req.Context(), sess))
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (s *testServer) book(t *testing.T, subject, at string) bookingResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/bookings", subject, createBookingRequest{
		DoctorID: s.doctor.ID, Date: "2026-11-02", Time: at, ConsultationType: "in-clinic",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create booking: %d %s", rec.Code, rec.Body.String())
	}
	return decode[bookingResponse](t, rec)
}

func (s *testServer) openOrder(t *testing.T, subject, bookingID string) orderResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/payments/orders", subject, createOrderRequest{BookingID: bookingID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: %d %s", rec.Code, rec.Body.String())
	}
	return decode[orderResponse](t, rec)
}

func TestDoctorEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/doctors", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("doctors: %d", rec.Code)
	}
	list := decode[struct {
		Doctors []doctorSummary `json:"doctors"`
	}](t, rec)
	if len(list.Doctors) != 1 || list.Doctors[0].Fees.InClinic != 800 {
		t.Fatalf("unexpected doctors: %+v", list)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/doctors/profile?doctor_id="+s.doctor.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile: %d", rec.Code)
	}
	profile := decode[doctorProfile](t, rec)
	if profile.Name != "Dr. Asha Rao" || len(profile.WorkExperience) != 1 {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/doctors/profile?doctor_id=6f1c2d3e-0000-4000-8000-000000000000", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown doctor, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/v1/doctors", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestBookPayConfirmOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)

	if rec := s.do(t, http.MethodPost, "/api/v1/bookings", "", createBookingRequest{
		DoctorID: s.doctor.ID, Date: "2026-11-02", Time: "10:00", ConsultationType: "in-clinic",
	}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", rec.Code)
	}

	b := s.book(t, "patient-1", "10:00")
	if b.Status != "pending" || b.PaymentStatus != "pending" {
		t.Fatalf("unexpected booking: %+v", b)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/slots?doctor_id="+s.doctor.ID+"&date=2026-11-02", "", nil)
	slots := decode[slotsResponse](t, rec)
	if len(slots.Slots) != 15 {
		t.Fatalf("expected 15 slots, got %d", len(slots.Slots))
	}
	for _, slot := range slots.Slots {
		if slot.Time == "10:00" && slot.Available {
			t.Fatalf("booked slot still available")
		}
	}

	order := s.openOrder(t, "patient-1", b.BookingID)
	if order.Fee != 800 || order.Tax != 144 || order.Amount != 944 || order.Currency != "INR" {
		t.Fatalf("unexpected order: %+v", order)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/dev/checkout", "", checkoutRequest{OrderID: order.OrderID})
	if rec.Code != http.StatusOK {
		t.Fatalf("checkout: %d", rec.Code)
	}
	conf := decode[confirmationRequest](t, rec)

	forged := conf
	forged.Signature = strings.Repeat("0", 64)
	if rec := s.do(t, http.MethodPost, "/api/v1/payments/confirm", "patient-1", forged); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for forged signature, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/v1/payments/confirm", "patient-2", conf); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another user, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/payments/confirm", "patient-1", conf)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: %d %s", rec.Code, rec.Body.String())
	}
	confirmed := decode[bookingResponse](t, rec)
	if confirmed.Status != "confirmed" || confirmed.PaymentStatus != "completed" || confirmed.PaymentID != conf.PaymentID {
		t.Fatalf("unexpected confirmed booking: %+v", confirmed)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/bookings/receipt?booking_id="+b.BookingID, "patient-1", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("receipt: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Fatalf("receipt is not a PDF")
	}

	rec = s.do(t, http.MethodGet, "/api/v1/bookings", "patient-1", nil)
	list := decode[struct {
		Bookings []bookingResponse `json:"bookings"`
	}](t, rec)
	if len(list.Bookings) != 1 || list.Bookings[0].DoctorName != "Dr. Asha Rao" {
		t.Fatalf("unexpected listing: %+v", list)
	}
}

func TestCancelOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	b := s.book(t, "patient-1", "11:30")

	if rec := s.do(t, http.MethodPost, "/api/v1/bookings/cancel", "patient-2", cancelBookingRequest{BookingID: b.BookingID}); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/api/v1/bookings/cancel", "patient-1", cancelBookingRequest{BookingID: b.BookingID})
		if rec.Code != http.StatusOK {
			t.Fatalf("cancel #%d: %d", i+1, rec.Code)
		}
		if got := decode[bookingResponse](t, rec); got.Status != "cancelled" || got.CancelledAt == "" {
			t.Fatalf("unexpected cancelled booking: %+v", got)
		}
	}
	if rec := s.do(t, http.MethodPost, "/api/v1/payments/orders", "patient-1", createOrderRequest{BookingID: b.BookingID}); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for order on cancelled booking, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/bookings/receipt?booking_id="+b.BookingID, "patient-1", nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for receipt of unpaid booking, got %d", rec.Code)
	}
}

func TestCreateOrderHonoursIdempotencyKey(t *testing.T) {
	s := newTestServer(t, nil)
	b := s.book(t, "patient-1", "15:00")

	var ids []string
	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/api/v1/payments/orders", "patient-1",
			createOrderRequest{BookingID: b.BookingID}, "Idempotency-Key", "checkout-1")
		if rec.Code != http.StatusCreated {
			t.Fatalf("create order: %d", rec.Code)
		}
		ids = append(ids, decode[orderResponse](t, rec).OrderID)
	}
	if ids[0] != ids[1] {
		t.Fatalf("expected one order for one key, got %v", ids)
	}
}

func TestCreateBookingRejectsBadInput(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/v1/bookings", "patient-1", createBookingRequest{
		DoctorID: s.doctor.ID, Date: "2026-11-02", Time: "13:30", ConsultationType: "in-clinic",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for lunch slot, got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader(`{"doctor":"x"}`))
	out := httptest.NewRecorder()
	s.mux.ServeHTTP(out, req)
	if out.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown fields, got %d", out.Code)
	}
}

func signedEvent(t *testing.T, id, eventType string, intent map[string]any) (string, []byte) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"type":        eventType,
		"data":        map[string]any{"object": intent},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: body, Secret: webhookSecret})
	return signed.Header, body
}

func (s *testServer) postWebhook(t *testing.T, header string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookConfirmsOnceAndIgnoresReplay(t *testing.T) {
	s := newTestServer(t, payments.StubVerifier{})
	b := s.book(t, "patient-1", "16:00")
	order := s.openOrder(t, "patient-1", b.BookingID)

	header, body := signedEvent(t, "evt_1", "payment_intent.succeeded", map[string]any{
		"id":            order.OrderID,
		"object":        "payment_intent",
		"status":        "succeeded",
		"latest_charge": "ch_1",
		"metadata":      map[string]string{"booking_id": b.BookingID},
	})

	rec := s.postWebhook(t, header, body)
	if rec.Code != http.StatusOK || decode[map[string]any](t, rec)["status"] != "applied" {
		t.Fatalf("webhook: %d %s", rec.Code, rec.Body.String())
	}
	got, _ := s.store.Booking(b.BookingID)
	if got.Status != model.StatusConfirmed || got.PaymentID != "ch_1" {
		t.Fatalf("webhook did not confirm: %+v", got)
	}

	events := len(s.store.Events)
	rec = s.postWebhook(t, header, body)
	if rec.Code != http.StatusOK || decode[map[string]any](t, rec)["status"] != "duplicate" {
		t.Fatalf("replay: %d %s", rec.Code, rec.Body.String())
	}
	if len(s.store.Events) != events {
		t.Fatalf("replay must not emit events")
	}
}

func TestStripeWebhookPaymentFailed(t *testing.T) {
	s := newTestServer(t, payments.StubVerifier{})
	b := s.book(t, "patient-1", "16:30")
	order := s.openOrder(t, "patient-1", b.BookingID)

	header, body := signedEvent(t, "evt_2", "payment_intent.payment_failed", map[string]any{
		"id":       order.OrderID,
		"object":   "payment_intent",
		"status":   "requires_payment_method",
		"metadata": map[string]string{"booking_id": b.BookingID},
	})
	rec := s.postWebhook(t, header, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook: %d %s", rec.Code, rec.Body.String())
	}
	got, _ := s.store.Booking(b.BookingID)
	if got.Status != model.StatusPending || got.PaymentStatus != model.PaymentFailed || got.PaymentID != order.OrderID {
		t.Fatalf("unexpected booking after failure: %+v", got)
	}
}

// switchVerifier rejects until accept is set, like a verifier whose
// credentials are fixed between two deliveries.
type switchVerifier struct {
	accept atomic.Bool
}

func (v *switchVerifier) Verify(context.Context, model.Confirmation) (bool, error) {
	return v.accept.Load(), nil
}

func TestStripeWebhookUnverifiedPaymentIsRedelivered(t *testing.T) {
	verifier := &switchVerifier{}
	s := newTestServer(t, verifier)
	b := s.book(t, "patient-1", "17:00")
	order := s.openOrder(t, "patient-1", b.BookingID)

	header, body := signedEvent(t, "evt_4", "payment_intent.succeeded", map[string]any{
		"id":            order.OrderID,
		"object":        "payment_intent",
		"status":        "succeeded",
		"latest_charge": "ch_4",
		"metadata":      map[string]string{"booking_id": b.BookingID},
	})

	rec := s.postWebhook(t, header, body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unverified payment must ask for redelivery, got %d %s", rec.Code, rec.Body.String())
	}
	if got, _ := s.store.Booking(b.BookingID); got.Status != model.StatusPending || got.PaymentStatus != model.PaymentPending {
		t.Fatalf("booking must stay pending: %+v", got)
	}

	verifier.accept.Store(true)
	rec = s.postWebhook(t, header, body)
	if rec.Code != http.StatusOK || decode[map[string]any](t, rec)["status"] != "applied" {
		t.Fatalf("redelivery: %d %s", rec.Code, rec.Body.String())
	}
	if got, _ := s.store.Booking(b.BookingID); got.Status != model.StatusConfirmed || got.PaymentID != "ch_4" {
		t.Fatalf("redelivery did not confirm: %+v", got)
	}
}

func TestStripeWebhookWithHMACVerifierIsNotSwallowed(t *testing.T) {
	s := newTestServer(t, nil)
	b := s.book(t, "patient-1", "15:30")
	order := s.openOrder(t, "patient-1", b.BookingID)

	header, body := signedEvent(t, "evt_5", "payment_intent.succeeded", map[string]any{
		"id":            order.OrderID,
		"object":        "payment_intent",
		"status":        "succeeded",
		"latest_charge": "ch_5",
		"metadata":      map[string]string{"booking_id": b.BookingID},
	})
	for i := 0; i < 2; i++ {
		rec := s.postWebhook(t, header, body)
		if rec.Code == http.StatusOK {
			t.Fatalf("delivery %d: unsigned confirmation must not be acknowledged: %s", i, rec.Body.String())
		}
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	s := newTestServer(t, payments.StubVerifier{})
	_, body := signedEvent(t, "evt_3", "payment_intent.succeeded", map[string]any{"id": "pi_1", "object": "payment_intent"})
	forged := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: body, Secret: "whsec_other"})

	if rec := s.postWebhook(t, forged.Header, body); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := s.postWebhook(t, "", body); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without header, got %d", rec.Code)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{lifecycle.ErrUnauthenticated, http.StatusUnauthorized},
		{lifecycle.ErrNotOwner, http.StatusForbidden},
		{&lifecycle.ValidationError{Field: "date", Reason: "required"}, http.StatusBadRequest},
		{lifecycle.ErrNotFound, http.StatusNotFound},
		{lifecycle.ErrInvalidTransition, http.StatusConflict},
		{lifecycle.ErrPaymentInProgress, http.StatusConflict},
		{lifecycle.ErrPaymentVerificationFailed, http.StatusUnprocessableEntity},
		{&payments.GatewayError{Gateway: "stripe", Err: context.DeadlineExceeded}, http.StatusBadGateway},
		{&lifecycle.StoreError{Op: "create booking", Err: io.ErrUnexpectedEOF}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
