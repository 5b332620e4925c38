package lifecycle_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/lifecycle/lifecycletest"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/lock"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/payments"
)

const secret = "test-signing-secret"

type fixture struct {
	store    *lifecycletest.Store
	gateway  *payments.MockGateway
	locker   *lock.LocalLocker
	ctrl     *lifecycle.Controller
	doctor   model.Provider
	patient  identity.Session
	stranger identity.Session
}

func newFixture(t *testing.T, verifier payments.Verifier) *fixture {
	t.Helper()
	store := lifecycletest.NewStore()
	doctor := store.AddProvider(model.Provider{
		Name:           "Dr. Asha Rao",
		Specialization: "Cardiology",
		Fees:           model.Fees{InClinic: 800, Video: 600},
	})
	gateway := payments.NewMockGateway(secret)
	if verifier == nil {
		v, err := payments.NewHMACVerifier(secret)
		if err != nil {
			t.Fatalf("NewHMACVerifier: %v", err)
		}
		verifier = v
	}
	locker := lock.NewLocalLocker()
	ctrl := lifecycle.New(lifecycle.Deps{
		Bookings:  store,
		Orders:    store.Orders(),
		Providers: store.Providers(),
		Gateway:   gateway,
		Verifier:  verifier,
		Locker:    locker,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, lifecycle.Config{Currency: "inr"})

	exp := time.Now().Add(time.Hour)
	return &fixture{
		store:    store,
		gateway:  gateway,
		locker:   locker,
		ctrl:     ctrl,
		doctor:   doctor,
		patient:  identity.Session{SubjectID: "patient-1", ExpiresAt: exp},
		stranger: identity.Session{SubjectID: "patient-2", ExpiresAt: exp},
	}
}

func (f *fixture) book(t *testing.T, at string) model.Booking {
	t.Helper()
	b, err := f.ctrl.CreateBooking(context.Background(), f.patient, lifecycle.BookingRequest{
		ProviderID: f.doctor.ID,
		Date:       "2026-11-02",
		Time:       at,
		Kind:       model.KindInClinic,
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	return b
}

func TestHappyPathBookPayConfirm(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	b := f.book(t, "10:00")
	if b.ID == "" || b.Status != model.StatusPending || b.PaymentStatus != model.PaymentPending {
		t.Fatalf("unexpected new booking: %+v", b)
	}

	order, err := f.ctrl.OpenPaymentOrder(ctx, f.patient, b.ID, "")
	if err != nil {
		t.Fatalf("OpenPaymentOrder: %v", err)
	}
	if order.Fee != 800 || order.Tax != 144 || order.Amount != 944 {
		t.Fatalf("expected 800+144=944, got fee=%d tax=%d amount=%d", order.Fee, order.Tax, order.Amount)
	}
	if order.Currency != "INR" || order.Receipt != "receipt_"+b.ID {
		t.Fatalf("unexpected order metadata: %+v", order)
	}
	if order.Notes["doctorName"] != "Dr. Asha Rao" || order.Notes["consultationType"] != "in-clinic" {
		t.Fatalf("unexpected notes: %+v", order.Notes)
	}

	conf := f.gateway.SimulateCheckout(order.ID)
	confirmed, err := f.ctrl.ConfirmPayment(ctx, &f.patient, conf)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if confirmed.Status != model.StatusConfirmed || confirmed.PaymentStatus != model.PaymentCompleted {
		t.Fatalf("unexpected confirmed booking: %+v", confirmed)
	}
	if confirmed.PaymentID != conf.PaymentID {
		t.Fatalf("payment id not recorded: %q", confirmed.PaymentID)
	}
	stored, _ := f.store.Order(order.ID)
	if stored.Status != model.OrderPaid {
		t.Fatalf("order not marked paid: %s", stored.Status)
	}

	view, paid, err := f.ctrl.Receipt(ctx, f.patient, b.ID)
	if err != nil {
		t.Fatalf("Receipt: %v", err)
	}
	if view.ProviderName != "Dr. Asha Rao" || paid.ID != order.ID {
		t.Fatalf("unexpected receipt data: %+v %+v", view, paid)
	}

	listed, err := f.ctrl.ListBookings(ctx, f.patient)
	if err != nil {
		t.Fatalf("ListBookings: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != b.ID {
		t.Fatalf("expected only %s, got %+v", b.ID, listed)
	}
	if listed[0].Status != model.StatusConfirmed || listed[0].PaymentStatus != model.PaymentCompleted ||
		listed[0].PaymentID != conf.PaymentID || listed[0].ProviderName != "Dr. Asha Rao" {
		t.Fatalf("listed booking does not reflect the payment: %+v", listed[0])
	}
}

func TestRejectedSignatureLeavesBookingUntouched(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "10:00")
	order, err := f.ctrl.OpenPaymentOrder(ctx, f.patient, b.ID, "")
	if err != nil {
		t.Fatalf("OpenPaymentOrder: %v", err)
	}
	events := len(f.store.Events)

	conf := f.gateway.SimulateCheckout(order.ID)
	conf.Signature = payments.Sign("wrong-secret", conf.OrderID, conf.PaymentID)
	_, err = f.ctrl.ConfirmPayment(ctx, &f.patient, conf)
	if !errors.Is(err, lifecycle.ErrPaymentVerificationFailed) {
		t.Fatalf("expected ErrPaymentVerificationFailed, got %v", err)
	}
	after, _ := f.store.Booking(b.ID)
	if after.Status != model.StatusPending || after.PaymentStatus != model.PaymentPending || after.PaymentID != "" {
		t.Fatalf("booking changed after rejected payment: %+v", after)
	}
	if len(f.store.Events) != events {
		t.Fatalf("no event expected, got %v", f.store.Events[events:])
	}
}

type brokenVerifier struct{}

func (brokenVerifier) Verify(context.Context, model.Confirmation) (bool, error) {
	return false, &payments.VerificationError{Verifier: "test", Err: errors.New("timeout")}
}

func TestVerifierErrorIsVerificationFailure(t *testing.T) {
	f := newFixture(t, brokenVerifier{})
	b := f.book(t, "10:00")
	order, err := f.ctrl.OpenPaymentOrder(context.Background(), f.patient, b.ID, "")
	if err != nil {
		t.Fatalf("OpenPaymentOrder: %v", err)
	}
	_, err = f.ctrl.ConfirmPayment(context.Background(), nil, f.gateway.SimulateCheckout(order.ID))
	if !errors.Is(err, lifecycle.ErrPaymentVerificationFailed) {
		t.Fatalf("expected ErrPaymentVerificationFailed, got %v", err)
	}
	var verr *payments.VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected wrapped VerificationError, got %T", err)
	}
}

func TestCreateBookingValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.ctrl.CreateBooking(ctx, identity.Session{}, lifecycle.BookingRequest{}); !errors.Is(err, lifecycle.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	expired := identity.Session{SubjectID: "patient-1", ExpiresAt: time.Now().Add(-time.Minute)}
	if _, err := f.ctrl.CreateBooking(ctx, expired, lifecycle.BookingRequest{}); !errors.Is(err, lifecycle.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for expired session, got %v", err)
	}

	cases := []struct {
		name string
		req  lifecycle.BookingRequest
	}{
		{"missing date", lifecycle.BookingRequest{ProviderID: f.doctor.ID, Time: "10:00", Kind: model.KindVideo}},
		{"bad date", lifecycle.BookingRequest{ProviderID: f.doctor.ID, Date: "02/11/2026", Time: "10:00", Kind: model.KindVideo}},
		{"lunch slot", lifecycle.BookingRequest{ProviderID: f.doctor.ID, Date: "2026-11-02", Time: "13:00", Kind: model.KindVideo}},
		{"off grid", lifecycle.BookingRequest{ProviderID: f.doctor.ID, Date: "2026-11-02", Time: "10:15", Kind: model.KindVideo}},
		{"unknown kind", lifecycle.BookingRequest{ProviderID: f.doctor.ID, Date: "2026-11-02", Time: "10:00", Kind: "phone"}},
		{"kind not offered", lifecycle.BookingRequest{ProviderID: f.doctor.ID, Date: "2026-11-02", Time: "10:00", Kind: model.KindChat}},
		{"bad doctor id", lifecycle.BookingRequest{ProviderID: "doc", Date: "2026-11-02", Time: "10:00", Kind: model.KindVideo}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ctrl.CreateBooking(ctx, f.patient, tc.req)
			if !errors.Is(err, lifecycle.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	_, err := f.ctrl.CreateBooking(ctx, f.patient, lifecycle.BookingRequest{
		ProviderID: "6f1c2d3e-0000-4000-8000-000000000000", Date: "2026-11-02", Time: "10:00", Kind: model.KindVideo,
	})
	if !errors.Is(err, lifecycle.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown doctor, got %v", err)
	}
}

func TestCancelOwnershipAndIdempotence(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "11:00")

	if _, err := f.ctrl.CancelBooking(ctx, f.stranger, b.ID); !errors.Is(err, lifecycle.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if got, _ := f.store.Booking(b.ID); got.Status != model.StatusPending {
		t.Fatalf("stranger's cancel must not change the booking: %s", got.Status)
	}

	first, err := f.ctrl.CancelBooking(ctx, f.patient, b.ID)
	if err != nil {
		t.Fatalf("CancelBooking: %v", err)
	}
	second, err := f.ctrl.CancelBooking(ctx, f.patient, b.ID)
	if err != nil {
		t.Fatalf("second CancelBooking: %v", err)
	}
	if first.Status != model.StatusCancelled || second.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled twice, got %s/%s", first.Status, second.Status)
	}
	if second.PaymentStatus != model.PaymentPending {
		t.Fatalf("cancel must not touch payment status: %s", second.PaymentStatus)
	}

	if _, err := f.ctrl.CancelBooking(ctx, f.patient, "6f1c2d3e-0000-4000-8000-000000000000"); !errors.Is(err, lifecycle.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConfirmAfterCancelIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "10:00")
	order, err := f.ctrl.OpenPaymentOrder(ctx, f.patient, b.ID, "")
	if err != nil {
		t.Fatalf("OpenPaymentOrder: %v", err)
	}
	if _, err := f.ctrl.CancelBooking(ctx, f.patient, b.ID); err != nil {
		t.Fatalf("CancelBooking: %v", err)
	}
	_, err = f.ctrl.ConfirmPayment(ctx, nil, f.gateway.SimulateCheckout(order.ID))
	if !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if got, _ := f.store.Booking(b.ID); got.Status != model.StatusCancelled {
		t.Fatalf("status regressed from cancelled: %s", got.Status)
	}
	if _, err := f.ctrl.OpenPaymentOrder(ctx, f.patient, b.ID, ""); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for order on cancelled booking, got %v", err)
	}
}

func TestReconfirmSamePaymentIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "10:00")
	order, _ := f.ctrl.OpenPaymentOrder(ctx, f.patient, b.ID, "")
	conf := f.gateway.SimulateCheckout(order.ID)

	if _, err := f.ctrl.ConfirmPayment(ctx, &f.patient, conf); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	events := len(f.store.Events)
	again, err := f.ctrl.ConfirmPayment(ctx, &f.patient, conf)
	if err != nil {
		t.Fatalf("second ConfirmPayment: %v", err)
	}
	if again.PaymentID != conf.PaymentID || len(f.store.Events) != events {
		t.Fatalf("re-confirm must be a no-op: %+v events=%v", again, f.store.Events)
	}

	other := f.gateway.SimulateCheckout(order.ID)
	if _, err := f.ctrl.ConfirmPayment(ctx, &f.patient, other); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for a second payment, got %v", err)
	}
	if _, err := f.ctrl.OpenPaymentOrder(ctx, f.patient, b.ID, ""); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for order on paid booking, got %v", err)
	}
}

func TestConfirmByStrangerIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "10:00")
	order, _ := f.ctrl.OpenPaymentOrder(ctx, f.patient, b.ID, "")

	_, err := f.ctrl.ConfirmPayment(ctx, &f.stranger, f.gateway.SimulateCheckout(order.ID))
	if !errors.Is(err, lifecycle.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestPaymentInProgress(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "10:00")

	release, err := f.locker.Acquire(ctx, "booking:"+b.ID, time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := f.ctrl.OpenPaymentOrder(ctx, f.patient, b.ID, ""); !errors.Is(err, lifecycle.ErrPaymentInProgress) {
		t.Fatalf("expected ErrPaymentInProgress, got %v", err)
	}
	release()
	if _, err := f.ctrl.OpenPaymentOrder(ctx, f.patient, b.ID, ""); err != nil {
		t.Fatalf("OpenPaymentOrder after release: %v", err)
	}
}

func TestIdempotencyKeyReusesOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "10:00")

	first, err := f.ctrl.OpenPaymentOrder(ctx, f.patient, b.ID, "key-1")
	if err != nil {
		t.Fatalf("OpenPaymentOrder: %v", err)
	}
	again, err := f.ctrl.OpenPaymentOrder(ctx, f.patient, b.ID, "key-1")
	if err != nil {
		t.Fatalf("OpenPaymentOrder: %v", err)
	}
	fresh, err := f.ctrl.OpenPaymentOrder(ctx, f.patient, b.ID, "")
	if err != nil {
		t.Fatalf("OpenPaymentOrder: %v", err)
	}
	if first.ID != again.ID {
		t.Fatalf("same key must return the same order: %s vs %s", first.ID, again.ID)
	}
	if fresh.ID == first.ID {
		t.Fatalf("a call without a key must open a new order")
	}
}

func TestCreatePaymentOrderRequiresAmount(t *testing.T) {
	f := newFixture(t, nil)
	b := f.book(t, "10:00")
	_, err := f.ctrl.CreatePaymentOrder(context.Background(), payments.OrderRequest{BookingID: b.ID})
	if !errors.Is(err, lifecycle.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	order, err := f.ctrl.CreatePaymentOrder(context.Background(), payments.OrderRequest{BookingID: b.ID, Amount: 944})
	if err != nil {
		t.Fatalf("CreatePaymentOrder: %v", err)
	}
	if order.Currency != "INR" {
		t.Fatalf("expected default currency, got %q", order.Currency)
	}
}

func TestPaymentFailureThenRetry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "10:00")
	firstOrder, _ := f.ctrl.OpenPaymentOrder(ctx, f.patient, b.ID, "")

	failed, err := f.ctrl.ReportPaymentFailure(ctx, &f.patient, lifecycle.FailureReport{
		OrderID: firstOrder.ID, PaymentID: "pay_declined",
	})
	if err != nil {
		t.Fatalf("ReportPaymentFailure: %v", err)
	}
	if failed.Status != model.StatusPending || failed.PaymentStatus != model.PaymentFailed || failed.PaymentID != "pay_declined" {
		t.Fatalf("unexpected failed booking: %+v", failed)
	}

	retry, err := f.ctrl.OpenPaymentOrder(ctx, f.patient, b.ID, "")
	if err != nil {
		t.Fatalf("retry OpenPaymentOrder: %v", err)
	}
	conf := f.gateway.SimulateCheckout(retry.ID)
	if _, err := f.ctrl.ConfirmPayment(ctx, &f.patient, conf); err != nil {
		t.Fatalf("ConfirmPayment after failure: %v", err)
	}
	_, err = f.ctrl.ReportPaymentFailure(ctx, nil, lifecycle.FailureReport{BookingID: b.ID, PaymentID: "pay_late"})
	if !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after completion, got %v", err)
	}
}

func TestListBookingsNewestFirst(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	older := f.book(t, "09:00")
	newer := f.book(t, "09:30")
	if _, err := f.ctrl.CreateBooking(ctx, f.stranger, lifecycle.BookingRequest{
		ProviderID: f.doctor.ID, Date: "2026-11-02", Time: "15:00", Kind: model.KindVideo,
	}); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	views, err := f.ctrl.ListBookings(ctx, f.patient)
	if err != nil {
		t.Fatalf("ListBookings: %v", err)
	}
	if len(views) != 2 || views[0].ID != newer.ID || views[1].ID != older.ID {
		t.Fatalf("unexpected listing: %+v", views)
	}
	if views[0].ProviderName != "Dr. Asha Rao" || views[0].ProviderSpecialization != "Cardiology" {
		t.Fatalf("provider fields missing: %+v", views[0])
	}
	if _, err := f.ctrl.GetBooking(ctx, f.stranger, older.ID); !errors.Is(err, lifecycle.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestAvailableSlotsReflectLiveBookings(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "14:00")

	slots, err := f.ctrl.AvailableSlots(ctx, f.doctor.ID, "2026-11-02")
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	if len(slots) != 15 {
		t.Fatalf("expected 15 slots, got %d", len(slots))
	}
	for _, s := range slots {
		if s.Available == (s.Time == "14:00") {
			t.Fatalf("slot %s availability wrong: %v", s.Time, s.Available)
		}
	}

	if _, err := f.ctrl.CancelBooking(ctx, f.patient, b.ID); err != nil {
		t.Fatalf("CancelBooking: %v", err)
	}
	slots, _ = f.ctrl.AvailableSlots(ctx, f.doctor.ID, "2026-11-02")
	for _, s := range slots {
		if !s.Available {
			t.Fatalf("cancelled booking must free %s", s.Time)
		}
	}
	if _, err := f.ctrl.AvailableSlots(ctx, f.doctor.ID, "tomorrow"); !errors.Is(err, lifecycle.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestStoreFailureIsStoreError(t *testing.T) {
	f := newFixture(t, nil)
	b := f.book(t, "10:00")
	f.store.FailWrites = errors.New("connection reset")

	_, err := f.ctrl.CancelBooking(context.Background(), f.patient, b.ID)
	var serr *lifecycle.StoreError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
}

type downGateway struct{}

func (downGateway) Name() string { return "down" }

func (downGateway) CreateOrder(context.Context, payments.OrderRequest) (model.PaymentOrder, error) {
	return model.PaymentOrder{}, errors.New("connection refused")
}

func TestGatewayFailureIsGatewayError(t *testing.T) {
	store := lifecycletest.NewStore()
	doctor := store.AddProvider(model.Provider{Name: "Dr. Vikram Shah", Fees: model.Fees{Video: 500}})
	ctrl := lifecycle.New(lifecycle.Deps{
		Bookings:  store,
		Orders:    store.Orders(),
		Providers: store.Providers(),
		Gateway:   downGateway{},
		Verifier:  payments.StubVerifier{},
	}, lifecycle.Config{})
	sess := identity.Session{SubjectID: "patient-1"}

	b, err := ctrl.CreateBooking(context.Background(), sess, lifecycle.BookingRequest{
		ProviderID: doctor.ID, Date: "2026-11-02", Time: "16:30", Kind: model.KindVideo,
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	_, err = ctrl.OpenPaymentOrder(context.Background(), sess, b.ID, "")
	var gerr *payments.GatewayError
	if !errors.As(err, &gerr) || gerr.Gateway != "down" {
		t.Fatalf("expected GatewayError from down, got %v", err)
	}
	if got, _ := store.Booking(b.ID); got.PaymentStatus != model.PaymentPending {
		t.Fatalf("gateway failure must leave the booking unchanged: %+v", got)
	}
}

// racingGateway stores an order under the same idempotency key before
// answering, as a second replica would.
type racingGateway struct {
	orders *lifecycletest.Orders
}

func (racingGateway) Name() string { return "racing" }

func (g racingGateway) CreateOrder(ctx context.Context, req payments.OrderRequest) (model.PaymentOrder, error) {
	winner := model.PaymentOrder{
		ID: "order_winner", BookingID: req.BookingID, Provider: "racing", Amount: req.Amount,
		Fee: req.Fee, Tax: req.Tax, Currency: req.Currency, Receipt: req.Receipt,
		Status: model.OrderCreated, IdempotencyKey: req.IdempotencyKey, CreatedAt: time.Now(),
	}
	if err := g.orders.Create(ctx, winner); err != nil {
		return model.PaymentOrder{}, err
	}
	loser := winner
	loser.ID = "order_loser"
	return loser, nil
}

func TestIdempotencyKeyRaceReturnsStoredOrder(t *testing.T) {
	store := lifecycletest.NewStore()
	doctor := store.AddProvider(model.Provider{Name: "Dr. Vikram Shah", Fees: model.Fees{Video: 500}})
	ctrl := lifecycle.New(lifecycle.Deps{
		Bookings:  store,
		Orders:    store.Orders(),
		Providers: store.Providers(),
		Gateway:   racingGateway{orders: store.Orders()},
		Verifier:  payments.StubVerifier{},
	}, lifecycle.Config{})
	sess := identity.Session{SubjectID: "patient-1"}

	b, err := ctrl.CreateBooking(context.Background(), sess, lifecycle.BookingRequest{
		ProviderID: doctor.ID, Date: "2026-11-02", Time: "11:00", Kind: model.KindVideo,
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	order, err := ctrl.OpenPaymentOrder(context.Background(), sess, b.ID, "key-1")
	if err != nil {
		t.Fatalf("OpenPaymentOrder: %v", err)
	}
	if order.ID != "order_winner" {
		t.Fatalf("expected the stored order, got %s", order.ID)
	}
	if _, ok := store.Order("order_loser"); ok {
		t.Fatalf("losing order must not be stored")
	}
}
