// Package lifecycletest provides an in-memory store with the same transition
// rules as the Postgres repositories, for controller and handler tests.
package lifecycletest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
)

type Store struct {
	mu        sync.Mutex
	bookings  map[string]model.Booking
	orders    map[string]model.PaymentOrder
	providers map[string]model.Provider
	seq       int
	now       func() time.Time

	// Events lists emitted event types in order.
	Events []string
	// FailWrites makes every mutating call return this error.
	FailWrites error
}

func NewStore() *Store {
	return &Store{
		bookings:  map[string]model.Booking{},
		orders:    map[string]model.PaymentOrder{},
		providers: map[string]model.Provider{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) AddProvider(p model.Provider) model.Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.providers[p.ID] = p
	return p
}

// Booking returns the stored booking for assertions.
func (s *Store) Booking(id string) (model.Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	return b, ok
}

func (s *Store) Order(id string) (model.PaymentOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

// Put stores b as is, bypassing transition rules.
func (s *Store) Put(b model.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
}

func (s *Store) Create(_ context.Context, b model.Booking) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return model.Booking{}, s.FailWrites
	}
	if _, ok := s.providers[b.ProviderID]; !ok {
		return model.Booking{}, model.ErrNotFound
	}
	s.seq++
	b.ID = uuid.NewString()
	b.Status = model.StatusPending
	b.PaymentStatus = model.PaymentPending
	// Strictly increasing so newest-first ordering is deterministic.
	b.CreatedAt = s.now().Add(time.Duration(s.seq) * time.Millisecond)
	s.bookings[b.ID] = b
	s.Events = append(s.Events, "booking.created.v1")
	return b, nil
}

func (s *Store) Get(_ context.Context, id string) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return model.Booking{}, model.ErrNotFound
	}
	return b, nil
}

func (s *Store) GetView(_ context.Context, id string) (model.BookingView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return model.BookingView{}, model.ErrNotFound
	}
	return s.view(b), nil
}

func (s *Store) ListBySubject(_ context.Context, subjectID string) ([]model.BookingView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	views := []model.BookingView{}
	for _, b := range s.bookings {
		if b.SubjectID == subjectID {
			views = append(views, s.view(b))
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].CreatedAt.After(views[j].CreatedAt) })
	return views, nil
}

func (s *Store) BookedTimes(_ context.Context, providerID, date string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var times []string
	for _, b := range s.bookings {
		if b.ProviderID != providerID || b.Date != date {
			continue
		}
		if b.Status == model.StatusPending || b.Status == model.StatusConfirmed {
			times = append(times, b.Time)
		}
	}
	sort.Strings(times)
	return times, nil
}

func (s *Store) Cancel(_ context.Context, id, subjectID string) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return model.Booking{}, s.FailWrites
	}
	b, ok := s.bookings[id]
	if !ok {
		return model.Booking{}, model.ErrNotFound
	}
	if b.SubjectID != subjectID {
		return model.Booking{}, model.ErrNotOwner
	}
	if b.Status == model.StatusCancelled {
		return b, nil
	}
	now := s.now()
	b.Status = model.StatusCancelled
	b.CancelledAt = &now
	b.UpdatedAt = &now
	s.bookings[id] = b
	s.Events = append(s.Events, "booking.cancelled.v1")
	return b, nil
}

func (s *Store) ConfirmPayment(_ context.Context, bookingID, orderID, paymentID string) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return model.Booking{}, s.FailWrites
	}
	b, ok := s.bookings[bookingID]
	if !ok {
		return model.Booking{}, model.ErrNotFound
	}
	if b.PaymentStatus == model.PaymentCompleted {
		if b.PaymentID == paymentID && b.Status != model.StatusCancelled {
			return b, nil
		}
		return model.Booking{}, model.ErrInvalidTransition
	}
	if b.Status != model.StatusPending {
		return model.Booking{}, model.ErrInvalidTransition
	}
	now := s.now()
	b.Status = model.StatusConfirmed
	b.PaymentStatus = model.PaymentCompleted
	b.PaymentID = paymentID
	b.UpdatedAt = &now
	s.bookings[bookingID] = b
	if o, ok := s.orders[orderID]; ok && o.BookingID == bookingID {
		o.Status = model.OrderPaid
		o.PaymentID = paymentID
		s.orders[orderID] = o
	}
	s.Events = append(s.Events, "booking.confirmed.v1")
	return b, nil
}

func (s *Store) MarkPaymentFailed(_ context.Context, bookingID, orderID, paymentID string) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return model.Booking{}, s.FailWrites
	}
	b, ok := s.bookings[bookingID]
	if !ok {
		return model.Booking{}, model.ErrNotFound
	}
	if b.PaymentStatus == model.PaymentCompleted {
		return model.Booking{}, model.ErrInvalidTransition
	}
	now := s.now()
	b.PaymentStatus = model.PaymentFailed
	b.PaymentID = paymentID
	b.UpdatedAt = &now
	s.bookings[bookingID] = b
	if o, ok := s.orders[orderID]; ok && o.BookingID == bookingID && o.Status == model.OrderCreated {
		o.Status = model.OrderFailed
		o.PaymentID = paymentID
		s.orders[orderID] = o
	}
	s.Events = append(s.Events, "booking.payment_failed.v1")
	return b, nil
}

func (s *Store) Complete(_ context.Context, bookingID string) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return model.Booking{}, s.FailWrites
	}
	b, ok := s.bookings[bookingID]
	if !ok {
		return model.Booking{}, model.ErrNotFound
	}
	switch b.Status {
	case model.StatusCompleted:
		return b, nil
	case model.StatusConfirmed:
	default:
		return model.Booking{}, model.ErrInvalidTransition
	}
	now := s.now()
	b.Status = model.StatusCompleted
	b.CompletedAt = &now
	b.UpdatedAt = &now
	s.bookings[bookingID] = b
	s.Events = append(s.Events, "booking.completed.v1")
	return b, nil
}

func (s *Store) view(b model.Booking) model.BookingView {
	p := s.providers[b.ProviderID]
	return model.BookingView{
		Booking:                b,
		ProviderName:           p.Name,
		ProviderSpecialization: p.Specialization,
		ProviderImage:          p.Image,
	}
}

// Orders returns an OrderStore view over the same data.
func (s *Store) Orders() *Orders { return &Orders{s: s} }

// Providers returns a ProviderSource view over the same data.
func (s *Store) Providers() *Providers { return &Providers{s: s} }

type Orders struct{ s *Store }

func (o *Orders) Create(_ context.Context, order model.PaymentOrder) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if o.s.FailWrites != nil {
		return o.s.FailWrites
	}
	for _, existing := range o.s.orders {
		if existing.ID == order.ID || (order.IdempotencyKey != "" &&
			existing.BookingID == order.BookingID && existing.IdempotencyKey == order.IdempotencyKey) {
			return model.ErrDuplicate
		}
	}
	o.s.orders[order.ID] = order
	return nil
}

func (o *Orders) Get(_ context.Context, id string) (model.PaymentOrder, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	order, ok := o.s.orders[id]
	if !ok {
		return model.PaymentOrder{}, model.ErrNotFound
	}
	return order, nil
}

func (o *Orders) FindByIdempotencyKey(_ context.Context, bookingID, key string) (model.PaymentOrder, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	for _, order := range o.s.orders {
		if order.BookingID == bookingID && order.IdempotencyKey == key {
			return order, nil
		}
	}
	return model.PaymentOrder{}, model.ErrNotFound
}

func (o *Orders) LatestPaid(_ context.Context, bookingID string) (model.PaymentOrder, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	var (
		latest model.PaymentOrder
		found  bool
	)
	for _, order := range o.s.orders {
		if order.BookingID != bookingID || order.Status != model.OrderPaid {
			continue
		}
		if !found || order.CreatedAt.After(latest.CreatedAt) {
			latest, found = order, true
		}
	}
	if !found {
		return model.PaymentOrder{}, model.ErrNotFound
	}
	return latest, nil
}

type Providers struct{ s *Store }

func (p *Providers) List(_ context.Context) ([]model.Provider, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	out := make([]model.Provider, 0, len(p.s.providers))
	for _, prov := range p.s.providers {
		out = append(out, prov)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (p *Providers) Get(_ context.Context, id string) (model.Provider, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	prov, ok := p.s.providers[id]
	if !ok {
		return model.Provider{}, model.ErrNotFound
	}
	return prov, nil
}
