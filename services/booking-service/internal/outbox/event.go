package outbox

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	TypeBookingCreated       = "booking.created.v1"
	TypeBookingConfirmed     = "booking.confirmed.v1"
	TypeBookingPaymentFailed = "booking.payment_failed.v1"
	TypeBookingCancelled     = "booking.cancelled.v1"
	TypeBookingCompleted     = "booking.completed.v1"
)

type bookingPayload struct {
	BookingID        string    `json:"booking_id"`
	UserID           string    `json:"user_id"`
	DoctorID         string    `json:"doctor_id"`
	BookingDate      string    `json:"booking_date"`
	BookingTime      string    `json:"booking_time"`
	ConsultationType string    `json:"consultation_type"`
	Status           string    `json:"status"`
	PaymentStatus    string    `json:"payment_status"`
	PaymentID        string    `json:"payment_id,omitempty"`
	OrderID          string    `json:"order_id,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// BookingEvent snapshots b as an event of eventType.
func BookingEvent(eventType string, b model.Booking, orderID string, at time.Time) (Event, error) {
	payload, err := json.Marshal(bookingPayload{
		BookingID:        b.ID,
		UserID:           b.SubjectID,
		DoctorID:         b.ProviderID,
		BookingDate:      b.Date,
		BookingTime:      b.Time,
		ConsultationType: string(b.Kind),
		Status:           string(b.Status),
		PaymentStatus:    string(b.PaymentStatus),
		PaymentID:        b.PaymentID,
		OrderID:          orderID,
		OccurredAt:       at.UTC(),
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
