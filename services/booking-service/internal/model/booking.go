package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type ConsultationKind string

const (
	KindInClinic ConsultationKind = "in-clinic"
	KindVideo    ConsultationKind = "video"
	KindChat     ConsultationKind = "chat"
)

func (k ConsultationKind) Valid() bool {
	switch k {
	case KindInClinic, KindVideo, KindChat:
		return true
	}
	return false
}

// Booking is a reservation of one slot with one doctor.
// Date is "YYYY-MM-DD" and Time is "HH:MM" in the clinic's local time.
type Booking struct {
	ID            string
	SubjectID     string
	ProviderID    string
	Date          string
	Time          string
	Kind          ConsultationKind
	Status        Status
	PaymentStatus PaymentStatus
	PaymentID     string
	CreatedAt     time.Time
	UpdatedAt     *time.Time
	CancelledAt   *time.Time
	CompletedAt   *time.Time
}

// BookingView is a booking with the doctor fields shown in appointment lists.
type BookingView struct {
	Booking
	ProviderName           string
	ProviderSpecialization string
	ProviderImage          string
}
