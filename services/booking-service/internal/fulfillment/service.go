package fulfillment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
)

const (
	ServiceName           = "medbook.fulfillment.v1.Fulfillment"
	completeBookingMethod = "/" + ServiceName + "/CompleteBooking"
)

// FulfillmentServer moves confirmed bookings to completed once the
// consultation took place.
type FulfillmentServer interface {
	CompleteBooking(ctx context.Context, bookingID *wrapperspb.StringValue) (*structpb.Struct, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FulfillmentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CompleteBooking", Handler: completeBookingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "medbook/fulfillment/v1/fulfillment.proto",
}

func Register(s grpc.ServiceRegistrar, srv FulfillmentServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func completeBookingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FulfillmentServer).CompleteBooking(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: completeBookingMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FulfillmentServer).CompleteBooking(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

type Completer interface {
	Complete(ctx context.Context, bookingID string) (model.Booking, error)
}

type Service struct {
	store   Completer
	metrics *metrics.BookingMetrics
	logger  *slog.Logger
}

func NewService(store Completer, m *metrics.BookingMetrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, metrics: m, logger: logger}
}

func (s *Service) CompleteBooking(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	bookingID := strings.TrimSpace(req.GetValue())
	if _, err := uuid.Parse(bookingID); err != nil {
		return nil, status.Error(codes.InvalidArgument, "booking id must be a uuid")
	}

	b, err := s.store.Complete(ctx, bookingID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return nil, status.Error(codes.NotFound, "booking not found")
	case errors.Is(err, model.ErrInvalidTransition):
		return nil, status.Error(codes.FailedPrecondition, "only confirmed bookings can be completed")
	case err != nil:
		s.logger.Error("complete booking failed", "booking_id", bookingID, "err", err)
		return nil, status.Error(codes.Internal, "complete booking failed")
	}

	s.metrics.ObserveTransition("completed")
	s.logger.Info("booking completed", "booking_id", b.ID)
	return summary(b)
}

func summary(b model.Booking) (*structpb.Struct, error) {
	fields := map[string]any{
		"booking_id":        b.ID,
		"user_id":           b.SubjectID,
		"doctor_id":         b.ProviderID,
		"date":              b.Date,
		"time":              b.Time,
		"consultation_type": string(b.Kind),
		"status":            string(b.Status),
		"payment_status":    string(b.PaymentStatus),
		"payment_id":        b.PaymentID,
	}
	if b.CompletedAt != nil {
		fields["completed_at"] = b.CompletedAt.UTC().Format(time.RFC3339)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Client calls the fulfillment service over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) CompleteBooking(ctx context.Context, bookingID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, completeBookingMethod, wrapperspb.String(bookingID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
