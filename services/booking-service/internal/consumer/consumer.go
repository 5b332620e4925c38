package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/medbook/libs/db"
	"github.com/md-rashed-zaman/medbook/libs/kafkax"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/inbox"
)

const inboxConsumer = "auth-session-events"

var errMalformed = errors.New("malformed auth event")

// sessionEvent is the payload published by the auth service.
type sessionEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	SubjectID  string    `json:"subject_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

// AuthEvents feeds auth session events from Kafka into the identity hub.
// Each event id is claimed in the inbox before it is published, so
// redeliveries reach subscribers at most once.
type AuthEvents struct {
	reader *kafka.Reader
	conn   db.Beginner
	inbox  *inbox.Repository
	hub    *identity.Hub
	logger *slog.Logger
}

func New(logger *slog.Logger, conn db.Beginner, inboxRepo *inbox.Repository, hub *identity.Hub, cfg Config) *AuthEvents {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newAuthEvents(logger, reader, conn, inboxRepo, hub)
}

func newAuthEvents(logger *slog.Logger, reader *kafka.Reader, conn db.Beginner, inboxRepo *inbox.Repository, hub *identity.Hub) *AuthEvents {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthEvents{reader: reader, conn: conn, inbox: inboxRepo, hub: hub, logger: logger}
}

func (c *AuthEvents) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)
		if err := c.Handle(ctxSpan, msg); err != nil {
			c.logger.Error("auth event failed", "err", err, "offset", msg.Offset)
			span.RecordError(err)
		}
		span.End()
	}
}

// Handle decodes one message, claims it in the inbox and publishes it to
// the hub after the claim commits. Duplicates and unknown event types are
// dropped without error.
func (c *AuthEvents) Handle(ctx context.Context, msg kafka.Message) error {
	ev, err := decode(msg)
	if err != nil {
		return err
	}
	switch ev.Type {
	case identity.EventSignedIn, identity.EventSignedOut:
	default:
		c.logger.Debug("auth event ignored", "event_type", ev.Type)
		return nil
	}

	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID == "" {
		return fmt.Errorf("%w: missing event id", errMalformed)
	}

	var fresh bool
	err = db.WithTx(ctx, c.conn, func(tx pgx.Tx) error {
		var err error
		fresh, err = c.inbox.Claim(ctx, tx, inboxConsumer, meta.EventID)
		return err
	})
	if err != nil {
		return fmt.Errorf("inbox claim: %w", err)
	}
	if !fresh {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", ev.Type)
		return nil
	}

	c.hub.Publish(ev)
	return nil
}

func decode(msg kafka.Message) (identity.Event, error) {
	var raw sessionEvent
	if err := json.Unmarshal(msg.Value, &raw); err != nil {
		return identity.Event{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	evType := raw.Type
	if evType == "" {
		evType = kafkax.HeaderValue(msg.Headers, "event_type")
	}
	subject := strings.TrimSpace(raw.SubjectID)
	if subject == "" {
		return identity.Event{}, fmt.Errorf("%w: missing subject", errMalformed)
	}
	occurred := raw.OccurredAt
	if occurred.IsZero() {
		occurred = msg.Time
	}
	return identity.Event{
		Type:       identity.EventType(evType),
		SubjectID:  subject,
		OccurredAt: occurred.UTC(),
	}, nil
}
