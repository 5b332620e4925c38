package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/medbook/libs/kafkax"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

var outboxColumns = []string{"id", "event_id", "event_type", "aggregate_id", "payload", "traceparent", "tracestate"}

func TestPublishBatchWritesAndMarks(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows(outboxColumns).
			AddRow(int64(1), "evt-1", TypeBookingCreated, "b-1", []byte(`{"booking_id":"b-1"}`), "", "").
			AddRow(int64(2), "evt-2", TypeBookingConfirmed, "b-1", []byte(`{"booking_id":"b-1"}`), "", ""))
	mock.ExpectExec("UPDATE outbox_events SET published_at").
		WithArgs([]int64{1, 2}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPublisher(mock, NewRepository(), logger, PublisherConfig{})
	w := &recordingWriter{}

	n, err := p.PublishBatch(context.Background(), w)
	if err != nil {
		t.Fatalf("PublishBatch: %v", err)
	}
	if n != 2 || len(w.msgs) != 2 {
		t.Fatalf("expected 2 published messages, got n=%d msgs=%d", n, len(w.msgs))
	}
	if w.msgs[1].Topic != TypeBookingConfirmed || string(w.msgs[1].Key) != "b-1" {
		t.Fatalf("unexpected message: %+v", w.msgs[1])
	}
	if kafkax.HeaderValue(w.msgs[0].Headers, "event_id") != "evt-1" {
		t.Fatalf("event_id header missing: %+v", w.msgs[0].Headers)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPublishBatchLeavesRowsOnWriteFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows(outboxColumns).
			AddRow(int64(7), "evt-7", TypeBookingCancelled, "b-2", []byte(`{}`), "", ""))
	mock.ExpectRollback()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPublisher(mock, NewRepository(), logger, PublisherConfig{})
	if _, err := p.PublishBatch(context.Background(), &recordingWriter{err: errors.New("broker down")}); err == nil {
		t.Fatal("expected write error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
