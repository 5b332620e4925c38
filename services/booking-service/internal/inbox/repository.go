package inbox

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/medbook/libs/db"
)

// Repository records processed event ids per consumer so redelivered
// messages are applied at most once.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Claim inserts (consumer, eventID) inside tx. It returns false when the
// event was already processed.
func (r *Repository) Claim(ctx context.Context, tx pgx.Tx, consumer, eventID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO inbox_events (consumer, event_id)
		VALUES ($1, $2)
		ON CONFLICT (consumer, event_id) DO NOTHING
	`, consumer, eventID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Conn is the pool surface Ledger needs.
type Conn interface {
	db.Beginner
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger answers "seen before?" for deliveries handled outside a store
// transaction, such as gateway webhooks whose effects are idempotent.
type Ledger struct {
	conn     Conn
	repo     *Repository
	consumer string
}

func NewLedger(conn Conn, repo *Repository, consumer string) *Ledger {
	return &Ledger{conn: conn, repo: repo, consumer: consumer}
}

func (l *Ledger) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := l.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM inbox_events WHERE consumer = $1 AND event_id = $2
		)
	`, l.consumer, eventID).Scan(&seen)
	return seen, err
}

func (l *Ledger) Record(ctx context.Context, eventID string) error {
	return db.WithTx(ctx, l.conn, func(tx pgx.Tx) error {
		_, err := l.repo.Claim(ctx, tx, l.consumer, eventID)
		return err
	})
}
