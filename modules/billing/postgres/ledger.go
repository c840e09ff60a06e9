package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtsidehq/courtside/modules/billing"
	"github.com/courtsidehq/courtside/pkg/pg"
)

// Ledger records processed gateway transactions in the webhook_events
// table. The check-and-insert rides a single INSERT ON CONFLICT DO
// NOTHING, so concurrent deliveries of the same transaction race on the
// primary key and exactly one wins.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger returns a ledger over the given pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) RecordIfNew(ctx context.Context, entry billing.LedgerEntry) (bool, error) {
	tag, err := l.pool.Exec(ctx,
		`INSERT INTO webhook_events (transaction_id, received_at, digest, outcome)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (transaction_id) DO NOTHING`,
		entry.TransactionID, entry.ReceivedAt, entry.Digest, entry.Outcome)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (l *Ledger) Get(ctx context.Context, transactionID string) (*billing.LedgerEntry, error) {
	var entry billing.LedgerEntry
	err := l.pool.QueryRow(ctx,
		`SELECT transaction_id, received_at, digest, outcome
		 FROM webhook_events WHERE transaction_id = $1`, transactionID).
		Scan(&entry.TransactionID, &entry.ReceivedAt, &entry.Digest, &entry.Outcome)
	if err != nil {
		if pg.IsNotFound(err) {
			return nil, billing.ErrTransactionNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (l *Ledger) Forget(ctx context.Context, transactionID string) error {
	_, err := l.pool.Exec(ctx,
		`DELETE FROM webhook_events WHERE transaction_id = $1`, transactionID)
	return err
}
