package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtsidehq/courtside/modules/billing"
	"github.com/courtsidehq/courtside/pkg/pg"
)

const subscriptionColumns = `id, user_id, plan_type, status, starts_at, ends_at,
	suspended_at, COALESCE(suspended_reason, ''), restored_at, cancelled_at,
	COALESCE(transaction_id, ''), COALESCE(payment_method, ''), COALESCE(ref_command, ''),
	created_at, updated_at`

// SubscriptionStore is the pgx-backed billing.SubscriptionStore.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewSubscriptionStore returns a store over the given pool.
func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{pool: pool}
}

func (s *SubscriptionStore) Get(ctx context.Context, id uuid.UUID) (*billing.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanSubscription(row)
}

func (s *SubscriptionStore) GetByTransactionID(ctx context.Context, transactionID string) (*billing.Subscription, error) {
	if transactionID == "" {
		return nil, billing.ErrSubscriptionNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE transaction_id = $1`, transactionID)
	return scanSubscription(row)
}

func (s *SubscriptionStore) ActiveByUser(ctx context.Context, userID uuid.UUID) (*billing.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE user_id = $1 AND status = 'active'
		 ORDER BY created_at DESC, id ASC
		 LIMIT 1`, userID)
	return scanSubscription(row)
}

func (s *SubscriptionStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*billing.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

func (s *SubscriptionStore) ListActive(ctx context.Context) ([]*billing.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = 'active'
		 ORDER BY user_id, created_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

func (s *SubscriptionStore) Create(ctx context.Context, sub *billing.Subscription) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = sub.CreatedAt
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions
		   (id, user_id, plan_type, status, starts_at, ends_at,
		    transaction_id, payment_method, ref_command, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10, $11)`,
		sub.ID, sub.UserID, sub.PlanType, sub.Status, sub.StartsAt, sub.EndsAt,
		sub.TransactionID, sub.PaymentMethod, sub.RefCommand, sub.CreatedAt, sub.UpdatedAt)
	return err
}

// Activate cancels every active row of the user, promotes a matching
// pending checkout when one exists, and otherwise inserts the new row.
// All of it runs in one transaction, so no reader sees two actives or
// none.
func (s *SubscriptionStore) Activate(ctx context.Context, sub *billing.Subscription) (*billing.Subscription, []uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	at := sub.StartsAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	cancelledRows, err := tx.Query(ctx,
		`UPDATE subscriptions
		 SET status = 'cancelled', cancelled_at = $2, updated_at = $2
		 WHERE user_id = $1 AND status = 'active'
		 RETURNING id`, sub.UserID, at)
	if err != nil {
		return nil, nil, err
	}
	cancelled, err := pgx.CollectRows(cancelledRows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, nil, err
	}

	// Adopt the newest matching pending checkout instead of creating a
	// second row for the same intent.
	row := tx.QueryRow(ctx,
		`UPDATE subscriptions
		 SET status = 'active', starts_at = $2, ends_at = $3,
		     transaction_id = NULLIF($4, ''), payment_method = NULLIF($5, ''), updated_at = $6
		 WHERE id = (
		   SELECT id FROM subscriptions
		   WHERE user_id = $1 AND status = 'pending' AND plan_type = $7
		     AND ($8 = '' OR ref_command = $8)
		   ORDER BY created_at DESC, id ASC
		   LIMIT 1
		   FOR UPDATE)
		 RETURNING `+subscriptionColumns,
		sub.UserID, sub.StartsAt, sub.EndsAt, sub.TransactionID, sub.PaymentMethod,
		at, sub.PlanType, sub.RefCommand)

	final, err := scanSubscription(row)
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrSubscriptionNotFound):
		row := tx.QueryRow(ctx,
			`INSERT INTO subscriptions
			   (id, user_id, plan_type, status, starts_at, ends_at,
			    transaction_id, payment_method, ref_command, created_at, updated_at)
			 VALUES ($1, $2, $3, 'active', $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $9)
			 RETURNING `+subscriptionColumns,
			sub.ID, sub.UserID, sub.PlanType, sub.StartsAt, sub.EndsAt,
			sub.TransactionID, sub.PaymentMethod, sub.RefCommand, at)
		final, err = scanSubscription(row)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return final, cancelled, nil
}

func (s *SubscriptionStore) Transition(ctx context.Context, id uuid.UUID, expected billing.Status, change billing.StatusChange) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions
		 SET status = $2,
		     updated_at = $3,
		     suspended_at     = CASE WHEN $2 = 'suspended' THEN $3 ELSE suspended_at END,
		     suspended_reason = CASE WHEN $2 = 'suspended' THEN NULLIF($4, '') ELSE suspended_reason END,
		     restored_at      = CASE WHEN $2 = 'active' THEN $3 ELSE restored_at END,
		     cancelled_at     = CASE WHEN $2 = 'cancelled' THEN $3 ELSE cancelled_at END
		 WHERE id = $1 AND status = $5`,
		id, change.To, change.At, change.Reason, expected)
	if err != nil {
		// The partial unique index fires when a transition into active
		// status races an activation that already committed.
		if pg.IsUniqueViolation(err) {
			return billing.ErrConflictingActiveSubscription
		}
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a vanished row from one that moved on.
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return billing.ErrStaleTransition
}

func (s *SubscriptionStore) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions
		 SET status = 'expired', updated_at = $1
		 WHERE status = 'active' AND ends_at IS NOT NULL AND ends_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanSubscription(row pgx.Row) (*billing.Subscription, error) {
	var sub billing.Subscription
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanType, &sub.Status, &sub.StartsAt, &sub.EndsAt,
		&sub.SuspendedAt, &sub.SuspendedReason, &sub.RestoredAt, &sub.CancelledAt,
		&sub.TransactionID, &sub.PaymentMethod, &sub.RefCommand,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFound(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return &sub, nil
}

func collectSubscriptions(rows pgx.Rows) ([]*billing.Subscription, error) {
	var out []*billing.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
