// Package postgres implements the billing stores over pgx. The invariants
// the interfaces demand are enforced by the database itself: activation
// runs in a single transaction, every status change is a conditional
// update, the ledger insert rides an ON CONFLICT DO NOTHING on the unique
// transaction id, and a partial unique index backstops the
// one-active-per-user rule against bugs in any future mutation path.
package postgres
