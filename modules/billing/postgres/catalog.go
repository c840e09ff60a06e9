package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtsidehq/courtside/modules/billing"
	"github.com/courtsidehq/courtside/pkg/pg"
)

// Catalog is the pgx-backed plan catalog. Entitlements live in a jsonb
// column so adding a feature flag never needs a migration.
type Catalog struct {
	pool *pgxpool.Pool
}

// NewCatalog returns a catalog over the given pool.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

func (c *Catalog) Get(ctx context.Context, planType billing.PlanType) (*billing.Plan, error) {
	row := c.pool.QueryRow(ctx,
		`SELECT plan_type, name, price_amount, price_currency, duration_days, entitlements, active
		 FROM plans WHERE plan_type = $1`, planType)
	return scanPlan(row)
}

func (c *Catalog) Upsert(ctx context.Context, plan *billing.Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	entitlements, err := json.Marshal(plan.Entitlements)
	if err != nil {
		return fmt.Errorf("encode entitlements: %w", err)
	}
	_, err = c.pool.Exec(ctx,
		`INSERT INTO plans (plan_type, name, price_amount, price_currency, duration_days, entitlements, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (plan_type) DO UPDATE SET
		   name = EXCLUDED.name,
		   price_amount = EXCLUDED.price_amount,
		   price_currency = EXCLUDED.price_currency,
		   duration_days = EXCLUDED.duration_days,
		   entitlements = EXCLUDED.entitlements,
		   active = EXCLUDED.active,
		   updated_at = now()`,
		plan.Type, plan.Name, plan.Price.Amount, plan.Price.Currency,
		plan.DurationDays, entitlements, plan.Active)
	return err
}

func (c *Catalog) List(ctx context.Context) ([]*billing.Plan, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT plan_type, name, price_amount, price_currency, duration_days, entitlements, active
		 FROM plans ORDER BY price_amount, plan_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*billing.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, plan)
	}
	return out, rows.Err()
}

func scanPlan(row pgx.Row) (*billing.Plan, error) {
	var (
		plan         billing.Plan
		entitlements []byte
	)
	err := row.Scan(&plan.Type, &plan.Name, &plan.Price.Amount, &plan.Price.Currency,
		&plan.DurationDays, &entitlements, &plan.Active)
	if err != nil {
		if pg.IsNotFound(err) {
			return nil, billing.ErrPlanNotFound
		}
		return nil, fmt.Errorf("scan plan: %w", err)
	}
	if len(entitlements) > 0 {
		if err := json.Unmarshal(entitlements, &plan.Entitlements); err != nil {
			return nil, fmt.Errorf("decode entitlements: %w", err)
		}
	}
	return &plan, nil
}
