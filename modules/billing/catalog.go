package billing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Catalog is the plan lookup used by the service at transition and
// entitlement-check time. Plans are read-mostly; Upsert replaces a tier
// definition by type.
type Catalog interface {
	// Get returns the plan for the given type or ErrPlanNotFound.
	Get(ctx context.Context, planType PlanType) (*Plan, error)
	Upsert(ctx context.Context, plan *Plan) error
	List(ctx context.Context) ([]*Plan, error)
}

// MemoryCatalog is a mutex-guarded in-memory Catalog used in tests and as
// the seed source for the persistent catalog.
type MemoryCatalog struct {
	mu    sync.RWMutex
	plans map[PlanType]Plan
}

// NewMemoryCatalog builds a catalog from the given plans.
// Returns ErrInvalidPlanConfig if any plan fails validation.
func NewMemoryCatalog(plans ...Plan) (*MemoryCatalog, error) {
	c := &MemoryCatalog{plans: make(map[PlanType]Plan, len(plans))}
	for _, p := range plans {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("plan %q: %w", p.Type, err)
		}
		c.plans[p.Type] = p
	}
	return c, nil
}

func (c *MemoryCatalog) Get(_ context.Context, planType PlanType) (*Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.plans[planType]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return &p, nil
}

func (c *MemoryCatalog) Upsert(_ context.Context, plan *Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[plan.Type] = *plan
	return nil
}

func (c *MemoryCatalog) List(_ context.Context) ([]*Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Plan, 0, len(c.plans))
	for _, p := range c.plans {
		p := p
		out = append(out, &p)
	}
	return out, nil
}

// LoadPlansFile reads plan definitions from a YAML file:
//
//	plans:
//	  - type: basic
//	    name: Basic
//	    price: {amount: 2500, currency: XOF}
//	    duration_days: 30
//	    entitlements:
//	      dashboard: true
//	    active: true
func LoadPlansFile(path string) ([]Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Join(ErrPlansFileNotFound, err)
		}
		return nil, errors.Join(ErrInvalidPlansFile, err)
	}

	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Join(ErrInvalidPlansFile, err)
	}
	if len(doc.Plans) == 0 {
		return nil, errors.Join(ErrInvalidPlansFile, errors.New("no plans defined"))
	}

	seen := make(map[PlanType]struct{}, len(doc.Plans))
	for _, p := range doc.Plans {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("plan %q: %w", p.Type, err)
		}
		if _, dup := seen[p.Type]; dup {
			return nil, fmt.Errorf("%w: duplicate plan type %q", ErrInvalidPlansFile, p.Type)
		}
		seen[p.Type] = struct{}{}
	}

	return doc.Plans, nil
}
