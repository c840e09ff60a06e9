package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Entitlements is the read surface the rest of the platform consumes on
// hot paths (every dashboard request checks it).
type Entitlements interface {
	GetActivePlan(ctx context.Context, userID uuid.UUID) (*Plan, error)
	CanAccessFeature(ctx context.Context, userID uuid.UUID, feature Feature) bool
	CanAccessDashboard(ctx context.Context, userID uuid.UUID) bool
}

const (
	entitlementKeyPrefix = "billing:active_plan:"
	// noPlanSentinel caches the absence of an active subscription; "!" can
	// never collide with a plan type.
	noPlanSentinel = "!"
)

// EntitlementCache decorates Entitlements with a short-TTL redis cache of
// the user's active plan type. Only the subscription resolution is cached;
// the plan definition itself is always re-read live from the catalog, so
// administrative plan updates keep applying to existing subscribers.
//
// Wire Invalidate into the service via WithEntitlementInvalidator so every
// state transition drops the stale entry; the TTL only bounds staleness
// for invalidations lost to a crash.
type EntitlementCache struct {
	inner   Entitlements
	catalog Catalog
	client  *redis.Client
	ttl     time.Duration
	log     *slog.Logger
}

// NewEntitlementCache builds the decorator. Panics on nil collaborators.
func NewEntitlementCache(inner Entitlements, catalog Catalog, client *redis.Client, ttl time.Duration, log *slog.Logger) *EntitlementCache {
	if inner == nil || catalog == nil || client == nil {
		panic("billing: EntitlementCache requires inner, catalog and client")
	}
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &EntitlementCache{inner: inner, catalog: catalog, client: client, ttl: ttl, log: log}
}

func (c *EntitlementCache) GetActivePlan(ctx context.Context, userID uuid.UUID) (*Plan, error) {
	key := entitlementKeyPrefix + userID.String()

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if cached == noPlanSentinel {
			return nil, ErrSubscriptionNotFound
		}
		plan, err := c.catalog.Get(ctx, PlanType(cached))
		if err == nil {
			return plan, nil
		}
		// Cached plan type vanished from the catalog; fall through to the
		// authoritative path.
	case errors.Is(err, redis.Nil):
	default:
		// Cache unavailable; the store remains authoritative.
		c.log.WarnContext(ctx, "entitlement cache read failed", "user_id", userID, "error", err)
	}

	plan, err := c.inner.GetActivePlan(ctx, userID)
	switch {
	case err == nil:
		c.set(ctx, key, string(plan.Type))
		return plan, nil
	case errors.Is(err, ErrSubscriptionNotFound):
		c.set(ctx, key, noPlanSentinel)
		return nil, err
	default:
		return nil, err
	}
}

func (c *EntitlementCache) CanAccessFeature(ctx context.Context, userID uuid.UUID, feature Feature) bool {
	plan, err := c.GetActivePlan(ctx, userID)
	if err != nil {
		return false
	}
	return plan.Grants(feature)
}

func (c *EntitlementCache) CanAccessDashboard(ctx context.Context, userID uuid.UUID) bool {
	return c.CanAccessFeature(ctx, userID, FeatureDashboard)
}

// Invalidate drops the user's cached entry. Satisfies InvalidateFunc.
func (c *EntitlementCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return c.client.Del(ctx, entitlementKeyPrefix+userID.String()).Err()
}

func (c *EntitlementCache) set(ctx context.Context, key, value string) {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.log.WarnContext(ctx, "entitlement cache write failed", "key", key, "error", err)
	}
}
