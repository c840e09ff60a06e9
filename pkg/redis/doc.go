// Package redis wraps go-redis with retrying connection setup and a health
// probe. The billing module uses it for the short-TTL entitlement cache.
package redis
