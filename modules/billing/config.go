package billing

import "time"

// Config carries the billing module's environment configuration.
type Config struct {
	// Gateway credentials. The gateway echoes SHA-256 digests of both on
	// every notification; the secret additionally keys the optional HMAC
	// signature.
	GatewayAPIKey    string `env:"PAYTECH_API_KEY,required"`
	GatewayAPISecret string `env:"PAYTECH_API_SECRET,required"`

	// PlansPath points at the YAML plan definitions seeded into the
	// catalog at startup.
	PlansPath string `env:"BILLING_PLANS_PATH" envDefault:"plans.yaml"`

	SweepInterval       time.Duration `env:"BILLING_SWEEP_INTERVAL" envDefault:"1h"`
	EntitlementCacheTTL time.Duration `env:"BILLING_ENTITLEMENT_CACHE_TTL" envDefault:"30s"`
	NotifyTimeout       time.Duration `env:"BILLING_NOTIFY_TIMEOUT" envDefault:"5s"`
}
