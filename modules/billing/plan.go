package billing

// PlanType identifies a subscription tier.
type PlanType string

// Feature is a capability granted by a plan.
type Feature string

const (
	FeatureDashboard      Feature = "dashboard"
	FeatureVideoUploads   Feature = "video_uploads"
	FeatureScoutContact   Feature = "scout_contact"
	FeatureAdvancedStats  Feature = "advanced_stats"
	FeatureHighlightReels Feature = "highlight_reels"
	FeatureVerifiedBadge  Feature = "verified_badge"
)

// Money is a monetary amount in the smallest currency unit.
// 2500 XOF is Money{Amount: 2500, Currency: "XOF"}.
type Money struct {
	Amount   int64  `yaml:"amount" json:"amount"`
	Currency string `yaml:"currency" json:"currency"`
}

// Plan describes a subscription tier. DurationDays of 0 means the
// subscription never expires.
type Plan struct {
	Type         PlanType         `yaml:"type" json:"type"`
	Name         string           `yaml:"name" json:"name"`
	Price        Money            `yaml:"price" json:"price"`
	DurationDays int              `yaml:"duration_days" json:"duration_days"`
	Entitlements map[Feature]bool `yaml:"entitlements" json:"entitlements"`
	Active       bool             `yaml:"active" json:"active"`
}

// Grants reports whether the plan entitles the given feature.
func (p *Plan) Grants(f Feature) bool {
	return p.Entitlements[f]
}

// Validate checks internal consistency of a plan definition.
func (p *Plan) Validate() error {
	if p.Type == "" {
		return ErrInvalidPlanConfig
	}
	if p.DurationDays < 0 {
		return ErrInvalidPlanConfig
	}
	if p.Price.Amount < 0 {
		return ErrInvalidPlanConfig
	}
	return nil
}
