package config

import (
	"fmt"
	"os"
	"sort"

	"invite-service/internal/domain"

	"gopkg.in/yaml.v3"
)

type pricingFile struct {
	Tiers []domain.PricingTier `yaml:"tiers"`
}

// LoadPricing returns the tiers from PRICING_FILE when set, otherwise the
// three PRICE_*_DAY tiers. Result is sorted by duration.
func LoadPricing(c PricingConfig) ([]domain.PricingTier, error) {
	if c.File == "" {
		return []domain.PricingTier{
			{DurationDays: 1, Label: "1 Hari", Amount: c.OneDay},
			{DurationDays: 7, Label: "7 Hari", Amount: c.SevenDay},
			{DurationDays: 30, Label: "30 Hari", Amount: c.ThirtyDay},
		}, nil
	}

	raw, err := os.ReadFile(c.File)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}
	return ParsePricing(raw)
}

func ParsePricing(raw []byte) ([]domain.PricingTier, error) {
	var f pricingFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse pricing file: %w", err)
	}
	seen := make(map[int]bool, len(f.Tiers))
	for i := range f.Tiers {
		t := &f.Tiers[i]
		if t.DurationDays <= 0 || t.Amount <= 0 {
			return nil, fmt.Errorf("pricing tier %q: duration and amount must be positive", t.Label)
		}
		if seen[t.DurationDays] {
			return nil, fmt.Errorf("pricing tier for %d days defined twice", t.DurationDays)
		}
		seen[t.DurationDays] = true
		if t.Label == "" {
			t.Label = fmt.Sprintf("%d Hari", t.DurationDays)
		}
	}
	sort.Slice(f.Tiers, func(i, j int) bool { return f.Tiers[i].DurationDays < f.Tiers[j].DurationDays })
	return f.Tiers, nil
}
