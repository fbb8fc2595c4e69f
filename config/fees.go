package config

import (
	"fmt"

	"settlement-engine/internal/core/domain"

	"github.com/shopspring/decimal"
)

// Schedule parses the fee tier table and the sweep threshold.
func (f FeeConfig) Schedule() (*domain.FeeSchedule, decimal.Decimal, error) {
	tiers := make([]domain.FeeTier, 0, len(f.Tiers))
	for i, t := range f.Tiers {
		fee, err := decimal.NewFromString(t.Fee)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("fees.tiers[%d].fee: %w", i, err)
		}
		tier := domain.FeeTier{Fee: fee}
		if t.UpTo != "" {
			upTo, err := decimal.NewFromString(t.UpTo)
			if err != nil {
				return nil, decimal.Zero, fmt.Errorf("fees.tiers[%d].up_to: %w", i, err)
			}
			tier.UpTo = &upTo
		}
		tiers = append(tiers, tier)
	}

	schedule, err := domain.NewFeeSchedule(tiers)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("fees.tiers: %w", err)
	}

	threshold := decimal.Zero
	if f.SweepThreshold != "" {
		threshold, err = decimal.NewFromString(f.SweepThreshold)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("fees.sweep_threshold: %w", err)
		}
	}
	return schedule, threshold, nil
}
