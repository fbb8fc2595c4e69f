package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// FeeTier charges Fee for amounts up to and including UpTo.
// A tier with a nil UpTo covers everything above the previous tier.
type FeeTier struct {
	UpTo *decimal.Decimal
	Fee  decimal.Decimal
}

// FeeSchedule is a monotonic step function of amount.
type FeeSchedule struct {
	tiers []FeeTier
}

// NewFeeSchedule validates tier ordering. Bounds must strictly increase,
// fees must not decrease, and only the last tier may be unbounded.
func NewFeeSchedule(tiers []FeeTier) (*FeeSchedule, error) {
	for i, t := range tiers {
		if t.Fee.IsNegative() {
			return nil, fmt.Errorf("fee tier %d: negative fee", i)
		}
		if t.UpTo == nil && i != len(tiers)-1 {
			return nil, fmt.Errorf("fee tier %d: only the last tier may be unbounded", i)
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if t.UpTo != nil && !t.UpTo.GreaterThan(*prev.UpTo) {
			return nil, fmt.Errorf("fee tier %d: bounds must increase", i)
		}
		if t.Fee.LessThan(prev.Fee) {
			return nil, errors.New("fee schedule must be monotonic")
		}
	}
	return &FeeSchedule{tiers: tiers}, nil
}

// Compute returns the fee for amount. Amounts above a fully bounded table
// pay the last tier's fee.
func (s *FeeSchedule) Compute(amount decimal.Decimal) decimal.Decimal {
	if s == nil || len(s.tiers) == 0 || amount.Sign() <= 0 {
		return decimal.Zero
	}
	for _, t := range s.tiers {
		if t.UpTo == nil || amount.LessThanOrEqual(*t.UpTo) {
			return t.Fee
		}
	}
	return s.tiers[len(s.tiers)-1].Fee
}
