package priceband

import (
	"testing"

	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

func TestComputeFlat(t *testing.T) {
	t.Parallel()

	policy := xchg.PriceLimitPolicy{Flat: true, FlatPercent: 10}
	b := Compute(policy, 20)

	if b.Low != 18 || b.High != 22 {
		t.Fatalf("Compute(flat 10%%, ref=20) = [%d,%d], want [18,22]", b.Low, b.High)
	}
	if !b.InBand(18) || !b.InBand(22) {
		t.Error("band endpoints should be inclusive")
	}
	if b.InBand(17) || b.InBand(23) {
		t.Error("band should exclude prices outside the endpoints")
	}
}

func TestComputeTiered(t *testing.T) {
	t.Parallel()

	policy := xchg.PriceLimitPolicy{
		Tiers: []xchg.PriceTier{
			{MinPrice: 0, MaxPrice: 50, Percent: 10},
			{MinPrice: 50, MaxPrice: 0, Percent: 20},
		},
	}

	low := Compute(policy, 20)
	if low.Low != 18 || low.High != 22 {
		t.Errorf("tier[0] band = [%d,%d], want [18,22]", low.Low, low.High)
	}

	high := Compute(policy, 100)
	if high.Low != 80 || high.High != 120 {
		t.Errorf("tier[1] band = [%d,%d], want [80,120]", high.Low, high.High)
	}
}

func TestComputeTieredFallsBackToDefault(t *testing.T) {
	t.Parallel()

	policy := xchg.PriceLimitPolicy{
		Tiers: []xchg.PriceTier{
			{MinPrice: 100, MaxPrice: 200, Percent: 10},
		},
		DefaultPercent: 50,
	}

	// ref=20 matches no tier; falls back to the 50% default.
	b := Compute(policy, 20)
	if b.Low != 10 || b.High != 30 {
		t.Errorf("fallback band = [%d,%d], want [10,30]", b.Low, b.High)
	}
}

func TestComputeOutwardRoundingOnFractionalBand(t *testing.T) {
	t.Parallel()

	// ref=21 * 10% = 2.1 -> low floors to 18 (21-2.1=18.9 -> 18), high
	// ceils to 24 (21+2.1=23.1 -> 24). Outward rounding widens, never
	// narrows, the nominal band.
	policy := xchg.PriceLimitPolicy{Flat: true, FlatPercent: 10}
	b := Compute(policy, 21)
	if b.Low != 18 {
		t.Errorf("Low = %d, want 18 (floor of 18.9)", b.Low)
	}
	if b.High != 24 {
		t.Errorf("High = %d, want 24 (ceil of 23.1)", b.High)
	}
}
