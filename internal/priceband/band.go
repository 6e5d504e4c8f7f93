// Package priceband computes the allowed [low, high] price band around a
// reference price and classifies limit orders as in-band or quarantined.
// Percentages are expressed on a 0..100 scale, matching
// xchg.PriceTier.Percent and xchg.PriceLimitPolicy.FlatPercent.
package priceband

import (
	"math"

	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

// Band is the inclusive [Low, High] interval a trade price or active limit
// order must lie in.
type Band struct {
	Low  int64
	High int64
}

// InBand reports whether price lies in [b.Low, b.High].
func (b Band) InBand(price int64) bool {
	return price >= b.Low && price <= b.High
}

// Compute derives the price band from a reference price and policy.
//
// Flat: Low = floor(ref*(1-p)), High = ceil(ref*(1+p)) — rounded outward so
// the inclusive endpoints never exclude a price the percentage nominally
// allows.
//
// Tiered: the tier whose range contains ref supplies its percent. If no
// tier matches, the policy's DefaultPercent is used as a flat fallback.
func Compute(policy xchg.PriceLimitPolicy, ref int64) Band {
	percent := resolvePercent(policy, ref)
	return flatBand(ref, percent)
}

func resolvePercent(policy xchg.PriceLimitPolicy, ref int64) float64 {
	if policy.Flat {
		return policy.FlatPercent
	}
	for _, t := range policy.Tiers {
		if t.Contains(ref) {
			return t.Percent
		}
	}
	return policy.DefaultPercent
}

func flatBand(ref int64, percent float64) Band {
	// ceil(ref*p) on int64 basis points: float products such as 100*1.1
	// (110.00000000000001) would otherwise push High a whole unit out.
	bps := int64(math.Round(percent * 100))
	delta := (ref*bps + 9999) / 10000
	return Band{Low: ref - delta, High: ref + delta}
}

func floorFloat(f float64) int64 {
	i := int64(f)
	if float64(i) > f {
		i--
	}
	return i
}

func ceilFloat(f float64) int64 {
	i := int64(f)
	if float64(i) < f {
		i++
	}
	return i
}
