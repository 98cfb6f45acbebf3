package allocator

import (
	"fmt"
	"math"

	"TreasurySentinel/internal/calculator"
	"TreasurySentinel/internal/model"
)

// CanonicalStable is the token every swap targets.
const CanonicalStable = "USDC"

// ValidatePolicy rejects policy fractions outside [0,1].
func ValidatePolicy(p model.AllocationPolicy) error {
	fields := []struct {
		name string
		v    float64
	}{
		{"target stables ratio", p.TargetStablesRatio},
		{"tolerance", p.Tolerance},
		{"max move per cycle", p.MaxMovePctPerCycle},
		{"asset cap", p.AssetCapPct},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || f.v < 0 || f.v > 1 {
			return fmt.Errorf("%w: policy %s %v not in [0,1]", calculator.ErrInvalidInput, f.name, f.v)
		}
	}
	return nil
}

// SuggestRebalancing proposes at most one bounded swap from the largest volatile
// holding into the canonical stable when the stables ratio is under target.
func SuggestRebalancing(balances []model.TokenBalance, prices model.PriceTable, currentStablesRatio, tvl float64, policy model.AllocationPolicy) ([]model.AllocationAction, error) {
	if err := ValidatePolicy(policy); err != nil {
		return nil, err
	}
	if err := calculator.ValidateBalances(balances); err != nil {
		return nil, err
	}
	if err := calculator.ValidatePrices(prices); err != nil {
		return nil, err
	}
	if math.IsNaN(tvl) || math.IsInf(tvl, 0) || tvl < 0 {
		return nil, fmt.Errorf("%w: tvl %v", calculator.ErrInvalidInput, tvl)
	}
	if math.IsNaN(currentStablesRatio) || currentStablesRatio < 0 || currentStablesRatio > 1 {
		return nil, fmt.Errorf("%w: stables ratio %v not in [0,1]", calculator.ErrInvalidInput, currentStablesRatio)
	}

	actions := []model.AllocationAction{}
	if currentStablesRatio >= policy.TargetStablesRatio-policy.Tolerance {
		return actions, nil
	}

	source, sourceValue, found := largestVolatile(balances, prices)
	if !found {
		return actions, nil
	}

	amount := (policy.TargetStablesRatio - currentStablesRatio) * tvl
	amount = math.Min(amount, tvl*policy.MaxMovePctPerCycle)
	amount = math.Min(amount, sourceValue)
	if amount <= 0 {
		return actions, nil
	}

	projected := currentStablesRatio
	if tvl > 0 {
		projected = math.Min(1, currentStablesRatio+amount/tvl)
	}
	actions = append(actions, model.AllocationAction{
		Type:      model.ActionSwap,
		FromToken: source.Token,
		ToToken:   CanonicalStable,
		AmountUSD: amount,
		Reason: fmt.Sprintf("Increase stables ratio from %.1f%% toward %.1f%% target (%.1f%% after this move)",
			currentStablesRatio*100, policy.TargetStablesRatio*100, projected*100),
	})
	return actions, nil
}

// largestVolatile returns the non-stable balance with the highest USD value.
// Ties keep the first balance encountered.
func largestVolatile(balances []model.TokenBalance, prices model.PriceTable) (model.TokenBalance, float64, bool) {
	var (
		best      model.TokenBalance
		bestValue float64
		found     bool
	)
	for _, b := range balances {
		if calculator.IsStablecoin(b.Token) {
			continue
		}
		v := calculator.TokenValue(b, prices)
		if !found || v > bestValue {
			best, bestValue, found = b, v, true
		}
	}
	return best, bestValue, found
}

// Summarize builds the response summary for a set of actions.
func Summarize(actions []model.AllocationAction, currentStablesRatio, tvl float64, policy model.AllocationPolicy) model.RebalanceSummary {
	moved := 0.0
	for _, a := range actions {
		moved += a.AmountUSD
	}
	projected := currentStablesRatio
	if tvl > 0 {
		projected = math.Min(1, currentStablesRatio+moved/tvl)
	}
	return model.RebalanceSummary{
		CurrentStablesRatio:   currentStablesRatio,
		TargetStablesRatio:    policy.TargetStablesRatio,
		ProjectedStablesRatio: projected,
		TotalMovedUSD:         moved,
	}
}
