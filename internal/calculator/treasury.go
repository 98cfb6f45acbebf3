package calculator

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"TreasurySentinel/internal/model"
)

// ErrInvalidInput marks malformed balances, prices, thresholds or policies.
var ErrInvalidInput = errors.New("invalid input")

// VolatilityHaircut is applied to the non-stable share of TVL when computing runway.
const VolatilityHaircut = 0.3

var stablecoins = map[string]struct{}{
	"USDC":  {},
	"USDT":  {},
	"DAI":   {},
	"USDM":  {},
	"FRAX":  {},
	"DFUND": {},
}

// IsStablecoin reports whether symbol belongs to the fixed stablecoin set.
func IsStablecoin(symbol string) bool {
	_, ok := stablecoins[strings.ToUpper(symbol)]
	return ok
}

// TokenValue returns the USD value of a balance; an unresolved price counts as 0.
func TokenValue(b model.TokenBalance, prices model.PriceTable) float64 {
	price, _ := prices.Lookup(b)
	return b.Normalized * price
}

// CalculateTVL sums the USD value of all balances.
func CalculateTVL(balances []model.TokenBalance, prices model.PriceTable) float64 {
	total := 0.0
	for _, b := range balances {
		total += TokenValue(b, prices)
	}
	return total
}

// CalculateStablesRatio returns the stablecoin share of TVL in [0,1], 0 when TVL is 0.
// A stablecoin without a price is assumed to hold its peg.
func CalculateStablesRatio(balances []model.TokenBalance, prices model.PriceTable) float64 {
	tvl := CalculateTVL(balances, prices)
	if tvl <= 0 {
		return 0
	}
	stable := 0.0
	for _, b := range balances {
		if !IsStablecoin(b.Token) {
			continue
		}
		price, ok := prices.Lookup(b)
		if !ok {
			price = 1
		}
		stable += b.Normalized * price
	}
	return clamp01(stable / tvl)
}

// CalculateConcentrationRisk returns the share of TVL held in the single largest asset.
func CalculateConcentrationRisk(balances []model.TokenBalance, prices model.PriceTable) float64 {
	tvl := CalculateTVL(balances, prices)
	if tvl <= 0 {
		return 0
	}
	maxValue := 0.0
	for _, b := range balances {
		if v := TokenValue(b, prices); v > maxValue {
			maxValue = v
		}
	}
	return clamp01(maxValue / tvl)
}

// CalculateRunway returns months of burn covered after the volatility haircut.
// Returns +Inf when monthlyBurn is 0.
func CalculateRunway(tvl, monthlyBurn, stablesRatio float64) float64 {
	if monthlyBurn <= 0 {
		return math.Inf(1)
	}
	adjusted := tvl * (1 - (1-stablesRatio)*VolatilityHaircut)
	return adjusted / monthlyBurn
}

// ValidateBalances rejects balances that cannot be valued.
func ValidateBalances(balances []model.TokenBalance) error {
	for i, b := range balances {
		if strings.TrimSpace(b.Token) == "" {
			return fmt.Errorf("%w: balance %d has no token symbol", ErrInvalidInput, i)
		}
		if !finite(b.Normalized) || b.Normalized < 0 {
			return fmt.Errorf("%w: balance %s has normalized amount %v", ErrInvalidInput, b.Token, b.Normalized)
		}
		if b.Decimals < 0 {
			return fmt.Errorf("%w: balance %s has negative decimals", ErrInvalidInput, b.Token)
		}
	}
	return nil
}

// ValidatePrices rejects negative or non-finite prices.
func ValidatePrices(prices model.PriceTable) error {
	for id, p := range prices {
		if !finite(p) || p < 0 {
			return fmt.Errorf("%w: price %q is %v", ErrInvalidInput, id, p)
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
