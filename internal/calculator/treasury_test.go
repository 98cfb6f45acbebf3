package calculator

import (
	"math"
	"testing"

	"TreasurySentinel/internal/model"

	"github.com/stretchr/testify/assert"
)

func bal(token string, amount float64) model.TokenBalance {
	return model.TokenBalance{Token: token, Normalized: amount}
}

func TestCalculateTVL(t *testing.T) {
	balances := []model.TokenBalance{bal("DFUND", 500), bal("DGOV", 500), bal("WETH", 2)}
	prices := model.PriceTable{"dfund": 1, "dgov": 1}

	// WETH has no price and is excluded
	assert.InDelta(t, 1000, CalculateTVL(balances, prices), 1e-9)
	assert.Equal(t, 0.0, CalculateTVL(nil, prices))
}

func TestCalculateTVL_UsesPriceID(t *testing.T) {
	balances := []model.TokenBalance{{Token: "WETH", PriceID: "weth", Normalized: 2}}
	assert.InDelta(t, 6000, CalculateTVL(balances, model.PriceTable{"weth": 3000}), 1e-9)
}

func TestRatios_ZeroTVL(t *testing.T) {
	tests := []struct {
		name     string
		balances []model.TokenBalance
		prices   model.PriceTable
	}{
		{"empty", nil, model.PriceTable{}},
		{"no prices", []model.TokenBalance{bal("DGOV", 10)}, model.PriceTable{}},
		{"zero amounts", []model.TokenBalance{bal("USDC", 0), bal("DGOV", 0)}, model.PriceTable{"usdc": 1, "dgov": 2}},
		{"unpriced stable only", []model.TokenBalance{bal("USDC", 100)}, model.PriceTable{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 0.0, CalculateStablesRatio(tt.balances, tt.prices))
			assert.Equal(t, 0.0, CalculateConcentrationRisk(tt.balances, tt.prices))
		})
	}
}

func TestRatios_StayInUnitInterval(t *testing.T) {
	// the peg default for an unpriced stable must not push the ratio past 1
	balances := []model.TokenBalance{bal("USDC", 1000), bal("DGOV", 10)}
	prices := model.PriceTable{"dgov": 1}
	assert.Equal(t, 1.0, CalculateStablesRatio(balances, prices))

	cases := [][]model.TokenBalance{
		{bal("DFUND", 10), bal("DGOV", 500)},
		{bal("USDC", 3), bal("USDT", 7), bal("DAI", 1)},
		{bal("WETH", 1), bal("DGOV", 1e9)},
	}
	all := model.PriceTable{"dfund": 1, "dgov": 0.5, "usdc": 1, "usdt": 0.99, "dai": 1.01, "weth": 3100}
	for _, bs := range cases {
		s := CalculateStablesRatio(bs, all)
		c := CalculateConcentrationRisk(bs, all)
		assert.True(t, s >= 0 && s <= 1, "stables ratio %v", s)
		assert.True(t, c >= 0 && c <= 1, "concentration %v", c)
	}
}

func TestCalculateStablesRatio_BreachScenario(t *testing.T) {
	balances := []model.TokenBalance{bal("DFUND", 10), bal("DGOV", 500)}
	prices := model.PriceTable{"dfund": 1, "dgov": 1}
	assert.InDelta(t, 0.0196, CalculateStablesRatio(balances, prices), 1e-4)
	assert.InDelta(t, 500.0/510.0, CalculateConcentrationRisk(balances, prices), 1e-9)
}

func TestCalculateRunway(t *testing.T) {
	assert.True(t, math.IsInf(CalculateRunway(1000, 0, 0.5), 1))
	// 1000 * (1 - 0.5*0.3) / 100 = 8.5
	assert.InDelta(t, 8.5, CalculateRunway(1000, 100, 0.5), 1e-9)
	// all stables: no haircut
	assert.InDelta(t, 10, CalculateRunway(1000, 100, 1), 1e-9)
	assert.Equal(t, 0.0, CalculateRunway(0, 100, 0))
}

func TestIsStablecoin(t *testing.T) {
	for _, s := range []string{"USDC", "usdt", "DAI", "USDM", "FRAX", "DFUND"} {
		assert.True(t, IsStablecoin(s), s)
	}
	for _, s := range []string{"DGOV", "WETH", "ETH", ""} {
		assert.False(t, IsStablecoin(s), s)
	}
}

func TestValidateBalances(t *testing.T) {
	assert.NoError(t, ValidateBalances(nil))
	assert.NoError(t, ValidateBalances([]model.TokenBalance{bal("USDC", 0)}))
	assert.ErrorIs(t, ValidateBalances([]model.TokenBalance{bal("", 1)}), ErrInvalidInput)
	assert.ErrorIs(t, ValidateBalances([]model.TokenBalance{bal("USDC", -1)}), ErrInvalidInput)
	assert.ErrorIs(t, ValidateBalances([]model.TokenBalance{bal("USDC", math.NaN())}), ErrInvalidInput)
	assert.ErrorIs(t, ValidateBalances([]model.TokenBalance{{Token: "X", Decimals: -1}}), ErrInvalidInput)
}

func TestValidatePrices(t *testing.T) {
	assert.NoError(t, ValidatePrices(model.PriceTable{"usdc": 1, "dgov": 0}))
	assert.ErrorIs(t, ValidatePrices(model.PriceTable{"dgov": -1}), ErrInvalidInput)
	assert.ErrorIs(t, ValidatePrices(model.PriceTable{"dgov": math.Inf(1)}), ErrInvalidInput)
}
