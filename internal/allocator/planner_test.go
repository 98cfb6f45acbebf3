package allocator

import (
	"testing"

	"TreasurySentinel/internal/calculator"
	"TreasurySentinel/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var policy = model.AllocationPolicy{
	TargetStablesRatio: 0.65,
	Tolerance:          0.05,
	MaxMovePctPerCycle: 0.2,
	AssetCapPct:        0.35,
}

func TestSuggestRebalancing_BreachScenario(t *testing.T) {
	balances := []model.TokenBalance{
		{Token: "DFUND", Normalized: 10},
		{Token: "DGOV", Normalized: 500},
	}
	prices := model.PriceTable{"dfund": 1, "dgov": 1}

	actions, err := SuggestRebalancing(balances, prices, 10.0/510.0, 510, policy)
	require.NoError(t, err)
	require.Len(t, actions, 1)

	a := actions[0]
	assert.Equal(t, model.ActionSwap, a.Type)
	assert.Equal(t, "DGOV", a.FromToken)
	assert.Equal(t, CanonicalStable, a.ToToken)
	// capped at 20% of TVL
	assert.InDelta(t, 102, a.AmountUSD, 1e-9)
	assert.Contains(t, a.Reason, "from 2.0%")
	assert.Contains(t, a.Reason, "65.0%")
}

func TestSuggestRebalancing_UncappedMove(t *testing.T) {
	balances := []model.TokenBalance{
		{Token: "USDC", Normalized: 550},
		{Token: "WETH", Normalized: 450},
	}
	prices := model.PriceTable{"usdc": 1, "weth": 1}

	actions, err := SuggestRebalancing(balances, prices, 0.55, 1000, model.AllocationPolicy{
		TargetStablesRatio: 0.65, Tolerance: 0.05, MaxMovePctPerCycle: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.InDelta(t, 100, actions[0].AmountUSD, 1e-9)
}

func TestSuggestRebalancing_NoOpAtOrAboveTarget(t *testing.T) {
	balances := []model.TokenBalance{{Token: "DGOV", Normalized: 500}}
	prices := model.PriceTable{"dgov": 1}

	for _, ratio := range []float64{0.6, 0.61, 0.65, 0.9, 1} {
		actions, err := SuggestRebalancing(balances, prices, ratio, 500, policy)
		require.NoError(t, err)
		assert.Empty(t, actions, "ratio %.2f", ratio)
	}
}

func TestSuggestRebalancing_NoVolatileSource(t *testing.T) {
	balances := []model.TokenBalance{{Token: "USDC", Normalized: 10}, {Token: "DAI", Normalized: 10}}
	actions, err := SuggestRebalancing(balances, model.PriceTable{"usdc": 1, "dai": 1}, 0.1, 20, policy)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestSuggestRebalancing_LargestVolatileFirstWinsTies(t *testing.T) {
	balances := []model.TokenBalance{
		{Token: "USDC", Normalized: 1000},
		{Token: "AAA", Normalized: 100},
		{Token: "BBB", Normalized: 300},
		{Token: "CCC", Normalized: 300},
	}
	prices := model.PriceTable{"usdc": 1, "aaa": 1, "bbb": 1, "ccc": 1}

	actions, err := SuggestRebalancing(balances, prices, 0.1, 1700, policy)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "BBB", actions[0].FromToken)
}

func TestSuggestRebalancing_CappedBySourceValue(t *testing.T) {
	balances := []model.TokenBalance{{Token: "DGOV", Normalized: 5}, {Token: "DFUND", Normalized: 0}}
	prices := model.PriceTable{"dgov": 1}

	actions, err := SuggestRebalancing(balances, prices, 0, 100, policy)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.InDelta(t, 5, actions[0].AmountUSD, 1e-9)
}

func TestSuggestRebalancing_InvalidInput(t *testing.T) {
	balances := []model.TokenBalance{{Token: "DGOV", Normalized: 5}}
	prices := model.PriceTable{"dgov": 1}

	_, err := SuggestRebalancing(balances, prices, 0.1, 5, model.AllocationPolicy{TargetStablesRatio: 1.2})
	assert.ErrorIs(t, err, calculator.ErrInvalidInput)
	_, err = SuggestRebalancing(balances, prices, 1.5, 5, policy)
	assert.ErrorIs(t, err, calculator.ErrInvalidInput)
	_, err = SuggestRebalancing(balances, prices, 0.1, -5, policy)
	assert.ErrorIs(t, err, calculator.ErrInvalidInput)
	_, err = SuggestRebalancing([]model.TokenBalance{{Normalized: 1}}, prices, 0.1, 5, policy)
	assert.ErrorIs(t, err, calculator.ErrInvalidInput)
}

func TestSummarize(t *testing.T) {
	actions := []model.AllocationAction{{AmountUSD: 102}}
	s := Summarize(actions, 0.02, 510, policy)
	assert.InDelta(t, 102, s.TotalMovedUSD, 1e-9)
	assert.InDelta(t, 0.22, s.ProjectedStablesRatio, 1e-9)
	assert.Equal(t, 0.65, s.TargetStablesRatio)

	empty := Summarize(nil, 0.5, 0, policy)
	assert.Equal(t, 0.0, empty.TotalMovedUSD)
	assert.Equal(t, 0.5, empty.ProjectedStablesRatio)
}
