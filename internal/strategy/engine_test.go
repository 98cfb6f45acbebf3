package strategy

import (
	"math"
	"testing"

	"TreasurySentinel/internal/calculator"
	"TreasurySentinel/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultThresholds = model.Thresholds{MinStablesRatio: 0.4, MaxConcentration: 0.6, MinRunway: 3}

func TestAnalyze_HealthyTreasury(t *testing.T) {
	balances := []model.TokenBalance{
		{Token: "DFUND", Normalized: 500},
		{Token: "DGOV", Normalized: 500},
	}
	prices := model.PriceTable{"dfund": 1, "dgov": 1}

	a, err := Analyze(balances, prices, 100, defaultThresholds)
	require.NoError(t, err)
	assert.InDelta(t, 1000, a.Metrics.TVL, 1e-9)
	assert.InDelta(t, 0.5, a.Metrics.StablesRatio, 1e-9)
	assert.InDelta(t, 0.5, a.Metrics.ConcentrationRisk, 1e-9)
	assert.InDelta(t, 8.5, float64(a.Metrics.Runway), 1e-9)
	assert.False(t, a.Breached)
	assert.Equal(t, 0.0, a.Metrics.RiskScore)
	assert.Len(t, a.Factors, 3)
}

func TestAnalyze_BreachedTreasury(t *testing.T) {
	balances := []model.TokenBalance{
		{Token: "DFUND", Normalized: 10},
		{Token: "DGOV", Normalized: 500},
	}
	prices := model.PriceTable{"dfund": 1, "dgov": 1}
	th := model.Thresholds{MinStablesRatio: 0.4, MaxConcentration: 0.35, MinRunway: 3}

	a, err := Analyze(balances, prices, 50000, th)
	require.NoError(t, err)
	assert.InDelta(t, 0.0196, a.Metrics.StablesRatio, 1e-4)
	assert.True(t, a.Breached)
	assert.Greater(t, a.Metrics.RiskScore, 0.5)
	assert.LessOrEqual(t, a.Metrics.RiskScore, 1.0)
}

func TestAnalyze_EmptyBalances(t *testing.T) {
	a, err := Analyze(nil, model.PriceTable{}, 0, defaultThresholds)
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.Metrics.TVL)
	assert.True(t, a.Metrics.Runway.IsUnlimited())
	// stables 0 < 0.4 still breaches; runway never does
	assert.True(t, a.Breached)
	assert.Equal(t, 0.0, a.Factors[2].RawScore)

	a, err = Analyze(nil, model.PriceTable{}, 0, model.Thresholds{MinStablesRatio: 0, MaxConcentration: 0.5, MinRunway: 3})
	require.NoError(t, err)
	assert.False(t, a.Breached)
}

func TestAnalyze_InvalidInput(t *testing.T) {
	ok := []model.TokenBalance{{Token: "USDC", Normalized: 1}}
	tests := []struct {
		name     string
		balances []model.TokenBalance
		prices   model.PriceTable
		burn     float64
		th       model.Thresholds
	}{
		{"negative balance", []model.TokenBalance{{Token: "USDC", Normalized: -5}}, nil, 0, defaultThresholds},
		{"negative price", ok, model.PriceTable{"usdc": -1}, 0, defaultThresholds},
		{"negative burn", ok, nil, -1, defaultThresholds},
		{"nan burn", ok, nil, math.NaN(), defaultThresholds},
		{"stables threshold above one", ok, nil, 0, model.Thresholds{MinStablesRatio: 1.5, MaxConcentration: 0.5}},
		{"negative concentration", ok, nil, 0, model.Thresholds{MaxConcentration: -0.1}},
		{"negative runway", ok, nil, 0, model.Thresholds{MinRunway: -3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Analyze(tt.balances, tt.prices, tt.burn, tt.th)
			assert.ErrorIs(t, err, calculator.ErrInvalidInput)
		})
	}
}

func TestComputeRiskScore_Weights(t *testing.T) {
	th := model.Thresholds{MinStablesRatio: 0.4, MaxConcentration: 0.5, MinRunway: 4}

	assert.InDelta(t, 0.0, ComputeRiskScore(0.5, 0.4, 10, th), 1e-9)
	// stables at zero: full shortfall * 0.4
	assert.InDelta(t, 0.4, ComputeRiskScore(0, 0.4, 10, th), 1e-9)
	// concentration 0.75: (0.75-0.5)/0.5 = 0.5 -> 0.15
	assert.InDelta(t, 0.15, ComputeRiskScore(0.5, 0.75, 10, th), 1e-9)
	// runway 2 of 4: 0.5 -> 0.15
	assert.InDelta(t, 0.15, ComputeRiskScore(0.5, 0.4, 2, th), 1e-9)
	// everything at worst
	assert.InDelta(t, 1.0, ComputeRiskScore(0, 1, 0, th), 1e-9)
	assert.InDelta(t, 0.0, ComputeRiskScore(0.5, 0.4, math.Inf(1), th), 1e-9)
}

func TestComputeRiskScore_DegenerateThresholds(t *testing.T) {
	th := model.Thresholds{MinStablesRatio: 0, MaxConcentration: 1, MinRunway: 0}
	assert.Equal(t, 0.0, ComputeRiskScore(0, 1, 0, th))
}

func TestComputeRiskScore_MonotoneInStablesShortfall(t *testing.T) {
	th := model.Thresholds{MinStablesRatio: 0.4, MaxConcentration: 0.35, MinRunway: 3}
	prev := -1.0
	for s := 0.4; s >= 0; s -= 0.01 {
		score := ComputeRiskScore(s, 0.5, 2, th)
		assert.GreaterOrEqual(t, score, prev, "stables=%.2f", s)
		assert.True(t, score >= 0 && score <= 1)
		prev = score
	}
}

func TestIsBreached(t *testing.T) {
	th := model.Thresholds{MinStablesRatio: 0.4, MaxConcentration: 0.6, MinRunway: 3}
	tests := []struct {
		name string
		m    model.TreasuryMetrics
		want bool
	}{
		{"healthy", model.TreasuryMetrics{StablesRatio: 0.5, ConcentrationRisk: 0.5, Runway: 10}, false},
		{"on thresholds", model.TreasuryMetrics{StablesRatio: 0.4, ConcentrationRisk: 0.6, Runway: 3}, false},
		{"low stables", model.TreasuryMetrics{StablesRatio: 0.39, ConcentrationRisk: 0.5, Runway: 10}, true},
		{"concentrated", model.TreasuryMetrics{StablesRatio: 0.5, ConcentrationRisk: 0.61, Runway: 10}, true},
		{"short runway", model.TreasuryMetrics{StablesRatio: 0.5, ConcentrationRisk: 0.5, Runway: 2.9}, true},
		{"unlimited runway", model.TreasuryMetrics{StablesRatio: 0.5, ConcentrationRisk: 0.5, Runway: model.Unlimited}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsBreached(tt.m, th), tt.name)
	}
}
