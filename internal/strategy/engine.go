package strategy

import (
	"fmt"
	"math"

	"TreasurySentinel/internal/calculator"
	"TreasurySentinel/internal/model"
)

// ComputeRiskScore returns the weighted composite risk score in [0,1].
func ComputeRiskScore(stablesRatio, concentrationRisk, runway float64, th model.Thresholds) float64 {
	score, _ := riskFactors(stablesRatio, concentrationRisk, runway, th)
	return score
}

func riskFactors(stablesRatio, concentrationRisk, runway float64, th model.Thresholds) (float64, []model.FactorScore) {
	factors := []model.FactorScore{
		scoreStablesShortfall(stablesRatio, th),
		scoreConcentrationExcess(concentrationRisk, th),
		scoreRunwayShortfall(runway, th),
	}
	total := 0.0
	for _, f := range factors {
		total += f.Weighted
	}
	return clamp01(total), factors
}

// IsBreached reports whether any metric crosses its threshold.
func IsBreached(m model.TreasuryMetrics, th model.Thresholds) bool {
	return m.StablesRatio < th.MinStablesRatio ||
		m.ConcentrationRisk > th.MaxConcentration ||
		float64(m.Runway) < th.MinRunway
}

// ValidateThresholds rejects thresholds outside their meaningful ranges.
func ValidateThresholds(th model.Thresholds) error {
	if !inUnit(th.MinStablesRatio) {
		return fmt.Errorf("%w: min stables ratio %v not in [0,1]", calculator.ErrInvalidInput, th.MinStablesRatio)
	}
	if !inUnit(th.MaxConcentration) {
		return fmt.Errorf("%w: max concentration %v not in [0,1]", calculator.ErrInvalidInput, th.MaxConcentration)
	}
	if math.IsNaN(th.MinRunway) || math.IsInf(th.MinRunway, 0) || th.MinRunway < 0 {
		return fmt.Errorf("%w: min runway %v must be a non-negative number of months", calculator.ErrInvalidInput, th.MinRunway)
	}
	return nil
}

// Analyze validates its inputs and computes the full risk assessment.
func Analyze(balances []model.TokenBalance, prices model.PriceTable, monthlyBurn float64, th model.Thresholds) (*model.RiskAssessment, error) {
	if err := calculator.ValidateBalances(balances); err != nil {
		return nil, err
	}
	if err := calculator.ValidatePrices(prices); err != nil {
		return nil, err
	}
	if math.IsNaN(monthlyBurn) || math.IsInf(monthlyBurn, 0) || monthlyBurn < 0 {
		return nil, fmt.Errorf("%w: monthly burn %v", calculator.ErrInvalidInput, monthlyBurn)
	}
	if err := ValidateThresholds(th); err != nil {
		return nil, err
	}

	tvl := calculator.CalculateTVL(balances, prices)
	stables := calculator.CalculateStablesRatio(balances, prices)
	concentration := calculator.CalculateConcentrationRisk(balances, prices)
	runway := calculator.CalculateRunway(tvl, monthlyBurn, stables)
	score, factors := riskFactors(stables, concentration, runway, th)

	metrics := model.TreasuryMetrics{
		TVL:               tvl,
		StablesRatio:      stables,
		ConcentrationRisk: concentration,
		Runway:            model.Months(runway),
		RiskScore:         score,
	}
	return &model.RiskAssessment{
		Metrics:  metrics,
		Breached: IsBreached(metrics, th),
		Factors:  factors,
	}, nil
}

func inUnit(f float64) bool {
	return !math.IsNaN(f) && f >= 0 && f <= 1
}
