package strategy

import (
	"fmt"
	"math"

	"TreasurySentinel/internal/model"
)

// Weights of the composite risk score.
const (
	StablesWeight       = 0.4
	ConcentrationWeight = 0.3
	RunwayWeight        = 0.3
)

// Factor names as they appear in RiskAssessment.Factors.
const (
	FactorStables       = "stables_shortfall"
	FactorConcentration = "concentration_excess"
	FactorRunway        = "runway_shortfall"
)

func newFactor(name string, raw, weight float64, commentary string) model.FactorScore {
	return model.FactorScore{
		Name:       name,
		RawScore:   raw,
		Weight:     weight,
		Weighted:   raw * weight,
		Commentary: commentary,
	}
}

// scoreStablesShortfall: max(0, 1 - ratio/min).
func scoreStablesShortfall(stablesRatio float64, th model.Thresholds) model.FactorScore {
	raw := 0.0
	if th.MinStablesRatio > 0 && stablesRatio < th.MinStablesRatio {
		raw = 1 - stablesRatio/th.MinStablesRatio
	}
	return newFactor(FactorStables, clamp01(raw), StablesWeight,
		fmt.Sprintf("%.1f%% vs min %.1f%%", stablesRatio*100, th.MinStablesRatio*100))
}

// scoreConcentrationExcess: max(0, (c - max) / (1 - max)).
func scoreConcentrationExcess(concentration float64, th model.Thresholds) model.FactorScore {
	raw := 0.0
	if th.MaxConcentration < 1 && concentration > th.MaxConcentration {
		raw = (concentration - th.MaxConcentration) / (1 - th.MaxConcentration)
	}
	return newFactor(FactorConcentration, clamp01(raw), ConcentrationWeight,
		fmt.Sprintf("%.1f%% vs max %.1f%%", concentration*100, th.MaxConcentration*100))
}

// scoreRunwayShortfall: max(0, 1 - runway/min). Infinite runway never scores.
func scoreRunwayShortfall(runway float64, th model.Thresholds) model.FactorScore {
	raw := 0.0
	if th.MinRunway > 0 && runway < th.MinRunway {
		raw = 1 - runway/th.MinRunway
	}
	commentary := fmt.Sprintf("%.1f vs min %.1f months", runway, th.MinRunway)
	if math.IsInf(runway, 1) {
		commentary = fmt.Sprintf("unlimited vs min %.1f months", th.MinRunway)
	}
	return newFactor(FactorRunway, clamp01(raw), RunwayWeight, commentary)
}

func clamp01(f float64) float64 {
	if f < 0 || math.IsNaN(f) {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
