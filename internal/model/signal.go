package model

// FactorScore is one weighted component of the composite risk score.
type FactorScore struct {
	Name       string  `json:"name"`
	RawScore   float64 `json:"rawScore"`
	Weight     float64 `json:"weight"`
	Weighted   float64 `json:"weighted"`
	Commentary string  `json:"commentary,omitempty"`
}

// RiskAssessment is the outcome of one risk analysis.
type RiskAssessment struct {
	Metrics  TreasuryMetrics `json:"metrics"`
	Breached bool            `json:"breached"`
	Factors  []FactorScore   `json:"factors"`
}

// AllocationPolicy bounds what the planner may propose in one cycle.
type AllocationPolicy struct {
	TargetStablesRatio float64 `json:"targetStablesRatio" yaml:"target_stables_ratio"`
	Tolerance          float64 `json:"tolerance" yaml:"tolerance"`
	MaxMovePctPerCycle float64 `json:"maxMovePctPerCycle" yaml:"max_move_pct_per_cycle"`
	AssetCapPct        float64 `json:"assetCapPct" yaml:"asset_cap_pct"` // reserved
}

// ActionSwap is the only action type the planner emits.
const ActionSwap = "swap"

// AllocationAction is a single rebalancing recommendation.
type AllocationAction struct {
	Type      string  `json:"type"`
	FromToken string  `json:"fromToken"`
	ToToken   string  `json:"toToken"`
	AmountUSD float64 `json:"amountUSD"`
	Reason    string  `json:"reason"`
}
