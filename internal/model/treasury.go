package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// TokenBalance is an immutable per-cycle snapshot of one treasury holding.
type TokenBalance struct {
	Token      string  `json:"token" yaml:"token"`
	Address    string  `json:"address" yaml:"address"`
	RawBalance string  `json:"rawBalance" yaml:"raw_balance"` // integer in base units
	Decimals   int     `json:"decimals" yaml:"decimals"`
	Normalized float64 `json:"normalized" yaml:"normalized"` // RawBalance / 10^Decimals
	PriceID    string  `json:"priceId,omitempty" yaml:"price_id"`
}

// PriceKey returns the PriceTable key for this balance.
func (b TokenBalance) PriceKey() string {
	if b.PriceID != "" {
		return b.PriceID
	}
	return strings.ToLower(b.Token)
}

// PriceTable maps a price-feed id (lower-cased symbol or coingecko id) to a USD price.
type PriceTable map[string]float64

// Lookup returns the USD price for a balance and whether it was present.
func (p PriceTable) Lookup(b TokenBalance) (float64, bool) {
	price, ok := p[b.PriceKey()]
	return price, ok
}

// Thresholds is the risk policy for one analysis cycle.
type Thresholds struct {
	MinStablesRatio  float64 `json:"minStablesRatio" yaml:"min_stables_ratio"`
	MaxConcentration float64 `json:"maxConcentration" yaml:"max_concentration"`
	MinRunway        float64 `json:"minRunway" yaml:"min_runway"` // months
}

// Months is a runway duration that may be infinite. Infinity travels as JSON null.
type Months float64

// Unlimited is the runway of a treasury with no burn.
var Unlimited = Months(math.Inf(1))

func (m Months) IsUnlimited() bool { return math.IsInf(float64(m), 1) }

func (m Months) MarshalJSON() ([]byte, error) {
	f := float64(m)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

func (m *Months) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = Unlimited
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*m = Months(f)
	return nil
}

// TreasuryMetrics is recomputed every cycle and never stored as source of truth.
type TreasuryMetrics struct {
	TVL               float64 `json:"tvl"`
	StablesRatio      float64 `json:"stablesRatio"`
	ConcentrationRisk float64 `json:"concentrationRisk"`
	Runway            Months  `json:"runway"`
	RiskScore         float64 `json:"riskScore"`
}
