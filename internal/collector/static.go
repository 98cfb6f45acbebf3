package collector

import (
	"context"
	"fmt"

	"TreasurySentinel/internal/calculator"
	"TreasurySentinel/internal/model"

	"github.com/shopspring/decimal"
)

// NormalizeBalance converts an integer amount in base units to token units.
func NormalizeBalance(raw string, decimals int) (float64, error) {
	if decimals < 0 {
		return 0, fmt.Errorf("%w: negative decimals %d", calculator.ErrInvalidInput, decimals)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: raw balance %q: %v", calculator.ErrInvalidInput, raw, err)
	}
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("%w: raw balance %q is not a non-negative integer", calculator.ErrInvalidInput, raw)
	}
	f, _ := d.Shift(-int32(decimals)).Float64()
	return f, nil
}

// StaticBalances serves holdings declared in configuration. Entries with a
// raw balance are normalized on every fetch; the rest use Normalized as given.
type StaticBalances struct {
	Holdings []model.TokenBalance
}

func (s *StaticBalances) Name() string { return "static" }

func (s *StaticBalances) FetchBalances(_ context.Context) ([]model.TokenBalance, error) {
	out := make([]model.TokenBalance, 0, len(s.Holdings))
	for _, h := range s.Holdings {
		if h.RawBalance != "" {
			n, err := NormalizeBalance(h.RawBalance, h.Decimals)
			if err != nil {
				return nil, fmt.Errorf("normalize %s: %w", h.Token, err)
			}
			h.Normalized = n
		}
		out = append(out, h)
	}
	if err := calculator.ValidateBalances(out); err != nil {
		return nil, err
	}
	return out, nil
}

// StaticPrices serves a fixed price table. Ids missing from the table are
// left out of the result.
type StaticPrices struct {
	Prices model.PriceTable
}

func (s *StaticPrices) Name() string { return "static" }

func (s *StaticPrices) FetchPrices(_ context.Context, ids []string) (model.PriceTable, error) {
	out := make(model.PriceTable, len(ids))
	for _, id := range ids {
		if p, ok := s.Prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
