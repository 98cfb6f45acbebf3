package collector

import (
	"context"

	"TreasurySentinel/internal/model"
)

// BalanceSource supplies the treasury holdings for one cycle.
type BalanceSource interface {
	FetchBalances(ctx context.Context) ([]model.TokenBalance, error)
	Name() string
}

// PriceSource supplies USD prices keyed by price-feed id.
type PriceSource interface {
	FetchPrices(ctx context.Context, ids []string) (model.PriceTable, error)
	Name() string
}
