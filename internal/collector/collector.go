package collector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"TreasurySentinel/internal/calculator"
	"TreasurySentinel/internal/model"

	"github.com/rs/zerolog"
)

// Snapshot is one consistent view of holdings and prices.
type Snapshot struct {
	Balances    []model.TokenBalance
	Prices      model.PriceTable
	CollectedAt time.Time
}

// Collector pulls balances, then prices for exactly the held tokens.
type Collector struct {
	Balances BalanceSource
	Prices   PriceSource
	log      zerolog.Logger
}

// NewCollector creates a new Collector.
func NewCollector(balances BalanceSource, prices PriceSource, log zerolog.Logger) *Collector {
	return &Collector{
		Balances: balances,
		Prices:   prices,
		log:      log.With().Str("component", "collector").Logger(),
	}
}

// Collect fetches a snapshot. A held token without a price is kept and
// valued at zero, except stablecoins which fall back to the peg.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	balances, err := c.Balances.FetchBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch balances from %s: %w", c.Balances.Name(), err)
	}

	seen := make(map[string]struct{}, len(balances))
	ids := make([]string, 0, len(balances))
	for _, b := range balances {
		key := b.PriceKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		ids = append(ids, key)
	}
	sort.Strings(ids)

	prices, err := c.Prices.FetchPrices(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch prices from %s: %w", c.Prices.Name(), err)
	}
	if err := calculator.ValidatePrices(prices); err != nil {
		return nil, err
	}
	for _, b := range balances {
		if _, ok := prices.Lookup(b); !ok {
			c.log.Warn().Str("token", b.Token).Str("price_id", b.PriceKey()).Msg("no price for held token")
		}
	}

	c.log.Debug().Int("balances", len(balances)).Int("prices", len(prices)).Msg("snapshot collected")
	return &Snapshot{Balances: balances, Prices: prices, CollectedAt: time.Now()}, nil
}
