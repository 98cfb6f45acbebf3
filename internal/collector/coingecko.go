package collector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"TreasurySentinel/internal/model"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
	DefaultPriceTTL     = 5 * time.Minute
)

type cachedPrice struct {
	price     float64
	fetchedAt time.Time
}

// CoinGeckoSource fetches USD prices from the simple/price endpoint and keeps
// each price for TTL.
type CoinGeckoSource struct {
	client *resty.Client
	apiKey string
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPrice
}

// NewCoinGeckoSource creates a client. An empty baseURL uses the public API;
// proxyURL is optional.
func NewCoinGeckoSource(baseURL, apiKey, proxyURL string, ttl time.Duration) *CoinGeckoSource {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	return &CoinGeckoSource{
		client: client,
		apiKey: apiKey,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cachedPrice),
	}
}

func (c *CoinGeckoSource) Name() string { return "coingecko" }

// FetchPrices returns cached prices younger than the TTL and requests the rest
// in a single call. Ids unknown to CoinGecko are absent from the result.
func (c *CoinGeckoSource) FetchPrices(ctx context.Context, ids []string) (model.PriceTable, error) {
	now := c.now()
	prices := make(model.PriceTable, len(ids))
	var missing []string

	c.mu.Lock()
	for _, id := range ids {
		if cp, ok := c.cache[id]; ok && now.Sub(cp.fetchedAt) < c.ttl {
			prices[id] = cp.price
		} else {
			missing = append(missing, id)
		}
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return prices, nil
	}
	sort.Strings(missing)

	var body map[string]map[string]float64
	req := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"ids":           strings.Join(missing, ","),
			"vs_currencies": "usd",
		}).
		SetResult(&body)
	if c.apiKey != "" {
		req.SetHeader("x-cg-demo-api-key", c.apiKey)
	}
	resp, err := req.Get("/simple/price")
	if err != nil {
		return nil, fmt.Errorf("coingecko request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("coingecko status %d: %s", resp.StatusCode(), resp.String())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, quote := range body {
		usd, ok := quote["usd"]
		if !ok {
			continue
		}
		prices[id] = usd
		c.cache[id] = cachedPrice{price: usd, fetchedAt: now}
	}
	return prices, nil
}
