// Package pricing quotes the HBAR price in USD.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultURL is the CoinGecko simple price endpoint for HBAR in USD.
const DefaultURL = "https://api.coingecko.com/api/v3/simple/price?ids=hedera-hashgraph&vs_currencies=usd"

const coinID = "hedera-hashgraph"

// CoinGecko fetches HBAR prices from the CoinGecko API.
type CoinGecko struct {
	url        string
	httpClient *http.Client
	retries    uint64
	interval   time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	last   float64
	lastAt time.Time
}

// Config holds CoinGecko client settings.
type Config struct {
	URL        string        // defaults to DefaultURL
	Timeout    time.Duration // per request, defaults to 10s
	MaxRetries uint64        // defaults to 3
	Interval   time.Duration // between retries, defaults to 2s
	Logger     *slog.Logger
}

// NewCoinGecko creates a price client.
func NewCoinGecko(cfg Config) *CoinGecko {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CoinGecko{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retries:    cfg.MaxRetries,
		interval:   cfg.Interval,
		logger:     logger,
	}
}

type priceResponse map[string]struct {
	USD *float64 `json:"usd"`
}

// USDPrice returns the current HBAR price in USD. When the API stays
// unavailable it falls back to the last price it successfully fetched.
func (c *CoinGecko) USDPrice(ctx context.Context) (float64, error) {
	price, err := c.fetchWithRetry(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		c.last, c.lastAt = price, time.Now()
		return price, nil
	}
	if c.lastAt.IsZero() {
		return 0, err
	}
	c.logger.Warn("using last known hbar price",
		slog.Float64("price_usd", c.last),
		slog.Time("fetched_at", c.lastAt),
		slog.String("error", err.Error()))
	return c.last, nil
}

func (c *CoinGecko) fetchWithRetry(ctx context.Context) (float64, error) {
	var price float64
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.interval), c.retries),
		ctx,
	)
	err := backoff.Retry(func() error {
		p, err := c.fetch(ctx)
		if err != nil {
			c.logger.Debug("price fetch failed", slog.String("error", err.Error()))
			return err
		}
		price = p
		return nil
	}, b)
	if err != nil {
		return 0, fmt.Errorf("hbar price: %w", err)
	}
	return price, nil
}

func (c *CoinGecko) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var pr priceResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	entry, ok := pr[coinID]
	if !ok || entry.USD == nil {
		return 0, backoff.Permanent(fmt.Errorf("response has no %s.usd", coinID))
	}
	return *entry.USD, nil
}
