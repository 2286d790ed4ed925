// Package mirror queries the Hedera mirror node REST API for gas details.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gateway-fm/tvt/internal/ratelimit"
	"github.com/gateway-fm/tvt/internal/report"
	"github.com/gateway-fm/tvt/pkg/types"
)

// Default mirror node endpoints per network.
const (
	MainnetURL = "https://mainnet-public.mirrornode.hedera.com"
	TestnetURL = "https://testnet.mirrornode.hedera.com"
)

// NotFoundError is returned when the mirror node has no data for a resource yet.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("mirror node: %s not found", e.Path)
}

// ContractResult is the subset of /contracts/results/{id} used for reports.
type ContractResult struct {
	GasUsed     uint64 `json:"gas_used"`
	GasLimit    uint64 `json:"gas_limit"`
	GasConsumed uint64 `json:"gas_consumed"`
	Timestamp   string `json:"timestamp"`
}

type feesResponse struct {
	Fees []struct {
		Gas             uint64 `json:"gas"`
		TransactionType string `json:"transaction_type"`
	} `json:"fees"`
}

// Client is a mirror node REST client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	retries    uint64
	interval   time.Duration
	logger     *slog.Logger
}

// Config holds Client settings.
type Config struct {
	BaseURL    string
	Timeout    time.Duration // defaults to 10s
	RatePerSec float64       // request pacing, 0 disables
	MaxRetries uint64        // retries while the mirror node lags, defaults to 5
	Interval   time.Duration // between retries, defaults to 2s
	Logger     *slog.Logger
}

// New creates a mirror node client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    ratelimit.New(cfg.RatePerSec),
		retries:    cfg.MaxRetries,
		interval:   cfg.Interval,
		logger:     logger,
	}
}

// TransactionPath converts a transaction id "0.0.x@s.n" to the mirror node
// form "0.0.x-s-n". EVM hashes are returned unchanged.
func TransactionPath(txID string) string {
	at := strings.IndexByte(txID, '@')
	if at < 0 {
		return txID
	}
	return txID[:at] + "-" + strings.Replace(txID[at+1:], ".", "-", 1)
}

// ContractResult fetches the contract result of a transaction. It retries
// while the mirror node has not ingested the transaction yet.
func (c *Client) ContractResult(ctx context.Context, txID string) (*ContractResult, error) {
	path := "/api/v1/contracts/results/" + url.PathEscape(TransactionPath(txID))
	var res ContractResult
	if err := c.getWithRetry(ctx, path, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GasPrice returns the gas price in tinybars for txType ("ContractCall",
// "EthereumTransaction") in effect at the consensus timestamp.
func (c *Client) GasPrice(ctx context.Context, timestamp, txType string) (uint64, error) {
	path := "/api/v1/network/fees"
	if timestamp != "" {
		path += "?timestamp=" + url.QueryEscape(timestamp)
	}
	var res feesResponse
	if err := c.getWithRetry(ctx, path, &res); err != nil {
		return 0, err
	}
	for _, f := range res.Fees {
		if f.TransactionType == txType {
			return f.Gas, nil
		}
	}
	return 0, fmt.Errorf("mirror node: no gas price for %s", txType)
}

// GasDetail implements report.GasDetailer.
func (c *Client) GasDetail(ctx context.Context, rec types.FeeRecord) (report.GasDetail, error) {
	result, err := c.ContractResult(ctx, rec.TransactionID)
	if err != nil {
		return report.GasDetail{}, err
	}

	txType := "ContractCall"
	if rec.Type == types.ResultEthereumTransaction {
		txType = "EthereumTransaction"
	}
	price, err := c.GasPrice(ctx, result.Timestamp, txType)
	if err != nil {
		return report.GasDetail{}, err
	}

	return report.GasDetail{
		GasUsed:          result.GasUsed,
		GasLimit:         result.GasLimit,
		GasConsumed:      result.GasConsumed,
		GasPriceTinybars: price,
	}, nil
}

func (c *Client) getWithRetry(ctx context.Context, path string, out any) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.interval), c.retries),
		ctx,
	)
	return backoff.Retry(func() error {
		err := c.get(ctx, path, out)
		var nf *NotFoundError
		if errors.As(err, &nf) {
			c.logger.Debug("mirror node lagging, retrying", slog.String("path", path))
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, b)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{Path: path}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("mirror node: HTTP %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
