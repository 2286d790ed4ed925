package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func TestRPCError(t *testing.T) {
	err := &RPCError{Code: -32000, Message: "nonce too low"}
	if got := err.Error(); got != "RPC error -32000: nonce too low" {
		t.Errorf("RPCError.Error() = %q", got)
	}
}

func TestHTTPStatusError(t *testing.T) {
	tests := []struct {
		name       string
		err        HTTPStatusError
		wantString string
		wantRetry  bool
	}{
		{
			name:       "429 Too Many Requests",
			err:        HTTPStatusError{StatusCode: 429, Body: "rate limited"},
			wantString: "HTTP 429: Too Many Requests (body: rate limited)",
			wantRetry:  true,
		},
		{
			name:       "502 Bad Gateway",
			err:        HTTPStatusError{StatusCode: 502},
			wantString: "HTTP 502: Bad Gateway",
			wantRetry:  true,
		},
		{
			name:       "503 Service Unavailable",
			err:        HTTPStatusError{StatusCode: 503},
			wantString: "HTTP 503: Service Unavailable",
			wantRetry:  true,
		},
		{
			name:       "504 Gateway Timeout",
			err:        HTTPStatusError{StatusCode: 504},
			wantString: "HTTP 504: Gateway Timeout",
			wantRetry:  true,
		},
		{
			name:       "400 Bad Request not retryable",
			err:        HTTPStatusError{StatusCode: 400, Body: "invalid request"},
			wantString: "HTTP 400: Bad Request (body: invalid request)",
			wantRetry:  false,
		},
		{
			name:       "500 Internal Server Error not retryable",
			err:        HTTPStatusError{StatusCode: 500},
			wantString: "HTTP 500: Internal Server Error",
			wantRetry:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantString {
				t.Errorf("HTTPStatusError.Error() = %q, want %q", got, tt.wantString)
			}
			if got := tt.err.IsRetryable(); got != tt.wantRetry {
				t.Errorf("HTTPStatusError.IsRetryable() = %v, want %v", got, tt.wantRetry)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"throttled", &HTTPStatusError{StatusCode: 429}, true},
		{"bad request", &HTTPStatusError{StatusCode: 400}, false},
		{"rpc error", &RPCError{Code: -32000, Message: "test"}, false},
		{"wrapped rpc error", fmt.Errorf("send: %w", &RPCError{Code: -32000}), false},
		{"transport", errors.New("connection reset by peer"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.err); got != tt.want {
				t.Errorf("retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryAfter(t *testing.T) {
	if got := retryAfter(&HTTPStatusError{StatusCode: 429, RetryAfter: 2 * time.Second}); got != 2*time.Second {
		t.Errorf("retryAfter() = %v, want 2s", got)
	}
	if got := retryAfter(&HTTPStatusError{StatusCode: 503}); got != 0 {
		t.Errorf("retryAfter() = %v, want 0", got)
	}
	if got := retryAfter(&RPCError{Code: -32000}); got != 0 {
		t.Errorf("retryAfter() = %v, want 0", got)
	}
}

func TestRetryAfterBackOff(t *testing.T) {
	b := &retryAfterBackOff{BackOff: backoff.NewConstantBackOff(10 * time.Millisecond)}

	b.hint = time.Second
	if got := b.NextBackOff(); got != time.Second {
		t.Errorf("NextBackOff() with hint = %v, want 1s", got)
	}
	if got := b.NextBackOff(); got != 10*time.Millisecond {
		t.Errorf("NextBackOff() after hint = %v, want 10ms", got)
	}

	stopped := &retryAfterBackOff{BackOff: &backoff.StopBackOff{}, hint: time.Second}
	if got := stopped.NextBackOff(); got != backoff.Stop {
		t.Errorf("NextBackOff() on exhausted policy = %v, want Stop", got)
	}
}

func TestDefaultClientConfig(t *testing.T) {
	url := "https://testnet.hashio.io/api"
	cfg := DefaultClientConfig(url)

	if cfg.URL != url {
		t.Errorf("URL = %q, want %q", cfg.URL, url)
	}
	if cfg.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, 15*time.Second)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
}

// relayStub answers JSON-RPC requests from a method -> result table.
func relayStub(t *testing.T, results map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		result, ok := results[req.Method]
		if !ok {
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`))
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
}

func testClient(url string) *HTTPClient {
	cfg := DefaultClientConfig(url)
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = time.Millisecond
	return NewHTTPClient(cfg)
}

func TestHTTPClient_Queries(t *testing.T) {
	server := relayStub(t, map[string]string{
		"eth_getTransactionCount": `"0x1f"`,
		"eth_gasPrice":            `"0xa54f4c3c00"`,
		"eth_chainId":             `"0x128"`,
		"eth_sendRawTransaction":  `"0xabc"`,
		"eth_getTransactionReceipt": `{"transactionHash":"0xabc","status":"0x1","gasUsed":"0x5208",` +
			`"blockNumber":"0x10","effectiveGasPrice":"0xa54f4c3c00"}`,
	})
	defer server.Close()

	c := testClient(server.URL)
	ctx := context.Background()

	nonce, err := c.GetNonce(ctx, "0x0000000000000000000000000000000000000001")
	if err != nil || nonce != 31 {
		t.Errorf("GetNonce() = %d, %v; want 31", nonce, err)
	}
	chainID, err := c.ChainID(ctx)
	if err != nil || chainID.Int64() != 296 {
		t.Errorf("ChainID() = %v, %v; want 296", chainID, err)
	}
	price, err := c.GetGasPrice(ctx)
	if err != nil || price.Int64() != 710_000_000_000 {
		t.Errorf("GetGasPrice() = %v, %v", price, err)
	}
	hash, err := c.SendRawTransaction(ctx, []byte{0x02, 0x01})
	if err != nil || hash != "0xabc" {
		t.Errorf("SendRawTransaction() = %q, %v", hash, err)
	}
	receipt, err := c.GetTransactionReceipt(ctx, hash)
	if err != nil {
		t.Fatalf("GetTransactionReceipt() error = %v", err)
	}
	if receipt.Status != 1 || receipt.GasUsed != 21000 || receipt.EffectiveGasPrice.Int64() != 710_000_000_000 {
		t.Errorf("receipt = %+v", receipt)
	}
}

func TestHTTPClient_ReceiptNotFound(t *testing.T) {
	server := relayStub(t, map[string]string{"eth_getTransactionReceipt": `null`})
	defer server.Close()

	receipt, err := testClient(server.URL).GetTransactionReceipt(context.Background(), "0x1")
	if err != nil || receipt != nil {
		t.Errorf("GetTransactionReceipt() = %v, %v; want nil, nil", receipt, err)
	}
}

func TestHTTPClient_RPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"nonce too low"}}`))
	}))
	defer server.Close()

	_, err := testClient(server.URL).Call(context.Background(), "eth_sendRawTransaction", nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Call() error = %v, want *RPCError", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1", calls.Load())
	}
}

func TestHTTPClient_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`))
	}))
	defer server.Close()

	nonce, err := testClient(server.URL).GetNonce(context.Background(), "0x01")
	if err != nil || nonce != 1 {
		t.Errorf("GetNonce() = %d, %v; want 1", nonce, err)
	}
	if calls.Load() != 2 {
		t.Errorf("server called %d times, want 2", calls.Load())
	}
}

func TestHTTPClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := testClient(server.URL).ChainID(context.Background())
	var httpErr *HTTPStatusError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("ChainID() error = %v, want wrapped 503", err)
	}
	if calls.Load() != 4 {
		t.Errorf("server called %d times, want 4", calls.Load())
	}
}

func TestHTTPClient_NonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	if _, err := testClient(server.URL).ChainID(context.Background()); err == nil {
		t.Fatal("ChainID() expected error for 400")
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1", calls.Load())
	}
}

func TestHTTPClient_Canceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := testClient(server.URL).ChainID(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("ChainID() error = %v, want context.Canceled", err)
	}
}
