package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoinGecko_USDPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hedera-hashgraph":{"usd":0.0712}}`))
	}))
	defer server.Close()

	c := NewCoinGecko(Config{URL: server.URL})
	price, err := c.USDPrice(context.Background())
	if err != nil {
		t.Fatalf("USDPrice() error = %v", err)
	}
	if price != 0.0712 {
		t.Errorf("USDPrice() = %v, want 0.0712", price)
	}
}

func TestCoinGecko_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"hedera-hashgraph":{"usd":0.05}}`))
	}))
	defer server.Close()

	c := NewCoinGecko(Config{URL: server.URL, Interval: time.Millisecond})
	price, err := c.USDPrice(context.Background())
	if err != nil {
		t.Fatalf("USDPrice() error = %v", err)
	}
	if price != 0.05 || calls.Load() != 3 {
		t.Errorf("price = %v after %d calls, want 0.05 after 3", price, calls.Load())
	}
}

func TestCoinGecko_MalformedIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"bitcoin":{"usd":1}}`))
	}))
	defer server.Close()

	c := NewCoinGecko(Config{URL: server.URL, Interval: time.Millisecond})
	if _, err := c.USDPrice(context.Background()); err == nil {
		t.Fatal("expected error for missing coin")
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1 (no retry on malformed body)", calls.Load())
	}
}

func TestCoinGecko_GivesUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewCoinGecko(Config{URL: server.URL, MaxRetries: 2, Interval: time.Millisecond})
	if _, err := c.USDPrice(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Errorf("server called %d times, want 3", calls.Load())
	}
}

func TestCoinGecko_FallsBackToLastPrice(t *testing.T) {
	var down atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"hedera-hashgraph":{"usd":0.0641}}`))
	}))
	defer server.Close()

	c := NewCoinGecko(Config{URL: server.URL, MaxRetries: 1, Interval: time.Millisecond})
	if _, err := c.USDPrice(context.Background()); err != nil {
		t.Fatalf("USDPrice() error = %v", err)
	}

	down.Store(true)
	price, err := c.USDPrice(context.Background())
	if err != nil || price != 0.0641 {
		t.Errorf("USDPrice() while down = %v, %v; want last price 0.0641", price, err)
	}
}
