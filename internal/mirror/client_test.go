package mirror

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gateway-fm/tvt/internal/report"
	"github.com/gateway-fm/tvt/pkg/types"
)

var _ report.GasDetailer = (*Client)(nil)

func TestTransactionPath(t *testing.T) {
	tests := map[string]string{
		"0.0.1234@1700000000.123456789": "0.0.1234-1700000000-123456789",
		"0xabcdef":                      "0xabcdef",
	}
	for in, want := range tests {
		if got := TransactionPath(in); got != want {
			t.Errorf("TransactionPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClient_GasDetail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/contracts/results/0.0.42-1700000000-5", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"gas_used":80000,"gas_limit":100000,"gas_consumed":24500,"timestamp":"1700000001.000000001"}`))
	})
	mux.HandleFunc("/api/v1/network/fees", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("timestamp"); got != "1700000001.000000001" {
			t.Errorf("timestamp = %q", got)
		}
		w.Write([]byte(`{"fees":[{"gas":70,"transaction_type":"ContractCall"},{"gas":71,"transaction_type":"EthereumTransaction"}]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := New(Config{BaseURL: server.URL + "/"})
	d, err := c.GasDetail(context.Background(), types.FeeRecord{
		Type:          types.ResultContractCall,
		TransactionID: "0.0.42@1700000000.5",
	})
	if err != nil {
		t.Fatalf("GasDetail() error = %v", err)
	}
	want := report.GasDetail{GasUsed: 80000, GasLimit: 100000, GasConsumed: 24500, GasPriceTinybars: 70}
	if d != want {
		t.Errorf("GasDetail() = %+v, want %+v", d, want)
	}
}

func TestClient_RetriesWhileLagging(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"gas_used":1,"gas_limit":2,"gas_consumed":1,"timestamp":"1.1"}`))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, Interval: time.Millisecond})
	res, err := c.ContractResult(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("ContractResult() error = %v", err)
	}
	if res.GasLimit != 2 || calls.Load() != 3 {
		t.Errorf("result = %+v after %d calls", res, calls.Load())
	}
}

func TestClient_NotFoundExhausted(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	c := New(Config{BaseURL: server.URL, MaxRetries: 1, Interval: time.Millisecond})
	_, err := c.ContractResult(context.Background(), "0xabc")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("ContractResult() error = %v, want *NotFoundError", err)
	}
}

func TestClient_ServerErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, Interval: time.Millisecond})
	if _, err := c.GasPrice(context.Background(), "", "ContractCall"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1", calls.Load())
	}
}
