package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gateway-fm/tvt/pkg/types"
)

func TestClient(t *testing.T) {
	var gotBody, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/status":
			w.Write([]byte(`{"status":"idle"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/ready":
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"ready":false}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/runs":
			gotQuery = r.URL.RawQuery
			w.Write([]byte(`{"runs":[],"total":0}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/runs":
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"a run is already in progress"}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/runs/abc":
			w.Write([]byte(`{"deleted":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL + "/")

	raw, err := c.Status(ctx)
	if err != nil || string(raw) != `{"status":"idle"}` {
		t.Errorf("Status() = %s, %v", raw, err)
	}

	raw, err = c.Ready(ctx)
	if err != nil || string(raw) != `{"ready":false}` {
		t.Errorf("Ready() = %s, %v, want body on 503", raw, err)
	}

	if _, err := c.Runs(ctx, 5, 10); err != nil {
		t.Errorf("Runs() error = %v", err)
	}
	if gotQuery != "limit=5&offset=10" {
		t.Errorf("Runs() query = %q", gotQuery)
	}

	_, err = c.StartRun(ctx, types.StartRunRequest{Quantity: 2})
	if err == nil || err.Error() != "HTTP 409: a run is already in progress" {
		t.Errorf("StartRun() error = %v, want HTTP 409", err)
	}
	if !IsConflict(err) {
		t.Errorf("IsConflict(%v) = false", err)
	}
	if gotBody != `{"quantity":2}` {
		t.Errorf("posted body = %s", gotBody)
	}

	if err := c.DeleteRun(ctx, "abc"); err != nil {
		t.Errorf("DeleteRun() error = %v", err)
	}

	_, err = c.Run(ctx, "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("Run(missing) error = %v, want 404 APIError", err)
	}
	if IsConflict(err) {
		t.Error("404 reported as conflict")
	}
}

func TestStartRunReturnsID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"started","runId":"r-42"}`))
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL).StartRun(context.Background(), types.StartRunRequest{Quantity: 1})
	if err != nil || id != "r-42" {
		t.Errorf("StartRun() = %q, %v", id, err)
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{float64(12), "12"},
		{float64(1234567), "1,234,567"},
		{1000, "1,000"},
		{int64(999), "999"},
		{2.5, "2.5"},
		{int64(-1234), "-1,234"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitActions(t *testing.T) {
	got := splitActions(" Transfer HBar, Mint token(NFT) ,,")
	if len(got) != 2 || got[0] != "Transfer HBar" || got[1] != "Mint token(NFT)" {
		t.Errorf("splitActions() = %q", got)
	}
	if splitActions("") != nil {
		t.Error("splitActions(\"\") should be nil")
	}
}

func TestFormatStatus(t *testing.T) {
	idle := formatStatus(json.RawMessage(`{"status":"idle"}`))
	if !strings.Contains(idle, "No run has been started") {
		t.Errorf("idle status:\n%s", idle)
	}

	out := formatStatus(json.RawMessage(`{
		"runId":"r1","status":"retrying","attempt":2,"completed":1,"total":3,
		"records":1200,"failed":1,"elapsedMs":4500,
		"byType":{"TOKEN_BURN":2,"CRYPTO_TRANSFER":5},
		"unrecovered":["Burn token"],
		"latency":{"count":3,"avg":2500,"p50":2000,"p95":3900,"max":4000}
	}`))
	for _, want := range []string{"retry round 2", "1 / 3", "1,200", "4.5s", "Action Latency", "3.9s", "Unrecovered", "Burn token"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "CRYPTO_TRANSFER") > strings.Index(out, "TOKEN_BURN") {
		t.Errorf("types not sorted:\n%s", out)
	}
}

func TestFormatRunDetail(t *testing.T) {
	out := formatRunDetail(json.RawMessage(`{
		"run":{"id":"r1","network":"testnet","status":"completed","durationMs":61000,"priceUsd":0.0712},
		"records":[
			{"type":"CRYPTO_TRANSFER","feeTinybars":100000},
			{"type":"CRYPTO_TRANSFER","feeTinybars":200000}
		],
		"failures":[{"kind":"Create account","seq":4}]
	}`))
	for _, want := range []string{"Run: r1", "61.0s", "$0.0712", "2 tx, avg 0.00150000 HBAR", "Create account", "item 4"} {
		if !strings.Contains(out, want) {
			t.Errorf("detail output missing %q:\n%s", want, out)
		}
	}

	if got := formatRunDetail(json.RawMessage(`{}`)); got != "Run not found" {
		t.Errorf("empty detail = %q", got)
	}
}

func TestFormatHistory(t *testing.T) {
	out := formatHistory(json.RawMessage(`{"total":0,"runs":[]}`))
	if !strings.Contains(out, "No runs found.") {
		t.Errorf("empty history:\n%s", out)
	}
	out = formatHistory(json.RawMessage(`{"total":1,"runs":[{"id":"r9","status":"error","startedAt":"2025-02-01T10:15:00Z","unrecovered":["Burn token","Burn token"]}]}`))
	for _, want := range []string{"### r9", "error", "2025-02-01 10:15:00"} {
		if !strings.Contains(out, want) {
			t.Errorf("history missing %q:\n%s", want, out)
		}
	}
}
