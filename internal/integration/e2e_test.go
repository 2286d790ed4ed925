// Package integration contains end-to-end integration tests.
// These tests require a running tvt API connected to a Hedera network,
// for example a local node started with `tvt -network localnet -listen :8080`.
//
// Run with: go test -tags=integration ./internal/integration/...
//
//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/tvt/internal/storage"
	"github.com/gateway-fm/tvt/pkg/types"
)

// E2E test configuration from environment
var (
	apiURL = strings.TrimRight(getEnv("TVT_API_URL", "http://localhost:8080"), "/")
	wsURL  = "ws" + strings.TrimPrefix(apiURL, "http") + "/v1/ws"
)

// runTimeout bounds one small run including mirror node lookups.
const runTimeout = 5 * time.Minute

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// skipIfNoStack skips the test if the API is not reachable.
func skipIfNoStack(t *testing.T) {
	resp, err := http.Get(apiURL + "/health")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Skip("Skipping E2E test: tvt API not running")
	}
	resp.Body.Close()
}

func getJSON(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(apiURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func startRun(t *testing.T, req types.StartRunRequest) (string, int) {
	t.Helper()
	body, _ := json.Marshal(req)
	resp, err := http.Post(apiURL+"/v1/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/runs: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		RunID string `json:"runId"`
	}
	data, _ := io.ReadAll(resp.Body)
	json.Unmarshal(data, &out)
	return out.RunID, resp.StatusCode
}

// waitIdle waits until no run is active so tests do not collide.
func waitIdle(t *testing.T) types.RunProgress {
	t.Helper()
	deadline := time.Now().Add(runTimeout)
	for time.Now().Before(deadline) {
		var st types.RunProgress
		getJSON(t, "/v1/status", &st)
		switch st.Status {
		case types.StatusIdle, types.StatusCompleted, types.StatusError:
			return st
		}
		time.Sleep(time.Second)
	}
	t.Fatal("timed out waiting for the active run to finish")
	return types.RunProgress{}
}

// TestE2ERunLifecycle starts a small run and follows it into history.
func TestE2ERunLifecycle(t *testing.T) {
	skipIfNoStack(t)
	waitIdle(t)

	id, code := startRun(t, types.StartRunRequest{
		Quantity: 1,
		Actions:  []types.ActionKind{types.ActionTransferHbar, types.ActionSubmitMessage},
	})
	if code != http.StatusAccepted || id == "" {
		t.Fatalf("start run: status %d id %q", code, id)
	}

	st := waitIdle(t)
	if st.RunID != id {
		t.Fatalf("status run id = %q, want %q", st.RunID, id)
	}
	if st.Status != types.StatusCompleted {
		t.Fatalf("run finished with status %s: %s", st.Status, st.Error)
	}
	if st.Records < 2 {
		t.Errorf("records = %d, want at least 2", st.Records)
	}
	if st.ReportDir == "" {
		t.Error("reportDir is empty")
	}

	var detail storage.RunDetail
	if code := getJSON(t, "/v1/runs/"+id, &detail); code != http.StatusOK {
		t.Fatalf("GET run detail: status %d", code)
	}
	if detail.Run == nil || detail.Run.ID != id {
		t.Fatalf("detail run = %+v", detail.Run)
	}
	if len(detail.Records) != detail.Run.Records {
		t.Errorf("detail has %d records, run says %d", len(detail.Records), detail.Run.Records)
	}
	for _, r := range detail.Records {
		if r.TransactionID == "" || r.FeeTinybars <= 0 {
			t.Errorf("bad fee record %+v", r)
		}
	}

	var history storage.PaginatedRuns
	getJSON(t, "/v1/runs?limit=5", &history)
	found := false
	for _, r := range history.Runs {
		found = found || r.ID == id
	}
	if !found {
		t.Errorf("run %s not in history", id)
	}
}

// TestE2EConcurrentStartRejected verifies the single-run guard over HTTP.
func TestE2EConcurrentStartRejected(t *testing.T) {
	skipIfNoStack(t)
	waitIdle(t)

	req := types.StartRunRequest{Quantity: 1, Actions: []types.ActionKind{types.ActionSubmitMessage}}
	if _, code := startRun(t, req); code != http.StatusAccepted {
		t.Fatalf("first start: status %d", code)
	}
	if _, code := startRun(t, req); code != http.StatusConflict {
		t.Errorf("second start: status %d, want %d", code, http.StatusConflict)
	}
	waitIdle(t)
}

// TestE2EWebSocketProgress follows a run over the WebSocket feed.
func TestE2EWebSocketProgress(t *testing.T) {
	skipIfNoStack(t)
	waitIdle(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	defer conn.Close()

	// Initial snapshot
	var first types.RunProgress
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial status: %v", err)
	}

	id, code := startRun(t, types.StartRunRequest{Quantity: 1, Actions: []types.ActionKind{types.ActionTransferHbar}})
	if code != http.StatusAccepted {
		t.Fatalf("start run: status %d", code)
	}

	seen := map[types.RunStatus]bool{}
	conn.SetReadDeadline(time.Now().Add(runTimeout))
	for {
		var p types.RunProgress
		if err := conn.ReadJSON(&p); err != nil {
			t.Fatalf("read progress: %v (seen %v)", err, seen)
		}
		if p.RunID != id {
			continue
		}
		seen[p.Status] = true
		if p.Status == types.StatusCompleted || p.Status == types.StatusError {
			break
		}
	}
	if !seen[types.StatusRunning] {
		t.Errorf("never saw running status, seen %v", seen)
	}
}

// TestE2EMetricsExposed checks that fee metrics are exported after a run.
func TestE2EMetricsExposed(t *testing.T) {
	skipIfNoStack(t)
	waitIdle(t)

	if _, code := startRun(t, types.StartRunRequest{Quantity: 1, Actions: []types.ActionKind{types.ActionSubmitMessage}}); code != http.StatusAccepted {
		t.Fatalf("start run: status %d", code)
	}
	waitIdle(t)

	resp, err := http.Get(apiURL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{"go_goroutines", "tvt_run_status", "tvt_runs_total", "tvt_fee_records_total", "tvt_actions_total"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metric %s missing", name)
		}
	}
}
