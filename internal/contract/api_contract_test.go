// Package contract contains API contract tests that pin the JSON field names
// the MCP server and dashboards read from the HTTP API.
package contract

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gateway-fm/tvt/internal/storage"
	"github.com/gateway-fm/tvt/pkg/types"
)

// ExpectedAPIFields defines the camelCase field names clients expect.
var ExpectedAPIFields = map[string][]string{
	"RunProgress": {
		"runId", "status", "attempt", "completed", "total", "records",
		"failed", "unrecovered", "reportDir", "startedAt", "elapsedMs",
		"error", "byType", "latency",
	},
	"RunResult": {
		"id", "network", "status", "startedAt", "completedAt", "durationMs",
		"items", "records", "retryRounds", "resynced", "unrecovered",
		"reportDir", "priceUsd", "error", "config",
	},
	"FeeRecord": {
		"type", "transactionId", "feeTinybars", "gasUsed", "gasPrice", "recordedAt",
	},
	"StartRunRequest": {
		"quantity", "actions", "concurrency",
	},
	"LatencyStats": {
		"count", "min", "max", "avg", "p50", "p90", "p95", "p99", "buckets",
	},
	"RunDetail": {
		"run", "records", "failures",
	},
	"PaginatedRuns": {
		"runs", "total", "limit", "offset",
	},
	"Failure": {
		"kind", "seq",
	},
}

func jsonNames(t *testing.T, instance any) []string {
	t.Helper()
	typ := reflect.TypeOf(instance)
	var names []string
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.PkgPath != "" {
			continue
		}
		tag := field.Tag.Get("json")
		if tag == "" {
			t.Errorf("Field %s.%s has no json tag - will serialize as PascalCase", typ.Name(), field.Name)
			continue
		}
		names = append(names, strings.Split(tag, ",")[0])
	}
	return names
}

// TestAPITypesMatchExpectedFields ensures every API type carries exactly the
// agreed field names.
func TestAPITypesMatchExpectedFields(t *testing.T) {
	testCases := []struct {
		name     string
		instance any
	}{
		{"RunProgress", types.RunProgress{}},
		{"RunResult", types.RunResult{}},
		{"FeeRecord", types.FeeRecord{}},
		{"StartRunRequest", types.StartRunRequest{}},
		{"LatencyStats", types.LatencyStats{}},
		{"RunDetail", storage.RunDetail{}},
		{"PaginatedRuns", storage.PaginatedRuns{}},
		{"Failure", storage.Failure{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := jsonNames(t, tc.instance)
			want := ExpectedAPIFields[tc.name]
			if !reflect.DeepEqual(got, want) {
				t.Errorf("%s json fields = %v, want %v", tc.name, got, want)
			}
		})
	}
}

// TestJSONSerializationIsCamelCase verifies actual JSON output uses camelCase.
func TestJSONSerializationIsCamelCase(t *testing.T) {
	gas := uint64(21000)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	testCases := []struct {
		name            string
		instance        any
		expectedFields  []string
		forbiddenFields []string
	}{
		{
			name: "RunProgress",
			instance: types.RunProgress{
				RunID:     "r1",
				Status:    types.StatusRunning,
				ElapsedMs: 1500,
				ByType:    map[string]int{"CRYPTO_TRANSFER": 2},
			},
			expectedFields:  []string{"runId", "status", "elapsedMs", "byType"},
			forbiddenFields: []string{"RunID", "Status", "ElapsedMs", "ByType"},
		},
		{
			name: "FeeRecord",
			instance: types.FeeRecord{
				Type:          types.ResultCryptoTransfer,
				TransactionID: "0.0.2@1700000000.000000001",
				FeeTinybars:   100000,
				GasUsed:       &gas,
				RecordedAt:    now,
			},
			expectedFields:  []string{"type", "transactionId", "feeTinybars", "gasUsed", "recordedAt"},
			forbiddenFields: []string{"Type", "TransactionID", "FeeTinybars", "GasUsed", "RecordedAt"},
		},
		{
			name: "RunResult",
			instance: types.RunResult{
				ID:          "r1",
				Network:     types.NetworkTestnet,
				Status:      types.StatusCompleted,
				RetryRounds: 1,
				PriceUSD:    0.07,
			},
			expectedFields:  []string{"id", "network", "retryRounds", "priceUsd", "config"},
			forbiddenFields: []string{"ID", "Network", "RetryRounds", "PriceUSD", "Config"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.instance)
			if err != nil {
				t.Fatalf("Failed to marshal %s: %v", tc.name, err)
			}
			jsonStr := string(data)

			for _, field := range tc.expectedFields {
				if !strings.Contains(jsonStr, `"`+field+`"`) {
					t.Errorf("Expected camelCase field %q not found in JSON: %s", field, jsonStr)
				}
			}
			for _, field := range tc.forbiddenFields {
				if strings.Contains(jsonStr, `"`+field+`"`) {
					t.Errorf("Forbidden PascalCase field %q found in JSON: %s", field, jsonStr)
				}
			}
		})
	}
}

// TestStartRunRequestDecoding validates that a client request body decodes
// with the expected field names.
func TestStartRunRequestDecoding(t *testing.T) {
	body := `{"quantity": 5, "actions": ["Transfer HBar", "Create account"], "concurrency": 2}`

	var req types.StartRunRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("Failed to unmarshal request: %v", err)
	}
	if req.Quantity != 5 || req.Concurrency != 2 {
		t.Errorf("Quantity/Concurrency = %d/%d, want 5/2", req.Quantity, req.Concurrency)
	}
	if len(req.Actions) != 2 || req.Actions[0] != types.ActionTransferHbar {
		t.Errorf("Actions = %v", req.Actions)
	}
}
