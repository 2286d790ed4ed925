package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/tvt/pkg/types"
)

// RegisterTools registers all fee load tester tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerStatus(s, client)
	registerHealth(s, client)
	registerRun(s, client)
	registerHistory(s, client)
	registerRunDetail(s, client)
	registerDeleteRun(s, client)
}

func registerStatus(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("tvt_status",
		gomcp.WithDescription("Get live run progress: state, retry attempt, items completed, fee records collected, unrecovered actions."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Status(ctx)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Fee load tester unreachable: %v\n\nIs tvt running with -listen set?", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(raw)), nil
	})
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("tvt_health",
		gomcp.WithDescription("Readiness check for the fee load tester and its network dependencies."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Ready(ctx)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Fee load tester unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	})
}

func registerRun(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("tvt_run",
		gomcp.WithDescription("Start a fee measurement run. This is a MUTATING operation that spends HBAR from the operator account."),
		gomcp.WithNumber("quantity",
			gomcp.Required(),
			gomcp.Description("Number of times each action is executed"),
		),
		gomcp.WithString("actions",
			gomcp.Description("Comma-separated action names, e.g. \"Transfer HBar,Mint token(NFT)\" (default: all)"),
		),
		gomcp.WithNumber("concurrency",
			gomcp.Description("Number of parallel lanes (default: 3)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		quantity := req.GetInt("quantity", 0)
		if quantity <= 0 {
			return gomcp.NewToolResultError("quantity must be positive"), nil
		}

		run := types.StartRunRequest{
			Quantity:    quantity,
			Actions:     splitActions(req.GetString("actions", "")),
			Concurrency: max(req.GetInt("concurrency", 0), 0),
		}

		id, err := client.StartRun(ctx, run)
		if IsConflict(err) {
			return gomcp.NewToolResultError(fmt.Sprintf("Start run failed: %v\n\nWait for the active run to finish (see tvt_status).", err)), nil
		}
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Start run failed: %v", err)), nil
		}

		return gomcp.NewToolResultText(joinLines(
			section("Run Started"),
			kv("Run ID", id),
			kv("Quantity", quantity),
			"Use tvt_status to follow progress.",
		)), nil
	})
}

func registerHistory(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("tvt_history",
		gomcp.WithDescription("List past runs with their outcome (paginated)."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		offset := req.GetInt("offset", 0)
		raw, err := client.Runs(ctx, limit, offset)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("History failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHistory(raw)), nil
	})
}

func registerRunDetail(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("tvt_run_detail",
		gomcp.WithDescription("Get one run with fee totals per transaction type and its unrecovered actions."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		raw, err := client.Run(ctx, id)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run detail failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunDetail(raw)), nil
	})
}

func registerDeleteRun(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("tvt_delete_run",
		gomcp.WithDescription("Delete a run and its fee records from history. Report files are kept. This is a MUTATING operation."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID to delete"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		if err := client.DeleteRun(ctx, id); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Delete failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Run Deleted"),
			kv("ID", id),
		)), nil
	})
}

func splitActions(s string) []types.ActionKind {
	var out []types.ActionKind
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, types.ActionKind(a))
		}
	}
	return out
}

// Response formatting functions

func formatStatus(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing status: %v", err)
	}

	status := getStr(m, "status")
	if status == "idle" {
		return joinLines(section("Fee Load Tester Status"), kv("Status", status), "No run has been started yet.")
	}

	attempt := int(getNum(m, "attempt"))
	phase := "first pass"
	if attempt > 0 {
		phase = fmt.Sprintf("retry round %d", attempt)
	}

	lines := joinLines(
		section("Fee Load Tester Status"),
		kv("Run ID", getStr(m, "runId")),
		kv("Status", status),
		kv("Phase", phase),
		kv("Progress", fmt.Sprintf("%s / %s", formatNumber(getNum(m, "completed")), formatNumber(getNum(m, "total")))),
		kv("Fee Records", formatNumber(getNum(m, "records"))),
		kv("Failed", formatNumber(getNum(m, "failed"))),
		kv("Elapsed", formatSeconds(getNum(m, "elapsedMs"))),
		kv("Report", getStr(m, "reportDir")),
		kv("Error", getStr(m, "error")),
	)

	if byType, ok := m["byType"].(map[string]any); ok && len(byType) > 0 {
		lines += "\n\n" + section("Records by Type")
		for _, k := range sortedKeys(byType) {
			n, _ := byType[k].(float64)
			lines += "\n" + kv(k, formatNumber(n))
		}
	}
	if lat, ok := m["latency"].(map[string]any); ok {
		lines += "\n\n" + joinLines(
			section("Action Latency"),
			kv("Avg", formatSeconds(getNum(lat, "avg"))),
			kv("P50", formatSeconds(getNum(lat, "p50"))),
			kv("P95", formatSeconds(getNum(lat, "p95"))),
			kv("Max", formatSeconds(getNum(lat, "max"))),
		)
	}
	if u := getStrs(m, "unrecovered"); len(u) > 0 {
		lines += "\n\n" + section("Unrecovered") + "\n" + strings.Join(u, "\n")
	}
	return lines
}

func formatHealth(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	ready, _ := m["ready"].(bool)
	state := "READY"
	if !ready {
		state = "NOT READY"
	}

	lines := section("Fee Load Tester Health: " + state)

	if checks, ok := m["checks"].([]any); ok {
		for _, c := range checks {
			if check, ok := c.(map[string]any); ok {
				line := fmt.Sprintf("  %-15s %s (%dms)", getStr(check, "name"), getStr(check, "status"), int64(getNum(check, "latency_ms")))
				if errMsg := getStr(check, "error"); errMsg != "" {
					line += " - " + errMsg
				}
				lines += "\n" + line
			}
		}
	}

	return lines
}

func formatHistory(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing history: %v", err)
	}

	lines := joinLines(
		section("Run History"),
		kv("Total Runs", formatNumber(getNum(m, "total"))),
		"",
	)

	runs, ok := m["runs"].([]any)
	if !ok || len(runs) == 0 {
		lines += "No runs found."
		return lines
	}

	for _, r := range runs {
		run, ok := r.(map[string]any)
		if !ok {
			continue
		}
		lines += fmt.Sprintf("\n### %s\n", getStr(run, "id"))
		lines += joinLines(
			kv("Network", getStr(run, "network")),
			kv("Status", getStr(run, "status")),
			kv("Items", formatNumber(getNum(run, "items"))),
			kv("Fee Records", formatNumber(getNum(run, "records"))),
			kv("Unrecovered", len(getStrs(run, "unrecovered"))),
			kv("Started", formatTime(getStr(run, "startedAt"))),
		)
		lines += "\n"
	}

	return lines
}

func formatRunDetail(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing run detail: %v", err)
	}

	run, ok := m["run"].(map[string]any)
	if !ok {
		return "Run not found"
	}

	lines := joinLines(
		section("Run: "+getStr(run, "id")),
		kv("Network", getStr(run, "network")),
		kv("Status", getStr(run, "status")),
		kv("Started", formatTime(getStr(run, "startedAt"))),
		kv("Duration", formatSeconds(getNum(run, "durationMs"))),
		kv("Items", formatNumber(getNum(run, "items"))),
		kv("Fee Records", formatNumber(getNum(run, "records"))),
		kv("Retry Rounds", formatNumber(getNum(run, "retryRounds"))),
		kv("HBAR Price", fmt.Sprintf("$%.4f", getNum(run, "priceUsd"))),
		kv("Report", getStr(run, "reportDir")),
		kv("Error", getStr(run, "error")),
	)

	// Fee totals per type
	if records, ok := m["records"].([]any); ok && len(records) > 0 {
		totals := map[string]any{}
		counts := map[string]int{}
		for _, r := range records {
			rec, ok := r.(map[string]any)
			if !ok {
				continue
			}
			t := getStr(rec, "type")
			sum, _ := totals[t].(float64)
			totals[t] = sum + getNum(rec, "feeTinybars")
			counts[t]++
		}
		lines += "\n\n" + section("Fees by Type")
		for _, t := range sortedKeys(totals) {
			total := totals[t].(float64)
			lines += "\n" + kv(t, fmt.Sprintf("%d tx, avg %s", counts[t], formatHbar(total/float64(counts[t]))))
		}
	}

	if failures, ok := m["failures"].([]any); ok && len(failures) > 0 {
		lines += "\n\n" + section("Unrecovered")
		for _, f := range failures {
			if fm, ok := f.(map[string]any); ok {
				lines += "\n" + kv(getStr(fm, "kind"), fmt.Sprintf("item %d", int64(getNum(fm, "seq"))))
			}
		}
	}

	return lines
}

func formatTime(s string) string {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return s
	}
	return t.Format("2006-01-02 15:04:05")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Helper functions
func getStr(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getNum(m map[string]any, key string) float64 {
	if v, ok := m[key]; ok {
		if n, ok := v.(float64); ok {
			return n
		}
	}
	return 0
}

func getStrs(m map[string]any, key string) []string {
	list, _ := m[key].([]any)
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
