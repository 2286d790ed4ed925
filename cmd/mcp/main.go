// Command tvt-mcp exposes a running tvt API as MCP tools over stdio.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcptools "github.com/gateway-fm/tvt/internal/mcp"
)

var version = "dev"

const instructions = `Tools for the tvt Hedera fee load tester.
tvt_status and tvt_health are read-only. tvt_run spends HBAR from the operator
account and is refused while another run is active. tvt_history and
tvt_run_detail read stored runs; tvt_delete_run removes one from history.`

func main() {
	defaultURL := os.Getenv("TVT_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	apiURL := flag.String("url", defaultURL, "tvt API base URL (env: TVT_URL)")
	flag.Parse()

	// stdout carries the MCP protocol.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	s := server.NewMCPServer(
		"tvt",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions(instructions),
		server.WithRecovery(),
	)
	mcptools.RegisterTools(s, mcptools.NewClient(*apiURL))

	logger.Info("MCP server starting", slog.String("api", *apiURL), slog.String("version", version))
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
