// Package config handles configuration loading and validation.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gateway-fm/tvt/pkg/types"
)

// Config holds fee load tester configuration.
type Config struct {
	// Run parameters
	Quantity    int                // times each action is executed; 0 runs nothing
	Actions     []types.ActionKind // empty means all registered actions
	Concurrency int
	Schedule    string        // cron expression; empty runs once
	StopAfter   time.Duration // 0 means no deadline

	// Network credentials
	Network        types.Network
	OperatorID     string
	OperatorKey    string
	KeyType        string // "ecdsa" or "ed25519"
	NetworkAddress string // localnet host or URL

	// Service
	ListenAddr         string // empty disables the HTTP API
	ReportsDir         string
	DatabasePath       string
	PidDir             string
	ContractBytecode   string // path to a hex file; empty disables contract actions
	CORSAllowedOrigins string
	LogLevel           string

	// CredentialsPath is the JSON file operator credentials are read from
	// and written back to.
	CredentialsPath string
}

// Defaults
const (
	DefaultNetwork            = types.NetworkTestnet
	DefaultConcurrency        = 3
	DefaultKeyType            = "ecdsa"
	DefaultReportsDir         = "./reports"
	DefaultDatabasePath       = "./data/tvt.db"
	DefaultPidDir             = "./pid"
	DefaultCORSAllowedOrigins = "*"
	DefaultLogLevel           = "info"
	MaxConcurrency            = 64
)

// Load reads configuration from the process environment, the credentials
// file under the user's home directory, and command-line flags.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return LoadFrom(os.Args[1:], os.Getenv, home)
}

// LoadFrom resolves configuration in order: defaults, environment variables,
// the credentials file, and flags. Later sources win. Resolved credentials are
// written back to the credentials file.
func LoadFrom(args []string, getenv func(string) string, home string) (*Config, error) {
	cfg := &Config{
		Network:            DefaultNetwork,
		Concurrency:        DefaultConcurrency,
		KeyType:            DefaultKeyType,
		ReportsDir:         DefaultReportsDir,
		DatabasePath:       DefaultDatabasePath,
		PidDir:             DefaultPidDir,
		CORSAllowedOrigins: DefaultCORSAllowedOrigins,
		LogLevel:           DefaultLogLevel,
		CredentialsPath:    filepath.Join(home, "tvt", "config.json"),
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}

	// Flag defaults carry the environment values so that flags win.
	fset := flag.NewFlagSet("tvt", flag.ContinueOnError)
	var (
		quantity    = fset.Int("quantity", cfg.Quantity, "Number of times each action is executed")
		actions     = fset.String("actions", joinActions(cfg.Actions), "Comma-separated actions to run (default: all)")
		concurrency = fset.Int("concurrency", cfg.Concurrency, "Number of parallel lanes")
		schedule    = fset.String("scheduler", cfg.Schedule, "Cron expression for repeated runs")
		stopAfter   = fset.String("stop-after", "", "Stop scheduling after <n>m|h|d|w")
		network     = fset.String("network", string(cfg.Network), "Network: mainnet, testnet, localnet")
		operatorID  = fset.String("operator-id", "", "Operator account ID (0.0.x)")
		operatorKey = fset.String("operator-key", "", "Operator private key (hex)")
		keyType     = fset.String("key-type", cfg.KeyType, "Operator key type: ecdsa, ed25519")
		address     = fset.String("network-address", "", "Localnet address (IP or http(s) URL)")
		listenAddr  = fset.String("listen", cfg.ListenAddr, "HTTP listen address (empty disables the API)")
		reportsDir  = fset.String("reports-dir", cfg.ReportsDir, "Directory for CSV reports")
		database    = fset.String("database", cfg.DatabasePath, "Path to SQLite database file")
		bytecode    = fset.String("contract-bytecode", cfg.ContractBytecode, "Path to hex contract bytecode for contract actions")
		logLevel    = fset.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	)
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	set := map[string]bool{}
	fset.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg.Quantity = *quantity
	cfg.Concurrency = *concurrency
	cfg.Schedule = strings.TrimSpace(*schedule)
	cfg.Network = types.Network(strings.ToLower(*network))
	cfg.KeyType = strings.ToLower(*keyType)
	cfg.ListenAddr = *listenAddr
	cfg.ReportsDir = *reportsDir
	cfg.DatabasePath = *database
	cfg.ContractBytecode = *bytecode
	cfg.LogLevel = *logLevel

	parsed, err := ParseActions(*actions)
	if err != nil {
		return nil, err
	}
	cfg.Actions = parsed

	if set["stop-after"] {
		if cfg.StopAfter, err = ParseStopAfter(*stopAfter); err != nil {
			return nil, err
		}
	}

	creds, err := readCredentials(cfg.CredentialsPath)
	if err != nil {
		return nil, err
	}
	cfg.applyCredentials(creds, getenv)

	if set["operator-id"] {
		cfg.OperatorID = *operatorID
	}
	if set["operator-key"] {
		cfg.OperatorKey = *operatorKey
	}
	if set["network-address"] {
		cfg.NetworkAddress = *address
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.saveCredentials(creds); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("TVT_NETWORK"); v != "" {
		c.Network = types.Network(strings.ToLower(v))
	}
	if v := getenv("TVT_QUANTITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TVT_QUANTITY: %w", err)
		}
		c.Quantity = n
	}
	if v := getenv("TVT_ACTIONS"); v != "" {
		actions, err := ParseActions(v)
		if err != nil {
			return fmt.Errorf("TVT_ACTIONS: %w", err)
		}
		c.Actions = actions
	}
	if v := getenv("TVT_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TVT_CONCURRENCY: %w", err)
		}
		c.Concurrency = n
	}
	if v := getenv("TVT_SCHEDULER"); v != "" {
		c.Schedule = v
	}
	if v := getenv("TVT_STOP_AFTER"); v != "" {
		d, err := ParseStopAfter(v)
		if err != nil {
			return fmt.Errorf("TVT_STOP_AFTER: %w", err)
		}
		c.StopAfter = d
	}
	if v := getenv("TVT_KEY_TYPE"); v != "" {
		c.KeyType = v
	}
	if v := getenv("TVT_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := getenv("TVT_REPORTS_DIR"); v != "" {
		c.ReportsDir = v
	}
	if v := getenv("TVT_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := getenv("TVT_PID_DIR"); v != "" {
		c.PidDir = v
	}
	if v := getenv("TVT_CONTRACT_BYTECODE"); v != "" {
		c.ContractBytecode = v
	}
	if v := getenv("TVT_CONFIG"); v != "" {
		c.CredentialsPath = v
	}
	if v := getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORSAllowedOrigins = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// credentialPrefix returns the key prefix of network's credentials.
func credentialPrefix(n types.Network) string {
	switch n {
	case types.NetworkLocalnet:
		return "TVT_LOCAL"
	case types.NetworkMainnet:
		return "TVT_MAINNET"
	default:
		return "TVT_TESTNET"
	}
}

// applyCredentials fills credentials of the selected network from the
// environment and then the credentials file.
func (c *Config) applyCredentials(file map[string]string, getenv func(string) string) {
	prefix := credentialPrefix(c.Network)
	pick := func(key string) string {
		if v := file[key]; v != "" {
			return v
		}
		return getenv(key)
	}
	c.OperatorID = pick(prefix + "_OPERATOR_ID")
	c.OperatorKey = pick(prefix + "_OPERATOR_KEY")
	if c.Network == types.NetworkLocalnet {
		c.NetworkAddress = pick("TVT_LOCAL_NETWORK_IP")
	}
}

func readCredentials(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds := map[string]string{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return creds, nil
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	return creds, nil
}

// saveCredentials merges the resolved credentials into the existing file
// contents so other networks' entries are preserved.
func (c *Config) saveCredentials(existing map[string]string) error {
	prefix := credentialPrefix(c.Network)
	merged := make(map[string]string, len(existing)+3)
	for k, v := range existing {
		merged[k] = v
	}
	merged[prefix+"_OPERATOR_ID"] = c.OperatorID
	merged[prefix+"_OPERATOR_KEY"] = c.OperatorKey
	if c.Network == types.NetworkLocalnet {
		merged["TVT_LOCAL_NETWORK_IP"] = c.NetworkAddress
	}

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.CredentialsPath), 0700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	if err := os.WriteFile(c.CredentialsPath, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Network {
	case types.NetworkMainnet, types.NetworkTestnet, types.NetworkLocalnet:
	default:
		return fmt.Errorf("invalid network: %q (valid: mainnet, testnet, localnet)", c.Network)
	}
	if c.OperatorID == "" {
		return fmt.Errorf("operator ID is required: pass -operator-id or set %s_OPERATOR_ID", credentialPrefix(c.Network))
	}
	if c.OperatorKey == "" {
		return fmt.Errorf("operator key is required: pass -operator-key or set %s_OPERATOR_KEY", credentialPrefix(c.Network))
	}
	if c.KeyType != "ecdsa" && c.KeyType != "ed25519" {
		return fmt.Errorf("invalid key type: %q (valid: ecdsa, ed25519)", c.KeyType)
	}
	if c.Network == types.NetworkLocalnet {
		if c.NetworkAddress == "" {
			return fmt.Errorf("network address is required for localnet: pass -network-address")
		}
		if err := ValidateNetworkAddress(c.NetworkAddress); err != nil {
			return err
		}
	}

	if c.Quantity < 0 {
		return fmt.Errorf("quantity cannot be negative, got %d", c.Quantity)
	}
	if c.Concurrency < 1 || c.Concurrency > MaxConcurrency {
		return fmt.Errorf("concurrency must be between 1 and %d, got %d", MaxConcurrency, c.Concurrency)
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("invalid scheduler expression %q: %w", c.Schedule, err)
		}
		if c.Quantity == 0 {
			return fmt.Errorf("scheduler requires a positive quantity")
		}
	}
	if c.StopAfter < 0 {
		return fmt.Errorf("stop-after cannot be negative")
	}
	if c.StopAfter > 0 && c.Schedule == "" {
		return fmt.Errorf("stop-after requires a scheduler expression")
	}
	if c.Quantity == 0 && c.ListenAddr == "" {
		return fmt.Errorf("nothing to do: pass -quantity for a run or -listen to serve the API")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ValidateNetworkAddress accepts an IPv4 address or an http(s) URL.
func ValidateNetworkAddress(addr string) error {
	if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil {
		return nil
	}
	u, err := url.Parse(addr)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return nil
	}
	return fmt.Errorf("invalid network address %q: want an IPv4 address or http(s) URL", addr)
}

// stopAfterUnits maps a stop-after suffix to its duration.
var stopAfterUnits = map[byte]time.Duration{
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseStopAfter parses "<n><unit>" where unit is m, h, d or w and n is a
// positive number, e.g. "90m", "1.5h", "2w".
func ParseStopAfter(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid stop-after %q: want <n>m|h|d|w", s)
	}
	unit, ok := stopAfterUnits[s[len(s)-1]]
	if !ok {
		return 0, fmt.Errorf("invalid stop-after %q: unknown time unit %q", s, s[len(s)-1:])
	}
	n, err := strconv.ParseFloat(s[:len(s)-1], 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid stop-after %q: amount must be a positive number", s)
	}
	return time.Duration(n * float64(unit)), nil
}

// ParseActions parses a comma-separated list of action names. An empty
// string yields nil.
func ParseActions(s string) ([]types.ActionKind, error) {
	var out []types.ActionKind
	seen := map[types.ActionKind]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := types.ParseActionKind(part)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			return nil, fmt.Errorf("duplicate action %q", k)
		}
		seen[k] = true
		out = append(out, k)
	}
	return out, nil
}

func joinActions(actions []types.ActionKind) string {
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = string(a)
	}
	return strings.Join(parts, ",")
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", s)
}
