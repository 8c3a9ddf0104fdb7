// Package config loads the settings of the idnode binary.
//
// Priority: flags > IDRANGE_* environment variables > .env file > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"go-idrange/database"
)

// Transports a node can use to reach its peers.
const (
	TransportPostgres = "postgres"
	TransportMemory   = "memory"
)

const envPrefix = "IDRANGE"

// Keys shared by flags, environment variables and the config file.
const (
	keyConfig          = "config"
	keyPeerID          = "peer-id"
	keyTransport       = "transport"
	keyDatabaseURL     = "database-url"
	keySessionID       = "session-id"
	keyHTTPAddr        = "http-addr"
	keyLogLevel        = "log-level"
	keyRoundTimeout    = "round-timeout"
	keyTickInterval    = "tick-interval"
	keyLeaseTTL        = "lease-ttl"
	keyAllocateRetries = "allocate-retries"
	keyRetryInterval   = "retry-interval"
	keyPools           = "pools"
)

// ErrInvalidConfig is returned when the loaded settings cannot run a node.
var ErrInvalidConfig = errors.New("invalid configuration")

// PoolConfig is a root pool every peer of the session registers.
type PoolConfig struct {
	Name   string
	MinIdx uint32
	MaxIdx uint32
}

func (p PoolConfig) String() string {
	return fmt.Sprintf("%s=%d-%d", p.Name, p.MinIdx, p.MaxIdx)
}

// Config holds all runtime settings of a node.
type Config struct {
	PeerID          string
	Transport       string
	DatabaseURL     string
	SessionID       string
	HTTPAddr        string
	LogLevel        string
	RoundTimeout    time.Duration
	TickInterval    time.Duration
	LeaseTTL        time.Duration
	AllocateRetries uint64
	RetryInterval   time.Duration
	Pools           []PoolConfig
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Transport:       TransportPostgres,
		DatabaseURL:     database.DefaultTestDatabaseURL,
		SessionID:       "demo_session",
		HTTPAddr:        "127.0.0.1:7080",
		LogLevel:        "info",
		RoundTimeout:    5 * time.Second,
		TickInterval:    100 * time.Millisecond,
		LeaseTTL:        10 * time.Second,
		AllocateRetries: 5,
		RetryInterval:   250 * time.Millisecond,
		Pools:           []PoolConfig{{Name: "objects", MinIdx: 0, MaxIdx: 99999}},
	}
}

// RegisterFlags adds one flag per setting to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	var d = Default()
	var pools = make([]string, len(d.Pools))
	for i, p := range d.Pools {
		pools[i] = p.String()
	}

	flags.String(keyConfig, "", "Path of a yaml, toml or json config file")
	flags.String(keyPeerID, "", "Peer identifier (generated when empty)")
	flags.String(keyTransport, d.Transport, "Transport to the other peers: postgres or memory")
	flags.String(keyDatabaseURL, d.DatabaseURL, "PostgreSQL connection URL")
	flags.String(keySessionID, d.SessionID, "Session identifier shared by all peers")
	flags.String(keyHTTPAddr, d.HTTPAddr, "HTTP listen address, empty disables the API")
	flags.String(keyLogLevel, d.LogLevel, "Log level (debug, info, warn, error)")
	flags.Duration(keyRoundTimeout, d.RoundTimeout, "How long a request round waits for responses")
	flags.Duration(keyTickInterval, d.TickInterval, "How often rounds are checked for timeouts")
	flags.Duration(keyLeaseTTL, d.LeaseTTL, "Participant lease time-to-live")
	flags.Uint64(keyAllocateRetries, d.AllocateRetries, "Re-issues of a failed allocation")
	flags.Duration(keyRetryInterval, d.RetryInterval, "Initial backoff between allocation retries")
	flags.StringSlice(keyPools, pools, "Root pools as name=min-max")
}

// Load reads the settings from v. flags may be nil; when given, flags the
// user changed take precedence over every other source.
func Load(v *viper.Viper, flags *pflag.FlagSet) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	// Optional, a missing .env file is not an error.
	_ = godotenv.Load()

	var d = Default()
	v.SetDefault(keyTransport, d.Transport)
	v.SetDefault(keyDatabaseURL, d.DatabaseURL)
	v.SetDefault(keySessionID, d.SessionID)
	v.SetDefault(keyHTTPAddr, d.HTTPAddr)
	v.SetDefault(keyLogLevel, d.LogLevel)
	v.SetDefault(keyRoundTimeout, d.RoundTimeout)
	v.SetDefault(keyTickInterval, d.TickInterval)
	v.SetDefault(keyLeaseTTL, d.LeaseTTL)
	v.SetDefault(keyAllocateRetries, d.AllocateRetries)
	v.SetDefault(keyRetryInterval, d.RetryInterval)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg = Config{
		PeerID:          v.GetString(keyPeerID),
		Transport:       strings.ToLower(v.GetString(keyTransport)),
		DatabaseURL:     v.GetString(keyDatabaseURL),
		SessionID:       v.GetString(keySessionID),
		HTTPAddr:        v.GetString(keyHTTPAddr),
		LogLevel:        v.GetString(keyLogLevel),
		RoundTimeout:    v.GetDuration(keyRoundTimeout),
		TickInterval:    v.GetDuration(keyTickInterval),
		LeaseTTL:        v.GetDuration(keyLeaseTTL),
		AllocateRetries: v.GetUint64(keyAllocateRetries),
		RetryInterval:   v.GetDuration(keyRetryInterval),
		Pools:           d.Pools,
	}

	if v.IsSet(keyPools) {
		var pools, err = ParsePools(v.GetStringSlice(keyPools))
		if err != nil {
			return nil, err
		}
		cfg.Pools = pools
	}

	if cfg.PeerID == "" {
		cfg.PeerID = "node-" + uuid.NewString()[:8]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readConfigFile(v *viper.Viper) error {
	if path := v.GetString(keyConfig); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("idnode")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// ParsePools parses root pools written as name=min-max. Entries may also be
// separated by commas inside one element.
func ParsePools(values []string) ([]PoolConfig, error) {
	var pools []PoolConfig
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			var pool, err = parsePool(item)
			if err != nil {
				return nil, err
			}
			pools = append(pools, pool)
		}
	}
	return pools, nil
}

func parsePool(item string) (PoolConfig, error) {
	var name, bounds, ok = strings.Cut(item, "=")
	if !ok || name == "" {
		return PoolConfig{}, fmt.Errorf("%w: pool %q must look like name=min-max", ErrInvalidConfig, item)
	}
	minText, maxText, ok := strings.Cut(bounds, "-")
	if !ok {
		return PoolConfig{}, fmt.Errorf("%w: pool %q must look like name=min-max", ErrInvalidConfig, item)
	}

	minIdx, err := strconv.ParseUint(strings.TrimSpace(minText), 10, 32)
	if err != nil {
		return PoolConfig{}, fmt.Errorf("%w: pool %q: bad minimum: %w", ErrInvalidConfig, item, err)
	}
	maxIdx, err := strconv.ParseUint(strings.TrimSpace(maxText), 10, 32)
	if err != nil {
		return PoolConfig{}, fmt.Errorf("%w: pool %q: bad maximum: %w", ErrInvalidConfig, item, err)
	}

	return PoolConfig{Name: strings.TrimSpace(name), MinIdx: uint32(minIdx), MaxIdx: uint32(maxIdx)}, nil
}

// Validate checks that the settings can run a node.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: %s requires a database url", ErrInvalidConfig, c.Transport)
		}
		if err := database.ValidateSessionID(c.SessionID); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	case TransportMemory:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.RoundTimeout <= 0 || c.TickInterval <= 0 || c.LeaseTTL <= 0 || c.RetryInterval <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidConfig)
	}

	if len(c.Pools) == 0 {
		return fmt.Errorf("%w: at least one pool is required", ErrInvalidConfig)
	}
	var seen = make(map[string]bool, len(c.Pools))
	for _, p := range c.Pools {
		if seen[p.Name] {
			return fmt.Errorf("%w: pool %q configured twice", ErrInvalidConfig, p.Name)
		}
		seen[p.Name] = true
		if p.MinIdx > p.MaxIdx {
			return fmt.Errorf("%w: pool %s has min > max", ErrInvalidConfig, p)
		}
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level %q: %w", ErrInvalidConfig, c.LogLevel, err)
	}
	return level, nil
}
