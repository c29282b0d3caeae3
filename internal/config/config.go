// Package config loads tracker configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Well-known mints on the network.
const (
	// WSOLMint is the wrapped network token mint.
	WSOLMint = "So11111111111111111111111111111111111111112"
	// USDCMint and USDTMint are the default stablecoins.
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// Config holds every runtime option of the tracker.
type Config struct {
	// Protocol identity.
	PrimaryTokenMint string
	StableMints      []string
	DEXProgramID     string

	// Upstream endpoints.
	DEXAPIURL      string
	DEXWSURL       string
	RPCEndpoint    string
	RPCWSEndpoint  string
	RPCAPIKey      string
	BirdeyeURL     string
	BirdeyeAPIKey  string
	DexScreenerURL string
	CoinGeckoURL   string
	SolscanURL     string

	// Storage.
	PostgresDSN   string
	ClickhouseDSN string
	UseMemory     bool

	// Intervals.
	WSReconnectBase   time.Duration
	PoolRefresh       time.Duration
	PriceRefresh      time.Duration
	TradesPoll        time.Duration
	PortfolioAutoSync time.Duration
	SaveDebounce      time.Duration

	// Caps.
	MaxWalletsPerUser int
	MaxWatchlistItems int
	MaxRecentAlerts   int
	MaxCacheSize      int

	// Daily digest broadcast time (UTC).
	DailyDigestHour   int
	DailyDigestMinute int

	Debug bool
}

// Default returns the built-in defaults for everything but endpoints.
func Default() *Config {
	return &Config{
		StableMints:       []string{USDCMint, USDTMint},
		WSReconnectBase:   15 * time.Second,
		PoolRefresh:       5 * time.Minute,
		PriceRefresh:      5 * time.Minute,
		TradesPoll:        time.Minute,
		PortfolioAutoSync: 5 * time.Minute,
		SaveDebounce:      2 * time.Second,
		MaxWalletsPerUser: 10,
		MaxWatchlistItems: 20,
		MaxRecentAlerts:   50,
		MaxCacheSize:      10000,
		DailyDigestHour:   9,
		DailyDigestMinute: 0,
	}
}

// Load reads configuration from the environment on top of defaults.
// A .env file in the working directory is loaded first without overriding
// variables already set.
func Load() (*Config, error) {
	LoadEnvFile(".env")

	cfg := Default()

	cfg.PrimaryTokenMint = os.Getenv("PRIMARY_TOKEN_MINT")
	cfg.DEXProgramID = os.Getenv("DEX_PROGRAM_ID")
	if v := os.Getenv("STABLE_MINTS"); v != "" {
		cfg.StableMints = splitList(v)
	}

	cfg.DEXAPIURL = os.Getenv("DEX_API_URL")
	cfg.DEXWSURL = os.Getenv("DEX_WS_URL")
	cfg.RPCEndpoint = os.Getenv("RPC_ENDPOINT")
	cfg.RPCWSEndpoint = os.Getenv("RPC_WS_ENDPOINT")
	cfg.RPCAPIKey = os.Getenv("RPC_API_KEY")
	cfg.BirdeyeURL = envOr("BIRDEYE_URL", "https://public-api.birdeye.so")
	cfg.BirdeyeAPIKey = os.Getenv("BIRDEYE_API_KEY")
	cfg.DexScreenerURL = envOr("DEXSCREENER_URL", "https://api.dexscreener.com")
	cfg.CoinGeckoURL = envOr("COINGECKO_URL", "https://api.coingecko.com")
	cfg.SolscanURL = envOr("SOLSCAN_URL", "https://public-api.solscan.io")

	cfg.PostgresDSN = os.Getenv("POSTGRES_DSN")
	cfg.ClickhouseDSN = os.Getenv("CLICKHOUSE_DSN")
	cfg.UseMemory = envBool("USE_MEMORY", false)

	var err error
	if cfg.WSReconnectBase, err = envMillis("WS_RECONNECT_BASE_MS", cfg.WSReconnectBase); err != nil {
		return nil, err
	}
	if cfg.PoolRefresh, err = envMillis("POOL_REFRESH_MS", cfg.PoolRefresh); err != nil {
		return nil, err
	}
	if cfg.PriceRefresh, err = envMillis("PRICE_REFRESH_MS", cfg.PriceRefresh); err != nil {
		return nil, err
	}
	if cfg.TradesPoll, err = envMillis("TRADES_POLL_MS", cfg.TradesPoll); err != nil {
		return nil, err
	}
	if cfg.PortfolioAutoSync, err = envMillis("PORTFOLIO_AUTO_SYNC_MS", cfg.PortfolioAutoSync); err != nil {
		return nil, err
	}
	if cfg.SaveDebounce, err = envMillis("SAVE_DEBOUNCE_MS", cfg.SaveDebounce); err != nil {
		return nil, err
	}

	if cfg.MaxWalletsPerUser, err = envInt("MAX_WALLETS_PER_USER", cfg.MaxWalletsPerUser); err != nil {
		return nil, err
	}
	if cfg.MaxWatchlistItems, err = envInt("MAX_WATCHLIST_ITEMS", cfg.MaxWatchlistItems); err != nil {
		return nil, err
	}
	if cfg.MaxRecentAlerts, err = envInt("MAX_RECENT_ALERTS", cfg.MaxRecentAlerts); err != nil {
		return nil, err
	}
	if cfg.MaxCacheSize, err = envInt("MAX_CACHE_SIZE", cfg.MaxCacheSize); err != nil {
		return nil, err
	}
	if cfg.DailyDigestHour, err = envInt("DAILY_DIGEST_HOUR", cfg.DailyDigestHour); err != nil {
		return nil, err
	}
	if cfg.DailyDigestMinute, err = envInt("DAILY_DIGEST_MINUTE", cfg.DailyDigestMinute); err != nil {
		return nil, err
	}
	cfg.Debug = envBool("DEBUG", false)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and required identity fields.
func (c *Config) Validate() error {
	if c.DEXProgramID == "" {
		return fmt.Errorf("config: DEX_PROGRAM_ID is required")
	}
	if c.PrimaryTokenMint == "" {
		return fmt.Errorf("config: PRIMARY_TOKEN_MINT is required")
	}
	if c.DailyDigestHour < 0 || c.DailyDigestHour > 23 {
		return fmt.Errorf("config: DAILY_DIGEST_HOUR %d out of range 0..23", c.DailyDigestHour)
	}
	if c.DailyDigestMinute < 0 || c.DailyDigestMinute > 59 {
		return fmt.Errorf("config: DAILY_DIGEST_MINUTE %d out of range 0..59", c.DailyDigestMinute)
	}
	if c.MaxWalletsPerUser <= 0 || c.MaxWatchlistItems <= 0 || c.MaxRecentAlerts <= 0 || c.MaxCacheSize <= 0 {
		return fmt.Errorf("config: caps must be positive")
	}
	return nil
}

// IsStable reports whether the mint is in the configured stablecoin set.
func (c *Config) IsStable(mint string) bool {
	for _, m := range c.StableMints {
		if m == mint {
			return true
		}
	}
	return false
}

// LoadEnvFile loads KEY=VALUE lines without overriding existing variables.
func LoadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envMillis(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return time.Duration(n) * time.Millisecond, nil
}
