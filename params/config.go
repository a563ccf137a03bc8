package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// SelfTradePolicy controls what happens when an incoming order would cross a
// resting order from the same owner. The exchange protocol this mirrors does
// not document the behavior, so both interpretations are supported.
type SelfTradePolicy string

const (
	// SelfTradeSkip passes over the owner's own resting orders and keeps
	// matching against the rest of the book.
	SelfTradeSkip SelfTradePolicy = "skip"
	// SelfTradeReject fails the incoming order outright (wash-trade style).
	SelfTradeReject SelfTradePolicy = "reject"
)

type Engine struct {
	// StartingBalance is the virtual cash every account begins with.
	StartingBalance decimal.Decimal

	// TakerFeeBps is the taker fee in basis points of notional (20 = 0.2%).
	// Makers pay no fee.
	TakerFeeBps int64

	// MinOrderSize is the smallest accepted order size.
	MinOrderSize decimal.Decimal

	SelfTrade SelfTradePolicy

	// LockWait bounds how long an operation waits for an instrument's
	// critical section before it is reported as busy to the caller.
	LockWait time.Duration
}

// TakerFeeRate returns the taker fee as a decimal fraction (20 bps → 0.002).
func (e Engine) TakerFeeRate() decimal.Decimal {
	return decimal.New(e.TakerFeeBps, -4)
}

type Settlement struct {
	// PollInterval is how often the scheduler scans for expired instruments.
	PollInterval time.Duration
}

type API struct {
	Addr           string
	AllowedOrigins []string
}

type Storage struct {
	// Enabled turns on the pebble-backed trade/account store.
	Enabled bool
	Path    string
}

type Config struct {
	Engine     Engine
	Settlement Settlement
	API        API
	Storage    Storage
}

func Default() Config {
	return Config{
		Engine: Engine{
			StartingBalance: decimal.NewFromInt(10000),
			TakerFeeBps:     20,
			MinOrderSize:    decimal.RequireFromString("0.1"),
			SelfTrade:       SelfTradeSkip,
			LockWait:        250 * time.Millisecond,
		},
		Settlement: Settlement{
			PollInterval: 5 * time.Second,
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Storage: Storage{
			Enabled: true,
			Path:    "./data/engine.db",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("STARTING_BALANCE"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && d.IsPositive() {
			cfg.Engine.StartingBalance = d
		}
	}
	if v := os.Getenv("TAKER_FEE_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cfg.Engine.TakerFeeBps = n
		}
	}
	if v := os.Getenv("MIN_ORDER_SIZE"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && d.IsPositive() {
			cfg.Engine.MinOrderSize = d
		}
	}
	if v := os.Getenv("SELF_TRADE_POLICY"); v != "" {
		switch SelfTradePolicy(v) {
		case SelfTradeSkip, SelfTradeReject:
			cfg.Engine.SelfTrade = SelfTradePolicy(v)
		}
	}
	cfg.Engine.LockWait = envDuration("LOCK_WAIT", cfg.Engine.LockWait)
	cfg.Settlement.PollInterval = envDuration("SETTLE_POLL_INTERVAL", cfg.Settlement.PollInterval)

	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("STORE_ENABLED"); v != "" {
		cfg.Storage.Enabled = v == "true"
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		cfg.Storage.Path = v
	}

	return cfg
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
