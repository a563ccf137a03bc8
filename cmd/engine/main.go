package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/papermarket/engine/params"
	"github.com/papermarket/engine/pkg/api"
	"github.com/papermarket/engine/pkg/engine"
	"github.com/papermarket/engine/pkg/engine/instrument"
	"github.com/papermarket/engine/pkg/engine/ledger"
	"github.com/papermarket/engine/pkg/engine/settle"
	"github.com/papermarket/engine/pkg/engine/store"
	"github.com/papermarket/engine/pkg/util"
)

// marketInterval is the lifetime of each generated BTC up/down market pair.
const marketInterval = 15 * time.Minute

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/engine.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("logger_initialized", zap.String("log_file", logFile))

	// ---- Storage (optional) ----
	var st *store.Store
	if cfg.Storage.Enabled {
		st, err = store.Open(cfg.Storage.Path)
		if err != nil {
			logger.Fatal("store_open_failed", zap.Error(err))
		}
		defer st.Close()
		logger.Info("store_opened", zap.String("path", cfg.Storage.Path))
	}

	// ---- Core ----
	reg := instrument.NewRegistry()
	led := ledger.New(cfg.Engine.StartingBalance, logger)
	if st != nil {
		views, err := st.Accounts()
		if err != nil {
			logger.Error("account_recovery_failed", zap.Error(err))
		} else if len(views) > 0 {
			led.Restore(views)
			logger.Info("accounts_restored", zap.Int("count", len(views)))
		}
	}
	eng := engine.New(cfg.Engine, reg, led, st, util.RealClock{}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Market generation ----
	// A fresh BTC up/down pair every interval. A real deployment drives this
	// (and outcome resolution) from a price oracle; here the winner is drawn
	// at random so the full lifecycle can be exercised locally. Disable with
	// DEMO_MARKET=false when an external generator feeds the registry.
	if os.Getenv("DEMO_MARKET") != "false" {
		go runMarketGenerator(ctx, reg, logger)
	}

	// PairResolver draws once per market pair; a per-token draw could crown
	// both outcome tokens and pay out both sides.
	resolver := settle.NewPairResolver(func(inst *instrument.Instrument) string {
		if rand.Intn(2) == 0 {
			return inst.TokenID
		}
		return inst.PairedTokenID
	})

	scheduler := settle.NewScheduler(eng, reg, resolver, util.RealClock{}, cfg.Settlement.PollInterval, logger)
	go scheduler.Run(ctx)

	// ---- API server ----
	apiServer := api.NewServer(eng, cfg.API, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal("api_server_failed", zap.Error(err))
		}
	}()

	logger.Info("engine_started",
		zap.String("api_addr", cfg.API.Addr),
		zap.String("starting_balance", cfg.Engine.StartingBalance.String()),
		zap.Int64("taker_fee_bps", cfg.Engine.TakerFeeBps),
		zap.String("self_trade_policy", string(cfg.Engine.SelfTrade)))

	<-ctx.Done()
	logger.Info("engine_stopped")
}

// runMarketGenerator registers a BTC-UP/BTC-DOWN token pair for each interval
// window, aligned to the wall clock.
func runMarketGenerator(ctx context.Context, reg *instrument.Registry, logger *zap.Logger) {
	tick := decimal.RequireFromString("0.001")

	register := func(now time.Time) {
		windowStart := now.Truncate(marketInterval)
		expiry := windowStart.Add(marketInterval)
		upID := fmt.Sprintf("BTC-UP-%d", windowStart.Unix())
		downID := fmt.Sprintf("BTC-DOWN-%d", windowStart.Unix())

		if reg.Exists(upID) {
			return
		}
		for _, inst := range []*instrument.Instrument{
			{TokenID: upID, PairedTokenID: downID, TickSize: tick, Expiry: expiry},
			{TokenID: downID, PairedTokenID: upID, TickSize: tick, Expiry: expiry},
		} {
			if err := reg.Register(inst); err != nil {
				logger.Error("market_register_failed",
					zap.String("token", inst.TokenID),
					zap.Error(err))
				return
			}
		}
		logger.Info("market_registered",
			zap.String("up", upID),
			zap.String("down", downID),
			zap.Time("expiry", expiry))
	}

	register(time.Now())
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			register(now)
		}
	}
}
