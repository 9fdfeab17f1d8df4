// Package main provides the entry point for the trading engine process: a
// multi-stream, multi-strategy trader running in paper, live, or backtest
// mode, with a read-only Status API for paper/live runs.
package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benedict-anokye/forgetrade/internal/api"
	"github.com/benedict-anokye/forgetrade/internal/backtest"
	"github.com/benedict-anokye/forgetrade/internal/broker"
	"github.com/benedict-anokye/forgetrade/internal/broker/mock"
	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/benedict-anokye/forgetrade/internal/engine"
	"github.com/benedict-anokye/forgetrade/internal/persistence"
	"github.com/benedict-anokye/forgetrade/internal/risk"
	"github.com/benedict-anokye/forgetrade/internal/status"
	"github.com/benedict-anokye/forgetrade/internal/strategy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	mode := flag.String("mode", "paper", "Run mode: paper, live, or backtest")
	addr := flag.String("addr", ":8080", "Status API listen address (paper/live only)")
	dbPath := flag.String("db", "./forgetrade.db", "SQLite database path")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	startingEquity := flag.Float64("starting-equity", 10000, "Starting account equity")
	maxDrawdownPct := flag.Float64("max-drawdown-pct", 10, "Drawdown Supervisor latch threshold, percent")
	pollInterval := flag.Duration("poll-interval", 30*time.Second, "Per-stream poll interval")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	runMode := types.Mode(*mode)
	if runMode != types.ModePaper && runMode != types.ModeLive && runMode != types.ModeBacktest {
		logger.Fatal("invalid mode", zap.String("mode", *mode))
	}

	logger.Info("starting forgetrade engine",
		zap.String("mode", *mode), zap.String("db", *dbPath), zap.Float64("starting_equity", *startingEquity))

	store, err := persistence.Open(*dbPath)
	if err != nil {
		logger.Fatal("failed to open persistence store", zap.Error(err))
	}
	defer store.Close()

	equity := decimal.NewFromFloat(*startingEquity)
	registry := strategy.NewRegistry()
	drawdown := risk.NewDrawdownSupervisor(logger, equity, decimal.NewFromFloat(*maxDrawdownPct))
	breakers := risk.NewBreakerFactory(logger, prometheus.DefaultRegisterer)

	// The broker HTTP client is an out-of-scope external collaborator; the
	// in-memory mock stands in as the only pluggable broker.Broker
	// implementation available to this binary, seeded with synthetic
	// candle history so the strategy pipeline has data to evaluate.
	brk := mock.New(broker.Account{Equity: equity, Balance: equity})
	streams := defaultStreams(*pollInterval)
	histories := seedSyntheticHistory(streams)
	for instrument, byGranularity := range histories {
		for g, series := range byGranularity {
			brk.SeedCandles(instrument, g, series)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if runMode == types.ModeBacktest {
		runBacktest(ctx, logger, registry, store, streams, histories, equity)
		return
	}

	manager := engine.NewManager(logger, registry, drawdown, breakers, store, brk, runMode)
	for _, cfg := range streams {
		if err := manager.AddStream(cfg); err != nil {
			logger.Fatal("failed to register stream", zap.String("stream", cfg.Name), zap.Error(err))
		}
	}

	manager.StartAll(ctx)
	logger.Info("engine manager started", zap.Int("stream_count", len(streams)))

	projection := status.New(manager, store, drawdown, registry)
	server := api.NewServer(logger, *addr, projection, manager, store, brk)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("status api server error", zap.Error(err))
		}
	}()
	logger.Info("status api listening", zap.String("addr", *addr))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	manager.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("status api shutdown error", zap.Error(err))
	}

	logger.Info("forgetrade engine stopped")
}

func runBacktest(ctx context.Context, logger *zap.Logger, registry *strategy.Registry, store *persistence.Store, streams []types.StreamConfig, histories map[string]map[types.Granularity][]types.Candle, startingEquity decimal.Decimal) {
	runner := backtest.NewRunner(logger, registry, store)
	for _, cfg := range streams {
		stats, err := runner.Run(ctx, backtest.Config{
			Stream: cfg, Histories: histories[cfg.Instrument], StartingEquity: startingEquity,
		})
		if err != nil {
			logger.Error("backtest run failed", zap.String("stream", cfg.Name), zap.Error(err))
			continue
		}
		logger.Info("backtest complete",
			zap.String("stream", cfg.Name),
			zap.Int("total_trades", stats.TotalTrades),
			zap.String("win_rate", stats.WinRate.String()),
			zap.String("profit_factor", stats.ProfitFactor.String()),
			zap.String("sharpe", stats.Sharpe.String()),
			zap.String("max_drawdown_pct", stats.MaxDrawdown.String()),
			zap.String("net_pnl", stats.NetPnL.String()),
		)
	}
}

// defaultStreams wires one stream per built-in strategy. Stream
// configuration loading from a file or environment is an out-of-scope
// external collaborator; these defaults are the in-process equivalent.
func defaultStreams(pollInterval time.Duration) []types.StreamConfig {
	return []types.StreamConfig{
		{
			Name: "eurusd-sr-rejection", Instrument: "EUR_USD", StrategyID: "sr_rejection",
			Granularities: []types.Granularity{types.H4, types.D1}, PollInterval: pollInterval,
			RiskPercentPerTrade: decimal.NewFromInt(1), MaxConcurrentPositions: 2,
			TargetRR: decimal.NewFromInt(2), SessionStartHour: 7, SessionEndHour: 20, Enabled: true,
		},
		{
			Name: "eurusd-momentum-scalp", Instrument: "EUR_USD", StrategyID: "momentum_scalp",
			Granularities: []types.Granularity{types.M1, types.M5}, PollInterval: pollInterval,
			RiskPercentPerTrade: decimal.NewFromInt(1), MaxConcurrentPositions: 1,
			TargetRR: decimal.NewFromFloat(1.5), SessionStartHour: 7, SessionEndHour: 20, Enabled: true,
		},
		{
			Name: "xauusd-mean-reversion", Instrument: "XAU_USD", StrategyID: "mean_reversion",
			Granularities: []types.Granularity{types.M15, types.H1, types.H4}, PollInterval: pollInterval,
			RiskPercentPerTrade: decimal.NewFromInt(1), MaxConcurrentPositions: 1,
			TargetRR: decimal.NewFromInt(2), SessionStartHour: 0, SessionEndHour: 24, Enabled: true,
		},
	}
}

// seedSyntheticHistory generates a deterministic pseudo-random-walk candle
// history per instrument/granularity pair, long enough to prime every
// indicator's lookback window. This is development/demo data, not a market
// data feed — loading real historical data is an out-of-scope external
// collaborator.
func seedSyntheticHistory(streams []types.StreamConfig) map[string]map[types.Granularity][]types.Candle {
	out := make(map[string]map[types.Granularity][]types.Candle)
	for _, cfg := range streams {
		if _, ok := out[cfg.Instrument]; !ok {
			out[cfg.Instrument] = make(map[types.Granularity][]types.Candle)
		}
		base := decimal.NewFromFloat(1.10000)
		if cfg.Instrument == "XAU_USD" {
			base = decimal.NewFromFloat(2300.00)
		}
		for _, g := range cfg.Granularities {
			out[cfg.Instrument][g] = generateWalk(cfg.Instrument, g, base, 400)
		}
	}
	return out
}

func generateWalk(instrument string, g types.Granularity, start decimal.Decimal, count int) []types.Candle {
	src := rand.New(rand.NewSource(seedFor(instrument, g)))
	step := decimal.NewFromFloat(0.0005)
	if instrument == "XAU_USD" {
		step = decimal.NewFromFloat(0.6)
	}

	candles := make([]types.Candle, 0, count)
	price := start
	ts := time.Now().Add(-granularityDuration(g) * time.Duration(count))
	for i := 0; i < count; i++ {
		delta := step.Mul(decimal.NewFromFloat(src.Float64()*2 - 1))
		open := price
		close := open.Add(delta)
		high := decimal.Max(open, close).Add(step.Mul(decimal.NewFromFloat(src.Float64() * 0.5)))
		low := decimal.Min(open, close).Sub(step.Mul(decimal.NewFromFloat(src.Float64() * 0.5)))
		candles = append(candles, types.Candle{
			Instrument: instrument, Granularity: g, Timestamp: ts,
			Open: open, High: high, Low: low, Close: close, Volume: decimal.NewFromInt(1000),
		})
		price = close
		ts = ts.Add(granularityDuration(g))
	}
	return candles
}

func seedFor(instrument string, g types.Granularity) int64 {
	var h int64 = 1469598103934665603
	for _, r := range instrument + "|" + string(g) {
		h ^= int64(r)
		h *= 1099511628211
	}
	return h
}

func granularityDuration(g types.Granularity) time.Duration {
	switch g {
	case types.M1:
		return time.Minute
	case types.M5:
		return 5 * time.Minute
	case types.M15:
		return 15 * time.Minute
	case types.H1:
		return time.Hour
	case types.H4:
		return 4 * time.Hour
	case types.D1:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
