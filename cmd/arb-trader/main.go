package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/s9927637/arbitrage-trader/internal/bot"
	"github.com/s9927637/arbitrage-trader/internal/config"
	"github.com/s9927637/arbitrage-trader/internal/dash"
	"github.com/s9927637/arbitrage-trader/internal/evaluator"
	"github.com/s9927637/arbitrage-trader/internal/exchange/binance"
	"github.com/s9927637/arbitrage-trader/internal/execution"
	"github.com/s9927637/arbitrage-trader/internal/journal"
	"github.com/s9927637/arbitrage-trader/internal/metrics"
	"github.com/s9927637/arbitrage-trader/internal/notify"
	"github.com/s9927637/arbitrage-trader/internal/pricecache"
	"github.com/s9927637/arbitrage-trader/internal/ratelimit"
	"github.com/s9927637/arbitrage-trader/internal/risk"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	logger, err := bot.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Binance.ApiKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.Binance.ApiSecret = v
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("config rejected", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Warn("received signal, shutting down")
		cancel()
	}()

	metrics.Serve(ctx, cfg.Metrics.ListenAddr, nil, logger)

	apiLimiter := ratelimit.New(cfg.Limits.APIRateCapacity, cfg.APIRateWindow())
	client, err := binance.NewClient(cfg, apiLimiter, logger)
	if err != nil {
		logger.Fatal("binance client init failed", zap.Error(err))
	}
	if err := client.Ping(ctx); err != nil {
		logger.Fatal("exchange unreachable", zap.Error(err))
	}

	symbols := make([]string, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		symbols = append(symbols, p.Symbol)
	}
	feed := binance.NewWS(cfg.Binance.WsURL, symbols, logger)

	var sink journal.Sink = journal.Nop{}
	if cfg.Redis.Addr != "" {
		sink = journal.NewRecorder(cfg)
	}

	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			logger.Fatal("telegram init failed", zap.Error(err))
		}
		notifiers = append(notifiers, tg)
	}

	cache := pricecache.New(cfg.Staleness())
	table := evaluator.NewSymbolTable(cfg.Pairs)
	eval := evaluator.New(table, cfg.Trade.FeeRatePerLeg, cfg.Trade.SlippageTolerance)
	ledger := risk.NewLedger(risk.DayWindow)
	gate := risk.NewEngine(cfg, client, ledger, logger)
	orders := ratelimit.New(cfg.Limits.OrderRateCapacity, cfg.OrderRateWindow())
	orch := execution.NewOrchestrator(cfg, client, orders, table, ledger, sink, notifiers, logger)

	b := bot.New(cfg, cache, eval, gate, orch, client, feed, notifiers, logger)

	store := dash.NewStore()
	b.SetObserver(store.Update)
	if cfg.Dash.ListenAddr != "" {
		go dash.StartHTTP(ctx, store, b, cfg.Dash.ListenAddr, logger)
	}

	if err := b.Start(ctx); err != nil {
		logger.Fatal("engine start failed", zap.Error(err))
	}

	<-ctx.Done()
	b.Stop()
}
