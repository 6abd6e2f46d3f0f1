package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/s9927637/arbitrage-trader/internal/config"
	"github.com/s9927637/arbitrage-trader/internal/evaluator"
	"github.com/s9927637/arbitrage-trader/internal/exchange"
	"github.com/s9927637/arbitrage-trader/internal/execution"
	"github.com/s9927637/arbitrage-trader/internal/metrics"
	"github.com/s9927637/arbitrage-trader/internal/notify"
	"github.com/s9927637/arbitrage-trader/internal/pricecache"
	"github.com/s9927637/arbitrage-trader/internal/risk"
	"github.com/s9927637/arbitrage-trader/internal/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var ErrAlreadyRunning = errors.New("bot: already running")

// Feed produces price quotes until ctx is done, closing out on return.
type Feed interface {
	Run(ctx context.Context, out chan<- types.PriceQuote)
}

type Status struct {
	Running        bool
	LastEvaluation time.Time
	LastAttempt    *types.TradeAttempt
}

type Health struct {
	FeedAlive         bool
	ExchangeReachable bool
}

// Bot owns the engine lifecycle: the ingestion actor feeding the price
// cache and the decision actor running evaluate -> gate -> execute. The
// decision actor is single-threaded, so at most one attempt is ever in
// flight system-wide.
type Bot struct {
	cfg      *config.Config
	log      *zap.Logger
	cache    *pricecache.Cache
	eval     *evaluator.Evaluator
	gate     *risk.Engine
	orch     *execution.Orchestrator
	ex       exchange.Exchange
	feed     Feed
	notifier notify.Notifier

	paths    []types.Path
	triggers map[string]struct{} // head-leg symbols that wake the loop
	observer func(types.PathEvaluation)

	lastQuoteNano atomic.Int64

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastEval time.Time
	wake     chan struct{}
}

func New(
	cfg *config.Config,
	cache *pricecache.Cache,
	eval *evaluator.Evaluator,
	gate *risk.Engine,
	orch *execution.Orchestrator,
	ex exchange.Exchange,
	feed Feed,
	notifier notify.Notifier,
	log *zap.Logger,
) *Bot {
	paths := cfg.PathList()
	triggers := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if route, ok := eval.Table().Resolve(p.Assets[0], p.Assets[1]); ok {
			triggers[route.Symbol] = struct{}{}
		}
	}
	return &Bot{
		cfg:      cfg,
		log:      log,
		cache:    cache,
		eval:     eval,
		gate:     gate,
		orch:     orch,
		ex:       ex,
		feed:     feed,
		notifier: notifier,
		paths:    paths,
		triggers: triggers,
		wake:     make(chan struct{}, 1),
	}
}

// SetObserver registers a callback that receives every per-cycle path
// evaluation. Must be called before Start.
func (b *Bot) SetObserver(fn func(types.PathEvaluation)) { b.observer = fn }

// Start spins up the ingestion and decision actors. The ctx bounds the
// whole run; Stop ends it early.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.ingestLoop(runCtx)
	}()
	go func() {
		defer b.wg.Done()
		b.decisionLoop(runCtx)
	}()

	b.log.Info("engine started",
		zap.Int("paths", len(b.paths)),
		zap.Bool("dry_run", b.cfg.DryRun),
	)
	return nil
}

// Stop signals both actors and waits for them. An attempt already past
// its first leg finishes all legs first; stop is only honored between
// cycles and before a new attempt.
func (b *Bot) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.cancel()
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	b.log.Info("engine stopped")
}

func (b *Bot) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Running:        b.running,
		LastEvaluation: b.lastEval,
		LastAttempt:    b.orch.LastAttempt(),
	}
}

func (b *Bot) Health(ctx context.Context) Health {
	var h Health
	if nano := b.lastQuoteNano.Load(); nano > 0 {
		h.FeedAlive = time.Since(time.Unix(0, nano)) <= 2*b.cfg.Staleness()
	}
	h.ExchangeReachable = b.ex.Ping(ctx) == nil
	return h
}

// ingestLoop is the ingestion actor: it drains the feed into the cache
// and nudges the decision actor when a path-head price moves enough.
// It never blocks on exchange calls.
func (b *Bot) ingestLoop(ctx context.Context) {
	quotes := make(chan types.PriceQuote, 1024)
	go b.feed.Run(ctx, quotes)

	anchors := make(map[string]float64, len(b.triggers))
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-quotes:
			if !ok {
				return
			}
			b.cache.Ingest(q)
			b.lastQuoteNano.Store(q.ObservedAt.UnixNano())
			metrics.QuotesIngested.Inc()

			if _, watched := b.triggers[q.Symbol]; !watched {
				continue
			}
			prev := anchors[q.Symbol]
			if prev == 0 {
				anchors[q.Symbol] = q.Price
				continue
			}
			if math.Abs(q.Price-prev)/prev >= b.cfg.Timings.PriceMoveTrigger {
				anchors[q.Symbol] = q.Price
				select {
				case b.wake <- struct{}{}:
				default:
				}
			}
		}
	}
}

// decisionLoop is the decision actor. Timer ticks and price-move wakes
// land on the same entry point, so cycles never overlap.
func (b *Bot) decisionLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.EvalInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.runCycle(ctx)
		case <-b.wake:
			b.runCycle(ctx)
		}
	}
}

func (b *Bot) runCycle(ctx context.Context) {
	snap := b.cache.Snapshot()
	metrics.EvaluationsTotal.Inc()

	b.mu.Lock()
	b.lastEval = snap.TakenAt()
	b.mu.Unlock()

	// Paths with a live attempt are skipped, not queued.
	candidates := make([]types.Path, 0, len(b.paths))
	for _, p := range b.paths {
		if !b.orch.InFlight(p) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return
	}

	if b.observer != nil {
		for _, p := range candidates {
			b.observer(b.eval.Evaluate(p, snap, 1.0))
		}
	}

	// Rank on a unit principal first; profit is linear in principal, so
	// the ordering holds and no balance call is spent on losing paths.
	ranked, ok := b.eval.Best(candidates, snap, 1.0)
	if !ok || ranked.ExpectedProfit <= 0 {
		return
	}

	principal, err := b.sizePrincipal(ctx, ranked.Path.Start())
	if err != nil {
		b.log.Warn("principal sizing failed", zap.Error(err))
		return
	}
	if principal <= 0 {
		return
	}

	eval := b.eval.Evaluate(ranked.Path, snap, principal)
	if !eval.Feasible {
		return
	}
	if b.observer != nil {
		b.observer(eval)
	}
	metrics.BestExpectedProfit.Set(eval.ExpectedProfit)
	if eval.ExpectedProfit < b.cfg.Trade.MinProfitThreshold {
		return
	}

	decision := b.gate.Allow(ctx, eval.Path.Start(), principal)
	if !decision.Allowed {
		metrics.RiskDenialsTotal.WithLabelValues(decision.Reason).Inc()
		b.log.Warn("risk gate denied",
			zap.String("reason", decision.Reason),
			zap.String("path", eval.Path.Key()),
		)
		if err := b.notifier.Notify(ctx, notify.Warning, "risk denied: "+decision.Reason); err != nil {
			b.log.Warn("notify failed", zap.Error(err))
		}
		return
	}

	if b.cfg.DryRun {
		b.log.Info("opportunity (dry-run)",
			zap.String("path", eval.Path.Key()),
			zap.Float64("principal", principal),
			zap.Float64("expected_profit", eval.ExpectedProfit),
			zap.Time("ts", eval.EvaluatedAt),
		)
		return
	}

	// Stop requested while we were evaluating: no new attempt.
	if ctx.Err() != nil {
		return
	}

	if _, err := b.orch.Execute(ctx, eval); err != nil && !errors.Is(err, execution.ErrAttemptInFlight) {
		b.log.Error("execution failed", zap.String("path", eval.Path.Key()), zap.Error(err))
	}
}

// sizePrincipal follows the sizing rule: a fraction of the free
// starting-asset balance, clamped to the configured bounds. Below the
// minimum the cycle is skipped rather than padded up.
func (b *Bot) sizePrincipal(ctx context.Context, asset string) (float64, error) {
	bal, err := b.ex.GetBalance(ctx, asset)
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", asset, err)
	}
	principal := bal.Free * b.cfg.Trade.PrincipalFraction
	if principal < b.cfg.Trade.MinTradeAmount {
		return 0, nil
	}
	if max := b.cfg.Trade.MaxTradeAmount; max > 0 && principal > max {
		principal = max
	}
	return principal, nil
}

// NewLogger builds the production JSON logger used by the binaries.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	return cfg.Build()
}
