package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/s9927637/arbitrage-trader/internal/config"
	"github.com/s9927637/arbitrage-trader/internal/evaluator"
	"github.com/s9927637/arbitrage-trader/internal/exchange"
	"github.com/s9927637/arbitrage-trader/internal/journal"
	"github.com/s9927637/arbitrage-trader/internal/metrics"
	"github.com/s9927637/arbitrage-trader/internal/notify"
	"github.com/s9927637/arbitrage-trader/internal/ratelimit"
	"github.com/s9927637/arbitrage-trader/internal/risk"
	"github.com/s9927637/arbitrage-trader/internal/types"
	"go.uber.org/zap"
)

// ErrAttemptInFlight means a non-terminal attempt already exists for the
// path; the caller skips this cycle instead of queueing.
var ErrAttemptInFlight = errors.New("execution: attempt already in flight for path")

// Attempt failure reasons.
const (
	ReasonSlippageExceeded   = "slippage_exceeded"
	ReasonBusinessReject     = "business_reject"
	ReasonTransientExhausted = "transient_exhausted"
	ReasonPriceUnavailable   = "price_unavailable"
	ReasonNoFill             = "no_fill"
	ReasonCanceled           = "canceled"
)

const reportTimeout = 5 * time.Second

// Orchestrator drives the leg-by-leg execution of an approved path.
// Filled legs are never unwound: spot fills are final, so a failure
// mid-cycle leaves the attempt as PartialFailure with whatever filled.
type Orchestrator struct {
	cfg      *config.Config
	ex       exchange.Exchange
	orders   *ratelimit.Limiter
	table    *evaluator.SymbolTable
	ledger   *risk.Ledger
	sink     journal.Sink
	notifier notify.Notifier
	retry    RetryPolicy
	log      *zap.Logger

	mu     sync.Mutex
	active map[string]*types.TradeAttempt
	last   *types.TradeAttempt
}

func NewOrchestrator(
	cfg *config.Config,
	ex exchange.Exchange,
	orders *ratelimit.Limiter,
	table *evaluator.SymbolTable,
	ledger *risk.Ledger,
	sink journal.Sink,
	notifier notify.Notifier,
	log *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		ex:       ex,
		orders:   orders,
		table:    table,
		ledger:   ledger,
		sink:     sink,
		notifier: notifier,
		retry:    RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, BackoffBase: cfg.BackoffBase()},
		log:      log,
		active:   make(map[string]*types.TradeAttempt, 4),
	}
}

// InFlight reports whether path has a non-terminal attempt.
func (o *Orchestrator) InFlight(path types.Path) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.active[path.Key()]
	return ok && !a.Status.Terminal()
}

// LastAttempt returns a copy of the most recent attempt, if any.
func (o *Orchestrator) LastAttempt() *types.TradeAttempt {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil
	}
	cp := *o.last
	cp.Legs = append([]types.LegResult(nil), o.last.Legs...)
	return &cp
}

// Execute runs one attempt for an evaluation that already cleared the
// profit threshold and the risk gate. It blocks until the attempt is
// terminal and reported.
func (o *Orchestrator) Execute(ctx context.Context, eval types.PathEvaluation) (*types.TradeAttempt, error) {
	path := eval.Path

	o.mu.Lock()
	if a, ok := o.active[path.Key()]; ok && !a.Status.Terminal() {
		o.mu.Unlock()
		return nil, ErrAttemptInFlight
	}
	attempt := &types.TradeAttempt{
		ID:             uuid.NewString(),
		Path:           path,
		Requested:      eval.Principal,
		ExpectedProfit: eval.ExpectedProfit,
		Status:         types.AttemptExecuting,
		StartedAt:      time.Now(),
	}
	o.active[path.Key()] = attempt
	o.last = attempt
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.active, path.Key())
		o.mu.Unlock()
	}()

	// The leg sequence runs detached from the caller's context: once an
	// attempt is executing it runs to a terminal status even if shutdown
	// starts, so an order that may already have reached the exchange is
	// never abandoned. The per-order timeout still bounds each call.
	legCtx := context.WithoutCancel(ctx)

	// Top up the fee asset before the reference balance is taken so the
	// realized-profit delta is not polluted by the top-up spend.
	o.topUpFeeAsset(legCtx)
	startBal, startBalErr := o.ex.GetBalance(legCtx, path.Start())

	amount := eval.Principal
	for i := 0; i < path.Legs(); i++ {
		from, to := path.Assets[i], path.Assets[i+1]
		route, ok := o.table.Resolve(from, to)
		if !ok {
			o.fail(attempt, evaluator.ReasonMissingPair)
			break
		}

		if err := o.orders.Acquire(legCtx, 1); err != nil {
			o.fail(attempt, ReasonCanceled)
			break
		}

		if reason := o.checkSlippage(legCtx, route, eval, i); reason != "" {
			o.fail(attempt, reason)
			break
		}

		leg := types.LegResult{Symbol: route.Symbol, Side: route.Side, Requested: amount}
		legStart := time.Now()
		var fill exchange.Fill
		err := o.retry.Do(legCtx, func() error {
			octx, cancel := context.WithTimeout(legCtx, o.cfg.OrderTimeout())
			defer cancel()
			var e error
			fill, e = o.ex.SubmitMarketOrder(octx, route.Symbol, route.Side, amount)
			return e
		})
		metrics.LegLatency.Observe(time.Since(legStart).Seconds())
		if err != nil {
			leg.Outcome = types.LegFailed
			leg.Error = err.Error()
			attempt.Legs = append(attempt.Legs, leg)
			if exchange.IsBusinessReject(err) {
				o.fail(attempt, ReasonBusinessReject)
			} else {
				o.fail(attempt, ReasonTransientExhausted)
			}
			o.log.Error("leg failed",
				zap.String("attempt", attempt.ID),
				zap.String("symbol", route.Symbol),
				zap.Int("leg", i),
				zap.Error(err),
			)
			break
		}

		received := fill.BaseQty
		if route.Side == evaluator.SideSell {
			received = fill.QuoteQty
		}
		if received <= 0 {
			leg.Outcome = types.LegFailed
			leg.Error = "order produced no fill"
			attempt.Legs = append(attempt.Legs, leg)
			o.fail(attempt, ReasonNoFill)
			break
		}

		leg.Filled = received
		leg.Price = fill.AvgPrice
		leg.Outcome = types.LegFilled
		attempt.Legs = append(attempt.Legs, leg)
		amount = received
	}

	attempt.EndedAt = time.Now()
	if attempt.Status != types.AttemptPartialFailure {
		attempt.Status = types.AttemptCompleted
		attempt.RealizedProfit = o.realizedProfit(legCtx, path.Start(), startBal, startBalErr, amount-eval.Principal)
	}
	if attempt.FilledLegs() > 0 {
		o.ledger.Add(eval.Principal)
	}
	metrics.AttemptsTotal.WithLabelValues(string(attempt.Status)).Inc()

	o.report(attempt)
	return attempt, nil
}

func (o *Orchestrator) fail(a *types.TradeAttempt, reason string) {
	a.Status = types.AttemptPartialFailure
	if a.Reason == "" {
		a.Reason = reason
	}
}

// checkSlippage compares the freshest top-of-book against the price the
// decision was made on. Returns a non-empty reason when the leg must
// not fire.
func (o *Orchestrator) checkSlippage(ctx context.Context, route evaluator.Route, eval types.PathEvaluation, leg int) string {
	if leg >= len(eval.LegPrices) {
		return ""
	}
	ref := eval.LegPrices[leg]
	if ref <= 0 {
		return ""
	}
	tob, err := o.ex.TopOfBook(ctx, route.Symbol)
	if err != nil {
		o.log.Warn("slippage check: no fresh price", zap.String("symbol", route.Symbol), zap.Error(err))
		return ReasonPriceUnavailable
	}
	px := tob.Ask
	if route.Side == evaluator.SideSell {
		px = tob.Bid
	}
	if math.Abs(px-ref)/ref > o.cfg.Trade.SlippageTolerance {
		o.log.Warn("slippage above tolerance",
			zap.String("symbol", route.Symbol),
			zap.Float64("reference", ref),
			zap.Float64("current", px),
		)
		return ReasonSlippageExceeded
	}
	return ""
}

// realizedProfit prefers the actual balance delta of the starting asset
// over the chained estimate.
func (o *Orchestrator) realizedProfit(ctx context.Context, asset string, startBal types.Balance, startBalErr error, estimate float64) float64 {
	if startBalErr != nil {
		return estimate
	}
	endBal, err := o.ex.GetBalance(ctx, asset)
	if err != nil {
		o.log.Warn("realized profit: balance unavailable, using estimate", zap.Error(err))
		return estimate
	}
	return endBal.Free - startBal.Free
}

// topUpFeeAsset keeps a small fee-asset buffer (BNB) so trading fees get
// the discounted rate. Best-effort: failure never blocks the attempt.
func (o *Orchestrator) topUpFeeAsset(ctx context.Context) {
	feeAsset := o.cfg.Trade.FeeAsset
	if feeAsset == "" || o.cfg.Trade.FeeAssetFloor <= 0 {
		return
	}
	bal, err := o.ex.GetBalance(ctx, feeAsset)
	if err != nil || bal.Free >= o.cfg.Trade.FeeAssetFloor {
		return
	}
	route, ok := o.table.Resolve("USDT", feeAsset)
	if !ok {
		route = evaluator.Route{Symbol: feeAsset + "USDT", Side: evaluator.SideBuy}
	}
	usdt, err := o.ex.GetBalance(ctx, "USDT")
	if err != nil || usdt.Free <= 0 {
		return
	}
	spend := usdt.Free * o.cfg.Trade.FeeTopUpFraction
	if err := o.orders.Acquire(ctx, 1); err != nil {
		return
	}
	if _, err := o.ex.SubmitMarketOrder(ctx, route.Symbol, route.Side, spend); err != nil {
		o.log.Warn("fee asset top-up failed", zap.String("asset", feeAsset), zap.Error(err))
		return
	}
	o.log.Info("bought fee asset", zap.String("asset", feeAsset), zap.Float64("spent", spend))
}

// report hands the terminal attempt to the sinks. A fresh context keeps
// reporting alive through shutdown; failures are logged, never change
// the attempt's outcome.
func (o *Orchestrator) report(a *types.TradeAttempt) {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	if err := o.sink.Record(ctx, a); err != nil {
		o.log.Error("journal record failed", zap.String("attempt", a.ID), zap.Error(err))
	}

	sev := notify.Info
	if a.Status == types.AttemptPartialFailure {
		sev = notify.Error
	}
	msg := fmt.Sprintf("trade %s %s: requested %.8f %s, expected %+.8f, realized %+.8f (%d/%d legs filled)",
		a.Status, a.Path, a.Requested, a.Path.Start(), a.ExpectedProfit, a.RealizedProfit,
		a.FilledLegs(), a.Path.Legs())
	if a.Reason != "" {
		msg += " reason=" + a.Reason
	}
	if err := o.notifier.Notify(ctx, sev, msg); err != nil {
		o.log.Error("notify failed", zap.String("attempt", a.ID), zap.Error(err))
	}

	a.ReportedAt = time.Now()
}
