package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/s9927637/arbitrage-trader/internal/config"
	"github.com/s9927637/arbitrage-trader/internal/evaluator"
	"github.com/s9927637/arbitrage-trader/internal/exchange"
	"github.com/s9927637/arbitrage-trader/internal/notify"
	"github.com/s9927637/arbitrage-trader/internal/ratelimit"
	"github.com/s9927637/arbitrage-trader/internal/risk"
	"github.com/s9927637/arbitrage-trader/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testPairs = []types.Pair{
	{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"},
	{Symbol: "ETHBTC", Base: "ETH", Quote: "BTC"},
	{Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT"},
	{Symbol: "BNBUSDT", Base: "BNB", Quote: "USDT"},
}

type orderRec struct {
	symbol string
	side   string
	amount float64
}

// fakeExchange fills market orders at fixed prices and keeps balances
// consistent so realized-profit math can be checked end to end.
type fakeExchange struct {
	mu        sync.Mutex
	pairs     map[string]types.Pair
	prices    map[string]float64
	books     map[string]exchange.TopOfBook
	balances  map[string]float64
	orders    []orderRec
	orderErrs map[string][]error
	fee       float64
	gone      bool
}

func newFakeExchange() *fakeExchange {
	prices := map[string]float64{"BTCUSDT": 50000, "ETHBTC": 0.06, "ETHUSDT": 3100, "BNBUSDT": 600}
	books := make(map[string]exchange.TopOfBook, len(prices))
	pairs := make(map[string]types.Pair, len(testPairs))
	for _, pm := range testPairs {
		pairs[pm.Symbol] = pm
	}
	for sym, px := range prices {
		books[sym] = exchange.TopOfBook{Symbol: sym, Bid: px, Ask: px, Ts: time.Now()}
	}
	return &fakeExchange{
		pairs:     pairs,
		prices:    prices,
		books:     books,
		balances:  map[string]float64{"USDT": 1000, "BNB": 1},
		orderErrs: make(map[string][]error),
	}
}

func (f *fakeExchange) GetBalance(ctx context.Context, asset string) (types.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return types.Balance{}, errors.New("exchange unreachable")
	}
	return types.Balance{Asset: asset, Free: f.balances[asset], AsOf: time.Now()}, nil
}

func (f *fakeExchange) TopOfBook(ctx context.Context, symbol string) (exchange.TopOfBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tob, ok := f.books[symbol]
	if !ok {
		return exchange.TopOfBook{}, fmt.Errorf("no book for %s", symbol)
	}
	return tob, nil
}

func (f *fakeExchange) Klines(ctx context.Context, symbol, interval string, limit int) ([]types.Kline, error) {
	return nil, nil
}

func (f *fakeExchange) Ping(ctx context.Context) error { return nil }

func (f *fakeExchange) SubmitMarketOrder(ctx context.Context, symbol, side string, amount float64) (exchange.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if errs := f.orderErrs[symbol]; len(errs) > 0 {
		err := errs[0]
		f.orderErrs[symbol] = errs[1:]
		return exchange.Fill{}, err
	}

	f.orders = append(f.orders, orderRec{symbol: symbol, side: side, amount: amount})
	pm := f.pairs[symbol]
	px := f.prices[symbol]

	var fill exchange.Fill
	if side == "BUY" {
		fill = exchange.Fill{BaseQty: amount / px * (1 - f.fee), QuoteQty: amount, AvgPrice: px}
		f.balances[pm.Quote] -= amount
		f.balances[pm.Base] += fill.BaseQty
	} else {
		fill = exchange.Fill{BaseQty: amount, QuoteQty: amount * px * (1 - f.fee), AvgPrice: px}
		f.balances[pm.Base] -= amount
		f.balances[pm.Quote] += fill.QuoteQty
	}
	fill.OrderID = fmt.Sprintf("%d", len(f.orders))
	return fill, nil
}

type captureSink struct {
	mu       sync.Mutex
	attempts []*types.TradeAttempt
	err      error
}

func (s *captureSink) Record(ctx context.Context, a *types.TradeAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	cp := *a
	s.attempts = append(s.attempts, &cp)
	return nil
}

type captureNotifier struct {
	mu   sync.Mutex
	msgs []string
	sevs []notify.Severity
}

func (n *captureNotifier) Notify(ctx context.Context, sev notify.Severity, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	n.sevs = append(n.sevs, sev)
	return nil
}

func newTestOrchestrator(ex *fakeExchange) (*Orchestrator, *captureSink, *captureNotifier, *risk.Ledger) {
	cfg := &config.Config{}
	cfg.Trade.SlippageTolerance = 0.002
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BackoffBaseMs = 1
	cfg.Timings.OrderTimeoutMs = 1000

	sink := &captureSink{}
	notifier := &captureNotifier{}
	ledger := risk.NewLedger(24 * time.Hour)
	table := evaluator.NewSymbolTable(testPairs)
	// Capacity far above anything a test submits, so no test stalls on
	// the real clock.
	orders := ratelimit.New(1_000_000, time.Second)
	o := NewOrchestrator(cfg, ex, orders, table, ledger, sink, notifier, zap.NewNop())
	return o, sink, notifier, ledger
}

func triEval() types.PathEvaluation {
	return types.PathEvaluation{
		Path:           types.NewPath("USDT", "BTC", "ETH", "USDT"),
		Principal:      100,
		ExpectedProfit: 3.1,
		LegPrices:      []float64{50000, 0.06, 3100},
		Feasible:       true,
		EvaluatedAt:    time.Now(),
	}
}

func TestExecuteCompleted(t *testing.T) {
	ex := newFakeExchange()
	o, sink, notifier, ledger := newTestOrchestrator(ex)

	a, err := o.Execute(context.Background(), triEval())
	require.NoError(t, err)
	require.NotNil(t, a)

	assert.Equal(t, types.AttemptCompleted, a.Status)
	require.Len(t, a.Legs, 3)
	for _, l := range a.Legs {
		assert.Equal(t, types.LegFilled, l.Outcome)
	}
	assert.Equal(t, []orderRec{
		{symbol: "BTCUSDT", side: "BUY", amount: 100},
		{symbol: "ETHBTC", side: "BUY", amount: 0.002},
		{symbol: "ETHUSDT", side: "SELL", amount: 100.0 / 50000 / 0.06},
	}, ex.orders)

	// Zero-fee fake: the cycle returns 100/50000/0.06*3100 USDT.
	wantProfit := 100.0/50000/0.06*3100 - 100
	assert.InDelta(t, wantProfit, a.RealizedProfit, 1e-8, "realized profit from balance delta")

	assert.False(t, a.ReportedAt.IsZero())
	require.Len(t, sink.attempts, 1)
	assert.Equal(t, types.AttemptCompleted, sink.attempts[0].Status)
	require.Len(t, notifier.sevs, 1)
	assert.Equal(t, notify.Info, notifier.sevs[0])
	assert.Equal(t, 100.0, ledger.Total())
	assert.False(t, o.InFlight(a.Path))
}

func TestExecutePartialFailureOnBusinessReject(t *testing.T) {
	ex := newFakeExchange()
	ex.orderErrs["ETHBTC"] = []error{&exchange.APIError{Code: -2010, HTTP: 400, Msg: "insufficient balance"}}
	o, sink, notifier, _ := newTestOrchestrator(ex)

	a, err := o.Execute(context.Background(), triEval())
	require.NoError(t, err)

	assert.Equal(t, types.AttemptPartialFailure, a.Status)
	assert.Equal(t, ReasonBusinessReject, a.Reason)
	require.Len(t, a.Legs, 2)
	assert.Equal(t, types.LegFilled, a.Legs[0].Outcome, "filled first leg stands untouched")
	assert.Equal(t, types.LegFailed, a.Legs[1].Outcome)

	// Leg 3 never attempted, and no compensating orders were sent.
	for _, ord := range ex.orders {
		assert.NotEqual(t, "ETHUSDT", ord.symbol)
	}
	require.Len(t, ex.orders, 1, "business rejection must not be retried")

	require.Len(t, sink.attempts, 1)
	require.Len(t, notifier.sevs, 1)
	assert.Equal(t, notify.Error, notifier.sevs[0])
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	ex := newFakeExchange()
	ex.orderErrs["ETHBTC"] = []error{
		&exchange.APIError{HTTP: 502},
		&exchange.APIError{HTTP: 503},
	}
	o, _, _, _ := newTestOrchestrator(ex)

	a, err := o.Execute(context.Background(), triEval())
	require.NoError(t, err)
	assert.Equal(t, types.AttemptCompleted, a.Status)
	assert.Len(t, a.Legs, 3)
}

func TestExecuteTransientExhausted(t *testing.T) {
	ex := newFakeExchange()
	ex.orderErrs["ETHBTC"] = []error{
		&exchange.APIError{HTTP: 502},
		&exchange.APIError{HTTP: 502},
		&exchange.APIError{HTTP: 502},
	}
	o, _, _, _ := newTestOrchestrator(ex)

	a, err := o.Execute(context.Background(), triEval())
	require.NoError(t, err)
	assert.Equal(t, types.AttemptPartialFailure, a.Status)
	assert.Equal(t, ReasonTransientExhausted, a.Reason)
	require.Len(t, a.Legs, 2)
	assert.Equal(t, types.LegFailed, a.Legs[1].Outcome)
}

func TestExecuteAbortsOnSlippage(t *testing.T) {
	ex := newFakeExchange()
	// ETHBTC moved 1% between decision and execution; tolerance is 0.2%.
	ex.books["ETHBTC"] = exchange.TopOfBook{Symbol: "ETHBTC", Bid: 0.0606, Ask: 0.0606, Ts: time.Now()}
	o, _, _, _ := newTestOrchestrator(ex)

	a, err := o.Execute(context.Background(), triEval())
	require.NoError(t, err)

	assert.Equal(t, types.AttemptPartialFailure, a.Status)
	assert.Equal(t, ReasonSlippageExceeded, a.Reason)
	require.Len(t, a.Legs, 1, "second leg aborted before submission")
	assert.Equal(t, types.LegFilled, a.Legs[0].Outcome)
	require.Len(t, ex.orders, 1)
	assert.Equal(t, "BTCUSDT", ex.orders[0].symbol)
}

func TestExecuteSingleFlight(t *testing.T) {
	ex := newFakeExchange()
	o, _, _, _ := newTestOrchestrator(ex)

	// Hold the first attempt open by blocking its first order.
	release := make(chan struct{})
	started := make(chan struct{})
	ex.orderErrs["BTCUSDT"] = nil
	blockingEx := &blockingExchange{fakeExchange: ex, release: release, started: started}
	o.ex = blockingEx

	done := make(chan *types.TradeAttempt, 1)
	go func() {
		a, _ := o.Execute(context.Background(), triEval())
		done <- a
	}()
	<-started

	assert.True(t, o.InFlight(triEval().Path))
	second, err := o.Execute(context.Background(), triEval())
	assert.Nil(t, second, "no second attempt object while the first is live")
	assert.ErrorIs(t, err, ErrAttemptInFlight)

	close(release)
	first := <-done
	require.NotNil(t, first)
	assert.True(t, first.Status.Terminal())

	// Terminal attempt: the path is free again.
	third, err := o.Execute(context.Background(), triEval())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

type blockingExchange struct {
	*fakeExchange
	release   chan struct{}
	started   chan struct{}
	startOnce sync.Once
}

func (b *blockingExchange) SubmitMarketOrder(ctx context.Context, symbol, side string, amount float64) (exchange.Fill, error) {
	b.startOnce.Do(func() { close(b.started) })
	<-b.release
	return b.fakeExchange.SubmitMarketOrder(ctx, symbol, side, amount)
}

func TestAttemptIDsNeverCollide(t *testing.T) {
	ex := newFakeExchange()
	ex.balances["USDT"] = 1e12
	o, _, _, _ := newTestOrchestrator(ex)

	seen := make(map[string]struct{}, 10_000)
	eval := triEval()
	for i := 0; i < 10_000; i++ {
		a, err := o.Execute(context.Background(), eval)
		require.NoError(t, err)
		_, dup := seen[a.ID]
		require.False(t, dup, "duplicate attempt id %s", a.ID)
		seen[a.ID] = struct{}{}
	}
}

func TestFeeAssetTopUp(t *testing.T) {
	ex := newFakeExchange()
	ex.balances["BNB"] = 0.01
	o, _, _, _ := newTestOrchestrator(ex)
	o.cfg.Trade.FeeAsset = "BNB"
	o.cfg.Trade.FeeAssetFloor = 0.05
	o.cfg.Trade.FeeTopUpFraction = 0.2

	_, err := o.Execute(context.Background(), triEval())
	require.NoError(t, err)

	require.NotEmpty(t, ex.orders)
	assert.Equal(t, "BNBUSDT", ex.orders[0].symbol, "fee top-up precedes the first leg")
	assert.Equal(t, "BUY", ex.orders[0].side)
	assert.InDelta(t, 200.0, ex.orders[0].amount, 1e-9, "20% of free USDT")
}

func TestSinkFailureDoesNotChangeStatus(t *testing.T) {
	ex := newFakeExchange()
	o, sink, _, _ := newTestOrchestrator(ex)
	sink.err = errors.New("journal down")

	a, err := o.Execute(context.Background(), triEval())
	require.NoError(t, err)
	assert.Equal(t, types.AttemptCompleted, a.Status)
	assert.False(t, a.ReportedAt.IsZero(), "reporting is best-effort")
}

type cancelingExchange struct {
	*fakeExchange
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelingExchange) SubmitMarketOrder(ctx context.Context, symbol, side string, amount float64) (exchange.Fill, error) {
	fill, err := c.fakeExchange.SubmitMarketOrder(ctx, symbol, side, amount)
	c.once.Do(c.cancel)
	return fill, err
}

func TestExecuteFinishesAfterCallerCancel(t *testing.T) {
	ex := newFakeExchange()
	o, sink, _, _ := newTestOrchestrator(ex)

	// The caller's context dies right after the first fill; the attempt
	// still runs its remaining legs to completion.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.ex = &cancelingExchange{fakeExchange: ex, cancel: cancel}

	a, err := o.Execute(ctx, triEval())
	require.NoError(t, err)
	assert.Equal(t, types.AttemptCompleted, a.Status)
	require.Len(t, a.Legs, 3)
	for _, l := range a.Legs {
		assert.Equal(t, types.LegFilled, l.Outcome)
	}
	require.Len(t, ex.orders, 3)
	require.Len(t, sink.attempts, 1, "reporting survives the cancel too")
}

func TestRetryPolicyStopsOnBusinessReject(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BackoffBase: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return &exchange.APIError{Code: -1121, HTTP: 400}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyBacksOff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BackoffBase: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &exchange.APIError{HTTP: 500}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyExhaustionKeepsCause(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2, BackoffBase: time.Millisecond}
	err := p.Do(context.Background(), func() error {
		return &exchange.APIError{HTTP: 502}
	})
	require.Error(t, err)
	assert.True(t, exchange.IsTransient(err), "wrapped cause keeps its classification")
}
