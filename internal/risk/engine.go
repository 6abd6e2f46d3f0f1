package risk

import (
	"context"

	"github.com/s9927637/arbitrage-trader/internal/config"
	"github.com/s9927637/arbitrage-trader/internal/types"
	"go.uber.org/zap"
)

// Denial reasons, machine readable for sinks and metrics.
const (
	ReasonBalanceUnavailable    = "balance_unavailable"
	ReasonBalanceBelowMinimum   = "balance_below_minimum"
	ReasonDailyVolumeCap        = "daily_volume_cap"
	ReasonVolatilityUnavailable = "volatility_unavailable"
	ReasonVolatilityAboveCap    = "volatility_above_cap"
)

type Decision struct {
	Allowed bool
	Reason  string
}

func allowed() Decision        { return Decision{Allowed: true} }
func denied(r string) Decision { return Decision{Reason: r} }

type account interface {
	GetBalance(ctx context.Context, asset string) (types.Balance, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]types.Kline, error)
}

// Engine gates trade attempts on account and market preconditions. It
// performs reads only; the volume ledger is fed by execution.
type Engine struct {
	cfg    *config.Config
	ex     account
	ledger *Ledger
	log    *zap.Logger
}

func NewEngine(cfg *config.Config, ex account, ledger *Ledger, log *zap.Logger) *Engine {
	return &Engine{cfg: cfg, ex: ex, ledger: ledger, log: log}
}

// Allow runs every precondition for trading a cycle that starts in
// startAsset with the given principal. All checks must pass.
func (e *Engine) Allow(ctx context.Context, startAsset string, principal float64) Decision {
	bal, err := e.ex.GetBalance(ctx, startAsset)
	if err != nil {
		e.log.Warn("risk: balance lookup failed", zap.String("asset", startAsset), zap.Error(err))
		return denied(ReasonBalanceUnavailable)
	}
	if bal.Free < e.cfg.Trade.MinTradeAmount {
		return denied(ReasonBalanceBelowMinimum)
	}

	if e.ledger.Total()+principal > e.cfg.Risk.DailyVolumeCap {
		return denied(ReasonDailyVolumeCap)
	}

	vol, err := e.volatility(ctx)
	if err != nil {
		e.log.Warn("risk: volatility lookup failed",
			zap.String("symbol", e.cfg.Risk.ReferenceSymbol), zap.Error(err))
		return denied(ReasonVolatilityUnavailable)
	}
	if vol > e.cfg.Risk.MaxVolatility {
		return denied(ReasonVolatilityAboveCap)
	}

	return allowed()
}

// volatility is the high-low range of the reference pair over the
// recent kline window, relative to the window mid.
func (e *Engine) volatility(ctx context.Context) (float64, error) {
	ks, err := e.ex.Klines(ctx, e.cfg.Risk.ReferenceSymbol, e.cfg.Risk.KlineInterval, e.cfg.Risk.VolatilityKlines)
	if err != nil {
		return 0, err
	}
	if len(ks) == 0 {
		return 0, nil
	}
	high, low := ks[0].High, ks[0].Low
	for _, k := range ks[1:] {
		if k.High > high {
			high = k.High
		}
		if k.Low < low {
			low = k.Low
		}
	}
	mid := 0.5 * (high + low)
	if mid <= 0 {
		return 0, nil
	}
	return (high - low) / mid, nil
}
