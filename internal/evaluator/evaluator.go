package evaluator

import (
	"github.com/s9927637/arbitrage-trader/internal/pricecache"
	"github.com/s9927637/arbitrage-trader/internal/types"
)

// Infeasibility reasons. Missing or stale prices are policy outcomes,
// not errors: the path simply cannot be judged this cycle.
const (
	ReasonMissingPair  = "missing_pair"
	ReasonMissingPrice = "missing_price"

	// ReasonWideSpread is advisory: the evaluation stays feasible but
	// flags that the book spread already eats past the slippage budget.
	ReasonWideSpread = "spread_above_tolerance"
)

// Evaluator computes the expected net outcome of walking a cycle at the
// prices in a snapshot. It is pure: same snapshot in, same evaluation out.
type Evaluator struct {
	table       *SymbolTable
	feeRate     float64
	slippageTol float64
}

func New(table *SymbolTable, feeRatePerLeg, slippageTolerance float64) *Evaluator {
	return &Evaluator{table: table, feeRate: feeRatePerLeg, slippageTol: slippageTolerance}
}

// Evaluate chains the legs of path starting from principal units of the
// starting asset, charging the per-leg fee on every conversion.
func (e *Evaluator) Evaluate(path types.Path, snap *pricecache.Snapshot, principal float64) types.PathEvaluation {
	eval := types.PathEvaluation{
		Path:        path,
		Principal:   principal,
		EvaluatedAt: snap.TakenAt(),
	}

	amount := principal
	legPrices := make([]float64, 0, path.Legs())
	wideSpread := false

	for i := 0; i < path.Legs(); i++ {
		from, to := path.Assets[i], path.Assets[i+1]
		route, ok := e.table.Resolve(from, to)
		if !ok {
			eval.Reason = ReasonMissingPair
			return eval
		}
		q, ok := snap.Quote(route.Symbol)
		if !ok {
			eval.Reason = ReasonMissingPrice
			return eval
		}
		if q.Bid > 0 && q.Ask > q.Bid && (q.Ask-q.Bid)/q.Price > e.slippageTol {
			wideSpread = true
		}
		amount = route.Convert(amount, q.Price) * (1 - e.feeRate)
		legPrices = append(legPrices, q.Price)
	}

	eval.Feasible = true
	eval.FinalAmount = amount
	eval.ExpectedProfit = amount - principal
	eval.LegPrices = legPrices
	if wideSpread {
		eval.Reason = ReasonWideSpread
	}
	return eval
}

// Best evaluates candidates in declaration order and keeps the feasible
// one with the strictly greatest expected profit. Ties keep the earlier
// path, so the pick is deterministic for a given snapshot.
func (e *Evaluator) Best(paths []types.Path, snap *pricecache.Snapshot, principal float64) (types.PathEvaluation, bool) {
	var best types.PathEvaluation
	found := false
	for _, p := range paths {
		ev := e.Evaluate(p, snap, principal)
		if !ev.Feasible {
			continue
		}
		if !found || ev.ExpectedProfit > best.ExpectedProfit {
			best = ev
			found = true
		}
	}
	return best, found
}

// Table exposes the direction table for execution-time symbol resolution.
func (e *Evaluator) Table() *SymbolTable { return e.table }
