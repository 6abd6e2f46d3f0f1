package evaluator

import "github.com/s9927637/arbitrage-trader/internal/types"

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Route maps one from->to conversion onto an exchange symbol and side.
// A BUY spends the quote asset to receive base (amount / price), a SELL
// spends base to receive quote (amount * price).
type Route struct {
	Symbol string
	Side   string
}

func (r Route) Convert(amount, price float64) float64 {
	if r.Side == SideBuy {
		return amount / price
	}
	return amount * price
}

// SymbolTable resolves the orientation of every configured pair.
// Symbol concatenation order alone does not say whether a quote is
// quote-per-base or base-per-quote, so the table is built from explicit
// base/quote metadata instead of string guessing.
type SymbolTable struct {
	routes map[string]Route
}

func NewSymbolTable(pairs []types.Pair) *SymbolTable {
	routes := make(map[string]Route, 2*len(pairs))
	for _, pm := range pairs {
		routes[pm.Quote+"/"+pm.Base] = Route{Symbol: pm.Symbol, Side: SideBuy}
		routes[pm.Base+"/"+pm.Quote] = Route{Symbol: pm.Symbol, Side: SideSell}
	}
	return &SymbolTable{routes: routes}
}

func (t *SymbolTable) Resolve(from, to string) (Route, bool) {
	r, ok := t.routes[from+"/"+to]
	return r, ok
}
