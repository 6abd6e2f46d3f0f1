package journal

import (
	"context"

	"github.com/s9927637/arbitrage-trader/internal/types"
)

// Sink receives terminal trade attempts. Append-only; the engine never
// reads records back.
type Sink interface {
	Record(ctx context.Context, attempt *types.TradeAttempt) error
}

// Nop discards records; used in dry-run and tests.
type Nop struct{}

func (Nop) Record(context.Context, *types.TradeAttempt) error { return nil }
