package types

import (
	"fmt"
	"strings"
	"time"
)

// Pair describes one exchange trading pair. Symbol is the exchange's
// canonical concatenation (e.g. BTCUSDT), Base/Quote say which way around.
type Pair struct {
	Symbol string `yaml:"symbol"`
	Base   string `yaml:"base"`
	Quote  string `yaml:"quote"`
}

// PriceQuote is the latest observed price for a symbol. Price is the
// book mid; Bid/Ask are kept for spread checks.
type PriceQuote struct {
	Symbol     string
	Price      float64
	Bid        float64
	Ask        float64
	ObservedAt time.Time
	Source     string
}

// Path is a closed cycle of assets: Assets[0] == Assets[len-1].
type Path struct {
	Assets []string
}

func NewPath(assets ...string) Path { return Path{Assets: assets} }

func (p Path) Legs() int { return len(p.Assets) - 1 }

func (p Path) Start() string {
	if len(p.Assets) == 0 {
		return ""
	}
	return p.Assets[0]
}

// Key is a stable identifier used for single-flight bookkeeping.
func (p Path) Key() string { return strings.Join(p.Assets, "->") }

func (p Path) String() string { return p.Key() }

func (p Path) Validate() error {
	if len(p.Assets) < 4 {
		return fmt.Errorf("path %q: need at least 3 legs", p.Key())
	}
	if p.Assets[0] != p.Assets[len(p.Assets)-1] {
		return fmt.Errorf("path %q: not a cycle", p.Key())
	}
	for _, a := range p.Assets {
		if a == "" {
			return fmt.Errorf("path %q: empty asset", p.Key())
		}
	}
	return nil
}

// PathEvaluation is the transient result of running one path against a
// price snapshot. LegPrices holds the quote used per leg so execution can
// re-check slippage against the decision-time reference.
type PathEvaluation struct {
	Path           Path
	Principal      float64
	FinalAmount    float64
	ExpectedProfit float64
	LegPrices      []float64
	Feasible       bool
	Reason         string
	EvaluatedAt    time.Time
}

type Balance struct {
	Asset string
	Free  float64
	AsOf  time.Time
}

type Kline struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

type AttemptStatus string

const (
	AttemptExecuting      AttemptStatus = "EXECUTING"
	AttemptCompleted      AttemptStatus = "COMPLETED"
	AttemptPartialFailure AttemptStatus = "PARTIAL_FAILURE"
)

// Terminal reports whether no further legs will run for this status.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptCompleted || s == AttemptPartialFailure
}

type LegOutcome string

const (
	LegFilled LegOutcome = "FILLED"
	LegFailed LegOutcome = "FAILED"
)

// LegResult records one conversion step of an attempt.
type LegResult struct {
	Symbol    string
	Side      string
	Requested float64
	Filled    float64
	Price     float64
	Outcome   LegOutcome
	Error     string
}

// TradeAttempt is the record of one execution of a path. Legs and Status
// stop changing once Status turns terminal; ReportedAt marks when the
// record was handed to the persistence and notification sinks.
type TradeAttempt struct {
	ID             string
	Path           Path
	Requested      float64
	ExpectedProfit float64
	RealizedProfit float64
	Legs           []LegResult
	Status         AttemptStatus
	Reason         string
	StartedAt      time.Time
	EndedAt        time.Time
	ReportedAt     time.Time
}

func (a *TradeAttempt) FilledLegs() int {
	n := 0
	for _, l := range a.Legs {
		if l.Outcome == LegFilled {
			n++
		}
	}
	return n
}
