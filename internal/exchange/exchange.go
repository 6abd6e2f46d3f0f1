package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/s9927637/arbitrage-trader/internal/types"
)

// Fill is the outcome of one market order: executed base quantity, the
// quote volume it moved, and the resulting average price.
type Fill struct {
	OrderID  string
	BaseQty  float64
	QuoteQty float64
	AvgPrice float64
}

type TopOfBook struct {
	Symbol string
	Bid    float64
	Ask    float64
	Ts     time.Time
}

// Exchange is the outbound trading contract. Implementations own their
// transport details; every call is expected to go through the API
// weight limiter internally.
type Exchange interface {
	GetBalance(ctx context.Context, asset string) (types.Balance, error)
	// SubmitMarketOrder trades symbol. For BUY, amount is the quote
	// volume to spend; for SELL it is the base quantity to sell.
	SubmitMarketOrder(ctx context.Context, symbol, side string, amount float64) (Fill, error)
	TopOfBook(ctx context.Context, symbol string) (TopOfBook, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]types.Kline, error)
	Ping(ctx context.Context) error
}

// APIError is a rejection the exchange itself produced, carrying its
// numeric error code.
type APIError struct {
	Code int
	Msg  string
	HTTP int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange: code=%d http=%d: %s", e.Code, e.HTTP, e.Msg)
}

// Binance spot rejection codes that end an attempt outright.
const (
	codeInvalidTimestamp    = -1021
	codeDisconnected        = -1001
	codeTooManyRequests     = -1003
	codeInvalidSymbol       = -1121
	codeInvalidQuantity     = -1013
	codeInsufficientBalance = -2010
)

// IsBusinessReject reports whether err is a rejection no retry can fix:
// bad symbol, bad quantity, not enough balance. The attempt stops here.
func IsBusinessReject(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.Code {
	case codeInvalidSymbol, codeInvalidQuantity, codeInsufficientBalance:
		return true
	case codeDisconnected, codeInvalidTimestamp, codeTooManyRequests:
		// Retryable codes can arrive with 4xx statuses; they are not
		// business rejections.
		return false
	}
	return ae.HTTP >= 400 && ae.HTTP < 500 && ae.HTTP != 429 && ae.HTTP != 418
}

// IsTransient reports whether err is worth retrying with backoff:
// network trouble, timeouts, server-side errors, throttling.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsBusinessReject(err) {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		switch ae.Code {
		case codeDisconnected, codeInvalidTimestamp, codeTooManyRequests:
			return true
		}
		return ae.HTTP >= 500 || ae.HTTP == 429 || ae.HTTP == 418
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
