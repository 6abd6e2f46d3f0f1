package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/s9927637/arbitrage-trader/internal/config"
	"github.com/s9927637/arbitrage-trader/internal/exchange"
	"github.com/s9927637/arbitrage-trader/internal/ratelimit"
	"github.com/s9927637/arbitrage-trader/internal/types"
	"go.uber.org/zap"
)

// Request weights per the Binance spot API docs.
const (
	weightPing       = 1
	weightBookTicker = 2
	weightKlines     = 2
	weightAccount    = 20
	weightOrder      = 1
)

type Client struct {
	cfg     *config.Config
	log     *zap.Logger
	http    *http.Client
	limiter *ratelimit.Limiter
}

// NewClient builds the REST client. limiter is the shared API weight
// budget; every request acquires its weight before going out.
func NewClient(cfg *config.Config, limiter *ratelimit.Limiter, log *zap.Logger) (*Client, error) {
	return &Client{
		cfg:     cfg,
		log:     log,
		http:    &http.Client{Timeout: cfg.OrderTimeout()},
		limiter: limiter,
	}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	var out struct{}
	return c.get(ctx, "/api/v3/ping", nil, weightPing, false, &out)
}

func (c *Client) GetBalance(ctx context.Context, asset string) (types.Balance, error) {
	var acct struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := c.get(ctx, "/api/v3/account", url.Values{}, weightAccount, true, &acct); err != nil {
		return types.Balance{}, err
	}
	for _, b := range acct.Balances {
		if b.Asset == asset {
			free, _ := strconv.ParseFloat(b.Free, 64)
			return types.Balance{Asset: asset, Free: free, AsOf: time.Now()}, nil
		}
	}
	return types.Balance{Asset: asset, AsOf: time.Now()}, nil
}

func (c *Client) TopOfBook(ctx context.Context, symbol string) (exchange.TopOfBook, error) {
	var br struct {
		Symbol   string `json:"symbol"`
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	if err := c.get(ctx, "/api/v3/ticker/bookTicker", q, weightBookTicker, false, &br); err != nil {
		return exchange.TopOfBook{}, err
	}
	bid, _ := strconv.ParseFloat(br.BidPrice, 64)
	ask, _ := strconv.ParseFloat(br.AskPrice, 64)
	if bid == 0 || ask == 0 {
		return exchange.TopOfBook{}, fmt.Errorf("binance: empty book for %s", symbol)
	}
	return exchange.TopOfBook{Symbol: symbol, Bid: bid, Ask: ask, Ts: time.Now()}, nil
}

func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]types.Kline, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	var raw [][]any
	if err := c.get(ctx, "/api/v3/klines", q, weightKlines, false, &raw); err != nil {
		return nil, err
	}
	ks := make([]types.Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		k := types.Kline{
			Open:   parseField(row[1]),
			High:   parseField(row[2]),
			Low:    parseField(row[3]),
			Close:  parseField(row[4]),
			Volume: parseField(row[5]),
		}
		if ms, ok := row[0].(float64); ok {
			k.OpenTime = time.UnixMilli(int64(ms))
		}
		ks = append(ks, k)
	}
	return ks, nil
}

// SubmitMarketOrder places a MARKET order. BUY spends amount of the
// quote asset (quoteOrderQty), SELL sells amount of the base asset.
func (c *Client) SubmitMarketOrder(ctx context.Context, symbol, side string, amount float64) (exchange.Fill, error) {
	if err := c.limiter.Acquire(ctx, weightOrder); err != nil {
		return exchange.Fill{}, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	if side == "BUY" {
		params.Set("quoteOrderQty", trim(amount))
	} else {
		params.Set("quantity", trim(amount))
	}
	params.Set("newOrderRespType", "FULL")
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")
	params.Set("signature", c.sign(params.Encode()))

	endpoint := c.cfg.Binance.RestURL + "/api/v3/order"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return exchange.Fill{}, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.Binance.ApiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req)
	if err != nil {
		return exchange.Fill{}, err
	}

	var ord struct {
		OrderID             json.Number `json:"orderId"`
		Status              string      `json:"status"`
		ExecutedQty         string      `json:"executedQty"`
		CummulativeQuoteQty string      `json:"cummulativeQuoteQty"`
	}
	if err := json.Unmarshal(body, &ord); err != nil {
		return exchange.Fill{}, err
	}

	baseQty, _ := strconv.ParseFloat(ord.ExecutedQty, 64)
	quoteQty, _ := strconv.ParseFloat(ord.CummulativeQuoteQty, 64)
	fill := exchange.Fill{OrderID: ord.OrderID.String(), BaseQty: baseQty, QuoteQty: quoteQty}
	if baseQty > 0 {
		fill.AvgPrice = quoteQty / baseQty
	}

	c.log.Info("market order",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.String("order_id", fill.OrderID),
		zap.String("status", ord.Status),
		zap.Float64("executed_qty", baseQty),
		zap.Float64("quote_qty", quoteQty),
		zap.Float64("avg_price", fill.AvgPrice),
	)
	return fill, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, weight int, signed bool, out any) error {
	if err := c.limiter.Acquire(ctx, weight); err != nil {
		return err
	}

	endpoint := c.cfg.Binance.RestURL + path
	if signed {
		q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		q.Set("recvWindow", "5000")
		q.Set("signature", c.sign(q.Encode()))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.cfg.Binance.ApiKey)
	}
	body, err := c.do(req)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// do runs the request and maps non-200 responses onto APIError so the
// retry layer can tell transient trouble from business rejection.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &exchange.APIError{HTTP: resp.StatusCode, Msg: string(body)}
		var e struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &e) == nil && e.Code != 0 {
			apiErr.Code = e.Code
			apiErr.Msg = e.Msg
		}
		return nil, apiErr
	}
	return body, nil
}

func (c *Client) sign(q string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.Binance.ApiSecret))
	mac.Write([]byte(q))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseField(v any) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func trim(v float64) string {
	return strings.TrimRight(strings.TrimRight(strconv.FormatFloat(v, 'f', 8, 64), "0"), ".")
}
