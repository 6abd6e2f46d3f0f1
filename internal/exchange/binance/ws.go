package binance

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/s9927637/arbitrage-trader/internal/types"
	"go.uber.org/zap"
)

const (
	readDeadline  = 90 * time.Second
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// WS streams bookTicker updates for a set of symbols over the combined
// stream endpoint. Reconnection is handled here, outside the engine:
// the consumer just reads one long-lived channel.
type WS struct {
	url     string
	symbols []string
	dialer  *websocket.Dialer
	log     *zap.Logger
}

func NewWS(url string, symbols []string, log *zap.Logger) *WS {
	return &WS{
		url:     strings.TrimRight(url, "/"),
		symbols: symbols,
		dialer: &websocket.Dialer{
			HandshakeTimeout:  15 * time.Second,
			EnableCompression: true,
		},
		log: log,
	}
}

// combined stream frame: {"stream":"btcusdt@bookTicker","data":{...}}
type wsFrame struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Bid    string `json:"b"`
		Ask    string `json:"a"`
	} `json:"data"`
}

// Run feeds quotes into out until ctx is done, reconnecting with capped
// exponential backoff on any stream failure. out is closed on return.
func (w *WS) Run(ctx context.Context, out chan<- types.PriceQuote) {
	defer close(out)

	backoff := reconnectBase
	for ctx.Err() == nil {
		err := w.stream(ctx, out)
		if ctx.Err() != nil {
			return
		}
		w.log.Warn("ws stream ended, reconnecting",
			zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (w *WS) stream(ctx context.Context, out chan<- types.PriceQuote) error {
	streams := make([]string, 0, len(w.symbols))
	for _, s := range w.symbols {
		streams = append(streams, strings.ToLower(s)+"@bookTicker")
	}
	endpoint := w.url + "?streams=" + strings.Join(streams, "/")

	conn, _, err := w.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	// Unblock ReadMessage when ctx ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Data.Symbol == "" {
			continue
		}
		bid, _ := strconv.ParseFloat(frame.Data.Bid, 64)
		ask, _ := strconv.ParseFloat(frame.Data.Ask, 64)
		if bid == 0 || ask == 0 {
			continue
		}

		q := types.PriceQuote{
			Symbol:     frame.Data.Symbol,
			Price:      0.5 * (bid + ask),
			Bid:        bid,
			Ask:        ask,
			ObservedAt: time.Now(),
			Source:     "binance-ws",
		}
		select {
		case out <- q:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
