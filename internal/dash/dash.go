package dash

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/s9927637/arbitrage-trader/internal/bot"
	"github.com/s9927637/arbitrage-trader/internal/types"
	"go.uber.org/zap"
)

// Row is one path's latest evaluation as shown on the board.
type Row struct {
	Path           string  `json:"path"`
	Principal      float64 `json:"principal"`
	FinalAmount    float64 `json:"finalAmount"`
	ExpectedProfit float64 `json:"expectedProfit"`
	Feasible       bool    `json:"feasible"`
	Reason         string  `json:"reason,omitempty"`
	TS             int64   `json:"ts"`
}

type Store struct {
	mu   sync.RWMutex
	rows map[string]Row // key: path
}

func NewStore() *Store { return &Store{rows: make(map[string]Row, 16)} }

func (s *Store) Update(eval types.PathEvaluation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := eval.Path.Key()
	s.rows[key] = Row{
		Path:           key,
		Principal:      eval.Principal,
		FinalAmount:    eval.FinalAmount,
		ExpectedProfit: eval.ExpectedProfit,
		Feasible:       eval.Feasible,
		Reason:         eval.Reason,
		TS:             eval.EvaluatedAt.UnixMilli(),
	}
}

// List returns rows best-profit first; infeasible paths sink to the
// bottom in name order.
func (s *Store) List() []Row {
	s.mu.RLock()
	out := make([]Row, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Feasible != out[j].Feasible {
			return out[i].Feasible
		}
		if out[i].ExpectedProfit != out[j].ExpectedProfit {
			return out[i].ExpectedProfit > out[j].ExpectedProfit
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Controller is the engine surface the dashboard drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Status() bot.Status
	Health(ctx context.Context) bot.Health
}

type statusResp struct {
	Running        bool                `json:"running"`
	LastEvaluation time.Time           `json:"lastEvaluation"`
	LastAttempt    *types.TradeAttempt `json:"lastAttempt,omitempty"`
}

type healthResp struct {
	FeedAlive         bool `json:"feedAlive"`
	ExchangeReachable bool `json:"exchangeReachable"`
}

// Handler builds the dashboard routes: the evaluation board plus the
// start/stop control endpoints.
func Handler(s *Store, c Controller) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/paths", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.List())
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		st := c.Status()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statusResp{
			Running:        st.Running,
			LastEvaluation: st.LastEvaluation,
			LastAttempt:    st.LastAttempt,
		})
	})

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		h := c.Health(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !h.FeedAlive || !h.ExchangeReachable {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(healthResp{
			FeedAlive:         h.FeedAlive,
			ExchangeReachable: h.ExchangeReachable,
		})
	})

	mux.HandleFunc("/api/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := c.Start(context.Background()); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/api/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		c.Stop()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexHTML))
	})

	return withCORS(mux)
}

func StartHTTP(ctx context.Context, s *Store, c Controller, addr string, log *zap.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(s, c),
		ReadHeaderTimeout: 3 * time.Second,
	}

	go func() { <-ctx.Done(); _ = srv.Close() }()

	log.Info("dash listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !strings.Contains(err.Error(), "Server closed") {
		log.Error("dash http server error", zap.Error(err))
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const indexHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>Triangular Arbitrage Monitor</title>
  <style>
    :root { --bg:#f8fafc; --card:#fff; --muted:#6b7280; --chip:#e5e7eb; }
    body{margin:0;background:var(--bg);font:14px/1.4 ui-sans-serif,system-ui,-apple-system,Segoe UI,Roboto,Ubuntu; color:#111827;}
    .wrap{max-width:960px;margin:24px auto;padding:0 16px;}
    .hdr{display:flex;align-items:flex-end;justify-content:space-between;margin-bottom:12px;}
    .state{font-size:12px;padding:2px 8px;border-radius:999px;background:#d1fae5;color:#065f46;}
    .state.off{background:#fee2e2;color:#991b1b;}
    table{width:100%;border-collapse:collapse;background:var(--card);border-radius:16px;overflow:hidden;box-shadow:0 10px 30px rgba(0,0,0,.06);}
    thead{background:#f3f4f6;} th,td{padding:12px 14px;text-align:left;} tbody tr{border-top:1px solid #f3f4f6;}
    .chip{display:inline-block;font-size:12px;padding:2px 8px;background:var(--chip);border-radius:999px;color:#374151;}
    .pct{padding:2px 8px;border-radius:8px;font-size:12px;}
    .pct.ok{background:#dcfce7;color:#166534;} .pct.bad{background:#fee2e2;color:#991b1b;} .pct.dim{background:#f3f4f6;color:#6b7280;}
    .sub{color:var(--muted);font-size:12px;margin:0;}
    button{border:0;border-radius:8px;padding:6px 14px;font-size:13px;cursor:pointer;margin-left:6px;}
    #btnStart{background:#dcfce7;color:#166534;} #btnStop{background:#fee2e2;color:#991b1b;}
  </style>
</head>
<body>
<div class="wrap">
  <div class="hdr">
    <div>
      <h1 style="margin:0;font-size:22px;font-weight:600">Triangular Arbitrage Monitor</h1>
      <p class="sub">Binance spot, fee-adjusted cycle evaluations</p>
    </div>
    <div>
      <span id="state" class="state">...</span>
      <button id="btnStart" onclick="ctl('start')">start</button>
      <button id="btnStop" onclick="ctl('stop')">stop</button>
    </div>
  </div>
  <table>
    <thead>
      <tr>
        <th>Path</th><th>Principal</th><th>Final</th>
        <th>Expected profit</th><th>Feasible</th>
        <th style="text-align:right">Updated</th>
      </tr>
    </thead>
    <tbody id="rows"></tbody>
  </table>
  <p class="sub" style="margin-top:8px">Expected profit = fee-adjusted final amount minus principal, in the starting asset.</p>
</div>
<script>
  function amt(x){ return (x==null||isNaN(x)) ? '—' : Number(x).toLocaleString(undefined,{maximumFractionDigits:8}); }
  function rowHTML(r){
    var cls = r.feasible ? ((r.expectedProfit||0) > 0 ? 'ok' : 'bad') : 'dim';
    return '<tr>'
      + '<td><strong>' + (r.path||'') + '</strong></td>'
      + '<td>' + amt(r.principal) + '</td>'
      + '<td>' + amt(r.finalAmount) + '</td>'
      + '<td><span class="pct ' + cls + '">' + amt(r.expectedProfit) + '</span></td>'
      + '<td><span class="chip">' + (r.feasible ? 'yes' : (r.reason||'no')) + '</span></td>'
      + '<td style="text-align:right;color:#6B7280;font-size:12px">' + new Date(r.ts||Date.now()).toLocaleTimeString() + '</td>'
      + '</tr>';
  }
  async function ctl(op){ try{ await fetch('/api/'+op, {method:'POST'}); }catch(e){} tick(); }
  async function tick(){
    try{
      var res = await fetch('/api/paths', {cache:'no-store'});
      if(!res.ok) throw new Error('status '+res.status);
      var data = await res.json();
      var st = await (await fetch('/api/status')).json();
      var el = document.getElementById('state');
      el.textContent = st.running ? 'running' : 'stopped';
      el.className = st.running ? 'state' : 'state off';
      document.getElementById('rows').innerHTML = data.map(rowHTML).join('');
    }catch(e){
      document.getElementById('state').textContent = 'offline';
    }
  }
  tick(); setInterval(tick, 1000);
</script>
</body>
</html>`
