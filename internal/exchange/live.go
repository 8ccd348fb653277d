package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/aurimasb/safe-trader/internal/config"
	"github.com/aurimasb/safe-trader/internal/logger"
)

const liveAPIBase = "https://api.binance.com"

// defaultRules applies when exchange metadata cannot be fetched. Tight enough
// for the majors; coarser symbols get their real filters from exchangeInfo.
var defaultRules = Rules{StepSize: 0.00001, TickSize: 0.01, MinQty: 0.00001, MinNotional: 5}

// Live places real market orders against the Binance REST API.
type Live struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
	logger    *logger.Logger

	rulesMu sync.Mutex
	rules   map[string]Rules
}

func NewLive(cfg *config.Config, log *logger.Logger) *Live {
	return &Live{
		baseURL:   liveAPIBase,
		apiKey:    cfg.Exchange.APIKey,
		apiSecret: cfg.Exchange.APISecret,
		http:      &http.Client{Timeout: 10 * time.Second},
		logger:    log,
		rules:     make(map[string]Rules),
	}
}

func (l *Live) GetPrice(ctx context.Context, symbol string) (float64, bool) {
	var out struct {
		Price string `json:"price"`
	}
	q := url.Values{"symbol": {symbol}}
	if err := l.get(ctx, "/api/v3/ticker/price", q, &out); err != nil {
		l.logger.Debug("get price failed", "symbol", symbol, "error", err)
		return 0, false
	}
	price, err := strconv.ParseFloat(out.Price, 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

func (l *Live) GetOrderbookTop(ctx context.Context, symbol string) (*OrderbookTop, error) {
	var out struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	q := url.Values{"symbol": {symbol}, "limit": {"20"}}
	if err := l.get(ctx, "/api/v3/depth", q, &out); err != nil {
		return nil, fmt.Errorf("fetch depth %s: %w", symbol, err)
	}

	top := &OrderbookTop{
		Bids: parseLevels(out.Bids),
		Asks: parseLevels(out.Asks),
	}
	if len(top.Bids) > 0 {
		top.Bid = top.Bids[0].Price
	}
	if len(top.Asks) > 0 {
		top.Ask = top.Asks[0].Price
	}
	if top.Bid > 0 && top.Ask > 0 {
		top.Mid = (top.Bid + top.Ask) / 2
	}
	return top, nil
}

func parseLevels(raw [][2]string) []Level {
	levels := make([]Level, 0, len(raw))
	for _, lv := range raw {
		price, err1 := strconv.ParseFloat(lv[0], 64)
		qty, err2 := strconv.ParseFloat(lv[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, Level{Price: price, Qty: qty})
	}
	return levels
}

// GetRules returns the venue's lot and notional filters for a symbol. The
// filters are fetched from exchangeInfo once per symbol and cached for the
// process lifetime; fetch failures fall back to defaultRules uncached so the
// next call retries.
func (l *Live) GetRules(symbol string) Rules {
	l.rulesMu.Lock()
	if r, ok := l.rules[symbol]; ok {
		l.rulesMu.Unlock()
		return r
	}
	l.rulesMu.Unlock()

	r, err := l.fetchRules(symbol)
	if err != nil {
		l.logger.Warn("fetch exchange rules failed", "symbol", symbol, "error", err)
		return defaultRules
	}

	l.rulesMu.Lock()
	l.rules[symbol] = r
	l.rulesMu.Unlock()
	return r
}

func (l *Live) fetchRules(symbol string) (Rules, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				TickSize    string `json:"tickSize"`
				MinQty      string `json:"minQty"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	q := url.Values{"symbol": {symbol}}
	if err := l.get(ctx, "/api/v3/exchangeInfo", q, &out); err != nil {
		return Rules{}, err
	}
	if len(out.Symbols) == 0 {
		return Rules{}, fmt.Errorf("no exchange info for %s", symbol)
	}

	r := defaultRules
	for _, f := range out.Symbols[0].Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			if v, err := strconv.ParseFloat(f.StepSize, 64); err == nil && v > 0 {
				r.StepSize = v
			}
			if v, err := strconv.ParseFloat(f.MinQty, 64); err == nil && v > 0 {
				r.MinQty = v
			}
		case "PRICE_FILTER":
			if v, err := strconv.ParseFloat(f.TickSize, 64); err == nil && v > 0 {
				r.TickSize = v
			}
		case "NOTIONAL", "MIN_NOTIONAL":
			if v, err := strconv.ParseFloat(f.MinNotional, 64); err == nil && v > 0 {
				r.MinNotional = v
			}
		}
	}
	return r, nil
}

func (l *Live) Stats24h(ctx context.Context) ([]TickerStats, error) {
	var out []struct {
		Symbol             string `json:"symbol"`
		QuoteVolume        string `json:"quoteVolume"`
		PriceChangePercent string `json:"priceChangePercent"`
		Count              int64  `json:"count"`
	}
	if err := l.get(ctx, "/api/v3/ticker/24hr", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch 24h stats: %w", err)
	}

	stats := make([]TickerStats, 0, len(out))
	for _, t := range out {
		vol, _ := strconv.ParseFloat(t.QuoteVolume, 64)
		chg, _ := strconv.ParseFloat(t.PriceChangePercent, 64)
		stats = append(stats, TickerStats{
			Symbol:         t.Symbol,
			QuoteVolume:    vol,
			PriceChangePct: chg,
			TradeCount:     t.Count,
		})
	}
	return stats, nil
}

func (l *Live) Account(ctx context.Context) (*AccountView, error) {
	var out struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := l.signedCall(ctx, http.MethodGet, "/api/v3/account", url.Values{}, &out); err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}

	view := &AccountView{Positions: make(map[string]float64)}
	for _, b := range out.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		if free <= 0 {
			continue
		}
		if b.Asset == "USDC" {
			view.FreeCash = free
			continue
		}
		view.Positions[b.Asset+"USDC"] = free
	}
	return view, nil
}

func (l *Live) ExecuteMarketOrder(ctx context.Context, symbol, side string, qty float64, reason string, confidence float64) (*Fill, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("qty must be positive, got %v", qty)
	}

	params := url.Values{
		"symbol":   {symbol},
		"side":     {side},
		"type":     {"MARKET"},
		"quantity": {strconv.FormatFloat(qty, 'f', -1, 64)},
	}

	var out struct {
		OrderID     int64  `json:"orderId"`
		ExecutedQty string `json:"executedQty"`
		Fills       []struct {
			Price      string `json:"price"`
			Qty        string `json:"qty"`
			Commission string `json:"commission"`
		} `json:"fills"`
	}
	if err := l.signedCall(ctx, http.MethodPost, "/api/v3/order", params, &out); err != nil {
		return nil, fmt.Errorf("market %s %s: %w", side, symbol, err)
	}

	executedQty, _ := strconv.ParseFloat(out.ExecutedQty, 64)
	var notional, filledQty, fee float64
	for _, f := range out.Fills {
		price, _ := strconv.ParseFloat(f.Price, 64)
		fqty, _ := strconv.ParseFloat(f.Qty, 64)
		commission, _ := strconv.ParseFloat(f.Commission, 64)
		notional += price * fqty
		filledQty += fqty
		fee += commission
	}

	var avgPrice float64
	if filledQty > 0 {
		avgPrice = notional / filledQty
	}
	if executedQty == 0 {
		executedQty = filledQty
	}

	l.logger.Info("live fill",
		"symbol", symbol, "side", side, "qty", executedQty,
		"price", avgPrice, "reason", reason, "confidence", confidence)

	return &Fill{
		OrderID: strconv.FormatInt(out.OrderID, 10),
		Symbol:  symbol,
		Side:    side,
		Price:   avgPrice,
		Qty:     executedQty,
		Fee:     fee,
		Ts:      time.Now().UTC(),
	}, nil
}

func (l *Live) get(ctx context.Context, path string, q url.Values, out any) error {
	u := l.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return l.do(req, out)
}

func (l *Live) signedCall(ctx context.Context, method, path string, params url.Values, out any) error {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	// The signature covers the exact query string and is appended last.
	query := params.Encode()
	u := l.baseURL + path + "?" + query + "&signature=" + l.sign(query)
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", l.apiKey)
	return l.do(req, out)
}

func (l *Live) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(l.apiSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *Live) do(req *http.Request, out any) error {
	resp, err := l.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("binance %d: %s", resp.StatusCode, apiErr.Msg)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
