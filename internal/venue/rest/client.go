// Package rest implements the venue.Client interface against a
// Hyperliquid-shaped HTTP API: a single POST /info endpoint for every read,
// tagged by a "type" field in the request body, and a single POST /exchange
// endpoint for every signed write, tagged by an "action.type" field.
//
// Construction (resty client, retry-on-5xx, per-category rate-limit wait
// before each call, dry-run short-circuit) follows exchange/client.go.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"hyperprime/internal/config"
	"hyperprime/internal/venue"
	"hyperprime/pkg/types"
)

// Client implements venue.Client over the info/exchange REST API.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

var _ venue.Client = (*Client)(nil)

// NewClient creates a REST client with rate limiting and retry-on-5xx.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.API.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.API.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: cfg.DryRun,
		logger: logger,
	}
}

func (c *Client) Address() string {
	return c.auth.Address().Hex()
}

// info issues a POST /info call tagged with reqType and decodes into out.
func (c *Client) info(ctx context.Context, bucket *TokenBucket, reqType string, extra map[string]interface{}, out interface{}) error {
	if err := bucket.Wait(ctx); err != nil {
		return err
	}

	body := map[string]interface{}{"type": reqType}
	for k, v := range extra {
		body[k] = v
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		Post("/info")
	if err != nil {
		return fmt.Errorf("info %s: %w", reqType, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("info %s: status %d: %s", reqType, resp.StatusCode(), resp.String())
	}
	return nil
}

// exchangeAction signs and submits a write action to POST /exchange.
func (c *Client) exchangeAction(ctx context.Context, bucket *TokenBucket, actionType string, action map[string]interface{}, out interface{}) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit action", "type", actionType)
		return nil
	}
	if err := bucket.Wait(ctx); err != nil {
		return err
	}

	action["type"] = actionType
	nonce := NextNonce()
	sig, err := c.auth.SignAction(actionType, action, nonce)
	if err != nil {
		return fmt.Errorf("sign action: %w", err)
	}

	payload := map[string]interface{}{
		"action":    action,
		"nonce":     nonce,
		"signature": sig,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(out).
		Post("/exchange")
	if err != nil {
		return fmt.Errorf("exchange %s: %w", actionType, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("exchange %s: status %d: %s", actionType, resp.StatusCode(), resp.String())
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Metadata discovery
// ————————————————————————————————————————————————————————————————————————

type wireAssetCtx struct {
	Funding      string `json:"funding"`
	OpenInterest string `json:"openInterest"`
	MarkPx       string `json:"markPx"`
	OraclePx     string `json:"oraclePx"`
}

type wireUniverseEntry struct {
	Name     string `json:"name"`
	Delisted bool   `json:"isDelisted"`
}

type wireMetaResponse struct {
	Universe []wireUniverseEntry `json:"universe"`
}

func (c *Client) Meta(ctx context.Context) ([]venue.MetaEntry, error) {
	return c.MetaAndAssetCtxs(ctx, "")
}

func (c *Client) MetaAndAssetCtxs(ctx context.Context, dex string) ([]venue.MetaEntry, error) {
	var raw []json.RawMessage
	extra := map[string]interface{}{}
	if dex != "" {
		extra["dex"] = dex
	}
	if err := c.info(ctx, c.rl.Meta, "metaAndAssetCtxs", extra, &raw); err != nil {
		return nil, err
	}
	if len(raw) != 2 {
		return nil, fmt.Errorf("metaAndAssetCtxs: expected 2-element response, got %d", len(raw))
	}

	var meta wireMetaResponse
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	var ctxs []wireAssetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return nil, fmt.Errorf("decode asset ctxs: %w", err)
	}

	entries := make([]venue.MetaEntry, 0, len(meta.Universe))
	for i, u := range meta.Universe {
		entry := venue.MetaEntry{
			Name:       u.Name,
			LocalIndex: i,
			IsNative:   dex == "",
			DexName:    dex,
			Delisted:   u.Delisted,
		}
		if i < len(ctxs) {
			entry.Funding = parseDecimalOrZero(ctxs[i].Funding)
			entry.OpenInterest = parseDecimalOrZero(ctxs[i].OpenInterest)
			entry.MarkPrice = parseDecimalOrZero(ctxs[i].MarkPx)
			if oracle, err := decimal.NewFromString(ctxs[i].OraclePx); err == nil {
				entry.OraclePrice = decimal.NewNullDecimal(oracle)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *Client) PerpDexs(ctx context.Context) ([]venue.PerpDexInfo, error) {
	var raw []struct {
		Name            string `json:"name"`
		CollateralToken int    `json:"collateralToken"`
	}
	if err := c.info(ctx, c.rl.Meta, "perpDexs", nil, &raw); err != nil {
		return nil, err
	}
	dexs := make([]venue.PerpDexInfo, 0, len(raw))
	for i, d := range raw {
		if d.Name == "" {
			continue // index 0 is the native dex sentinel
		}
		dexs = append(dexs, venue.PerpDexInfo{
			Name:                 d.Name,
			DeployerIndex:        i,
			CollateralTokenIndex: d.CollateralToken,
		})
	}
	return dexs, nil
}

func (c *Client) AllPerpMetas(ctx context.Context) (map[string][]venue.MetaEntry, error) {
	dexs, err := c.PerpDexs(ctx)
	if err != nil {
		return nil, fmt.Errorf("all perp metas: %w", err)
	}

	out := make(map[string][]venue.MetaEntry, len(dexs)+1)
	native, err := c.MetaAndAssetCtxs(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("all perp metas: native: %w", err)
	}
	out[types.NativeDex] = native

	for _, d := range dexs {
		entries, err := c.MetaAndAssetCtxs(ctx, d.Name)
		if err != nil {
			c.logger.Warn("deployer context fetch failed, skipping", "dex", d.Name, "error", err)
			continue
		}
		for i := range entries {
			entries[i].DeployerIdx = d.DeployerIndex
			entries[i].IsNative = false
		}
		out[d.Name] = entries
	}
	return out, nil
}

type wireSpotToken struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
}

type wireSpotPair struct {
	Tokens [2]int `json:"tokens"`
	Index  int    `json:"index"`
}

type wireSpotMetaResponse struct {
	Tokens        []wireSpotToken `json:"tokens"`
	UniversePairs []wireSpotPair  `json:"universe"`
}

func (c *Client) SpotMeta(ctx context.Context) ([]venue.SpotTokenInfo, []venue.SpotPairInfo, error) {
	var raw wireSpotMetaResponse
	if err := c.info(ctx, c.rl.Meta, "spotMeta", nil, &raw); err != nil {
		return nil, nil, err
	}

	tokens := make([]venue.SpotTokenInfo, 0, len(raw.Tokens))
	for _, t := range raw.Tokens {
		tokens = append(tokens, venue.SpotTokenInfo{Index: t.Index, Name: t.Name})
	}

	pairs := make([]venue.SpotPairInfo, 0, len(raw.UniversePairs))
	for _, p := range raw.UniversePairs {
		// tokens[0] is the base token paired against USDC (tokens[1]).
		pairs = append(pairs, venue.SpotPairInfo{TokenIndex: p.Tokens[0], PairIndex: p.Index})
	}
	return tokens, pairs, nil
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

type wireLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

type wireL2Book struct {
	Coin   string         `json:"coin"`
	Time   int64          `json:"time"`
	Levels [2][]wireLevel `json:"levels"`
}

func (c *Client) L2Book(ctx context.Context, coin string, nSigFigs *int) (types.MarketBook, error) {
	extra := map[string]interface{}{"coin": coin}
	if nSigFigs != nil {
		extra["nSigFigs"] = *nSigFigs
	}

	var raw wireL2Book
	if err := c.info(ctx, c.rl.Book, "l2Book", extra, &raw); err != nil {
		return types.MarketBook{}, err
	}

	book := types.MarketBook{Coin: raw.Coin, TimeMs: raw.Time}
	if len(raw.Levels) > 0 {
		book.Bids = toPriceLevels(raw.Levels[0])
	}
	if len(raw.Levels) > 1 {
		book.Asks = toPriceLevels(raw.Levels[1])
	}
	return book, nil
}

func toPriceLevels(levels []wireLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, types.PriceLevel{
			Price:      parseDecimalOrZero(l.Px),
			Size:       parseDecimalOrZero(l.Sz),
			OrderCount: l.N,
		})
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Account reads
// ————————————————————————————————————————————————————————————————————————

type wireClearinghouseState struct {
	MarginSummary struct {
		AccountValue string `json:"accountValue"`
	} `json:"marginSummary"`
	Withdrawable string `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin             string `json:"coin"`
			Szi              string `json:"szi"`
			EntryPx          string `json:"entryPx"`
			Leverage         struct {
				Value float64 `json:"value"`
			} `json:"leverage"`
			LiquidationPx string `json:"liquidationPx"`
			UnrealizedPnl string `json:"unrealizedPnl"`
		} `json:"position"`
	} `json:"assetPositions"`
}

func (c *Client) ClearinghouseState(ctx context.Context, user string) (venue.PerpBalance, error) {
	var raw wireClearinghouseState
	if err := c.info(ctx, c.rl.Account, "clearinghouseState", map[string]interface{}{"user": user}, &raw); err != nil {
		return venue.PerpBalance{}, err
	}

	bal := venue.PerpBalance{
		AccountValue:     parseDecimalOrZero(raw.MarginSummary.AccountValue),
		WithdrawableUSDC: parseDecimalOrZero(raw.Withdrawable),
	}
	for _, p := range raw.AssetPositions {
		pos := venue.RawPosition{
			Coin:          p.Position.Coin,
			Szi:           parseDecimalOrZero(p.Position.Szi),
			EntryPrice:    parseDecimalOrZero(p.Position.EntryPx),
			UnrealizedPnL: parseDecimalOrZero(p.Position.UnrealizedPnl),
			Leverage:      decimal.NewFromFloat(p.Position.Leverage.Value),
		}
		if liq, err := decimal.NewFromString(p.Position.LiquidationPx); err == nil {
			pos.LiquidationPrice = decimal.NewNullDecimal(liq)
		}
		bal.Positions = append(bal.Positions, pos)
	}
	return bal, nil
}

type wireSpotBalance struct {
	Coin  string `json:"coin"`
	Total string `json:"total"`
}

type wireSpotClearinghouseState struct {
	Balances []wireSpotBalance `json:"balances"`
}

func (c *Client) SpotClearinghouseState(ctx context.Context, user string) ([]venue.SpotBalance, error) {
	var raw wireSpotClearinghouseState
	if err := c.info(ctx, c.rl.Account, "spotClearinghouseState", map[string]interface{}{"user": user}, &raw); err != nil {
		return nil, err
	}
	out := make([]venue.SpotBalance, 0, len(raw.Balances))
	for _, b := range raw.Balances {
		out = append(out, venue.SpotBalance{Token: b.Coin, Total: parseDecimalOrZero(b.Total)})
	}
	return out, nil
}

type wireOpenOrder struct {
	Coin    string `json:"coin"`
	Oid     int64  `json:"oid"`
	Cloid   string `json:"cloid"`
	Side    string `json:"side"` // "B" or "A"
	LimitPx string `json:"limitPx"`
	Sz      string `json:"sz"`
}

func (c *Client) OpenOrders(ctx context.Context, user string) ([]venue.OpenOrderInfo, error) {
	var raw []wireOpenOrder
	if err := c.info(ctx, c.rl.Account, "openOrders", map[string]interface{}{"user": user}, &raw); err != nil {
		return nil, err
	}
	out := make([]venue.OpenOrderInfo, 0, len(raw))
	for _, o := range raw {
		out = append(out, venue.OpenOrderInfo{
			Coin:          o.Coin,
			OrderID:       fmt.Sprintf("%d", o.Oid),
			ClientOrderID: o.Cloid,
			Side:          sideFromWire(o.Side),
			Price:         parseDecimalOrZero(o.LimitPx),
			Size:          parseDecimalOrZero(o.Sz),
		})
	}
	return out, nil
}

type wireFill struct {
	Coin string `json:"coin"`
	Oid  int64  `json:"oid"`
	Side string `json:"side"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Time int64  `json:"time"`
}

func (c *Client) UserFills(ctx context.Context, user string) ([]venue.Fill, error) {
	var raw []wireFill
	if err := c.info(ctx, c.rl.Account, "userFills", map[string]interface{}{"user": user}, &raw); err != nil {
		return nil, err
	}
	out := make([]venue.Fill, 0, len(raw))
	for _, f := range raw {
		out = append(out, venue.Fill{
			Coin:    f.Coin,
			OrderID: fmt.Sprintf("%d", f.Oid),
			Side:    sideFromWire(f.Side),
			Price:   parseDecimalOrZero(f.Px),
			Size:    parseDecimalOrZero(f.Sz),
			TimeMs:  f.Time,
		})
	}
	return out, nil
}

type wireFundingEntry struct {
	Time        int64  `json:"time"`
	FundingRate string `json:"fundingRate"`
}

func (c *Client) FundingHistory(ctx context.Context, coin string, startMs, endMs int64) ([]venue.FundingEntry, error) {
	extra := map[string]interface{}{"coin": coin, "startTime": startMs}
	if endMs > 0 {
		extra["endTime"] = endMs
	}
	var raw []wireFundingEntry
	if err := c.info(ctx, c.rl.Account, "fundingHistory", extra, &raw); err != nil {
		return nil, err
	}
	out := make([]venue.FundingEntry, 0, len(raw))
	for _, e := range raw {
		out = append(out, venue.FundingEntry{TimeMs: e.Time, FundingRate: parseDecimalOrZero(e.FundingRate)})
	}
	return out, nil
}

// ————————————————————————————————————————————————————————————————————————
// Writes
// ————————————————————————————————————————————————————————————————————————

func orderTypeWire(ot types.OrderType) map[string]interface{} {
	if ot.Limit != nil {
		return map[string]interface{}{"limit": map[string]interface{}{"tif": string(ot.Limit.TIF)}}
	}
	return map[string]interface{}{
		"trigger": map[string]interface{}{
			"triggerPx": ot.Trigger.TriggerPrice.String(),
			"isMarket":  ot.Trigger.IsMarket,
			"tpsl":      tpslWire(ot.Trigger.TakeProfit),
		},
	}
}

func tpslWire(takeProfit bool) string {
	if takeProfit {
		return "tp"
	}
	return "sl"
}

func orderParamsWire(p types.OrderParams, builder *types.Builder) map[string]interface{} {
	wire := map[string]interface{}{
		"a": p.AssetIndex,
		"b": p.IsBuy,
		"p": p.Price.String(),
		"s": p.Size.String(),
		"r": p.ReduceOnly,
		"t": orderTypeWire(p.OrderType),
	}
	if p.ClientOrderID != "" {
		wire["c"] = p.ClientOrderID
	}
	if builder != nil {
		wire["b_fee"] = map[string]interface{}{"b": builder.Address, "f": builder.FeeInTenthBps}
	}
	return wire
}

type wireOrderStatus struct {
	Filled *struct {
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
		Oid     int64  `json:"oid"`
	} `json:"filled"`
	Resting *struct {
		Oid   int64  `json:"oid"`
		Cloid string `json:"cloid"`
	} `json:"resting"`
	Error             *string `json:"error"`
	WaitingForFill    bool    `json:"waitingForFill"`
	WaitingForTrigger bool    `json:"waitingForTrigger"`
}

func toOrderStatus(w wireOrderStatus) types.OrderStatus {
	status := types.OrderStatus{
		Error:             w.Error,
		WaitingForFill:    w.WaitingForFill,
		WaitingForTrigger: w.WaitingForTrigger,
	}
	if w.Filled != nil {
		status.Filled = &types.FilledStatus{
			TotalSize: parseDecimalOrZero(w.Filled.TotalSz),
			AvgPrice:  parseDecimalOrZero(w.Filled.AvgPx),
			OrderID:   fmt.Sprintf("%d", w.Filled.Oid),
		}
	}
	if w.Resting != nil {
		status.Resting = &types.RestingStatus{
			OrderID:       fmt.Sprintf("%d", w.Resting.Oid),
			ClientOrderID: w.Resting.Cloid,
		}
	}
	return status
}

type wireOrderResponse struct {
	Status   string `json:"status"`
	Response struct {
		Data struct {
			Statuses []wireOrderStatus `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

func (c *Client) PlaceOrder(ctx context.Context, params types.OrderParams, builder *types.Builder) (types.OrderStatus, error) {
	statuses, err := c.BatchOrders(ctx, []types.OrderParams{params}, builder)
	if err != nil {
		return types.OrderStatus{}, err
	}
	if len(statuses) == 0 {
		return types.OrderStatus{}, fmt.Errorf("place order: no status returned")
	}
	return statuses[0], nil
}

func (c *Client) BatchOrders(ctx context.Context, params []types.OrderParams, builder *types.Builder) ([]types.OrderStatus, error) {
	if len(params) == 0 {
		return nil, nil
	}

	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit orders", "count", len(params))
		out := make([]types.OrderStatus, len(params))
		for i := range params {
			out[i] = types.OrderStatus{Resting: &types.RestingStatus{OrderID: fmt.Sprintf("dry-run-%d", i)}}
		}
		return out, nil
	}

	orders := make([]map[string]interface{}, len(params))
	for i, p := range params {
		orders[i] = orderParamsWire(p, builder)
	}
	action := map[string]interface{}{
		"orders":   orders,
		"grouping": "na",
	}

	var resp wireOrderResponse
	if err := c.exchangeAction(ctx, c.rl.Order, "order", action, &resp); err != nil {
		return nil, fmt.Errorf("batch orders: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("batch orders rejected: %s", resp.Status)
	}

	out := make([]types.OrderStatus, 0, len(resp.Response.Data.Statuses))
	for _, s := range resp.Response.Data.Statuses {
		out = append(out, toOrderStatus(s))
	}
	return out, nil
}

func (c *Client) CancelOrder(ctx context.Context, coin string, orderID string) error {
	action := map[string]interface{}{
		"cancels": []map[string]interface{}{{"coin": coin, "o": orderID}},
	}
	var resp wireOrderResponse
	return c.exchangeAction(ctx, c.rl.Cancel, "cancel", action, &resp)
}

func (c *Client) ApproveBuilderFee(ctx context.Context, maxFeeRatePct string, builder types.Builder) error {
	action := map[string]interface{}{
		"maxFeeRate": maxFeeRatePct,
		"builder":    builder.Address,
	}
	var resp map[string]interface{}
	return c.exchangeAction(ctx, c.rl.Transfer, "approveBuilderFee", action, &resp)
}

type wireMaxBuilderFee struct {
	MaxFeeRateTenthBps int `json:"maxFeeRateTenthBps"`
}

func (c *Client) MaxBuilderFee(ctx context.Context, user string, builder types.Builder) (int, error) {
	var raw int
	if err := c.info(ctx, c.rl.Meta, "maxBuilderFee", map[string]interface{}{
		"user": user, "builder": builder.Address,
	}, &raw); err != nil {
		return 0, err
	}
	return raw, nil
}

func (c *Client) SetLeverage(ctx context.Context, coin string, leverage int, isCross bool) error {
	action := map[string]interface{}{"coin": coin, "leverage": leverage, "isCross": isCross}
	var resp map[string]interface{}
	return c.exchangeAction(ctx, c.rl.Transfer, "updateLeverage", action, &resp)
}

func (c *Client) UsdClassTransfer(ctx context.Context, amount decimal.Decimal, toPerp bool) error {
	action := map[string]interface{}{"amount": amount.String(), "toPerp": toPerp}
	var resp map[string]interface{}
	return c.exchangeAction(ctx, c.rl.Transfer, "usdClassTransfer", action, &resp)
}

func (c *Client) SetDexAbstraction(ctx context.Context, enabled bool) error {
	action := map[string]interface{}{"enabled": enabled}
	var resp map[string]interface{}
	return c.exchangeAction(ctx, c.rl.Transfer, "setDexAbstraction", action, &resp)
}

// ————————————————————————————————————————————————————————————————————————
// Helpers
// ————————————————————————————————————————————————————————————————————————

func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func sideFromWire(s string) types.Side {
	if s == "B" {
		return types.BUY
	}
	return types.SELL
}
