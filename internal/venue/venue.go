// Package venue defines the narrow interface the core packages use to talk
// to the trading venue. Every read/write primitive named in the external
// interface contract lives here as a Go interface; internal/venue/rest
// supplies the concrete HTTP implementation and internal/venue/ws the
// optional live-subscription feed. No core package imports rest or ws
// directly — only venue.Client.
package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"hyperprime/pkg/types"
)

// MetaEntry is a single asset's static metadata from the meta/asset-ctx
// discovery calls.
type MetaEntry struct {
	Name          string
	LocalIndex    int
	DeployerIdx   int
	IsNative      bool
	DexName       string
	Delisted      bool
	CollateralIdx int
	Funding       decimal.Decimal
	OpenInterest  decimal.Decimal
	MarkPrice     decimal.Decimal
	OraclePrice   decimal.NullDecimal
}

// PerpDexInfo describes one deployer's permissioned perp universe.
type PerpDexInfo struct {
	Name                 string
	DeployerIndex        int
	CollateralTokenIndex int // spot token index backing this dex's margin
}

// SpotTokenInfo maps a spot token's wire index to its symbol, used to
// resolve PerpMarket.Collateral and to build the spot-swap index maps.
type SpotTokenInfo struct {
	Index int
	Name  string
}

// SpotPairInfo maps a token index to its USDC spot-pair index, used for
// EncodeSpotAssetIndex.
type SpotPairInfo struct {
	TokenIndex int
	PairIndex  int
}

// SpotBalance is one line of a spot_clearinghouse_state response.
type SpotBalance struct {
	Token string
	Total decimal.Decimal
}

// PerpBalance summarizes the perp margin account (clearinghouse_state).
type PerpBalance struct {
	AccountValue     decimal.Decimal
	WithdrawableUSDC decimal.Decimal
	Positions        []RawPosition
}

// RawPosition is a single venue-reported perp position before normalization
// into types.LogicalPosition.
type RawPosition struct {
	Coin             string
	Szi              decimal.Decimal // signed size; negative = short
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	Leverage         decimal.Decimal
	LiquidationPrice decimal.NullDecimal
}

// Fill is a single historical fill from user_fills.
type Fill struct {
	Coin    string
	OrderID string
	Side    types.Side
	Price   decimal.Decimal
	Size    decimal.Decimal
	TimeMs  int64
}

// FundingEntry is one row of funding_history.
type FundingEntry struct {
	TimeMs      int64
	FundingRate decimal.Decimal
}

// OpenOrderInfo is a single resting order from open_orders.
type OpenOrderInfo struct {
	Coin          string
	OrderID       string
	ClientOrderID string
	Side          types.Side
	Price         decimal.Decimal
	Size          decimal.Decimal
}

// Client is every read/write primitive the core packages need from the
// venue. All methods return typed results or a typed error; none of them
// guess at retry or auth policy — that lives in the concrete implementation.
type Client interface {
	// Metadata discovery.
	Meta(ctx context.Context) ([]MetaEntry, error)
	MetaAndAssetCtxs(ctx context.Context, dex string) ([]MetaEntry, error)
	PerpDexs(ctx context.Context) ([]PerpDexInfo, error)
	AllPerpMetas(ctx context.Context) (map[string][]MetaEntry, error)
	SpotMeta(ctx context.Context) ([]SpotTokenInfo, []SpotPairInfo, error)

	// Market data.
	L2Book(ctx context.Context, coin string, nSigFigs *int) (types.MarketBook, error)

	// Account reads.
	ClearinghouseState(ctx context.Context, user string) (PerpBalance, error)
	SpotClearinghouseState(ctx context.Context, user string) ([]SpotBalance, error)
	OpenOrders(ctx context.Context, user string) ([]OpenOrderInfo, error)
	UserFills(ctx context.Context, user string) ([]Fill, error)
	FundingHistory(ctx context.Context, coin string, startMs, endMs int64) ([]FundingEntry, error)

	// Writes.
	PlaceOrder(ctx context.Context, params types.OrderParams, builder *types.Builder) (types.OrderStatus, error)
	BatchOrders(ctx context.Context, params []types.OrderParams, builder *types.Builder) ([]types.OrderStatus, error)
	CancelOrder(ctx context.Context, coin string, orderID string) error

	// Builder-fee lifecycle.
	ApproveBuilderFee(ctx context.Context, maxFeeRatePct string, builder types.Builder) error
	MaxBuilderFee(ctx context.Context, user string, builder types.Builder) (int, error)

	// Collateral and account mode.
	SetLeverage(ctx context.Context, coin string, leverage int, isCross bool) error
	UsdClassTransfer(ctx context.Context, amount decimal.Decimal, toPerp bool) error
	SetDexAbstraction(ctx context.Context, enabled bool) error

	// Address returns the wallet address this client signs for.
	Address() string
}
