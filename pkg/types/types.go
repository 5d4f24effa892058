// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the router — perp market
// metadata, order book levels, quotes, execution plans, collateral
// requirements, and venue wire shapes. It has no dependencies on internal
// packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// ManagedState tags whether a logical position is known to have been opened
// by this process, by something external, or is simply unknown.
type ManagedState string

const (
	ManagedBySDK    ManagedState = "managed"
	ManagedExternal ManagedState = "external"
	ManagedUnknown  ManagedState = "unknown"
)

// TimeInForce tags the lifecycle of a resting limit order.
type TimeInForce string

const (
	TIFAlo TimeInForce = "Alo" // add-liquidity-only (post-only)
	TIFIoc TimeInForce = "Ioc" // immediate-or-cancel
	TIFGtc TimeInForce = "Gtc" // good-til-cancelled
)

// OrderType is a tagged union: either a resting limit order or a trigger
// (stop/take-profit) order. Exactly one of Limit/Trigger is set.
type OrderType struct {
	Limit   *LimitOrderType
	Trigger *TriggerOrderType
}

// LimitOrderType carries the time-in-force for a limit order.
type LimitOrderType struct {
	TIF TimeInForce
}

// TriggerOrderType carries trigger-order parameters.
type TriggerOrderType struct {
	TriggerPrice decimal.Decimal
	IsMarket     bool
	TakeProfit   bool // true = take-profit, false = stop-loss
}

// NewIOCLimit is the order type the Router/Executor issue for plan legs: an
// immediate-or-cancel limit at the plan's limit price.
func NewIOCLimit() OrderType {
	return OrderType{Limit: &LimitOrderType{TIF: TIFIoc}}
}

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// NativeDex is the sentinel dex_name for first-party (non-deployer) markets.
const NativeDex = "__native__"

// PerpMarket is a single tradable venue for a given base asset.
type PerpMarket struct {
	BaseAsset  string // normalized symbol: uppercase, deployer prefix stripped, trailing digits stripped
	Coin       string // opaque venue-native identifier used in all wire calls
	AssetIndex int    // global numeric ID, see EncodeAssetIndex
	DexName    string // deployer label, or NativeDex for first-party markets
	Collateral string // resolved token symbol, or "TOKEN_<n>" placeholder

	IsNative     bool
	Funding      decimal.Decimal
	OpenInterest decimal.Decimal
	MarkPrice    decimal.Decimal
	OraclePrice  decimal.NullDecimal
}

// EncodeAssetIndex implements the global asset-index contract: native
// markets use their local index; deployer d>=1 markets use
// 100000 + d*10000 + localIndex.
func EncodeAssetIndex(isNative bool, deployerIndex, localIndex int) int {
	if isNative {
		return localIndex
	}
	return 100000 + deployerIndex*10000 + localIndex
}

// EncodeSpotAssetIndex implements the spot-swap wire encoding:
// 10000 + 2*pairIndex.
func EncodeSpotAssetIndex(pairIndex int) int {
	return 10000 + 2*pairIndex
}

// MarketGroup is the set of markets that trade a given base asset.
type MarketGroup struct {
	BaseAsset       string
	Markets         []PerpMarket
	HasAlternatives bool // len(Markets) > 1
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level as returned by the venue, kept as
// decimals so price comparisons never go through float.
type PriceLevel struct {
	Price      decimal.Decimal
	Size       decimal.Decimal
	OrderCount int
}

// MarketBook is the L2 book for a single market (one coin).
type MarketBook struct {
	Coin   string
	Bids   []PriceLevel // descending by price
	Asks   []PriceLevel // ascending by price
	TimeMs int64
}

// LevelSource records one market's contribution to a merged price level.
type LevelSource struct {
	Coin string
	Size decimal.Decimal
}

// AggregatedLevel is a merged price level across every contributing market.
// Invariant: sum(Sources.Size) == TotalSize, within representation tolerance.
type AggregatedLevel struct {
	Price     decimal.Decimal
	TotalSize decimal.Decimal
	Sources   []LevelSource
}

// AggregatedBook is the per-asset merged book with provenance.
type AggregatedBook struct {
	BaseAsset      string
	Bids           []AggregatedLevel      // descending by price
	Asks           []AggregatedLevel      // ascending by price
	PerMarketBooks map[string]MarketBook  // coin -> contributing snapshot
	FailedCoins    []string
	TimestampMs    int64
}

// BestBid returns the best bid across the aggregated book. ok is false if
// the bid side is empty.
func (b AggregatedBook) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the best ask across the aggregated book. ok is false if
// the ask side is empty.
func (b AggregatedBook) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Asks[0].Price, true
}

// Mid returns (bestBid+bestAsk)/2, or the single-sided best, or zero.
func (b AggregatedBook) Mid() decimal.Decimal {
	bid, bidOk := b.BestBid()
	ask, askOk := b.BestAsk()
	switch {
	case bidOk && askOk:
		return bid.Add(ask).Div(decimal.NewFromInt(2))
	case bidOk:
		return bid
	case askOk:
		return ask
	default:
		return decimal.Zero
	}
}

// ————————————————————————————————————————————————————————————————————————
// Simulation, scoring, plans
// ————————————————————————————————————————————————————————————————————————

// FillSimulation is the result of walking one side of a book for a size.
type FillSimulation struct {
	AvgPrice       decimal.Decimal
	MidPrice       decimal.Decimal
	PriceImpactBps decimal.Decimal
	TotalCost      decimal.Decimal
	FilledSize     decimal.Decimal
}

// MarketScore combines a simulation with funding/collateral factors into a
// single comparable figure. Lower TotalScore is better.
type MarketScore struct {
	Market          PerpMarket
	PriceImpact     decimal.Decimal
	FundingRate     decimal.Decimal
	CollateralMatch bool
	TotalScore      decimal.Decimal
	SwapCostBps     decimal.NullDecimal
	Reason          string
}

// ExecutionPlan is a single-leg order plan.
type ExecutionPlan struct {
	Market     PerpMarket
	Side       Side
	Size       decimal.Decimal
	LimitPrice decimal.Decimal
	OrderType  OrderType
	Slippage   decimal.Decimal
}

// SplitAllocation is one market's share of a split order.
// Invariant: sum(Proportion) == 1 ± epsilon across a SplitExecutionPlan.
type SplitAllocation struct {
	Market            PerpMarket
	Size              decimal.Decimal
	EstimatedCost     decimal.Decimal
	EstimatedAvgPrice decimal.Decimal
	Proportion        decimal.Decimal
}

// SplitExecutionPlan is a multi-leg plan produced by the split optimizer.
type SplitExecutionPlan struct {
	Legs           []ExecutionPlan
	CollateralPlan CollateralPlan
	Side           Side
	TotalSize      decimal.Decimal
	Slippage       decimal.Decimal
}

// Quote is the result of single-market routing.
type Quote struct {
	BaseAsset               string
	Side                    Side
	RequestedSize           decimal.Decimal
	SelectedMarket          PerpMarket
	EstimatedAvgPrice       decimal.Decimal
	EstimatedPriceImpactBps decimal.Decimal
	EstimatedFundingRate    decimal.Decimal
	AlternativesConsidered  []MarketScore
	Warnings                []string
	Plan                    ExecutionPlan
}

// SplitQuote is the result of split routing.
type SplitQuote struct {
	BaseAsset     string
	Side          Side
	RequestedSize decimal.Decimal
	Allocations   []SplitAllocation
	AggAvgPrice   decimal.Decimal
	AggImpactBps  decimal.Decimal
	Warnings      []string
	Plan          SplitExecutionPlan
}

// ————————————————————————————————————————————————————————————————————————
// Collateral
// ————————————————————————————————————————————————————————————————————————

// CollateralRequirement is the per-token shortfall estimate for a trade.
type CollateralRequirement struct {
	Token                string
	AmountNeeded         decimal.Decimal
	CurrentBalance       decimal.Decimal
	Shortfall            decimal.Decimal
	SwapFrom             string
	EstimatedSwapCostBps decimal.Decimal
}

// CollateralPlan aggregates every token's requirement for a trade.
type CollateralPlan struct {
	Requirements       []CollateralRequirement
	TotalSwapCostBps   decimal.Decimal
	SwapsNeeded        int
	AbstractionEnabled bool
}

// ExecutedSwap records one perp->spot transfer + spot buy.
type ExecutedSwap struct {
	Token      string
	USDCSpent  decimal.Decimal
	FilledSize decimal.Decimal
	OrderID    string
}

// CollateralReceipt is the outcome of CollateralManager.Prepare.
type CollateralReceipt struct {
	Success               bool
	SwapsExecuted         []ExecutedSwap
	AbstractionWasEnabled bool
	Error                 string
}

// ————————————————————————————————————————————————————————————————————————
// Positions
// ————————————————————————————————————————————————————————————————————————

// LogicalPosition is a normalized position on one market.
type LogicalPosition struct {
	BaseAsset        string
	Coin             string
	Side             Side
	Size             decimal.Decimal
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	Leverage         decimal.Decimal
	LiquidationPrice decimal.NullDecimal
	ManagedBy        ManagedState
}

// ————————————————————————————————————————————————————————————————————————
// Venue wire shapes
// ————————————————————————————————————————————————————————————————————————

// OrderParams is the write-path payload for PlaceOrder/BatchOrders.
type OrderParams struct {
	AssetIndex    int
	IsBuy         bool
	Price         decimal.Decimal
	Size          decimal.Decimal
	ReduceOnly    bool
	OrderType     OrderType
	ClientOrderID string
}

// Builder describes an optional per-order builder fee.
type Builder struct {
	Address       string
	FeeInTenthBps int // venue wire units: 0.1 bps per unit
}

// FilledStatus is the terminal "fully filled" order status.
type FilledStatus struct {
	TotalSize decimal.Decimal
	AvgPrice  decimal.Decimal
	OrderID   string
}

// RestingStatus is the "accepted, resting on book" order status.
type RestingStatus struct {
	OrderID       string
	ClientOrderID string
}

// OrderStatus is the tagged union the venue returns for a submitted order.
// Exactly one field is meaningfully populated.
type OrderStatus struct {
	Filled            *FilledStatus
	Resting           *RestingStatus
	Error             *string
	WaitingForFill    bool
	WaitingForTrigger bool
}

// ExecutionReceipt is the single-order submission outcome.
type ExecutionReceipt struct {
	Success    bool
	FilledSize decimal.Decimal
	AvgPrice   decimal.Decimal
	OrderID    string
	Error      string
}

// SplitExecutionReceipt is the multi-leg submission outcome.
type SplitExecutionReceipt struct {
	Success bool
	Legs    []ExecutionReceipt
	Error   string
}

// Timestamp exists so callers don't reach for time.Now() inconsistently
// across packages when stamping results.
func Timestamp() time.Time { return time.Now() }
