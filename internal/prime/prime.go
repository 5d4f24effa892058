// Package prime wires every core component into a single facade: market
// discovery, quoting (single-market and split), execution, and position
// reporting. It is the only entry point cmd/hyperprime talks to.
//
// Construction follows engine/engine.go's New() (construct-in-dependency-
// order) and cmd/bot/main.go's lifecycle, minus the standing-loop machinery:
// this system answers one request at a time rather than quoting
// continuously.
package prime

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"hyperprime/internal/book"
	"hyperprime/internal/collateral"
	"hyperprime/internal/config"
	"hyperprime/internal/errs"
	"hyperprime/internal/executor"
	"hyperprime/internal/position"
	"hyperprime/internal/registry"
	"hyperprime/internal/router"
	"hyperprime/internal/venue"
	"hyperprime/internal/venue/ws"
	"hyperprime/pkg/types"
)

// Facade wires together Registry, Aggregator, Router, Collateral Manager,
// Executor, and Position Manager, and exposes the operations a front-end
// (CLI or otherwise) needs.
type Facade struct {
	client     venue.Client
	registry   *registry.Registry
	aggregator *book.Aggregator
	router     *router.Router
	collateral *collateral.Manager
	executor   *executor.Executor
	positions  *position.Manager

	wsURL           string
	defaultSlippage decimal.Decimal
	hasWallet       bool
	logger          *slog.Logger
}

// New constructs a Facade from configuration and a venue client. Connect
// must be called before any market-dependent operation succeeds.
func New(cfg config.Config, client venue.Client, logger *slog.Logger) *Facade {
	reg := registry.New(client, logger)
	agg := book.New(client, logger)
	rtr := router.New(reg, agg, client, logger)
	coll := collateral.New(client, logger)
	pos := position.New(client, reg)

	var builder *types.Builder
	feeBps := 0.0
	if cfg.Builder != nil && !cfg.Builder.Disabled {
		builder = &types.Builder{Address: cfg.Builder.Address}
		feeBps = cfg.Builder.FeeBps
	}
	exec := executor.New(client, builder, feeBps, logger)

	slippage := decimal.NewFromFloat(cfg.Router.DefaultSlippage)
	if slippage.IsZero() {
		slippage = decimal.NewFromFloat(0.01)
	}

	return &Facade{
		client:          client,
		registry:        reg,
		aggregator:      agg,
		router:          rtr,
		collateral:      coll,
		executor:        exec,
		positions:       pos,
		wsURL:           cfg.API.WSURL,
		defaultSlippage: slippage,
		hasWallet:       cfg.Wallet.PrivateKey != "",
		logger:          logger.With("component", "prime"),
	}
}

// NewLiveFeed builds a fresh WebSocket feed against the configured venue
// endpoint. The Router and Aggregator never use this themselves (snapshots
// suffice for routing); it exists for callers that want a live stream
// alongside routing, such as the CLI's watch command. The caller owns the
// feed's lifecycle (Run, Subscribe*, and draining its event channels).
func (f *Facade) NewLiveFeed() *ws.Feed {
	return ws.NewFeed(f.wsURL, f.logger)
}

// Connect runs market discovery, populating the registry. It must be
// called once before Quote/QuoteSplit/Markets/Book/Execute*.
func (f *Facade) Connect(ctx context.Context) error {
	return f.registry.Discover(ctx)
}

// DefaultSlippage returns the configured default slippage tolerance, used
// by callers that don't specify their own.
func (f *Facade) DefaultSlippage() decimal.Decimal { return f.defaultSlippage }

// Markets returns the indexed markets for a base asset.
func (f *Facade) Markets(baseAsset string) ([]types.PerpMarket, error) {
	return f.registry.GetMarkets(baseAsset)
}

// AllGroups returns every indexed market group.
func (f *Facade) AllGroups() ([]types.MarketGroup, error) {
	return f.registry.GetAllGroups()
}

// Book returns the merged order book for a base asset.
func (f *Facade) Book(ctx context.Context, baseAsset string) (types.AggregatedBook, error) {
	markets, err := f.registry.GetMarkets(baseAsset)
	if err != nil {
		return types.AggregatedBook{}, err
	}
	agg := f.aggregator.Aggregate(ctx, baseAsset, markets)
	if len(agg.PerMarketBooks) == 0 && len(markets) > 0 {
		return types.AggregatedBook{}, &errs.MarketDataUnavailableError{BaseAsset: baseAsset, FailedCoins: agg.FailedCoins}
	}
	return agg, nil
}

// resolveUserCollateral returns the set of collateral tokens the user
// currently holds: every spot token with a positive balance, plus the
// account-native USDC (always available via the perp balance under the
// venue's abstraction mode).
func (f *Facade) resolveUserCollateral(ctx context.Context, userAddress string) (map[string]bool, error) {
	held := map[string]bool{collateral.NativeCollateral: true}
	balances, err := f.client.SpotClearinghouseState(ctx, userAddress)
	if err != nil {
		return nil, err
	}
	for _, b := range balances {
		if b.Total.GreaterThan(decimal.Zero) {
			held[b.Token] = true
		}
	}
	return held, nil
}

// Quote routes a single-market order for the caller's own wallet address.
func (f *Facade) Quote(ctx context.Context, baseAsset string, side types.Side, size decimal.Decimal, slippage decimal.Decimal) (types.Quote, error) {
	userCollateral, err := f.resolveUserCollateral(ctx, f.client.Address())
	if err != nil {
		return types.Quote{}, err
	}
	return f.router.Quote(ctx, baseAsset, side, size, userCollateral, slippage)
}

// QuoteSplit routes an order across every market trading the asset.
func (f *Facade) QuoteSplit(ctx context.Context, baseAsset string, side types.Side, size decimal.Decimal, slippage decimal.Decimal) (types.SplitQuote, error) {
	userCollateral, err := f.resolveUserCollateral(ctx, f.client.Address())
	if err != nil {
		return types.SplitQuote{}, err
	}
	return f.router.QuoteSplit(ctx, baseAsset, side, size, userCollateral, slippage)
}

// Execute submits a single-leg plan. Requires wallet credentials. The
// returned error is nil on a successful fill or resting accept; a rejected
// or failed submission still returns its receipt alongside an
// *errs.ExecutionError so callers can branch with errors.Is(err,
// errs.ErrExecution) instead of inspecting the receipt's Error string.
func (f *Facade) Execute(ctx context.Context, plan types.ExecutionPlan) (types.ExecutionReceipt, error) {
	if !f.hasWallet {
		return types.ExecutionReceipt{}, errs.ErrNoWallet
	}
	receipt := f.executor.Execute(ctx, plan, f.client.Address())
	if !receipt.Success {
		return receipt, &errs.ExecutionError{Msg: receipt.Error}
	}
	f.positions.RecordFill(plan.Market.BaseAsset, plan.Market.Coin, receipt.OrderID)
	return receipt, nil
}

// ExecuteSplit prepares collateral and submits every leg of a split quote
// as one batch. Requires wallet credentials. As with Execute, a failed
// batch still returns its receipt alongside an *errs.ExecutionError.
func (f *Facade) ExecuteSplit(ctx context.Context, quote types.SplitQuote) (types.SplitExecutionReceipt, error) {
	if !f.hasWallet {
		return types.SplitExecutionReceipt{}, errs.ErrNoWallet
	}
	receipt := f.executor.ExecuteSplit(ctx, quote.Plan, quote.Allocations, f.collateral, f.client.Address())
	if !receipt.Success {
		return receipt, &errs.ExecutionError{Msg: receipt.Error}
	}
	for i, leg := range receipt.Legs {
		if leg.Success && i < len(quote.Plan.Legs) {
			f.positions.RecordFill(quote.Plan.Legs[i].Market.BaseAsset, quote.Plan.Legs[i].Market.Coin, leg.OrderID)
		}
	}
	return receipt, nil
}

// Positions returns the caller's normalized positions.
func (f *Facade) Positions(ctx context.Context) ([]types.LogicalPosition, error) {
	return f.positions.Positions(ctx, f.client.Address())
}

// GroupedPositions returns the caller's positions grouped by base asset.
func (f *Facade) GroupedPositions(ctx context.Context) (map[string][]types.LogicalPosition, error) {
	return f.positions.GroupedPositions(ctx, f.client.Address())
}

// Balance returns the caller's perp margin summary and spot balances.
func (f *Facade) Balance(ctx context.Context) (venue.PerpBalance, []venue.SpotBalance, error) {
	perp, err := f.client.ClearinghouseState(ctx, f.client.Address())
	if err != nil {
		return venue.PerpBalance{}, nil, err
	}
	spot, err := f.client.SpotClearinghouseState(ctx, f.client.Address())
	if err != nil {
		return venue.PerpBalance{}, nil, err
	}
	return perp, spot, nil
}
