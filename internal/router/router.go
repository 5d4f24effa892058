// Package router orchestrates discovery, book aggregation, fill simulation,
// scoring, and split optimization into single-market and multi-leg
// execution plans.
//
// Constructor wiring follows engine/engine.go's dependency-order
// construction, with per-operation timeouts and a warning-on-partial-
// failure philosophy borrowed from its fail-soft reconciliation paths.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"hyperprime/internal/book"
	"hyperprime/internal/errs"
	"hyperprime/internal/registry"
	"hyperprime/internal/score"
	"hyperprime/internal/simulate"
	"hyperprime/internal/split"
	"hyperprime/internal/venue"
	"hyperprime/pkg/types"
)

// DefaultQuoteTimeout is the per-market book fetch timeout for single-market
// routing: one slow venue must not stall routing.
const DefaultQuoteTimeout = 2500 * time.Millisecond

// Router ties the registry, aggregator, simulator, scorer, and split
// optimizer into quote/quote-split operations.
type Router struct {
	registry     *registry.Registry
	aggregator   *book.Aggregator
	client       venue.Client
	quoteTimeout time.Duration
	logger       *slog.Logger
}

// New creates a Router against the given registry, aggregator, and venue
// client (the client is used for per-market book fetches in the
// single-market path, which walks live snapshots rather than the merged
// aggregated view).
func New(reg *registry.Registry, agg *book.Aggregator, client venue.Client, logger *slog.Logger) *Router {
	return &Router{
		registry:     reg,
		aggregator:   agg,
		client:       client,
		quoteTimeout: DefaultQuoteTimeout,
		logger:       logger.With("component", "router"),
	}
}

type marketSim struct {
	market types.PerpMarket
	book        types.MarketBook
	sim         types.FillSimulation
	err         error
	fetchFailed bool // true when the book fetch itself failed, false for a simulate-only failure (e.g. insufficient depth)
}

// fetchAndSimulate fetches each market's book in parallel (per-market
// timeout) and simulates the requested fill against it. Markets whose fetch
// or simulation fails carry a non-nil err and are excluded from scoring but
// still reported for the partial-failure warning. fetchFailed distinguishes
// a book that never arrived from one that arrived but lacked the depth to
// fill the requested size, since the two map to different error kinds.
func (r *Router) fetchAndSimulate(ctx context.Context, markets []types.PerpMarket, side types.Side, size decimal.Decimal) []marketSim {
	out := make([]marketSim, len(markets))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range markets {
		i, m := i, m
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, r.quoteTimeout)
			defer cancel()
			b, err := r.client.L2Book(fetchCtx, m.Coin, nil)
			if err != nil {
				out[i] = marketSim{market: m, err: err, fetchFailed: true}
				return nil
			}
			agg := toAggregated(b)
			sim, err := simulate.Simulate(agg, side, size)
			out[i] = marketSim{market: m, book: b, sim: sim, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// toAggregated wraps a single market's book as a one-source AggregatedBook
// so the shared simulate/split package can walk it uniformly.
func toAggregated(b types.MarketBook) types.AggregatedBook {
	return types.AggregatedBook{
		Bids: toAggregatedLevels(b.Bids, b.Coin),
		Asks: toAggregatedLevels(b.Asks, b.Coin),
	}
}

func toAggregatedLevels(levels []types.PriceLevel, coin string) []types.AggregatedLevel {
	out := make([]types.AggregatedLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, types.AggregatedLevel{
			Price:     l.Price,
			TotalSize: l.Size,
			Sources:   []types.LevelSource{{Coin: coin, Size: l.Size}},
		})
	}
	return out
}

// Quote routes a single-market order: every candidate market is simulated
// and scored, and the cheapest is selected.
func (r *Router) Quote(ctx context.Context, baseAsset string, side types.Side, size decimal.Decimal, userCollateral map[string]bool, slippage decimal.Decimal) (types.Quote, error) {
	markets, err := r.registry.GetMarkets(baseAsset)
	if err != nil {
		return types.Quote{}, err
	}

	results := r.fetchAndSimulate(ctx, markets, side, size)

	var scored []types.MarketScore
	var failedCoins []string // book fetch failures only
	var fetchedCount int
	simByCoin := make(map[string]marketSim, len(results))
	for _, res := range results {
		if res.fetchFailed {
			failedCoins = append(failedCoins, res.market.Coin)
			r.logger.Warn("market book fetch failed", "coin", res.market.Coin, "error", res.err)
			continue
		}
		fetchedCount++
		if res.err != nil {
			r.logger.Warn("market simulate failed", "coin", res.market.Coin, "error", res.err)
			continue
		}
		simByCoin[res.market.Coin] = res
		scored = append(scored, score.Score(res.sim, res.market, side, userCollateral, nil))
	}

	if fetchedCount == 0 {
		return types.Quote{}, &errs.MarketDataUnavailableError{BaseAsset: baseAsset, FailedCoins: failedCoins}
	}
	if len(scored) == 0 {
		return types.Quote{}, &errs.InsufficientLiquidityError{BaseAsset: baseAsset, RequestedSize: size.String()}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].TotalScore.LessThan(scored[j].TotalScore)
	})
	best := scored[0]
	winningSim := simByCoin[best.Market.Coin].sim

	limitPrice := applySlippage(winningSim.AvgPrice, side, slippage)

	var warnings []string
	if len(failedCoins) > 0 {
		warnings = append(warnings, fmt.Sprintf("Partial market data: %d/%d markets responded", len(markets)-len(failedCoins), len(markets)))
	}

	return types.Quote{
		BaseAsset:               baseAsset,
		Side:                    side,
		RequestedSize:           size,
		SelectedMarket:          best.Market,
		EstimatedAvgPrice:       winningSim.AvgPrice,
		EstimatedPriceImpactBps: winningSim.PriceImpactBps,
		EstimatedFundingRate:    best.Market.Funding,
		AlternativesConsidered:  scored,
		Warnings:                warnings,
		Plan: types.ExecutionPlan{
			Market:     best.Market,
			Side:       side,
			Size:       size,
			LimitPrice: limitPrice,
			OrderType:  types.NewIOCLimit(),
			Slippage:   slippage,
		},
	}, nil
}

// QuoteSplit routes an order across every market trading the asset,
// greedily filling the merged book and producing a per-leg plan. The
// returned plan's CollateralPlan is an empty placeholder: actual
// requirements are computed at execute time against live balances, since
// stale balance data between quote and execute could cause under- or
// over-swapping (see internal/collateral).
func (r *Router) QuoteSplit(ctx context.Context, baseAsset string, side types.Side, size decimal.Decimal, userCollateral map[string]bool, slippage decimal.Decimal) (types.SplitQuote, error) {
	markets, err := r.registry.GetMarkets(baseAsset)
	if err != nil {
		return types.SplitQuote{}, err
	}

	agg := r.aggregator.AggregateForOrder(ctx, baseAsset, markets, side, size)
	if len(agg.PerMarketBooks) == 0 {
		return types.SplitQuote{}, &errs.MarketDataUnavailableError{BaseAsset: baseAsset, FailedCoins: agg.FailedCoins}
	}

	lookup := make(map[string]types.PerpMarket, len(markets))
	for _, m := range markets {
		lookup[m.Coin] = m
	}

	allocations, err := split.Optimize(agg, side, size, lookup, decimal.Zero)
	if err != nil {
		return types.SplitQuote{}, err
	}

	legs := make([]types.ExecutionPlan, 0, len(allocations))
	var totalCost decimal.Decimal
	for _, a := range allocations {
		legSim, err := simulate.Simulate(toAggregated(agg.PerMarketBooks[a.Market.Coin]), side, a.Size)
		if err != nil {
			return types.SplitQuote{}, err
		}
		legs = append(legs, types.ExecutionPlan{
			Market:     a.Market,
			Side:       side,
			Size:       a.Size,
			LimitPrice: applySlippage(legSim.AvgPrice, side, slippage),
			OrderType:  types.NewIOCLimit(),
			Slippage:   slippage,
		})
		totalCost = totalCost.Add(a.EstimatedCost)
	}

	aggAvg := decimal.Zero
	if size.GreaterThan(decimal.Zero) {
		aggAvg = totalCost.Div(size)
	}
	mid := agg.Mid()
	aggImpact := decimal.Zero
	if mid.GreaterThan(decimal.Zero) {
		aggImpact = aggAvg.Sub(mid).Abs().Div(mid).Mul(decimal.NewFromInt(10000))
	}

	warnings := []string{"collateral requirements are estimated at execute time against live balances, not at quote time"}
	if len(agg.FailedCoins) > 0 {
		warnings = append(warnings, fmt.Sprintf("Partial market data: %d markets failed to respond", len(agg.FailedCoins)))
	}

	return types.SplitQuote{
		BaseAsset:     baseAsset,
		Side:          side,
		RequestedSize: size,
		Allocations:   allocations,
		AggAvgPrice:   aggAvg,
		AggImpactBps:  aggImpact,
		Warnings:      warnings,
		Plan: types.SplitExecutionPlan{
			Legs:           legs,
			CollateralPlan: types.CollateralPlan{}, // placeholder, see warnings above
			Side:           side,
			TotalSize:      size,
			Slippage:       slippage,
		},
	}, nil
}

// applySlippage rounds avg*(1+slippage) for a buy or avg*(1-slippage) for a
// sell to 6 decimals; per-market tick-size alignment is left to the venue.
func applySlippage(avg decimal.Decimal, side types.Side, slippage decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(slippage)
	if side == types.SELL {
		factor = decimal.NewFromInt(1).Sub(slippage)
	}
	return avg.Mul(factor).Round(6)
}
