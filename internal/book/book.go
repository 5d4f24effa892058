// Package book aggregates per-market order books into a single per-asset
// merged view with per-source provenance, fetching concurrently with a
// per-market timeout so one slow venue never stalls the whole aggregation.
//
// Level storage and best-bid/ask helpers follow market/book.go, generalized
// from "one market's two tokens" to "N markets' one side each".
package book

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"hyperprime/internal/venue"
	"hyperprime/pkg/types"
)

// DefaultFetchTimeout is the per-market book fetch deadline.
const DefaultFetchTimeout = 2500 * time.Millisecond

// Aggregator merges per-market books into a per-asset AggregatedBook.
type Aggregator struct {
	client       venue.Client
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// New creates an Aggregator against the given venue client.
func New(client venue.Client, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		client:       client,
		fetchTimeout: DefaultFetchTimeout,
		logger:       logger.With("component", "book_aggregator"),
	}
}

type fetchResult struct {
	coin string
	book types.MarketBook
	err  error
}

// fetchAll fetches every market's book in parallel with a per-fetch
// timeout, preserving market iteration order in the output slice so merge
// order is deterministic.
func (a *Aggregator) fetchAll(ctx context.Context, markets []types.PerpMarket) []fetchResult {
	results := make([]fetchResult, len(markets))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range markets {
		i, m := i, m
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, a.fetchTimeout)
			defer cancel()
			b, err := a.client.L2Book(fetchCtx, m.Coin, nil)
			results[i] = fetchResult{coin: m.Coin, book: b, err: err}
			return nil // per-market failures never abort the group
		})
	}
	_ = g.Wait()
	return results
}

// Aggregate merges every market's book for a base asset into one view.
// An empty market list yields an empty book. All-failed fetches yield an
// empty book with every coin recorded in FailedCoins; the caller decides
// whether that constitutes an error.
func (a *Aggregator) Aggregate(ctx context.Context, baseAsset string, markets []types.PerpMarket) types.AggregatedBook {
	return a.aggregate(ctx, baseAsset, markets, "", decimal.Zero)
}

// AggregateForOrder merges books and truncates the active side at the
// smallest prefix whose cumulative size covers the requested size (or keeps
// the entire side if depth is insufficient).
func (a *Aggregator) AggregateForOrder(ctx context.Context, baseAsset string, markets []types.PerpMarket, side types.Side, size decimal.Decimal) types.AggregatedBook {
	return a.aggregate(ctx, baseAsset, markets, side, size)
}

func (a *Aggregator) aggregate(ctx context.Context, baseAsset string, markets []types.PerpMarket, truncSide types.Side, truncSize decimal.Decimal) types.AggregatedBook {
	out := types.AggregatedBook{
		BaseAsset:      baseAsset,
		PerMarketBooks: make(map[string]types.MarketBook),
		TimestampMs:    time.Now().UnixMilli(),
	}
	if len(markets) == 0 {
		return out
	}

	results := a.fetchAll(ctx, markets)

	bidLevels := make(map[string]*types.AggregatedLevel)
	askLevels := make(map[string]*types.AggregatedLevel)
	var bidOrder, askOrder []string

	for _, res := range results {
		if res.err != nil {
			out.FailedCoins = append(out.FailedCoins, res.coin)
			a.logger.Warn("market book fetch failed", "coin", res.coin, "error", res.err)
			continue
		}
		out.PerMarketBooks[res.coin] = res.book
		mergeSide(res.book.Bids, res.coin, bidLevels, &bidOrder)
		mergeSide(res.book.Asks, res.coin, askLevels, &askOrder)
	}

	out.Bids = finalizeLevels(bidLevels, bidOrder, true)
	out.Asks = finalizeLevels(askLevels, askOrder, false)

	if truncSide != "" {
		if truncSide == types.BUY {
			out.Asks = truncateSide(out.Asks, truncSize)
		} else {
			out.Bids = truncateSide(out.Bids, truncSize)
		}
	}

	return out
}

// mergeSide folds one market's levels into the running per-price-level map,
// preserving input iteration order for the price key's first appearance.
// Keys are the exact decimal string so merging is never subject to
// floating-point equality drift.
func mergeSide(levels []types.PriceLevel, coin string, into map[string]*types.AggregatedLevel, order *[]string) {
	for _, lvl := range levels {
		key := lvl.Price.String()
		agg, ok := into[key]
		if !ok {
			agg = &types.AggregatedLevel{Price: lvl.Price}
			into[key] = agg
			*order = append(*order, key)
		}
		agg.TotalSize = agg.TotalSize.Add(lvl.Size)
		agg.Sources = append(agg.Sources, types.LevelSource{Coin: coin, Size: lvl.Size})
	}
}

func finalizeLevels(levels map[string]*types.AggregatedLevel, order []string, descending bool) []types.AggregatedLevel {
	out := make([]types.AggregatedLevel, 0, len(levels))
	for _, key := range order {
		out = append(out, *levels[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// truncateSide keeps the smallest prefix of levels whose cumulative size is
// >= size, or the entire side if depth is insufficient. levels must already
// be sorted best-first.
func truncateSide(levels []types.AggregatedLevel, size decimal.Decimal) []types.AggregatedLevel {
	cum := decimal.Zero
	for i, lvl := range levels {
		cum = cum.Add(lvl.TotalSize)
		if cum.GreaterThanOrEqual(size) {
			return levels[:i+1]
		}
	}
	return levels
}
