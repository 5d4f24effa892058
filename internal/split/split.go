// Package split allocates an order across the markets contributing depth to
// an aggregated book, filling proportionally to each market's contribution
// at each price level and then collapsing dust allocations into the
// largest survivor.
package split

import (
	"sort"

	"github.com/shopspring/decimal"

	"hyperprime/internal/errs"
	"hyperprime/pkg/types"
)

// DefaultMinAllocationSize is the dust threshold below which an allocation
// is folded into the largest surviving allocation rather than kept as its
// own leg.
var DefaultMinAllocationSize = decimal.NewFromFloat(0.001)

type rawAllocation struct {
	coin string
	size decimal.Decimal
	cost decimal.Decimal
}

// Optimize walks the active side of an aggregated book and distributes the
// requested size across its contributing markets. It fails with
// errs.ErrInsufficientLiquidity if the book's depth falls short by more
// than the rounding tolerance (size * 0.001).
func Optimize(book types.AggregatedBook, side types.Side, size decimal.Decimal, marketLookup map[string]types.PerpMarket, minAllocationSize decimal.Decimal) ([]types.SplitAllocation, error) {
	if minAllocationSize.IsZero() {
		minAllocationSize = DefaultMinAllocationSize
	}

	levels := book.Asks
	if side == types.SELL {
		levels = book.Bids
	}

	byCoin := make(map[string]*rawAllocation)
	var order []string

	remaining := size
	for _, lvl := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		levelFill := decimal.Min(remaining, lvl.TotalSize)
		if levelFill.LessThanOrEqual(decimal.Zero) {
			continue
		}
		for _, src := range lvl.Sources {
			if lvl.TotalSize.IsZero() {
				continue
			}
			sourceFill := levelFill.Mul(src.Size).Div(lvl.TotalSize)
			if sourceFill.GreaterThan(src.Size) {
				sourceFill = src.Size
			}
			if sourceFill.LessThanOrEqual(decimal.Zero) {
				continue
			}
			alloc, ok := byCoin[src.Coin]
			if !ok {
				alloc = &rawAllocation{coin: src.Coin}
				byCoin[src.Coin] = alloc
				order = append(order, src.Coin)
			}
			alloc.size = alloc.size.Add(sourceFill)
			alloc.cost = alloc.cost.Add(sourceFill.Mul(lvl.Price))
		}
		remaining = remaining.Sub(levelFill)
	}

	tolerance := size.Mul(decimal.NewFromFloat(0.001))
	if remaining.GreaterThan(tolerance) {
		return nil, &errs.InsufficientLiquidityError{
			BaseAsset:     book.BaseAsset,
			RequestedSize: size.String(),
		}
	}

	var raws []rawAllocation
	for _, coin := range order {
		a := byCoin[coin]
		if a.size.GreaterThan(decimal.Zero) {
			raws = append(raws, *a)
		}
	}
	if len(raws) == 0 {
		return nil, &errs.InsufficientLiquidityError{
			BaseAsset:     book.BaseAsset,
			RequestedSize: size.String(),
		}
	}

	// Dust filter: sort descending by size (stable, preserving original
	// iteration order as the tie-break), fold everything below the
	// threshold into the largest surviving allocation.
	sort.SliceStable(raws, func(i, j int) bool {
		return raws[i].size.GreaterThan(raws[j].size)
	})

	primary := &raws[0]
	survivors := []*rawAllocation{primary}
	for i := 1; i < len(raws); i++ {
		a := &raws[i]
		if a.size.LessThan(minAllocationSize) {
			primaryAvg := primary.cost.Div(primary.size)
			primary.size = primary.size.Add(a.size)
			primary.cost = primary.cost.Add(a.size.Mul(primaryAvg))
			continue
		}
		survivors = append(survivors, a)
	}

	totalSize := decimal.Zero
	for _, s := range survivors {
		totalSize = totalSize.Add(s.size)
	}

	out := make([]types.SplitAllocation, 0, len(survivors))
	for _, s := range survivors {
		avg := decimal.Zero
		if s.size.GreaterThan(decimal.Zero) {
			avg = s.cost.Div(s.size)
		}
		proportion := decimal.Zero
		if totalSize.GreaterThan(decimal.Zero) {
			proportion = s.size.Div(totalSize)
		}
		out = append(out, types.SplitAllocation{
			Market:            marketLookup[s.coin],
			Size:              s.size,
			EstimatedCost:     s.cost,
			EstimatedAvgPrice: avg,
			Proportion:        proportion,
		})
	}

	return out, nil
}
