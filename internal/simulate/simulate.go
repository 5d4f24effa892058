// Package simulate walks a book side to estimate the fill a market order of
// a given size would receive, deterministically and without any venue I/O.
package simulate

import (
	"github.com/shopspring/decimal"

	"hyperprime/internal/errs"
	"hyperprime/pkg/types"
)

var bps = decimal.NewFromInt(10000)

// Simulate walks the active side of an aggregated book (asks for a buy,
// bids for a sell) and returns the fill it would receive. It fails with
// errs.ErrInsufficientDepth if the walked side's cumulative size is less
// than the requested size.
func Simulate(book types.AggregatedBook, side types.Side, size decimal.Decimal) (types.FillSimulation, error) {
	levels := book.Asks
	if side == types.SELL {
		levels = book.Bids
	}

	remaining := size
	totalCost := decimal.Zero
	filled := decimal.Zero

	for _, lvl := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := decimal.Min(remaining, lvl.TotalSize)
		totalCost = totalCost.Add(take.Mul(lvl.Price))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}

	if filled.LessThan(size) {
		return types.FillSimulation{}, &errs.InsufficientDepthError{
			RequestedSize: size.String(),
			FilledSize:    filled.String(),
		}
	}

	avgPrice := decimal.Zero
	if filled.GreaterThan(decimal.Zero) {
		avgPrice = totalCost.Div(filled)
	}

	mid := book.Mid()

	impact := decimal.Zero
	if mid.GreaterThan(decimal.Zero) {
		impact = avgPrice.Sub(mid).Abs().Div(mid).Mul(bps)
	}

	return types.FillSimulation{
		AvgPrice:       avgPrice,
		MidPrice:       mid,
		PriceImpactBps: impact,
		TotalCost:      totalCost,
		FilledSize:     filled,
	}, nil
}
