// Package score combines a fill simulation with funding and collateral
// factors into a single comparable figure: lower is better.
package score

import (
	"fmt"

	"github.com/shopspring/decimal"

	"hyperprime/pkg/types"
)

// DefaultSwapCostBps is charged against a market whose collateral isn't
// already held by the user and no better estimate is available.
const DefaultSwapCostBps = 50

var (
	tenThousand = decimal.NewFromInt(10000)
	three       = decimal.NewFromInt(3)
)

// Score ranks a market for a prospective trade. swapCostBps is an optional
// better estimate of the cost to acquire the market's collateral token; when
// nil, DefaultSwapCostBps is charged if the user doesn't already hold it.
func Score(sim types.FillSimulation, market types.PerpMarket, side types.Side, userCollateral map[string]bool, swapCostBps *decimal.Decimal) types.MarketScore {
	fundingBenefit := market.Funding.Neg()
	if side == types.SELL {
		fundingBenefit = market.Funding
	}
	fundingScore := fundingBenefit.Mul(tenThousand).Mul(three)

	collateralMatch := userCollateral[market.Collateral]

	collateralPenalty := decimal.Zero
	var reason string
	var swapCost decimal.NullDecimal
	if !collateralMatch {
		penalty := decimal.NewFromInt(DefaultSwapCostBps)
		if swapCostBps != nil {
			penalty = *swapCostBps
			swapCost = decimal.NewNullDecimal(*swapCostBps)
		}
		collateralPenalty = penalty
		reason = fmt.Sprintf("requires %s collateral (swap cost %s bps)", market.Collateral, penalty.String())
	}

	totalScore := sim.PriceImpactBps.Sub(fundingScore).Add(collateralPenalty)

	return types.MarketScore{
		Market:          market,
		PriceImpact:     sim.PriceImpactBps,
		FundingRate:     market.Funding,
		CollateralMatch: collateralMatch,
		TotalScore:      totalScore,
		SwapCostBps:     swapCost,
		Reason:          reason,
	}
}
