package score

import (
	"testing"

	"github.com/shopspring/decimal"

	"hyperprime/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestScoreMatchingCollateral(t *testing.T) {
	t.Parallel()

	sim := types.FillSimulation{PriceImpactBps: dec("5.797")}
	market := types.PerpMarket{Collateral: "USDC", Funding: dec("0.00000625")}
	userCollateral := map[string]bool{"USDC": true}

	got := Score(sim, market, types.BUY, userCollateral, nil)

	if !got.CollateralMatch {
		t.Error("CollateralMatch = false, want true")
	}
	if got.Reason != "" {
		t.Errorf("Reason = %q, want empty when collateral matches", got.Reason)
	}
	// total_score = 5.797 - (-0.00000625*30000) + 0 = 5.797 + 0.1875 = 5.9845
	want := dec("5.9845")
	if !got.TotalScore.Equal(want) {
		t.Errorf("TotalScore = %s, want %s", got.TotalScore, want)
	}
}

func TestScoreSellFlipsFundingBenefit(t *testing.T) {
	t.Parallel()

	sim := types.FillSimulation{PriceImpactBps: dec("2")}
	market := types.PerpMarket{Collateral: "USDC", Funding: dec("0.0001")}
	userCollateral := map[string]bool{"USDC": true}

	got := Score(sim, market, types.SELL, userCollateral, nil)
	// funding_benefit = +funding_rate for sell; funding_score = 0.0001*30000 = 3
	// total_score = 2 - 3 + 0 = -1
	want := dec("-1")
	if !got.TotalScore.Equal(want) {
		t.Errorf("TotalScore = %s, want %s", got.TotalScore, want)
	}
}

func TestScoreCollateralMismatchDefaultPenalty(t *testing.T) {
	t.Parallel()

	sim := types.FillSimulation{PriceImpactBps: dec("1")}
	market := types.PerpMarket{Collateral: "USDH"}
	userCollateral := map[string]bool{"USDC": true}

	got := Score(sim, market, types.BUY, userCollateral, nil)
	if got.CollateralMatch {
		t.Error("CollateralMatch = true, want false")
	}
	if got.Reason == "" {
		t.Error("Reason = empty, want populated when collateral missing")
	}
	want := dec("51") // 1 - 0 + 50
	if !got.TotalScore.Equal(want) {
		t.Errorf("TotalScore = %s, want %s", got.TotalScore, want)
	}
	if got.SwapCostBps.Valid {
		t.Error("SwapCostBps should be invalid/unset when no override given")
	}
}

func TestScoreCollateralMismatchCustomSwapCost(t *testing.T) {
	t.Parallel()

	sim := types.FillSimulation{PriceImpactBps: dec("0")}
	market := types.PerpMarket{Collateral: "USDH"}
	userCollateral := map[string]bool{"USDC": true}
	custom := dec("5")

	got := Score(sim, market, types.BUY, userCollateral, &custom)
	if got.CollateralMatch {
		t.Error("CollateralMatch = true, want false")
	}
	want := dec("5")
	if !got.TotalScore.Equal(want) {
		t.Errorf("TotalScore = %s, want %s (custom 5bps, not default 50)", got.TotalScore, want)
	}
	if !got.SwapCostBps.Valid || !got.SwapCostBps.Decimal.Equal(custom) {
		t.Errorf("SwapCostBps = %+v, want valid 5", got.SwapCostBps)
	}
}
