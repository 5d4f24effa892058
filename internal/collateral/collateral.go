// Package collateral estimates per-token collateral shortfalls for a
// prospective trade and executes the perp->spot transfers and spot swaps
// needed to cover them before the perp legs are submitted.
//
// Estimation follows risk/manager.go's aggregate-then-check shape (the
// top-line swap cost across tokens is an allocation-cost-weighted average);
// the transfer/swap write path in Prepare follows
// exchange/client.go's build-request -> rate-limit-wait -> submit ->
// map-response shape.
package collateral

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"hyperprime/internal/errs"
	"hyperprime/internal/simulate"
	"hyperprime/internal/venue"
	"hyperprime/pkg/types"
)

// NativeCollateral is the account-native collateral: the venue's abstraction
// mode draws it directly from the perp balance, so it never has a shortfall.
const NativeCollateral = "USDC"

// DefaultSwapCostBps is returned when the target token's spot book can't be
// fetched at all.
const DefaultSwapCostBps = 50

// FallbackSwapCostBps is returned when the spot book exists but doesn't have
// enough depth to simulate the requested amount.
const FallbackSwapCostBps = 100

// TransferBuffer is the extra USDC moved perp->spot beyond the raw
// shortfall, absorbing swap slippage (1%).
var TransferBuffer = decimal.NewFromFloat(1.01)

// SpotSlippage is the markup over best-ask used for the IOC spot buy (0.5%).
var SpotSlippage = decimal.NewFromFloat(1.005)

// Manager estimates and prepares the collateral a split order needs.
type Manager struct {
	client venue.Client
	logger *slog.Logger

	abstractionOnce sync.Once
	abstractionErr  error
}

// New creates a Manager against the given venue client.
func New(client venue.Client, logger *slog.Logger) *Manager {
	return &Manager{client: client, logger: logger.With("component", "collateral")}
}

// EstimateRequirements aggregates per-token amounts needed across a set of
// split allocations and compares them against the user's live spot
// balances, producing a CollateralPlan. The perp margin summary is not read:
// USDC needs are treated as fully covered without checking the perp balance.
func (m *Manager) EstimateRequirements(ctx context.Context, allocations []types.SplitAllocation, userAddress string) (types.CollateralPlan, error) {
	spotBalances, err := m.client.SpotClearinghouseState(ctx, userAddress)
	if err != nil {
		return types.CollateralPlan{}, &errs.CollateralFailureError{Msg: fmt.Sprintf("read spot balances: %v", err)}
	}
	balanceByToken := make(map[string]decimal.Decimal, len(spotBalances))
	for _, b := range spotBalances {
		balanceByToken[b.Token] = b.Total
	}

	type tokenNeed struct {
		amount decimal.Decimal
		cost   decimal.Decimal // sum of allocation cost using this token, for weighting
	}
	needs := make(map[string]*tokenNeed)
	var order []string
	for _, a := range allocations {
		token := a.Market.Collateral
		n, ok := needs[token]
		if !ok {
			n = &tokenNeed{}
			needs[token] = n
			order = append(order, token)
		}
		n.amount = n.amount.Add(a.Size)
		n.cost = n.cost.Add(a.EstimatedCost)
	}

	requirements := make([]types.CollateralRequirement, len(order))
	shortfallIdx := make([]int, 0, len(order))
	for i, token := range order {
		n := needs[token]
		req := types.CollateralRequirement{
			Token:        token,
			AmountNeeded: n.amount,
			SwapFrom:     NativeCollateral,
		}
		if token == NativeCollateral {
			req.CurrentBalance = n.amount // abstraction draws it from perp balance; never short
		} else {
			bal := balanceByToken[token]
			req.CurrentBalance = bal
			shortfall := n.amount.Sub(bal)
			if shortfall.GreaterThan(decimal.Zero) {
				req.Shortfall = shortfall
				shortfallIdx = append(shortfallIdx, i)
			}
		}
		requirements[i] = req
	}

	if len(shortfallIdx) > 0 {
		costs := make([]decimal.Decimal, len(shortfallIdx))
		bpsEstimates := make([]decimal.Decimal, len(shortfallIdx))
		g, gctx := errgroup.WithContext(ctx)
		for j, idx := range shortfallIdx {
			j, idx := j, idx
			req := requirements[idx]
			costs[j] = needs[req.Token].cost
			g.Go(func() error {
				bps, err := m.EstimateSwapCost(gctx, NativeCollateral, req.Token, req.Shortfall)
				if err != nil {
					return err
				}
				bpsEstimates[j] = bps
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return types.CollateralPlan{}, &errs.CollateralFailureError{Msg: fmt.Sprintf("estimate swap cost: %v", err)}
		}
		var weightedSum, totalWeight decimal.Decimal
		for j, idx := range shortfallIdx {
			requirements[idx].EstimatedSwapCostBps = bpsEstimates[j]
			weightedSum = weightedSum.Add(bpsEstimates[j].Mul(costs[j]))
			totalWeight = totalWeight.Add(costs[j])
		}
		totalBps := decimal.Zero
		if totalWeight.GreaterThan(decimal.Zero) {
			totalBps = weightedSum.Div(totalWeight)
		}
		return types.CollateralPlan{
			Requirements:       requirements,
			TotalSwapCostBps:   totalBps,
			SwapsNeeded:        len(shortfallIdx),
			AbstractionEnabled: false,
		}, nil
	}

	return types.CollateralPlan{Requirements: requirements, SwapsNeeded: 0}, nil
}

// EstimateSwapCost simulates buying amount units of `to` with `from` on the
// spot book, returning the estimated cost in basis points. A missing spot
// book returns DefaultSwapCostBps; a book too thin to fill the amount
// returns FallbackSwapCostBps.
func (m *Manager) EstimateSwapCost(ctx context.Context, from, to string, amount decimal.Decimal) (decimal.Decimal, error) {
	coin := spotBookCoin(to)
	b, err := m.client.L2Book(ctx, coin, nil)
	if err != nil {
		m.logger.Warn("spot book unavailable for swap-cost estimate", "token", to, "error", err)
		return decimal.NewFromInt(DefaultSwapCostBps), nil
	}

	agg := types.AggregatedBook{Asks: toOneSourceLevels(b.Asks, coin)}
	sim, err := simulate.Simulate(agg, types.BUY, amount)
	if err != nil {
		return decimal.NewFromInt(FallbackSwapCostBps), nil
	}
	return sim.PriceImpactBps, nil
}

func toOneSourceLevels(levels []types.PriceLevel, coin string) []types.AggregatedLevel {
	out := make([]types.AggregatedLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, types.AggregatedLevel{Price: l.Price, TotalSize: l.Size, Sources: []types.LevelSource{{Coin: coin, Size: l.Size}}})
	}
	return out
}

// spotBookCoin is the venue's spot-market coin identifier for a token's
// USDC pair, used for L2Book calls against the spot order book.
func spotBookCoin(token string) string {
	return "SPOT:" + token
}

// Prepare executes the transfers and swaps a CollateralPlan calls for:
// enable abstraction once, then per-token serially (transfer -> spot book
// read -> spot buy), since each swap must observe the effects of the
// previous transfer.
func (m *Manager) Prepare(ctx context.Context, plan types.CollateralPlan, userAddress string) types.CollateralReceipt {
	wasEnabled := m.ensureAbstraction(ctx)
	if m.abstractionErr != nil {
		return types.CollateralReceipt{Success: false, Error: fmt.Sprintf("enable abstraction: %v", m.abstractionErr)}
	}

	tokenIdx, pairIdx, err := m.loadSpotIndexes(ctx)
	if err != nil {
		return types.CollateralReceipt{Success: false, AbstractionWasEnabled: wasEnabled, Error: fmt.Sprintf("load spot metadata: %v", err)}
	}

	var executed []types.ExecutedSwap
	for _, req := range plan.Requirements {
		if req.Shortfall.LessThanOrEqual(decimal.Zero) || req.Token == NativeCollateral {
			continue
		}

		transferAmount := req.Shortfall.Mul(TransferBuffer)
		if err := m.client.UsdClassTransfer(ctx, transferAmount, false); err != nil {
			return types.CollateralReceipt{Success: false, SwapsExecuted: executed, AbstractionWasEnabled: wasEnabled,
				Error: fmt.Sprintf("transfer USDC for %s: %v", req.Token, err)}
		}

		coin := spotBookCoin(req.Token)
		spotBook, err := m.client.L2Book(ctx, coin, nil)
		if err != nil || len(spotBook.Asks) == 0 {
			return types.CollateralReceipt{Success: false, SwapsExecuted: executed, AbstractionWasEnabled: wasEnabled,
				Error: fmt.Sprintf("no spot asks available for %s", req.Token)}
		}

		pairIndex, ok := pairIdx[tokenIdx[req.Token]]
		if !ok {
			return types.CollateralReceipt{Success: false, SwapsExecuted: executed, AbstractionWasEnabled: wasEnabled,
				Error: fmt.Sprintf("no spot pair index for %s", req.Token)}
		}
		limitPrice := spotBook.Asks[0].Price.Mul(SpotSlippage)

		status, err := m.client.PlaceOrder(ctx, types.OrderParams{
			AssetIndex: types.EncodeSpotAssetIndex(pairIndex),
			IsBuy:      true,
			Price:      limitPrice,
			Size:       req.Shortfall,
			ReduceOnly: false,
			OrderType:  types.NewIOCLimit(),
		}, nil)
		if err != nil {
			return types.CollateralReceipt{Success: false, SwapsExecuted: executed, AbstractionWasEnabled: wasEnabled,
				Error: fmt.Sprintf("spot buy %s: %v", req.Token, err)}
		}

		swap, ok := executedSwapFromStatus(req.Token, status)
		if !ok {
			return types.CollateralReceipt{Success: false, SwapsExecuted: executed, AbstractionWasEnabled: wasEnabled,
				Error: fmt.Sprintf("spot buy %s did not fill: %s", req.Token, statusDescription(status))}
		}
		executed = append(executed, swap)
	}

	return types.CollateralReceipt{Success: true, SwapsExecuted: executed, AbstractionWasEnabled: wasEnabled}
}

// ensureAbstraction enables dex abstraction the first time Prepare is
// called for this Manager's lifetime, recording any error for the caller
// and returning whether it was already enabled going in.
func (m *Manager) ensureAbstraction(ctx context.Context) (wasEnabled bool) {
	first := false
	m.abstractionOnce.Do(func() {
		first = true
		m.abstractionErr = m.client.SetDexAbstraction(ctx, true)
	})
	return !first
}

// loadSpotIndexes fetches spot metadata once and builds the token-name ->
// token-index and token-index -> pair-index maps Prepare needs for
// EncodeSpotAssetIndex.
func (m *Manager) loadSpotIndexes(ctx context.Context) (map[string]int, map[int]int, error) {
	tokens, pairs, err := m.client.SpotMeta(ctx)
	if err != nil {
		return nil, nil, err
	}
	byName := make(map[string]int, len(tokens))
	for _, t := range tokens {
		byName[t.Name] = t.Index
	}
	byTokenIdx := make(map[int]int, len(pairs))
	for _, p := range pairs {
		byTokenIdx[p.TokenIndex] = p.PairIndex
	}
	return byName, byTokenIdx, nil
}

func executedSwapFromStatus(token string, status types.OrderStatus) (types.ExecutedSwap, bool) {
	if status.Filled != nil {
		return types.ExecutedSwap{
			Token:      token,
			USDCSpent:  status.Filled.TotalSize.Mul(status.Filled.AvgPrice),
			FilledSize: status.Filled.TotalSize,
			OrderID:    status.Filled.OrderID,
		}, true
	}
	return types.ExecutedSwap{}, false
}

func statusDescription(status types.OrderStatus) string {
	switch {
	case status.Error != nil:
		return *status.Error
	case status.Resting != nil:
		return "resting, no fill"
	case status.WaitingForFill:
		return "waiting for fill"
	default:
		return "unknown status"
	}
}
