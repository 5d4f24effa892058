// Package executor submits execution plans to the venue, enforcing
// builder-fee approval once per process lifetime and mapping wire order
// statuses into typed receipts.
//
// Batch submission maps each index of a batch response back into a typed
// receipt the same way strategy/maker.go's reconcileOrders does, and the
// one-shot builder-fee check follows exchange/auth.go's one-shot
// credential-derivation pattern (HasL2Credentials/SetCredentials), adapted
// into a sync.Once guard.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"hyperprime/internal/collateral"
	"hyperprime/internal/venue"
	"hyperprime/pkg/types"
)

// Executor submits single and multi-leg plans against the venue.
type Executor struct {
	client  venue.Client
	builder *types.Builder // nil when no builder is configured
	feeBps  float64

	approveOnce sync.Once
	approveErr  error

	logger *slog.Logger
}

// New creates an Executor. builder may be nil (no builder fee configured,
// every submission passes nil to the venue).
func New(client venue.Client, builder *types.Builder, feeBps float64, logger *slog.Logger) *Executor {
	return &Executor{client: client, builder: builder, feeBps: feeBps, logger: logger.With("component", "executor")}
}

// ensureBuilderApproval checks (once per process lifetime) whether the
// configured builder's fee authorization covers feeBps, approving it if
// not. Approval failures are logged but never abort the trade; the
// one-shot flag is set regardless, to avoid a retry flood on a chronically
// failing approval call.
func (e *Executor) ensureBuilderApproval(ctx context.Context, userAddress string) {
	if e.builder == nil {
		return
	}
	e.approveOnce.Do(func() {
		current, err := e.client.MaxBuilderFee(ctx, userAddress, *e.builder)
		if err != nil {
			e.logger.Warn("max builder fee check failed, proceeding without re-approval", "error", err)
			e.approveErr = err
			return
		}
		wantTenthBps := int(e.feeBps * 10)
		if current >= wantTenthBps {
			return
		}
		ratePct := fmt.Sprintf("%.2f%%", e.feeBps/100)
		if err := e.client.ApproveBuilderFee(ctx, ratePct, *e.builder); err != nil {
			e.logger.Warn("builder fee approval failed, trade proceeds without it", "error", err)
			e.approveErr = err
		}
	})
}

func (e *Executor) wireBuilder() *types.Builder {
	if e.builder == nil {
		return nil
	}
	return &types.Builder{Address: e.builder.Address, FeeInTenthBps: int(e.feeBps * 10)}
}

// Execute submits a single-leg plan and maps the result into a receipt.
func (e *Executor) Execute(ctx context.Context, plan types.ExecutionPlan, userAddress string) types.ExecutionReceipt {
	e.ensureBuilderApproval(ctx, userAddress)

	params := types.OrderParams{
		AssetIndex: plan.Market.AssetIndex,
		IsBuy:      plan.Side == types.BUY,
		Price:      plan.LimitPrice,
		Size:       plan.Size,
		ReduceOnly: false,
		OrderType:  plan.OrderType,
	}

	status, err := e.client.PlaceOrder(ctx, params, e.wireBuilder())
	if err != nil {
		return types.ExecutionReceipt{Success: false, Error: err.Error()}
	}
	return receiptFromStatus(status)
}

func receiptFromStatus(status types.OrderStatus) types.ExecutionReceipt {
	switch {
	case status.Filled != nil:
		return types.ExecutionReceipt{
			Success:    true,
			FilledSize: status.Filled.TotalSize,
			AvgPrice:   status.Filled.AvgPrice,
			OrderID:    status.Filled.OrderID,
		}
	case status.Resting != nil:
		return types.ExecutionReceipt{Success: true, FilledSize: decimal.Zero, OrderID: status.Resting.OrderID}
	case status.Error != nil:
		return types.ExecutionReceipt{Success: false, Error: *status.Error}
	default:
		return types.ExecutionReceipt{Success: false, Error: "unrecognized order status"}
	}
}

// ExecuteSplit prepares collateral against live balances, then submits
// every leg of a SplitExecutionPlan in a single batch call so the venue
// sees them as one logical group. Collateral preparation strictly precedes
// submission: if it fails, no perp leg is ever placed.
func (e *Executor) ExecuteSplit(ctx context.Context, plan types.SplitExecutionPlan, allocations []types.SplitAllocation, collateralMgr *collateral.Manager, userAddress string) types.SplitExecutionReceipt {
	live, err := collateralMgr.EstimateRequirements(ctx, allocations, userAddress)
	if err != nil {
		return types.SplitExecutionReceipt{Success: false, Error: fmt.Sprintf("estimate collateral: %v", err)}
	}

	if live.SwapsNeeded > 0 {
		receipt := collateralMgr.Prepare(ctx, live, userAddress)
		if !receipt.Success {
			return types.SplitExecutionReceipt{Success: false, Error: fmt.Sprintf("collateral preparation failed: %s", receipt.Error)}
		}
	}

	e.ensureBuilderApproval(ctx, userAddress)

	params := make([]types.OrderParams, len(plan.Legs))
	for i, leg := range plan.Legs {
		params[i] = types.OrderParams{
			AssetIndex: leg.Market.AssetIndex,
			IsBuy:      leg.Side == types.BUY,
			Price:      leg.LimitPrice,
			Size:       leg.Size,
			ReduceOnly: false,
			OrderType:  leg.OrderType,
		}
	}

	statuses, err := e.client.BatchOrders(ctx, params, e.wireBuilder())
	if err != nil {
		return types.SplitExecutionReceipt{Success: false, Error: err.Error()}
	}

	legs := make([]types.ExecutionReceipt, len(statuses))
	success := len(statuses) == len(params)
	for i, s := range statuses {
		r := receiptFromStatus(s)
		legs[i] = r
		success = success && r.Success
	}

	return types.SplitExecutionReceipt{Success: success, Legs: legs}
}
