package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"hyperprime/internal/collateral"
	"hyperprime/internal/venue"
	"hyperprime/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fakeClient struct {
	venue.Client

	maxBuilderFee    int
	maxBuilderFeeErr error
	approveCalls     []string
	approveErr       error

	orderStatus types.OrderStatus
	orderErr    error
	placedCount int

	batchStatuses []types.OrderStatus
	batchErr      error
}

func (f *fakeClient) MaxBuilderFee(ctx context.Context, user string, builder types.Builder) (int, error) {
	return f.maxBuilderFee, f.maxBuilderFeeErr
}

func (f *fakeClient) ApproveBuilderFee(ctx context.Context, rate string, builder types.Builder) error {
	f.approveCalls = append(f.approveCalls, rate)
	return f.approveErr
}

func (f *fakeClient) PlaceOrder(ctx context.Context, params types.OrderParams, builder *types.Builder) (types.OrderStatus, error) {
	f.placedCount++
	return f.orderStatus, f.orderErr
}

func (f *fakeClient) BatchOrders(ctx context.Context, params []types.OrderParams, builder *types.Builder) ([]types.OrderStatus, error) {
	return f.batchStatuses, f.batchErr
}

func (f *fakeClient) SpotClearinghouseState(ctx context.Context, user string) ([]venue.SpotBalance, error) {
	return nil, nil
}

// fakeCollateralManager builds a real *collateral.Manager over the given
// fakeClient, for ExecuteSplit tests that exercise the preceding
// estimate-collateral step without any shortfall (nil allocations).
func fakeCollateralManager(t *testing.T, client *fakeClient) *collateral.Manager {
	t.Helper()
	return collateral.New(client, testLogger())
}

func plan(coin string, assetIdx int) types.ExecutionPlan {
	return types.ExecutionPlan{
		Market:     types.PerpMarket{Coin: coin, AssetIndex: assetIdx},
		Side:       types.BUY,
		Size:       dec("1"),
		LimitPrice: dec("100"),
		OrderType:  types.NewIOCLimit(),
	}
}

func TestExecuteFilledReceipt(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		orderStatus: types.OrderStatus{Filled: &types.FilledStatus{TotalSize: dec("1"), AvgPrice: dec("100.5"), OrderID: "ord-1"}},
	}
	e := New(client, nil, 0, testLogger())

	receipt := e.Execute(context.Background(), plan("BTC", 1), "0xabc")
	if !receipt.Success || receipt.OrderID != "ord-1" {
		t.Fatalf("Execute() = %+v, want success with order ord-1", receipt)
	}
}

func TestExecuteRestingReceipt(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		orderStatus: types.OrderStatus{Resting: &types.RestingStatus{OrderID: "ord-2"}},
	}
	e := New(client, nil, 0, testLogger())

	receipt := e.Execute(context.Background(), plan("BTC", 1), "0xabc")
	if !receipt.Success || !receipt.FilledSize.IsZero() || receipt.OrderID != "ord-2" {
		t.Fatalf("Execute() = %+v, want resting success with zero fill", receipt)
	}
}

func TestExecuteErrorStatus(t *testing.T) {
	t.Parallel()
	errMsg := "rejected: price out of bounds"
	client := &fakeClient{orderStatus: types.OrderStatus{Error: &errMsg}}
	e := New(client, nil, 0, testLogger())

	receipt := e.Execute(context.Background(), plan("BTC", 1), "0xabc")
	if receipt.Success || receipt.Error != errMsg {
		t.Fatalf("Execute() = %+v, want failure carrying venue message", receipt)
	}
}

func TestExecutePlaceOrderTransportError(t *testing.T) {
	t.Parallel()
	client := &fakeClient{orderErr: errors.New("connection reset")}
	e := New(client, nil, 0, testLogger())

	receipt := e.Execute(context.Background(), plan("BTC", 1), "0xabc")
	if receipt.Success {
		t.Fatalf("Execute() = %+v, want failure on transport error", receipt)
	}
}

func TestEnsureBuilderApprovalSkipsWhenAlreadyAuthorized(t *testing.T) {
	t.Parallel()
	builder := &types.Builder{Address: "0xbuilder"}
	client := &fakeClient{
		maxBuilderFee: 50, // 5bps in tenth-bps, already covers feeBps=5
		orderStatus:   types.OrderStatus{Filled: &types.FilledStatus{TotalSize: dec("1"), AvgPrice: dec("100"), OrderID: "ord-3"}},
	}
	e := New(client, builder, 5.0, testLogger())

	e.Execute(context.Background(), plan("BTC", 1), "0xabc")
	if len(client.approveCalls) != 0 {
		t.Errorf("approveCalls = %v, want none (already authorized)", client.approveCalls)
	}
}

func TestEnsureBuilderApprovalApprovesWhenBelowThreshold(t *testing.T) {
	t.Parallel()
	builder := &types.Builder{Address: "0xbuilder"}
	client := &fakeClient{
		maxBuilderFee: 0,
		orderStatus:   types.OrderStatus{Filled: &types.FilledStatus{TotalSize: dec("1"), AvgPrice: dec("100"), OrderID: "ord-4"}},
	}
	e := New(client, builder, 5.0, testLogger())

	e.Execute(context.Background(), plan("BTC", 1), "0xabc")
	if len(client.approveCalls) != 1 || client.approveCalls[0] != "0.05%" {
		t.Fatalf("approveCalls = %v, want one call at 0.05%%", client.approveCalls)
	}

	// A second Execute must not re-check/re-approve (sync.Once).
	e.Execute(context.Background(), plan("BTC", 1), "0xabc")
	if len(client.approveCalls) != 1 {
		t.Errorf("approveCalls = %v after second Execute, want still 1", client.approveCalls)
	}
}

func TestExecuteSplitAllLegsSucceed(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		batchStatuses: []types.OrderStatus{
			{Filled: &types.FilledStatus{TotalSize: dec("1"), AvgPrice: dec("100"), OrderID: "leg-1"}},
			{Filled: &types.FilledStatus{TotalSize: dec("2"), AvgPrice: dec("101"), OrderID: "leg-2"}},
		},
	}
	m := fakeCollateralManager(t, client)
	e := New(client, nil, 0, testLogger())

	splitPlan := types.SplitExecutionPlan{
		Legs: []types.ExecutionPlan{plan("A", 1), plan("B", 2)},
	}
	receipt := e.ExecuteSplit(context.Background(), splitPlan, nil, m, "0xabc")
	if !receipt.Success || len(receipt.Legs) != 2 {
		t.Fatalf("ExecuteSplit() = %+v, want 2 successful legs", receipt)
	}
}

func TestExecuteSplitPartialLegFailureIsNotSuccess(t *testing.T) {
	t.Parallel()
	errMsg := "rejected"
	client := &fakeClient{
		batchStatuses: []types.OrderStatus{
			{Filled: &types.FilledStatus{TotalSize: dec("1"), AvgPrice: dec("100"), OrderID: "leg-1"}},
			{Error: &errMsg},
		},
	}
	m := fakeCollateralManager(t, client)
	e := New(client, nil, 0, testLogger())

	splitPlan := types.SplitExecutionPlan{
		Legs: []types.ExecutionPlan{plan("A", 1), plan("B", 2)},
	}
	receipt := e.ExecuteSplit(context.Background(), splitPlan, nil, m, "0xabc")
	if receipt.Success {
		t.Fatalf("ExecuteSplit() = %+v, want overall failure when any leg fails", receipt)
	}
	if len(receipt.Legs) != 2 {
		t.Errorf("Legs = %d, want 2 (every leg still reported)", len(receipt.Legs))
	}
}
