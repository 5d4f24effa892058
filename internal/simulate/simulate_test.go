package simulate

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"hyperprime/internal/errs"
	"hyperprime/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func agLevel(price, size string) types.AggregatedLevel {
	return types.AggregatedLevel{Price: dec(price), TotalSize: dec(size)}
}

func TestSimulateBuyWalksAsks(t *testing.T) {
	t.Parallel()

	book := types.AggregatedBook{
		BaseAsset: "AAA",
		Bids:      []types.AggregatedLevel{agLevel("431.00", "10")},
		Asks:      []types.AggregatedLevel{agLevel("431.50", "5"), agLevel("432.00", "10")},
	}

	got, err := Simulate(book, types.BUY, dec("3"))
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	if !got.AvgPrice.Equal(dec("431.50")) {
		t.Errorf("AvgPrice = %s, want 431.50", got.AvgPrice)
	}
	if !got.FilledSize.Equal(dec("3")) {
		t.Errorf("FilledSize = %s, want 3", got.FilledSize)
	}
	wantMid := dec("431.25") // (431.00+431.50)/2
	if !got.MidPrice.Equal(wantMid) {
		t.Errorf("MidPrice = %s, want %s", got.MidPrice, wantMid)
	}
	// impact = |431.50-431.25|/431.25 * 10000 ≈ 5.797
	wantImpact := got.AvgPrice.Sub(got.MidPrice).Abs().Div(got.MidPrice).Mul(bps)
	if !got.PriceImpactBps.Equal(wantImpact) {
		t.Errorf("PriceImpactBps = %s, want %s", got.PriceImpactBps, wantImpact)
	}
}

func TestSimulateWalksAcrossMultipleLevels(t *testing.T) {
	t.Parallel()

	book := types.AggregatedBook{
		Asks: []types.AggregatedLevel{agLevel("100", "5"), agLevel("101", "5")},
	}
	got, err := Simulate(book, types.BUY, dec("8"))
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	// cost = 5*100 + 3*101 = 500+303 = 803, avg = 803/8 = 100.375
	if !got.AvgPrice.Equal(dec("100.375")) {
		t.Errorf("AvgPrice = %s, want 100.375", got.AvgPrice)
	}
}

func TestSimulateSellWalksBids(t *testing.T) {
	t.Parallel()

	book := types.AggregatedBook{
		Bids: []types.AggregatedLevel{agLevel("99", "2"), agLevel("98", "10")},
	}
	got, err := Simulate(book, types.SELL, dec("5"))
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	// cost = 2*99 + 3*98 = 198+294 = 492, avg = 492/5 = 98.4
	if !got.AvgPrice.Equal(dec("98.4")) {
		t.Errorf("AvgPrice = %s, want 98.4", got.AvgPrice)
	}
}

func TestSimulateInsufficientDepth(t *testing.T) {
	t.Parallel()

	book := types.AggregatedBook{
		Asks: []types.AggregatedLevel{agLevel("100", "5")},
	}
	_, err := Simulate(book, types.BUY, dec("10"))
	if err == nil {
		t.Fatal("Simulate() = nil error, want InsufficientDepthError")
	}
	if !errors.Is(err, errs.ErrInsufficientDepth) {
		t.Errorf("Simulate() error = %v, want ErrInsufficientDepth", err)
	}
}

func TestSimulateSingleSidedBookHasZeroImpactAtBestPrice(t *testing.T) {
	t.Parallel()

	book := types.AggregatedBook{
		Asks: []types.AggregatedLevel{agLevel("100", "5")},
	}
	got, err := Simulate(book, types.BUY, dec("5"))
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	if !got.PriceImpactBps.Equal(decimal.Zero) {
		t.Errorf("PriceImpactBps = %s, want 0 when the fill is at the single-sided best price used as mid", got.PriceImpactBps)
	}
}
