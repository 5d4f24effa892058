package book

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

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

func lvl(price, size string) types.PriceLevel {
	return types.PriceLevel{Price: dec(price), Size: dec(size)}
}

// fakeClient serves canned L2Books keyed by coin, optionally erroring.
type fakeClient struct {
	venue.Client
	books map[string]types.MarketBook
	errs  map[string]error
}

func (f *fakeClient) L2Book(ctx context.Context, coin string, nSigFigs *int) (types.MarketBook, error) {
	if err, ok := f.errs[coin]; ok {
		return types.MarketBook{}, err
	}
	return f.books[coin], nil
}

func marketFor(coin string) types.PerpMarket {
	return types.PerpMarket{BaseAsset: "AAA", Coin: coin}
}

func TestAggregateEmptyMarketList(t *testing.T) {
	t.Parallel()
	a := New(&fakeClient{}, testLogger())
	got := a.Aggregate(context.Background(), "AAA", nil)
	if len(got.Bids) != 0 || len(got.Asks) != 0 || len(got.FailedCoins) != 0 {
		t.Errorf("Aggregate(empty) = %+v, want empty book", got)
	}
}

func TestAggregateAllFail(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		errs: map[string]error{"A": errors.New("boom"), "B": errors.New("boom")},
	}
	a := New(client, testLogger())
	got := a.Aggregate(context.Background(), "AAA", []types.PerpMarket{marketFor("A"), marketFor("B")})
	if len(got.Bids) != 0 || len(got.Asks) != 0 {
		t.Errorf("Aggregate(all fail) non-empty book: %+v", got)
	}
	if len(got.FailedCoins) != 2 {
		t.Errorf("FailedCoins = %v, want 2 entries", got.FailedCoins)
	}
}

func TestAggregatePartialFailure(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		books: map[string]types.MarketBook{
			"A": {Coin: "A", Asks: []types.PriceLevel{lvl("431.50", "5")}},
		},
		errs: map[string]error{"B": errors.New("timeout")},
	}
	a := New(client, testLogger())
	got := a.Aggregate(context.Background(), "AAA", []types.PerpMarket{marketFor("A"), marketFor("B")})
	if len(got.Asks) != 1 {
		t.Fatalf("Asks = %+v, want 1 level from surviving market", got.Asks)
	}
	if len(got.FailedCoins) != 1 || got.FailedCoins[0] != "B" {
		t.Errorf("FailedCoins = %v, want [B]", got.FailedCoins)
	}
}

func TestAggregateMergesExactPriceLevels(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		books: map[string]types.MarketBook{
			"A": {Coin: "A", Asks: []types.PriceLevel{lvl("431.50", "5")}},
			"B": {Coin: "B", Asks: []types.PriceLevel{lvl("431.70", "3")}},
		},
	}
	a := New(client, testLogger())
	got := a.Aggregate(context.Background(), "AAA", []types.PerpMarket{marketFor("A"), marketFor("B")})

	if len(got.Asks) != 2 {
		t.Fatalf("Asks = %+v, want 2 distinct levels", got.Asks)
	}
	if !got.Asks[0].Price.Equal(dec("431.50")) || !got.Asks[0].TotalSize.Equal(dec("5")) {
		t.Errorf("Asks[0] = %+v, want 431.50 size 5", got.Asks[0])
	}
	if len(got.Asks[0].Sources) != 1 || got.Asks[0].Sources[0].Coin != "A" {
		t.Errorf("Asks[0].Sources = %+v, want [{A 5}]", got.Asks[0].Sources)
	}
	if !got.Asks[1].Price.Equal(dec("431.70")) || !got.Asks[1].TotalSize.Equal(dec("3")) {
		t.Errorf("Asks[1] = %+v, want 431.70 size 3", got.Asks[1])
	}
}

func TestAggregateSameLevelAcrossMarkets(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		books: map[string]types.MarketBook{
			"A": {Coin: "A", Bids: []types.PriceLevel{lvl("100.00", "2")}},
			"B": {Coin: "B", Bids: []types.PriceLevel{lvl("100.00", "4")}},
		},
	}
	a := New(client, testLogger())
	got := a.Aggregate(context.Background(), "AAA", []types.PerpMarket{marketFor("A"), marketFor("B")})

	if len(got.Bids) != 1 {
		t.Fatalf("Bids = %+v, want single merged level", got.Bids)
	}
	if !got.Bids[0].TotalSize.Equal(dec("6")) {
		t.Errorf("merged size = %s, want 6", got.Bids[0].TotalSize)
	}
	if len(got.Bids[0].Sources) != 2 {
		t.Errorf("Sources = %+v, want provenance from both markets", got.Bids[0].Sources)
	}
}

func TestAggregateSidesSorted(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		books: map[string]types.MarketBook{
			"A": {
				Coin: "A",
				Bids: []types.PriceLevel{lvl("99.00", "1"), lvl("100.00", "1")},
				Asks: []types.PriceLevel{lvl("102.00", "1"), lvl("101.00", "1")},
			},
		},
	}
	a := New(client, testLogger())
	got := a.Aggregate(context.Background(), "AAA", []types.PerpMarket{marketFor("A")})

	if !got.Bids[0].Price.Equal(dec("100.00")) || !got.Bids[1].Price.Equal(dec("99.00")) {
		t.Errorf("Bids not descending: %+v", got.Bids)
	}
	if !got.Asks[0].Price.Equal(dec("101.00")) || !got.Asks[1].Price.Equal(dec("102.00")) {
		t.Errorf("Asks not ascending: %+v", got.Asks)
	}
}

func TestAggregateForOrderTruncatesActiveSide(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		books: map[string]types.MarketBook{
			"A": {Coin: "A", Asks: []types.PriceLevel{lvl("431.50", "5"), lvl("432.00", "10")}},
		},
	}
	a := New(client, testLogger())

	got := a.AggregateForOrder(context.Background(), "AAA", []types.PerpMarket{marketFor("A")}, types.BUY, dec("3"))
	if len(got.Asks) != 1 {
		t.Fatalf("buy 3 -> Asks = %+v, want truncated to first level (depth 5 >= 3)", got.Asks)
	}

	got = a.AggregateForOrder(context.Background(), "AAA", []types.PerpMarket{marketFor("A")}, types.BUY, dec("12"))
	if len(got.Asks) != 2 {
		t.Fatalf("buy 12 -> Asks = %+v, want both levels (cum 15 >= 12)", got.Asks)
	}
}

func TestAggregateForOrderKeepsEntireSideOnInsufficientDepth(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		books: map[string]types.MarketBook{
			"A": {Coin: "A", Asks: []types.PriceLevel{lvl("431.50", "5")}},
		},
	}
	a := New(client, testLogger())
	got := a.AggregateForOrder(context.Background(), "AAA", []types.PerpMarket{marketFor("A")}, types.BUY, dec("100"))
	if len(got.Asks) != 1 {
		t.Errorf("insufficient depth -> Asks = %+v, want side kept whole", got.Asks)
	}
}

func TestTruncateSide(t *testing.T) {
	t.Parallel()
	levels := []types.AggregatedLevel{
		{Price: dec("1"), TotalSize: dec("2")},
		{Price: dec("2"), TotalSize: dec("3")},
		{Price: dec("3"), TotalSize: dec("5")},
	}

	got := truncateSide(levels, dec("4"))
	if len(got) != 2 {
		t.Errorf("truncateSide(4) = %d levels, want 2 (cum 2,5)", len(got))
	}

	got = truncateSide(levels, dec("100"))
	if len(got) != 3 {
		t.Errorf("truncateSide(100) = %d levels, want all 3 (insufficient depth)", len(got))
	}
}
