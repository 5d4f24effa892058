package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		side Side
		want Side
	}{
		{BUY, SELL},
		{SELL, BUY},
	}

	for _, tt := range tests {
		if got := tt.side.Opposite(); got != tt.want {
			t.Errorf("Side(%q).Opposite() = %q, want %q", tt.side, got, tt.want)
		}
	}
}

func TestEncodeAssetIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		isNative      bool
		deployerIndex int
		localIndex    int
		want          int
	}{
		{"native market keeps local index", true, 0, 5, 5},
		{"deployer 1, local 0", false, 1, 0, 110000},
		{"deployer 3, local 42", false, 3, 42, 130042},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeAssetIndex(tt.isNative, tt.deployerIndex, tt.localIndex)
			if got != tt.want {
				t.Errorf("EncodeAssetIndex(%v, %d, %d) = %d, want %d",
					tt.isNative, tt.deployerIndex, tt.localIndex, got, tt.want)
			}
		})
	}
}

func TestEncodeSpotAssetIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pairIndex int
		want      int
	}{
		{0, 10000},
		{1, 10002},
		{7, 10014},
	}

	for _, tt := range tests {
		if got := EncodeSpotAssetIndex(tt.pairIndex); got != tt.want {
			t.Errorf("EncodeSpotAssetIndex(%d) = %d, want %d", tt.pairIndex, got, tt.want)
		}
	}
}

func TestAggregatedBookBestBidAsk(t *testing.T) {
	t.Parallel()

	t.Run("empty book", func(t *testing.T) {
		var b AggregatedBook
		if _, ok := b.BestBid(); ok {
			t.Error("expected BestBid ok=false on empty book")
		}
		if _, ok := b.BestAsk(); ok {
			t.Error("expected BestAsk ok=false on empty book")
		}
		if !b.Mid().Equal(decimal.Zero) {
			t.Errorf("Mid() on empty book = %s, want 0", b.Mid())
		}
	})

	t.Run("two-sided book", func(t *testing.T) {
		b := AggregatedBook{
			Bids: []AggregatedLevel{{Price: decimal.NewFromFloat(99.5)}},
			Asks: []AggregatedLevel{{Price: decimal.NewFromFloat(100.5)}},
		}
		bid, ok := b.BestBid()
		if !ok || !bid.Equal(decimal.NewFromFloat(99.5)) {
			t.Errorf("BestBid() = %s, %v, want 99.5, true", bid, ok)
		}
		ask, ok := b.BestAsk()
		if !ok || !ask.Equal(decimal.NewFromFloat(100.5)) {
			t.Errorf("BestAsk() = %s, %v, want 100.5, true", ask, ok)
		}
		want := decimal.NewFromFloat(100)
		if !b.Mid().Equal(want) {
			t.Errorf("Mid() = %s, want %s", b.Mid(), want)
		}
	})

	t.Run("bid-only book falls back to best bid", func(t *testing.T) {
		b := AggregatedBook{Bids: []AggregatedLevel{{Price: decimal.NewFromInt(50)}}}
		if !b.Mid().Equal(decimal.NewFromInt(50)) {
			t.Errorf("Mid() = %s, want 50", b.Mid())
		}
	})
}

func TestNewIOCLimit(t *testing.T) {
	t.Parallel()

	ot := NewIOCLimit()
	if ot.Limit == nil {
		t.Fatal("NewIOCLimit() returned nil Limit")
	}
	if ot.Trigger != nil {
		t.Error("NewIOCLimit() set a non-nil Trigger")
	}
	if ot.Limit.TIF != TIFIoc {
		t.Errorf("NewIOCLimit().Limit.TIF = %q, want %q", ot.Limit.TIF, TIFIoc)
	}
}
