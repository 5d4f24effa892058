// Package position normalizes venue-reported positions into the router's
// own LogicalPosition shape and groups them by base asset.
//
// Position-as-struct, snapshot-by-copy, derived-field-on-read style follows
// strategy/inventory.go, generalized from a binary YES/NO market to
// N-market grouping by base asset.
package position

import (
	"context"
	"strings"
	"sync"
	"time"

	"hyperprime/internal/registry"
	"hyperprime/internal/venue"
	"hyperprime/pkg/types"
)

// ledgerTTL bounds how long a self-placed fill keeps a position tagged
// ManagedBySDK after the fact; beyond this, staleness makes the tag
// unreliable and it falls back to ManagedUnknown.
const ledgerTTL = 24 * time.Hour

// Manager normalizes and groups a user's open positions. It also keeps a
// best-effort, process-lifetime record of fills this process itself placed
// (RecordFill), used to advisory-tag positions as managed vs unknown. This
// is a supplement, not a substitute for a durable cross-process fills index.
type Manager struct {
	client   venue.Client
	registry *registry.Registry

	mu     sync.Mutex
	ledger map[string]time.Time // "baseAsset|coin" -> last-recorded fill time
}

// New creates a position Manager against the given venue client and market
// registry (used to resolve a coin back to its base asset).
func New(client venue.Client, reg *registry.Registry) *Manager {
	return &Manager{client: client, registry: reg, ledger: make(map[string]time.Time)}
}

// RecordFill marks a (baseAsset, coin) pair as managed by this process,
// fed by the facade after every successful Executor receipt (a fill or a
// resting accept). orderID is accepted for
// a future keyed ledger but this implementation only needs recency per coin.
func (m *Manager) RecordFill(baseAsset, coin, orderID string) {
	_ = orderID
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger[ledgerKey(baseAsset, coin)] = time.Now()
}

func ledgerKey(baseAsset, coin string) string {
	return strings.ToUpper(baseAsset) + "|" + coin
}

// Positions returns every open position for the user, normalized. A
// position is tagged ManagedBySDK if this process recorded a fill for its
// (base_asset, coin) within ledgerTTL; otherwise ManagedUnknown.
func (m *Manager) Positions(ctx context.Context, userAddress string) ([]types.LogicalPosition, error) {
	balance, err := m.client.ClearinghouseState(ctx, userAddress)
	if err != nil {
		return nil, err
	}

	coinToAsset, err := m.coinToBaseAsset()
	if err != nil {
		return nil, err
	}

	out := make([]types.LogicalPosition, 0, len(balance.Positions))
	for _, p := range balance.Positions {
		if p.Szi.IsZero() {
			continue
		}
		side := types.BUY
		size := p.Szi
		if p.Szi.IsNegative() {
			side = types.SELL
			size = size.Neg()
		}
		baseAsset := coinToAsset[p.Coin]
		out = append(out, types.LogicalPosition{
			BaseAsset:        baseAsset,
			Coin:             p.Coin,
			Side:             side,
			Size:             size,
			EntryPrice:       p.EntryPrice,
			MarkPrice:        p.MarkPrice,
			UnrealizedPnL:    p.UnrealizedPnL,
			Leverage:         p.Leverage,
			LiquidationPrice: p.LiquidationPrice,
			ManagedBy:        m.managedState(baseAsset, p.Coin),
		})
	}
	return out, nil
}

// GroupedPositions returns the same positions as Positions, grouped by base
// asset.
func (m *Manager) GroupedPositions(ctx context.Context, userAddress string) (map[string][]types.LogicalPosition, error) {
	positions, err := m.Positions(ctx, userAddress)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]types.LogicalPosition)
	for _, p := range positions {
		key := strings.ToUpper(p.BaseAsset)
		grouped[key] = append(grouped[key], p)
	}
	return grouped, nil
}

// managedState looks up whether this process recorded a recent fill for
// (baseAsset, coin) via RecordFill; expired or absent entries are unknown.
func (m *Manager) managedState(baseAsset, coin string) types.ManagedState {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.ledger[ledgerKey(baseAsset, coin)]
	if !ok || time.Since(t) > ledgerTTL {
		return types.ManagedUnknown
	}
	return types.ManagedBySDK
}

// coinToBaseAsset builds a coin -> base-asset lookup from every indexed
// market group, used to fill in LogicalPosition.BaseAsset for a raw
// venue position.
func (m *Manager) coinToBaseAsset() (map[string]string, error) {
	groups, err := m.registry.GetAllGroups()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, g := range groups {
		for _, mkt := range g.Markets {
			out[mkt.Coin] = mkt.BaseAsset
		}
	}
	return out, nil
}
