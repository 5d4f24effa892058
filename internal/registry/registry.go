// Package registry discovers every market trading on the venue and indexes
// them by normalized base asset, assigning stable global asset IDs and
// resolving each market's collateral token.
//
// Parallel fetch, filter, index, atomic replace follows market/scanner.go.
package registry

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"hyperprime/internal/errs"
	"hyperprime/internal/venue"
	"hyperprime/pkg/types"
)

type index struct {
	groups map[string]types.MarketGroup // key: uppercased base asset
}

// Registry discovers and indexes markets across every deployer on the venue.
// The current index is rebuild-and-swap: readers always see a consistent
// generation via atomic.Pointer.
type Registry struct {
	client venue.Client
	logger *slog.Logger
	idx    atomic.Pointer[index]
}

// New creates a Registry. discover() must run before any lookup succeeds.
func New(client venue.Client, logger *slog.Logger) *Registry {
	return &Registry{client: client, logger: logger.With("component", "registry")}
}

// Discover builds the full per-asset index from scratch and atomically
// replaces the current one. Idempotent: running it twice yields the same
// group set for an unchanged venue state.
func (r *Registry) Discover(ctx context.Context) error {
	dexs, err := r.client.PerpDexs(ctx)
	if err != nil {
		return err
	}

	tokenNames, collateralByDex, err := r.loadSpotContext(ctx, dexs)
	if err != nil {
		return err
	}

	type dexResult struct {
		dexName       string
		deployerIndex int
		isNative      bool
		collateralIdx int
		entries       []venue.MetaEntry
	}

	results := make([]dexResult, 0, len(dexs)+1)
	resultsCh := make(chan dexResult, len(dexs)+1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		entries, err := r.client.MetaAndAssetCtxs(gctx, "")
		if err != nil {
			return err // native fetch failure is a top-level failure, propagate
		}
		resultsCh <- dexResult{dexName: types.NativeDex, isNative: true, entries: entries}
		return nil
	})
	for _, d := range dexs {
		d := d
		g.Go(func() error {
			entries, err := r.client.MetaAndAssetCtxs(gctx, d.Name)
			if err != nil {
				// Per-deployer context failures degrade silently: log and skip.
				r.logger.Warn("deployer context fetch failed, skipping", "dex", d.Name, "error", err)
				return nil
			}
			resultsCh <- dexResult{
				dexName:       d.Name,
				deployerIndex: d.DeployerIndex,
				collateralIdx: d.CollateralTokenIndex,
				entries:       entries,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	close(resultsCh)
	for res := range resultsCh {
		results = append(results, res)
	}

	groups := make(map[string]*types.MarketGroup)
	for _, res := range results {
		collateral := tokenNames[res.collateralIdx]
		if res.isNative {
			collateral = "USDC"
		} else if c, ok := collateralByDex[res.dexName]; ok {
			collateral = c
		}

		for _, e := range res.entries {
			if e.Delisted {
				continue // delisted markets excluded from registry
			}
			assetIndex := types.EncodeAssetIndex(res.isNative, res.deployerIndex, e.LocalIndex)
			baseAsset := extractBaseAsset(e.Name, res.isNative)
			resolvedCollateral := collateral
			if resolvedCollateral == "" {
				resolvedCollateral = placeholderToken(res.collateralIdx)
			}

			market := types.PerpMarket{
				BaseAsset:    baseAsset,
				Coin:         e.Name,
				AssetIndex:   assetIndex,
				DexName:      res.dexName,
				Collateral:   resolvedCollateral,
				IsNative:     res.isNative,
				Funding:      e.Funding,
				OpenInterest: e.OpenInterest,
				MarkPrice:    e.MarkPrice,
				OraclePrice:  e.OraclePrice,
			}

			key := strings.ToUpper(baseAsset)
			g, ok := groups[key]
			if !ok {
				g = &types.MarketGroup{BaseAsset: key}
				groups[key] = g
			}
			g.Markets = append(g.Markets, market)
		}
	}

	finalGroups := make(map[string]types.MarketGroup, len(groups))
	for key, g := range groups {
		g.HasAlternatives = len(g.Markets) > 1
		finalGroups[key] = *g
	}

	r.idx.Store(&index{groups: finalGroups})
	return nil
}

// loadSpotContext fetches spot token metadata once, returning a
// token-index -> name map and a dex-name -> collateral-symbol map derived
// from each dex's designated collateral token.
func (r *Registry) loadSpotContext(ctx context.Context, dexs []venue.PerpDexInfo) (map[int]string, map[string]string, error) {
	tokens, _, err := r.client.SpotMeta(ctx)
	if err != nil {
		return nil, nil, err
	}
	names := make(map[int]string, len(tokens))
	for _, t := range tokens {
		names[t.Index] = t.Name
	}

	byDex := make(map[string]string, len(dexs))
	for _, d := range dexs {
		if name, ok := names[d.CollateralTokenIndex]; ok {
			byDex[d.Name] = name
		}
	}
	return names, byDex, nil
}

// extractBaseAsset derives the normalized base asset symbol from a venue
// coin identifier: native markets start from the raw name; deployer markets
// start from the substring after the first colon. Either way trailing ASCII
// digits are then stripped, falling back to the unstripped name if stripping
// would empty it, and the result is uppercased.
func extractBaseAsset(coin string, isNative bool) string {
	name := coin
	if !isNative {
		if idx := strings.IndexByte(coin, ':'); idx >= 0 {
			name = coin[idx+1:]
		}
	}

	stripped := strings.TrimRight(name, "0123456789")
	if stripped == "" {
		stripped = name
	}
	return strings.ToUpper(stripped)
}

func placeholderToken(tokenIndex int) string {
	return "TOKEN_" + strconv.Itoa(tokenIndex)
}

func (r *Registry) current() (*index, error) {
	idx := r.idx.Load()
	if idx == nil {
		return nil, errs.ErrNotConnected
	}
	return idx, nil
}

// GetMarkets returns the markets for a base asset (case-insensitive).
func (r *Registry) GetMarkets(baseAsset string) ([]types.PerpMarket, error) {
	g, err := r.GetGroup(baseAsset)
	if err != nil {
		return nil, err
	}
	return g.Markets, nil
}

// GetGroup returns the market group for a base asset (case-insensitive).
func (r *Registry) GetGroup(baseAsset string) (types.MarketGroup, error) {
	idx, err := r.current()
	if err != nil {
		return types.MarketGroup{}, err
	}
	key := strings.ToUpper(baseAsset)
	g, ok := idx.groups[key]
	if !ok {
		return types.MarketGroup{}, &errs.NoMarketsError{BaseAsset: baseAsset}
	}
	return g, nil
}

// GetAllGroups returns every indexed market group.
func (r *Registry) GetAllGroups() ([]types.MarketGroup, error) {
	idx, err := r.current()
	if err != nil {
		return nil, err
	}
	out := make([]types.MarketGroup, 0, len(idx.groups))
	for _, g := range idx.groups {
		out = append(out, g)
	}
	return out, nil
}

// GetGroupsWithAlternatives returns only groups with more than one market.
func (r *Registry) GetGroupsWithAlternatives() ([]types.MarketGroup, error) {
	all, err := r.GetAllGroups()
	if err != nil {
		return nil, err
	}
	out := make([]types.MarketGroup, 0, len(all))
	for _, g := range all {
		if g.HasAlternatives {
			out = append(out, g)
		}
	}
	return out, nil
}
