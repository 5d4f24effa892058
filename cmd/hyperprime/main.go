// hyperprime is the thin CLI front-end over internal/prime.Facade: markets,
// book, funding, quote, long, short, positions, balance. It parses
// os.Args by hand — no CLI framework, matching cmd/bot/main.go's own
// approach of reading one env var and looping on a signal channel rather
// than reaching for Cobra/urfave.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"hyperprime/internal/config"
	"hyperprime/internal/prime"
	"hyperprime/internal/venue/rest"
	"hyperprime/pkg/types"
)

const (
	mainnetChainID = 42161
	testnetChainID = 421614

	defaultMainnetURL = "https://api.hyperliquid.xyz"
	defaultTestnetURL = "https://api.hyperliquid-testnet.xyz"

	defaultKeyEnv = "HP_PRIVATE_KEY"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: hyperprime <markets|book|funding|quote|long|short|positions|balance|watch> [args...]")
		return 1
	}
	cmd := args[0]
	cmdArgs := args[1:]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	testnet := fs.Bool("testnet", false, "use the testnet venue endpoint")
	key := fs.String("key", "", "private key hex (discouraged; prefer --key-env)")
	keyEnv := fs.String("key-env", defaultKeyEnv, "environment variable holding the private key")
	logLevel := fs.String("log-level", "", "override configs/config.yaml logging.level")
	jsonOut := fs.Bool("json", false, "emit JSON instead of human-readable text")
	noBuilderFee := fs.Bool("no-builder-fee", false, "disable the configured builder fee for this invocation")
	depth := fs.Int("depth", 0, "truncate the printed book to this many levels per side (book command only)")
	if err := fs.Parse(cmdArgs); err != nil {
		return 1
	}
	positional := fs.Args()

	cfg, err := loadConfig(*testnet, *key, *keyEnv, *logLevel, *noBuilderFee)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hyperprime: %v\n", err)
		return 1
	}

	logger := buildLogger(cfg.Logging)

	chainID := int64(mainnetChainID)
	if cfg.Testnet {
		chainID = testnetChainID
	}
	var auth *rest.Auth
	if cfg.Wallet.PrivateKey != "" {
		auth, err = rest.NewAuth(cfg.Wallet.PrivateKey, chainID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hyperprime: %v\n", err)
			return 1
		}
	} else {
		auth = rest.NewReadOnlyAuth(cfg.Wallet.Address, chainID)
	}

	client := rest.NewClient(*cfg, auth, logger)
	facade := prime.New(*cfg, client, logger)

	if cmd == "watch" {
		watchCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		discoverCtx, cancelDiscover := context.WithTimeout(watchCtx, 30*time.Second)
		defer cancelDiscover()
		if err := facade.Connect(discoverCtx); err != nil {
			fmt.Fprintf(os.Stderr, "hyperprime: discover markets: %v\n", err)
			return 1
		}
		if len(positional) < 1 {
			fmt.Fprintln(os.Stderr, "usage: watch <asset>")
			return 1
		}
		if err := runWatch(watchCtx, facade, positional[0]); err != nil {
			fmt.Fprintf(os.Stderr, "hyperprime: %v\n", err)
			return 1
		}
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := facade.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "hyperprime: discover markets: %v\n", err)
		return 1
	}

	out, err := dispatch(ctx, facade, cmd, positional, *depth)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hyperprime: %v\n", err)
		return exitForError(err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "hyperprime: encode output: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Println(renderText(cmd, out))
	return 0
}

func loadConfig(testnet bool, key, keyEnv, logLevel string, noBuilderFee bool) (*config.Config, error) {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("HP_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if testnet {
		cfg.Testnet = true
	}
	if cfg.API.BaseURL == "" {
		if cfg.Testnet {
			cfg.API.BaseURL = defaultTestnetURL
		} else {
			cfg.API.BaseURL = defaultMainnetURL
		}
	}

	if key != "" {
		cfg.Wallet.PrivateKey = key
	} else if v := os.Getenv(keyEnv); v != "" {
		cfg.Wallet.PrivateKey = v
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if noBuilderFee {
		cfg.Builder = &config.BuilderConfig{Disabled: true}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	if cfg.Level == "silent" {
		return slog.New(slog.NewTextHandler(discardWriter{}, nil))
	}
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// dispatch runs the requested subcommand against the facade and returns a
// JSON-marshalable result; renderText knows how to format each command's
// result for the non-JSON path.
func dispatch(ctx context.Context, f *prime.Facade, cmd string, args []string, depth int) (interface{}, error) {
	switch cmd {
	case "markets":
		if len(args) < 1 {
			return nil, fmt.Errorf("usage: markets <asset>")
		}
		return f.Markets(args[0])

	case "book":
		if len(args) < 1 {
			return nil, fmt.Errorf("usage: book <asset> [--depth n]")
		}
		book, err := f.Book(ctx, args[0])
		if err != nil {
			return nil, err
		}
		if depth > 0 {
			book.Bids = truncateLevels(book.Bids, depth)
			book.Asks = truncateLevels(book.Asks, depth)
		}
		return book, nil

	case "funding":
		if len(args) < 1 {
			return nil, fmt.Errorf("usage: funding <asset>")
		}
		return f.Markets(args[0])

	case "quote":
		if len(args) < 3 {
			return nil, fmt.Errorf("usage: quote <asset> <buy|sell> <size>")
		}
		side, err := parseSide(args[1])
		if err != nil {
			return nil, err
		}
		size, err := parseSize(args[2])
		if err != nil {
			return nil, err
		}
		return f.Quote(ctx, args[0], side, size, f.DefaultSlippage())

	case "long", "short":
		if len(args) < 2 {
			return nil, fmt.Errorf("usage: %s <asset> <size>", cmd)
		}
		side := types.BUY
		if cmd == "short" {
			side = types.SELL
		}
		size, err := parseSize(args[1])
		if err != nil {
			return nil, err
		}
		quote, err := f.Quote(ctx, args[0], side, size, f.DefaultSlippage())
		if err != nil {
			return nil, err
		}
		return f.Execute(ctx, quote.Plan)

	case "positions":
		return f.Positions(ctx)

	case "balance":
		perp, spot, err := f.Balance(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"perp": perp, "spot": spot}, nil

	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}

// runWatch streams live book and all-mids updates for an asset's markets
// until ctx is cancelled (Ctrl-C). The Router and Aggregator never touch
// this feed — it's a separate live-data path for callers who want one.
func runWatch(ctx context.Context, f *prime.Facade, baseAsset string) error {
	markets, err := f.Markets(baseAsset)
	if err != nil {
		return err
	}

	feed := f.NewLiveFeed()
	for _, m := range markets {
		if err := feed.SubscribeL2Book(m.Coin); err != nil {
			return fmt.Errorf("subscribe %s: %w", m.Coin, err)
		}
	}
	if err := feed.SubscribeAllMids(); err != nil {
		return fmt.Errorf("subscribe all mids: %w", err)
	}

	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "hyperprime: watch feed: %v\n", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-feed.BookEvents():
			fmt.Printf("book %s: best bid/ask updated\n", b.Coin)
		case mids := <-feed.MidEvents():
			fmt.Printf("mids: %v\n", mids.Mids)
		case tr := <-feed.TradeEvents():
			fmt.Printf("trade %s %s %s @ %s\n", tr.Coin, tr.Side, tr.Sz, tr.Px)
		}
	}
}

func truncateLevels(levels []types.AggregatedLevel, depth int) []types.AggregatedLevel {
	if depth >= len(levels) {
		return levels
	}
	return levels[:depth]
}

func parseSide(s string) (types.Side, error) {
	switch s {
	case "buy", "BUY":
		return types.BUY, nil
	case "sell", "SELL":
		return types.SELL, nil
	default:
		return "", fmt.Errorf("side must be buy or sell, got %q", s)
	}
}

func parseSize(s string) (decimal.Decimal, error) {
	size, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if size.LessThanOrEqual(decimal.Zero) {
		return decimal.Decimal{}, fmt.Errorf("size must be positive, got %q", s)
	}
	return size, nil
}

func renderText(cmd string, out interface{}) string {
	switch v := out.(type) {
	case types.Quote:
		return fmt.Sprintf("%s %s %s @ %s (impact %s bps, market %s)",
			v.Side, v.RequestedSize, v.BaseAsset, v.EstimatedAvgPrice, v.EstimatedPriceImpactBps, v.SelectedMarket.Coin)
	case types.ExecutionReceipt:
		if !v.Success {
			return fmt.Sprintf("execution failed: %s", v.Error)
		}
		return fmt.Sprintf("filled %s @ %s (order %s)", v.FilledSize, v.AvgPrice, v.OrderID)
	default:
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Sprintf("%+v", out)
		}
		return string(b)
	}
}

// exitForError maps any dispatch failure to a process exit code. Every
// error kind in internal/errs currently exits 1; this is the one place
// that mapping lives if the CLI ever needs to distinguish them.
func exitForError(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
