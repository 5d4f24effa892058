// Package ws implements the optional live-subscription feeds named in the
// venue's external interface (subscribe_l2_book, subscribe_all_mids,
// subscribe_trades, subscribe_user_events). The Router and Aggregator never
// depend on this package — snapshots suffice for routing — but the Facade
// exposes it for callers who want a live feed alongside routing.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"hyperprime/pkg/types"
)

const (
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	bufferSize       = 256
)

// MidEvent is an all-mids update: coin -> current mid price.
type MidEvent struct {
	Mids map[string]decimal.Decimal
}

// TradeEvent is a public trade print.
type TradeEvent struct {
	Coin string
	Side types.Side
	Px   decimal.Decimal
	Sz   decimal.Decimal
	Time int64
}

// UserEvent is a user-channel notification. The feed sets Kind to "user"
// and keeps the payload in Raw; Coin and OrderID are not filled in.
type UserEvent struct {
	Kind    string // always "user" (the channel name)
	Coin    string
	OrderID string
	Raw     json.RawMessage
}

// Feed manages a single WebSocket connection, tracks subscriptions, and
// auto-reconnects with exponential backoff, re-subscribing on reconnect.
type Feed struct {
	url  string
	conn *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]string // subscription key -> raw subscribe message

	bookCh  chan types.MarketBook
	midCh   chan MidEvent
	tradeCh chan TradeEvent
	userCh  chan UserEvent

	logger *slog.Logger
}

// NewFeed creates a WebSocket feed against the venue's ws endpoint.
func NewFeed(wsURL string, logger *slog.Logger) *Feed {
	return &Feed{
		url:        wsURL,
		subscribed: make(map[string]string),
		bookCh:     make(chan types.MarketBook, bufferSize),
		midCh:      make(chan MidEvent, bufferSize),
		tradeCh:    make(chan TradeEvent, bufferSize),
		userCh:     make(chan UserEvent, bufferSize),
		logger:     logger.With("component", "ws_feed"),
	}
}

func (f *Feed) BookEvents() <-chan types.MarketBook { return f.bookCh }
func (f *Feed) MidEvents() <-chan MidEvent          { return f.midCh }
func (f *Feed) TradeEvents() <-chan TradeEvent       { return f.tradeCh }
func (f *Feed) UserEvents() <-chan UserEvent         { return f.userCh }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// SubscribeL2Book subscribes to live book updates for a coin.
func (f *Feed) SubscribeL2Book(coin string) error {
	return f.subscribe(fmt.Sprintf("l2Book:%s", coin), map[string]interface{}{
		"method":       "subscribe",
		"subscription": map[string]interface{}{"type": "l2Book", "coin": coin},
	})
}

// SubscribeAllMids subscribes to the venue-wide mid-price feed.
func (f *Feed) SubscribeAllMids() error {
	return f.subscribe("allMids", map[string]interface{}{
		"method":       "subscribe",
		"subscription": map[string]interface{}{"type": "allMids"},
	})
}

// SubscribeTrades subscribes to public trade prints for a coin.
func (f *Feed) SubscribeTrades(coin string) error {
	return f.subscribe(fmt.Sprintf("trades:%s", coin), map[string]interface{}{
		"method":       "subscribe",
		"subscription": map[string]interface{}{"type": "trades", "coin": coin},
	})
}

// SubscribeUserEvents subscribes to fills and order lifecycle events for user.
func (f *Feed) SubscribeUserEvents(user string) error {
	return f.subscribe(fmt.Sprintf("userEvents:%s", user), map[string]interface{}{
		"method":       "subscribe",
		"subscription": map[string]interface{}{"type": "userEvents", "user": user},
	})
}

func (f *Feed) subscribe(key string, msg interface{}) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	f.subscribedMu.Lock()
	f.subscribed[key] = string(raw)
	f.subscribedMu.Unlock()

	f.connMu.Lock()
	connected := f.conn != nil
	f.connMu.Unlock()
	if !connected {
		return nil // sent by resubscribeAll once Run connects
	}
	return f.writeJSON(msg)
}

func (f *Feed) resubscribeAll() {
	f.subscribedMu.RLock()
	defer f.subscribedMu.RUnlock()
	for key, raw := range f.subscribed {
		if err := f.writeRaw([]byte(raw)); err != nil {
			f.logger.Warn("resubscribe failed", "key", key, "error", err)
		}
	}
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	f.resubscribeAll()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(data)
	}
}

type wireChannelEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func (f *Feed) dispatch(data []byte) {
	var env wireChannelEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.logger.Warn("malformed ws message", "error", err)
		return
	}

	switch env.Channel {
	case "l2Book":
		var book types.MarketBook
		if err := json.Unmarshal(env.Data, &book); err == nil {
			select {
			case f.bookCh <- book:
			default:
			}
		}
	case "allMids":
		var raw struct {
			Mids map[string]string `json:"mids"`
		}
		if err := json.Unmarshal(env.Data, &raw); err == nil {
			mids := make(map[string]decimal.Decimal, len(raw.Mids))
			for coin, px := range raw.Mids {
				if d, err := decimal.NewFromString(px); err == nil {
					mids[coin] = d
				}
			}
			select {
			case f.midCh <- MidEvent{Mids: mids}:
			default:
			}
		}
	case "trades":
		var raw []struct {
			Coin string `json:"coin"`
			Side string `json:"side"`
			Px   string `json:"px"`
			Sz   string `json:"sz"`
			Time int64  `json:"time"`
		}
		if err := json.Unmarshal(env.Data, &raw); err == nil {
			for _, t := range raw {
				ev := TradeEvent{Coin: t.Coin, Time: t.Time}
				if t.Side == "B" {
					ev.Side = types.BUY
				} else {
					ev.Side = types.SELL
				}
				if d, err := decimal.NewFromString(t.Px); err == nil {
					ev.Px = d
				}
				if d, err := decimal.NewFromString(t.Sz); err == nil {
					ev.Sz = d
				}
				select {
				case f.tradeCh <- ev:
				default:
				}
			}
		}
	case "user":
		select {
		case f.userCh <- UserEvent{Kind: "user", Raw: env.Data}:
		default:
		}
	default:
		f.logger.Debug("unhandled ws channel", "channel", env.Channel)
	}
}

func (f *Feed) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return f.writeRaw(data)
}

func (f *Feed) writeRaw(data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(websocket.TextMessage, data)
}
