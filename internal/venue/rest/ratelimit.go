// ratelimit.go implements token-bucket rate limiting for the venue's REST
// API, recategorized from three call-class buckets to the six this venue
// exposes. Continuous refill (rather than fixed-window bursts) avoids
// synchronized thundering-herd retries.
package rest

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is
// cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens refilled per second
	lastTime time.Time
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RateLimiter groups token buckets by venue API call class.
type RateLimiter struct {
	Meta     *TokenBucket // meta/asset-ctx/spot-meta discovery reads
	Book     *TokenBucket // l2_book reads
	Account  *TokenBucket // clearinghouse/open_orders/user_fills/funding reads
	Order    *TokenBucket // place_order/batch_orders
	Cancel   *TokenBucket // cancel_order
	Transfer *TokenBucket // usd_class_transfer/set_dex_abstraction/set_leverage/builder-fee
}

// NewRateLimiter creates rate limiters sized for the documented per-category
// limits, capacities at the burst allowance and rates tuned for smooth
// refill rather than 10-second windows.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Meta:     NewTokenBucket(60, 6),
		Book:     NewTokenBucket(150, 15),
		Account:  NewTokenBucket(150, 15),
		Order:    NewTokenBucket(350, 50),
		Cancel:   NewTokenBucket(300, 30),
		Transfer: NewTokenBucket(30, 3),
	}
}
