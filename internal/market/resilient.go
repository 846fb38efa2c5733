package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/classbank/economy/internal/metrics"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const quoteKeyPrefix = "classbank:quote:"

// ResilientFeed guards an upstream feed with a quote cache, a request rate
// limit, bounded retries, a circuit breaker and a per-call timeout. Every
// failure it returns matches ErrPriceUnavailable.
type ResilientFeed struct {
	next       Feed
	cache      *redis.Client
	cacheTTL   time.Duration
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	timeout    time.Duration
	maxRetries uint64
	newBackOff func() backoff.BackOff
	log        *logrus.Entry

	breakerThreshold uint32
	breakerCooldown  time.Duration
}

type ResilientOption func(*ResilientFeed)

// WithQuoteCache caches successful quotes in Redis for ttl. A nil client
// disables caching.
func WithQuoteCache(client *redis.Client, ttl time.Duration) ResilientOption {
	return func(f *ResilientFeed) {
		f.cache = client
		f.cacheTTL = ttl
	}
}

// WithRateLimit allows perSecond upstream calls with the given burst.
func WithRateLimit(perSecond float64, burst int) ResilientOption {
	return func(f *ResilientFeed) {
		if perSecond <= 0 {
			f.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

func WithCallTimeout(d time.Duration) ResilientOption {
	return func(f *ResilientFeed) { f.timeout = d }
}

func WithRetries(n uint64, newBackOff func() backoff.BackOff) ResilientOption {
	return func(f *ResilientFeed) {
		f.maxRetries = n
		if newBackOff != nil {
			f.newBackOff = newBackOff
		}
	}
}

// WithBreaker opens the circuit after threshold consecutive failures and
// probes again after cooldown.
func WithBreaker(threshold uint32, cooldown time.Duration) ResilientOption {
	return func(f *ResilientFeed) {
		f.breakerThreshold = threshold
		f.breakerCooldown = cooldown
	}
}

func NewResilientFeed(next Feed, opts ...ResilientOption) *ResilientFeed {
	f := &ResilientFeed{
		next:       next,
		cacheTTL:   time.Minute,
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
		timeout:    5 * time.Second,
		maxRetries: 2,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		log:              logrus.WithField("component", "market-feed"),
		breakerThreshold: 5,
		breakerCooldown:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "market-feed",
		Timeout: f.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= f.breakerThreshold
		},
		// An unknown symbol says nothing about the upstream's health.
		IsSuccessful: func(err error) bool {
			return err == nil || !temporary(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})
	return f
}

func (f *ResilientFeed) FetchCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = NormalizeSymbol(symbol)
	if price, ok := f.cached(ctx, symbol); ok {
		metrics.RecordFetch("cached")
		return price, nil
	}

	out, err := f.breaker.Execute(func() (interface{}, error) {
		return f.fetchWithRetry(ctx, symbol)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RecordFetch("open")
			return decimal.Zero, unavailable(symbol, "circuit open")
		}
		metrics.RecordFetch("unavailable")
		if !errors.Is(err, ErrPriceUnavailable) {
			err = fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, err)
		}
		return decimal.Zero, err
	}

	price := out.(decimal.Decimal)
	metrics.RecordFetch("ok")
	f.store(ctx, symbol, price)
	return price, nil
}

func (f *ResilientFeed) fetchWithRetry(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var price decimal.Decimal
	op := func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		p, err := f.next.FetchCurrentPrice(callCtx, symbol)
		if err == nil {
			price = p
			return nil
		}
		if ctx.Err() != nil || !temporary(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		f.log.WithError(err).WithFields(logrus.Fields{"symbol": symbol, "wait": wait}).Debug("retrying quote fetch")
	}
	b := backoff.WithContext(backoff.WithMaxRetries(f.newBackOff(), f.maxRetries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return decimal.Zero, err
	}
	return price, nil
}

func (f *ResilientFeed) cached(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	if f.cache == nil {
		return decimal.Zero, false
	}
	raw, err := f.cache.Get(ctx, quoteKeyPrefix+symbol).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			f.log.WithError(err).Debug("quote cache read failed")
		}
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return price, true
}

func (f *ResilientFeed) store(ctx context.Context, symbol string, price decimal.Decimal) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Set(ctx, quoteKeyPrefix+symbol, price.String(), f.cacheTTL).Err(); err != nil {
		f.log.WithError(err).Debug("quote cache write failed")
	}
}

// temporary treats timeouts and errors that say so as worth retrying.
func temporary(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}
