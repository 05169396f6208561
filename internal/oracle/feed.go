package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Feed is a last-value price cache fed by a NATS subject. Only the latest
// reading matters for risk checks, so it uses a plain core-NATS subscription
// rather than a JetStream consumer: missed ticks are superseded by the next
// one, and there is nothing to replay.
type Feed struct {
	mu        sync.RWMutex
	price     *uint256.Int
	updatedAt time.Time

	maxAge time.Duration
	sub    *nats.Subscription
	log    zerolog.Logger
	now    func() time.Time
}

// NewFeed creates a Feed that rejects readings older than maxAge.
// maxAge <= 0 disables the staleness window.
func NewFeed(maxAge time.Duration, log zerolog.Logger) *Feed {
	return &Feed{
		maxAge: maxAge,
		log:    log,
		now:    time.Now,
	}
}

// priceUpdateJSON is the wire format published by the price feed.
type priceUpdateJSON struct {
	Price       string `json:"price"` // decimal string, oracle-decimals scale
	TimestampUs int64  `json:"timestamp_us"`
}

// ParsePriceUpdate decodes a price message. Non-positive and malformed
// prices are rejected here so they can never enter the cache.
func ParsePriceUpdate(data []byte) (*uint256.Int, int64, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, 0, fmt.Errorf("parse price update: %w", err)
	}
	price, err := uint256.FromDecimal(j.Price)
	if err != nil {
		return nil, 0, fmt.Errorf("parse price %q: %w", j.Price, err)
	}
	if price.IsZero() {
		return nil, 0, fmt.Errorf("non-positive price %q", j.Price)
	}
	return price, j.TimestampUs, nil
}

// Subscribe attaches the feed to a NATS subject.
func (f *Feed) Subscribe(nc *nats.Conn, subject string) error {
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		price, _, err := ParsePriceUpdate(msg.Data)
		if err != nil {
			f.log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping bad price update")
			return
		}
		f.ApplyUpdate(price, f.now())
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	f.sub = sub
	f.log.Info().Str("subject", subject).Dur("max_age", f.maxAge).Msg("price feed subscribed")
	return nil
}

// ApplyUpdate stores a validated reading. receivedAt is the local receive
// time; staleness is judged against it, not against the producer timestamp.
func (f *Feed) ApplyUpdate(price *uint256.Int, receivedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = new(uint256.Int).Set(price)
	f.updatedAt = receivedAt
}

// LatestPrice implements PriceOracle.
func (f *Feed) LatestPrice(ctx context.Context) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.price == nil || f.price.IsZero() {
		return nil, fmt.Errorf("no reading received yet: %w", ErrPriceUnavailable)
	}
	if f.maxAge > 0 {
		if age := f.now().Sub(f.updatedAt); age > f.maxAge {
			return nil, fmt.Errorf("reading is %s old (max %s): %w", age, f.maxAge, ErrPriceUnavailable)
		}
	}
	return new(uint256.Int).Set(f.price), nil
}

// Stop unsubscribes the feed.
func (f *Feed) Stop() {
	if f.sub != nil {
		_ = f.sub.Unsubscribe()
	}
}
