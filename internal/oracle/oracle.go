package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// ErrPriceUnavailable covers every way an oracle read can fail: no reading
// yet, a non-positive reading, a stale reading, or a transport failure.
// The engine treats any of these as fatal to the triggering operation.
var ErrPriceUnavailable = errors.New("price unavailable")

// PriceOracle supplies the current stable-unit price of one whole collateral
// unit, scaled by the configured oracle decimals.
type PriceOracle interface {
	LatestPrice(ctx context.Context) (*uint256.Int, error)
}

// Fixed is a PriceOracle pinned to a single price. Used by tools and tests.
type Fixed struct {
	Price *uint256.Int
}

func (f *Fixed) LatestPrice(ctx context.Context) (*uint256.Int, error) {
	if f.Price == nil || f.Price.IsZero() {
		return nil, fmt.Errorf("fixed oracle has no price: %w", ErrPriceUnavailable)
	}
	return new(uint256.Int).Set(f.Price), nil
}
