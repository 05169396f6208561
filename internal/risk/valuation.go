package risk

import (
	"fmt"

	"github.com/holiman/uint256"
)

// CollateralValue returns the stable-unit value of a collateral amount at
// the given oracle price. Truncating division: values round down, the
// conservative direction for every check built on them.
func (p *Params) CollateralValue(collateral, price *uint256.Int) (*uint256.Int, error) {
	v, overflow := new(uint256.Int).MulOverflow(collateral, price)
	if overflow {
		return nil, fmt.Errorf("collateral valuation overflows: %s * %s", collateral.Dec(), price.Dec())
	}
	return v.Div(v, p.valueDivisor), nil
}

// MaxBorrow returns the largest loan the given collateral value supports:
// value * PercentageBase / CollateralizationRatio, rounded down.
func (p *Params) MaxBorrow(collateralValue *uint256.Int) *uint256.Int {
	m := new(uint256.Int).Mul(collateralValue, uint256.NewInt(PercentageBase))
	return m.Div(m, uint256.NewInt(p.CollateralizationRatio))
}

// BorrowAllowed reports whether taking a loan totalling amount is within the
// limit for the given collateral value. The check is the exact integer form
// amount * ratio <= value * base, avoiding the rounding of MaxBorrow.
func (p *Params) BorrowAllowed(amount, collateralValue *uint256.Int) bool {
	lhs, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(p.CollateralizationRatio))
	if overflow {
		return false
	}
	rhs, overflow := new(uint256.Int).MulOverflow(collateralValue, uint256.NewInt(PercentageBase))
	if overflow {
		// Limit side overflowing 256 bits cannot happen with validated
		// decimal scales; refuse rather than guess.
		return false
	}
	return !lhs.Gt(rhs)
}

// RequiredCollateralValue returns the collateral value below which a loan of
// the given size becomes liquidatable: loan * LiquidationThreshold / base.
func (p *Params) RequiredCollateralValue(loan *uint256.Int) *uint256.Int {
	r := new(uint256.Int).Mul(loan, uint256.NewInt(p.LiquidationThreshold))
	return r.Div(r, uint256.NewInt(PercentageBase))
}

// Liquidatable reports whether a position is eligible for liquidation:
// collateralValue * base < loan * threshold. Strict inequality: a position
// sitting exactly at the threshold is still healthy.
func (p *Params) Liquidatable(loan, collateralValue *uint256.Int) bool {
	lhs, overflow := new(uint256.Int).MulOverflow(collateralValue, uint256.NewInt(PercentageBase))
	if overflow {
		return false
	}
	rhs, overflow := new(uint256.Int).MulOverflow(loan, uint256.NewInt(p.LiquidationThreshold))
	if overflow {
		// A loan this size could never have passed the borrow check.
		return false
	}
	return lhs.Lt(rhs)
}
