package risk

import (
	"fmt"

	"github.com/holiman/uint256"
)

// PercentageBase is the denominator for the ratio parameters: a
// collateralization ratio of 150 means 150%.
const PercentageBase = 100

const (
	DefaultCollateralizationRatio = 150
	DefaultLiquidationThreshold   = 120
	DefaultCollateralDecimals     = 18
)

// Params holds the risk parameters and the decimal scales of the three
// quantities the valuation combines. The oracle's decimal precision is an
// explicit parameter rather than an assumed constant: a mismatch between the
// feed's native precision and the configured scale silently corrupts every
// USD valuation, so Validate must run before the params are used.
type Params struct {
	// CollateralizationRatio is the minimum collateral-value-to-loan ratio
	// (percent) required at the moment a loan is taken.
	CollateralizationRatio uint64

	// LiquidationThreshold is the collateral-value-to-loan ratio (percent)
	// below which a position becomes liquidatable.
	LiquidationThreshold uint64

	// CollateralDecimals is the base-unit precision of the collateral asset
	// (18 for wei-denominated assets).
	CollateralDecimals uint32

	// OracleDecimals is the fixed-point precision of the oracle price: the
	// feed reports the stable value of one whole collateral unit scaled by
	// 10^OracleDecimals.
	OracleDecimals uint32

	// StableDecimals is the base-unit precision of the stable asset.
	StableDecimals uint32

	// valueDivisor = 10^(CollateralDecimals + OracleDecimals - StableDecimals),
	// computed by Validate.
	valueDivisor *uint256.Int
}

func DefaultParams() Params {
	return Params{
		CollateralizationRatio: DefaultCollateralizationRatio,
		LiquidationThreshold:   DefaultLiquidationThreshold,
		CollateralDecimals:     DefaultCollateralDecimals,
	}
}

// Validate checks parameter sanity and precomputes the valuation divisor.
func (p *Params) Validate() error {
	if p.CollateralizationRatio <= PercentageBase {
		return fmt.Errorf("collateralization ratio %d must exceed %d", p.CollateralizationRatio, PercentageBase)
	}
	if p.LiquidationThreshold < PercentageBase {
		return fmt.Errorf("liquidation threshold %d must be at least %d", p.LiquidationThreshold, PercentageBase)
	}
	if p.LiquidationThreshold >= p.CollateralizationRatio {
		return fmt.Errorf("liquidation threshold %d must be below collateralization ratio %d",
			p.LiquidationThreshold, p.CollateralizationRatio)
	}
	if p.CollateralDecimals > 30 || p.OracleDecimals > 30 || p.StableDecimals > 30 {
		return fmt.Errorf("decimal scales out of range (collateral=%d, oracle=%d, stable=%d)",
			p.CollateralDecimals, p.OracleDecimals, p.StableDecimals)
	}

	exp := int64(p.CollateralDecimals) + int64(p.OracleDecimals) - int64(p.StableDecimals)
	if exp < 0 {
		return fmt.Errorf("stable decimals %d exceed collateral+oracle decimals %d",
			p.StableDecimals, p.CollateralDecimals+p.OracleDecimals)
	}

	p.valueDivisor = pow10(uint64(exp))
	return nil
}

func pow10(exp uint64) *uint256.Int {
	ten := uint256.NewInt(10)
	return new(uint256.Int).Exp(ten, uint256.NewInt(exp))
}
