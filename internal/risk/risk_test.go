package risk_test

import (
	"testing"

	"LendLedger/internal/risk"

	"github.com/holiman/uint256"
)

// params with all decimal scales at zero, so test quantities are plain
// integers and the valuation divisor is 1.
func plainParams(t *testing.T) risk.Params {
	t.Helper()
	p := risk.Params{
		CollateralizationRatio: 150,
		LiquidationThreshold:   120,
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	return p
}

func amt(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// ============================================================================
// Test: Params validation
// ============================================================================

func TestParams_ValidateDefaults(t *testing.T) {
	p := risk.DefaultParams()
	if err := p.Validate(); err != nil {
		t.Fatalf("default params should validate: %v", err)
	}
}

func TestParams_ValidateRejectsBadRatios(t *testing.T) {
	cases := []struct {
		name      string
		ratio     uint64
		threshold uint64
	}{
		{"ratio at base", 100, 90},
		{"ratio below base", 80, 70},
		{"threshold below base", 150, 99},
		{"threshold equals ratio", 150, 150},
		{"threshold above ratio", 150, 160},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := risk.Params{
				CollateralizationRatio: tc.ratio,
				LiquidationThreshold:   tc.threshold,
			}
			if err := p.Validate(); err == nil {
				t.Errorf("ratio=%d threshold=%d should be rejected", tc.ratio, tc.threshold)
			}
		})
	}
}

func TestParams_ValidateRejectsNegativeDivisorExponent(t *testing.T) {
	p := risk.Params{
		CollateralizationRatio: 150,
		LiquidationThreshold:   120,
		CollateralDecimals:     2,
		OracleDecimals:         2,
		StableDecimals:         6,
	}
	if err := p.Validate(); err == nil {
		t.Error("stable decimals exceeding collateral+oracle should be rejected")
	}
}

// ============================================================================
// Test: valuation
// ============================================================================

func TestCollateralValue_ScalesDecimals(t *testing.T) {
	// 1 whole collateral unit at 18 decimals, price with 0 decimals, stable
	// with 18 decimals: the divisor is 10^(18+0-18) = 1, so the value is the
	// raw product.
	p := risk.Params{
		CollateralizationRatio: 150,
		LiquidationThreshold:   120,
		CollateralDecimals:     18,
		OracleDecimals:         0,
		StableDecimals:         18,
	}
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}

	one := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(18))
	value, err := p.CollateralValue(one, amt(2000))
	if err != nil {
		t.Fatal(err)
	}

	want := new(uint256.Int).Mul(one, amt(2000))
	if !value.Eq(want) {
		t.Errorf("value = %s, want %s", value.Dec(), want.Dec())
	}
}

func TestCollateralValue_Overflow(t *testing.T) {
	p := plainParams(t)
	max := new(uint256.Int).SetAllOne()
	if _, err := p.CollateralValue(max, amt(2)); err == nil {
		t.Error("overflowing valuation should error")
	}
}

func TestMaxBorrow(t *testing.T) {
	p := plainParams(t)

	// value 2000 at 150% -> floor(2000*100/150) = 1333
	got := p.MaxBorrow(amt(2000))
	if !got.Eq(amt(1333)) {
		t.Errorf("max borrow = %s, want 1333", got.Dec())
	}
}

func TestBorrowAllowed(t *testing.T) {
	p := plainParams(t)
	value := amt(2000)

	cases := []struct {
		loan uint64
		want bool
	}{
		{1300, true},
		{1333, true},  // exactly at the limit
		{1334, false}, // one past the limit
		{2000, false},
	}
	for _, tc := range cases {
		if got := p.BorrowAllowed(amt(tc.loan), value); got != tc.want {
			t.Errorf("BorrowAllowed(%d, 2000) = %v, want %v", tc.loan, got, tc.want)
		}
	}
}

func TestLiquidatable(t *testing.T) {
	p := plainParams(t)
	loan := amt(1000)

	cases := []struct {
		value uint64
		want  bool
	}{
		{1100, true},  // 1100*100 < 1000*120
		{1199, true},  // just below the threshold
		{1200, false}, // exactly at the threshold is still healthy
		{1500, false},
	}
	for _, tc := range cases {
		if got := p.Liquidatable(loan, amt(tc.value)); got != tc.want {
			t.Errorf("Liquidatable(1000, %d) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestRequiredCollateralValue(t *testing.T) {
	p := plainParams(t)
	got := p.RequiredCollateralValue(amt(1000))
	if !got.Eq(amt(1200)) {
		t.Errorf("required value = %s, want 1200", got.Dec())
	}
}
