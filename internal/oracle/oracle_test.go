package oracle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"LendLedger/internal/oracle"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// ============================================================================
// Test: price update parsing
// ============================================================================

func TestParsePriceUpdate(t *testing.T) {
	price, ts, err := oracle.ParsePriceUpdate([]byte(`{"price":"2000","timestamp_us":1700000000000000}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !price.Eq(uint256.NewInt(2000)) {
		t.Errorf("price = %s, want 2000", price.Dec())
	}
	if ts != 1700000000000000 {
		t.Errorf("timestamp = %d", ts)
	}
}

func TestParsePriceUpdate_Rejects(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"malformed json", `{"price":`},
		{"empty price", `{"price":"","timestamp_us":1}`},
		{"non-numeric price", `{"price":"abc","timestamp_us":1}`},
		{"negative price", `{"price":"-5","timestamp_us":1}`},
		{"zero price", `{"price":"0","timestamp_us":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := oracle.ParsePriceUpdate([]byte(tc.data)); err == nil {
				t.Errorf("%s should be rejected", tc.data)
			}
		})
	}
}

// ============================================================================
// Test: Feed cache
// ============================================================================

func TestFeed_NoReading(t *testing.T) {
	f := oracle.NewFeed(0, zerolog.Nop())
	if _, err := f.LatestPrice(context.Background()); !errors.Is(err, oracle.ErrPriceUnavailable) {
		t.Fatalf("err = %v, want ErrPriceUnavailable", err)
	}
}

func TestFeed_LatestPriceReturnsCopy(t *testing.T) {
	f := oracle.NewFeed(0, zerolog.Nop())
	f.ApplyUpdate(uint256.NewInt(2000), time.Now())

	got, err := f.LatestPrice(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got.AddUint64(got, 500)

	again, err := f.LatestPrice(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !again.Eq(uint256.NewInt(2000)) {
		t.Errorf("cached price mutated: %s", again.Dec())
	}
}

func TestFeed_StaleReading(t *testing.T) {
	f := oracle.NewFeed(time.Second, zerolog.Nop())
	f.ApplyUpdate(uint256.NewInt(2000), time.Now().Add(-2*time.Second))

	if _, err := f.LatestPrice(context.Background()); !errors.Is(err, oracle.ErrPriceUnavailable) {
		t.Fatalf("err = %v, want ErrPriceUnavailable for stale reading", err)
	}

	// A fresh update clears the condition.
	f.ApplyUpdate(uint256.NewInt(2100), time.Now())
	price, err := f.LatestPrice(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !price.Eq(uint256.NewInt(2100)) {
		t.Errorf("price = %s, want 2100", price.Dec())
	}
}

func TestFeed_CancelledContext(t *testing.T) {
	f := oracle.NewFeed(0, zerolog.Nop())
	f.ApplyUpdate(uint256.NewInt(2000), time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.LatestPrice(ctx); !errors.Is(err, oracle.ErrPriceUnavailable) {
		t.Fatalf("err = %v, want ErrPriceUnavailable", err)
	}
}

// ============================================================================
// Test: Fixed oracle
// ============================================================================

func TestFixed(t *testing.T) {
	f := &oracle.Fixed{Price: uint256.NewInt(42)}
	price, err := f.LatestPrice(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !price.Eq(uint256.NewInt(42)) {
		t.Errorf("price = %s, want 42", price.Dec())
	}

	empty := &oracle.Fixed{}
	if _, err := empty.LatestPrice(context.Background()); !errors.Is(err, oracle.ErrPriceUnavailable) {
		t.Fatalf("err = %v, want ErrPriceUnavailable", err)
	}
}
