package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"LendLedger/internal/engine"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/query"
	"LendLedger/internal/risk"
	"LendLedger/internal/server"
	"LendLedger/internal/transfer"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// stubTransfer accepts every call, or fails every call when err is set.
type stubTransfer struct {
	err error
}

func (s *stubTransfer) Transfer(ctx context.Context, to uuid.UUID, amount *uint256.Int) error {
	return s.err
}

func (s *stubTransfer) TransferFrom(ctx context.Context, from, to uuid.UUID, amount *uint256.Int) error {
	return s.err
}

type fixture struct {
	handler  http.Handler
	oracle   *oracle.Fixed
	transfer *stubTransfer
	health   *observability.HealthChecker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	params := risk.Params{
		CollateralizationRatio: 150,
		LiquidationThreshold:   120,
	}
	if err := params.Validate(); err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		oracle:   &oracle.Fixed{Price: uint256.NewInt(2000)},
		transfer: &stubTransfer{},
		health:   observability.NewHealthChecker("postgres"),
	}
	eng := engine.New(params, f.oracle, f.transfer, uuid.New(), nil, nil, nil, zerolog.Nop())
	queries := query.NewService(eng, nil)
	srv := server.NewHTTPServer(":0", eng, queries, f.health, nil, zerolog.Nop())
	f.handler = srv.Handler()
	return f
}

func (f *fixture) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func amountBody(user uuid.UUID, amount string) string {
	return fmt.Sprintf(`{"user_id":%q,"amount":%q}`, user, amount)
}

// ============================================================================
// Test: operation endpoints
// ============================================================================

func TestHTTP_DepositBorrowRepay(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()

	w := f.post(t, "/v1/deposit", amountBody(user, "1"))
	if w.Code != http.StatusOK {
		t.Fatalf("deposit status = %d: %s", w.Code, w.Body)
	}
	var op struct {
		Sequence int64   `json:"sequence"`
		OpType   string  `json:"op_type"`
		Amount   string  `json:"amount"`
		Released *string `json:"released"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &op); err != nil {
		t.Fatal(err)
	}
	if op.OpType != "Deposit" || op.Amount != "1" || op.Sequence != 1 {
		t.Errorf("deposit response = %+v", op)
	}

	if w := f.post(t, "/v1/borrow", amountBody(user, "1000")); w.Code != http.StatusOK {
		t.Fatalf("borrow status = %d: %s", w.Code, w.Body)
	}

	w = f.post(t, "/v1/repay", amountBody(user, "1000"))
	if w.Code != http.StatusOK {
		t.Fatalf("repay status = %d: %s", w.Code, w.Body)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &op); err != nil {
		t.Fatal(err)
	}
	if op.Released == nil || *op.Released != "1" {
		t.Errorf("full repayment should report released collateral, got %+v", op.Released)
	}
}

func TestHTTP_ErrorStatuses(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()

	if w := f.post(t, "/v1/deposit", amountBody(user, "1")); w.Code != http.StatusOK {
		t.Fatalf("deposit: %d", w.Code)
	}

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"malformed json", "/v1/deposit", `{"user_id":`, http.StatusBadRequest},
		{"bad uuid", "/v1/deposit", `{"user_id":"nope","amount":"1"}`, http.StatusBadRequest},
		{"bad amount", "/v1/deposit", amountBody(user, "-3"), http.StatusBadRequest},
		{"zero amount", "/v1/deposit", amountBody(user, "0"), http.StatusBadRequest},
		{"borrow over limit", "/v1/borrow", amountBody(user, "1334"), http.StatusUnprocessableEntity},
		{"repay without loan", "/v1/repay", amountBody(user, "1"), http.StatusUnprocessableEntity},
		{
			"liquidate healthy",
			"/v1/liquidate",
			fmt.Sprintf(`{"liquidator_id":%q,"borrower_id":%q}`, uuid.New(), user),
			http.StatusNotFound, // no loan outstanding
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.post(t, tc.path, tc.body)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tc.want, w.Body)
			}
		})
	}
}

func TestHTTP_LiquidateHealthyConflicts(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	if w := f.post(t, "/v1/deposit", amountBody(user, "1")); w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}
	if w := f.post(t, "/v1/borrow", amountBody(user, "1000")); w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}

	body := fmt.Sprintf(`{"liquidator_id":%q,"borrower_id":%q}`, uuid.New(), user)
	if w := f.post(t, "/v1/liquidate", body); w.Code != http.StatusConflict {
		t.Errorf("healthy liquidation status = %d, want 409: %s", w.Code, w.Body)
	}
}

func TestHTTP_OracleDown(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	if w := f.post(t, "/v1/deposit", amountBody(user, "1")); w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}

	f.oracle.Price = nil
	if w := f.post(t, "/v1/borrow", amountBody(user, "100")); w.Code != http.StatusServiceUnavailable {
		t.Errorf("borrow without price status = %d, want 503", w.Code)
	}
}

func TestHTTP_TransferDown(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	if w := f.post(t, "/v1/deposit", amountBody(user, "1")); w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}

	f.transfer.err = fmt.Errorf("payout: %w", transfer.ErrTransferFailed)
	if w := f.post(t, "/v1/borrow", amountBody(user, "100")); w.Code != http.StatusBadGateway {
		t.Errorf("borrow with failing payout status = %d, want 502", w.Code)
	}
}

// ============================================================================
// Test: account view
// ============================================================================

func TestHTTP_GetAccount(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	if w := f.post(t, "/v1/deposit", amountBody(user, "1")); w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}
	if w := f.post(t, "/v1/borrow", amountBody(user, "1000")); w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}

	w := f.get(t, "/v1/accounts/"+user.String())
	if w.Code != http.StatusOK {
		t.Fatalf("account status = %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Collateral      string  `json:"collateral"`
		Loan            string  `json:"loan"`
		CollateralValue *string `json:"collateral_value"`
		MaxBorrow       *string `json:"max_borrow"`
		Liquidatable    bool    `json:"liquidatable"`
		AsOfSequence    int64   `json:"as_of_sequence"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Collateral != "1" || resp.Loan != "1000" {
		t.Errorf("balances = %s/%s", resp.Collateral, resp.Loan)
	}
	if resp.CollateralValue == nil || *resp.CollateralValue != "2000" {
		t.Errorf("collateral_value = %v", resp.CollateralValue)
	}
	if resp.MaxBorrow == nil || *resp.MaxBorrow != "1333" {
		t.Errorf("max_borrow = %v", resp.MaxBorrow)
	}
	if resp.Liquidatable {
		t.Error("healthy account flagged liquidatable")
	}
	if resp.AsOfSequence != 2 {
		t.Errorf("as_of_sequence = %d, want 2", resp.AsOfSequence)
	}
}

func TestHTTP_GetAccountBadID(t *testing.T) {
	f := newFixture(t)
	if w := f.get(t, "/v1/accounts/not-a-uuid"); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// ============================================================================
// Test: health endpoints
// ============================================================================

func TestHTTP_Health(t *testing.T) {
	f := newFixture(t)

	if w := f.get(t, "/healthz"); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	if w := f.get(t, "/readyz"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before conditions = %d, want 503", w.Code)
	}

	f.health.SetCondition("postgres", true)
	if w := f.get(t, "/readyz"); w.Code != http.StatusOK {
		t.Errorf("readyz after conditions = %d, want 200", w.Code)
	}
}
