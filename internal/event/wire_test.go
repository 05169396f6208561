package event_test

import (
	"encoding/json"
	"testing"
	"time"

	"LendLedger/internal/event"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ============================================================================
// Test: envelope marshaling
// ============================================================================

func TestMarshal_Envelope(t *testing.T) {
	user := uuid.New()
	eventID := uuid.New()
	ts := time.UnixMicro(1700000000000000).UTC()

	// A 2^130-scale amount proves the wire format never loses precision to
	// a float representation.
	big, err := uint256.FromDecimal("1361129467683753853853498429727072845824")
	if err != nil {
		t.Fatal(err)
	}

	env := event.Envelope{
		EventID:   eventID,
		Sequence:  7,
		EventType: event.EventTypeCollateralDeposited,
		UserID:    user,
		Timestamp: ts,
		Payload:   &event.CollateralDeposited{UserID: user, Amount: big},
	}

	data, err := event.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded struct {
		EventID     string `json:"event_id"`
		Sequence    int64  `json:"sequence"`
		EventType   string `json:"event_type"`
		UserID      string `json:"user_id"`
		TimestampUs int64  `json:"timestamp_us"`
		Payload     struct {
			UserID string `json:"user_id"`
			Amount string `json:"amount"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.EventID != eventID.String() {
		t.Errorf("event_id = %s", decoded.EventID)
	}
	if decoded.Sequence != 7 {
		t.Errorf("sequence = %d", decoded.Sequence)
	}
	if decoded.EventType != "CollateralDeposited" {
		t.Errorf("event_type = %s", decoded.EventType)
	}
	if decoded.TimestampUs != 1700000000000000 {
		t.Errorf("timestamp_us = %d", decoded.TimestampUs)
	}
	if decoded.Payload.Amount != big.Dec() {
		t.Errorf("payload amount = %s, want %s", decoded.Payload.Amount, big.Dec())
	}
	if decoded.Payload.UserID != user.String() {
		t.Errorf("payload user_id = %s", decoded.Payload.UserID)
	}
}

func TestMarshalPayload_Liquidation(t *testing.T) {
	borrower, liquidator := uuid.New(), uuid.New()

	data, err := event.MarshalPayload(&event.BorrowerLiquidated{
		Borrower:         borrower,
		Liquidator:       liquidator,
		CollateralSeized: uint256.NewInt(1000),
		LoanAmount:       uint256.NewInt(600),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["borrower"] != borrower.String() {
		t.Errorf("borrower = %s", decoded["borrower"])
	}
	if decoded["liquidator"] != liquidator.String() {
		t.Errorf("liquidator = %s", decoded["liquidator"])
	}
	if decoded["collateral_seized"] != "1000" {
		t.Errorf("collateral_seized = %s", decoded["collateral_seized"])
	}
	if decoded["loan_amount"] != "600" {
		t.Errorf("loan_amount = %s", decoded["loan_amount"])
	}
}

func TestMarshalPayload_UnknownType(t *testing.T) {
	if _, err := event.MarshalPayload(nil); err == nil {
		t.Error("nil payload should fail to marshal")
	}
}

func TestEventType_String(t *testing.T) {
	cases := map[event.EventType]string{
		event.EventTypeCollateralDeposited: "CollateralDeposited",
		event.EventTypeLoanBorrowed:        "LoanBorrowed",
		event.EventTypeLoanRepaid:          "LoanRepaid",
		event.EventTypeCollateralWithdrawn: "CollateralWithdrawn",
		event.EventTypeBorrowerLiquidated:  "BorrowerLiquidated",
		event.EventType(99):                "Unknown",
	}
	for et, want := range cases {
		if got := et.String(); got != want {
			t.Errorf("EventType(%d).String() = %s, want %s", et, got, want)
		}
	}
}
