package event

import (
	"encoding/json"
	"fmt"
)

// Wire structs mirror the event payloads with decimal-string amounts so JSON
// consumers never see values that overflow a float64.

type collateralDepositedJSON struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

type loanBorrowedJSON struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

type loanRepaidJSON struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

type collateralWithdrawnJSON struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

type borrowerLiquidatedJSON struct {
	Borrower         string `json:"borrower"`
	Liquidator       string `json:"liquidator"`
	CollateralSeized string `json:"collateral_seized"`
	LoanAmount       string `json:"loan_amount"`
}

type envelopeJSON struct {
	EventID     string          `json:"event_id"`
	Sequence    int64           `json:"sequence"`
	EventType   string          `json:"event_type"`
	UserID      string          `json:"user_id"`
	TimestampUs int64           `json:"timestamp_us"`
	Payload     json.RawMessage `json:"payload"`
}

// Marshal encodes an envelope and its payload for publication and for the
// audit log's payload column.
func Marshal(env Envelope) ([]byte, error) {
	payload, err := marshalPayload(env.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeJSON{
		EventID:     env.EventID.String(),
		Sequence:    env.Sequence,
		EventType:   env.EventType.String(),
		UserID:      env.UserID.String(),
		TimestampUs: env.Timestamp.UnixMicro(),
		Payload:     payload,
	})
}

// MarshalPayload encodes just the payload body, without envelope context.
func MarshalPayload(e Event) ([]byte, error) {
	return marshalPayload(e)
}

func marshalPayload(e Event) ([]byte, error) {
	switch p := e.(type) {
	case *CollateralDeposited:
		return json.Marshal(collateralDepositedJSON{
			UserID: p.UserID.String(),
			Amount: p.Amount.Dec(),
		})
	case *LoanBorrowed:
		return json.Marshal(loanBorrowedJSON{
			UserID: p.UserID.String(),
			Amount: p.Amount.Dec(),
		})
	case *LoanRepaid:
		return json.Marshal(loanRepaidJSON{
			UserID: p.UserID.String(),
			Amount: p.Amount.Dec(),
		})
	case *CollateralWithdrawn:
		return json.Marshal(collateralWithdrawnJSON{
			UserID: p.UserID.String(),
			Amount: p.Amount.Dec(),
		})
	case *BorrowerLiquidated:
		return json.Marshal(borrowerLiquidatedJSON{
			Borrower:         p.Borrower.String(),
			Liquidator:       p.Liquidator.String(),
			CollateralSeized: p.CollateralSeized.Dec(),
			LoanAmount:       p.LoanAmount.Dec(),
		})
	default:
		return nil, fmt.Errorf("unknown event type %T", e)
	}
}
