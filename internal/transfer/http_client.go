package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Client is an HTTP adapter to the external token-transfer service.
// Failures surface immediately as ErrTransferFailed; retries, if wanted,
// belong to the caller of the enclosing ledger operation.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type transferRequestJSON struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Amount string `json:"amount"` // decimal string, stable base units
}

func (c *Client) Transfer(ctx context.Context, to uuid.UUID, amount *uint256.Int) error {
	return c.post(ctx, "/v1/transfer", transferRequestJSON{
		To:     to.String(),
		Amount: amount.Dec(),
	})
}

func (c *Client) TransferFrom(ctx context.Context, from, to uuid.UUID, amount *uint256.Int) error {
	return c.post(ctx, "/v1/transfer_from", transferRequestJSON{
		From:   from.String(),
		To:     to.String(),
		Amount: amount.Dec(),
	})
}

func (c *Client) post(ctx context.Context, path string, body transferRequestJSON) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", ErrTransferFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrTransferFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Read a bounded slice of the body for the error reason.
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned %d: %s", ErrTransferFailed, path, resp.StatusCode, reason)
	}
	return nil
}
