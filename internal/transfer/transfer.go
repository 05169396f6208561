package transfer

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ErrTransferFailed is returned when the stable-asset service rejects or
// fails a transfer. The enclosing ledger operation aborts; there is no retry
// in this layer.
var ErrTransferFailed = errors.New("transfer failed")

// StableAssetTransfer moves stable-asset balances on the engine's behalf.
// Transfer pushes funds from the engine's own account to a user;
// TransferFrom pulls funds from a user into another account. Both are
// synchronous and fallible.
type StableAssetTransfer interface {
	Transfer(ctx context.Context, to uuid.UUID, amount *uint256.Int) error
	TransferFrom(ctx context.Context, from, to uuid.UUID, amount *uint256.Int) error
}
