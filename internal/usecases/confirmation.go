package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	domainerrors "metamarket.backend/internal/domain/errors"
)

// awaitReceipt waits for tx within timeout. An exceeded wait is Stuck, a
// failed receipt is TransactionRevert with the replayed reason when available.
func awaitReceipt(ctx context.Context, wallet Wallet, tx *types.Transaction, timeout time.Duration, what string) (*types.Receipt, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	receipt, err := wallet.WaitMined(waitCtx, tx)
	if err != nil {
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, domainerrors.Stuck(fmt.Sprintf("%s %s not confirmed within %s", what, tx.Hash().Hex(), timeout), err)
		}
		return nil, err
	}
	if receipt == nil {
		return nil, fmt.Errorf("%s %s: empty receipt", what, tx.Hash().Hex())
	}
	if receipt.Status == types.ReceiptStatusFailed {
		reason := what + " reverted"
		if decoded, ok := decodeRevertReason(wallet.ReplayRevert(ctx, tx, receipt)); ok {
			reason = decoded
		}
		return receipt, domainerrors.TransactionRevert(reason, nil)
	}
	return receipt, nil
}

// classify keeps taxonomy errors intact and wraps anything else with wrap
func classify(err error, wrap func(error) *domainerrors.AppError) error {
	if err == nil {
		return nil
	}
	var appErr *domainerrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return wrap(err)
}
