package usecases

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"metamarket.backend/internal/domain/entities"
	domainerrors "metamarket.backend/internal/domain/errors"
	"metamarket.backend/pkg/logger"
)

// PurchaseFinalizer settles a purchase on the product's own chain
type PurchaseFinalizer struct {
	gateway        ChainGateway
	ensurer        *ChainEnsurer
	confirmTimeout time.Duration
}

func NewPurchaseFinalizer(gateway ChainGateway, ensurer *ChainEnsurer, confirmTimeout time.Duration) *PurchaseFinalizer {
	return &PurchaseFinalizer{gateway: gateway, ensurer: ensurer, confirmTimeout: confirmTimeout}
}

// Finalize switches to the product chain, approves the marketplace when the
// allowance is short and calls purchaseProduct. Bridged state is left untouched.
func (f *PurchaseFinalizer) Finalize(
	ctx context.Context,
	wallet Wallet,
	product *entities.Product,
	buyer string,
	amount *big.Int,
	emit EmitFunc,
) (*entities.FinalizeResult, error) {
	if emit == nil {
		emit = func(entities.ProgressEvent) {}
	}
	chainID := product.ChainID
	result := &entities.FinalizeResult{}

	if wallet.ActiveChain() != chainID {
		emit(entities.ProgressEvent{Step: StepSwitchChain, ChainID: chainID})
		if err := f.ensurer.EnsureChain(ctx, wallet, chainID); err != nil {
			return result, err
		}
	}

	marketplace, err := f.gateway.Marketplace(ctx, chainID)
	if err != nil {
		return result, err
	}
	tokens, err := f.gateway.Tokens(ctx, chainID)
	if err != nil {
		return result, err
	}

	approvalHash, err := approveIfNeeded(ctx, wallet, tokens, product.Currency, marketplace.Address(), amount, f.confirmTimeout, chainID, emit)
	result.ApprovalTxHash = approvalHash
	result.Approved = approvalHash != ""
	if err != nil {
		return result, err
	}

	tx, err := wallet.Transact(ctx, chainID, marketplace.Address(), marketplaceABI, "purchaseProduct", new(big.Int).SetUint64(product.ID))
	if err != nil {
		if reason, ok := decodeRevertReason(err); ok {
			return result, domainerrors.TransactionRevert(reason, err)
		}
		return result, domainerrors.TransferFailure("failed to submit purchase", err)
	}
	result.PurchaseTxHash = tx.Hash().Hex()
	emit(entities.ProgressEvent{Step: StepPurchaseTx, ChainID: chainID, TxHash: result.PurchaseTxHash})

	if _, err := awaitReceipt(ctx, wallet, tx, f.confirmTimeout, "purchase"); err != nil {
		return result, classify(err, func(cause error) *domainerrors.AppError {
			return domainerrors.TransferFailure(fmt.Sprintf("purchase %s was not confirmed", result.PurchaseTxHash), cause)
		})
	}

	logger.Info(ctx, "Purchase confirmed",
		zap.Uint64("product_id", product.ID),
		zap.Uint64("chain_id", chainID),
		zap.String("tx_hash", result.PurchaseTxHash),
		zap.Bool("approved", result.Approved),
	)
	return result, nil
}
