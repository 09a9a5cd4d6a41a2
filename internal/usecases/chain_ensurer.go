package usecases

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"metamarket.backend/internal/domain/entities"
	domainerrors "metamarket.backend/internal/domain/errors"
	"metamarket.backend/pkg/logger"
)

// Wallet is the signing account the purchase flow spends from. Sends name
// their chain; the active chain only mirrors the last switch.
type Wallet interface {
	Address() string
	ActiveChain() uint64
	SwitchChain(ctx context.Context, chainID uint64) error
	AddChain(ctx context.Context, spec entities.ChainSpec) error
	Transact(ctx context.Context, chainID uint64, contractAddress string, parsedABI abi.ABI, method string, args ...interface{}) (*types.Transaction, error)
	SendTransaction(ctx context.Context, chainID uint64, req *entities.TransactionRequest) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	ReplayRevert(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) error
}

// ChainEnsurer moves a wallet onto a catalog chain, registering it first when
// the wallet does not know it yet.
type ChainEnsurer struct {
	catalog *entities.ChainCatalog
}

func NewChainEnsurer(catalog *entities.ChainCatalog) *ChainEnsurer {
	return &ChainEnsurer{catalog: catalog}
}

// EnsureChain leaves chainID registered with the wallet and switched to.
// It is a no-op when the wallet is already on chainID.
func (e *ChainEnsurer) EnsureChain(ctx context.Context, wallet Wallet, chainID uint64) error {
	if wallet.ActiveChain() == chainID {
		return nil
	}

	err := wallet.SwitchChain(ctx, chainID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domainerrors.ErrUnrecognizedChain) {
		return domainerrors.ChainSwitchFailure(fmt.Sprintf("failed to switch to chain %d", chainID), err)
	}

	spec, ok := e.catalog.Get(chainID)
	if !ok {
		return domainerrors.ChainSwitchFailure(fmt.Sprintf("chain %d is not in the catalog", chainID), err)
	}
	logger.Info(ctx, "Registering chain with wallet",
		zap.Uint64("chain_id", chainID),
		zap.String("chain_name", spec.Name),
	)
	if err := wallet.AddChain(ctx, *spec); err != nil {
		return domainerrors.ChainSwitchFailure(fmt.Sprintf("failed to add chain %d", chainID), err)
	}
	if err := wallet.SwitchChain(ctx, chainID); err != nil {
		return domainerrors.ChainSwitchFailure(fmt.Sprintf("failed to switch to chain %d", chainID), err)
	}
	return nil
}
