package usecases

import (
	"context"
	"math/big"

	"go.uber.org/zap"

	"metamarket.backend/internal/domain/entities"
	domainerrors "metamarket.backend/internal/domain/errors"
	"metamarket.backend/pkg/logger"
)

// BalanceResolver compares a buyer's settlement asset balance to a required amount
type BalanceResolver struct{}

func NewBalanceResolver() *BalanceResolver {
	return &BalanceResolver{}
}

// Resolve reads balanceOf(buyer) on the chain tokens is bound to
func (r *BalanceResolver) Resolve(ctx context.Context, tokens TokenReader, token, buyer string, required *big.Int) (*entities.BalanceCheck, error) {
	if required == nil {
		required = new(big.Int)
	}
	balance, err := tokens.BalanceOf(ctx, token, buyer)
	if err != nil {
		return nil, domainerrors.ReadFailure("failed to read settlement balance", err)
	}
	check := &entities.BalanceCheck{
		Sufficient: balance.Cmp(required) >= 0,
		Balance:    balance,
		Required:   new(big.Int).Set(required),
	}
	logger.Debug(ctx, "Resolved settlement balance",
		zap.String("token", token),
		zap.String("balance", balance.String()),
		zap.String("required", required.String()),
		zap.Bool("sufficient", check.Sufficient),
	)
	return check, nil
}
