package usecases

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"metamarket.backend/internal/domain/entities"
	domainerrors "metamarket.backend/internal/domain/errors"
	"metamarket.backend/pkg/logger"
)

const nativeTokenPlaceholder = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// Step names reported in progress events
const (
	StepSwitchChain   = "switch_chain"
	StepApprove       = "approve"
	StepRateUpdate    = "rate_update"
	StepBridgeTx      = "bridge_tx"
	StepAwaitTransfer = "await_transfer"
	StepPurchaseTx    = "purchase_tx"
	StepVerify        = "verify"
)

// EmitFunc receives progress from the components of a purchase attempt
type EmitFunc func(entities.ProgressEvent)

// RateUpdatePolicy decides whether a step may proceed after the aggregator
// lowered its guaranteed minimum output.
type RateUpdatePolicy func(ctx context.Context, step entities.RouteStep, planned, refreshed *big.Int) bool

// RejectRateUpdates refuses any worse exchange rate
func RejectRateUpdates(context.Context, entities.RouteStep, *big.Int, *big.Int) bool { return false }

// AcceptRateUpdates takes whatever rate the aggregator refreshed to
func AcceptRateUpdates(context.Context, entities.RouteStep, *big.Int, *big.Int) bool { return true }

// BridgeExecutorConfig bounds the waits of a bridge execution
type BridgeExecutorConfig struct {
	ConfirmationTimeout time.Duration
	StatusPollInterval  time.Duration
	AcceptRateUpdate    RateUpdatePolicy
}

// BridgeExecutor runs the steps of a route with the service wallet
type BridgeExecutor struct {
	gateway          ChainGateway
	aggregator       Aggregator
	ensurer          *ChainEnsurer
	acceptRateUpdate RateUpdatePolicy
	confirmTimeout   time.Duration
	pollInterval     time.Duration
}

func NewBridgeExecutor(gateway ChainGateway, aggregator Aggregator, ensurer *ChainEnsurer, cfg BridgeExecutorConfig) *BridgeExecutor {
	policy := cfg.AcceptRateUpdate
	if policy == nil {
		policy = RejectRateUpdates
	}
	interval := cfg.StatusPollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &BridgeExecutor{
		gateway:          gateway,
		aggregator:       aggregator,
		ensurer:          ensurer,
		acceptRateUpdate: policy,
		confirmTimeout:   cfg.ConfirmationTimeout,
		pollInterval:     interval,
	}
}

// Execute runs every step in order and returns the submitted transaction hashes.
// Partial progress is not rolled back.
func (e *BridgeExecutor) Execute(ctx context.Context, wallet Wallet, route *entities.Route, emit EmitFunc) ([]string, error) {
	if route == nil || len(route.Steps) == 0 {
		return nil, domainerrors.NoRouteFound("route has no steps")
	}
	if emit == nil {
		emit = func(entities.ProgressEvent) {}
	}

	hashes := make([]string, 0, len(route.Steps))
	for i := range route.Steps {
		hash, err := e.executeStep(ctx, wallet, route.Steps[i], emit)
		if hash != "" {
			hashes = append(hashes, hash)
		}
		if err != nil {
			logger.Warn(ctx, "Bridge step failed",
				zap.String("route_id", route.ID),
				zap.Int("step", i),
				zap.Error(err),
			)
			return hashes, err
		}
	}
	return hashes, nil
}

func (e *BridgeExecutor) executeStep(ctx context.Context, wallet Wallet, step entities.RouteStep, emit EmitFunc) (string, error) {
	fromChain := step.Action.FromChainID

	if wallet.ActiveChain() != fromChain {
		emit(entities.ProgressEvent{Step: StepSwitchChain, ChainID: fromChain})
		if err := e.ensurer.EnsureChain(ctx, wallet, fromChain); err != nil {
			return "", err
		}
	}

	if err := e.ensureAllowance(ctx, wallet, step, emit); err != nil {
		return "", err
	}

	refreshed, err := e.aggregator.StepTransaction(ctx, step)
	if err != nil {
		return "", classify(err, func(cause error) *domainerrors.AppError {
			return domainerrors.TransferFailure("failed to prepare bridge transaction", cause)
		})
	}
	if refreshed == nil || refreshed.TransactionRequest == nil {
		return "", domainerrors.TransferFailure("aggregator returned no transaction for step "+step.ID, nil)
	}

	planned, updated := step.Estimate.ToAmountMin, refreshed.Estimate.ToAmountMin
	if planned != nil && updated != nil && updated.Cmp(planned) < 0 {
		emit(entities.ProgressEvent{
			Step:    StepRateUpdate,
			ChainID: fromChain,
			Message: fmt.Sprintf("minimum output changed from %s to %s", planned, updated),
		})
		if !e.acceptRateUpdate(ctx, step, planned, updated) {
			return "", domainerrors.TransferFailure(fmt.Sprintf("exchange rate update rejected: minimum output dropped from %s to %s", planned, updated), nil)
		}
	}

	txReq := *refreshed.TransactionRequest
	if txReq.ChainID == 0 {
		txReq.ChainID = fromChain
	}
	tx, err := wallet.SendTransaction(ctx, fromChain, &txReq)
	if err != nil {
		if reason, ok := decodeRevertReason(err); ok {
			return "", domainerrors.TransactionRevert(reason, err)
		}
		return "", domainerrors.TransferFailure("failed to submit bridge transaction", err)
	}
	hash := tx.Hash().Hex()
	emit(entities.ProgressEvent{Step: StepBridgeTx, ChainID: fromChain, TxHash: hash})

	if _, err := awaitReceipt(ctx, wallet, tx, e.confirmTimeout, "bridge transaction"); err != nil {
		return hash, classify(err, func(cause error) *domainerrors.AppError {
			return domainerrors.TransferFailure("bridge transaction was not confirmed", cause)
		})
	}

	if step.IsCrossChain() {
		emit(entities.ProgressEvent{Step: StepAwaitTransfer, ChainID: step.Action.ToChainID, TxHash: hash})
		if err := e.awaitTransfer(ctx, hash, *refreshed); err != nil {
			return hash, err
		}
	}
	return hash, nil
}

func (e *BridgeExecutor) ensureAllowance(ctx context.Context, wallet Wallet, step entities.RouteStep, emit EmitFunc) error {
	spender := strings.TrimSpace(step.Estimate.ApprovalAddress)
	token := strings.TrimSpace(step.Action.FromToken)
	if spender == "" || !isERC20(token) {
		return nil
	}
	amount := step.Action.FromAmount
	if amount == nil {
		amount = step.Estimate.FromAmount
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}

	tokens, err := e.gateway.Tokens(ctx, step.Action.FromChainID)
	if err != nil {
		return err
	}
	_, err = approveIfNeeded(ctx, wallet, tokens, token, spender, amount, e.confirmTimeout, step.Action.FromChainID, emit)
	return err
}

func (e *BridgeExecutor) awaitTransfer(ctx context.Context, txHash string, step entities.RouteStep) error {
	pollCtx := ctx
	if e.confirmTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, e.confirmTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		status, err := e.aggregator.Status(pollCtx, txHash, step)
		if err != nil {
			logger.Warn(ctx, "Bridge status query failed", zap.String("tx_hash", txHash), zap.Error(err))
		} else if status != nil {
			switch status.Status {
			case entities.BridgeStatusDone:
				return nil
			case entities.BridgeStatusFailed, entities.BridgeStatusInvalid:
				msg := status.Message
				if msg == "" {
					msg = status.Substatus
				}
				return domainerrors.TransferFailure(fmt.Sprintf("bridge transfer %s failed: %s", txHash, msg), nil)
			}
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domainerrors.Stuck(fmt.Sprintf("bridge transfer %s not completed within %s", txHash, e.confirmTimeout), pollCtx.Err())
		case <-ticker.C:
		}
	}
}

// approveIfNeeded reads allowance(owner, spender) and approves exactly amount when
// short. It returns the approval hash, empty when no approval was sent.
func approveIfNeeded(
	ctx context.Context,
	wallet Wallet,
	tokens TokenReader,
	token, spender string,
	amount *big.Int,
	timeout time.Duration,
	chainID uint64,
	emit EmitFunc,
) (string, error) {
	allowance, err := tokens.Allowance(ctx, token, wallet.Address(), spender)
	if err != nil {
		return "", domainerrors.ApprovalFailure("failed to read allowance", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return "", nil
	}

	tx, err := wallet.Transact(ctx, chainID, token, erc20ABI, "approve", common.HexToAddress(spender), amount)
	if err != nil {
		return "", domainerrors.ApprovalFailure("failed to submit approval", err)
	}
	hash := tx.Hash().Hex()
	emit(entities.ProgressEvent{Step: StepApprove, ChainID: chainID, TxHash: hash})

	if _, err := awaitReceipt(ctx, wallet, tx, timeout, "approval"); err != nil {
		if appErr := domainerrors.AsAppError(err); appErr.Code == domainerrors.CodeStuck {
			return hash, err
		}
		return hash, domainerrors.ApprovalFailure("approval was not confirmed", err)
	}
	return hash, nil
}

func isERC20(token string) bool {
	if !common.IsHexAddress(token) {
		return false
	}
	addr := common.HexToAddress(token)
	return addr != (common.Address{}) && addr != common.HexToAddress(nativeTokenPlaceholder)
}
