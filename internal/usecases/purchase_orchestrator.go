package usecases

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"metamarket.backend/internal/domain/entities"
	domainerrors "metamarket.backend/internal/domain/errors"
	"metamarket.backend/internal/domain/repositories"
	"metamarket.backend/pkg/logger"
	"metamarket.backend/pkg/utils"
)

// PurchaseEventPublisher fans purchase progress out to other services
type PurchaseEventPublisher interface {
	PublishProgress(ctx context.Context, productID uint64, event entities.ProgressEvent) error
	PublishResult(ctx context.Context, result *entities.PurchaseResult) error
}

// PurchaseMetrics records attempt outcomes
type PurchaseMetrics interface {
	AttemptStarted()
	AttemptFinished(state entities.PurchaseState, failureCode string, elapsed time.Duration)
	BridgeExecuted(fromChainID, toChainID uint64)
}

type noopPurchaseEvents struct{}

func (noopPurchaseEvents) PublishProgress(context.Context, uint64, entities.ProgressEvent) error {
	return nil
}
func (noopPurchaseEvents) PublishResult(context.Context, *entities.PurchaseResult) error { return nil }

type noopPurchaseMetrics struct{}

func (noopPurchaseMetrics) AttemptStarted()                                            {}
func (noopPurchaseMetrics) AttemptFinished(entities.PurchaseState, string, time.Duration) {}
func (noopPurchaseMetrics) BridgeExecuted(uint64, uint64)                              {}

// PurchaseOrchestratorDeps wires the collaborators of the purchase flow
type PurchaseOrchestratorDeps struct {
	Gateway   ChainGateway
	Wallet    Wallet
	Balances  *BalanceResolver
	Planner   *RoutePlanner
	Executor  *BridgeExecutor
	Finalizer *PurchaseFinalizer
	Tracker   *StateTracker
	Attempts  repositories.PurchaseAttemptRepository
	Events    PurchaseEventPublisher
	Metrics   PurchaseMetrics
}

// PurchaseOrchestrator drives the per-attempt purchase state machine:
// balance check, conditional bridge, then finalization on the product chain.
type PurchaseOrchestrator struct {
	gateway   ChainGateway
	wallet    Wallet
	balances  *BalanceResolver
	planner   *RoutePlanner
	executor  *BridgeExecutor
	finalizer *PurchaseFinalizer
	tracker   *StateTracker
	attempts  repositories.PurchaseAttemptRepository
	events    PurchaseEventPublisher
	metrics   PurchaseMetrics

	locks sync.Map
	now   func() time.Time
}

func NewPurchaseOrchestrator(deps PurchaseOrchestratorDeps) *PurchaseOrchestrator {
	o := &PurchaseOrchestrator{
		gateway:   deps.Gateway,
		wallet:    deps.Wallet,
		balances:  deps.Balances,
		planner:   deps.Planner,
		executor:  deps.Executor,
		finalizer: deps.Finalizer,
		tracker:   deps.Tracker,
		attempts:  deps.Attempts,
		events:    deps.Events,
		metrics:   deps.Metrics,
		now:       time.Now,
	}
	if o.balances == nil {
		o.balances = NewBalanceResolver()
	}
	if o.events == nil {
		o.events = noopPurchaseEvents{}
	}
	if o.metrics == nil {
		o.metrics = noopPurchaseMetrics{}
	}
	return o
}

// attemptRun is the mutable state of one invocation, owned by its goroutine.
// owner scopes bridged marks to the buyer; the session key only groups audit rows.
type attemptRun struct {
	task    *PurchaseTask
	result  *entities.PurchaseResult
	pending entities.PendingPurchase
	owner   string
	source  uint64
	started time.Time
}

// Start loads the product and launches the attempt. A concurrent attempt for
// the same buyer and product fails with Conflict whatever its session key.
// Self-purchase, already purchased and non-positive prices are rejected here,
// before an attempt is recorded.
func (o *PurchaseOrchestrator) Start(ctx context.Context, req entities.PurchaseRequest) (*PurchaseTask, error) {
	buyer := o.wallet.Address()
	owner := BridgedScope(buyer)
	session := SessionKey(req.SessionKey, buyer)
	lockKey := fmt.Sprintf("%s|%d", owner, req.ProductID)
	if _, busy := o.locks.LoadOrStore(lockKey, struct{}{}); busy {
		return nil, domainerrors.Conflict("a purchase of this product is already running for the wallet")
	}
	release := func() { o.locks.Delete(lockKey) }

	product, err := o.loadProduct(ctx, req.ProductID)
	if err != nil {
		release()
		return nil, err
	}
	amount, err := ParseAmount(product.Price, SettlementDecimals)
	if err != nil {
		release()
		return nil, err
	}
	if err := checkPurchasable(product, buyer, amount); err != nil {
		release()
		logger.Info(ctx, "Purchase rejected",
			zap.Uint64("product_id", product.ID),
			zap.String("reason", domainerrors.AsAppError(err).Message),
		)
		return nil, err
	}

	now := o.now()
	attempt := &entities.PurchaseAttempt{
		ID:             utils.GenerateUUIDv7(),
		ProductID:      product.ID,
		SessionKey:     session,
		Buyer:          buyer,
		Seller:         product.Seller,
		Amount:         amount.String(),
		SourceChainID:  req.SourceChainID,
		ProductChainID: product.ChainID,
		State:          entities.PurchaseStateStart,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.attempts.Create(ctx, attempt); err != nil {
		release()
		return nil, domainerrors.InternalError(err)
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	taskCtx = context.WithValue(taskCtx, logger.AttemptIDKey, attempt.ID.String())
	taskCtx = context.WithValue(taskCtx, logger.SessionKeyKey, session)
	task := newPurchaseTask(attempt.ID, cancel)

	run := &attemptRun{
		task: task,
		result: &entities.PurchaseResult{
			AttemptID:      attempt.ID,
			ProductID:      product.ID,
			State:          entities.PurchaseStateStart,
			Amount:         FormatAmount(amount, SettlementDecimals),
			SourceChainID:  req.SourceChainID,
			ProductChainID: product.ChainID,
		},
		pending: entities.PendingPurchase{Product: product, Buyer: buyer, Amount: amount},
		owner:   owner,
		source:  req.SourceChainID,
		started: now,
	}

	o.metrics.AttemptStarted()
	go func() {
		err := o.execute(taskCtx, run)
		o.finish(taskCtx, run, err, release)
	}()
	return task, nil
}

// Run starts an attempt and drains it
func (o *PurchaseOrchestrator) Run(ctx context.Context, req entities.PurchaseRequest) (*entities.PurchaseResult, error) {
	task, err := o.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	for range task.Events() {
	}
	return task.Wait(), nil
}

// GetAttempt returns the persisted audit record of an attempt
func (o *PurchaseOrchestrator) GetAttempt(ctx context.Context, id uuid.UUID) (*entities.PurchaseAttempt, error) {
	attempt, err := o.attempts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return nil, domainerrors.NotFound("purchase attempt not found")
		}
		return nil, domainerrors.InternalError(err)
	}
	return attempt, nil
}

// ListAttempts pages through a session's attempts, newest first
func (o *PurchaseOrchestrator) ListAttempts(ctx context.Context, session string, params utils.PaginationParams) ([]*entities.PurchaseAttempt, utils.PaginationMeta, error) {
	key := SessionKey(session, o.wallet.Address())
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	params.Limit = limit
	attempts, total, err := o.attempts.ListBySession(ctx, key, limit, params.CalculateOffset())
	if err != nil {
		return nil, utils.PaginationMeta{}, domainerrors.InternalError(err)
	}
	return attempts, utils.CalculateMeta(int64(total), params.Page, limit), nil
}

func (o *PurchaseOrchestrator) loadProduct(ctx context.Context, productID uint64) (*entities.Product, error) {
	catalog := o.gateway.Catalog()
	marketplace, err := o.gateway.Marketplace(ctx, catalog.HomeChainID)
	if err != nil {
		return nil, err
	}
	product, err := readProduct(ctx, marketplace, catalog, productID)
	if err != nil {
		return nil, err
	}
	if _, ok := catalog.BySettlementAsset(product.Currency); !ok {
		return nil, domainerrors.Validation(fmt.Sprintf("product currency %s is not a supported settlement asset", product.Currency))
	}
	return product, nil
}

func checkPurchasable(product *entities.Product, buyer string, amount *big.Int) error {
	if product.IsSeller(buyer) {
		return domainerrors.Validation("seller cannot purchase their own product")
	}
	if product.Purchased {
		return domainerrors.Validation("already purchased")
	}
	if amount == nil || amount.Sign() <= 0 {
		return domainerrors.Validation("purchase amount must be positive")
	}
	return nil
}

func (o *PurchaseOrchestrator) execute(ctx context.Context, run *attemptRun) error {
	product, buyer, amount := run.pending.Product, run.pending.Buyer, run.pending.Amount

	bridged, err := o.tracker.IsBridged(ctx, run.owner, product.ID)
	if err != nil {
		return err
	}
	if err := o.admit(ctx, product, buyer); err != nil {
		return err
	}

	if !bridged {
		o.transition(ctx, run, entities.PurchaseStateCheckingBalance, "")
		tokens, err := o.gateway.Tokens(ctx, product.ChainID)
		if err != nil {
			return err
		}
		check, err := o.balances.Resolve(ctx, tokens, product.Currency, buyer, amount)
		if err != nil {
			return err
		}
		if !check.Sufficient {
			o.transition(ctx, run, entities.PurchaseStateInsufficient,
				fmt.Sprintf("balance %s below %s", FormatAmount(check.Balance, SettlementDecimals), run.result.Amount))
			return o.bridge(ctx, run)
		}
		o.transition(ctx, run, entities.PurchaseStateSufficient, "")
	}

	return o.finalize(ctx, run)
}

// admit consults the contract's own admission check when it has one
func (o *PurchaseOrchestrator) admit(ctx context.Context, product *entities.Product, buyer string) error {
	marketplace, err := o.gateway.Marketplace(ctx, product.ChainID)
	if err != nil {
		return err
	}
	allowed, reason, err := marketplace.CanPurchase(ctx, product.ID, buyer)
	if errors.Is(err, ErrMethodNotExposed) {
		return nil
	}
	if err != nil {
		return domainerrors.ReadFailure("failed to check purchase eligibility", err)
	}
	if !allowed {
		if strings.TrimSpace(reason) == "" {
			reason = "purchase not allowed by marketplace"
		}
		return domainerrors.Validation(reason)
	}
	return nil
}

func (o *PurchaseOrchestrator) bridge(ctx context.Context, run *attemptRun) error {
	product, buyer, amount := run.pending.Product, run.pending.Buyer, run.pending.Amount

	source, err := o.selectSourceChain(ctx, run.source, product, buyer, amount)
	if err != nil {
		return err
	}
	run.result.SourceChainID = source.ChainID
	o.transition(ctx, run, entities.PurchaseStateBridging, fmt.Sprintf("bridging from %s", source.Name))

	route, err := o.planner.Plan(ctx, entities.RouteRequest{
		FromChainID: source.ChainID,
		ToChainID:   product.ChainID,
		FromToken:   source.SettlementAsset,
		ToToken:     product.Currency,
		FromAmount:  amount,
		FromAddress: buyer,
		ToAddress:   buyer,
	})
	if err != nil {
		return err
	}

	hashes, err := o.executor.Execute(ctx, o.wallet, route, o.emitter(ctx, run))
	run.result.BridgeTxHashes = append(run.result.BridgeTxHashes, hashes...)
	for _, hash := range hashes {
		o.recordTx(ctx, run, repositories.TxKindBridge, hash)
	}
	if err != nil {
		return err
	}
	o.metrics.BridgeExecuted(source.ChainID, product.ChainID)

	if err := o.tracker.MarkBridged(ctx, run.owner, product.ID); err != nil {
		return err
	}
	o.transition(ctx, run, entities.PurchaseStateBridged, "funds bridged; invoke again to finalize")
	return nil
}

func (o *PurchaseOrchestrator) finalize(ctx context.Context, run *attemptRun) error {
	product, buyer, amount := run.pending.Product, run.pending.Buyer, run.pending.Amount

	o.transition(ctx, run, entities.PurchaseStateFinalizing, "")
	res, err := o.finalizer.Finalize(ctx, o.wallet, product, buyer, amount, o.emitter(ctx, run))
	if res != nil {
		if res.ApprovalTxHash != "" {
			run.result.ApprovalTxHash = res.ApprovalTxHash
			o.recordTx(ctx, run, repositories.TxKindApproval, res.ApprovalTxHash)
		}
		if res.PurchaseTxHash != "" {
			run.result.PurchaseTxHash = res.PurchaseTxHash
			o.recordTx(ctx, run, repositories.TxKindPurchase, res.PurchaseTxHash)
		}
	}
	if err != nil {
		return err
	}

	o.verify(ctx, run)

	if err := o.tracker.Clear(ctx, run.owner, product.ID); err != nil {
		logger.Warn(ctx, "Failed to clear bridged state", zap.Error(err))
	}
	o.transition(ctx, run, entities.PurchaseStateDone, "")
	return nil
}

// verify re-reads the product after purchase; a stale read is only reported
func (o *PurchaseOrchestrator) verify(ctx context.Context, run *attemptRun) {
	product := run.pending.Product
	marketplace, err := o.gateway.Marketplace(ctx, product.ChainID)
	if err != nil {
		logger.Warn(ctx, "Skipping purchase verification", zap.Error(err))
		return
	}
	current, err := marketplace.Product(ctx, product.ID)
	if err != nil {
		logger.Warn(ctx, "Purchase verification read failed", zap.Error(err))
		return
	}
	msg := "product marked purchased"
	if !current.Purchased {
		msg = "product not yet marked purchased"
	}
	o.emit(ctx, run, entities.ProgressEvent{Step: StepVerify, ChainID: product.ChainID, Message: msg})
}

func (o *PurchaseOrchestrator) selectSourceChain(ctx context.Context, requested uint64, product *entities.Product, buyer string, amount *big.Int) (*entities.ChainSpec, error) {
	catalog := o.gateway.Catalog()
	if requested != 0 {
		if requested == product.ChainID {
			return nil, domainerrors.Validation("source chain must differ from the product chain")
		}
		spec, ok := catalog.Get(requested)
		if !ok {
			return nil, domainerrors.Validation(fmt.Sprintf("source chain %d is not supported", requested))
		}
		return spec, nil
	}

	others := catalog.Others(product.ChainID)
	if len(others) == 0 {
		return nil, domainerrors.NoRouteFound("no other chain to bridge funds from")
	}
	for i := range others {
		tokens, err := o.gateway.Tokens(ctx, others[i].ChainID)
		if err != nil {
			logger.Warn(ctx, "Skipping source chain", zap.Uint64("chain_id", others[i].ChainID), zap.Error(err))
			continue
		}
		check, err := o.balances.Resolve(ctx, tokens, others[i].SettlementAsset, buyer, amount)
		if err != nil {
			logger.Warn(ctx, "Skipping source chain", zap.Uint64("chain_id", others[i].ChainID), zap.Error(err))
			continue
		}
		if check.Sufficient {
			spec := others[i]
			return &spec, nil
		}
	}
	spec := others[0]
	return &spec, nil
}

func (o *PurchaseOrchestrator) transition(ctx context.Context, run *attemptRun, state entities.PurchaseState, msg string) {
	run.result.State = state
	if err := o.attempts.UpdateState(context.WithoutCancel(ctx), run.result.AttemptID, state); err != nil {
		logger.Warn(ctx, "Failed to persist attempt state", zap.String("state", string(state)), zap.Error(err))
	}
	o.emit(ctx, run, entities.ProgressEvent{Message: msg, ChainID: run.result.ProductChainID})
}

func (o *PurchaseOrchestrator) recordTx(ctx context.Context, run *attemptRun, kind repositories.TxKind, hash string) {
	if err := o.attempts.RecordTx(context.WithoutCancel(ctx), run.result.AttemptID, kind, hash); err != nil {
		logger.Warn(ctx, "Failed to record attempt transaction", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (o *PurchaseOrchestrator) finish(ctx context.Context, run *attemptRun, err error, release func()) {
	result := run.result
	if err != nil {
		result.State = entities.PurchaseStateFailed
		switch {
		case errors.Is(err, context.Canceled):
			result.FailureCode = domainerrors.CodeCancelled
			result.FailureReason = "purchase cancelled"
		default:
			appErr := domainerrors.AsAppError(err)
			result.FailureCode = appErr.Code
			result.FailureReason = appErr.Message
			if appErr.Code == domainerrors.CodeStuck {
				result.State = entities.PurchaseStateStuck
			}
		}
		o.emit(ctx, run, entities.ProgressEvent{Message: result.FailureReason})
		logger.Warn(ctx, "Purchase attempt failed",
			zap.Uint64("product_id", result.ProductID),
			zap.String("state", string(result.State)),
			zap.String("code", result.FailureCode),
			zap.Error(err),
		)
	}

	persistCtx := context.WithoutCancel(ctx)
	if markErr := o.attempts.MarkFinished(persistCtx, result.AttemptID, result.State, result.FailureCode, result.FailureReason); markErr != nil {
		logger.Error(ctx, "Failed to persist attempt outcome", zap.Error(markErr))
	}
	if pubErr := o.events.PublishResult(persistCtx, result); pubErr != nil {
		logger.Warn(ctx, "Failed to publish purchase result", zap.Error(pubErr))
	}
	o.metrics.AttemptFinished(result.State, result.FailureCode, o.now().Sub(run.started))

	logger.Info(ctx, "Purchase attempt finished",
		zap.Uint64("product_id", result.ProductID),
		zap.String("state", string(result.State)),
	)
	release()
	run.task.finish(result)
}

func (o *PurchaseOrchestrator) emitter(ctx context.Context, run *attemptRun) EmitFunc {
	return func(ev entities.ProgressEvent) {
		o.emit(ctx, run, ev)
	}
}

func (o *PurchaseOrchestrator) emit(ctx context.Context, run *attemptRun, ev entities.ProgressEvent) {
	ev.AttemptID = run.result.AttemptID
	ev.State = run.result.State
	ev.At = o.now()
	run.result.Events = append(run.result.Events, ev)
	if !run.task.publish(ev) {
		logger.Debug(ctx, "Progress event buffer full", zap.String("state", string(ev.State)))
	}
	if err := o.events.PublishProgress(context.WithoutCancel(ctx), run.result.ProductID, ev); err != nil {
		logger.Warn(ctx, "Failed to publish progress event", zap.Error(err))
	}
}
