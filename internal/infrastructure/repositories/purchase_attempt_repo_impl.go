package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"

	domainerrors "metamarket.backend/internal/domain/errors"
	"metamarket.backend/internal/domain/entities"
	"metamarket.backend/internal/domain/repositories"
	"metamarket.backend/internal/infrastructure/models"
)

var inFlightStates = []string{
	string(entities.PurchaseStateStart),
	string(entities.PurchaseStateCheckingBalance),
	string(entities.PurchaseStateSufficient),
	string(entities.PurchaseStateInsufficient),
	string(entities.PurchaseStateBridging),
	string(entities.PurchaseStateFinalizing),
}

// PurchaseAttemptRepositoryImpl implements PurchaseAttemptRepository
type PurchaseAttemptRepositoryImpl struct {
	db *gorm.DB
}

func NewPurchaseAttemptRepository(db *gorm.DB) *PurchaseAttemptRepositoryImpl {
	return &PurchaseAttemptRepositoryImpl{db: db}
}

func (r *PurchaseAttemptRepositoryImpl) Create(ctx context.Context, attempt *entities.PurchaseAttempt) error {
	now := time.Now()
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = now
	}
	attempt.UpdatedAt = now

	m := &models.PurchaseAttempt{
		ID:             attempt.ID,
		ProductID:      attempt.ProductID,
		SessionKey:     attempt.SessionKey,
		BuyerAddress:   attempt.Buyer,
		SellerAddress:  attempt.Seller,
		Amount:         attempt.Amount,
		SourceChainID:  attempt.SourceChainID,
		ProductChainID: attempt.ProductChainID,
		State:          string(attempt.State),
		FailureCode:    attempt.FailureCode.Ptr(),
		FailureReason:  attempt.FailureReason.Ptr(),
		ApprovalTxHash: attempt.ApprovalTxHash.Ptr(),
		BridgeTxHash:   attempt.BridgeTxHash.Ptr(),
		PurchaseTxHash: attempt.PurchaseTxHash.Ptr(),
		CompletedAt:    attempt.CompletedAt.Ptr(),
		CreatedAt:      attempt.CreatedAt,
		UpdatedAt:      attempt.UpdatedAt,
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *PurchaseAttemptRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*entities.PurchaseAttempt, error) {
	var m models.PurchaseAttempt
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return r.toEntity(&m), nil
}

func (r *PurchaseAttemptRepositoryImpl) ListBySession(ctx context.Context, sessionKey string, limit, offset int) ([]*entities.PurchaseAttempt, int, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.PurchaseAttempt{}).
		Where("session_key = ?", sessionKey).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := r.db.WithContext(ctx).
		Where("session_key = ?", sessionKey).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit).Offset(offset)
	}

	var ms []models.PurchaseAttempt
	if err := query.Find(&ms).Error; err != nil {
		return nil, 0, err
	}

	attempts := make([]*entities.PurchaseAttempt, 0, len(ms))
	for i := range ms {
		attempts = append(attempts, r.toEntity(&ms[i]))
	}
	return attempts, int(total), nil
}

func (r *PurchaseAttemptRepositoryImpl) UpdateState(ctx context.Context, id uuid.UUID, state entities.PurchaseState) error {
	return r.update(ctx, id, map[string]interface{}{
		"state":      string(state),
		"updated_at": time.Now(),
	})
}

func (r *PurchaseAttemptRepositoryImpl) RecordTx(ctx context.Context, id uuid.UUID, kind repositories.TxKind, txHash string) error {
	var column string
	switch kind {
	case repositories.TxKindApproval:
		column = "approval_tx_hash"
	case repositories.TxKindBridge:
		column = "bridge_tx_hash"
	case repositories.TxKindPurchase:
		column = "purchase_tx_hash"
	default:
		return fmt.Errorf("unknown tx kind %q", kind)
	}
	return r.update(ctx, id, map[string]interface{}{
		column:       txHash,
		"updated_at": time.Now(),
	})
}

func (r *PurchaseAttemptRepositoryImpl) MarkFinished(ctx context.Context, id uuid.UUID, state entities.PurchaseState, failureCode, failureReason string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"state":        string(state),
		"completed_at": now,
		"updated_at":   now,
	}
	if failureCode != "" {
		updates["failure_code"] = failureCode
		updates["failure_reason"] = failureReason
	}
	return r.update(ctx, id, updates)
}

func (r *PurchaseAttemptRepositoryImpl) GetInFlightBefore(ctx context.Context, before time.Time, limit int) ([]*entities.PurchaseAttempt, error) {
	var ms []models.PurchaseAttempt
	if err := r.db.WithContext(ctx).
		Where("state IN ? AND updated_at < ?", inFlightStates, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&ms).Error; err != nil {
		return nil, err
	}

	attempts := make([]*entities.PurchaseAttempt, 0, len(ms))
	for i := range ms {
		attempts = append(attempts, r.toEntity(&ms[i]))
	}
	return attempts, nil
}

func (r *PurchaseAttemptRepositoryImpl) MarkStuck(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.PurchaseAttempt{}).
		Where("id IN ? AND state IN ?", ids, inFlightStates).
		Updates(map[string]interface{}{
			"state":          string(entities.PurchaseStateStuck),
			"failure_code":   domainerrors.CodeStuck,
			"failure_reason": "no progress recorded before the stuck deadline",
			"completed_at":   now,
			"updated_at":     now,
		}).Error
}

func (r *PurchaseAttemptRepositoryImpl) update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.PurchaseAttempt{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

func (r *PurchaseAttemptRepositoryImpl) toEntity(m *models.PurchaseAttempt) *entities.PurchaseAttempt {
	return &entities.PurchaseAttempt{
		ID:             m.ID,
		ProductID:      m.ProductID,
		SessionKey:     m.SessionKey,
		Buyer:          m.BuyerAddress,
		Seller:         m.SellerAddress,
		Amount:         m.Amount,
		SourceChainID:  m.SourceChainID,
		ProductChainID: m.ProductChainID,
		State:          entities.PurchaseState(m.State),
		FailureCode:    null.StringFromPtr(m.FailureCode),
		FailureReason:  null.StringFromPtr(m.FailureReason),
		ApprovalTxHash: null.StringFromPtr(m.ApprovalTxHash),
		BridgeTxHash:   null.StringFromPtr(m.BridgeTxHash),
		PurchaseTxHash: null.StringFromPtr(m.PurchaseTxHash),
		CompletedAt:    null.TimeFromPtr(m.CompletedAt),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
