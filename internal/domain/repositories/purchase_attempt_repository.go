package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"metamarket.backend/internal/domain/entities"
)

// TxKind names the transaction slot recorded on an attempt
type TxKind string

const (
	TxKindApproval TxKind = "approval"
	TxKindBridge   TxKind = "bridge"
	TxKindPurchase TxKind = "purchase"
)

// PurchaseAttemptRepository persists the audit trail of purchase invocations
type PurchaseAttemptRepository interface {
	Create(ctx context.Context, attempt *entities.PurchaseAttempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.PurchaseAttempt, error)
	ListBySession(ctx context.Context, sessionKey string, limit, offset int) ([]*entities.PurchaseAttempt, int, error)
	UpdateState(ctx context.Context, id uuid.UUID, state entities.PurchaseState) error
	RecordTx(ctx context.Context, id uuid.UUID, kind TxKind, txHash string) error
	MarkFinished(ctx context.Context, id uuid.UUID, state entities.PurchaseState, failureCode, failureReason string) error
	GetInFlightBefore(ctx context.Context, before time.Time, limit int) ([]*entities.PurchaseAttempt, error)
	MarkStuck(ctx context.Context, ids []uuid.UUID) error
}
