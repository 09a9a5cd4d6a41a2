package models

import (
	"time"

	"github.com/google/uuid"
)

type PurchaseAttempt struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProductID      uint64    `gorm:"not null;index"`
	SessionKey     string    `gorm:"type:varchar(255);not null;index"`
	BuyerAddress   string    `gorm:"type:varchar(42);not null"`
	SellerAddress  string    `gorm:"type:varchar(42);not null"`
	Amount         string    `gorm:"type:decimal(36,6);not null"`
	SourceChainID  uint64
	ProductChainID uint64 `gorm:"not null"`
	State          string `gorm:"type:varchar(32);not null;index"`
	FailureCode    *string
	FailureReason  *string `gorm:"type:text"`
	ApprovalTxHash *string `gorm:"type:varchar(66)"`
	BridgeTxHash   *string `gorm:"type:varchar(66)"`
	PurchaseTxHash *string `gorm:"type:varchar(66)"`
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"index"`
}

func (PurchaseAttempt) TableName() string {
	return "purchase_attempts"
}
