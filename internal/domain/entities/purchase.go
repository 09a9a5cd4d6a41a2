package entities

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
)

// PurchaseState is a step of the purchase state machine
type PurchaseState string

const (
	PurchaseStateStart           PurchaseState = "START"
	PurchaseStateCheckingBalance PurchaseState = "CHECKING_BALANCE"
	PurchaseStateSufficient      PurchaseState = "SUFFICIENT"
	PurchaseStateInsufficient    PurchaseState = "INSUFFICIENT"
	PurchaseStateBridging        PurchaseState = "BRIDGING"
	PurchaseStateBridged         PurchaseState = "BRIDGED"
	PurchaseStateFinalizing      PurchaseState = "FINALIZING"
	PurchaseStateDone            PurchaseState = "DONE"
	PurchaseStateFailed          PurchaseState = "FAILED"
	PurchaseStateStuck           PurchaseState = "STUCK"
)

// IsTerminal reports whether no further transitions happen within the invocation.
// BRIDGED ends an invocation; the next one resumes at FINALIZING.
func (s PurchaseState) IsTerminal() bool {
	switch s {
	case PurchaseStateDone, PurchaseStateFailed, PurchaseStateStuck, PurchaseStateBridged:
		return true
	}
	return false
}

// PurchaseRequest starts a purchase attempt
type PurchaseRequest struct {
	ProductID uint64 `json:"productId"`
	// SessionKey scopes the bridged state; defaults to the buyer address
	SessionKey string `json:"sessionKey,omitempty"`
	// SourceChainID forces the chain funds are bridged from
	SourceChainID uint64 `json:"sourceChainId,omitempty"`
}

// PendingPurchase threads the resolved purchase through one invocation
type PendingPurchase struct {
	Product *Product
	Buyer   string
	Amount  *big.Int
}

// BalanceCheck is the result of comparing a buyer's balance to a required amount
type BalanceCheck struct {
	Sufficient bool     `json:"sufficient"`
	Balance    *big.Int `json:"balance"`
	Required   *big.Int `json:"required"`
}

// FinalizeResult summarizes the purchase transaction
type FinalizeResult struct {
	ApprovalTxHash string `json:"approvalTxHash,omitempty"`
	PurchaseTxHash string `json:"purchaseTxHash"`
	Approved       bool   `json:"approved"`
}

// ProgressEvent is emitted at every state transition and sub-step
type ProgressEvent struct {
	AttemptID uuid.UUID     `json:"attemptId"`
	State     PurchaseState `json:"state"`
	Step      string        `json:"step,omitempty"`
	ChainID   uint64        `json:"chainId,omitempty"`
	TxHash    string        `json:"txHash,omitempty"`
	Message   string        `json:"message,omitempty"`
	At        time.Time     `json:"at"`
}

// PurchaseResult is the outcome of one orchestrator invocation
type PurchaseResult struct {
	AttemptID      uuid.UUID       `json:"attemptId"`
	ProductID      uint64          `json:"productId"`
	State          PurchaseState   `json:"state"`
	FailureCode    string          `json:"failureCode,omitempty"`
	FailureReason  string          `json:"failureReason,omitempty"`
	Amount         string          `json:"amount"`
	SourceChainID  uint64          `json:"sourceChainId,omitempty"`
	ProductChainID uint64          `json:"productChainId"`
	ApprovalTxHash string          `json:"approvalTxHash,omitempty"`
	BridgeTxHashes []string        `json:"bridgeTxHashes,omitempty"`
	PurchaseTxHash string          `json:"purchaseTxHash,omitempty"`
	Events         []ProgressEvent `json:"events,omitempty"`
}

// PurchaseAttempt is the persisted audit record of one invocation
type PurchaseAttempt struct {
	ID             uuid.UUID     `json:"id"`
	ProductID      uint64        `json:"productId"`
	SessionKey     string        `json:"sessionKey"`
	Buyer          string        `json:"buyer"`
	Seller         string        `json:"seller"`
	Amount         string        `json:"amount"`
	SourceChainID  uint64        `json:"sourceChainId,omitempty"`
	ProductChainID uint64        `json:"productChainId"`
	State          PurchaseState `json:"state"`
	FailureCode    null.String   `json:"failureCode"`
	FailureReason  null.String   `json:"failureReason"`
	ApprovalTxHash null.String   `json:"approvalTxHash"`
	BridgeTxHash   null.String   `json:"bridgeTxHash"`
	PurchaseTxHash null.String   `json:"purchaseTxHash"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	CompletedAt    null.Time     `json:"completedAt"`
}
