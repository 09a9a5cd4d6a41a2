package entities

import (
	"encoding/json"
	"math/big"
)

// StepType mirrors the aggregator step kinds
type StepType string

const (
	StepTypeSwap     StepType = "swap"
	StepTypeCross    StepType = "cross"
	StepTypeLifi     StepType = "lifi"
	StepTypeProtocol StepType = "protocol"
)

// RouteRequest asks the aggregator for a path moving an exact amount between chains
type RouteRequest struct {
	FromChainID   uint64   `json:"fromChainId"`
	ToChainID     uint64   `json:"toChainId"`
	FromToken     string   `json:"fromTokenAddress"`
	ToToken       string   `json:"toTokenAddress"`
	FromAmount    *big.Int `json:"fromAmount"`
	FromAddress   string   `json:"fromAddress"`
	ToAddress     string   `json:"toAddress"`
	AllowedBridge string   `json:"allowedBridge"`
}

// StepAction describes what a route step moves
type StepAction struct {
	FromChainID uint64   `json:"fromChainId"`
	ToChainID   uint64   `json:"toChainId"`
	FromToken   string   `json:"fromToken"`
	ToToken     string   `json:"toToken"`
	FromAmount  *big.Int `json:"fromAmount"`
	FromAddress string   `json:"fromAddress"`
	ToAddress   string   `json:"toAddress"`
}

// StepEstimate carries the aggregator's expectations for a step
type StepEstimate struct {
	ApprovalAddress string   `json:"approvalAddress,omitempty"`
	FromAmount      *big.Int `json:"fromAmount"`
	ToAmount        *big.Int `json:"toAmount"`
	ToAmountMin     *big.Int `json:"toAmountMin"`
}

// TransactionRequest is an unsigned transaction prepared by the aggregator
type TransactionRequest struct {
	ChainID  uint64   `json:"chainId"`
	From     string   `json:"from"`
	To       string   `json:"to"`
	Data     []byte   `json:"data"`
	Value    *big.Int `json:"value"`
	GasLimit uint64   `json:"gasLimit"`
}

// RouteStep is one ordered action of a route
type RouteStep struct {
	ID                 string              `json:"id"`
	Type               StepType            `json:"type"`
	Tool               string              `json:"tool"`
	Action             StepAction          `json:"action"`
	Estimate           StepEstimate        `json:"estimate"`
	TransactionRequest *TransactionRequest `json:"transactionRequest,omitempty"`
	// Raw is the aggregator's own step document, sent back when requesting the step transaction.
	Raw json.RawMessage `json:"-"`
}

// IsCrossChain reports whether the step settles on a different chain than it starts
func (s *RouteStep) IsCrossChain() bool {
	return s.Action.FromChainID != s.Action.ToChainID
}

// Route is a proposed path; produced fresh per purchase attempt and never persisted
type Route struct {
	ID          string      `json:"id"`
	FromChainID uint64      `json:"fromChainId"`
	ToChainID   uint64      `json:"toChainId"`
	FromToken   string      `json:"fromToken"`
	ToToken     string      `json:"toToken"`
	FromAmount  *big.Int    `json:"fromAmount"`
	ToAmount    *big.Int    `json:"toAmount"`
	ToAmountMin *big.Int    `json:"toAmountMin"`
	FromAddress string      `json:"fromAddress"`
	ToAddress   string      `json:"toAddress"`
	Steps       []RouteStep `json:"steps"`
}

// BridgeStatus is the aggregator-reported state of a cross-chain transfer
type BridgeStatus string

const (
	BridgeStatusNotFound BridgeStatus = "NOT_FOUND"
	BridgeStatusPending  BridgeStatus = "PENDING"
	BridgeStatusDone     BridgeStatus = "DONE"
	BridgeStatusFailed   BridgeStatus = "FAILED"
	BridgeStatusInvalid  BridgeStatus = "INVALID"
)

// TransferStatus is the answer to a bridge status query
type TransferStatus struct {
	Status    BridgeStatus `json:"status"`
	Substatus string       `json:"substatus,omitempty"`
	Message   string       `json:"message,omitempty"`
}
