package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain errors
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrUnsupportedChain   = errors.New("unsupported chain")
	ErrUnsupportedToken   = errors.New("unsupported token")
	ErrValidation         = errors.New("validation failed")
	ErrReadFailure        = errors.New("read failure")
	ErrNoRouteFound       = errors.New("no route found")
	ErrApprovalFailure    = errors.New("approval failure")
	ErrTransferFailure    = errors.New("transfer failure")
	ErrTransactionRevert  = errors.New("transaction reverted")
	ErrChainSwitchFailure = errors.New("chain switch failure")
	ErrStuck              = errors.New("confirmation wait exceeded")
	ErrUnrecognizedChain  = errors.New("unrecognized chain")
)

// Stable error codes returned to API callers
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
	CodeValidation         = "VALIDATION_ERROR"
	CodeReadFailure        = "READ_FAILURE"
	CodeNoRouteFound       = "NO_ROUTE_FOUND"
	CodeApprovalFailure    = "APPROVAL_FAILURE"
	CodeTransferFailure    = "TRANSFER_FAILURE"
	CodeTransactionRevert  = "TRANSACTION_REVERT"
	CodeChainSwitchFailure = "CHAIN_SWITCH_FAILURE"
	CodeStuck              = "STUCK"
	CodeCancelled          = "CANCELLED"
)

// AppError represents application error with HTTP status
type AppError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new app error
func NewAppError(status int, code, message string, err error) *AppError {
	return &AppError{
		Status:  status,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// wrap joins a sentinel with an optional underlying cause so errors.Is matches both.
func wrap(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// Common error constructors
func NotFound(message string) *AppError {
	return NewAppError(http.StatusNotFound, CodeNotFound, message, ErrNotFound)
}

func BadRequest(message string) *AppError {
	return NewAppError(http.StatusBadRequest, CodeBadRequest, message, ErrInvalidInput)
}

func Unauthorized(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, CodeUnauthorized, message, ErrUnauthorized)
}

func Forbidden(message string) *AppError {
	return NewAppError(http.StatusForbidden, CodeForbidden, message, ErrForbidden)
}

func Conflict(message string) *AppError {
	return NewAppError(http.StatusConflict, CodeConflict, message, ErrConflict)
}

func InternalError(err error) *AppError {
	return NewAppError(http.StatusInternalServerError, CodeInternal, "internal server error", err)
}

// Purchase flow taxonomy

func Validation(message string) *AppError {
	return NewAppError(http.StatusUnprocessableEntity, CodeValidation, message, ErrValidation)
}

func ReadFailure(message string, cause error) *AppError {
	return NewAppError(http.StatusBadGateway, CodeReadFailure, message, wrap(ErrReadFailure, cause))
}

func NoRouteFound(message string) *AppError {
	return NewAppError(http.StatusUnprocessableEntity, CodeNoRouteFound, message, ErrNoRouteFound)
}

func ApprovalFailure(message string, cause error) *AppError {
	return NewAppError(http.StatusBadGateway, CodeApprovalFailure, message, wrap(ErrApprovalFailure, cause))
}

func TransferFailure(message string, cause error) *AppError {
	return NewAppError(http.StatusBadGateway, CodeTransferFailure, message, wrap(ErrTransferFailure, cause))
}

func TransactionRevert(reason string, cause error) *AppError {
	return NewAppError(http.StatusUnprocessableEntity, CodeTransactionRevert, reason, wrap(ErrTransactionRevert, cause))
}

func ChainSwitchFailure(message string, cause error) *AppError {
	return NewAppError(http.StatusBadGateway, CodeChainSwitchFailure, message, wrap(ErrChainSwitchFailure, cause))
}

func Stuck(message string, cause error) *AppError {
	return NewAppError(http.StatusGatewayTimeout, CodeStuck, message, wrap(ErrStuck, cause))
}

// AsAppError unwraps err into an AppError, defaulting to an internal error.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalError(err)
}
