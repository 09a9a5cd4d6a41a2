package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Constructors(t *testing.T) {
	err := NewAppError(http.StatusBadRequest, CodeBadRequest, "bad", ErrInvalidInput)
	assert.Equal(t, http.StatusBadRequest, err.Status)
	assert.Equal(t, CodeBadRequest, err.Code)
	assert.Equal(t, "bad", err.Message)
	assert.Equal(t, ErrInvalidInput.Error(), err.Error())

	notFound := NotFound("missing")
	assert.Equal(t, http.StatusNotFound, notFound.Status)
	assert.Equal(t, CodeNotFound, notFound.Code)

	conflict := Conflict("in progress")
	assert.Equal(t, http.StatusConflict, conflict.Status)
	assert.True(t, stderrors.Is(conflict, ErrConflict))

	internal := InternalError(stderrors.New("db down"))
	assert.Equal(t, http.StatusInternalServerError, internal.Status)
	assert.Equal(t, CodeInternal, internal.Code)
	assert.Equal(t, "db down", internal.Error())

	unauth := Unauthorized("unauthorized")
	assert.Equal(t, http.StatusUnauthorized, unauth.Status)

	forbidden := Forbidden("forbidden")
	assert.Equal(t, http.StatusForbidden, forbidden.Status)

	noMsg := &AppError{Message: "plain"}
	assert.Equal(t, "plain", noMsg.Error())
}

func TestPurchaseTaxonomy_MatchesSentinelAndCause(t *testing.T) {
	cause := stderrors.New("rpc timeout")

	cases := []struct {
		err      *AppError
		sentinel error
		code     string
	}{
		{Validation("self purchase"), ErrValidation, CodeValidation},
		{ReadFailure("balance read failed", cause), ErrReadFailure, CodeReadFailure},
		{NoRouteFound("no circle route"), ErrNoRouteFound, CodeNoRouteFound},
		{ApprovalFailure("approve failed", cause), ErrApprovalFailure, CodeApprovalFailure},
		{TransferFailure("bridge failed", cause), ErrTransferFailure, CodeTransferFailure},
		{TransactionRevert("Product already sold", cause), ErrTransactionRevert, CodeTransactionRevert},
		{ChainSwitchFailure("switch rejected", cause), ErrChainSwitchFailure, CodeChainSwitchFailure},
		{Stuck("receipt wait exceeded", cause), ErrStuck, CodeStuck},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			assert.Equal(t, tc.code, tc.err.Code)
			assert.True(t, stderrors.Is(tc.err, tc.sentinel))
			if tc.err.Err != tc.sentinel {
				assert.True(t, stderrors.Is(tc.err, cause))
			}
		})
	}
}

func TestAsAppError(t *testing.T) {
	assert.Nil(t, AsAppError(nil))

	wrapped := fmt.Errorf("finalize: %w", NoRouteFound("none"))
	got := AsAppError(wrapped)
	assert.Equal(t, CodeNoRouteFound, got.Code)

	plain := AsAppError(stderrors.New("boom"))
	assert.Equal(t, CodeInternal, plain.Code)
	assert.Equal(t, http.StatusInternalServerError, plain.Status)
}
