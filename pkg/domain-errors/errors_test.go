package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeStorageUnavailable, "upload failed")

	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, CodeStorageUnavailable, GetCode(err))
	assert.Contains(t, err.Error(), "upload failed")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestGetCodeWalksWrapChain(t *testing.T) {
	inner := New(CodeSimulationReverted, "fee too low")
	outer := fmt.Errorf("chain step: %w", inner)

	assert.Equal(t, CodeSimulationReverted, GetCode(outer))
	assert.True(t, HasCode(outer, CodeSimulationReverted))
	assert.False(t, HasCode(outer, CodeTimeout))
}

func TestGetCodeDefaultsToInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, GetCode(errors.New("plain")))
}

func TestRetryClassification(t *testing.T) {
	tests := []struct {
		code           Code
		retryable      bool
		userActionable bool
	}{
		{CodeStorageUnavailable, true, false},
		{CodeUnavailable, true, false},
		{CodeTimeout, true, false},
		{CodeRejected, false, true},
		{CodeInsufficientFunds, false, true},
		{CodeWrongNetwork, false, true},
		{CodeSimulationReverted, false, false},
		{CodeGasEstimation, false, false},
		{CodeTxFailed, false, false},
		{CodeInvalidInput, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "x")
			assert.Equal(t, tt.retryable, Retryable(err))
			assert.Equal(t, tt.userActionable, UserActionable(err))
		})
	}
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, ToHTTPStatus(CodeInvalidInput))
	assert.Equal(t, http.StatusNotFound, ToHTTPStatus(CodeNotFound))
	assert.Equal(t, http.StatusUnprocessableEntity, ToHTTPStatus(CodeSimulationReverted))
	assert.Equal(t, http.StatusServiceUnavailable, ToHTTPStatus(CodeStorageUnavailable))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(CodeInternal))
}
