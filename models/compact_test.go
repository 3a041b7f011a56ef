package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactStateRoundTrip(t *testing.T) {
	for order := 1; order <= 6; order++ {
		for _, on := range []bool{true, false} {
			token := EncodeCompactState(order, on)
			require.Len(t, token, 2)

			gotOrder, gotOn, err := DecodeCompactState(token, 6)
			require.NoError(t, err, "token %q", token)
			assert.Equal(t, order, gotOrder)
			assert.Equal(t, on, gotOn)
		}
	}
}

func TestEncodeCompactState(t *testing.T) {
	assert.Equal(t, "31", EncodeCompactState(3, true))
	assert.Equal(t, "30", EncodeCompactState(3, false))
}

func TestDecodeCompactStateRejectsMalformedTokens(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"too short", "1"},
		{"too long", "110"},
		{"order zero", "01"},
		{"order above max", "71"},
		{"order not a digit", "a1"},
		{"bad state indicator", "1x"},
		{"state indicator 2", "12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeCompactState(tt.token, 6)
			require.Error(t, err)

			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "expected ValidationError, got %T", err)
		})
	}
}

func TestDecodeCompactStateHonorsMaxOrder(t *testing.T) {
	// Order 7 is valid only when the configured bound allows it.
	order, on, err := DecodeCompactState("71", 9)
	require.NoError(t, err)
	assert.Equal(t, 7, order)
	assert.True(t, on)

	_, _, err = DecodeCompactState("71", 6)
	require.Error(t, err)
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError("bad value %q", "x")
	assert.Equal(t, fmt.Sprintf("bad value %q", "x"), err.Error())
}
