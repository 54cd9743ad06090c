package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeQuantityRoundsDown(t *testing.T) {
	cases := []struct {
		size, price float64
		rules       Rules
		want        float64
	}{
		{0.12345, 50000, Rules{StepSize: 0.001}, 0.123},
		{0.0999999, 3000, Rules{StepSize: 0.01}, 0.09},
		{15.7, 1, Rules{StepSize: 1}, 15},
		{1.23456789, 10, Rules{}, 1.23456789},
	}
	for _, tc := range cases {
		got, err := NormalizeQuantity(tc.size, tc.price, tc.rules)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
		assert.LessOrEqual(t, got, tc.size)
	}
}

func TestNormalizeQuantityRejects(t *testing.T) {
	_, err := NormalizeQuantity(0.0004, 50000, Rules{StepSize: 0.001})
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = NormalizeQuantity(0.001, 1000, Rules{StepSize: 0.001, MinNotional: 5})
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = NormalizeQuantity(-1, 1, Rules{})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestFormatQuantity(t *testing.T) {
	assert.Equal(t, "0.123", FormatQuantity(0.1239, 0.001))
	assert.Equal(t, "15", FormatQuantity(15.9, 1))
	assert.Equal(t, "0.50", FormatQuantity(0.5, 0.01))
}

func TestSizeFromMargin(t *testing.T) {
	assert.InDelta(t, 0.1, SizeFromMargin(10000, 0.1, 5, 50000), 1e-12)
	assert.Zero(t, SizeFromMargin(0, 0.1, 5, 50000))
}

func TestClassify(t *testing.T) {
	assert.True(t, IsTransient(Classify(context.DeadlineExceeded)))
	assert.False(t, IsTransient(Classify(errors.New("boom"))))
	assert.ErrorIs(t, Classify(ErrInvalidSize), ErrRejected)
	assert.Nil(t, Classify(nil))
	wrapped := NewError(ErrInvalidSize, "binance", -1111, "precision", nil)
	assert.ErrorIs(t, wrapped, ErrRejected)
	assert.False(t, IsFatal(wrapped))
}
