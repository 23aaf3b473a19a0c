package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/marketplace-settlement/internal/domain/valueobject"
)

func TestNewCommission(t *testing.T) {
	subtotal, err := valueobject.NewMoney(decimal.RequireFromString("1000.00"), "USD")
	require.NoError(t, err)

	c, err := NewCommission(uuid.New(), uuid.New(), nil, subtotal, decimal.NewFromInt(5), decimal.NewFromInt(10))
	require.NoError(t, err)

	assert.True(t, c.CommissionAmount.Equal(decimal.RequireFromString("50")))
	assert.True(t, c.PlatformFee.Equal(decimal.RequireFromString("5")))
	assert.True(t, c.NetAmount.Equal(decimal.RequireFromString("45")))
	assert.Equal(t, valueobject.CommissionStatusPending, c.Status)
	assert.Equal(t, "usd", c.CurrencyCode)
	assert.JSONEq(t, `{}`, string(c.Metadata))
}

func TestNewCommission_RejectsRateOutOfRange(t *testing.T) {
	subtotal, err := valueobject.NewMoney(decimal.NewFromInt(10), "usd")
	require.NoError(t, err)

	_, err = NewCommission(uuid.New(), uuid.New(), nil, subtotal, decimal.NewFromInt(101), decimal.Zero)
	assert.Error(t, err)

	_, err = NewCommission(uuid.New(), uuid.New(), nil, subtotal, decimal.NewFromInt(5), decimal.NewFromInt(-1))
	assert.Error(t, err)
}
