package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperator_Compare(t *testing.T) {
	tests := []struct {
		op        Operator
		current   int64
		threshold int64
		want      bool
	}{
		{OperatorLess, 28, 30, true},
		{OperatorLess, 30, 30, false},
		{OperatorGreater, 70, 65, true},
		{OperatorGreater, 65, 65, false},
		{OperatorLessEqual, 30, 30, true},
		{OperatorLessEqual, 31, 30, false},
		{OperatorGreaterEqual, 65, 65, true},
		{OperatorGreaterEqual, 64, 65, false},
		{OperatorEqual, 50, 50, true},
		{OperatorEqual, 50, 51, false},
	}

	for _, tt := range tests {
		got := tt.op.Compare(decimal.NewFromInt(tt.current), decimal.NewFromInt(tt.threshold))
		assert.Equal(t, tt.want, got, "%d %s %d", tt.current, tt.op, tt.threshold)
	}
}

func TestNewCondition(t *testing.T) {
	cond, err := NewCondition("BTCUSDT", IndicatorRSI, OperatorLess, decimal.NewFromInt(30), "60")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", cond.Symbol)

	_, err = NewCondition("", IndicatorRSI, OperatorLess, decimal.NewFromInt(30), "60")
	assert.Error(t, err, "symbol is required")

	_, err = NewCondition("BTCUSDT", Indicator("volume"), OperatorLess, decimal.NewFromInt(30), "60")
	assert.Error(t, err, "unknown indicator")

	_, err = NewCondition("BTCUSDT", IndicatorRSI, Operator("!="), decimal.NewFromInt(30), "60")
	assert.Error(t, err, "unknown operator")
}
