package domain

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Indicator names a technical indicator a condition can be bound to.
type Indicator string

const (
	IndicatorPrice Indicator = "price"
	IndicatorRSI   Indicator = "rsi"
	IndicatorMACD  Indicator = "macd"
	IndicatorEMA   Indicator = "ema"
	IndicatorSMA   Indicator = "sma"
	IndicatorStoch Indicator = "stoch"
	IndicatorATR   Indicator = "atr"
)

// IsValid checks the indicator is one the market provider can compute.
func (i Indicator) IsValid() bool {
	switch i {
	case IndicatorPrice, IndicatorRSI, IndicatorMACD, IndicatorEMA, IndicatorSMA, IndicatorStoch, IndicatorATR:
		return true
	}
	return false
}

// Operator is a numeric comparison operator for trigger conditions.
type Operator string

const (
	OperatorLess         Operator = "<"
	OperatorGreater      Operator = ">"
	OperatorLessEqual    Operator = "<="
	OperatorGreaterEqual Operator = ">="
	OperatorEqual        Operator = "=="
)

// IsValid checks the operator is supported.
func (o Operator) IsValid() bool {
	switch o {
	case OperatorLess, OperatorGreater, OperatorLessEqual, OperatorGreaterEqual, OperatorEqual:
		return true
	}
	return false
}

// Compare applies the operator to (current, threshold).
func (o Operator) Compare(current, threshold decimal.Decimal) bool {
	switch o {
	case OperatorLess:
		return current.LessThan(threshold)
	case OperatorGreater:
		return current.GreaterThan(threshold)
	case OperatorLessEqual:
		return current.LessThanOrEqual(threshold)
	case OperatorGreaterEqual:
		return current.GreaterThanOrEqual(threshold)
	case OperatorEqual:
		return current.Equal(threshold)
	default:
		return false
	}
}

// Condition is a trigger rule attached to a scheduled task. Immutable once
// attached: the scheduler only reads it.
type Condition struct {
	Symbol    string          `json:"symbol"`
	Indicator Indicator       `json:"indicator"`
	Operator  Operator        `json:"operator"`
	Value     decimal.Decimal `json:"value"`
	Timeframe string          `json:"timeframe"`
}

// NewCondition builds a validated trigger condition.
func NewCondition(symbol string, indicator Indicator, operator Operator, value decimal.Decimal, timeframe string) (*Condition, error) {
	c := &Condition{
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Indicator: indicator,
		Operator:  operator,
		Value:     value,
		Timeframe: timeframe,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the condition fields.
func (c *Condition) Validate() error {
	if c.Symbol == "" {
		return errors.New("condition symbol is required")
	}
	if !c.Indicator.IsValid() {
		return fmt.Errorf("unknown indicator: %s", c.Indicator)
	}
	if !c.Operator.IsValid() {
		return fmt.Errorf("unknown operator: %s", c.Operator)
	}
	if c.Timeframe == "" {
		return errors.New("condition timeframe is required")
	}
	return nil
}

// String returns a human-readable representation.
func (c *Condition) String() string {
	return fmt.Sprintf("%s %s(%s) %s %s", c.Symbol, c.Indicator, c.Timeframe, c.Operator, c.Value.String())
}
