package domain

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// MinTradeUSDC is the economic floor for opening trades. Trades sized below
// it are skipped; CLOSE always proceeds.
var MinTradeUSDC = decimal.NewFromInt(10)

// balanceHeadroom keeps a margin of the available balance unspent to cover
// fees and funding adjustments.
var balanceHeadroom = decimal.NewFromFloat(0.95)

// OrderType distinguishes market-style and resting orders on a venue.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// ExecutionIntent is the normalized instruction handed to a venue client.
// Built fresh per execution and never retried verbatim: price and size must
// be revalidated before a new attempt.
type ExecutionIntent struct {
	Coin             string
	Action           Action
	OrderType        OrderType
	Price            decimal.Decimal
	SizeUSDC         decimal.Decimal
	Leverage         int
	StopLoss         decimal.Decimal
	TakeProfit       decimal.Decimal
	IdempotencyToken string
}

// NewExecutionIntent builds an intent from a ranked decision, applying the
// sizing policy: min(requested, maxPositionSize, balance*leverage*headroom).
func NewExecutionIntent(d CycleDecision, maxPositionSizeUSDC, availableBalance decimal.Decimal, defaultLeverage int) (*ExecutionIntent, error) {
	action := d.ToAction()
	if action == ActionHold {
		return nil, errors.New("hold decisions are not executable")
	}

	leverage := d.SuggestedLeverage
	if leverage <= 0 {
		leverage = defaultLeverage
	}
	if leverage < 1 {
		leverage = 1
	}

	size := CapTradeSize(d.Size(), maxPositionSizeUSDC, availableBalance, leverage)

	return &ExecutionIntent{
		Coin:             d.Coin,
		Action:           action,
		OrderType:        OrderTypeMarket,
		SizeUSDC:         size,
		Leverage:         leverage,
		StopLoss:         decimal.NewFromFloat(d.StopLoss),
		TakeProfit:       decimal.NewFromFloat(d.TakeProfit),
		IdempotencyToken: uuid.NewString(),
	}, nil
}

// CapTradeSize computes min(requested, maxPositionSize, balance*leverage*headroom).
// A non-positive requested size falls back to the position cap so the oracle
// may omit sizing entirely.
func CapTradeSize(requested, maxPositionSizeUSDC, availableBalance decimal.Decimal, leverage int) decimal.Decimal {
	if leverage < 1 {
		leverage = 1
	}

	size := requested
	if size.LessThanOrEqual(decimal.Zero) {
		size = maxPositionSizeUSDC
	}
	if maxPositionSizeUSDC.GreaterThan(decimal.Zero) && size.GreaterThan(maxPositionSizeUSDC) {
		size = maxPositionSizeUSDC
	}

	buyingPower := availableBalance.Mul(decimal.NewFromInt(int64(leverage))).Mul(balanceHeadroom)
	if size.GreaterThan(buyingPower) {
		size = buyingPower
	}

	if size.IsNegative() {
		return decimal.Zero
	}
	return size
}

// Uneconomical reports whether the intent is below the trade floor.
// CLOSE intents are never uneconomical: closing risk always proceeds.
func (i *ExecutionIntent) Uneconomical() bool {
	if i.Action == ActionClose {
		return false
	}
	return i.SizeUSDC.LessThan(MinTradeUSDC)
}
