package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrendDirection qualitative direction of price action.
type TrendDirection string

const (
	TrendDirectionBullish TrendDirection = "bullish"
	TrendDirectionBearish TrendDirection = "bearish"
	TrendDirectionNeutral TrendDirection = "neutral"
)

// MarketCandle single OHLCV candlestick.
type MarketCandle struct {
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime time.Time
}

// TimeframeSummary headline metrics for a timeframe, used as the macro
// snapshot in asset contexts.
type TimeframeSummary struct {
	Interval string          `json:"interval"`
	Price    decimal.Decimal `json:"price"`
	EMA20    decimal.Decimal `json:"ema20"`
	EMA50    decimal.Decimal `json:"ema50"`
	RSI14    decimal.Decimal `json:"rsi14"`
	Trend    TrendDirection  `json:"trend"`
}

// DetermineTrend classifies price action against its moving averages.
func DetermineTrend(price, ema20, ema50 decimal.Decimal) TrendDirection {
	if price.GreaterThan(ema20) && ema20.GreaterThan(ema50) {
		return TrendDirectionBullish
	}
	if price.LessThan(ema20) && ema20.LessThan(ema50) {
		return TrendDirectionBearish
	}
	return TrendDirectionNeutral
}

// PositionContext is the position state injected into an asset's market
// context before it is handed to the oracle. The oracle is never asked to
// infer position state from memory.
type PositionContext struct {
	Side          string          `json:"side"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// AssetContext is the per-asset bundle submitted to the oracle: market data
// plus current position state.
type AssetContext struct {
	Coin       string                     `json:"coin"`
	Price      decimal.Decimal            `json:"price"`
	Indicators map[string]decimal.Decimal `json:"indicators"`
	Macro      *TimeframeSummary          `json:"macro,omitempty"`
	Position   *PositionContext           `json:"position,omitempty"`
}

// RiskSettings are the limits included in every oracle call so sizing
// suggestions stay inside configured bounds.
type RiskSettings struct {
	MaxPositionSizeUSDC decimal.Decimal `json:"max_position_size_usdc"`
	MaxOpenPositions    int             `json:"max_open_positions"`
	MaxTradesPerCycle   int             `json:"max_trades_per_cycle"`
	DefaultLeverage     int             `json:"default_leverage"`
	Aggressive          bool            `json:"aggressive"`
}
