// Package indicators provides technical analysis indicators (EMA, SMA, MACD, RSI, ATR, Stochastic).
package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/shopspring/decimal"

	"github.com/quantfold/dealer/internal/domain"
)

// MACDValue is the composite MACD result for one point in the series.
type MACDValue struct {
	MACD      decimal.Decimal
	Signal    decimal.Decimal
	Histogram decimal.Decimal
}

// StochValue is the composite stochastic oscillator result.
type StochValue struct {
	K decimal.Decimal
	D decimal.Decimal
}

// CalculateEMA calculates the Exponential Moving Average for the given period.
func CalculateEMA(closes []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if len(closes) < period {
		return nil, fmt.Errorf("not enough data points: need %d, got %d", period, len(closes))
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	out := helper.ChanToSlice(ema.Compute(helper.SliceToChan(decimalsToFloat64(closes))))

	return float64ToDecimals(out), nil
}

// CalculateSMA calculates the Simple Moving Average for the given period.
func CalculateSMA(closes []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if len(closes) < period {
		return nil, fmt.Errorf("not enough data points: need %d, got %d", period, len(closes))
	}

	sma := trend.NewSmaWithPeriod[float64](period)
	out := helper.ChanToSlice(sma.Compute(helper.SliceToChan(decimalsToFloat64(closes))))

	return float64ToDecimals(out), nil
}

// CalculateRSI calculates the Relative Strength Index for the given period.
func CalculateRSI(closes []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if len(closes) < period+1 {
		return nil, fmt.Errorf("not enough data points for RSI: need %d, got %d", period+1, len(closes))
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := helper.ChanToSlice(rsi.Compute(helper.SliceToChan(decimalsToFloat64(closes))))

	return float64ToDecimals(out), nil
}

// CalculateMACD calculates composite MACD values (macd line, signal, histogram).
func CalculateMACD(closes []decimal.Decimal) ([]MACDValue, error) {
	if len(closes) < 26 {
		return nil, fmt.Errorf("not enough data points for MACD: need at least 26, got %d", len(closes))
	}

	macd := trend.NewMacd[float64]()
	macdChan, signalChan := macd.Compute(helper.SliceToChan(decimalsToFloat64(closes)))
	signalBuf := make(chan float64, len(closes))
	go func() {
		defer close(signalBuf)
		for v := range signalChan {
			signalBuf <- v
		}
	}()
	macdLine := helper.ChanToSlice(macdChan)
	signalLine := helper.ChanToSlice(signalBuf)

	n := len(macdLine)
	if len(signalLine) < n {
		n = len(signalLine)
	}

	values := make([]MACDValue, n)
	for i := 0; i < n; i++ {
		m := macdLine[len(macdLine)-n+i]
		s := signalLine[len(signalLine)-n+i]
		values[i] = MACDValue{
			MACD:      decimal.NewFromFloat(m),
			Signal:    decimal.NewFromFloat(s),
			Histogram: decimal.NewFromFloat(m - s),
		}
	}

	return values, nil
}

// CalculateATR calculates the Average True Range for the given period.
func CalculateATR(candles []domain.MarketCandle, period int) ([]decimal.Decimal, error) {
	if len(candles) < period+1 {
		return nil, fmt.Errorf("not enough data points for ATR: need %d, got %d", period+1, len(candles))
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i], _ = c.High.Float64()
		lows[i], _ = c.Low.Float64()
		closes[i], _ = c.Close.Float64()
	}

	atr := volatility.NewAtrWithPeriod[float64](period)
	out := helper.ChanToSlice(atr.Compute(
		helper.SliceToChan(highs),
		helper.SliceToChan(lows),
		helper.SliceToChan(closes),
	))

	return float64ToDecimals(out), nil
}

// CalculateStochastic calculates the stochastic oscillator (%K and %D).
func CalculateStochastic(candles []domain.MarketCandle) ([]StochValue, error) {
	if len(candles) < 14 {
		return nil, fmt.Errorf("not enough data points for stochastic: need at least 14, got %d", len(candles))
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i], _ = c.High.Float64()
		lows[i], _ = c.Low.Float64()
		closes[i], _ = c.Close.Float64()
	}

	stoch := momentum.NewStochasticOscillator[float64]()
	kChan, dChan := stoch.Compute(
		helper.SliceToChan(highs),
		helper.SliceToChan(lows),
		helper.SliceToChan(closes),
	)
	dBuf := make(chan float64, len(candles))
	go func() {
		defer close(dBuf)
		for v := range dChan {
			dBuf <- v
		}
	}()
	kLine := helper.ChanToSlice(kChan)
	dLine := helper.ChanToSlice(dBuf)

	n := len(kLine)
	if len(dLine) < n {
		n = len(dLine)
	}

	values := make([]StochValue, n)
	for i := 0; i < n; i++ {
		values[i] = StochValue{
			K: decimal.NewFromFloat(kLine[len(kLine)-n+i]),
			D: decimal.NewFromFloat(dLine[len(dLine)-n+i]),
		}
	}

	return values, nil
}

// decimalsToFloat64 converts a slice of decimal.Decimal to []float64.
func decimalsToFloat64(decimals []decimal.Decimal) []float64 {
	result := make([]float64, len(decimals))
	for i, d := range decimals {
		result[i], _ = d.Float64()
	}
	return result
}

// float64ToDecimals converts a slice of float64 to []decimal.Decimal.
func float64ToDecimals(floats []float64) []decimal.Decimal {
	result := make([]decimal.Decimal, len(floats))
	for i, f := range floats {
		result[i] = decimal.NewFromFloat(f)
	}
	return result
}
