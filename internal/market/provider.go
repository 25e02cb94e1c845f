// Package market provides the market context provider: candle fetching,
// indicator computation and per-asset context assembly for the engine.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfold/dealer/internal/domain"
	"github.com/quantfold/dealer/pkg/indicators"
)

const (
	defaultCandleLimit = 100
	minCandlesRequired = 50

	cacheTTL = 5 * time.Second
)

// CandleSource fetches raw OHLCV candles from an exchange.
type CandleSource interface {
	// GetCandles fetches up to limit candles for symbol at the given
	// exchange-native interval, oldest first.
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.MarketCandle, error)
}

// Provider computes indicator values and asset contexts from a candle
// source. Candle responses are cached briefly so a scheduler tick and a
// dealer chunk hitting the same (symbol, interval) within the window don't
// refetch.
type Provider struct {
	source CandleSource
	cache  *ristretto.Cache
	logger *zap.Logger
}

// NewProvider creates a market context provider.
func NewProvider(source CandleSource, logger *zap.Logger) (*Provider, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 12,
		MaxCost:     1 << 10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init candle cache")
	}

	return &Provider{
		source: source,
		cache:  cache,
		logger: logger,
	}, nil
}

// GetCandles fetches candles, serving from cache when fresh. Failures are
// wrapped as ErrDataUnavailable so callers can degrade instead of aborting.
func (p *Provider) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.MarketCandle, error) {
	key := fmt.Sprintf("%s|%s|%d", symbol, interval, limit)
	if cached, ok := p.cache.Get(key); ok {
		if candles, ok := cached.([]domain.MarketCandle); ok {
			return candles, nil
		}
	}

	candles, err := p.source.GetCandles(ctx, symbol, interval, limit)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrDataUnavailable, "fetch candles for %s %s: %v", symbol, interval, err)
	}
	if len(candles) == 0 {
		return nil, errors.Wrapf(domain.ErrDataUnavailable, "no candles returned for %s %s", symbol, interval)
	}

	p.cache.SetWithTTL(key, candles, 1, cacheTTL)
	return candles, nil
}

// GetIndicator returns the current scalar value of the indicator for
// (symbol, timeframe). Composite indicators resolve to a fixed field:
// MACD yields the macd line, stochastic yields %K. The mapping is policy,
// not user-configurable.
func (p *Provider) GetIndicator(ctx context.Context, symbol string, indicator domain.Indicator, timeframe string) (decimal.Decimal, error) {
	candles, err := p.GetCandles(ctx, symbol, timeframe, defaultCandleLimit)
	if err != nil {
		return decimal.Zero, err
	}

	if indicator == domain.IndicatorPrice {
		return candles[len(candles)-1].Close, nil
	}

	if len(candles) < minCandlesRequired {
		return decimal.Zero, errors.Wrapf(domain.ErrDataUnavailable,
			"not enough candles for %s on %s: got %d, need %d", indicator, symbol, len(candles), minCandlesRequired)
	}

	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	switch indicator {
	case domain.IndicatorRSI:
		series, err := indicators.CalculateRSI(closes, 14)
		if err != nil {
			return decimal.Zero, errors.Wrapf(domain.ErrDataUnavailable, "rsi for %s: %v", symbol, err)
		}
		return last(series)
	case domain.IndicatorEMA:
		series, err := indicators.CalculateEMA(closes, 20)
		if err != nil {
			return decimal.Zero, errors.Wrapf(domain.ErrDataUnavailable, "ema for %s: %v", symbol, err)
		}
		return last(series)
	case domain.IndicatorSMA:
		series, err := indicators.CalculateSMA(closes, 20)
		if err != nil {
			return decimal.Zero, errors.Wrapf(domain.ErrDataUnavailable, "sma for %s: %v", symbol, err)
		}
		return last(series)
	case domain.IndicatorMACD:
		series, err := indicators.CalculateMACD(closes)
		if err != nil {
			return decimal.Zero, errors.Wrapf(domain.ErrDataUnavailable, "macd for %s: %v", symbol, err)
		}
		if len(series) == 0 {
			return decimal.Zero, errors.Wrapf(domain.ErrDataUnavailable, "empty macd series for %s", symbol)
		}
		return series[len(series)-1].MACD, nil
	case domain.IndicatorATR:
		series, err := indicators.CalculateATR(candles, 14)
		if err != nil {
			return decimal.Zero, errors.Wrapf(domain.ErrDataUnavailable, "atr for %s: %v", symbol, err)
		}
		return last(series)
	case domain.IndicatorStoch:
		series, err := indicators.CalculateStochastic(candles)
		if err != nil {
			return decimal.Zero, errors.Wrapf(domain.ErrDataUnavailable, "stochastic for %s: %v", symbol, err)
		}
		if len(series) == 0 {
			return decimal.Zero, errors.Wrapf(domain.ErrDataUnavailable, "empty stochastic series for %s", symbol)
		}
		return series[len(series)-1].K, nil
	default:
		return decimal.Zero, fmt.Errorf("unknown indicator: %s", indicator)
	}
}

// GetSummary builds the headline metrics for (symbol, interval), used as
// the macro timeframe snapshot in asset contexts.
func (p *Provider) GetSummary(ctx context.Context, symbol, interval string) (*domain.TimeframeSummary, error) {
	candles, err := p.GetCandles(ctx, symbol, interval, defaultCandleLimit)
	if err != nil {
		return nil, err
	}
	if len(candles) < minCandlesRequired {
		return nil, errors.Wrapf(domain.ErrDataUnavailable, "not enough candles for summary of %s", symbol)
	}

	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	ema20, err := indicators.CalculateEMA(closes, 20)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrDataUnavailable, "ema20 for %s: %v", symbol, err)
	}
	ema50, err := indicators.CalculateEMA(closes, 50)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrDataUnavailable, "ema50 for %s: %v", symbol, err)
	}
	rsi14, err := indicators.CalculateRSI(closes, 14)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrDataUnavailable, "rsi14 for %s: %v", symbol, err)
	}

	price := candles[len(candles)-1].Close
	e20, _ := last(ema20)
	e50, _ := last(ema50)
	r14, _ := last(rsi14)

	return &domain.TimeframeSummary{
		Interval: interval,
		Price:    price,
		EMA20:    e20,
		EMA50:    e50,
		RSI14:    r14,
		Trend:    domain.DetermineTrend(price, e20, e50),
	}, nil
}

// BuildAssetContext assembles the oracle-facing context for one asset:
// price, indicator set, optional macro snapshot and the injected position.
func (p *Provider) BuildAssetContext(ctx context.Context, coin, timeframe, macroTimeframe string, position *domain.Position) (*domain.AssetContext, error) {
	symbol := Symbol(coin)

	price, err := p.GetIndicator(ctx, symbol, domain.IndicatorPrice, timeframe)
	if err != nil {
		return nil, err
	}

	values := make(map[string]decimal.Decimal)
	for _, ind := range []domain.Indicator{domain.IndicatorRSI, domain.IndicatorEMA, domain.IndicatorMACD} {
		v, err := p.GetIndicator(ctx, symbol, ind, timeframe)
		if err != nil {
			p.logger.Warn("indicator unavailable, omitting from context",
				zap.String("coin", coin),
				zap.String("indicator", string(ind)),
				zap.Error(err))
			continue
		}
		values[string(ind)] = v
	}

	assetCtx := &domain.AssetContext{
		Coin:       coin,
		Price:      price,
		Indicators: values,
	}

	if macroTimeframe != "" {
		macro, err := p.GetSummary(ctx, symbol, macroTimeframe)
		if err != nil {
			p.logger.Warn("macro timeframe unavailable, continuing without it",
				zap.String("coin", coin),
				zap.String("timeframe", macroTimeframe),
				zap.Error(err))
		} else {
			assetCtx.Macro = macro
		}
	}

	if position != nil {
		assetCtx.Position = &domain.PositionContext{
			Side:          position.Side.String(),
			Size:          position.Size,
			EntryPrice:    position.EntryPrice,
			UnrealizedPnL: position.UnrealizedPnL,
		}
	}

	return assetCtx, nil
}

// Symbol maps a coin name to its exchange trading symbol.
func Symbol(coin string) string {
	return coin + "USDT"
}

func last(series []decimal.Decimal) (decimal.Decimal, error) {
	if len(series) == 0 {
		return decimal.Zero, domain.ErrDataUnavailable
	}
	return series[len(series)-1], nil
}
