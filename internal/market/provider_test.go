package market

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfold/dealer/internal/domain"
)

// fakeSource serves a synthetic candle series.
type fakeSource struct {
	candles []domain.MarketCandle
	err     error
	calls   int
}

func (s *fakeSource) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.MarketCandle, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.candles, nil
}

func risingCandles(n int) []domain.MarketCandle {
	now := time.Now()
	out := make([]domain.MarketCandle, n)
	for i := 0; i < n; i++ {
		price := decimal.NewFromInt(int64(100 + i))
		out[i] = domain.MarketCandle{
			Open:      price,
			High:      price.Add(decimal.NewFromInt(1)),
			Low:       price.Sub(decimal.NewFromInt(1)),
			Close:     price,
			Volume:    decimal.NewFromInt(10),
			OpenTime:  now.Add(time.Duration(i) * time.Minute),
			CloseTime: now.Add(time.Duration(i+1) * time.Minute),
		}
	}
	return out
}

func TestProvider_GetIndicatorPrice(t *testing.T) {
	source := &fakeSource{candles: risingCandles(100)}
	p, err := NewProvider(source, zap.NewNop())
	require.NoError(t, err)

	price, err := p.GetIndicator(context.Background(), "BTCUSDT", domain.IndicatorPrice, "60")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(199)), "price is the last close, got %s", price)
}

func TestProvider_GetIndicatorRSI(t *testing.T) {
	source := &fakeSource{candles: risingCandles(100)}
	p, err := NewProvider(source, zap.NewNop())
	require.NoError(t, err)

	rsi, err := p.GetIndicator(context.Background(), "BTCUSDT", domain.IndicatorRSI, "60")
	require.NoError(t, err)
	// a monotonically rising series saturates RSI near 100
	assert.True(t, rsi.GreaterThan(decimal.NewFromInt(90)), "got %s", rsi)
}

func TestProvider_SourceFailureIsDataUnavailable(t *testing.T) {
	source := &fakeSource{err: errors.New("exchange 503")}
	p, err := NewProvider(source, zap.NewNop())
	require.NoError(t, err)

	_, err = p.GetCandles(context.Background(), "BTCUSDT", "60", 100)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)

	_, err = p.GetIndicator(context.Background(), "BTCUSDT", domain.IndicatorRSI, "60")
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestProvider_NotEnoughCandles(t *testing.T) {
	source := &fakeSource{candles: risingCandles(20)}
	p, err := NewProvider(source, zap.NewNop())
	require.NoError(t, err)

	// price still works on a short series
	_, err = p.GetIndicator(context.Background(), "BTCUSDT", domain.IndicatorPrice, "60")
	require.NoError(t, err)

	_, err = p.GetIndicator(context.Background(), "BTCUSDT", domain.IndicatorRSI, "60")
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestProvider_BuildAssetContext(t *testing.T) {
	source := &fakeSource{candles: risingCandles(100)}
	p, err := NewProvider(source, zap.NewNop())
	require.NoError(t, err)

	position := &domain.Position{
		Coin:       "BTC",
		Side:       domain.PositionSideLong,
		Size:       decimal.NewFromFloat(0.5),
		EntryPrice: decimal.NewFromInt(150),
	}

	assetCtx, err := p.BuildAssetContext(context.Background(), "BTC", "60", "", position)
	require.NoError(t, err)

	assert.Equal(t, "BTC", assetCtx.Coin)
	assert.True(t, assetCtx.Price.Equal(decimal.NewFromInt(199)))
	assert.Contains(t, assetCtx.Indicators, "rsi")
	assert.Contains(t, assetCtx.Indicators, "ema")
	require.NotNil(t, assetCtx.Position)
	assert.Equal(t, "long", assetCtx.Position.Side)
	assert.Nil(t, assetCtx.Macro)
}

func TestSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Symbol("BTC"))
	assert.Equal(t, "ETHUSDT", Symbol("ETH"))
}
