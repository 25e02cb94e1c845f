package market

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/quantfold/dealer/internal/domain"
)

// BinanceCandleSource implements CandleSource for Binance.
type BinanceCandleSource struct {
	client *binance.Client
}

// NewBinanceCandleSource creates a new Binance candle source.
func NewBinanceCandleSource(client *binance.Client) *BinanceCandleSource {
	return &BinanceCandleSource{client: client}
}

// GetCandles fetches kline data from Binance. Interval is Binance-native
// (e.g. "1m", "1h", "4h").
func (s *BinanceCandleSource) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.MarketCandle, error) {
	klines, err := s.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch klines from Binance for %s", symbol)
	}

	result := make([]domain.MarketCandle, len(klines))
	for i, k := range klines {
		candle, err := parseBinanceKline(k)
		if err != nil {
			return nil, errors.Wrapf(err, "parse kline at index %d", i)
		}
		result[i] = candle
	}

	return result, nil
}

func parseBinanceKline(k *binance.Kline) (domain.MarketCandle, error) {
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return domain.MarketCandle{}, errors.Wrap(err, "parse open price")
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return domain.MarketCandle{}, errors.Wrap(err, "parse high price")
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return domain.MarketCandle{}, errors.Wrap(err, "parse low price")
	}
	closePrice, err := decimal.NewFromString(k.Close)
	if err != nil {
		return domain.MarketCandle{}, errors.Wrap(err, "parse close price")
	}
	volume, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return domain.MarketCandle{}, errors.Wrap(err, "parse volume")
	}

	return domain.MarketCandle{
		OpenTime:  time.Unix(0, k.OpenTime*int64(time.Millisecond)),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		CloseTime: time.Unix(0, k.CloseTime*int64(time.Millisecond)),
	}, nil
}
