package market

import (
	"context"
	"strconv"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/quantfold/dealer/internal/domain"
)

// BybitCandleSource implements CandleSource for Bybit.
type BybitCandleSource struct {
	client *bybit.Client
}

// NewBybitCandleSource creates a new Bybit candle source.
func NewBybitCandleSource(client *bybit.Client) *BybitCandleSource {
	return &BybitCandleSource{client: client}
}

// GetCandles fetches kline data from Bybit. Interval is Bybit-native
// (minutes as a string, e.g. "60" for hourly).
func (s *BybitCandleSource) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.MarketCandle, error) {
	resp, err := s.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(symbol),
		Interval: bybit.Interval(interval),
		Limit:    &limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetch klines from Bybit for %s", symbol)
	}

	list := resp.Result.List
	// Bybit returns newest first; normalize to oldest first.
	result := make([]domain.MarketCandle, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		candle, err := parseBybitKline(list[i])
		if err != nil {
			return nil, errors.Wrapf(err, "parse kline at index %d", i)
		}
		result = append(result, candle)
	}

	return result, nil
}

func parseBybitKline(item bybit.V5GetKlineItem) (domain.MarketCandle, error) {
	startMs, err := strconv.ParseInt(item.StartTime, 10, 64)
	if err != nil {
		return domain.MarketCandle{}, errors.Wrap(err, "parse start time")
	}
	open, err := decimal.NewFromString(item.Open)
	if err != nil {
		return domain.MarketCandle{}, errors.Wrap(err, "parse open price")
	}
	high, err := decimal.NewFromString(item.High)
	if err != nil {
		return domain.MarketCandle{}, errors.Wrap(err, "parse high price")
	}
	low, err := decimal.NewFromString(item.Low)
	if err != nil {
		return domain.MarketCandle{}, errors.Wrap(err, "parse low price")
	}
	closePrice, err := decimal.NewFromString(item.Close)
	if err != nil {
		return domain.MarketCandle{}, errors.Wrap(err, "parse close price")
	}
	volume, err := decimal.NewFromString(item.Volume)
	if err != nil {
		return domain.MarketCandle{}, errors.Wrap(err, "parse volume")
	}

	return domain.MarketCandle{
		OpenTime: time.Unix(0, startMs*int64(time.Millisecond)),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closePrice,
		Volume:   volume,
	}, nil
}
