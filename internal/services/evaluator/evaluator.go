// Package evaluator compares live indicator values against stored trigger
// conditions.
package evaluator

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfold/dealer/internal/domain"
)

// IndicatorSource provides current indicator values.
type IndicatorSource interface {
	GetIndicator(ctx context.Context, symbol string, indicator domain.Indicator, timeframe string) (decimal.Decimal, error)
}

// Result is the outcome of one condition evaluation.
type Result struct {
	Met          bool
	CurrentValue decimal.Decimal
}

// Evaluator is stateless: each call fetches the indicator and applies the
// condition's comparison.
type Evaluator struct {
	source IndicatorSource
	logger *zap.Logger
}

// New creates a condition evaluator.
func New(source IndicatorSource, logger *zap.Logger) *Evaluator {
	return &Evaluator{source: source, logger: logger}
}

// Evaluate fetches the indicator and compares it against the condition's
// threshold. A fetch failure yields met=false and is logged, never raised:
// a transient data outage must not fire tasks spuriously nor fail them.
func (e *Evaluator) Evaluate(ctx context.Context, cond *domain.Condition) Result {
	current, err := e.source.GetIndicator(ctx, cond.Symbol, cond.Indicator, cond.Timeframe)
	if err != nil {
		e.logger.Warn("condition data fetch failed, treating as not met",
			zap.String("condition", cond.String()),
			zap.Error(err))
		return Result{Met: false}
	}

	return Result{
		Met:          cond.Operator.Compare(current, cond.Value),
		CurrentValue: current,
	}
}
