// Package promptbuilder formats batched market contexts, portfolio state and
// risk settings into token-efficient prompts for the decision oracle.
package promptbuilder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quantfold/dealer/internal/domain"
)

// BatchRequest is everything one oracle call needs: the chunk's asset
// contexts plus batch-level risk settings and condensed history.
type BatchRequest struct {
	Contexts     []domain.AssetContext
	Risk         domain.RiskSettings
	StrategyText string
	RecentCycles []domain.CycleRecord
	LastError    string
}

// BuildUserPrompt renders the batch request as the oracle user prompt.
func BuildUserPrompt(req BatchRequest) string {
	var b strings.Builder

	if req.StrategyText != "" {
		b.WriteString("## STRATEGY\n")
		b.WriteString(req.StrategyText)
		b.WriteString("\n\n")
	}

	b.WriteString("## RISK SETTINGS\n")
	fmt.Fprintf(&b, "max_position_size_usdc: %s\n", req.Risk.MaxPositionSizeUSDC.String())
	fmt.Fprintf(&b, "max_open_positions: %d\n", req.Risk.MaxOpenPositions)
	fmt.Fprintf(&b, "max_trades_per_cycle: %d\n", req.Risk.MaxTradesPerCycle)
	fmt.Fprintf(&b, "default_leverage: %d\n", req.Risk.DefaultLeverage)
	fmt.Fprintf(&b, "aggressive: %t\n\n", req.Risk.Aggressive)

	if req.LastError != "" {
		b.WriteString("## LAST EXECUTION ERROR\n")
		b.WriteString(req.LastError)
		b.WriteString("\n\n")
	}

	if len(req.RecentCycles) > 0 {
		b.WriteString("## RECENT CYCLES\n")
		for _, cycle := range req.RecentCycles {
			fmt.Fprintf(&b, "- %s analyzed=%s", cycle.Timestamp.Format("15:04:05"), strings.Join(cycle.AssetsAnalyzed, ","))
			if len(cycle.Executed) > 0 {
				fmt.Fprintf(&b, " executed=%s", strings.Join(cycle.Executed, ","))
			}
			b.WriteString("\n")
			for _, d := range cycle.Decisions {
				if d.Action == "hold" {
					continue
				}
				fmt.Fprintf(&b, "    %s %s conf=%.2f\n", d.Coin, d.Action, d.Confidence)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("## ASSETS\n")
	for _, assetCtx := range req.Contexts {
		writeAssetContext(&b, assetCtx)
	}

	fmt.Fprintf(&b, "\nReturn a JSON array with exactly %d decisions, one per asset above, in the same order.\n", len(req.Contexts))

	return b.String()
}

func writeAssetContext(b *strings.Builder, assetCtx domain.AssetContext) {
	fmt.Fprintf(b, "### %s\n", assetCtx.Coin)
	fmt.Fprintf(b, "price: %s\n", assetCtx.Price.String())

	if len(assetCtx.Indicators) > 0 {
		names := make([]string, 0, len(assetCtx.Indicators))
		for name := range assetCtx.Indicators {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(b, "%s: %s\n", name, assetCtx.Indicators[name].StringFixed(4))
		}
	}

	if assetCtx.Macro != nil {
		fmt.Fprintf(b, "macro[%s]: price=%s ema20=%s ema50=%s rsi14=%s trend=%s\n",
			assetCtx.Macro.Interval,
			assetCtx.Macro.Price.StringFixed(2),
			assetCtx.Macro.EMA20.StringFixed(2),
			assetCtx.Macro.EMA50.StringFixed(2),
			assetCtx.Macro.RSI14.StringFixed(2),
			assetCtx.Macro.Trend)
	}

	if assetCtx.Position != nil {
		fmt.Fprintf(b, "position: side=%s size=%s entry=%s unrealized_pnl=%s\n",
			assetCtx.Position.Side,
			assetCtx.Position.Size.String(),
			assetCtx.Position.EntryPrice.String(),
			assetCtx.Position.UnrealizedPnL.String())
	} else {
		b.WriteString("position: none\n")
	}

	b.WriteString("\n")
}
