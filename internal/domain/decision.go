package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// closeConfidenceBoost is added to CLOSE decisions when ranking so that
// position-closing signals are never starved by a flood of entry signals.
const closeConfidenceBoost = 0.5

// CycleDecision is one per-asset recommendation returned by the decision
// oracle during a dealer cycle. Transient: only a bounded summary survives
// across cycles.
type CycleDecision struct {
	Coin              string  `json:"coin"`
	Action            string  `json:"action"`
	Confidence        float64 `json:"confidence"`
	SizeUSDC          float64 `json:"size_usdc,omitempty"`
	SuggestedLeverage int     `json:"suggested_leverage,omitempty"`
	StopLoss          float64 `json:"stop_loss,omitempty"`
	TakeProfit        float64 `json:"take_profit,omitempty"`
	Reason            string  `json:"reason"`
}

// ParseCycleDecisions parses the oracle's raw response into validated
// decisions. Markdown code fences are stripped first (oracles love them).
func ParseCycleDecisions(raw string) ([]CycleDecision, error) {
	payload := sanitizeOraclePayload(raw)

	if !json.Valid([]byte(payload)) {
		return nil, errors.New("invalid JSON structure in oracle response")
	}

	var decisions []CycleDecision
	if err := json.Unmarshal([]byte(payload), &decisions); err != nil {
		// some backends wrap the array in an object
		var wrapped struct {
			Decisions []CycleDecision `json:"decisions"`
		}
		if wrapErr := json.Unmarshal([]byte(payload), &wrapped); wrapErr != nil {
			return nil, errors.Wrap(err, "unmarshal oracle decisions")
		}
		decisions = wrapped.Decisions
	}

	for i := range decisions {
		if err := decisions[i].Validate(); err != nil {
			return nil, errors.Wrapf(err, "decision %d (%s)", i, decisions[i].Coin)
		}
	}

	return decisions, nil
}

func sanitizeOraclePayload(raw string) string {
	payload := strings.TrimSpace(raw)
	payload = strings.TrimPrefix(payload, "```json")
	payload = strings.TrimPrefix(payload, "```")
	payload = strings.TrimSuffix(payload, "```")
	return strings.TrimSpace(payload)
}

// Validate validates the decision fields.
func (d *CycleDecision) Validate() error {
	if d.Coin == "" {
		return errors.New("coin field is required")
	}
	if !isValidActionString(d.Action) {
		return fmt.Errorf("invalid action: %s", d.Action)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("invalid confidence: %f (must be 0.0-1.0)", d.Confidence)
	}
	if d.SizeUSDC < 0 {
		return fmt.Errorf("invalid size_usdc: %f", d.SizeUSDC)
	}
	if d.SuggestedLeverage < 0 {
		return fmt.Errorf("invalid suggested_leverage: %d", d.SuggestedLeverage)
	}
	return nil
}

// ToAction converts the decision action string to a typed Action.
func (d *CycleDecision) ToAction() Action {
	action, _ := ParseAction(d.Action)
	return action
}

// IsClose reports whether the decision closes an existing position.
func (d *CycleDecision) IsClose() bool {
	return d.Action == actionStringClose
}

// EffectiveConfidence is the ranking key: raw confidence, with CLOSE
// decisions boosted.
func (d *CycleDecision) EffectiveConfidence() float64 {
	if d.IsClose() {
		return d.Confidence + closeConfidenceBoost
	}
	return d.Confidence
}

// Size returns the requested notional as a decimal.
func (d *CycleDecision) Size() decimal.Decimal {
	return decimal.NewFromFloat(d.SizeUSDC)
}

// RankDecisions orders decisions descending by effective confidence.
// Sorting is stable so equal-confidence decisions keep oracle order.
func RankDecisions(decisions []CycleDecision) []CycleDecision {
	ranked := make([]CycleDecision, len(decisions))
	copy(ranked, decisions)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].EffectiveConfidence() > ranked[j].EffectiveConfidence()
	})
	return ranked
}

// FilterByConfidence drops decisions whose effective confidence falls below
// threshold, so CLOSE decisions benefit from their ranking boost here too.
// HOLD decisions are dropped unconditionally: they never reach execution.
// The dropped list is returned so callers can log every discarded decision
// with its rationale.
func FilterByConfidence(decisions []CycleDecision, threshold float64) (kept, dropped []CycleDecision) {
	for _, d := range decisions {
		if d.Action == actionStringHold || d.EffectiveConfidence() < threshold {
			dropped = append(dropped, d)
			continue
		}
		kept = append(kept, d)
	}
	return kept, dropped
}
