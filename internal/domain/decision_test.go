package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCycleDecisions(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{
			name: "plain array",
			raw:  `[{"coin":"BTC","action":"buy","confidence":0.8,"reason":"uptrend"}]`,
			want: 1,
		},
		{
			name: "fenced json",
			raw: "```json\n[{\"coin\":\"ETH\",\"action\":\"close\",\"confidence\":0.4,\"reason\":\"pnl target\"}]\n```",
			want: 1,
		},
		{
			name: "wrapped in object",
			raw:  `{"decisions":[{"coin":"BTC","action":"hold","confidence":0.9,"reason":"no edge"},{"coin":"SOL","action":"sell","confidence":0.7,"reason":"breakdown"}]}`,
			want: 2,
		},
		{
			name:    "invalid json",
			raw:     `[{"coin":"BTC"`,
			wantErr: true,
		},
		{
			name:    "unknown action",
			raw:     `[{"coin":"BTC","action":"yolo","confidence":0.8,"reason":"?"}]`,
			wantErr: true,
		},
		{
			name:    "confidence out of range",
			raw:     `[{"coin":"BTC","action":"buy","confidence":1.5,"reason":"!"}]`,
			wantErr: true,
		},
		{
			name:    "missing coin",
			raw:     `[{"action":"buy","confidence":0.8,"reason":"?"}]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decisions, err := ParseCycleDecisions(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, decisions, tt.want)
		})
	}
}

func TestCycleDecision_EffectiveConfidence(t *testing.T) {
	buy := CycleDecision{Coin: "BTC", Action: "buy", Confidence: 0.7}
	assert.InDelta(t, 0.7, buy.EffectiveConfidence(), 1e-9)

	close := CycleDecision{Coin: "ETH", Action: "close", Confidence: 0.4}
	assert.InDelta(t, 0.9, close.EffectiveConfidence(), 1e-9)
}

func TestRankDecisions(t *testing.T) {
	decisions := []CycleDecision{
		{Coin: "BTC", Action: "buy", Confidence: 0.7},
		{Coin: "ETH", Action: "close", Confidence: 0.4},
		{Coin: "SOL", Action: "buy", Confidence: 0.65},
	}

	ranked := RankDecisions(decisions)

	// ETH close ranks first at 0.9 effective, then BTC 0.7, then SOL 0.65
	require.Len(t, ranked, 3)
	assert.Equal(t, "ETH", ranked[0].Coin)
	assert.Equal(t, "BTC", ranked[1].Coin)
	assert.Equal(t, "SOL", ranked[2].Coin)

	// input order untouched
	assert.Equal(t, "BTC", decisions[0].Coin)
}

func TestRankDecisions_StableOnTies(t *testing.T) {
	decisions := []CycleDecision{
		{Coin: "BTC", Action: "buy", Confidence: 0.7},
		{Coin: "SOL", Action: "buy", Confidence: 0.7},
	}

	ranked := RankDecisions(decisions)
	assert.Equal(t, "BTC", ranked[0].Coin)
	assert.Equal(t, "SOL", ranked[1].Coin)
}

func TestFilterByConfidence(t *testing.T) {
	decisions := []CycleDecision{
		{Coin: "BTC", Action: "buy", Confidence: 0.8},
		{Coin: "ETH", Action: "close", Confidence: 0.3},  // 0.8 effective
		{Coin: "SOL", Action: "buy", Confidence: 0.5},    // below 0.60
		{Coin: "DOGE", Action: "hold", Confidence: 0.95}, // holds never execute
	}

	kept, dropped := FilterByConfidence(decisions, 0.60)

	require.Len(t, kept, 2)
	assert.Equal(t, "BTC", kept[0].Coin)
	assert.Equal(t, "ETH", kept[1].Coin, "close boost lifts a 0.3 close over the threshold")

	require.Len(t, dropped, 2)
	assert.Equal(t, "SOL", dropped[0].Coin)
	assert.Equal(t, "DOGE", dropped[1].Coin)
}
