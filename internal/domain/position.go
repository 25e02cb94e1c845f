package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide represents the direction of a trading position
type PositionSide int

const (
	// PositionSideLong represents a long position (buy to open)
	PositionSideLong PositionSide = iota
	// PositionSideShort represents a short position (sell to open)
	PositionSideShort
)

// String returns the side name.
func (s PositionSide) String() string {
	if s == PositionSideShort {
		return "short"
	}
	return "long"
}

// MarshalJSON encodes the side as its name.
func (s PositionSide) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts the side name.
func (s *PositionSide) UnmarshalJSON(data []byte) error {
	if string(data) == `"short"` {
		*s = PositionSideShort
	} else {
		*s = PositionSideLong
	}
	return nil
}

// Position is one open position on the perps venue.
type Position struct {
	Coin          string          `json:"coin"`
	Side          PositionSide    `json:"side"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Leverage      int             `json:"leverage"`
}

// PnL calculates profit and loss for the given market price.
func (p *Position) PnL(currentPrice decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	if p.Side == PositionSideShort {
		return p.EntryPrice.Sub(currentPrice).Mul(p.Size)
	}
	return currentPrice.Sub(p.EntryPrice).Mul(p.Size)
}

// PositionSnapshot is the venue-wide open-position state at one sync point.
// It is the only state shared between the scheduler and dealer loops:
// consumers treat it as copy-on-read, and each sync replaces it wholesale.
type PositionSnapshot struct {
	Positions        []Position      `json:"positions"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	TakenAt          time.Time       `json:"taken_at"`
}

// Find returns the position for coin, if any.
func (s *PositionSnapshot) Find(coin string) (Position, bool) {
	if s == nil {
		return Position{}, false
	}
	for _, p := range s.Positions {
		if p.Coin == coin {
			return p, true
		}
	}
	return Position{}, false
}

// OpenCount returns the number of open positions.
func (s *PositionSnapshot) OpenCount() int {
	if s == nil {
		return 0
	}
	return len(s.Positions)
}

// Clone returns a deep copy so consumers can hold the snapshot across a
// blocking call without observing a concurrent replacement.
func (s *PositionSnapshot) Clone() *PositionSnapshot {
	if s == nil {
		return nil
	}
	cp := &PositionSnapshot{
		Positions:        make([]Position, len(s.Positions)),
		AvailableBalance: s.AvailableBalance,
		TakenAt:          s.TakenAt,
	}
	copy(cp.Positions, s.Positions)
	return cp
}
