package dealer

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
	"github.com/quantfold/dealer/internal/services/promptbuilder"
	"github.com/quantfold/dealer/internal/services/reconciler"
)

type fakeMarket struct {
	positions map[string]*domain.Position
	failFor   map[string]bool
}

func (m *fakeMarket) BuildAssetContext(ctx context.Context, coin, timeframe, macroTimeframe string, position *domain.Position) (*domain.AssetContext, error) {
	if m.failFor[coin] {
		return nil, errors.Wrap(domain.ErrDataUnavailable, coin)
	}
	assetCtx := &domain.AssetContext{
		Coin:       coin,
		Price:      decimal.NewFromInt(100),
		Indicators: map[string]decimal.Decimal{"rsi": decimal.NewFromInt(50)},
	}
	if position != nil {
		assetCtx.Position = &domain.PositionContext{
			Side:       position.Side.String(),
			Size:       position.Size,
			EntryPrice: position.EntryPrice,
		}
	}
	if m.positions == nil {
		m.positions = make(map[string]*domain.Position)
	}
	m.positions[coin] = position
	return assetCtx, nil
}

type fakeOracle struct {
	decisions []domain.CycleDecision
	err       error
	requests  []promptbuilder.BatchRequest
}

func (o *fakeOracle) AnalyzeBatch(ctx context.Context, req promptbuilder.BatchRequest) ([]domain.CycleDecision, error) {
	o.requests = append(o.requests, req)
	if o.err != nil {
		return nil, o.err
	}
	// answer only for coins present in this chunk
	var out []domain.CycleDecision
	for _, d := range o.decisions {
		for _, c := range req.Contexts {
			if c.Coin == d.Coin {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

type fakeVenue struct {
	snapshot *domain.PositionSnapshot
	orders   []*domain.ExecutionIntent
	orderErr error
	syncErr  error
}

func (v *fakeVenue) PlaceOrder(ctx context.Context, intent *domain.ExecutionIntent) (string, error) {
	v.orders = append(v.orders, intent)
	if v.orderErr != nil {
		return "", v.orderErr
	}
	return "oid", nil
}

func (v *fakeVenue) GetPositions(ctx context.Context) (*domain.PositionSnapshot, error) {
	if v.syncErr != nil {
		return nil, v.syncErr
	}
	return v.snapshot, nil
}

type memHistory struct {
	records []domain.CycleRecord
}

func (h *memHistory) Append(dealerType string, record domain.CycleRecord) error {
	h.records = append(h.records, record)
	return nil
}

func (h *memHistory) Recent(dealerType string) []domain.CycleRecord {
	return h.records
}

type pendingChecker struct{}

func (pendingChecker) GetTransactionStatus(ctx context.Context, reference string) (reconciler.SettlementState, error) {
	return reconciler.SettlementPending, nil
}

func emptySnapshot() *domain.PositionSnapshot {
	return &domain.PositionSnapshot{
		AvailableBalance: decimal.NewFromInt(1000),
		TakenAt:          time.Now(),
	}
}

func testConfig(assets ...string) Config {
	return Config{
		DealerType: "perps",
		Assets:     assets,
		Timeframe:  "60",
		Risk: domain.RiskSettings{
			MaxPositionSizeUSDC: decimal.NewFromInt(100),
			MaxOpenPositions:    3,
			MaxTradesPerCycle:   5,
			DefaultLeverage:     2,
		},
	}
}

func newTestDealer(cfg Config, market MarketContext, oracle Oracle, venue Venue, history CycleHistory) *Dealer {
	recon := reconciler.New(pendingChecker{}, zap.NewNop(),
		reconciler.WithPollInterval(time.Millisecond),
		reconciler.WithMaxChecks(1))
	return New(cfg, market, oracle, venue, recon, history, zap.NewNop())
}

func TestDealer_ExecutesInRankedOrder(t *testing.T) {
	oracle := &fakeOracle{decisions: []domain.CycleDecision{
		{Coin: "BTC", Action: "buy", Confidence: 0.7, SizeUSDC: 50, Reason: "trend"},
		{Coin: "ETH", Action: "close", Confidence: 0.4, Reason: "target hit"},
		{Coin: "SOL", Action: "buy", Confidence: 0.65, SizeUSDC: 50, Reason: "breakout"},
	}}
	venue := &fakeVenue{snapshot: emptySnapshot()}
	history := &memHistory{}

	d := newTestDealer(testConfig("BTC", "ETH", "SOL"), &fakeMarket{}, oracle, venue, history)
	d.runCycle(context.Background())

	// close boost ranks ETH (0.9 effective) ahead of BTC and SOL
	require.Len(t, venue.orders, 3)
	assert.Equal(t, "ETH", venue.orders[0].Coin)
	assert.Equal(t, "BTC", venue.orders[1].Coin)
	assert.Equal(t, "SOL", venue.orders[2].Coin)
}

func TestDealer_CloseBypassesTradeCap(t *testing.T) {
	cfg := testConfig("BTC", "ETH", "SOL")
	cfg.Risk.MaxTradesPerCycle = 1

	oracle := &fakeOracle{decisions: []domain.CycleDecision{
		{Coin: "BTC", Action: "buy", Confidence: 0.9, SizeUSDC: 50, Reason: "strong trend"},
		{Coin: "ETH", Action: "close", Confidence: 0.3, Reason: "cut risk"},
		{Coin: "SOL", Action: "buy", Confidence: 0.8, SizeUSDC: 50, Reason: "breakout"},
	}}
	venue := &fakeVenue{snapshot: emptySnapshot()}

	d := newTestDealer(cfg, &fakeMarket{}, oracle, venue, &memHistory{})
	d.runCycle(context.Background())

	// cap of one allows BTC, the close is exempt, the second buy is skipped
	require.Len(t, venue.orders, 2)
	assert.Equal(t, "BTC", venue.orders[0].Coin)
	assert.Equal(t, domain.ActionClose, venue.orders[1].Action)
	assert.Equal(t, "ETH", venue.orders[1].Coin)
}

func TestDealer_MaxOpenPositionsBlocksNewEntries(t *testing.T) {
	cfg := testConfig("BTC", "DOGE")
	cfg.Risk.MaxOpenPositions = 2

	snapshot := &domain.PositionSnapshot{
		Positions: []domain.Position{
			{Coin: "BTC", Side: domain.PositionSideLong, Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(90)},
			{Coin: "ETH", Side: domain.PositionSideShort, Size: decimal.NewFromInt(2), EntryPrice: decimal.NewFromInt(50)},
		},
		AvailableBalance: decimal.NewFromInt(1000),
	}

	oracle := &fakeOracle{decisions: []domain.CycleDecision{
		{Coin: "BTC", Action: "buy", Confidence: 0.9, SizeUSDC: 50, Reason: "add to winner"},
		{Coin: "DOGE", Action: "buy", Confidence: 0.8, SizeUSDC: 50, Reason: "momentum"},
	}}
	venue := &fakeVenue{snapshot: snapshot}

	d := newTestDealer(cfg, &fakeMarket{}, oracle, venue, &memHistory{})
	d.runCycle(context.Background())

	// BTC already has a position so its buy is an adjustment; DOGE would be
	// a third position and is rejected
	require.Len(t, venue.orders, 1)
	assert.Equal(t, "BTC", venue.orders[0].Coin)
}

func TestDealer_EntriesOpenedThisCycleCountTowardPositionCap(t *testing.T) {
	cfg := testConfig("DOGE", "SOL")
	cfg.Risk.MaxOpenPositions = 3

	snapshot := &domain.PositionSnapshot{
		Positions: []domain.Position{
			{Coin: "BTC", Side: domain.PositionSideLong, Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(90)},
			{Coin: "ETH", Side: domain.PositionSideShort, Size: decimal.NewFromInt(2), EntryPrice: decimal.NewFromInt(50)},
		},
		AvailableBalance: decimal.NewFromInt(1000),
	}

	oracle := &fakeOracle{decisions: []domain.CycleDecision{
		{Coin: "DOGE", Action: "buy", Confidence: 0.9, SizeUSDC: 50, Reason: "momentum"},
		{Coin: "SOL", Action: "buy", Confidence: 0.8, SizeUSDC: 50, Reason: "breakout"},
	}}
	venue := &fakeVenue{snapshot: snapshot}

	d := newTestDealer(cfg, &fakeMarket{}, oracle, venue, &memHistory{})
	d.runCycle(context.Background())

	// the DOGE entry fills the third and last slot; the snapshot still shows
	// two positions, but the SOL entry must see the book as full
	require.Len(t, venue.orders, 1)
	assert.Equal(t, "DOGE", venue.orders[0].Coin)
}

func TestDealer_PacesOnlyBetweenExecutedTrades(t *testing.T) {
	cfg := testConfig("BTC", "ETH", "SOL")
	cfg.TradeDelay = 250 * time.Millisecond

	// the two highest-ranked decisions are under the economic floor, so the
	// only venue call is SOL and no pacing delay should be paid before it
	oracle := &fakeOracle{decisions: []domain.CycleDecision{
		{Coin: "BTC", Action: "buy", Confidence: 0.9, SizeUSDC: 5, Reason: "tiny nibble"},
		{Coin: "ETH", Action: "buy", Confidence: 0.85, SizeUSDC: 5, Reason: "tiny nibble"},
		{Coin: "SOL", Action: "buy", Confidence: 0.8, SizeUSDC: 50, Reason: "breakout"},
	}}
	venue := &fakeVenue{snapshot: emptySnapshot()}

	d := newTestDealer(cfg, &fakeMarket{}, oracle, venue, &memHistory{})
	start := time.Now()
	d.runCycle(context.Background())

	require.Len(t, venue.orders, 1)
	assert.Equal(t, "SOL", venue.orders[0].Coin)
	assert.Less(t, time.Since(start), cfg.TradeDelay, "no delay before the first actual execution")
}

func TestDealer_SkipsUneconomicalTrades(t *testing.T) {
	oracle := &fakeOracle{decisions: []domain.CycleDecision{
		{Coin: "BTC", Action: "buy", Confidence: 0.9, SizeUSDC: 5, Reason: "tiny nibble"},
	}}
	venue := &fakeVenue{snapshot: emptySnapshot()}

	d := newTestDealer(testConfig("BTC"), &fakeMarket{}, oracle, venue, &memHistory{})
	d.runCycle(context.Background())

	assert.Empty(t, venue.orders, "trades under the floor never reach the venue")
}

func TestDealer_OracleFailureDropsOnlyThatChunk(t *testing.T) {
	cfg := testConfig("BTC", "ETH")
	cfg.ChunkSize = 1

	oracle := &fakeOracle{decisions: []domain.CycleDecision{
		{Coin: "BTC", Action: "buy", Confidence: 0.9, SizeUSDC: 50, Reason: "trend"},
		{Coin: "ETH", Action: "buy", Confidence: 0.9, SizeUSDC: 50, Reason: "trend"},
	}}
	// fail the first oracle call only
	calls := 0
	failing := &flakyOracle{inner: oracle, failCall: func() bool {
		calls++
		return calls == 1
	}}
	venue := &fakeVenue{snapshot: emptySnapshot()}

	d := newTestDealer(cfg, &fakeMarket{}, failing, venue, &memHistory{})
	d.runCycle(context.Background())

	require.Len(t, venue.orders, 1)
	assert.Equal(t, "ETH", venue.orders[0].Coin)
}

type flakyOracle struct {
	inner    Oracle
	failCall func() bool
}

func (o *flakyOracle) AnalyzeBatch(ctx context.Context, req promptbuilder.BatchRequest) ([]domain.CycleDecision, error) {
	if o.failCall() {
		return nil, &domain.OracleError{Backend: "test", Err: errors.New("rate limited")}
	}
	return o.inner.AnalyzeBatch(ctx, req)
}

func TestDealer_InjectsPositionIntoContext(t *testing.T) {
	snapshot := &domain.PositionSnapshot{
		Positions: []domain.Position{
			{Coin: "BTC", Side: domain.PositionSideLong, Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(90)},
		},
		AvailableBalance: decimal.NewFromInt(1000),
	}
	market := &fakeMarket{}
	venue := &fakeVenue{snapshot: snapshot}

	d := newTestDealer(testConfig("BTC", "ETH"), market, &fakeOracle{}, venue, &memHistory{})
	d.runCycle(context.Background())

	require.NotNil(t, market.positions["BTC"], "open position flows into the asset context")
	assert.Nil(t, market.positions["ETH"])
}

func TestDealer_PersistsCycleRecord(t *testing.T) {
	oracle := &fakeOracle{decisions: []domain.CycleDecision{
		{Coin: "BTC", Action: "hold", Confidence: 0.9, Reason: "no edge"},
	}}
	history := &memHistory{}

	d := newTestDealer(testConfig("BTC"), &fakeMarket{}, oracle, &fakeVenue{snapshot: emptySnapshot()}, history)
	d.runCycle(context.Background())

	require.Len(t, history.records, 1)
	record := history.records[0]
	assert.Equal(t, []string{"BTC"}, record.AssetsAnalyzed)
	require.Len(t, record.Decisions, 1, "holds are recorded for audit even though they never execute")
	assert.Equal(t, "hold", record.Decisions[0].Action)
	assert.Empty(t, record.Executed)
}

func TestDealer_SyncFailureAbortsCycle(t *testing.T) {
	oracle := &fakeOracle{decisions: []domain.CycleDecision{
		{Coin: "BTC", Action: "buy", Confidence: 0.9, SizeUSDC: 50, Reason: "trend"},
	}}
	venue := &fakeVenue{syncErr: errors.New("venue unreachable")}
	history := &memHistory{}

	d := newTestDealer(testConfig("BTC"), &fakeMarket{}, oracle, venue, history)
	d.runCycle(context.Background())

	assert.Empty(t, venue.orders)
	assert.Empty(t, history.records, "no cycle record without a position sync")
}

func TestDealer_ReentrancyGuard(t *testing.T) {
	venue := &fakeVenue{snapshot: emptySnapshot()}
	d := newTestDealer(testConfig("BTC"), &fakeMarket{}, &fakeOracle{}, venue, &memHistory{})

	d.cycleInProgress.Store(true)
	d.runCycle(context.Background())
	assert.Empty(t, venue.orders, "an overlapping tick is a no-op")
}

func TestDealer_CancelledContextStopsCycle(t *testing.T) {
	venue := &fakeVenue{snapshot: emptySnapshot()}
	oracle := &fakeOracle{decisions: []domain.CycleDecision{
		{Coin: "BTC", Action: "buy", Confidence: 0.9, SizeUSDC: 50, Reason: "trend"},
	}}
	d := newTestDealer(testConfig("BTC"), &fakeMarket{}, oracle, venue, &memHistory{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.runCycle(ctx)

	assert.Empty(t, venue.orders)
}

func TestDealer_AggressiveModeLowersThreshold(t *testing.T) {
	cfg := testConfig("BTC")
	cfg.Risk.Aggressive = true

	oracle := &fakeOracle{decisions: []domain.CycleDecision{
		{Coin: "BTC", Action: "buy", Confidence: 0.55, SizeUSDC: 50, Reason: "weak signal"},
	}}
	venue := &fakeVenue{snapshot: emptySnapshot()}

	d := newTestDealer(cfg, &fakeMarket{}, oracle, venue, &memHistory{})
	d.runCycle(context.Background())

	require.Len(t, venue.orders, 1, "0.55 clears the aggressive 0.50 threshold")
}

func TestDealer_StartStop(t *testing.T) {
	cfg := testConfig("BTC")
	cfg.Interval = time.Hour
	cfg.PortfolioSyncInterval = time.Hour

	d := newTestDealer(cfg, &fakeMarket{}, &fakeOracle{}, &fakeVenue{snapshot: emptySnapshot()}, &memHistory{})

	d.Start(context.Background())
	d.Start(context.Background()) // no-op
	d.Stop()
	d.Stop() // no-op
}
