// Package dealer runs the autonomous trading cycle: sync positions, gather
// market context in chunks, collect oracle decisions, rank and execute them
// under the configured risk caps.
package dealer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quantfold/dealer/internal/domain"
	"github.com/quantfold/dealer/internal/services/promptbuilder"
	"github.com/quantfold/dealer/internal/services/reconciler"
)

const (
	// confidenceThreshold drops low-conviction decisions before execution.
	confidenceThreshold = 0.60
	// aggressiveThreshold applies when the aggressive risk mode is on.
	aggressiveThreshold = 0.50

	// recentErrorWindow bounds how long a past execution error keeps being
	// fed back into oracle calls.
	recentErrorWindow = 15 * time.Minute

	DefaultInterval              = 3 * time.Minute
	DefaultPortfolioSyncInterval = 30 * time.Second
	DefaultChunkSize             = 5
	DefaultChunkDelay            = 500 * time.Millisecond
	DefaultTradeDelay            = 2 * time.Second
)

// Oracle produces per-asset trading decisions for a batch of contexts.
type Oracle interface {
	AnalyzeBatch(ctx context.Context, req promptbuilder.BatchRequest) ([]domain.CycleDecision, error)
}

// Venue executes orders and reports open positions.
type Venue interface {
	PlaceOrder(ctx context.Context, intent *domain.ExecutionIntent) (string, error)
	GetPositions(ctx context.Context) (*domain.PositionSnapshot, error)
}

// MarketContext builds per-asset market context for oracle calls.
type MarketContext interface {
	BuildAssetContext(ctx context.Context, coin, timeframe, macroTimeframe string, position *domain.Position) (*domain.AssetContext, error)
}

// CycleHistory persists a bounded rolling record of completed cycles.
type CycleHistory interface {
	Append(dealerType string, record domain.CycleRecord) error
	Recent(dealerType string) []domain.CycleRecord
}

// Config is the dealer's policy: what to trade, how often and under which
// limits.
type Config struct {
	DealerType            string
	Assets                []string
	Timeframe             string
	MacroTimeframe        string
	StrategyText          string
	Risk                  domain.RiskSettings
	Interval              time.Duration
	PortfolioSyncInterval time.Duration
	ChunkSize             int
	ChunkDelay            time.Duration
	TradeDelay            time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.PortfolioSyncInterval <= 0 {
		c.PortfolioSyncInterval = DefaultPortfolioSyncInterval
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = DefaultChunkDelay
	}
	if c.TradeDelay < 0 {
		c.TradeDelay = DefaultTradeDelay
	}
}

// Dealer drives the cycle loop plus a faster portfolio-sync loop. Only one
// cycle runs at a time; while it runs, the sync loop yields to the cycle's
// own authoritative sync.
type Dealer struct {
	cfg     Config
	market  MarketContext
	oracle  Oracle
	venue   Venue
	recon   *reconciler.Reconciler
	history CycleHistory
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	cycleInProgress atomic.Bool

	snapshotMu sync.RWMutex
	snapshot   *domain.PositionSnapshot

	errMu       sync.Mutex
	lastError   string
	lastErrorAt time.Time
}

// New creates a dealer.
func New(cfg Config, market MarketContext, oracle Oracle, venue Venue,
	recon *reconciler.Reconciler, history CycleHistory, logger *zap.Logger) *Dealer {
	cfg.applyDefaults()
	return &Dealer{
		cfg:     cfg,
		market:  market,
		oracle:  oracle,
		venue:   venue,
		recon:   recon,
		history: history,
		logger:  logger,
	}
}

// Start launches the cycle loop and the portfolio-sync loop. No-op if
// already running.
func (d *Dealer) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.run(loopCtx)
	d.logger.Info("dealer started",
		zap.String("dealer", d.cfg.DealerType),
		zap.Strings("assets", d.cfg.Assets),
		zap.Duration("interval", d.cfg.Interval))
}

// Stop cancels both loops and waits for the running cycle to observe the
// cancellation. Cancellation is not an error: the cycle exits at the next
// checkpoint leaving in-flight work in its last-known state.
func (d *Dealer) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.done = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	d.logger.Info("dealer stopped", zap.String("dealer", d.cfg.DealerType))
}

// Snapshot returns a copy of the latest position snapshot, or nil if no
// sync has completed yet.
func (d *Dealer) Snapshot() *domain.PositionSnapshot {
	d.snapshotMu.RLock()
	defer d.snapshotMu.RUnlock()
	return d.snapshot.Clone()
}

func (d *Dealer) run(ctx context.Context) {
	defer close(d.done)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.syncLoop(ctx)
	}()

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	// First cycle runs immediately rather than waiting a full interval.
	d.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

// syncLoop refreshes the position snapshot between cycles. It skips its
// refresh while a cycle is running: the cycle's own sync is authoritative
// during that window.
func (d *Dealer) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PortfolioSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.cycleInProgress.Load() {
				continue
			}
			snap, err := d.venue.GetPositions(ctx)
			if err != nil {
				d.logger.Warn("portfolio sync failed", zap.Error(err))
				continue
			}
			d.setSnapshot(snap)
		}
	}
}

// runCycle executes one full dealer cycle. A tick arriving while a cycle is
// still running is a no-op.
func (d *Dealer) runCycle(ctx context.Context) {
	if !d.cycleInProgress.CompareAndSwap(false, true) {
		d.logger.Debug("cycle already in progress, skipping tick")
		return
	}
	defer d.cycleInProgress.Store(false)

	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	d.logger.Info("cycle starting", zap.String("dealer", d.cfg.DealerType))

	// Sync: the cycle always trades against a fresh snapshot.
	snap, err := d.venue.GetPositions(ctx)
	if err != nil {
		d.logger.Error("position sync failed, aborting cycle", zap.Error(err))
		return
	}
	d.setSnapshot(snap)

	var stats domain.CycleStats

	fetchStart := time.Now()
	decisions, analyzed := d.collectDecisions(ctx, snap, &stats)
	stats.FetchDuration = time.Since(fetchStart) - stats.DecisionDuration
	if ctx.Err() != nil {
		return
	}

	for _, dec := range decisions {
		d.logger.Info("oracle decision",
			zap.String("coin", dec.Coin),
			zap.String("action", dec.Action),
			zap.Float64("confidence", dec.Confidence),
			zap.String("reason", dec.Reason))
	}

	threshold := confidenceThreshold
	if d.cfg.Risk.Aggressive {
		threshold = aggressiveThreshold
	}
	kept, dropped := domain.FilterByConfidence(decisions, threshold)
	for _, dec := range dropped {
		d.logger.Info("decision discarded below confidence threshold",
			zap.String("coin", dec.Coin),
			zap.String("action", dec.Action),
			zap.Float64("confidence", dec.Confidence),
			zap.Float64("threshold", threshold))
	}
	ranked := domain.RankDecisions(kept)

	execStart := time.Now()
	executed := d.executeRanked(ctx, ranked, snap)
	stats.ExecuteDuration = time.Since(execStart)
	if ctx.Err() != nil {
		return
	}

	record := domain.CycleRecord{
		Timestamp:      start,
		AssetsAnalyzed: analyzed,
		Decisions:      decisions,
		Executed:       executed,
		Stats:          stats,
	}
	if err := d.history.Append(d.cfg.DealerType, record); err != nil {
		d.logger.Error("failed to persist cycle record", zap.Error(err))
	}

	d.logger.Info("cycle finished",
		zap.String("dealer", d.cfg.DealerType),
		zap.Int("assets", len(analyzed)),
		zap.Int("decisions", len(decisions)),
		zap.Strings("executed", executed),
		zap.Duration("fetch", stats.FetchDuration),
		zap.Duration("decide", stats.DecisionDuration),
		zap.Duration("execute", stats.ExecuteDuration),
		zap.Duration("total", time.Since(start)))
}

// collectDecisions walks the asset universe in fixed-size chunks, builds
// context per asset and submits each chunk to the oracle. An oracle failure
// costs only that chunk's decisions; the remaining chunks still run.
func (d *Dealer) collectDecisions(ctx context.Context, snap *domain.PositionSnapshot, stats *domain.CycleStats) ([]domain.CycleDecision, []string) {
	var (
		decisions []domain.CycleDecision
		analyzed  []string
	)

	recent := d.history.Recent(d.cfg.DealerType)
	lastErr := d.recentError()

	for chunkIdx, chunk := range chunkAssets(d.cfg.Assets, d.cfg.ChunkSize) {
		if ctx.Err() != nil {
			return decisions, analyzed
		}
		if chunkIdx > 0 && !sleepCtx(ctx, d.cfg.ChunkDelay) {
			return decisions, analyzed
		}

		var contexts []domain.AssetContext
		for _, coin := range chunk {
			if ctx.Err() != nil {
				return decisions, analyzed
			}

			// Position state is injected directly so the oracle never
			// infers it from memory.
			var position *domain.Position
			if pos, ok := snap.Find(coin); ok {
				position = &pos
			}

			assetCtx, err := d.market.BuildAssetContext(ctx, coin, d.cfg.Timeframe, d.cfg.MacroTimeframe, position)
			if err != nil {
				d.logger.Warn("asset context unavailable, skipping asset",
					zap.String("coin", coin),
					zap.Error(err))
				continue
			}
			contexts = append(contexts, *assetCtx)
			analyzed = append(analyzed, coin)
		}
		if len(contexts) == 0 {
			continue
		}

		req := promptbuilder.BatchRequest{
			Contexts:     contexts,
			Risk:         d.cfg.Risk,
			StrategyText: d.cfg.StrategyText,
			RecentCycles: recent,
			LastError:    lastErr,
		}

		decideStart := time.Now()
		chunkDecisions, err := d.oracle.AnalyzeBatch(ctx, req)
		stats.DecisionDuration += time.Since(decideStart)
		if err != nil {
			d.logger.Error("oracle call failed, dropping chunk",
				zap.Strings("chunk", chunk),
				zap.Error(err))
			continue
		}
		decisions = append(decisions, chunkDecisions...)
	}

	return decisions, analyzed
}

// executeRanked runs decisions in ranked order under the trades-per-cycle
// cap. CLOSE actions bypass the cap: closing risk is never rate-limited.
func (d *Dealer) executeRanked(ctx context.Context, ranked []domain.CycleDecision, snap *domain.PositionSnapshot) []string {
	var executed []string
	opened := 0
	newEntries := 0
	traded := false

	for _, dec := range ranked {
		if ctx.Err() != nil {
			return executed
		}

		if !dec.IsClose() && opened >= d.cfg.Risk.MaxTradesPerCycle {
			d.logger.Info("trades-per-cycle cap reached, skipping",
				zap.String("coin", dec.Coin),
				zap.String("action", dec.Action))
			continue
		}

		// Entries opened earlier in this cycle count toward the position
		// cap even though the snapshot predates them.
		_, hasPosition := snap.Find(dec.Coin)
		newEntry := dec.ToAction() == domain.ActionBuy && !hasPosition
		if newEntry && snap.OpenCount()+newEntries >= d.cfg.Risk.MaxOpenPositions {
			d.logger.Info("max open positions reached, skipping new entry",
				zap.String("coin", dec.Coin))
			continue
		}

		intent, err := domain.NewExecutionIntent(dec, d.cfg.Risk.MaxPositionSizeUSDC, snap.AvailableBalance, d.cfg.Risk.DefaultLeverage)
		if err != nil {
			d.logger.Warn("decision not executable",
				zap.String("coin", dec.Coin),
				zap.Error(err))
			continue
		}
		if intent.Uneconomical() {
			d.logger.Info("trade below economic floor, skipping",
				zap.String("coin", dec.Coin),
				zap.String("size_usdc", intent.SizeUSDC.String()))
			continue
		}

		if traded && !sleepCtx(ctx, d.cfg.TradeDelay) {
			return executed
		}

		outcome := d.recon.Execute(ctx, func(ctx context.Context) (string, error) {
			return d.venue.PlaceOrder(ctx, intent)
		})
		traded = true

		switch outcome.Status {
		case reconciler.StatusSuccess:
			executed = append(executed, dec.Coin)
			if !dec.IsClose() {
				opened++
			}
			if newEntry {
				newEntries++
			}
			d.logger.Info("trade executed",
				zap.String("coin", dec.Coin),
				zap.String("action", dec.Action),
				zap.String("size_usdc", intent.SizeUSDC.String()),
				zap.String("reference", outcome.Reference))
		case reconciler.StatusUncertain:
			// Counted against the cap: the trade may have landed, and an
			// optimistic read must not let the cycle over-trade.
			executed = append(executed, fmt.Sprintf("%s (unconfirmed, verify manually)", dec.Coin))
			if !dec.IsClose() {
				opened++
			}
			if newEntry {
				newEntries++
			}
			d.logger.Warn("trade settlement unconfirmed, verify manually",
				zap.String("coin", dec.Coin),
				zap.String("reference", outcome.Reference))
		default:
			d.recordError(dec.Coin, outcome.Err)
			d.logger.Error("trade failed",
				zap.String("coin", dec.Coin),
				zap.String("action", dec.Action),
				zap.Error(outcome.Err))
		}
	}

	return executed
}

func (d *Dealer) setSnapshot(snap *domain.PositionSnapshot) {
	d.snapshotMu.Lock()
	d.snapshot = snap
	d.snapshotMu.Unlock()
}

func (d *Dealer) recordError(coin string, err error) {
	d.errMu.Lock()
	d.lastError = fmt.Sprintf("%s: %v", coin, err)
	d.lastErrorAt = time.Now()
	d.errMu.Unlock()
}

// recentError returns the last execution error if it is fresh enough to be
// worth feeding back to the oracle.
func (d *Dealer) recentError() string {
	d.errMu.Lock()
	defer d.errMu.Unlock()

	if d.lastError == "" || time.Since(d.lastErrorAt) > recentErrorWindow {
		return ""
	}
	return d.lastError
}

func chunkAssets(assets []string, size int) [][]string {
	var chunks [][]string
	for i := 0; i < len(assets); i += size {
		end := i + size
		if end > len(assets) {
			end = len(assets)
		}
		chunks = append(chunks, assets[i:end])
	}
	return chunks
}

// sleepCtx waits for d or until the context is cancelled. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
