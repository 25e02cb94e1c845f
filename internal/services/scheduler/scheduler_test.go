package scheduler

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
	"github.com/quantfold/dealer/internal/services/evaluator"
	"github.com/quantfold/dealer/internal/services/reconciler"
)

// stubEvaluator answers every condition with a fixed result.
type stubEvaluator struct {
	met bool
}

func (e *stubEvaluator) Evaluate(ctx context.Context, cond *domain.Condition) evaluator.Result {
	return evaluator.Result{Met: e.met}
}

type fakeVault struct {
	swaps     int
	transfers int
	err       error
}

func (v *fakeVault) Swap(ctx context.Context, params *domain.SwapParams) (string, error) {
	v.swaps++
	return "0xswap", v.err
}

func (v *fakeVault) Transfer(ctx context.Context, params *domain.TransferParams) (string, error) {
	v.transfers++
	return "0xtransfer", v.err
}

type fakeOrderVenue struct {
	orders []*domain.ExecutionIntent
	err    error
}

func (v *fakeOrderVenue) PlaceOrder(ctx context.Context, intent *domain.ExecutionIntent) (string, error) {
	v.orders = append(v.orders, intent)
	if v.err != nil {
		return "", v.err
	}
	return "oid-1", nil
}

type stubChecker struct {
	state reconciler.SettlementState
}

func (c *stubChecker) GetTransactionStatus(ctx context.Context, reference string) (reconciler.SettlementState, error) {
	return c.state, nil
}

func newTestScheduler(t *testing.T, eval ConditionEvaluator, vault VaultVenue, venue OrderVenue) (*Scheduler, *TaskStore) {
	t.Helper()
	store, err := NewTaskStore(newMemJournal(), zap.NewNop())
	require.NoError(t, err)

	recon := reconciler.New(&stubChecker{state: reconciler.SettlementPending}, zap.NewNop(),
		reconciler.WithPollInterval(time.Millisecond),
		reconciler.WithMaxChecks(1))

	return New(store, eval, vault, venue, recon, recon, zap.NewNop()), store
}

func TestScheduler_DeadlineTaskExecutes(t *testing.T) {
	vault := &fakeVault{}
	sched, store := newTestScheduler(t, &stubEvaluator{}, vault, &fakeOrderVenue{})

	deadline := time.Now().Add(-time.Second)
	task, err := domain.NewScheduledTask(domain.TaskTypeSwap,
		domain.TaskParams{Swap: &domain.SwapParams{
			FromToken:  "USDC",
			ToToken:    "WETH",
			AmountUSDC: decimal.NewFromInt(100),
		}}, &deadline, nil)
	require.NoError(t, err)
	require.NoError(t, store.Create(task))

	sched.runTick(context.Background(), time.Now())

	assert.Equal(t, 1, vault.swaps)
	got, ok := store.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Contains(t, got.Result, "0xswap")
}

func TestScheduler_FutureDeadlineWaits(t *testing.T) {
	vault := &fakeVault{}
	sched, store := newTestScheduler(t, &stubEvaluator{}, vault, &fakeOrderVenue{})

	deadline := time.Now().Add(time.Hour)
	task, err := domain.NewScheduledTask(domain.TaskTypeSwap,
		domain.TaskParams{Swap: &domain.SwapParams{
			FromToken:  "USDC",
			ToToken:    "WETH",
			AmountUSDC: decimal.NewFromInt(100),
		}}, &deadline, nil)
	require.NoError(t, err)
	require.NoError(t, store.Create(task))

	sched.runTick(context.Background(), time.Now())

	assert.Zero(t, vault.swaps)
	got, _ := store.Get(task.ID)
	assert.Equal(t, domain.TaskStatusActive, got.Status)
}

func TestScheduler_ConditionTaskFiresWhenMet(t *testing.T) {
	eval := &stubEvaluator{met: false}
	venue := &fakeOrderVenue{}
	sched, store := newTestScheduler(t, eval, &fakeVault{}, venue)

	cond, err := domain.NewCondition("BTCUSDT", domain.IndicatorRSI, domain.OperatorLess, decimal.NewFromInt(30), "60")
	require.NoError(t, err)
	task, err := domain.NewScheduledTask(domain.TaskTypeVenueOrder,
		domain.TaskParams{VenueOrder: &domain.VenueOrderParams{
			Coin:     "BTC",
			Side:     "buy",
			SizeUSDC: decimal.NewFromInt(50),
			Leverage: 2,
		}}, nil, cond)
	require.NoError(t, err)
	require.NoError(t, store.Create(task))

	sched.runTick(context.Background(), time.Now())
	assert.Empty(t, venue.orders)

	eval.met = true
	sched.runTick(context.Background(), time.Now())

	require.Len(t, venue.orders, 1)
	assert.Equal(t, "BTC", venue.orders[0].Coin)
	assert.Equal(t, domain.ActionBuy, venue.orders[0].Action)
	assert.NotEmpty(t, venue.orders[0].IdempotencyToken)

	got, _ := store.Get(task.ID)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
}

func TestScheduler_CooldownSuppressesRefire(t *testing.T) {
	eval := &stubEvaluator{met: true}
	venue := &fakeOrderVenue{}
	sched, store := newTestScheduler(t, eval, &fakeVault{}, venue)

	cond, err := domain.NewCondition("BTCUSDT", domain.IndicatorRSI, domain.OperatorLess, decimal.NewFromInt(30), "60")
	require.NoError(t, err)
	task, err := domain.NewScheduledTask(domain.TaskTypeAlert,
		domain.TaskParams{Alert: &domain.AlertParams{Message: "rsi oversold"}}, nil, cond)
	require.NoError(t, err)
	require.NoError(t, store.Create(task))

	now := time.Now()
	sched.runTick(context.Background(), now)

	completed, _ := store.Get(task.ID)
	require.Equal(t, domain.TaskStatusCompleted, completed.Status)

	// terminal tasks never re-enter the active snapshot, and even a copy
	// that finished recently is guarded by the cooldown window
	assert.True(t, completed.InCooldown(now.Add(2*time.Minute), DefaultCooldownWindow))
	assert.False(t, completed.InCooldown(now.Add(6*time.Minute), DefaultCooldownWindow))
}

func TestScheduler_FailedExecutionMarksTaskFailed(t *testing.T) {
	venue := &fakeOrderVenue{err: &domain.VenueError{Venue: "hyperliquid", Err: errors.New("insufficient margin")}}
	sched, store := newTestScheduler(t, &stubEvaluator{}, &fakeVault{}, venue)

	deadline := time.Now().Add(-time.Second)
	task, err := domain.NewScheduledTask(domain.TaskTypeVenueOrder,
		domain.TaskParams{VenueOrder: &domain.VenueOrderParams{
			Coin:     "ETH",
			Side:     "sell",
			SizeUSDC: decimal.NewFromInt(25),
		}}, &deadline, nil)
	require.NoError(t, err)
	require.NoError(t, store.Create(task))

	sched.runTick(context.Background(), time.Now())

	got, _ := store.Get(task.ID)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Contains(t, got.Result, "insufficient margin")
}

func TestScheduler_UncertainSettlementCompletesWithAnnotation(t *testing.T) {
	venue := &fakeOrderVenue{err: &domain.VenueError{
		Venue:     "hyperliquid",
		Reference: "0xpending",
		Timeout:   true,
		Err:       errors.New("deadline exceeded"),
	}}
	sched, store := newTestScheduler(t, &stubEvaluator{}, &fakeVault{}, venue)

	deadline := time.Now().Add(-time.Second)
	task, err := domain.NewScheduledTask(domain.TaskTypeVenueOrder,
		domain.TaskParams{VenueOrder: &domain.VenueOrderParams{
			Coin:     "ETH",
			Side:     "sell",
			SizeUSDC: decimal.NewFromInt(25),
		}}, &deadline, nil)
	require.NoError(t, err)
	require.NoError(t, store.Create(task))

	sched.runTick(context.Background(), time.Now())

	got, _ := store.Get(task.ID)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Contains(t, got.Result, "verify manually")
}

func TestScheduler_SwapWithoutVaultFails(t *testing.T) {
	sched, store := newTestScheduler(t, &stubEvaluator{}, nil, &fakeOrderVenue{})

	deadline := time.Now().Add(-time.Second)
	task, err := domain.NewScheduledTask(domain.TaskTypeSwap,
		domain.TaskParams{Swap: &domain.SwapParams{
			FromToken:  "USDC",
			ToToken:    "WETH",
			AmountUSDC: decimal.NewFromInt(100),
		}}, &deadline, nil)
	require.NoError(t, err)
	require.NoError(t, store.Create(task))

	sched.runTick(context.Background(), time.Now())

	got, _ := store.Get(task.ID)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Contains(t, got.Result, "not configured")
}

func TestScheduler_StartStop(t *testing.T) {
	sched, _ := newTestScheduler(t, &stubEvaluator{}, &fakeVault{}, &fakeOrderVenue{})

	sched.Start(context.Background())
	sched.Start(context.Background()) // second start is a no-op
	sched.Stop()
	sched.Stop() // second stop is a no-op
}
