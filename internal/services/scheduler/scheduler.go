// Package scheduler runs the task loop: a fixed-interval tick that finds due
// tasks, claims them and dispatches execution through the reconciler.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quantfold/dealer/internal/domain"
	"github.com/quantfold/dealer/internal/services/evaluator"
	"github.com/quantfold/dealer/internal/services/reconciler"
)

const (
	DefaultTickInterval   = 10 * time.Second
	DefaultCooldownWindow = 5 * time.Minute
)

var errVaultNotConfigured = errors.New("vault venue is not configured")

// ConditionEvaluator decides whether a condition task is due.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, cond *domain.Condition) evaluator.Result
}

// VaultVenue executes on-chain swap and transfer tasks.
type VaultVenue interface {
	Swap(ctx context.Context, params *domain.SwapParams) (string, error)
	Transfer(ctx context.Context, params *domain.TransferParams) (string, error)
}

// OrderVenue executes perps orders.
type OrderVenue interface {
	PlaceOrder(ctx context.Context, intent *domain.ExecutionIntent) (string, error)
}

// Scheduler polls active tasks on a fixed tick and executes the due ones
// sequentially. Status transitions go through the TaskStore only.
type Scheduler struct {
	store      *TaskStore
	evaluator  ConditionEvaluator
	vault      VaultVenue
	venue      OrderVenue
	vaultRecon *reconciler.Reconciler
	venueRecon *reconciler.Reconciler
	logger     *zap.Logger

	tick     time.Duration
	cooldown time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithTickInterval overrides the polling interval.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// WithCooldownWindow overrides the post-execution cooldown.
func WithCooldownWindow(d time.Duration) Option {
	return func(s *Scheduler) { s.cooldown = d }
}

// New creates a scheduler. The vault and venue reconcilers wrap every
// mutating call so a timed-out submission is never reported as failed
// without an out-of-band settlement check.
func New(store *TaskStore, eval ConditionEvaluator, vault VaultVenue, venue OrderVenue,
	vaultRecon, venueRecon *reconciler.Reconciler, logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      store,
		evaluator:  eval,
		vault:      vault,
		venue:      venue,
		vaultRecon: vaultRecon,
		venueRecon: venueRecon,
		logger:     logger,
		tick:       DefaultTickInterval,
		cooldown:   DefaultCooldownWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(loopCtx)
	s.logger.Info("scheduler started", zap.Duration("tick", s.tick))
}

// Stop cancels the loop and waits for the current tick to finish. In-flight
// task executions run to completion so no task is left stuck in executing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.runTick(ctx, now)
		}
	}
}

// runTick snapshots active tasks, finds the due ones and executes them
// sequentially. Sequential dispatch keeps ordering deterministic and stays
// under venue rate limits.
func (s *Scheduler) runTick(ctx context.Context, now time.Time) {
	for _, task := range s.store.ActiveSnapshot() {
		if ctx.Err() != nil {
			return
		}

		if !s.isDue(ctx, task, now) {
			continue
		}
		if task.InCooldown(now, s.cooldown) {
			s.logger.Debug("task in cooldown, skipping",
				zap.String("task", task.ID))
			continue
		}

		claimed, ok := s.store.Claim(task.ID)
		if !ok {
			// Another tick got there first.
			continue
		}
		s.execute(ctx, claimed)
	}
}

func (s *Scheduler) isDue(ctx context.Context, task *domain.ScheduledTask, now time.Time) bool {
	if task.ExecuteAt != nil {
		return task.Due(now)
	}

	result := s.evaluator.Evaluate(ctx, task.Condition)
	if result.Met {
		s.logger.Info("task condition met",
			zap.String("task", task.ID),
			zap.String("condition", task.Condition.String()),
			zap.String("current", result.CurrentValue.String()))
	}
	return result.Met
}

// execute dispatches the claimed task by type and records the outcome. An
// uncertain settlement completes the task with a verify-manually annotation
// rather than guessing either way.
func (s *Scheduler) execute(ctx context.Context, task *domain.ScheduledTask) {
	s.logger.Info("executing task",
		zap.String("task", task.ID),
		zap.String("type", string(task.Type)))

	outcome := s.dispatch(ctx, task)

	var err error
	switch outcome.Status {
	case reconciler.StatusSuccess:
		result := "executed"
		if outcome.Reference != "" {
			result = fmt.Sprintf("executed, reference %s", outcome.Reference)
		}
		err = s.store.Complete(task.ID, result)
	case reconciler.StatusUncertain:
		err = s.store.Complete(task.ID,
			fmt.Sprintf("submitted, settlement unconfirmed (reference %s), verify manually", outcome.Reference))
	default:
		msg := "execution failed"
		if outcome.Err != nil {
			msg = fmt.Sprintf("execution failed: %v", outcome.Err)
		}
		err = s.store.Fail(task.ID, msg)
	}
	if err != nil {
		s.logger.Error("failed to record task outcome",
			zap.String("task", task.ID),
			zap.Error(err))
		return
	}

	s.logger.Info("task finished",
		zap.String("task", task.ID),
		zap.String("status", string(outcome.Status)),
		zap.String("reference", outcome.Reference))
}

func (s *Scheduler) dispatch(ctx context.Context, task *domain.ScheduledTask) reconciler.Outcome {
	switch task.Type {
	case domain.TaskTypeAlert:
		s.logger.Info("alert fired",
			zap.String("task", task.ID),
			zap.String("message", task.Params.Alert.Message))
		return reconciler.Outcome{Status: reconciler.StatusSuccess}

	case domain.TaskTypeSwap:
		if s.vault == nil {
			return reconciler.Outcome{Status: reconciler.StatusFailed, Err: errVaultNotConfigured}
		}
		return s.vaultRecon.Execute(ctx, func(ctx context.Context) (string, error) {
			return s.vault.Swap(ctx, task.Params.Swap)
		})

	case domain.TaskTypeTransfer:
		if s.vault == nil {
			return reconciler.Outcome{Status: reconciler.StatusFailed, Err: errVaultNotConfigured}
		}
		return s.vaultRecon.Execute(ctx, func(ctx context.Context) (string, error) {
			return s.vault.Transfer(ctx, task.Params.Transfer)
		})

	case domain.TaskTypeVenueOrder:
		intent, err := venueOrderIntent(task.Params.VenueOrder)
		if err != nil {
			return reconciler.Outcome{Status: reconciler.StatusFailed, Err: err}
		}
		return s.venueRecon.Execute(ctx, func(ctx context.Context) (string, error) {
			return s.venue.PlaceOrder(ctx, intent)
		})

	default:
		return reconciler.Outcome{
			Status: reconciler.StatusFailed,
			Err:    fmt.Errorf("unknown task type: %s", task.Type),
		}
	}
}

func venueOrderIntent(p *domain.VenueOrderParams) (*domain.ExecutionIntent, error) {
	action, ok := domain.ParseAction(p.Side)
	if !ok {
		return nil, fmt.Errorf("invalid order side: %s", p.Side)
	}

	leverage := p.Leverage
	if leverage < 1 {
		leverage = 1
	}

	return &domain.ExecutionIntent{
		Coin:             p.Coin,
		Action:           action,
		OrderType:        domain.OrderTypeMarket,
		SizeUSDC:         p.SizeUSDC,
		Leverage:         leverage,
		IdempotencyToken: uuid.NewString(),
	}, nil
}
