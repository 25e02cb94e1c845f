package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfold/dealer/internal/domain"
)

// scriptedChecker replays a fixed sequence of settlement states.
type scriptedChecker struct {
	states []SettlementState
	calls  int
}

func (c *scriptedChecker) GetTransactionStatus(ctx context.Context, reference string) (SettlementState, error) {
	if c.calls >= len(c.states) {
		return SettlementPending, nil
	}
	state := c.states[c.calls]
	c.calls++
	return state, nil
}

func timeoutErr(reference string) error {
	return &domain.VenueError{
		Venue:     "hyperliquid",
		Reference: reference,
		Timeout:   true,
		Err:       errors.New("request deadline exceeded"),
	}
}

func fastReconciler(checker SettlementChecker) *Reconciler {
	return New(checker, zap.NewNop(),
		WithPollInterval(time.Millisecond),
		WithMaxChecks(3))
}

func TestReconciler_DirectSuccess(t *testing.T) {
	r := fastReconciler(&scriptedChecker{})

	outcome := r.Execute(context.Background(), func(ctx context.Context) (string, error) {
		return "0xabc", nil
	})

	assert.Equal(t, StatusSuccess, outcome.Status)
	assert.Equal(t, "0xabc", outcome.Reference)
}

func TestReconciler_TimeoutThenConfirmed(t *testing.T) {
	checker := &scriptedChecker{states: []SettlementState{SettlementPending, SettlementConfirmed}}
	r := fastReconciler(checker)

	outcome := r.Execute(context.Background(), func(ctx context.Context) (string, error) {
		return "", timeoutErr("0xdead")
	})

	assert.Equal(t, StatusSuccess, outcome.Status, "a confirmed settlement after timeout is a success")
	assert.Equal(t, "0xdead", outcome.Reference)
	assert.Equal(t, 2, checker.calls)
}

func TestReconciler_TimeoutThenFailed(t *testing.T) {
	checker := &scriptedChecker{states: []SettlementState{SettlementFailed}}
	r := fastReconciler(checker)

	outcome := r.Execute(context.Background(), func(ctx context.Context) (string, error) {
		return "", timeoutErr("0xdead")
	})

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Error(t, outcome.Err)
}

func TestReconciler_BudgetExhaustedIsUncertain(t *testing.T) {
	checker := &scriptedChecker{states: []SettlementState{SettlementPending, SettlementPending, SettlementPending}}
	r := fastReconciler(checker)

	outcome := r.Execute(context.Background(), func(ctx context.Context) (string, error) {
		return "", timeoutErr("0xdead")
	})

	assert.Equal(t, StatusUncertain, outcome.Status)
	require.ErrorIs(t, outcome.Err, domain.ErrUncertainSettlement)
	assert.Equal(t, "0xdead", outcome.Reference)
}

func TestReconciler_NonRecoverableFailsImmediately(t *testing.T) {
	checker := &scriptedChecker{states: []SettlementState{SettlementConfirmed}}
	r := fastReconciler(checker)

	// an error without a reference cannot be reconciled
	outcome := r.Execute(context.Background(), func(ctx context.Context) (string, error) {
		return "", &domain.VenueError{Venue: "hyperliquid", Timeout: true, Err: errors.New("timeout")}
	})

	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Zero(t, checker.calls, "no settlement check without a reference")

	// a plain rejection is failed even with a reference
	outcome = r.Execute(context.Background(), func(ctx context.Context) (string, error) {
		return "", &domain.VenueError{Venue: "hyperliquid", Reference: "0x1", Err: errors.New("insufficient margin")}
	})
	assert.Equal(t, StatusFailed, outcome.Status)
}

func TestReconciler_CancelledContextIsUncertain(t *testing.T) {
	checker := &scriptedChecker{states: []SettlementState{SettlementPending}}
	r := New(checker, zap.NewNop(), WithPollInterval(time.Minute), WithMaxChecks(5))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	outcome := r.Execute(ctx, func(ctx context.Context) (string, error) {
		return "", timeoutErr("0xdead")
	})

	assert.Equal(t, StatusUncertain, outcome.Status)
}
