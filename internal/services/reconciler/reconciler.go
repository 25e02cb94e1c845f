// Package reconciler resolves chain-mutating venue calls to a definite
// outcome even when the initiating call times out.
package reconciler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quantfold/dealer/internal/domain"
)

// SettlementState is the venue-reported status of a submitted transaction.
type SettlementState string

const (
	SettlementConfirmed SettlementState = "confirmed"
	SettlementFailed    SettlementState = "failed"
	SettlementPending   SettlementState = "pending"
)

// Status is the resolved outcome of a reconciled execution.
type Status string

const (
	StatusSuccess Status = "success"
	// StatusFailed is a confirmed failure.
	StatusFailed Status = "failed"
	// StatusUncertain means settlement stayed indeterminate; the caller
	// must record it distinctly rather than guessing either way.
	StatusUncertain Status = "uncertain"
)

// Outcome is the resolution of one reconciled call.
type Outcome struct {
	Status    Status
	Reference string
	Err       error
}

// SettlementChecker re-checks a transaction reference out-of-band.
type SettlementChecker interface {
	GetTransactionStatus(ctx context.Context, reference string) (SettlementState, error)
}

const (
	defaultPollInterval = 3 * time.Second
	defaultMaxChecks    = 10
)

// Reconciler wraps venue calls for one settlement domain.
type Reconciler struct {
	checker      SettlementChecker
	logger       *zap.Logger
	pollInterval time.Duration
	maxChecks    int
}

// Option configures the Reconciler.
type Option func(*Reconciler)

// WithPollInterval sets the settlement re-check interval.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reconciler) { r.pollInterval = d }
}

// WithMaxChecks bounds how many settlement re-checks run before the
// outcome is declared uncertain.
func WithMaxChecks(n int) Option {
	return func(r *Reconciler) { r.maxChecks = n }
}

// New creates a reconciler over the given settlement checker.
func New(checker SettlementChecker, logger *zap.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		checker:      checker,
		logger:       logger,
		pollInterval: defaultPollInterval,
		maxChecks:    defaultMaxChecks,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs one chain-mutating call and resolves it to an outcome.
// A normal return resolves success directly. A timeout carrying a
// transaction reference is not treated as failure: the reference's
// settlement is re-checked out-of-band until it confirms, fails, or the
// check budget runs out (uncertain). Errors without a recoverable
// reference fail immediately.
func (r *Reconciler) Execute(ctx context.Context, call func(ctx context.Context) (string, error)) Outcome {
	reference, err := call(ctx)
	if err == nil {
		return Outcome{Status: StatusSuccess, Reference: reference}
	}

	var venueErr *domain.VenueError
	if !errors.As(err, &venueErr) || !venueErr.Recoverable() {
		return Outcome{Status: StatusFailed, Reference: reference, Err: err}
	}

	r.logger.Warn("venue call timed out with reference, re-checking settlement",
		zap.String("reference", venueErr.Reference),
		zap.Error(err))

	return r.resolveByReference(ctx, venueErr)
}

func (r *Reconciler) resolveByReference(ctx context.Context, venueErr *domain.VenueError) Outcome {
	reference := venueErr.Reference

	for attempt := 0; attempt < r.maxChecks; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Outcome{Status: StatusUncertain, Reference: reference, Err: domain.ErrUncertainSettlement}
			case <-time.After(r.pollInterval):
			}
		}

		state, err := r.checker.GetTransactionStatus(ctx, reference)
		if err != nil {
			r.logger.Warn("settlement status check failed",
				zap.String("reference", reference),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		switch state {
		case SettlementConfirmed:
			r.logger.Info("settlement confirmed after timeout",
				zap.String("reference", reference))
			return Outcome{Status: StatusSuccess, Reference: reference}
		case SettlementFailed:
			return Outcome{Status: StatusFailed, Reference: reference, Err: venueErr}
		case SettlementPending:
			// keep polling
		}
	}

	return Outcome{Status: StatusUncertain, Reference: reference, Err: domain.ErrUncertainSettlement}
}
