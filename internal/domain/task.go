package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// TaskType identifies what a scheduled task executes when it fires.
type TaskType string

const (
	TaskTypeSwap       TaskType = "swap"
	TaskTypeTransfer   TaskType = "transfer"
	TaskTypeAlert      TaskType = "alert"
	TaskTypeVenueOrder TaskType = "venue_order"
)

// IsValid checks if the TaskType value is valid.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskTypeSwap, TaskTypeTransfer, TaskTypeAlert, TaskTypeVenueOrder:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a scheduled task.
type TaskStatus string

const (
	// TaskStatusActive marks tasks eligible for evaluation.
	TaskStatusActive TaskStatus = "active"
	// TaskStatusExecuting marks tasks claimed by a scheduler tick.
	TaskStatusExecuting TaskStatus = "executing"
	// TaskStatusCompleted is terminal success.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed is terminal failure. A failed task never re-arms;
	// re-arming requires creating a new task.
	TaskStatusFailed TaskStatus = "failed"
)

// TaskParams is the tagged per-type payload of a scheduled task. Exactly one
// variant must be set, matching the task type.
type TaskParams struct {
	Swap       *SwapParams       `json:"swap,omitempty"`
	Transfer   *TransferParams   `json:"transfer,omitempty"`
	Alert      *AlertParams      `json:"alert,omitempty"`
	VenueOrder *VenueOrderParams `json:"venue_order,omitempty"`
}

// SwapParams describes an on-chain vault token swap.
type SwapParams struct {
	FromToken  string          `json:"from_token"`
	ToToken    string          `json:"to_token"`
	AmountUSDC decimal.Decimal `json:"amount_usdc"`
}

// TransferParams describes an on-chain vault transfer.
type TransferParams struct {
	Token     string          `json:"token"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
}

// AlertParams describes a notification-only task.
type AlertParams struct {
	Message string `json:"message"`
}

// VenueOrderParams describes an order on the perps venue.
type VenueOrderParams struct {
	Coin     string          `json:"coin"`
	Side     string          `json:"side"` // buy or sell
	SizeUSDC decimal.Decimal `json:"size_usdc"`
	Leverage int             `json:"leverage,omitempty"`
}

// ScheduledTask is a user-defined unit of work that the scheduler fires
// exactly once, either at an absolute deadline or when a market condition
// becomes true. Exactly one of ExecuteAt/Condition is set.
type ScheduledTask struct {
	ID           string     `json:"id"`
	Type         TaskType   `json:"type"`
	Params       TaskParams `json:"params"`
	ExecuteAt    *time.Time `json:"execute_at,omitempty"`
	Condition    *Condition `json:"condition,omitempty"`
	Status       TaskStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	LastExecuted *time.Time `json:"last_executed,omitempty"`
	Result       string     `json:"result,omitempty"`
}

// NewScheduledTask builds a validated task. ID is derived from the creation
// timestamp plus a random suffix so two tasks created in the same nanosecond
// still get distinct ids.
func NewScheduledTask(taskType TaskType, params TaskParams, executeAt *time.Time, condition *Condition) (*ScheduledTask, error) {
	now := time.Now()
	task := &ScheduledTask{
		ID:        newTaskID(now),
		Type:      taskType,
		Params:    params,
		ExecuteAt: executeAt,
		Condition: condition,
		Status:    TaskStatusActive,
		CreatedAt: now,
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

// Validate enforces the task invariants: a known type, a matching params
// variant, and exactly one trigger (deadline xor condition).
func (t *ScheduledTask) Validate() error {
	if !t.Type.IsValid() {
		return fmt.Errorf("unknown task type: %s", t.Type)
	}

	if (t.ExecuteAt == nil) == (t.Condition == nil) {
		return errors.New("task must have exactly one of execute_at or condition")
	}
	if t.Condition != nil {
		if err := t.Condition.Validate(); err != nil {
			return errors.Wrap(err, "invalid task condition")
		}
	}

	return t.validateParams()
}

func (t *ScheduledTask) validateParams() error {
	switch t.Type {
	case TaskTypeSwap:
		p := t.Params.Swap
		if p == nil {
			return errors.New("swap task requires swap params")
		}
		if p.FromToken == "" || p.ToToken == "" {
			return errors.New("swap params require from_token and to_token")
		}
		if p.AmountUSDC.LessThanOrEqual(decimal.Zero) {
			return errors.New("swap amount must be greater than zero")
		}
	case TaskTypeTransfer:
		p := t.Params.Transfer
		if p == nil {
			return errors.New("transfer task requires transfer params")
		}
		if p.Token == "" || p.Recipient == "" {
			return errors.New("transfer params require token and recipient")
		}
		if p.Amount.LessThanOrEqual(decimal.Zero) {
			return errors.New("transfer amount must be greater than zero")
		}
	case TaskTypeAlert:
		p := t.Params.Alert
		if p == nil || strings.TrimSpace(p.Message) == "" {
			return errors.New("alert task requires a message")
		}
	case TaskTypeVenueOrder:
		p := t.Params.VenueOrder
		if p == nil {
			return errors.New("venue order task requires venue_order params")
		}
		if p.Coin == "" {
			return errors.New("venue order params require coin")
		}
		if p.Side != "buy" && p.Side != "sell" {
			return fmt.Errorf("venue order side must be buy or sell, got %q", p.Side)
		}
		if p.SizeUSDC.LessThanOrEqual(decimal.Zero) {
			return errors.New("venue order size must be greater than zero")
		}
	}
	return nil
}

// Due reports whether the task should fire at now. Deadline tasks are due
// once the deadline has passed; condition tasks are decided by the evaluator
// and always return false here.
func (t *ScheduledTask) Due(now time.Time) bool {
	return t.ExecuteAt != nil && !now.Before(*t.ExecuteAt)
}

// InCooldown reports whether the task finished less than window ago.
// Prevents oscillating conditions from re-firing every tick.
func (t *ScheduledTask) InCooldown(now time.Time, window time.Duration) bool {
	if t.LastExecuted == nil {
		return false
	}
	return now.Sub(*t.LastExecuted) < window
}

// Terminal reports whether the task reached a final state.
func (t *ScheduledTask) Terminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

func newTaskID(now time.Time) string {
	return fmt.Sprintf("task-%d-%s", now.UnixNano(), uuid.NewString()[:8])
}
