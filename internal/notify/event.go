package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types published after a financial transition commits.
const (
	EventOrderApproved       = "order.approved"
	EventOrderRejected       = "order.rejected"
	EventOrderCancelled      = "order.cancelled"
	EventWithdrawalRequested = "withdrawal.requested"
	EventWithdrawalCompleted = "withdrawal.completed"
	EventWithdrawalRejected  = "withdrawal.rejected"
	EventTaskCompleted       = "task.completed"
)

// Event informs buyers and merchants about a committed outcome.
type Event struct {
	Type         string          `json:"type"`
	Recipients   []uuid.UUID     `json:"recipients"`
	OrderID      *uuid.UUID      `json:"order_id,omitempty"`
	TaskID       *uuid.UUID      `json:"task_id,omitempty"`
	WithdrawalID *uuid.UUID      `json:"withdrawal_id,omitempty"`
	Asset        string          `json:"asset,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Commission   decimal.Decimal `json:"commission"`
	Reason       string          `json:"reason,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// Key groups events of the same business object onto one partition.
func (e Event) Key() string {
	switch {
	case e.OrderID != nil:
		return e.OrderID.String()
	case e.WithdrawalID != nil:
		return e.WithdrawalID.String()
	case e.TaskID != nil:
		return e.TaskID.String()
	}
	return e.Type
}

// Notifier is called only after the unit of work that produced the event has committed.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Publisher delivers an event to the outside world.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event) error

func (f NotifierFunc) Notify(ctx context.Context, e Event) error { return f(ctx, e) }

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(context.Context, Event) error { return nil })
