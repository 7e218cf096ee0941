package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	got []Event
	err error
}

func (f *fakePublisher) Publish(_ context.Context, e Event) error {
	f.got = append(f.got, e)
	return f.err
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEventKey(t *testing.T) {
	orderID, taskID, wdID := uuid.New(), uuid.New(), uuid.New()

	assert.Equal(t, orderID.String(), Event{Type: EventOrderApproved, OrderID: &orderID, TaskID: &taskID}.Key())
	assert.Equal(t, wdID.String(), Event{Type: EventWithdrawalCompleted, WithdrawalID: &wdID}.Key())
	assert.Equal(t, taskID.String(), Event{Type: EventTaskCompleted, TaskID: &taskID}.Key())
	assert.Equal(t, "custom", Event{Type: "custom"}.Key())
}

func TestQueueEnqueues(t *testing.T) {
	var queued []DeliverArgs
	q := NewQueue(func(_ context.Context, args DeliverArgs) error {
		queued = append(queued, args)
		return nil
	})

	orderID := uuid.New()
	err := q.Notify(context.Background(), Event{Type: EventOrderRejected, OrderID: &orderID, Reason: "blurry"})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "blurry", queued[0].Event.Reason)
	assert.Equal(t, "deliver_notification", queued[0].Kind())
}

func TestQueueWrapsInsertError(t *testing.T) {
	boom := errors.New("pool closed")
	q := NewQueue(func(context.Context, DeliverArgs) error { return boom })

	err := q.Notify(context.Background(), Event{Type: EventTaskCompleted})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), EventTaskCompleted)
}

func TestDeliverWorker(t *testing.T) {
	pub := &fakePublisher{}
	w := NewDeliverWorker(pub, quietLogger())
	wdID := uuid.New()
	job := &river.Job[DeliverArgs]{
		JobRow: &rivertype.JobRow{Attempt: 1},
		Args:   DeliverArgs{Event: Event{Type: EventWithdrawalCompleted, WithdrawalID: &wdID, Amount: decimal.RequireFromString("99")}},
	}

	require.NoError(t, w.Work(context.Background(), job))
	require.Len(t, pub.got, 1)
	assert.Equal(t, wdID, *pub.got[0].WithdrawalID)
	assert.Equal(t, 30*time.Second, w.Timeout(job))

	pub.err = errors.New("broker unreachable")
	err := w.Work(context.Background(), job)
	assert.ErrorIs(t, err, pub.err)
}

func TestDeliverArgsRoundTripKeepsAmounts(t *testing.T) {
	orderID := uuid.New()
	in := DeliverArgs{Event: Event{
		Type:       EventOrderApproved,
		Recipients: []uuid.UUID{uuid.New(), uuid.New()},
		OrderID:    &orderID,
		Amount:     decimal.RequireFromString("200.00"),
		Commission: decimal.RequireFromString("10.50"),
	}}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out DeliverArgs
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, out.Event.Amount.Equal(in.Event.Amount))
	assert.True(t, out.Event.Commission.Equal(in.Event.Commission))
	assert.Equal(t, in.Event.Recipients, out.Event.Recipients)
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(quietLogger())
	assert.NoError(t, p.Publish(context.Background(), Event{Type: EventOrderCancelled}))
}
