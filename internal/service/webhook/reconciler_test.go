package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmehdipour/clinic-recall/internal/dispatcher"
	"github.com/jmehdipour/clinic-recall/internal/model"
	"github.com/jmehdipour/clinic-recall/internal/repository"
)

type memLogs struct {
	logs      map[string]model.MessageLog // by provider id
	reminders map[string]model.ReminderStatus
	writes    int
	failWith  error
}

func (m *memLogs) GetByProviderID(_ context.Context, id string) (*model.MessageLog, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	l, ok := m.logs[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (m *memLogs) ListByReminder(context.Context, string, string) ([]model.MessageLog, error) {
	return nil, nil
}

func (m *memLogs) ApplyStatus(_ context.Context, u repository.LogUpdate) error {
	m.writes++
	for pid, l := range m.logs {
		if l.ID != u.LogID {
			continue
		}
		l.Status, l.ToPhone, l.Content, l.Error, l.SentAt = u.Status, u.ToPhone, u.Content, u.Error, u.SentAt
		m.logs[pid] = l
	}
	if u.Reminder != nil && m.reminders[u.ReminderID] != *u.Reminder {
		m.reminders[u.ReminderID] = *u.Reminder
	}
	return nil
}

type countingPublisher struct{ n int }

func (c *countingPublisher) Publish(_ context.Context, evs ...model.StatusEvent) error {
	c.n += len(evs)
	return nil
}

var sentAt = time.Date(2024, 5, 7, 15, 0, 0, 0, time.UTC)

func newReconciler() (*Reconciler, *memLogs, *countingPublisher) {
	pid := "wamid-1"
	logs := &memLogs{
		logs: map[string]model.MessageLog{
			"wamid-1": {
				ID:                "log-1",
				OwnerID:           "owner-1",
				ReminderID:        "rem-1",
				ToPhone:           "+51987654321",
				Content:           "Hola Ana",
				ProviderMessageID: &pid,
				Status:            model.StatusSent,
				SentAt:            &sentAt,
			},
		},
		reminders: map[string]model.ReminderStatus{"rem-1": model.ReminderSent},
	}
	pub := &countingPublisher{}
	r := NewReconciler(logs, pub, zap.NewNop())
	r.now = func() time.Time { return sentAt.Add(time.Hour) }
	return r, logs, pub
}

func TestReconcile_DeliveredTwiceIsIdempotent(t *testing.T) {
	r, logs, pub := newReconciler()
	ctx := context.Background()
	ev := Event{MessageID: "wamid-1", Status: model.StatusDelivered}

	o, err := r.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, o)
	after := logs.logs["wamid-1"]

	o, err = r.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, o)

	assert.Equal(t, after, logs.logs["wamid-1"])
	assert.Equal(t, model.StatusDelivered, after.Status)
	require.NotNil(t, after.SentAt)
	assert.Equal(t, sentAt, *after.SentAt, "existing sent_at is preserved")
	assert.Equal(t, model.ReminderSent, logs.reminders["rem-1"])
	assert.Equal(t, 1, logs.writes)
	assert.Equal(t, 1, pub.n)
}

func TestReconcile_FailedCascadesToReminder(t *testing.T) {
	r, logs, _ := newReconciler()

	o, err := r.Reconcile(context.Background(), Event{MessageID: "wamid-1", Status: model.StatusFailed, Error: "blocked"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, o)

	l := logs.logs["wamid-1"]
	assert.Equal(t, model.StatusFailed, l.Status)
	require.NotNil(t, l.Error)
	assert.Equal(t, "blocked", *l.Error)
	assert.Equal(t, model.ReminderFailed, logs.reminders["rem-1"])
}

func TestReconcile_ReadDoesNotTouchReminderOrSentAt(t *testing.T) {
	r, logs, _ := newReconciler()
	logs.reminders["rem-1"] = model.ReminderPending

	_, err := r.Reconcile(context.Background(), Event{MessageID: "wamid-1", Status: model.StatusRead})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, logs.logs["wamid-1"].Status)
	assert.Equal(t, sentAt, *logs.logs["wamid-1"].SentAt)
	assert.Equal(t, model.ReminderPending, logs.reminders["rem-1"])
}

func TestReconcile_SentAtFromEventOrNow(t *testing.T) {
	r, logs, _ := newReconciler()
	l := logs.logs["wamid-1"]
	l.SentAt, l.Status = nil, model.StatusQueued
	logs.logs["wamid-1"] = l

	_, err := r.Reconcile(context.Background(), Event{MessageID: "wamid-1", Status: model.StatusSent})
	require.NoError(t, err)
	require.NotNil(t, logs.logs["wamid-1"].SentAt)
	assert.Equal(t, sentAt.Add(time.Hour), *logs.logs["wamid-1"].SentAt)

	// replay an hour later still converges
	r.now = func() time.Time { return sentAt.Add(2 * time.Hour) }
	o, err := r.Reconcile(context.Background(), Event{MessageID: "wamid-1", Status: model.StatusSent})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, o)

	at := sentAt.Add(-time.Minute)
	_, err = r.Reconcile(context.Background(), Event{MessageID: "wamid-1", Status: model.StatusDelivered, At: &at})
	require.NoError(t, err)
	assert.Equal(t, at, *logs.logs["wamid-1"].SentAt)
}

func TestReconcile_UnknownStatusOnlyUpdatesFields(t *testing.T) {
	r, logs, _ := newReconciler()

	_, err := r.Reconcile(context.Background(), Event{MessageID: "wamid-1", Phone: "987 111 222"})
	require.NoError(t, err)
	l := logs.logs["wamid-1"]
	assert.Equal(t, model.StatusSent, l.Status)
	assert.Equal(t, "+51987111222", l.ToPhone)
}

func TestReconcile_NoOpAcks(t *testing.T) {
	r, logs, pub := newReconciler()
	ctx := context.Background()

	o, err := r.Reconcile(ctx, Event{Status: model.StatusDelivered})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoID, o)

	o, err = r.Reconcile(ctx, Event{MessageID: "unknown", Status: model.StatusDelivered})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, o)

	assert.Zero(t, logs.writes)
	assert.Zero(t, pub.n)
}

func TestReconcile_StoreError(t *testing.T) {
	r, logs, _ := newReconciler()
	logs.failWith = errors.New("db down")

	_, err := r.Reconcile(context.Background(), Event{MessageID: "wamid-1", Status: model.StatusDelivered})
	assert.Error(t, err)
}

func TestReconcile_NumericProviderIDFromSendResponse(t *testing.T) {
	r, logs, _ := newReconciler()
	ctx := context.Background()

	pid := dispatcher.ParseProviderID([]byte(`{"messageId":1234567890123456789}`))
	require.Equal(t, "1234567890123456789", pid)
	l := logs.logs["wamid-1"]
	l.ProviderMessageID = &pid
	logs.logs = map[string]model.MessageLog{pid: l}

	ev, err := ParseEvent([]byte(`{"messageId":1234567890123456789,"status":"delivered"}`))
	require.NoError(t, err)

	o, err := r.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, o)
	assert.Equal(t, model.StatusDelivered, logs.logs[pid].Status)
}
