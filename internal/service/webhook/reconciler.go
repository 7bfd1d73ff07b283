package webhook

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/clinic-recall/internal/events"
	"github.com/jmehdipour/clinic-recall/internal/metrics"
	"github.com/jmehdipour/clinic-recall/internal/model"
	"github.com/jmehdipour/clinic-recall/internal/repository"
	"github.com/jmehdipour/clinic-recall/internal/util"
)

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeNoID      Outcome = "no_id"
)

// Reconciler folds provider callbacks into message logs and their reminders.
// Applying the same event again is a no-op.
type Reconciler struct {
	logs   repository.MessageLogsRepository
	events events.Publisher
	log    *zap.Logger
	now    func() time.Time
}

func NewReconciler(logs repository.MessageLogsRepository, pub events.Publisher, log *zap.Logger) *Reconciler {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Reconciler{logs: logs, events: pub, log: log.Named("webhook"), now: time.Now}
}

func (r *Reconciler) Reconcile(ctx context.Context, ev Event) (Outcome, error) {
	o, err := r.reconcile(ctx, ev)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("error").Inc()
		return o, err
	}
	metrics.WebhookEvents.WithLabelValues(string(o)).Inc()
	return o, nil
}

func (r *Reconciler) reconcile(ctx context.Context, ev Event) (Outcome, error) {
	if ev.MessageID == "" {
		return OutcomeNoID, nil
	}
	cur, err := r.logs.GetByProviderID(ctx, ev.MessageID)
	if err != nil {
		return "", fmt.Errorf("find message log: %w", err)
	}
	if cur == nil {
		r.log.Debug("callback for unknown message", zap.String("provider_id", ev.MessageID))
		return OutcomeUnmatched, nil
	}

	now := r.now().UTC().Truncate(time.Millisecond)
	next := merge(*cur, ev, now)
	if sameState(*cur, next) {
		return OutcomeUnchanged, nil
	}

	u := repository.LogUpdate{
		LogID:      cur.ID,
		ReminderID: cur.ReminderID,
		Status:     next.Status,
		ToPhone:    next.ToPhone,
		Content:    next.Content,
		Error:      next.Error,
		SentAt:     next.SentAt,
		At:         now,
	}
	switch ev.Status {
	case model.StatusFailed:
		st := model.ReminderFailed
		u.Reminder = &st
	case model.StatusSent, model.StatusDelivered:
		st := model.ReminderSent
		u.Reminder = &st
	}
	if err := r.logs.ApplyStatus(ctx, u); err != nil {
		return "", fmt.Errorf("apply status: %w", err)
	}

	r.log.Info("message status reconciled",
		zap.String("log_id", cur.ID),
		zap.String("reminder_id", cur.ReminderID),
		zap.String("from", cur.Status.String()),
		zap.String("to", next.Status.String()))

	pe := model.StatusEvent{
		LogID:             cur.ID,
		OwnerID:           cur.OwnerID,
		ReminderID:        cur.ReminderID,
		ToPhone:           next.ToPhone,
		ProviderMessageID: ev.MessageID,
		Status:            next.Status,
		Source:            model.EventSourceWebhook,
		OccurredAt:        now,
	}
	if next.Error != nil {
		pe.Error = *next.Error
	}
	if err := r.events.Publish(ctx, pe); err != nil {
		r.log.Warn("publish status event", zap.String("log_id", cur.ID), zap.Error(err))
	}
	return OutcomeApplied, nil
}

// merge computes the log state after ev. sent_at prefers the event's own
// timestamp and then the stored one, so replays converge on the same value.
func merge(cur model.MessageLog, ev Event, now time.Time) model.MessageLog {
	next := cur
	if ev.Status != "" {
		next.Status = ev.Status
	}
	if ev.Phone != "" {
		if p := util.NormalizePhone(ev.Phone); p != "" {
			next.ToPhone = p
		}
	}
	if ev.Text != "" {
		next.Content = ev.Text
	}
	if ev.Error != "" {
		e := ev.Error
		next.Error = &e
	}
	if ev.Status == model.StatusSent || ev.Status == model.StatusDelivered {
		switch {
		case ev.At != nil:
			t := ev.At.UTC().Truncate(time.Millisecond)
			next.SentAt = &t
		case cur.SentAt == nil:
			next.SentAt = &now
		}
	}
	return next
}

func sameState(a, b model.MessageLog) bool {
	return a.Status == b.Status &&
		a.ToPhone == b.ToPhone &&
		a.Content == b.Content &&
		eqString(a.Error, b.Error) &&
		eqTime(a.SentAt, b.SentAt)
}

func eqString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
