package reminders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jmehdipour/clinic-recall/internal/dispatcher"
	"github.com/jmehdipour/clinic-recall/internal/metrics"
	"github.com/jmehdipour/clinic-recall/internal/model"
	"github.com/jmehdipour/clinic-recall/internal/repository"
	"github.com/jmehdipour/clinic-recall/internal/util"
)

type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeLostClaim Outcome = "lost_claim"
	OutcomeError     Outcome = "error"
)

const (
	TriggerPoller = "poller"
	TriggerManual = "manual"
)

// Summary counts the outcomes of one ProcessDue pass.
type Summary struct {
	Scanned   int `json:"scanned"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Deferred  int `json:"deferred"`
	LostClaim int `json:"lostClaim"`
	Errors    int `json:"errors"`
}

func (s *Summary) add(o Outcome) {
	switch o {
	case OutcomeSent:
		s.Sent++
	case OutcomeFailed:
		s.Failed++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeDeferred:
		s.Deferred++
	case OutcomeLostClaim:
		s.LostClaim++
	case OutcomeError:
		s.Errors++
	}
}

// FinalizeTimeout bounds the writes that follow a provider call. Those writes
// run detached from the caller's context so shutdown cannot strand a claim.
const FinalizeTimeout = 10 * time.Second

// ProcessDue delivers pending reminders whose due time has passed. Each
// reminder is handled on its own: a failure is logged and the pass goes on.
// Only listing errors are returned.
func (s *Service) ProcessDue(ctx context.Context) (Summary, error) {
	return s.processDue(ctx, TriggerPoller)
}

// ProcessDueNow is the on-demand variant of ProcessDue.
func (s *Service) ProcessDueNow(ctx context.Context) (Summary, error) {
	return s.processDue(ctx, TriggerManual)
}

func (s *Service) processDue(ctx context.Context, trigger string) (Summary, error) {
	var sum Summary

	batchCtx, cancel := context.WithTimeout(ctx, s.opts.BatchTimeout)
	defer cancel()

	now := s.clock()
	due, err := s.reminders.ListDue(batchCtx, now, now.Add(-s.opts.ClaimTTL), s.opts.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("list due reminders: %w", err)
	}
	sum.Scanned = len(due)
	if len(due) == 0 {
		return sum, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.opts.Concurrency)

	for i, rem := range due {
		if batchCtx.Err() != nil {
			s.log.Warn("batch deadline reached, leaving the rest for the next pass",
				zap.Int("remaining", len(due)-i))
			break
		}
		rem := rem
		g.Go(func() error {
			o := s.handleDue(batchCtx, rem)
			metrics.RemindersTotal.WithLabelValues(string(o), trigger).Inc()
			mu.Lock()
			sum.add(o)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("due reminders processed",
		zap.String("trigger", trigger),
		zap.Int("scanned", sum.Scanned),
		zap.Int("sent", sum.Sent),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("deferred", sum.Deferred))
	return sum, nil
}

func (s *Service) handleDue(ctx context.Context, rem model.Reminder) Outcome {
	log := s.log.With(zap.String("reminder_id", rem.ID), zap.String("owner_id", rem.OwnerID))

	patient, err := s.patients.Get(ctx, rem.OwnerID, rem.PatientID)
	if err != nil {
		log.Error("load patient", zap.Error(err))
		return OutcomeError
	}
	phone, reason := eligibility(patient)
	if reason != "" {
		log.Debug("reminder skipped", zap.String("reason", reason))
		return OutcomeSkipped
	}

	rule, err := s.matcher.Match(ctx, rem.OwnerID, rem.ServiceID, rem.Text())
	if err != nil {
		log.Error("resolve rule", zap.Error(err))
		return OutcomeError
	}
	if rule != nil && !rule.AllowsDelivery(s.now().In(s.opts.Location)) {
		log.Debug("outside delivery window", zap.String("rule_id", rule.ID))
		return OutcomeSkipped
	}

	text, err := s.messageText(ctx, rem, *patient, rule)
	if err != nil {
		log.Error("render message", zap.Error(err))
		return OutcomeError
	}
	if text == "" {
		log.Warn("reminder has no text and no rule to render it")
		return OutcomeSkipped
	}

	if !s.sender.Ready() {
		return OutcomeDeferred
	}

	token := util.New()
	now := s.clock()
	won, err := s.reminders.Claim(ctx, repository.Claim{
		ID:          rem.ID,
		Token:       token,
		Now:         now,
		StaleBefore: now.Add(-s.opts.ClaimTTL),
		From:        []model.ReminderStatus{model.ReminderPending},
	})
	if err != nil {
		log.Error("claim reminder", zap.Error(err))
		return OutcomeError
	}
	if !won {
		return OutcomeLostClaim
	}

	ml, err := s.deliver(ctx, rem, phone, text, token)
	switch {
	case errors.Is(err, dispatcher.ErrUnavailable):
		return OutcomeDeferred
	case err != nil:
		log.Error("finalize delivery", zap.Error(err))
		return OutcomeError
	case ml == nil:
		return OutcomeLostClaim
	case ml.Status == model.StatusSent:
		return OutcomeSent
	default:
		return OutcomeFailed
	}
}

// SendNow delivers one reminder immediately. The delivery window is not
// applied, and a failed reminder may be retried. The returned log records the
// attempt; a provider failure is reported through it, not as an error.
func (s *Service) SendNow(ctx context.Context, ownerID, id string) (*model.MessageLog, error) {
	rem, err := s.reminders.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if rem == nil {
		return nil, fmt.Errorf("reminder %s: %w", id, model.ErrNotFound)
	}
	if rem.Status == model.ReminderSent {
		return nil, fmt.Errorf("reminder %s already sent: %w", id, model.ErrNotEligible)
	}

	patient, err := s.patients.Get(ctx, ownerID, rem.PatientID)
	if err != nil {
		return nil, err
	}
	phone, reason := eligibility(patient)
	if reason != "" {
		return nil, fmt.Errorf("%s: %w", reason, model.ErrNotEligible)
	}

	rule, err := s.matcher.Match(ctx, ownerID, rem.ServiceID, rem.Text())
	if err != nil {
		return nil, err
	}
	text, err := s.messageText(ctx, *rem, *patient, rule)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("no message text: %w", model.ErrNotEligible)
	}

	if !s.sender.Ready() {
		return nil, dispatcher.ErrUnavailable
	}

	token := util.New()
	now := s.clock()
	won, err := s.reminders.Claim(ctx, repository.Claim{
		ID:          rem.ID,
		Token:       token,
		Now:         now,
		StaleBefore: now.Add(-s.opts.ClaimTTL),
		From:        []model.ReminderStatus{model.ReminderPending, model.ReminderFailed},
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, fmt.Errorf("reminder %s is being delivered: %w", id, model.ErrConflict)
	}

	ml, err := s.deliver(ctx, *rem, phone, text, token)
	o := OutcomeLostClaim
	switch {
	case err != nil:
		o = OutcomeError
	case ml != nil && ml.Status == model.StatusSent:
		o = OutcomeSent
	case ml != nil:
		o = OutcomeFailed
	}
	metrics.RemindersTotal.WithLabelValues(string(o), TriggerManual).Inc()
	if err != nil {
		return nil, err
	}
	if ml == nil {
		return nil, fmt.Errorf("reminder %s: claim expired during delivery: %w", id, model.ErrConflict)
	}
	return ml, nil
}

// deliver sends text for a claimed reminder and records the attempt. It
// returns (nil, nil) when the claim was lost before finalization, and
// dispatcher.ErrUnavailable after releasing the claim when the breaker
// rejected the send.
func (s *Service) deliver(ctx context.Context, rem model.Reminder, phone, text, token string) (*model.MessageLog, error) {
	detached := context.WithoutCancel(ctx)

	res, sendErr := s.sender.Send(detached, phone, text)
	if errors.Is(sendErr, dispatcher.ErrUnavailable) {
		rctx, cancel := context.WithTimeout(detached, FinalizeTimeout)
		defer cancel()
		if err := s.reminders.Release(rctx, rem.ID, token); err != nil {
			s.log.Error("release claim", zap.String("reminder_id", rem.ID), zap.Error(err))
		}
		return nil, sendErr
	}

	now := s.clock()
	ml := model.MessageLog{
		ID:         util.NewAt(now),
		OwnerID:    rem.OwnerID,
		ReminderID: rem.ID,
		ToPhone:    phone,
		Content:    text,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	status := model.ReminderSent
	if sendErr != nil {
		msg := sendErr.Error()
		ml.Status = model.StatusFailed
		ml.Error = &msg
		status = model.ReminderFailed
		s.log.Warn("reminder delivery failed", zap.String("reminder_id", rem.ID), zap.Error(sendErr))
	} else {
		ml.Status = model.StatusSent
		ml.SentAt = &now
		if res.ProviderID != "" {
			id := res.ProviderID
			ml.ProviderMessageID = &id
		}
		s.log.Info("reminder sent",
			zap.String("reminder_id", rem.ID),
			zap.String("provider_id", res.ProviderID),
			zap.String("strategy", res.Strategy),
			zap.Int("attempts", res.Attempts))
	}

	fctx, cancel := context.WithTimeout(detached, FinalizeTimeout)
	defer cancel()
	won, err := s.reminders.CompleteAttempt(fctx, repository.Attempt{
		ReminderID: rem.ID,
		Token:      token,
		Status:     status,
		At:         now,
		Log:        ml,
	})
	if err != nil {
		return nil, fmt.Errorf("complete attempt: %w", err)
	}
	if !won {
		s.log.Warn("claim lost before finalization", zap.String("reminder_id", rem.ID))
		return nil, nil
	}

	ev := model.StatusEvent{
		LogID:      ml.ID,
		OwnerID:    ml.OwnerID,
		ReminderID: rem.ID,
		ToPhone:    phone,
		Status:     ml.Status,
		Source:     model.EventSourceSend,
		OccurredAt: now,
	}
	if ml.ProviderMessageID != nil {
		ev.ProviderMessageID = *ml.ProviderMessageID
	}
	if ml.Error != nil {
		ev.Error = *ml.Error
	}
	if err := s.events.Publish(fctx, ev); err != nil {
		s.log.Warn("publish status event", zap.String("log_id", ml.ID), zap.Error(err))
	}
	return &ml, nil
}

// messageText prefers the stored text and falls back to the rule template.
func (s *Service) messageText(ctx context.Context, rem model.Reminder, p model.Patient, rule *model.ReminderRule) (string, error) {
	if t := rem.Text(); t != "" {
		return t, nil
	}
	if rule == nil {
		return "", nil
	}
	var svc *model.Service
	if rem.ServiceID != nil {
		var err error
		if svc, err = s.services.Get(ctx, rem.OwnerID, *rem.ServiceID); err != nil {
			return "", err
		}
	}
	due := rem.DueAt
	return s.render.Render(rule.TemplateText, p, svc, &due), nil
}

// eligibility returns the normalized phone, or a non-empty reason why the
// patient must not be contacted.
func eligibility(p *model.Patient) (phone, reason string) {
	switch {
	case p == nil:
		return "", "patient not found"
	case p.WhatsappOptOutAt != nil:
		return "", "patient opted out"
	case !p.WhatsappConsent:
		return "", "patient has not consented"
	}
	phone = util.NormalizePhone(p.Phone)
	if phone == "" {
		return "", "patient has no deliverable phone"
	}
	return phone, ""
}
