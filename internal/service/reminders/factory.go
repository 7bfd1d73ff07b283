package reminders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/clinic-recall/internal/model"
	"github.com/jmehdipour/clinic-recall/internal/repository"
	"github.com/jmehdipour/clinic-recall/internal/util"
)

// ServiceCompletion is emitted when an appointment is marked done.
type ServiceCompletion struct {
	OwnerID       string    `json:"-"`
	PatientID     string    `json:"patientId"`
	ServiceID     string    `json:"serviceId"`
	PerformedAt   time.Time `json:"performedAt"`
	AppointmentID *string   `json:"appointmentId"`
}

// TreatmentRecord is emitted when a visit entry is appended to a patient record.
type TreatmentRecord struct {
	OwnerID     string    `json:"-"`
	PatientID   string    `json:"patientId"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
}

// ManualReminder is a reminder created directly by staff.
type ManualReminder struct {
	OwnerID       string    `json:"-"`
	PatientID     string    `json:"patientId"`
	ServiceID     *string   `json:"serviceId"`
	AppointmentID *string   `json:"appointmentId"`
	DueAt         time.Time `json:"dueAt"`
	MessageText   string    `json:"messageText"`
}

// FromServiceCompletion creates the pending reminder for a completed service.
// It returns (nil, nil) when no rule applies and the existing reminder when
// the appointment already produced one.
func (s *Service) FromServiceCompletion(ctx context.Context, in ServiceCompletion) (*model.Reminder, error) {
	var errs []error
	if in.PatientID == "" {
		errs = append(errs, errors.New("patientId is required"))
	}
	if in.ServiceID == "" {
		errs = append(errs, errors.New("serviceId is required"))
	}
	if in.PerformedAt.IsZero() {
		errs = append(errs, errors.New("performedAt is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", model.ErrValidation, errors.Join(errs...))
	}

	if in.AppointmentID != nil && *in.AppointmentID != "" {
		existing, err := s.reminders.FindByAppointment(ctx, in.OwnerID, *in.AppointmentID)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	patient, err := s.patient(ctx, in.OwnerID, in.PatientID)
	if err != nil {
		return nil, err
	}
	svc, err := s.service(ctx, in.OwnerID, in.ServiceID)
	if err != nil {
		return nil, err
	}

	rule, err := s.matcher.Match(ctx, in.OwnerID, &svc.ID, svc.Name)
	if err != nil {
		return nil, fmt.Errorf("match rule: %w", err)
	}
	if rule == nil {
		s.log.Debug("no rule for completed service",
			zap.String("owner_id", in.OwnerID), zap.String("service_id", svc.ID))
		return nil, nil
	}

	performed := in.PerformedAt.UTC().Truncate(time.Millisecond)
	due := performed.AddDate(0, 0, rule.DelayDays)
	rem := s.newReminder(in.OwnerID, patient.ID, &svc.ID, in.AppointmentID, &performed, due)
	text := s.render.Render(rule.TemplateText, *patient, svc, &due)
	rem.MessageText = &text

	if err := s.reminders.Insert(ctx, rem); err != nil {
		if errors.Is(err, model.ErrConflict) && rem.AppointmentID != nil {
			return s.reminders.FindByAppointment(ctx, in.OwnerID, *rem.AppointmentID)
		}
		return nil, fmt.Errorf("insert reminder: %w", err)
	}
	s.log.Info("reminder scheduled",
		zap.String("reminder_id", rem.ID),
		zap.String("rule_id", rule.ID),
		zap.Time("due_at", rem.DueAt))
	return &rem, nil
}

// FromTreatmentRecord creates a reminder from a free-text treatment entry.
// The service is resolved by exact name when one exists; the due date counts
// from local midnight of the treatment date.
func (s *Service) FromTreatmentRecord(ctx context.Context, in TreatmentRecord) (*model.Reminder, error) {
	desc := strings.TrimSpace(in.Description)
	var errs []error
	if in.PatientID == "" {
		errs = append(errs, errors.New("patientId is required"))
	}
	if desc == "" {
		errs = append(errs, errors.New("description is required"))
	}
	if in.Date.IsZero() {
		errs = append(errs, errors.New("date is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", model.ErrValidation, errors.Join(errs...))
	}

	patient, err := s.patient(ctx, in.OwnerID, in.PatientID)
	if err != nil {
		return nil, err
	}
	svc, err := s.services.FindByName(ctx, in.OwnerID, desc)
	if err != nil {
		return nil, fmt.Errorf("find service by name: %w", err)
	}
	var serviceID *string
	if svc != nil {
		serviceID = &svc.ID
	}

	rule, err := s.matcher.Match(ctx, in.OwnerID, serviceID, desc)
	if err != nil {
		return nil, fmt.Errorf("match rule: %w", err)
	}
	if rule == nil {
		return nil, nil
	}

	local := in.Date.In(s.opts.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.opts.Location)
	due := midnight.AddDate(0, 0, rule.DelayDays).UTC()
	performed := in.Date.UTC().Truncate(time.Millisecond)

	rem := s.newReminder(in.OwnerID, patient.ID, serviceID, nil, &performed, due)
	text := s.render.Render(rule.TemplateText, *patient, svc, &due)
	rem.MessageText = &text

	if err := s.reminders.Insert(ctx, rem); err != nil {
		return nil, fmt.Errorf("insert reminder: %w", err)
	}
	s.log.Info("reminder scheduled from treatment",
		zap.String("reminder_id", rem.ID),
		zap.String("rule_id", rule.ID),
		zap.Time("due_at", rem.DueAt))
	return &rem, nil
}

// Create stores a reminder with a caller-supplied due time. An empty text
// is rendered from the matching rule at delivery time.
func (s *Service) Create(ctx context.Context, in ManualReminder) (*model.Reminder, error) {
	var errs []error
	if in.PatientID == "" {
		errs = append(errs, errors.New("patientId is required"))
	}
	if in.DueAt.IsZero() {
		errs = append(errs, errors.New("dueAt is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", model.ErrValidation, errors.Join(errs...))
	}

	if _, err := s.patient(ctx, in.OwnerID, in.PatientID); err != nil {
		return nil, err
	}
	if in.ServiceID != nil && *in.ServiceID != "" {
		if _, err := s.service(ctx, in.OwnerID, *in.ServiceID); err != nil {
			return nil, err
		}
	}

	rem := s.newReminder(in.OwnerID, in.PatientID, in.ServiceID, in.AppointmentID, nil, in.DueAt.UTC().Truncate(time.Millisecond))
	if text := strings.TrimSpace(in.MessageText); text != "" {
		rem.MessageText = &text
	}
	if err := s.reminders.Insert(ctx, rem); err != nil {
		if errors.Is(err, model.ErrConflict) {
			return nil, fmt.Errorf("appointment already has a reminder: %w", err)
		}
		return nil, fmt.Errorf("insert reminder: %w", err)
	}
	return &rem, nil
}

func (s *Service) List(ctx context.Context, f repository.ReminderFilter) ([]model.Reminder, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrValidation, f.Status)
	}
	return s.reminders.List(ctx, f)
}

func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	ok, err := s.reminders.Delete(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("reminder %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// Attempts lists the delivery attempts of one reminder, oldest first.
func (s *Service) Attempts(ctx context.Context, ownerID, id string) ([]model.MessageLog, error) {
	rem, err := s.reminders.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if rem == nil {
		return nil, fmt.Errorf("reminder %s: %w", id, model.ErrNotFound)
	}
	return s.logs.ListByReminder(ctx, ownerID, id)
}

func (s *Service) newReminder(ownerID, patientID string, serviceID, appointmentID *string, performed *time.Time, due time.Time) model.Reminder {
	now := s.clock()
	if appointmentID != nil && *appointmentID == "" {
		appointmentID = nil
	}
	if serviceID != nil && *serviceID == "" {
		serviceID = nil
	}
	return model.Reminder{
		ID:            util.NewAt(now),
		OwnerID:       ownerID,
		PatientID:     patientID,
		AppointmentID: appointmentID,
		ServiceID:     serviceID,
		PerformedAt:   performed,
		DueAt:         due,
		Status:        model.ReminderPending,
		Channel:       model.ChannelWhatsApp,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *Service) patient(ctx context.Context, ownerID, id string) (*model.Patient, error) {
	p, err := s.patients.Get(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("patient %s: %w", id, model.ErrNotFound)
	}
	return p, nil
}

func (s *Service) service(ctx context.Context, ownerID, id string) (*model.Service, error) {
	svc, err := s.services.Get(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}
	if svc == nil {
		return nil, fmt.Errorf("service %s: %w", id, model.ErrNotFound)
	}
	return svc, nil
}
