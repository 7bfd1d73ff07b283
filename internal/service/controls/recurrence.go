package controls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/clinic-recall/internal/metrics"
	"github.com/jmehdipour/clinic-recall/internal/model"
	"github.com/jmehdipour/clinic-recall/internal/repository"
	"github.com/jmehdipour/clinic-recall/internal/util"
)

const defaultTitle = "Control"

// NewSchedule creates a recurring control for a patient. StartDate is a
// calendar date (2006-01-02) or an RFC 3339 instant, read in the clinic
// timezone.
type NewSchedule struct {
	OwnerID   string  `json:"-"`
	PatientID string  `json:"patientId"`
	ServiceID *string `json:"serviceId"`
	Frequency string  `json:"frequency"`
	Hour      int     `json:"hour"`
	StartDate string  `json:"startDate"`
}

type AdvanceSummary struct {
	Scanned int `json:"scanned"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Service materializes appointments from control schedules.
type Service struct {
	schedules repository.ControlSchedulesRepository
	patients  repository.PatientsRepository
	services  repository.ServicesRepository
	loc       *time.Location
	batch     int
	log       *zap.Logger
	now       func() time.Time
}

func NewService(
	schedules repository.ControlSchedulesRepository,
	patients repository.PatientsRepository,
	services repository.ServicesRepository,
	loc *time.Location,
	batch int,
	log *zap.Logger,
) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if batch <= 0 {
		batch = 100
	}
	return &Service{
		schedules: schedules,
		patients:  patients,
		services:  services,
		loc:       loc,
		batch:     batch,
		log:       log.Named("controls"),
		now:       time.Now,
	}
}

// Create stores the schedule and its first appointment together. The stored
// next_at is already one cycle ahead, so the recurrence job never recreates
// the first occurrence.
func (s *Service) Create(ctx context.Context, in NewSchedule) (*model.ControlSchedule, error) {
	freq, ok := model.ParseFrequency(in.Frequency)
	var errs []error
	if in.PatientID == "" {
		errs = append(errs, errors.New("patientId is required"))
	}
	if !ok {
		errs = append(errs, fmt.Errorf("unknown frequency %q", in.Frequency))
	}
	if in.Hour < 0 || in.Hour > 23 {
		errs = append(errs, errors.New("hour must be within 0..23"))
	}
	start, err := s.parseDate(in.StartDate)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", model.ErrValidation, errors.Join(errs...))
	}

	p, err := s.patients.Get(ctx, in.OwnerID, in.PatientID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("patient %s: %w", in.PatientID, model.ErrNotFound)
	}
	title := defaultTitle
	if in.ServiceID != nil && *in.ServiceID != "" {
		svc, err := s.services.Get(ctx, in.OwnerID, *in.ServiceID)
		if err != nil {
			return nil, err
		}
		if svc == nil {
			return nil, fmt.Errorf("service %s: %w", *in.ServiceID, model.ErrNotFound)
		}
		title = svc.Name
	} else {
		in.ServiceID = nil
	}

	first := time.Date(start.Year(), start.Month(), start.Day(), in.Hour, 0, 0, 0, s.loc)

	now := s.now().UTC().Truncate(time.Second)
	sched := model.ControlSchedule{
		ID:        util.NewAt(now),
		OwnerID:   in.OwnerID,
		PatientID: in.PatientID,
		ServiceID: in.ServiceID,
		Frequency: freq,
		Hour:      in.Hour,
		NextAt:    freq.Next(first).UTC(),
		Status:    model.ScheduleActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	appt := s.appointment(sched, first.UTC(), title, now)

	if err := s.schedules.Create(ctx, sched, appt); err != nil {
		return nil, fmt.Errorf("create control schedule: %w", err)
	}
	metrics.ControlAppointments.WithLabelValues("create").Inc()
	s.log.Info("control schedule created",
		zap.String("schedule_id", sched.ID),
		zap.String("frequency", string(freq)),
		zap.Time("first_at", appt.StartsAt),
		zap.Time("next_at", sched.NextAt))
	return &sched, nil
}

// Advance creates the due appointment of every active schedule whose next_at
// has passed and moves next_at one cycle forward. Each schedule is advanced
// with a compare-and-set on next_at; a schedule already moved by another
// runner is skipped.
func (s *Service) Advance(ctx context.Context) (AdvanceSummary, error) {
	var sum AdvanceSummary
	now := s.now().UTC()

	due, err := s.schedules.ListDue(ctx, now, s.batch)
	if err != nil {
		return sum, fmt.Errorf("list due schedules: %w", err)
	}
	sum.Scanned = len(due)

	titles := map[string]string{}
	for _, sc := range due {
		if ctx.Err() != nil {
			break
		}
		log := s.log.With(zap.String("schedule_id", sc.ID))
		if sc.Frequency.Months() == 0 {
			log.Error("schedule has unknown frequency", zap.String("frequency", string(sc.Frequency)))
			sum.Errors++
			continue
		}

		title, err := s.title(ctx, sc, titles)
		if err != nil {
			log.Error("resolve appointment title", zap.Error(err))
			sum.Errors++
			continue
		}

		next := sc.Frequency.Next(sc.NextAt.In(s.loc)).UTC()
		appt := s.appointment(sc, sc.NextAt, title, now.Truncate(time.Second))
		won, err := s.schedules.Advance(ctx, sc.ID, sc.NextAt, next, appt)
		if err != nil {
			log.Error("advance schedule", zap.Error(err))
			sum.Errors++
			continue
		}
		if !won {
			sum.Skipped++
			continue
		}
		sum.Created++
		metrics.ControlAppointments.WithLabelValues("recurrence").Inc()
		log.Info("control appointment created",
			zap.Time("starts_at", appt.StartsAt),
			zap.Time("next_at", next))
	}

	if sum.Scanned > 0 {
		s.log.Info("control schedules advanced",
			zap.Int("scanned", sum.Scanned),
			zap.Int("created", sum.Created),
			zap.Int("skipped", sum.Skipped),
			zap.Int("errors", sum.Errors))
	}
	return sum, nil
}

func (s *Service) List(ctx context.Context, ownerID string) ([]model.ControlSchedule, error) {
	return s.schedules.List(ctx, ownerID)
}

func (s *Service) Pause(ctx context.Context, ownerID, id string) (*model.ControlSchedule, error) {
	return s.transition(ctx, ownerID, id, model.SchedulePaused, model.ScheduleActive)
}

func (s *Service) Resume(ctx context.Context, ownerID, id string) (*model.ControlSchedule, error) {
	return s.transition(ctx, ownerID, id, model.ScheduleActive, model.SchedulePaused)
}

func (s *Service) Cancel(ctx context.Context, ownerID, id string) (*model.ControlSchedule, error) {
	return s.transition(ctx, ownerID, id, model.ScheduleCancelled, model.ScheduleActive, model.SchedulePaused)
}

func (s *Service) transition(ctx context.Context, ownerID, id string, to model.ScheduleStatus, from ...model.ScheduleStatus) (*model.ControlSchedule, error) {
	ok, err := s.schedules.SetStatus(ctx, ownerID, id, from, to, s.now().UTC().Truncate(time.Second))
	if err != nil {
		return nil, err
	}
	cur, err := s.schedules.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("control schedule %s: %w", id, model.ErrNotFound)
	}
	if !ok && cur.Status != to {
		return nil, fmt.Errorf("control schedule %s is %s: %w", id, cur.Status, model.ErrConflict)
	}
	return cur, nil
}

func (s *Service) parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("startDate is required")
	}
	if d, err := time.ParseInLocation(time.DateOnly, v, s.loc); err == nil {
		return d, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("startDate %q is not a date", v)
	}
	return t.In(s.loc), nil
}

func (s *Service) title(ctx context.Context, sc model.ControlSchedule, cache map[string]string) (string, error) {
	if sc.ServiceID == nil {
		return defaultTitle, nil
	}
	key := sc.OwnerID + "/" + *sc.ServiceID
	if t, ok := cache[key]; ok {
		return t, nil
	}
	svc, err := s.services.Get(ctx, sc.OwnerID, *sc.ServiceID)
	if err != nil {
		return "", err
	}
	t := defaultTitle
	if svc != nil && svc.Name != "" {
		t = svc.Name
	}
	cache[key] = t
	return t, nil
}

func (s *Service) appointment(sc model.ControlSchedule, at time.Time, title string, now time.Time) model.Appointment {
	id := sc.ID
	return model.Appointment{
		ID:                util.NewAt(now),
		OwnerID:           sc.OwnerID,
		PatientID:         sc.PatientID,
		ServiceID:         sc.ServiceID,
		ControlScheduleID: &id,
		Title:             title,
		StartsAt:          at,
		CreatedAt:         now,
	}
}
