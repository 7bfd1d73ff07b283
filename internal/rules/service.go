package rules

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

// Input is the writable part of a rule.
type Input struct {
	ServiceID     *string  `json:"serviceId"`
	MatchKeywords []string `json:"matchKeywords"`
	DelayDays     int      `json:"delayDays"`
	TemplateText  string   `json:"templateText"`
	Enabled       *bool    `json:"enabled"`
	HourStart     *int     `json:"hourStart"`
	HourEnd       *int     `json:"hourEnd"`
	DaysOfWeek    []int    `json:"daysOfWeek"`
}

// Service administers reminder rules. The one-enabled-rule-per-service
// invariant is enforced by the repository inside a transaction.
type Service struct {
	rules    repository.RulesRepository
	services repository.ServicesRepository
	log      *zap.Logger
	now      func() time.Time
}

func NewService(rules repository.RulesRepository, services repository.ServicesRepository, log *zap.Logger) *Service {
	return &Service{rules: rules, services: services, log: log.Named("rules"), now: time.Now}
}

func (s *Service) List(ctx context.Context, ownerID string) ([]model.ReminderRule, error) {
	return s.rules.List(ctx, ownerID)
}

func (s *Service) Create(ctx context.Context, ownerID string, in Input) (*model.ReminderRule, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	rule := model.ReminderRule{
		ID:        util.NewAt(now),
		OwnerID:   ownerID,
		Enabled:   true,
		HourStart: 0,
		HourEnd:   24,
		CreatedAt: now,
		UpdatedAt: now,
	}
	apply(&rule, in)
	if err := s.validate(ctx, rule); err != nil {
		return nil, err
	}
	if err := s.rules.Insert(ctx, rule); err != nil {
		return nil, err
	}
	s.log.Info("rule created", zap.String("owner_id", ownerID), zap.String("rule_id", rule.ID))
	return &rule, nil
}

// Update replaces the writable fields of an existing rule.
func (s *Service) Update(ctx context.Context, ownerID, id string, in Input) (*model.ReminderRule, error) {
	cur, err := s.rules.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("rule %s: %w", id, model.ErrNotFound)
	}
	rule := *cur
	apply(&rule, in)
	rule.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)
	if err := s.validate(ctx, rule); err != nil {
		return nil, err
	}
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

func apply(r *model.ReminderRule, in Input) {
	r.ServiceID = nil
	if in.ServiceID != nil && strings.TrimSpace(*in.ServiceID) != "" {
		id := strings.TrimSpace(*in.ServiceID)
		r.ServiceID = &id
	}
	r.MatchKeywords = dedupKeywords(in.MatchKeywords)
	r.DelayDays = in.DelayDays
	r.TemplateText = in.TemplateText
	if in.Enabled != nil {
		r.Enabled = *in.Enabled
	}
	if in.HourStart != nil {
		r.HourStart = *in.HourStart
	}
	if in.HourEnd != nil {
		r.HourEnd = *in.HourEnd
	}
	r.DaysOfWeek = nil
	if len(in.DaysOfWeek) > 0 {
		r.DaysOfWeek = model.IntSet(in.DaysOfWeek)
	}
}

// dedupKeywords keeps the first occurrence of each keyword (case-insensitive).
func dedupKeywords(in []string) model.StringList {
	out := make(model.StringList, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		key := strings.ToLower(kw)
		if kw == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}
	return out
}

func (s *Service) validate(ctx context.Context, r model.ReminderRule) error {
	var errs []error
	if r.DelayDays < 0 {
		errs = append(errs, errors.New("delayDays must be >= 0"))
	}
	if strings.TrimSpace(r.TemplateText) == "" {
		errs = append(errs, errors.New("templateText is required"))
	}
	if r.HourStart < 0 || r.HourEnd > 24 || r.HourStart >= r.HourEnd {
		errs = append(errs, errors.New("hours must satisfy 0 <= hourStart < hourEnd <= 24"))
	}
	for _, d := range r.DaysOfWeek {
		if d < 0 || d > 6 {
			errs = append(errs, fmt.Errorf("daysOfWeek: %d out of range 0..6", d))
			break
		}
	}
	if r.ServiceID == nil && len(r.MatchKeywords) == 0 {
		errs = append(errs, errors.New("serviceId or matchKeywords is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", model.ErrValidation, errors.Join(errs...))
	}

	if r.ServiceID != nil {
		svc, err := s.services.Get(ctx, r.OwnerID, *r.ServiceID)
		if err != nil {
			return err
		}
		if svc == nil {
			return fmt.Errorf("service %s: %w", *r.ServiceID, model.ErrNotFound)
		}
	}
	return nil
}
