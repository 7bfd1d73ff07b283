package rules

import (
	"context"
	"strings"

	"github.com/jmehdipour/clinic-recall/internal/model"
)

// Source loads the enabled rules of an owner in (created_at, id) order.
type Source interface {
	ListEnabled(ctx context.Context, ownerID string) ([]model.ReminderRule, error)
}

// Matcher resolves a (service, free text) pair to the reminder rule that applies.
type Matcher struct {
	src Source
}

func NewMatcher(src Source) *Matcher {
	return &Matcher{src: src}
}

// Match returns nil when no enabled rule applies.
func (m *Matcher) Match(ctx context.Context, ownerID string, serviceID *string, text string) (*model.ReminderRule, error) {
	rules, err := m.src.ListEnabled(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return MatchRules(rules, serviceID, text), nil
}

// MatchRules is single pass over rules in the given order: a rule bound to
// serviceID wins outright; otherwise the first rule with a keyword contained
// in text (case-insensitive) is returned. When several keyword rules hit, the
// earliest one wins. Disabled rules are ignored.
func MatchRules(rules []model.ReminderRule, serviceID *string, text string) *model.ReminderRule {
	if serviceID != nil && *serviceID != "" {
		for i := range rules {
			r := &rules[i]
			if r.Enabled && r.ServiceID != nil && *r.ServiceID == *serviceID {
				return r
			}
		}
	}

	haystack := strings.ToLower(strings.TrimSpace(text))
	if haystack == "" {
		return nil
	}
	for i := range rules {
		r := &rules[i]
		if !r.Enabled {
			continue
		}
		for _, kw := range r.MatchKeywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(haystack, kw) {
				return r
			}
		}
	}
	return nil
}
