package reminders

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/clinic-recall/internal/dispatcher"
	"github.com/jmehdipour/clinic-recall/internal/events"
	"github.com/jmehdipour/clinic-recall/internal/model"
	"github.com/jmehdipour/clinic-recall/internal/render"
	"github.com/jmehdipour/clinic-recall/internal/repository"
)

// RuleMatcher is satisfied by *rules.Matcher.
type RuleMatcher interface {
	Match(ctx context.Context, ownerID string, serviceID *string, text string) (*model.ReminderRule, error)
}

// Sender is satisfied by *dispatcher.Adapter.
type Sender interface {
	Send(ctx context.Context, phone, text string) (dispatcher.Result, error)
	Ready() bool
}

type Deps struct {
	Reminders repository.RemindersRepository
	Patients  repository.PatientsRepository
	Services  repository.ServicesRepository
	Logs      repository.MessageLogsRepository
	Matcher   RuleMatcher
	Sender    Sender
	Events    events.Publisher
	Log       *zap.Logger
}

// DefaultClaimTTL is the claim lease used when Options.ClaimTTL is unset.
const DefaultClaimTTL = 5 * time.Minute

type Options struct {
	BatchSize    int           // reminders per pass, default 100
	Concurrency  int           // parallel deliveries, default 4
	BatchTimeout time.Duration // no new claims after this, default 2m
	ClaimTTL     time.Duration // a claim older than this is abandoned, default 5m
	Location     *time.Location
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = 2 * time.Minute
	}
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = DefaultClaimTTL
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// Service creates reminders and delivers the due ones.
type Service struct {
	reminders repository.RemindersRepository
	patients  repository.PatientsRepository
	services  repository.ServicesRepository
	logs      repository.MessageLogsRepository
	matcher   RuleMatcher
	sender    Sender
	events    events.Publisher
	render    *render.Renderer
	opts      Options
	log       *zap.Logger
	now       func() time.Time
}

func NewService(d Deps, opts Options) *Service {
	opts = opts.withDefaults()
	pub := d.Events
	if pub == nil {
		pub = events.Noop{}
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		reminders: d.Reminders,
		patients:  d.Patients,
		services:  d.Services,
		logs:      d.Logs,
		matcher:   d.Matcher,
		sender:    d.Sender,
		events:    pub,
		render:    render.New(opts.Location),
		opts:      opts,
		log:       log.Named("reminders"),
		now:       time.Now,
	}
}

// clock returns the current instant at the precision the store keeps.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}
