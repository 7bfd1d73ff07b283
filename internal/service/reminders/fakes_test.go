package reminders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmehdipour/clinic-recall/internal/dispatcher"
	"github.com/jmehdipour/clinic-recall/internal/model"
	"github.com/jmehdipour/clinic-recall/internal/repository"
	"github.com/jmehdipour/clinic-recall/internal/rules"
)

const owner = "owner-1"

type memReminders struct {
	mu   sync.Mutex
	rows map[string]model.Reminder
	logs []model.MessageLog
}

func newMemReminders() *memReminders {
	return &memReminders{rows: map[string]model.Reminder{}}
}

func (m *memReminders) Insert(_ context.Context, r model.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.AppointmentID != nil {
		for _, x := range m.rows {
			if x.OwnerID == r.OwnerID && x.AppointmentID != nil && *x.AppointmentID == *r.AppointmentID {
				return model.ErrConflict
			}
		}
	}
	m.rows[r.ID] = r
	return nil
}

func (m *memReminders) Get(_ context.Context, ownerID, id string) (*model.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.OwnerID != ownerID {
		return nil, nil
	}
	return &r, nil
}

func (m *memReminders) FindByAppointment(_ context.Context, ownerID, appointmentID string) (*model.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.OwnerID == ownerID && r.AppointmentID != nil && *r.AppointmentID == appointmentID {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memReminders) List(_ context.Context, f repository.ReminderFilter) ([]model.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Reminder
	for _, r := range m.rows {
		if r.OwnerID != f.OwnerID || (f.Status != "" && r.Status != f.Status) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memReminders) Delete(_ context.Context, ownerID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.OwnerID != ownerID {
		return false, nil
	}
	delete(m.rows, id)
	return true, nil
}

func (m *memReminders) ListDue(_ context.Context, now, staleBefore time.Time, limit int) ([]model.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Reminder
	for _, r := range m.rows {
		if r.Status != model.ReminderPending || r.DueAt.After(now) {
			continue
		}
		if r.ClaimToken != nil && !r.ClaimedAt.Before(staleBefore) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memReminders) Claim(_ context.Context, c repository.Claim) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[c.ID]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range c.From {
		if r.Status == s {
			allowed = true
		}
	}
	if !allowed || (r.ClaimToken != nil && !r.ClaimedAt.Before(c.StaleBefore)) {
		return false, nil
	}
	tok, at := c.Token, c.Now
	r.ClaimToken, r.ClaimedAt = &tok, &at
	m.rows[c.ID] = r
	return true, nil
}

func (m *memReminders) Release(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if ok && r.ClaimToken != nil && *r.ClaimToken == token {
		r.ClaimToken, r.ClaimedAt = nil, nil
		m.rows[id] = r
	}
	return nil
}

func (m *memReminders) CompleteAttempt(_ context.Context, a repository.Attempt) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[a.ReminderID]
	if !ok || r.ClaimToken == nil || *r.ClaimToken != a.Token {
		return false, nil
	}
	at := a.At
	r.Status = a.Status
	r.Attempts++
	r.LastAttemptAt = &at
	r.ClaimToken, r.ClaimedAt = nil, nil
	m.rows[a.ReminderID] = r
	m.logs = append(m.logs, a.Log)
	return true, nil
}

// memLogView serves the logs recorded by CompleteAttempt.
type memLogView struct{ m *memReminders }

func (v memLogView) GetByProviderID(context.Context, string) (*model.MessageLog, error) {
	return nil, nil
}

func (v memLogView) ListByReminder(_ context.Context, ownerID, reminderID string) ([]model.MessageLog, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	var out []model.MessageLog
	for _, l := range v.m.logs {
		if l.OwnerID == ownerID && l.ReminderID == reminderID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (v memLogView) ApplyStatus(context.Context, repository.LogUpdate) error { return nil }

func (m *memReminders) get(id string) model.Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

func (m *memReminders) logCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs)
}

type memPatients map[string]model.Patient

func (m memPatients) Get(_ context.Context, ownerID, id string) (*model.Patient, error) {
	p, ok := m[id]
	if !ok || p.OwnerID != ownerID {
		return nil, nil
	}
	return &p, nil
}

func (m memPatients) Insert(_ context.Context, p model.Patient) error {
	m[p.ID] = p
	return nil
}

type memServices map[string]model.Service

func (m memServices) Get(_ context.Context, ownerID, id string) (*model.Service, error) {
	s, ok := m[id]
	if !ok || s.OwnerID != ownerID {
		return nil, nil
	}
	return &s, nil
}

func (m memServices) FindByName(_ context.Context, ownerID, name string) (*model.Service, error) {
	for _, s := range m {
		if s.OwnerID == ownerID && s.Name == name {
			return &s, nil
		}
	}
	return nil, nil
}

func (m memServices) Insert(_ context.Context, s model.Service) error {
	m[s.ID] = s
	return nil
}

type ruleList []model.ReminderRule

func (l ruleList) ListEnabled(_ context.Context, ownerID string) ([]model.ReminderRule, error) {
	var out []model.ReminderRule
	for _, r := range l {
		if r.OwnerID == ownerID && r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeSender struct {
	mu     sync.Mutex
	ready  bool
	err    error
	phones []string
	texts  []string
}

func (f *fakeSender) Send(_ context.Context, phone, text string) (dispatcher.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phones = append(f.phones, phone)
	f.texts = append(f.texts, text)
	if f.err != nil {
		return dispatcher.Result{}, f.err
	}
	return dispatcher.Result{
		ProviderID: fmt.Sprintf("wamid-%d", len(f.phones)),
		URL:        "http://provider/send-message",
		Strategy:   "send-message/plain/chat-id",
		Attempts:   1,
	}, nil
}

func (f *fakeSender) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.phones)
}

type capturePublisher struct {
	mu  sync.Mutex
	evs []model.StatusEvent
}

func (c *capturePublisher) Publish(_ context.Context, evs ...model.StatusEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evs = append(c.evs, evs...)
	return nil
}

type fixture struct {
	svc      *Service
	rems     *memReminders
	patients memPatients
	services memServices
	sender   *fakeSender
	pub      *capturePublisher
	now      time.Time
}

func lima(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Lima")
	require.NoError(t, err)
	return loc
}

func sp(s string) *string { return &s }

// newFixture wires a Service over in-memory stores with one consenting
// patient, one service and the given rules.
func newFixture(t *testing.T, now time.Time, rs ...model.ReminderRule) *fixture {
	t.Helper()
	f := &fixture{
		rems: newMemReminders(),
		patients: memPatients{
			"pat-1": {ID: "pat-1", OwnerID: owner, FirstName: "Ana", LastName: "Quispe", Phone: "987 654 321", WhatsappConsent: true},
		},
		services: memServices{
			"svc-1": {ID: "svc-1", OwnerID: owner, Name: "Limpieza dental", Price: 12000},
		},
		sender: &fakeSender{ready: true},
		pub:    &capturePublisher{},
		now:    now,
	}
	f.svc = NewService(Deps{
		Reminders: f.rems,
		Patients:  f.patients,
		Services:  f.services,
		Logs:      memLogView{f.rems},
		Matcher:   rules.NewMatcher(ruleList(rs)),
		Sender:    f.sender,
		Events:    f.pub,
		Log:       zap.NewNop(),
	}, Options{Location: lima(t), Concurrency: 2})
	f.svc.now = func() time.Time { return f.now }
	return f
}

// addDue stores a pending reminder that is already due.
func (f *fixture) addDue(t *testing.T, id string, text *string, serviceID *string) {
	t.Helper()
	require.NoError(t, f.rems.Insert(context.Background(), model.Reminder{
		ID:          id,
		OwnerID:     owner,
		PatientID:   "pat-1",
		ServiceID:   serviceID,
		DueAt:       f.now.Add(-time.Hour),
		Status:      model.ReminderPending,
		Channel:     model.ChannelWhatsApp,
		MessageText: text,
	}))
}
