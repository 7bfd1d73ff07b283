package controls

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmehdipour/clinic-recall/internal/model"
)

const owner = "owner-1"

type memSchedules struct {
	mu    sync.Mutex
	rows  map[string]model.ControlSchedule
	appts []model.Appointment
}

func newMemSchedules() *memSchedules {
	return &memSchedules{rows: map[string]model.ControlSchedule{}}
}

func (m *memSchedules) Create(_ context.Context, s model.ControlSchedule, first model.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ID] = s
	m.appts = append(m.appts, first)
	return nil
}

func (m *memSchedules) Get(_ context.Context, ownerID, id string) (*model.ControlSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.OwnerID != ownerID {
		return nil, nil
	}
	return &s, nil
}

func (m *memSchedules) List(_ context.Context, ownerID string) ([]model.ControlSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ControlSchedule
	for _, s := range m.rows {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSchedules) ListDue(_ context.Context, now time.Time, limit int) ([]model.ControlSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ControlSchedule
	for _, s := range m.rows {
		if s.Status == model.ScheduleActive && !s.NextAt.After(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAt.Before(out[j].NextAt) })
	return out, nil
}

func (m *memSchedules) Advance(_ context.Context, id string, prev, next time.Time, appt model.Appointment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.Status != model.ScheduleActive || !s.NextAt.Equal(prev) {
		return false, nil
	}
	s.NextAt = next
	m.rows[id] = s
	m.appts = append(m.appts, appt)
	return true, nil
}

func (m *memSchedules) SetStatus(_ context.Context, ownerID, id string, from []model.ScheduleStatus, to model.ScheduleStatus, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.OwnerID != ownerID {
		return false, nil
	}
	for _, f := range from {
		if s.Status == f {
			s.Status = to
			m.rows[id] = s
			return true, nil
		}
	}
	return false, nil
}

type memPatients map[string]model.Patient

func (m memPatients) Get(_ context.Context, ownerID, id string) (*model.Patient, error) {
	p, ok := m[id]
	if !ok || p.OwnerID != ownerID {
		return nil, nil
	}
	return &p, nil
}

func (m memPatients) Insert(context.Context, model.Patient) error { return nil }

type memServices map[string]model.Service

func (m memServices) Get(_ context.Context, ownerID, id string) (*model.Service, error) {
	s, ok := m[id]
	if !ok || s.OwnerID != ownerID {
		return nil, nil
	}
	return &s, nil
}

func (m memServices) FindByName(context.Context, string, string) (*model.Service, error) {
	return nil, nil
}

func (m memServices) Insert(context.Context, model.Service) error { return nil }

func sp(s string) *string { return &s }

func newTestService(t *testing.T, loc *time.Location, now time.Time) (*Service, *memSchedules) {
	t.Helper()
	store := newMemSchedules()
	svc := NewService(
		store,
		memPatients{"pat-1": {ID: "pat-1", OwnerID: owner, FirstName: "Ana"}},
		memServices{"svc-1": {ID: "svc-1", OwnerID: owner, Name: "Control ortodoncia"}},
		loc, 0, zap.NewNop(),
	)
	svc.now = func() time.Time { return now }
	return svc, store
}

func TestCreate_FirstAppointmentAndPreAdvancedNextAt(t *testing.T) {
	svc, store := newTestService(t, time.UTC, time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC))

	s, err := svc.Create(context.Background(), NewSchedule{
		OwnerID:   owner,
		PatientID: "pat-1",
		ServiceID: sp("svc-1"),
		Frequency: "monthly",
		Hour:      10,
		StartDate: "2024-01-31",
	})
	require.NoError(t, err)

	assert.Equal(t, model.ScheduleActive, s.Status)
	assert.Equal(t, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC), s.NextAt)

	require.Len(t, store.appts, 1)
	a := store.appts[0]
	assert.Equal(t, time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC), a.StartsAt)
	assert.Equal(t, "Control ortodoncia", a.Title)
	require.NotNil(t, a.ControlScheduleID)
	assert.Equal(t, s.ID, *a.ControlScheduleID)
}

func TestCreate_HourInClinicTimezone(t *testing.T) {
	lima, err := time.LoadLocation("America/Lima")
	require.NoError(t, err)
	svc, store := newTestService(t, lima, time.Now())

	s, err := svc.Create(context.Background(), NewSchedule{
		OwnerID: owner, PatientID: "pat-1", Frequency: "quarterly", Hour: 9, StartDate: "2024-05-06",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 6, 14, 0, 0, 0, time.UTC), store.appts[0].StartsAt)
	assert.Equal(t, "Control", store.appts[0].Title)
	assert.Equal(t, time.Date(2024, 8, 6, 14, 0, 0, 0, time.UTC), s.NextAt)
}

func TestCreate_Validation(t *testing.T) {
	svc, store := newTestService(t, time.UTC, time.Now())
	ctx := context.Background()

	for name, in := range map[string]NewSchedule{
		"frequency": {OwnerID: owner, PatientID: "pat-1", Frequency: "weekly", Hour: 9, StartDate: "2024-01-01"},
		"hour":      {OwnerID: owner, PatientID: "pat-1", Frequency: "monthly", Hour: 24, StartDate: "2024-01-01"},
		"date":      {OwnerID: owner, PatientID: "pat-1", Frequency: "monthly", Hour: 9, StartDate: "31/01/2024"},
		"patient":   {OwnerID: owner, Frequency: "monthly", Hour: 9, StartDate: "2024-01-01"},
	} {
		_, err := svc.Create(ctx, in)
		assert.ErrorIs(t, err, model.ErrValidation, name)
	}

	_, err := svc.Create(ctx, NewSchedule{OwnerID: owner, PatientID: "ghost", Frequency: "monthly", Hour: 9, StartDate: "2024-01-01"})
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = svc.Create(ctx, NewSchedule{OwnerID: owner, PatientID: "pat-1", ServiceID: sp("ghost"), Frequency: "monthly", Hour: 9, StartDate: "2024-01-01"})
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.Empty(t, store.appts)
}

func TestAdvance_MonthOverflowFromJan31(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, time.UTC, now)
	store.rows["cs-1"] = model.ControlSchedule{
		ID: "cs-1", OwnerID: owner, PatientID: "pat-1",
		Frequency: model.FrequencyMonthly, Hour: 10,
		NextAt: time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC),
		Status: model.ScheduleActive,
	}

	sum, err := svc.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AdvanceSummary{Scanned: 1, Created: 1}, sum)

	assert.Equal(t, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC), store.rows["cs-1"].NextAt)
	require.Len(t, store.appts, 1)
	assert.Equal(t, time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC), store.appts[0].StartsAt)
	assert.Equal(t, "Control", store.appts[0].Title)

	// not due again until March 2nd
	sum, err = svc.Advance(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Scanned)
}

func TestAdvance_SkipsInactiveAndLostRaces(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, time.UTC, now)
	past := now.Add(-time.Hour)
	store.rows["paused"] = model.ControlSchedule{ID: "paused", OwnerID: owner, Frequency: model.FrequencyMonthly, NextAt: past, Status: model.SchedulePaused}
	store.rows["bad"] = model.ControlSchedule{ID: "bad", OwnerID: owner, Frequency: "weekly", NextAt: past, Status: model.ScheduleActive}
	store.rows["ok"] = model.ControlSchedule{ID: "ok", OwnerID: owner, ServiceID: sp("svc-1"), Frequency: model.FrequencyAnnual, NextAt: past, Status: model.ScheduleActive}

	sum, err := svc.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Scanned)
	assert.Equal(t, 1, sum.Created)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, past.AddDate(1, 0, 0), store.rows["ok"].NextAt)
	assert.Equal(t, "Control ortodoncia", store.appts[0].Title)
}

func TestAdvance_ConcurrentRunnersCreateOnce(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, time.UTC, now)
	store.rows["cs-1"] = model.ControlSchedule{ID: "cs-1", OwnerID: owner, Frequency: model.FrequencyMonthly, NextAt: now.Add(-time.Minute), Status: model.ScheduleActive}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Advance(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, store.appts, 1)
}

func TestTransitions(t *testing.T) {
	svc, store := newTestService(t, time.UTC, time.Now())
	ctx := context.Background()
	store.rows["cs-1"] = model.ControlSchedule{ID: "cs-1", OwnerID: owner, Frequency: model.FrequencyMonthly, Status: model.ScheduleActive}

	s, err := svc.Pause(ctx, owner, "cs-1")
	require.NoError(t, err)
	assert.Equal(t, model.SchedulePaused, s.Status)

	s, err = svc.Pause(ctx, owner, "cs-1")
	require.NoError(t, err, "pausing twice is a no-op")
	assert.Equal(t, model.SchedulePaused, s.Status)

	s, err = svc.Resume(ctx, owner, "cs-1")
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleActive, s.Status)

	_, err = svc.Cancel(ctx, owner, "cs-1")
	require.NoError(t, err)

	_, err = svc.Resume(ctx, owner, "cs-1")
	assert.ErrorIs(t, err, model.ErrConflict)

	_, err = svc.Pause(ctx, "other-owner", "cs-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
